package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/skalibog/fgiagent/pkg/logger"
	"github.com/skalibog/fgiagent/pkg/models"
	"go.uber.org/zap"
)

const createStateTable = `
CREATE TABLE IF NOT EXISTS agent_state (
	agent_id  TEXT PRIMARY KEY,
	version   INTEGER NOT NULL,
	snapshot  JSONB NOT NULL,
	saved_at  TIMESTAMPTZ NOT NULL
)`

const upsertState = `
INSERT INTO agent_state (agent_id, version, snapshot, saved_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (agent_id) DO UPDATE
SET version = EXCLUDED.version, snapshot = EXCLUDED.snapshot, saved_at = EXCLUDED.saved_at`

const selectState = `SELECT snapshot FROM agent_state WHERE agent_id = $1`

// PostgresStateStore хранит снимок строкой JSONB, ключ agent_id
type PostgresStateStore struct {
	pool    *pgxpool.Pool
	agentID string
}

// NewPostgresStateStore подключается к базе и создает таблицу при необходимости
func NewPostgresStateStore(ctx context.Context, url, agentID string) (*PostgresStateStore, error) {
	if url == "" {
		return nil, errors.New("не задан POSTGRES_URL")
	}
	if agentID == "" {
		agentID = "default"
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка соединения с PostgreSQL: %w", err)
	}
	if _, err := pool.Exec(ctx, createStateTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка создания таблицы agent_state: %w", err)
	}

	logger.Info("Подключено хранилище PostgreSQL", zap.String("agent_id", agentID))
	return &PostgresStateStore{pool: pool, agentID: agentID}, nil
}

// Load читает снимок агента
func (s *PostgresStateStore) Load(ctx context.Context) (*models.Snapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, selectState, s.agentID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения снимка: %w", err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("ошибка разбора снимка: %w", err)
	}
	if err := checkVersion(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Save сохраняет снимок одной транзакционной командой upsert
func (s *PostgresStateStore) Save(ctx context.Context, snap models.Snapshot) error {
	if snap.Version == 0 {
		snap.Version = SnapshotVersion
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("ошибка кодирования снимка: %w", err)
	}
	if _, err := s.pool.Exec(ctx, upsertState, s.agentID, snap.Version, data, snap.SavedAt); err != nil {
		return fmt.Errorf("ошибка записи снимка: %w", err)
	}
	return nil
}

// Close закрывает пул соединений
func (s *PostgresStateStore) Close() {
	s.pool.Close()
}
