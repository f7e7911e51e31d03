package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/skalibog/fgiagent/internal/config"
	"github.com/skalibog/fgiagent/pkg/models"
)

// SnapshotVersion текущая версия формата снимка
const SnapshotVersion = 1

// ErrNoSnapshot снимок еще не сохранялся
var ErrNoSnapshot = errors.New("снимок состояния не найден")

// StateStore хранилище снимка состояния агента
type StateStore interface {
	Load(ctx context.Context) (*models.Snapshot, error)
	Save(ctx context.Context, snap models.Snapshot) error
	Close()
}

// NewStateStore создает хранилище по типу из конфигурации
func NewStateStore(ctx context.Context, cfg config.StorageConfig) (StateStore, error) {
	switch strings.ToLower(cfg.Type) {
	case "postgres":
		return NewPostgresStateStore(ctx, cfg.PostgresURL, cfg.AgentID)
	case "file", "":
		return NewFileStateStore(cfg.Path), nil
	}
	return nil, fmt.Errorf("неизвестный тип хранилища %q", cfg.Type)
}

func checkVersion(snap *models.Snapshot) error {
	if snap.Version > SnapshotVersion {
		return fmt.Errorf("версия снимка %d новее поддерживаемой %d", snap.Version, SnapshotVersion)
	}
	return nil
}
