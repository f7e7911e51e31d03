package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/skalibog/fgiagent/pkg/models"
)

// FileStateStore хранит снимок JSON-файлом. Запись атомарная: временный файл и rename.
type FileStateStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStateStore создает файловое хранилище
func NewFileStateStore(path string) *FileStateStore {
	if path == "" {
		path = "state.json"
	}
	return &FileStateStore{path: path}
}

// Path путь к файлу снимка
func (s *FileStateStore) Path() string { return s.path }

// Load читает снимок. Отсутствующий файл дает ErrNoSnapshot.
func (s *FileStateStore) Load(_ context.Context) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения снимка: %w", err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("ошибка разбора снимка %s: %w", s.path, err)
	}
	if err := checkVersion(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Save записывает снимок
func (s *FileStateStore) Save(_ context.Context, snap models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.Version == 0 {
		snap.Version = SnapshotVersion
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка кодирования снимка: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ошибка создания каталога %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("ошибка записи снимка: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("ошибка записи снимка: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ошибка записи снимка: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("ошибка замены снимка: %w", err)
	}
	return nil
}

// Close ничего не делает
func (s *FileStateStore) Close() {}
