// Package local stores ledger tables as CSV files in a directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"loyalty-ledger/internal/storage"
)

// Store keeps one CSV file per table under dir.
type Store struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates the directory if needed and returns a store rooted at it.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) path(id storage.TableID) string {
	return filepath.Join(s.dir, id.FileName())
}

// LoadTable reads a table. A missing or unparsable file yields an empty table.
func (s *Store) LoadTable(ctx context.Context, id storage.TableID) (storage.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return storage.Table{ID: id}, nil
	}
	if err != nil {
		return storage.Table{}, fmt.Errorf("failed to read %s: %w", id, err)
	}

	table, err := storage.DecodeCSV(id, data)
	if err != nil {
		s.logger.Warn("ignoring malformed table file", "table", string(id), "error", err)
		return storage.Table{ID: id}, nil
	}
	return table, nil
}

// SaveTables writes every table to a temp file first and only renames them
// into place once all of them were written.
func (s *Store) SaveTables(ctx context.Context, message string, tables ...storage.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[string]string, len(tables))
	cleanup := func() {
		for tmp := range staged {
			os.Remove(tmp)
		}
	}

	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			cleanup()
			return err
		}
		data, err := storage.EncodeCSV(t)
		if err != nil {
			cleanup()
			return fmt.Errorf("failed to encode %s: %w", t.ID, err)
		}
		tmp, err := writeTemp(s.dir, t.ID, data)
		if err != nil {
			cleanup()
			return err
		}
		staged[tmp] = s.path(t.ID)
	}

	for tmp, final := range staged {
		if err := os.Rename(tmp, final); err != nil {
			cleanup()
			return fmt.Errorf("%w: %v", storage.ErrPartialWrite, err)
		}
		delete(staged, tmp)
	}

	s.logger.Debug("tables saved", "count", len(tables), "message", message)
	return nil
}

func writeTemp(dir string, id storage.TableID, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, "."+string(id)+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for %s: %w", id, err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("failed to write %s: %w", id, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("failed to sync %s: %w", id, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("failed to close %s: %w", id, err)
	}
	return name, nil
}
