package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"loyalty-ledger/internal/storage"
)

// DB keeps each ledger table as one CSV document in a sqlite row, so that a
// multi-table save is a single SQL transaction.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, logger: slog.Default()}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS ledger_tables (
			table_id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			revision INTEGER NOT NULL DEFAULT 1,
			message TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// LoadTable returns the stored table, or an empty one if it was never saved
// or cannot be parsed.
func (db *DB) LoadTable(ctx context.Context, id storage.TableID) (storage.Table, error) {
	var content string
	err := db.conn.QueryRowContext(ctx,
		`SELECT content FROM ledger_tables WHERE table_id = ?`, string(id)).Scan(&content)
	if err == sql.ErrNoRows {
		return storage.Table{ID: id}, nil
	}
	if err != nil {
		return storage.Table{}, fmt.Errorf("failed to query %s: %w", id, err)
	}

	table, err := storage.DecodeCSV(id, []byte(content))
	if err != nil {
		db.logger.Warn("ignoring malformed stored table", "table", string(id), "error", err)
		return storage.Table{ID: id}, nil
	}
	return table, nil
}

// SaveTables upserts all tables in a single transaction.
func (db *DB) SaveTables(ctx context.Context, message string, tables ...storage.Table) error {
	if len(tables) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ledger_tables (
		table_id, content, message, updated_at
	) VALUES (?, ?, ?, ?)
	ON CONFLICT(table_id) DO UPDATE SET
		content = excluded.content,
		revision = ledger_tables.revision + 1,
		message = excluded.message,
		updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, t := range tables {
		data, err := storage.EncodeCSV(t)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", t.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, string(t.ID), string(data), message, now); err != nil {
			return fmt.Errorf("failed to save %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Revision reports how many times a table has been written; zero if never.
func (db *DB) Revision(ctx context.Context, id storage.TableID) (int, error) {
	var rev int
	err := db.conn.QueryRowContext(ctx,
		`SELECT revision FROM ledger_tables WHERE table_id = ?`, string(id)).Scan(&rev)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query revision: %w", err)
	}
	return rev, nil
}
