package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteKV keeps the key-value slot in a single SQLite table and enforces the
// same quota rule as MemoryKV.
type SQLiteKV struct {
	db       *sql.DB
	capacity int
}

func NewSQLiteKV(dataSourceName string, capacity int) (*SQLiteKV, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	db.SetMaxOpenConns(1)

	kv := &SQLiteKV{db: db, capacity: capacity}
	if err = kv.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return kv, nil
}

func (s *SQLiteKV) Close() error {
	return s.db.Close()
}

func (s *SQLiteKV) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS kv (
        key TEXT PRIMARY KEY,
        value TEXT NOT NULL,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, &StorageError{Op: "get", Key: key, Err: err}
	}
	return value, true, nil
}

func (s *SQLiteKV) Set(ctx context.Context, key, value string) error {
	if s.capacity > 0 {
		var others int
		err := s.db.QueryRowContext(ctx,
			"SELECT COALESCE(SUM(length(CAST(key AS BLOB)) + length(CAST(value AS BLOB))), 0) FROM kv WHERE key != ?",
			key).Scan(&others)
		if err != nil {
			return &StorageError{Op: "set", Key: key, Err: err}
		}
		if size := others + len(key) + len(value); size > s.capacity {
			return quotaError(key, size, s.capacity)
		}
	}

	stmt, err := s.db.PrepareContext(ctx, `
        INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
    `)
	if err != nil {
		return &StorageError{Op: "set", Key: key, Err: fmt.Errorf("failed to prepare kv upsert: %w", err)}
	}
	defer stmt.Close()

	if _, err = stmt.ExecContext(ctx, key, value, time.Now()); err != nil {
		if isDiskFull(err) {
			return &StorageError{Op: "set", Key: key, Err: fmt.Errorf("%w: %v", ErrQuotaExceeded, err)}
		}
		return &StorageError{Op: "set", Key: key, Err: fmt.Errorf("failed to execute kv upsert: %w", err)}
	}
	return nil
}

func (s *SQLiteKV) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return &StorageError{Op: "remove", Key: key, Err: err}
	}
	return nil
}

func isDiskFull(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrFull
}
