// Package sqlite implements a single-file document backend on SQLite.
//
// Documents and locks live in two tables of one database, so a lock is taken
// and checked inside one transaction.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/davidthor/bundlefix/pkg/store/backend"
)

// Schema version history:
//
//	v1: documents and locks tables
const currentSchemaVersion = 1

func init() {
	backend.Register("sqlite", NewBackend)
}

// Backend stores documents as rows keyed by path.
type Backend struct {
	db *sql.DB
}

// NewBackend opens (or creates) the database named by the "path" key, which
// defaults to ~/.bundlefix/store.db.
func NewBackend(cfg map[string]string) (backend.Backend, error) {
	dbPath := cfg["path"]
	if dbPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(homeDir, ".bundlefix", "store.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	return &Backend{db: db}, nil
}

func open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection keeps the pragmas below in force for every statement.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrateSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read schema version: %w", err)
	}
	switch {
	case version == currentSchemaVersion:
		return nil
	case version > currentSchemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE documents (
			path    TEXT PRIMARY KEY,
			data    BLOB NOT NULL,
			updated INTEGER NOT NULL
		)`,
		`CREATE TABLE locks (
			path TEXT PRIMARY KEY,
			info TEXT NOT NULL
		)`,
		`DELETE FROM schema_version`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, currentSchemaVersion); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return tx.Commit()
}

func (b *Backend) Type() string {
	return "sqlite"
}

func (b *Backend) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = ?`, path).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *Backend) Write(ctx context.Context, path string, data io.Reader) error {
	content, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO documents (path, data, updated) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET data = excluded.data, updated = excluded.updated`,
		path, content, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, path string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT path FROM documents WHERE substr(path, 1, length(?1)) = ?1 ORDER BY path`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE path = ?`, path).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check %s: %w", path, err)
	}
	return true, nil
}

// Lock checks for a live lock and records a new one in the same transaction.
func (b *Backend) Lock(ctx context.Context, path string, info backend.LockInfo) (backend.Lock, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin lock: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT info FROM locks WHERE path = ?`, path).Scan(&raw)
	switch {
	case err == nil:
		var existing backend.LockInfo
		if err := json.Unmarshal([]byte(raw), &existing); err == nil && !existing.Stale(time.Now()) {
			return nil, &backend.LockError{Info: existing, Err: backend.ErrLocked}
		}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("read lock: %w", err)
	}

	info = info.Stamp(uuid.New().String(), path, time.Now())
	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO locks (path, info) VALUES (?, ?)`, path, string(data)); err != nil {
		return nil, fmt.Errorf("write lock: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lock: %w", err)
	}

	return &sqliteLock{backend: b, info: info}, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

type sqliteLock struct {
	backend *Backend
	info    backend.LockInfo
}

func (l *sqliteLock) ID() string {
	return l.info.ID
}

// Unlock only removes the row if it still belongs to this lock.
func (l *sqliteLock) Unlock(ctx context.Context) error {
	_, err := l.backend.db.ExecContext(ctx,
		`DELETE FROM locks WHERE path = ? AND json_extract(info, '$.id') = ?`, l.info.Path, l.info.ID)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (l *sqliteLock) Info() backend.LockInfo {
	return l.info
}

var _ backend.Backend = (*Backend)(nil)
