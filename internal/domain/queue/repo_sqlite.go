package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps the snapshot in a single-row table of a local SQLite
// file, for single-node deployments without a database server.
type SQLiteStore struct {
	db  *sql.DB
	key string
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path, key string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite %s: %v", ErrStorage, path, err)
	}
	if key == "" {
		key = DefaultSnapshotKey
	}
	s := &SQLiteStore{db: db, key: key}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS queue_snapshot (
		id TEXT PRIMARY KEY,
		document TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("%w: init sqlite schema: %v", ErrStorage, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*Snapshot, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM queue_snapshot WHERE id = ?`, s.key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load snapshot %s: %v", ErrStorage, s.key, err)
	}
	return decodeSnapshot([]byte(doc))
}

func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	doc, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO queue_snapshot (id, document, updated_at) VALUES (?, ?, ?)`,
		s.key, string(doc), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: save snapshot %s: %v", ErrStorage, s.key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database file is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
