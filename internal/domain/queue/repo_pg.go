package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// snapshotRepoPG stores the snapshot as a JSONB document in queue_snapshot.
type snapshotRepoPG struct {
	conn queryable
	key  string
}

// NewSnapshotRepoPG returns a Postgres-backed SnapshotRepository. The
// queue_snapshot table is created by migrations/001_queue_snapshot.sql.
func NewSnapshotRepoPG(pool *pgxpool.Pool, key string) SnapshotRepository {
	return newSnapshotRepoPG(pool, key)
}

func newSnapshotRepoPG(conn queryable, key string) *snapshotRepoPG {
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &snapshotRepoPG{conn: conn, key: key}
}

func (r *snapshotRepoPG) Load(ctx context.Context) (*Snapshot, error) {
	var doc []byte
	err := r.conn.QueryRow(ctx, `SELECT document FROM queue_snapshot WHERE id = $1`, r.key).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load snapshot %s: %v", ErrStorage, r.key, err)
	}
	return decodeSnapshot(doc)
}

func (r *snapshotRepoPG) Save(ctx context.Context, s *Snapshot) error {
	doc, err := encodeSnapshot(s)
	if err != nil {
		return err
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO queue_snapshot (id, document, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = NOW()`,
		r.key, doc)
	if err != nil {
		return fmt.Errorf("%w: save snapshot %s: %v", ErrStorage, r.key, err)
	}
	return nil
}
