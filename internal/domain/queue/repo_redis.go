package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// snapshotRepoRedis keeps the snapshot as a JSON string under a single key.
type snapshotRepoRedis struct {
	rdb redisKV
	key string
}

// NewSnapshotRepoRedis returns a Redis-backed SnapshotRepository.
func NewSnapshotRepoRedis(rdb *redis.Client, key string) SnapshotRepository {
	return newSnapshotRepoRedis(rdb, key)
}

func newSnapshotRepoRedis(rdb redisKV, key string) *snapshotRepoRedis {
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &snapshotRepoRedis{rdb: rdb, key: key}
}

func (r *snapshotRepoRedis) Load(ctx context.Context) (*Snapshot, error) {
	data, err := r.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load snapshot %s: %v", ErrStorage, r.key, err)
	}
	return decodeSnapshot(data)
}

func (r *snapshotRepoRedis) Save(ctx context.Context, s *Snapshot) error {
	data, err := encodeSnapshot(s)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("%w: save snapshot %s: %v", ErrStorage, r.key, err)
	}
	return nil
}
