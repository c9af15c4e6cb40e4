package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/smartslot/smartslot/internal/config"
	"github.com/smartslot/smartslot/internal/domain/queue"
	"github.com/smartslot/smartslot/internal/domain/triage"
	"github.com/smartslot/smartslot/internal/platform/db"
	"github.com/smartslot/smartslot/internal/platform/logging"
)

// store is an opened snapshot repository plus what the health endpoint
// needs to probe it.
type store struct {
	driver string
	repo   queue.SnapshotRepository
	pinger db.Pinger
	close  func()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (zerolog.Logger, io.Closer) {
	return logging.New(logging.Config{
		Level:      cfg.LogLevel,
		Console:    cfg.IsDev(),
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*store, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := openPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("driver", cfg.StoreDriver).Msg("connected to database")
		return &store{
			driver: cfg.StoreDriver,
			repo:   queue.NewSnapshotRepoPG(pool, cfg.SnapshotKey),
			pinger: pool,
			close:  pool.Close,
		}, nil

	case config.StoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		logger.Info().Str("driver", cfg.StoreDriver).Str("key", cfg.SnapshotKey).Msg("connected to redis")
		return &store{
			driver: cfg.StoreDriver,
			repo:   queue.NewSnapshotRepoRedis(rdb, cfg.SnapshotKey),
			pinger: db.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
			close:  func() { rdb.Close() },
		}, nil

	case config.StoreSQLite:
		s, err := queue.NewSQLiteStore(cfg.SQLitePath, cfg.SnapshotKey)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("driver", cfg.StoreDriver).Str("path", cfg.SQLitePath).Msg("opened sqlite store")
		return &store{driver: cfg.StoreDriver, repo: s, pinger: s, close: func() { s.Close() }}, nil

	case config.StoreMemory:
		logger.Warn().Msg("using in-memory store, the queue will not survive a restart")
		return &store{
			driver: cfg.StoreDriver,
			repo:   queue.NewMemoryStore(),
			pinger: db.PingFunc(func(context.Context) error { return nil }),
			close:  func() {},
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func newClassifier(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (triage.Classifier, error) {
	if cfg.Classifier != "ai" {
		return triage.NewRuleClassifier(), nil
	}
	policy, err := triage.ParseFallbackPolicy(cfg.ClassifierFallback)
	if err != nil {
		return nil, err
	}
	ai, err := triage.NewAIClassifier(ctx, triage.AIConfig{
		Endpoint: cfg.GeminiEndpoint,
		Model:    cfg.GeminiModel,
		APIKey:   cfg.GeminiAPIKey,
		Timeout:  cfg.ClassifierTimeout,
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Str("model", cfg.GeminiModel).Str("fallback", string(policy)).Msg("ai classifier enabled")
	return triage.NewFallbackClassifier(ai, policy, logger), nil
}

func newService(cfg *config.Config, repo queue.SnapshotRepository, classifier triage.Classifier, logger zerolog.Logger) *queue.Service {
	return queue.NewService(repo, classifier, queue.NewEstimator(cfg.WaitConfig()), logger, queue.ServiceConfig{
		StoreTimeout: cfg.StoreTimeout,
		SaveAttempts: cfg.StoreSaveAttempts,
		RetryBackoff: queue.DefaultServiceConfig().RetryBackoff,
	})
}
