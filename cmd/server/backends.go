package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	hookservice "vcr/internal/hooks/service"
	hookstats "vcr/internal/hooks/stats"
	hookstore "vcr/internal/hooks/store"
	"vcr/internal/platform/config"
	"vcr/internal/platform/database"
	"vcr/internal/platform/outbox"
	"vcr/internal/platform/redis"
	regservice "vcr/internal/registry/service"
	regstore "vcr/internal/registry/store"
	"vcr/pkg/platform/tx"
)

// backends holds the storage chosen by configuration: Postgres when a DSN is
// set, process memory otherwise. Hook stats go to Redis when a URL is set.
type backends struct {
	db    *sql.DB
	redis *redis.Client

	registry       regservice.Store
	registryRunner tx.Runner
	outbox         outbox.Store
	relayRunner    tx.Runner
	hooks          hookservice.Store
	stats          hookstats.Recorder
}

func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backends, error) {
	b := &backends{}

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if db != nil {
		if cfg.Database.AutoMigrate {
			if err := database.Migrate(ctx, db, logger); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		runner := tx.NewPostgres(db, cfg.Database.TxTimeout)
		b.db = db
		b.registry = regstore.NewPostgres(db)
		b.registryRunner = runner
		b.outbox = outbox.NewPostgres(db)
		b.relayRunner = runner
		b.hooks = hookstore.NewPostgres(db)
		logger.InfoContext(ctx, "using postgres stores")
	} else {
		mem := regstore.NewInMemory()
		b.registry = mem
		b.registryRunner = mem
		b.outbox = outbox.NewInMemory()
		b.relayRunner = tx.Nop{}
		b.hooks = hookstore.NewInMemory()
		logger.WarnContext(ctx, "DATABASE_URL not set, using in-memory stores")
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		b.close()
		return nil, err
	}
	if rc != nil {
		b.redis = rc
		b.stats = hookstats.NewRedis(rc.Client)
		logger.InfoContext(ctx, "hook stats stored in redis")
	} else {
		b.stats = hookstats.NewInMemory()
	}
	return b, nil
}

func (b *backends) close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.db != nil {
		_ = b.db.Close()
	}
}
