package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/config"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/store"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/store/memory"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/store/postgres"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/store/redisindex"
	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/store/sqlite"
)

type backends struct {
	summaries store.SummaryStore
	index     store.ReadingIndex
	closers   []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openStores connects the summary store and the latest-reading index selected by cfg
func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backends, error) {
	b := &backends{}

	switch cfg.Database.Driver {
	case config.DriverMemory:
		b.summaries = memory.NewSummaryStore()
		b.index = memory.NewReadingIndex()

	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		b.closers = append(b.closers, func() { db.Close() })
		b.summaries = sqlite.NewSummaryStore(db)
		b.index = sqlite.NewReadingIndex(db)

	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		b.summaries = postgres.NewSummaryStore(db)
		b.index = postgres.NewReadingIndex(db)

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	if cfg.ReadingIndex.Backend == config.IndexRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			b.close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		b.closers = append(b.closers, func() { rdb.Close() })
		b.index = redisindex.New(rdb, cfg.Redis.KeyPrefix)
	}

	logger.Info().
		Str("driver", cfg.Database.Driver).
		Str("reading_index", cfg.ReadingIndex.Backend).
		Msg("stores ready")
	return b, nil
}
