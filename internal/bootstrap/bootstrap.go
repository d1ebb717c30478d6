// Package bootstrap opens the shared connections used by every binary.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/phonginreallife/masajid/db"
	"github.com/phonginreallife/masajid/internal/config"
	"github.com/phonginreallife/masajid/internal/logger"
	"github.com/phonginreallife/masajid/services"
)

// OpenPostgres connects and pings the database.
func OpenPostgres(ctx context.Context, url string) (*sql.DB, error) {
	if url == "" {
		return nil, errors.New("DATABASE_URL environment variable (or config) is required")
	}

	pg, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	pg.SetMaxOpenConns(20)
	pg.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pg.PingContext(pingCtx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pg, nil
}

// OpenRedis returns nil when url is empty; Redis only carries the catalog version.
func OpenRedis(ctx context.Context, url string, log *logger.Logger) *redis.Client {
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Warn("invalid REDIS_URL, catalog cache stays process-local", "error", err)
		return nil
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, catalog cache stays process-local", "error", err)
	}
	return client
}

// Load reads configuration and builds the logger for a binary.
func Load(component string) (*logger.Logger, error) {
	if err := config.LoadConfig(config.PathFromEnv()); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(config.App.LogMode)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return log.With("component", component, "env", config.App.Env), nil
}

// EngineOptions maps configuration onto the engine settings.
func EngineOptions() services.EngineOptions {
	return services.EngineOptions{
		SignalQueue:  config.App.Escalation.SignalQueue,
		Level1Target: config.App.Escalation.Level1Target,
		Level2Target: config.App.Escalation.Level2Target,

		CatalogCacheTTL: config.App.Catalog.CacheTTL,
	}
}

// SeedCatalog installs the default stage catalog.
func SeedCatalog(ctx context.Context, catalog *services.StageCatalogService, log *logger.Logger) error {
	res, err := catalog.InitializeDefaults(ctx, db.DefaultStageCatalog())
	if err != nil {
		return err
	}
	log.Info("stage catalog seeded",
		"stages_inserted", res.StagesInserted, "stages_updated", res.StagesUpdated,
		"sub_stages_inserted", res.SubStagesInserted, "sub_stages_updated", res.SubStagesUpdated,
		"sub_stages_skipped", res.SubStagesSkipped)
	return nil
}
