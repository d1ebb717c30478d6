// Package cli implements stagectl, the operator command line for the stage engine.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/phonginreallife/masajid/internal/bootstrap"
	"github.com/phonginreallife/masajid/internal/config"
	"github.com/phonginreallife/masajid/internal/logger"
	"github.com/phonginreallife/masajid/services"
)

// Session is the set of connections a command runs against.
type Session struct {
	PG     *sql.DB
	Engine *services.Engine
	Log    *logger.Logger

	redis *redis.Client
}

// Close releases the session's connections.
func (s *Session) Close() {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.PG != nil {
		s.PG.Close()
	}
	s.Log.Sync()
}

// Connector opens a Session. Tests replace it with a sqlmock-backed one.
type Connector func(ctx context.Context) (*Session, error)

// Connect builds a Session from config and environment.
func Connect(ctx context.Context) (*Session, error) {
	log, err := bootstrap.Load("stagectl")
	if err != nil {
		return nil, err
	}
	pg, err := bootstrap.OpenPostgres(ctx, config.App.DatabaseURL)
	if err != nil {
		return nil, err
	}
	redisClient := bootstrap.OpenRedis(ctx, config.App.RedisURL, log)
	return &Session{
		PG:     pg,
		Engine: services.NewEngine(pg, redisClient, log, bootstrap.EngineOptions()),
		Log:    log,
		redis:  redisClient,
	}, nil
}

// NewRootCmd assembles the command tree around connect.
func NewRootCmd(connect Connector) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stagectl",
		Short: "Masajid stage engine CLI",
		Long: `Operate the stage catalog, inspect request trackings and run
delay scans against the masajid database.

Environment Variables:
  DATABASE_URL         - PostgreSQL connection string
  REDIS_URL            - optional, shares catalog invalidation with running services
  MASAJID_CONFIG_PATH  - optional config file`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		migrateCmd(connect),
		seedCmd(connect),
		scanCmd(connect),
		stagesCmd(connect),
		trackingsCmd(connect),
		delayedCmd(connect),
		atRiskCmd(connect),
		escalationsCmd(connect),
		hashAPIKeyCmd(),
	)
	return rootCmd
}

func Execute() {
	if err := NewRootCmd(Connect).Execute(); err != nil {
		os.Exit(1)
	}
}

// withSession runs fn with an open session and closes it afterwards.
func withSession(cmd *cobra.Command, connect Connector, fn func(ctx context.Context, s *Session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer s.Close()
	return fn(ctx, s)
}
