package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/phonginreallife/masajid/internal/bootstrap"
	"github.com/phonginreallife/masajid/internal/config"
	"github.com/phonginreallife/masajid/services"
	"github.com/phonginreallife/masajid/workers"
)

func main() {
	log, err := bootstrap.Load("worker")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := bootstrap.OpenPostgres(ctx, config.App.DatabaseURL)
	if err != nil {
		log.Fatal("database unavailable", "error", err)
	}
	defer pg.Close()

	// Set timezone to UTC for consistent time handling
	if _, err := pg.ExecContext(ctx, "SET TIME ZONE 'UTC'"); err != nil {
		log.Warn("failed to set timezone to UTC", "error", err)
	}
	log.Info("connected to database")

	redisClient := bootstrap.OpenRedis(ctx, config.App.RedisURL, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	engine := services.NewEngine(pg, redisClient, log, bootstrap.EngineOptions())

	if config.App.Catalog.SeedOnStart {
		if err := bootstrap.SeedCatalog(ctx, engine.Catalog, log); err != nil {
			log.Fatal("failed to seed stage catalog", "error", err)
		}
	}

	var wg sync.WaitGroup

	if engine.Signals != nil {
		if err := engine.Signals.EnsureQueue(ctx, pg); err != nil {
			log.Fatal("failed to create escalation signal queue", "queue", engine.Signals.Queue, "error", err)
		}
		signalWorker := workers.NewEscalationSignalWorker(pg, engine.Signals.Queue, nil, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			signalWorker.Run(ctx)
		}()
	}

	scanWorker := workers.NewDelayScanWorker(engine.Scanner,
		config.App.Escalation.ScanInterval, config.App.Escalation.ScanOnStart, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanWorker.Run(ctx)
	}()

	log.Info("workers started")
	<-ctx.Done()

	log.Info("shutting down workers")
	wg.Wait()
}
