package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phonginreallife/masajid/internal/bootstrap"
	"github.com/phonginreallife/masajid/internal/config"
	"github.com/phonginreallife/masajid/router"
	"github.com/phonginreallife/masajid/services"
)

func main() {
	log, err := bootstrap.Load("api")
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
	log.Info("connected to database")

	redisClient := bootstrap.OpenRedis(ctx, config.App.RedisURL, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	if config.App.Catalog.SeedOnStart {
		catalog := services.NewStageCatalogService(pg, redisClient, log)
		if err := bootstrap.SeedCatalog(ctx, catalog, log); err != nil {
			log.Fatal("failed to seed stage catalog", "error", err)
		}
	}

	srv := &http.Server{
		Addr:              ":" + config.App.Port,
		Handler:           router.NewGinRouter(pg, redisClient, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down api")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
