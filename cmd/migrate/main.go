package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/phonginreallife/masajid/internal/bootstrap"
	"github.com/phonginreallife/masajid/internal/config"
	"github.com/phonginreallife/masajid/migrations"
)

func main() {
	log, err := bootstrap.Load("migrate")
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

	applied, err := migrations.Apply(ctx, pg, log)
	if err != nil {
		log.Fatal("migration failed", "error", err)
	}
	log.Info("migrations applied", "count", len(applied), "versions", applied)
}
