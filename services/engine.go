package services

import (
	"database/sql"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/phonginreallife/masajid/internal/logger"
)

// EngineOptions carries the escalation settings shared by the API, worker and CLI.
type EngineOptions struct {
	SignalQueue     string // empty disables signals
	Level1Target    string
	Level2Target    string
	CatalogCacheTTL time.Duration // zero keeps DefaultCatalogCacheTTL
}

// Engine wires the stage services over one database handle.
type Engine struct {
	Catalog     *StageCatalogService
	Stages      *StageTrackerService
	SubStages   *SubStageTrackerService
	Lifecycle   *StageLifecycle
	Escalations *EscalationLogService
	Scanner     *DelayScanner
	Signals     *PGMQSignalPublisher
}

func NewEngine(pg *sql.DB, redisClient *redis.Client, log *logger.Logger, opts EngineOptions) *Engine {
	log = logger.OrNop(log)
	catalog := NewStageCatalogService(pg, redisClient, log.With("component", "stage_catalog"))
	if opts.CatalogCacheTTL > 0 {
		catalog.CacheTTL = opts.CatalogCacheTTL
	}
	stages := NewStageTrackerService(pg, catalog, log.With("component", "stage_tracker"))

	var resolver EscalationTargetResolver = AssigneeTargetResolver{}
	if opts.Level1Target != "" || opts.Level2Target != "" {
		resolver = StaticTargetResolver{Level1: opts.Level1Target, Level2: opts.Level2Target}
	}

	e := &Engine{
		Catalog:     catalog,
		Stages:      stages,
		SubStages:   NewSubStageTrackerService(pg, catalog, stages, log.With("component", "sub_stage_tracker")),
		Lifecycle:   NewStageLifecycle(stages),
		Escalations: NewEscalationLogService(pg, log.With("component", "escalation_log")),
	}

	var publisher SignalPublisher
	if opts.SignalQueue != "" {
		e.Signals = NewPGMQSignalPublisher(opts.SignalQueue)
		publisher = e.Signals
	}
	e.Scanner = NewDelayScanner(pg, catalog, resolver, publisher, log.With("component", "delay_scanner"))
	return e
}
