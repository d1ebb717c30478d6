package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/phonginreallife/masajid/db"
	"github.com/phonginreallife/masajid/internal/logger"
)

// catalogVersionKey is bumped on every administrative write so other processes drop their cache.
const catalogVersionKey = "stage_catalog:version"

// DefaultCatalogCacheTTL bounds how long a snapshot is served without re-reading the database.
const DefaultCatalogCacheTTL = time.Minute

// StageCatalogService owns stage and sub-stage definitions.
// Reads are served from a per-process snapshot of the persisted catalog.
type StageCatalogService struct {
	PG       *sql.DB
	Redis    *redis.Client // optional
	Now      func() time.Time
	CacheTTL time.Duration

	log *logger.Logger

	mu       sync.RWMutex
	snapshot *catalogSnapshot
}

type catalogSnapshot struct {
	stages    []db.StageDefinition
	byCode    map[string]db.StageDefinition
	subStages map[string][]db.SubStageDefinition
	subByCode map[string]db.SubStageDefinition
	version   string
	loadedAt  time.Time
}

// SeedResult reports what InitializeDefaults changed.
type SeedResult struct {
	StagesInserted    int `json:"stages_inserted"`
	StagesUpdated     int `json:"stages_updated"`
	SubStagesInserted int `json:"sub_stages_inserted"`
	SubStagesUpdated  int `json:"sub_stages_updated"`
	SubStagesSkipped  int `json:"sub_stages_skipped"`
}

func NewStageCatalogService(pg *sql.DB, redisClient *redis.Client, log *logger.Logger) *StageCatalogService {
	return &StageCatalogService{
		PG:       pg,
		Redis:    redisClient,
		Now:      func() time.Time { return time.Now().UTC() },
		CacheTTL: DefaultCatalogCacheTTL,
		log:      logger.OrNop(log),
	}
}

// ==========================================
// READS
// ==========================================

// ListStages returns stage definitions ordered by position.
func (s *StageCatalogService) ListStages(ctx context.Context, includeInactive bool) ([]db.StageDefinition, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	stages := make([]db.StageDefinition, 0, len(snap.stages))
	for _, stage := range snap.stages {
		if !includeInactive && !stage.IsActive {
			continue
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// GetStage returns the definition for code, active or not.
func (s *StageCatalogService) GetStage(ctx context.Context, code string) (db.StageDefinition, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return db.StageDefinition{}, err
	}
	stage, ok := snap.byCode[code]
	if !ok {
		return db.StageDefinition{}, fmt.Errorf("%w: stage %q", ErrNotFound, code)
	}
	return stage, nil
}

// ListSubStages returns the sub-stages of parentCode ordered by position.
func (s *StageCatalogService) ListSubStages(ctx context.Context, parentCode string) ([]db.SubStageDefinition, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := snap.byCode[parentCode]; !ok {
		return nil, fmt.Errorf("%w: stage %q", ErrNotFound, parentCode)
	}
	subs := snap.subStages[parentCode]
	out := make([]db.SubStageDefinition, len(subs))
	copy(out, subs)
	return out, nil
}

// GetSubStage returns the sub-stage definition for code.
func (s *StageCatalogService) GetSubStage(ctx context.Context, code string) (db.SubStageDefinition, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return db.SubStageDefinition{}, err
	}
	sub, ok := snap.subByCode[code]
	if !ok {
		return db.SubStageDefinition{}, fmt.Errorf("%w: sub-stage %q", ErrNotFound, code)
	}
	return sub, nil
}

// Invalidate drops the local snapshot and tells other processes to do the same.
func (s *StageCatalogService) Invalidate(ctx context.Context) {
	s.mu.Lock()
	s.snapshot = nil
	s.mu.Unlock()

	if s.Redis == nil {
		return
	}
	if err := s.Redis.Incr(ctx, catalogVersionKey).Err(); err != nil {
		s.log.Warn("failed to bump catalog version", "error", err)
	}
}

// load returns the cached snapshot unless the Redis version moved or the snapshot is
// older than CacheTTL. Without Redis the TTL alone bounds staleness across processes.
func (s *StageCatalogService) load(ctx context.Context) (*catalogSnapshot, error) {
	version := s.remoteVersion(ctx)
	now := s.Now()

	s.mu.RLock()
	snap := s.snapshot
	s.mu.RUnlock()
	if snap != nil && (version == "" || version == snap.version) && !s.expired(snap, now) {
		return snap, nil
	}

	fresh, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	fresh.version = version
	fresh.loadedAt = now

	s.mu.Lock()
	s.snapshot = fresh
	s.mu.Unlock()

	s.log.Debug("stage catalog loaded", "stages", len(fresh.stages), "version", version)
	return fresh, nil
}

func (s *StageCatalogService) expired(snap *catalogSnapshot, now time.Time) bool {
	return s.CacheTTL > 0 && now.Sub(snap.loadedAt) >= s.CacheTTL
}

// remoteVersion returns "" when Redis is not configured or unreachable.
func (s *StageCatalogService) remoteVersion(ctx context.Context) string {
	if s.Redis == nil {
		return ""
	}
	v, err := s.Redis.Get(ctx, catalogVersionKey).Result()
	if errors.Is(err, redis.Nil) {
		return "0"
	}
	if err != nil {
		s.log.Warn("failed to read catalog version, using cached catalog", "error", err)
		return ""
	}
	return v
}

func (s *StageCatalogService) fetch(ctx context.Context) (*catalogSnapshot, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT code, label, position, expected_duration_days, warning_threshold_days,
		       escalation_level1_days, escalation_level2_days, is_active,
		       COALESCE(description, ''), created_at, updated_at
		FROM stage_definitions
		ORDER BY position, code`)
	if err != nil {
		return nil, persistenceError("query stage definitions", err)
	}
	defer rows.Close()

	snap := &catalogSnapshot{
		byCode:    map[string]db.StageDefinition{},
		subStages: map[string][]db.SubStageDefinition{},
		subByCode: map[string]db.SubStageDefinition{},
	}
	for rows.Next() {
		var stage db.StageDefinition
		if err := rows.Scan(
			&stage.Code, &stage.Label, &stage.Position, &stage.ExpectedDurationDays,
			&stage.WarningThresholdDays, &stage.EscalationLevel1Days, &stage.EscalationLevel2Days,
			&stage.IsActive, &stage.Description, &stage.CreatedAt, &stage.UpdatedAt,
		); err != nil {
			return nil, persistenceError("scan stage definition", err)
		}
		snap.stages = append(snap.stages, stage)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("read stage definitions", err)
	}

	subRows, err := s.PG.QueryContext(ctx, `
		SELECT code, stage_code, label, position, expected_duration_days,
		       COALESCE(description, ''), created_at, updated_at
		FROM sub_stage_definitions
		ORDER BY stage_code, position, code`)
	if err != nil {
		return nil, persistenceError("query sub-stage definitions", err)
	}
	defer subRows.Close()

	for subRows.Next() {
		var sub db.SubStageDefinition
		if err := subRows.Scan(
			&sub.Code, &sub.StageCode, &sub.Label, &sub.Position, &sub.ExpectedDurationDays,
			&sub.Description, &sub.CreatedAt, &sub.UpdatedAt,
		); err != nil {
			return nil, persistenceError("scan sub-stage definition", err)
		}
		snap.subStages[sub.StageCode] = append(snap.subStages[sub.StageCode], sub)
		snap.subByCode[sub.Code] = sub
	}
	if err := subRows.Err(); err != nil {
		return nil, persistenceError("read sub-stage definitions", err)
	}

	for i := range snap.stages {
		snap.stages[i].SubStages = snap.subStages[snap.stages[i].Code]
		snap.byCode[snap.stages[i].Code] = snap.stages[i]
	}
	return snap, nil
}

// ==========================================
// ADMINISTRATIVE WRITES
// ==========================================

func validateStage(def db.StageDefinition) error {
	switch {
	case strings.TrimSpace(def.Code) == "":
		return fmt.Errorf("%w: stage code is required", ErrInvalidInput)
	case strings.TrimSpace(def.Label) == "":
		return fmt.Errorf("%w: stage label is required", ErrInvalidInput)
	case def.Position < 1:
		return fmt.Errorf("%w: position must be >= 1", ErrInvalidInput)
	case def.ExpectedDurationDays < 0, def.WarningThresholdDays < 0,
		def.EscalationLevel1Days < 0, def.EscalationLevel2Days < 0:
		return fmt.Errorf("%w: durations and thresholds must not be negative", ErrInvalidInput)
	}
	return nil
}

func validateSubStage(def db.SubStageDefinition) error {
	switch {
	case strings.TrimSpace(def.Code) == "":
		return fmt.Errorf("%w: sub-stage code is required", ErrInvalidInput)
	case strings.TrimSpace(def.StageCode) == "":
		return fmt.Errorf("%w: parent stage code is required", ErrInvalidInput)
	case strings.TrimSpace(def.Label) == "":
		return fmt.Errorf("%w: sub-stage label is required", ErrInvalidInput)
	case def.Position < 1:
		return fmt.Errorf("%w: position must be >= 1", ErrInvalidInput)
	case def.ExpectedDurationDays < 0:
		return fmt.Errorf("%w: expected duration must not be negative", ErrInvalidInput)
	}
	return nil
}

// UpsertStage creates or updates a stage definition by code.
// Positions of active stages are renumbered to stay contiguous afterwards.
func (s *StageCatalogService) UpsertStage(ctx context.Context, def db.StageDefinition) (db.StageDefinition, error) {
	if err := validateStage(def); err != nil {
		return def, err
	}
	now := s.Now()

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return def, persistenceError("begin upsert stage", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stage_definitions (
			code, label, position, expected_duration_days, warning_threshold_days,
			escalation_level1_days, escalation_level2_days, is_active, description,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (code) DO UPDATE SET
			label = EXCLUDED.label,
			position = EXCLUDED.position,
			expected_duration_days = EXCLUDED.expected_duration_days,
			warning_threshold_days = EXCLUDED.warning_threshold_days,
			escalation_level1_days = EXCLUDED.escalation_level1_days,
			escalation_level2_days = EXCLUDED.escalation_level2_days,
			is_active = EXCLUDED.is_active,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at`,
		def.Code, def.Label, def.Position, def.ExpectedDurationDays, def.WarningThresholdDays,
		def.EscalationLevel1Days, def.EscalationLevel2Days, def.IsActive, def.Description, now)
	if err != nil {
		return def, persistenceError("upsert stage definition", err)
	}

	if err := compactStagePositions(ctx, tx, now, map[string]bool{def.Code: true}); err != nil {
		return def, err
	}
	if err := tx.Commit(); err != nil {
		return def, persistenceError("commit upsert stage", err)
	}

	s.Invalidate(ctx)
	s.log.Info("stage definition upserted", "code", def.Code, "position", def.Position, "active", def.IsActive)
	return s.GetStage(ctx, def.Code)
}

// UpsertSubStage creates or updates a sub-stage. A sub-stage never moves to another parent.
func (s *StageCatalogService) UpsertSubStage(ctx context.Context, def db.SubStageDefinition) (db.SubStageDefinition, error) {
	if err := validateSubStage(def); err != nil {
		return def, err
	}
	if _, err := s.GetStage(ctx, def.StageCode); err != nil {
		return def, err
	}
	now := s.Now()

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return def, persistenceError("begin upsert sub-stage", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO sub_stage_definitions (
			code, stage_code, label, position, expected_duration_days, description, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (code) DO UPDATE SET
			label = EXCLUDED.label,
			position = EXCLUDED.position,
			expected_duration_days = EXCLUDED.expected_duration_days,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at
		WHERE sub_stage_definitions.stage_code = EXCLUDED.stage_code`,
		def.Code, def.StageCode, def.Label, def.Position, def.ExpectedDurationDays, def.Description, now)
	if err != nil {
		return def, persistenceError("upsert sub-stage definition", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return def, persistenceError("upsert sub-stage definition", err)
	}
	if n == 0 {
		return def, fmt.Errorf("%w: sub-stage %q belongs to another stage", ErrInvalidInput, def.Code)
	}

	if err := compactSubStagePositions(ctx, tx, def.StageCode, now, map[string]bool{def.Code: true}); err != nil {
		return def, err
	}
	if err := tx.Commit(); err != nil {
		return def, persistenceError("commit upsert sub-stage", err)
	}

	s.Invalidate(ctx)
	s.log.Info("sub-stage definition upserted", "code", def.Code, "stage_code", def.StageCode)
	return s.GetSubStage(ctx, def.Code)
}

// SetActive toggles a stage. Existing trackings are untouched; the delay scan skips
// open trackings of inactive stages as catalog inconsistencies.
func (s *StageCatalogService) SetActive(ctx context.Context, code string, active bool) (db.StageDefinition, error) {
	now := s.Now()

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return db.StageDefinition{}, persistenceError("begin set active", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`UPDATE stage_definitions SET is_active = $2, updated_at = $3 WHERE code = $1`,
		code, active, now)
	if err != nil {
		return db.StageDefinition{}, persistenceError("update stage active flag", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return db.StageDefinition{}, persistenceError("update stage active flag", err)
	}
	if n == 0 {
		return db.StageDefinition{}, fmt.Errorf("%w: stage %q", ErrNotFound, code)
	}

	if err := compactStagePositions(ctx, tx, now, nil); err != nil {
		return db.StageDefinition{}, err
	}
	if err := tx.Commit(); err != nil {
		return db.StageDefinition{}, persistenceError("commit set active", err)
	}

	s.Invalidate(ctx)
	s.log.Info("stage active flag changed", "code", code, "active", active)
	return s.GetStage(ctx, code)
}

// InitializeDefaults seeds the catalog or reconciles it by code. Existing codes only get
// label, position and description refreshed; timing parameters tuned by administrators
// are kept. Running it twice produces no duplicates. A default sub-stage whose code
// already exists under another stage is left where it is.
func (s *StageCatalogService) InitializeDefaults(ctx context.Context, defs []db.StageDefinition) (SeedResult, error) {
	var result SeedResult
	for _, def := range defs {
		if err := validateStage(def); err != nil {
			return result, err
		}
		for _, sub := range def.SubStages {
			sub.StageCode = def.Code
			if err := validateSubStage(sub); err != nil {
				return result, err
			}
		}
	}
	now := s.Now()

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return result, persistenceError("begin catalog seed", err)
	}
	defer func() { _ = tx.Rollback() }()

	pinned := map[string]bool{}
	for _, def := range defs {
		var inserted bool
		err := tx.QueryRowContext(ctx, `
			INSERT INTO stage_definitions (
				code, label, position, expected_duration_days, warning_threshold_days,
				escalation_level1_days, escalation_level2_days, is_active, description,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
			ON CONFLICT (code) DO UPDATE SET
				label = EXCLUDED.label,
				position = EXCLUDED.position,
				description = EXCLUDED.description,
				updated_at = EXCLUDED.updated_at
			RETURNING (xmax = 0) AS inserted`,
			def.Code, def.Label, def.Position, def.ExpectedDurationDays, def.WarningThresholdDays,
			def.EscalationLevel1Days, def.EscalationLevel2Days, def.IsActive, def.Description, now,
		).Scan(&inserted)
		if err != nil {
			return result, persistenceError("seed stage "+def.Code, err)
		}
		if inserted {
			result.StagesInserted++
		} else {
			result.StagesUpdated++
		}
		pinned[def.Code] = true

		subPinned := map[string]bool{}
		for _, sub := range def.SubStages {
			err := tx.QueryRowContext(ctx, `
				INSERT INTO sub_stage_definitions (
					code, stage_code, label, position, expected_duration_days, description, created_at, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
				ON CONFLICT (code) DO UPDATE SET
					label = EXCLUDED.label,
					position = EXCLUDED.position,
					description = EXCLUDED.description,
					updated_at = EXCLUDED.updated_at
				WHERE sub_stage_definitions.stage_code = EXCLUDED.stage_code
				RETURNING (xmax = 0) AS inserted`,
				sub.Code, def.Code, sub.Label, sub.Position, sub.ExpectedDurationDays, sub.Description, now,
			).Scan(&inserted)
			if errors.Is(err, sql.ErrNoRows) {
				result.SubStagesSkipped++
				s.log.Warn("default sub-stage code belongs to another stage, skipping",
					"code", sub.Code, "stage_code", def.Code)
				continue
			}
			if err != nil {
				return result, persistenceError("seed sub-stage "+sub.Code, err)
			}
			if inserted {
				result.SubStagesInserted++
			} else {
				result.SubStagesUpdated++
			}
			subPinned[sub.Code] = true
		}

		if err := compactSubStagePositions(ctx, tx, def.Code, now, subPinned); err != nil {
			return result, err
		}
	}

	if err := compactStagePositions(ctx, tx, now, pinned); err != nil {
		return result, err
	}
	if err := tx.Commit(); err != nil {
		return result, persistenceError("commit catalog seed", err)
	}

	s.Invalidate(ctx)
	s.log.Info("stage catalog seeded",
		"stages_inserted", result.StagesInserted, "stages_updated", result.StagesUpdated,
		"sub_stages_inserted", result.SubStagesInserted, "sub_stages_updated", result.SubStagesUpdated,
		"sub_stages_skipped", result.SubStagesSkipped)
	return result, nil
}

type positionRow struct {
	code     string
	position int
	active   bool
}

// orderPositions sorts rows in place: active before inactive, then by position. On a position
// tie the pinned codes (the ones just written) win. The returned map holds only the
// rows whose position changes.
func orderPositions(rows []positionRow, pinned map[string]bool) map[string]int {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.active != b.active {
			return a.active
		}
		if a.position != b.position {
			return a.position < b.position
		}
		if pinned[a.code] != pinned[b.code] {
			return pinned[a.code]
		}
		return a.code < b.code
	})

	changed := map[string]int{}
	for i, row := range rows {
		if row.position != i+1 {
			changed[row.code] = i + 1
		}
	}
	return changed
}

func compactStagePositions(ctx context.Context, tx *sql.Tx, now time.Time, pinned map[string]bool) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT code, position, is_active FROM stage_definitions ORDER BY position, code FOR UPDATE`)
	if err != nil {
		return persistenceError("lock stage positions", err)
	}
	var all []positionRow
	for rows.Next() {
		var row positionRow
		if err := rows.Scan(&row.code, &row.position, &row.active); err != nil {
			rows.Close()
			return persistenceError("scan stage position", err)
		}
		all = append(all, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return persistenceError("read stage positions", err)
	}

	changed := orderPositions(all, pinned)
	for _, row := range all {
		position, ok := changed[row.code]
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE stage_definitions SET position = $2, updated_at = $3 WHERE code = $1`,
			row.code, position, now); err != nil {
			return persistenceError("renumber stage "+row.code, err)
		}
	}
	return nil
}

func compactSubStagePositions(ctx context.Context, tx *sql.Tx, stageCode string, now time.Time, pinned map[string]bool) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT code, position FROM sub_stage_definitions WHERE stage_code = $1 ORDER BY position, code FOR UPDATE`,
		stageCode)
	if err != nil {
		return persistenceError("lock sub-stage positions", err)
	}
	var all []positionRow
	for rows.Next() {
		row := positionRow{active: true}
		if err := rows.Scan(&row.code, &row.position); err != nil {
			rows.Close()
			return persistenceError("scan sub-stage position", err)
		}
		all = append(all, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return persistenceError("read sub-stage positions", err)
	}

	changed := orderPositions(all, pinned)
	for _, row := range all {
		position, ok := changed[row.code]
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sub_stage_definitions SET position = $2, updated_at = $3 WHERE code = $1`,
			row.code, position, now); err != nil {
			return persistenceError("renumber sub-stage "+row.code, err)
		}
	}
	return nil
}
