package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phonginreallife/masajid/db"
	"github.com/phonginreallife/masajid/internal/logger"
	"github.com/phonginreallife/masajid/internal/metrics"
)

const day = 24 * time.Hour

// ScanResult summarizes one delay scan pass.
type ScanResult struct {
	Scanned          int       `json:"scanned"`   // overdue open trackings found
	Processed        int       `json:"processed"` // delay state brought up to date
	Escalated        int       `json:"escalated"` // subset of Processed whose level increased
	Failed           int       `json:"failed"`
	Skipped          int       `json:"skipped"` // catalog inconsistencies
	SubStagesScanned int       `json:"sub_stages_scanned"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}

// DelayDecision is the pure outcome of evaluating one tracking at a point in time.
type DelayDecision struct {
	Delayed   bool
	DelayDays int
	Level     int // never below the tracking's current level
	Escalate  bool
}

// DelayDaysAt counts whole days elapsed since due. It is 0 before due and on the due day itself.
func DelayDaysAt(due, now time.Time) int {
	if !now.After(due) {
		return 0
	}
	return int(now.Sub(due) / day)
}

// EscalationLevelFor maps days overdue to a level using the stage thresholds.
func EscalationLevelFor(delayDays int, stage db.StageDefinition) int {
	switch {
	case delayDays >= stage.Level2Threshold():
		return db.EscalationLevelSecond
	case delayDays >= stage.Level1Threshold():
		return db.EscalationLevelFirst
	}
	return db.EscalationLevelNone
}

// EvaluateDelay decides the delay state of an open tracking. Levels only increase.
func EvaluateDelay(t db.StageTracking, stage db.StageDefinition, now time.Time) DelayDecision {
	if t.DueAt == nil || !t.IsOpen() || now.Before(*t.DueAt) {
		return DelayDecision{Delayed: t.IsDelayed, DelayDays: t.DelayDays, Level: t.EscalationLevel}
	}

	d := DelayDecision{Delayed: true, DelayDays: DelayDaysAt(*t.DueAt, now), Level: t.EscalationLevel}
	if lvl := EscalationLevelFor(d.DelayDays, stage); lvl > t.EscalationLevel {
		d.Level = lvl
		d.Escalate = true
	}
	return d
}

// DelayScanner periodically marks overdue trackings and raises escalation levels.
type DelayScanner struct {
	PG        *sql.DB
	Catalog   *StageCatalogService
	Resolver  EscalationTargetResolver
	Publisher SignalPublisher // optional
	Now       func() time.Time

	log     *logger.Logger
	running sync.Mutex
}

func NewDelayScanner(pg *sql.DB, catalog *StageCatalogService, resolver EscalationTargetResolver, publisher SignalPublisher, log *logger.Logger) *DelayScanner {
	if resolver == nil {
		resolver = AssigneeTargetResolver{}
	}
	return &DelayScanner{
		PG:        pg,
		Catalog:   catalog,
		Resolver:  resolver,
		Publisher: publisher,
		Now:       func() time.Time { return time.Now().UTC() },
		log:       logger.OrNop(log).With("actor", db.SystemActorDelayScanner),
	}
}

// RunDelayScan evaluates every open overdue tracking once. Each record is committed on
// its own, so a cancelled or failed pass leaves already processed records consistent.
// Concurrent calls in the same process return ErrScanInProgress; across processes the
// conditional level update keeps escalation logs unique.
func (s *DelayScanner) RunDelayScan(ctx context.Context) (ScanResult, error) {
	if !s.running.TryLock() {
		return ScanResult{}, ErrScanInProgress
	}
	defer s.running.Unlock()

	now := s.Now()
	result := ScanResult{StartedAt: now}
	started := time.Now()

	overdue, err := s.fetchOverdue(ctx, now)
	if err != nil {
		metrics.ObserveScan("error", started, 0)
		s.log.Error("delay scan failed to load overdue trackings", "error", err)
		return result, err
	}
	result.Scanned = len(overdue)
	s.log.Debug("delay scan started", "overdue", len(overdue), "now", now)

	var scanErr error
	for _, t := range overdue {
		if err := ctx.Err(); err != nil {
			scanErr = err
			s.log.Warn("delay scan cancelled", "processed", result.Processed, "remaining", result.Scanned-result.Processed-result.Failed-result.Skipped)
			break
		}

		escalated, err := s.scanOne(ctx, now, t)
		switch {
		case errors.Is(err, ErrCatalogInconsistency):
			result.Skipped++
			metrics.RecordResult("skipped")
			s.log.Warn("skipping tracking with inconsistent catalog",
				"tracking_id", t.ID, "stage_code", t.StageCode, "error", err)
		case err != nil:
			result.Failed++
			metrics.RecordResult("failed")
			s.log.Error("failed to process overdue tracking",
				"tracking_id", t.ID, "request_id", t.RequestID, "stage_code", t.StageCode, "error", err)
		default:
			result.Processed++
			metrics.RecordResult("processed")
			if escalated {
				result.Escalated++
			}
		}
	}

	if scanErr == nil {
		n, err := s.markOverdueSubStages(ctx, now)
		if err != nil {
			s.log.Error("failed to mark overdue sub-stages", "error", err)
		}
		result.SubStagesScanned = n
	}

	result.FinishedAt = s.Now()
	outcome := "completed"
	if scanErr != nil {
		outcome = "cancelled"
	}
	metrics.ObserveScan(outcome, started, result.Scanned)

	s.log.Info("delay scan finished",
		"scanned", result.Scanned, "processed", result.Processed, "escalated", result.Escalated,
		"failed", result.Failed, "skipped", result.Skipped, "sub_stages_scanned", result.SubStagesScanned)
	return result, scanErr
}

func (s *DelayScanner) fetchOverdue(ctx context.Context, now time.Time) ([]db.StageTracking, error) {
	rows, err := s.PG.QueryContext(ctx, "SELECT "+stageTrackingColumns+stageTrackingFrom+`
		WHERE t.completed_at IS NULL AND t.due_at IS NOT NULL AND t.due_at <= $1
		ORDER BY t.due_at ASC`, now)
	if err != nil {
		return nil, persistenceError("query overdue trackings", err)
	}
	defer rows.Close()

	var trackings []db.StageTracking
	for rows.Next() {
		t, err := scanStageTracking(rows)
		if err != nil {
			return nil, persistenceError("scan overdue tracking", err)
		}
		trackings = append(trackings, t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("read overdue trackings", err)
	}
	return trackings, nil
}

// scanOne updates one tracking and reports whether its level was raised.
func (s *DelayScanner) scanOne(ctx context.Context, now time.Time, t db.StageTracking) (bool, error) {
	stage, err := s.Catalog.GetStage(ctx, t.StageCode)
	if errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("%w: stage %s no longer exists", ErrCatalogInconsistency, t.StageCode)
	}
	if err != nil {
		return false, err
	}
	if !stage.IsActive {
		return false, fmt.Errorf("%w: stage %s is inactive", ErrCatalogInconsistency, t.StageCode)
	}

	decision := EvaluateDelay(t, stage, now)
	if !decision.Escalate {
		if t.IsDelayed && t.DelayDays == decision.DelayDays {
			return false, nil
		}
		_, err := s.PG.ExecContext(ctx, `
			UPDATE stage_trackings SET is_delayed = TRUE, delay_days = $2, updated_at = $3
			WHERE id = $1 AND completed_at IS NULL`,
			t.ID, decision.DelayDays, now)
		return false, persistenceError("mark tracking delayed", err)
	}

	return s.escalate(ctx, now, t, stage, decision)
}

func (s *DelayScanner) escalate(ctx context.Context, now time.Time, t db.StageTracking, stage db.StageDefinition, decision DelayDecision) (bool, error) {
	target, err := s.Resolver.ResolveTarget(ctx, t, stage, decision.Level)
	if err != nil {
		return false, fmt.Errorf("failed to resolve escalation target: %w", err)
	}

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return false, persistenceError("begin escalation", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE stage_trackings SET
			is_delayed = TRUE,
			delay_days = $2,
			escalation_level = $3,
			updated_at = $4
		WHERE id = $1 AND escalation_level = $5 AND completed_at IS NULL`,
		t.ID, decision.DelayDays, decision.Level, now, t.EscalationLevel)
	if err != nil {
		return false, persistenceError("raise escalation level", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistenceError("raise escalation level", err)
	}
	if n == 0 {
		// Closed or escalated by someone else since it was read.
		s.log.Debug("tracking changed during scan, leaving it", "tracking_id", t.ID)
		return false, nil
	}

	entry := db.EscalationLogEntry{
		ID:              uuid.New().String(),
		StageTrackingID: t.ID,
		RequestID:       t.RequestID,
		StageCode:       t.StageCode,
		EscalationLevel: decision.Level,
		DelayDays:       decision.DelayDays,
		EscalatedFrom:   t.AssignedTo,
		EscalatedTo:     target,
		Reason: fmt.Sprintf("%s overdue by %d day(s), escalated from level %d to %d",
			stage.Label, decision.DelayDays, t.EscalationLevel, decision.Level),
		CreatedAt: now,
	}
	if err := appendEscalation(ctx, tx, entry); err != nil {
		if isUniqueViolation(err) {
			// Another scanner logged this level first.
			s.log.Debug("escalation already logged, leaving it", "tracking_id", t.ID, "level", decision.Level)
			return false, nil
		}
		return false, err
	}

	if s.Publisher != nil {
		if err := s.Publisher.PublishTx(ctx, tx, newEscalationSignal(entry, stage.Label)); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, persistenceError("commit escalation", err)
	}

	metrics.RecordEscalation(t.StageCode, decision.Level)
	s.log.Info("stage tracking escalated",
		"tracking_id", t.ID, "request_id", t.RequestID, "stage_code", t.StageCode,
		"from_level", t.EscalationLevel, "to_level", decision.Level,
		"delay_days", decision.DelayDays, "escalated_to", target)
	return true, nil
}

// markOverdueSubStages refreshes delay fields of open overdue sub-stage trackings
// whose parent is still open.
// Sub-stages never escalate on their own.
func (s *DelayScanner) markOverdueSubStages(ctx context.Context, now time.Time) (int, error) {
	res, err := s.PG.ExecContext(ctx, `
		UPDATE sub_stage_trackings SET
			is_delayed = TRUE,
			delay_days = FLOOR(EXTRACT(EPOCH FROM ($1::timestamptz - sub_stage_trackings.due_at)) / 86400)::int,
			updated_at = $1
		FROM stage_trackings p
		WHERE p.id = sub_stage_trackings.stage_tracking_id
		  AND p.completed_at IS NULL
		  AND sub_stage_trackings.completed_at IS NULL
		  AND sub_stage_trackings.due_at IS NOT NULL
		  AND sub_stage_trackings.due_at <= $1`, now)
	if err != nil {
		return 0, persistenceError("mark overdue sub-stages", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistenceError("count overdue sub-stages", err)
	}
	return int(n), nil
}
