package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phonginreallife/masajid/db"
	"github.com/phonginreallife/masajid/internal/logger"
)

const stageTrackingColumns = `
	t.id, t.request_id, t.stage_code, t.started_at, t.due_at, t.completed_at,
	COALESCE(t.completed_by, ''), COALESCE(t.assigned_to, ''), COALESCE(t.notes, ''),
	t.is_delayed, t.delay_days, t.escalation_level, t.created_at, t.updated_at,
	COALESCE(d.label, '')`

const stageTrackingFrom = `
	FROM stage_trackings t
	LEFT JOIN stage_definitions d ON d.code = t.stage_code`

// StageTrackerService opens, closes and lists stage trackings.
type StageTrackerService struct {
	PG      *sql.DB
	Catalog *StageCatalogService
	Now     func() time.Time

	log *logger.Logger
}

func NewStageTrackerService(pg *sql.DB, catalog *StageCatalogService, log *logger.Logger) *StageTrackerService {
	return &StageTrackerService{
		PG:      pg,
		Catalog: catalog,
		Now:     func() time.Time { return time.Now().UTC() },
		log:     logger.OrNop(log),
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStageTracking(row rowScanner) (db.StageTracking, error) {
	var t db.StageTracking
	var dueAt, completedAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.RequestID, &t.StageCode, &t.StartedAt, &dueAt, &completedAt,
		&t.CompletedBy, &t.AssignedTo, &t.Notes,
		&t.IsDelayed, &t.DelayDays, &t.EscalationLevel, &t.CreatedAt, &t.UpdatedAt,
		&t.StageLabel,
	)
	if err != nil {
		return t, err
	}
	if dueAt.Valid {
		t.DueAt = &dueAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return t, nil
}

func (s *StageTrackerService) queryTrackings(ctx context.Context, op, where string, args ...interface{}) ([]db.StageTracking, error) {
	rows, err := s.PG.QueryContext(ctx, "SELECT "+stageTrackingColumns+stageTrackingFrom+" "+where, args...)
	if err != nil {
		return nil, persistenceError(op, err)
	}
	defer rows.Close()

	trackings := []db.StageTracking{}
	for rows.Next() {
		t, err := scanStageTracking(rows)
		if err != nil {
			return nil, persistenceError(op, err)
		}
		trackings = append(trackings, t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError(op, err)
	}
	return trackings, nil
}

// dueAtFor returns nil for open-ended durations.
func dueAtFor(startedAt time.Time, durationDays int) *time.Time {
	if durationDays <= 0 {
		return nil
	}
	due := startedAt.Add(time.Duration(durationDays) * 24 * time.Hour)
	return &due
}

// Open starts a stage for a request. Several open trackings for the same
// request and stage are allowed; ordering between stages is the caller's concern.
func (s *StageTrackerService) Open(ctx context.Context, requestID, stageCode, assignedTo, notes string) (db.StageTracking, error) {
	if strings.TrimSpace(requestID) == "" {
		return db.StageTracking{}, fmt.Errorf("%w: request id is required", ErrInvalidInput)
	}

	stage, err := s.Catalog.GetStage(ctx, stageCode)
	if err != nil {
		return db.StageTracking{}, err
	}
	if !stage.IsActive {
		return db.StageTracking{}, fmt.Errorf("%w: %s", ErrStageInactive, stageCode)
	}

	now := s.Now()
	t := db.StageTracking{
		ID:         uuid.New().String(),
		RequestID:  requestID,
		StageCode:  stage.Code,
		StartedAt:  now,
		DueAt:      dueAtFor(now, stage.ExpectedDurationDays),
		AssignedTo: assignedTo,
		Notes:      notes,
		CreatedAt:  now,
		UpdatedAt:  now,
		StageLabel: stage.Label,
	}

	_, err = s.PG.ExecContext(ctx, `
		INSERT INTO stage_trackings (
			id, request_id, stage_code, started_at, due_at, assigned_to, notes,
			is_delayed, delay_days, escalation_level, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, FALSE, 0, 0, $4, $4)`,
		t.ID, t.RequestID, t.StageCode, now, t.DueAt, assignedTo, notes)
	if err != nil {
		return db.StageTracking{}, persistenceError("insert stage tracking", err)
	}

	s.log.Info("stage tracking opened",
		"tracking_id", t.ID, "request_id", requestID, "stage_code", stageCode, "due_at", t.DueAt)
	return t, nil
}

// Close completes an open tracking. Delay and escalation fields keep their final values.
// Sub-stages still open under it are completed in the same transaction.
func (s *StageTrackerService) Close(ctx context.Context, trackingID, completedBy, notes string) (db.StageTracking, error) {
	now := s.Now()

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return db.StageTracking{}, persistenceError("begin close", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		WITH closed AS (
			UPDATE stage_trackings SET
				completed_at = $2,
				completed_by = NULLIF($3, ''),
				notes = CASE
					WHEN $4::text = '' THEN notes
					WHEN notes = '' THEN $4::text
					ELSE notes || E'\n' || $4::text
				END,
				updated_at = $2
			WHERE id = $1 AND completed_at IS NULL
			RETURNING *
		)
		SELECT `+stageTrackingColumns+`
		FROM closed t
		LEFT JOIN stage_definitions d ON d.code = t.stage_code`,
		trackingID, now, completedBy, notes)

	t, err := scanStageTracking(row)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		existing, getErr := s.Get(ctx, trackingID)
		if getErr != nil {
			return db.StageTracking{}, getErr
		}
		return existing, fmt.Errorf("%w: tracking %s already completed", ErrInvalidState, trackingID)
	}
	if err != nil {
		return db.StageTracking{}, persistenceError("close stage tracking", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE sub_stage_trackings SET
			completed_at = $2,
			completed_by = NULLIF($3, ''),
			updated_at = $2
		WHERE stage_tracking_id = $1 AND completed_at IS NULL`,
		t.ID, now, completedBy)
	if err != nil {
		return db.StageTracking{}, persistenceError("close open sub-stages", err)
	}
	subClosed, err := res.RowsAffected()
	if err != nil {
		return db.StageTracking{}, persistenceError("count closed sub-stages", err)
	}

	if err := tx.Commit(); err != nil {
		return db.StageTracking{}, persistenceError("commit close", err)
	}

	s.log.Info("stage tracking closed",
		"tracking_id", t.ID, "request_id", t.RequestID, "stage_code", t.StageCode,
		"completed_by", completedBy, "escalation_level", t.EscalationLevel,
		"sub_stages_closed", subClosed)
	return t, nil
}

// Get returns one tracking by id.
func (s *StageTrackerService) Get(ctx context.Context, trackingID string) (db.StageTracking, error) {
	row := s.PG.QueryRowContext(ctx, "SELECT "+stageTrackingColumns+stageTrackingFrom+" WHERE t.id = $1", trackingID)
	t, err := scanStageTracking(row)
	if err != nil {
		return db.StageTracking{}, persistenceError("get stage tracking "+trackingID, err)
	}
	return t, nil
}

// FindOpen returns the most recently started open tracking of stageCode for a request.
func (s *StageTrackerService) FindOpen(ctx context.Context, requestID, stageCode string) (db.StageTracking, error) {
	row := s.PG.QueryRowContext(ctx, "SELECT "+stageTrackingColumns+stageTrackingFrom+`
		WHERE t.request_id = $1 AND t.stage_code = $2 AND t.completed_at IS NULL
		ORDER BY t.started_at DESC, t.created_at DESC
		LIMIT 1`, requestID, stageCode)
	t, err := scanStageTracking(row)
	if err != nil {
		return db.StageTracking{}, persistenceError("find open tracking for "+stageCode, err)
	}
	return t, nil
}

// ListOpenForRequest returns the request's open trackings, oldest first.
func (s *StageTrackerService) ListOpenForRequest(ctx context.Context, requestID string) ([]db.StageTracking, error) {
	return s.queryTrackings(ctx, "list open trackings", `
		WHERE t.request_id = $1 AND t.completed_at IS NULL
		ORDER BY t.started_at ASC`, requestID)
}

// ListForRequest returns the request's full stage history, oldest first.
func (s *StageTrackerService) ListForRequest(ctx context.Context, requestID string) ([]db.StageTracking, error) {
	return s.queryTrackings(ctx, "list request trackings", `
		WHERE t.request_id = $1
		ORDER BY t.started_at ASC`, requestID)
}

// ListAllDelayed returns every open delayed tracking, most overdue first.
func (s *StageTrackerService) ListAllDelayed(ctx context.Context) ([]db.StageTracking, error) {
	return s.queryTrackings(ctx, "list delayed trackings", `
		WHERE t.is_delayed = TRUE AND t.completed_at IS NULL
		ORDER BY t.delay_days DESC, t.started_at ASC`)
}

// ListAtRisk returns open trackings that are not overdue yet but fall due within
// their stage's warning threshold.
func (s *StageTrackerService) ListAtRisk(ctx context.Context) ([]db.StageTracking, error) {
	return s.queryTrackings(ctx, "list at-risk trackings", `
		WHERE t.completed_at IS NULL
		  AND t.is_delayed = FALSE
		  AND t.due_at IS NOT NULL
		  AND t.due_at > $1::timestamptz
		  AND t.due_at <= $1::timestamptz + make_interval(days => COALESCE(d.warning_threshold_days, 0))
		ORDER BY t.due_at ASC`, s.Now())
}

// Reassign changes the assignee of an open tracking.
func (s *StageTrackerService) Reassign(ctx context.Context, trackingID, assignedTo string) (db.StageTracking, error) {
	if strings.TrimSpace(assignedTo) == "" {
		return db.StageTracking{}, fmt.Errorf("%w: assignee is required", ErrInvalidInput)
	}

	result, err := s.PG.ExecContext(ctx, `
		UPDATE stage_trackings SET assigned_to = $2, updated_at = $3
		WHERE id = $1 AND completed_at IS NULL`,
		trackingID, assignedTo, s.Now())
	if err != nil {
		return db.StageTracking{}, persistenceError("reassign stage tracking", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return db.StageTracking{}, persistenceError("reassign stage tracking", err)
	}
	if n == 0 {
		existing, getErr := s.Get(ctx, trackingID)
		if getErr != nil {
			return db.StageTracking{}, getErr
		}
		return existing, fmt.Errorf("%w: tracking %s already completed", ErrInvalidState, trackingID)
	}

	s.log.Info("stage tracking reassigned", "tracking_id", trackingID, "assigned_to", assignedTo)
	return s.Get(ctx, trackingID)
}
