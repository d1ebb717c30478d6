package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phonginreallife/masajid/db"
	"github.com/phonginreallife/masajid/internal/logger"
)

const subStageTrackingColumns = `
	id, stage_tracking_id, request_id, stage_code, sub_stage_code, started_at, due_at, completed_at,
	COALESCE(completed_by, ''), COALESCE(assigned_to, ''), notes, action_payload,
	is_delayed, delay_days, escalation_level, created_at, updated_at`

// SubStageTrackerService tracks sub-stages inside an open parent stage tracking.
type SubStageTrackerService struct {
	PG      *sql.DB
	Catalog *StageCatalogService
	Stages  *StageTrackerService
	Now     func() time.Time

	log *logger.Logger
}

func NewSubStageTrackerService(pg *sql.DB, catalog *StageCatalogService, stages *StageTrackerService, log *logger.Logger) *SubStageTrackerService {
	return &SubStageTrackerService{
		PG:      pg,
		Catalog: catalog,
		Stages:  stages,
		Now:     func() time.Time { return time.Now().UTC() },
		log:     logger.OrNop(log),
	}
}

func scanSubStageTracking(row rowScanner) (db.SubStageTracking, error) {
	var t db.SubStageTracking
	var dueAt, completedAt sql.NullTime
	var payload []byte
	err := row.Scan(
		&t.ID, &t.StageTrackingID, &t.RequestID, &t.StageCode, &t.SubStageCode, &t.StartedAt, &dueAt, &completedAt,
		&t.CompletedBy, &t.AssignedTo, &t.Notes, &payload,
		&t.IsDelayed, &t.DelayDays, &t.EscalationLevel, &t.CreatedAt, &t.UpdatedAt,
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
	if len(payload) > 0 {
		t.ActionPayload = json.RawMessage(payload)
	}
	return t, nil
}

// Open starts a sub-stage. The parent stage must have an open tracking for the request.
// stageCode is optional; when given it must match the sub-stage's parent.
func (s *SubStageTrackerService) Open(ctx context.Context, requestID, subStageCode, stageCode, assignedTo, notes string) (db.SubStageTracking, error) {
	if strings.TrimSpace(requestID) == "" {
		return db.SubStageTracking{}, fmt.Errorf("%w: request id is required", ErrInvalidInput)
	}

	sub, err := s.Catalog.GetSubStage(ctx, subStageCode)
	if err != nil {
		return db.SubStageTracking{}, err
	}
	if stageCode != "" && stageCode != sub.StageCode {
		return db.SubStageTracking{}, fmt.Errorf("%w: sub-stage %s belongs to %s, not %s",
			ErrInvalidInput, subStageCode, sub.StageCode, stageCode)
	}

	parentDef, err := s.Catalog.GetStage(ctx, sub.StageCode)
	if err != nil {
		return db.SubStageTracking{}, err
	}
	if !parentDef.IsActive {
		return db.SubStageTracking{}, fmt.Errorf("%w: %s", ErrStageInactive, sub.StageCode)
	}

	parent, err := s.Stages.FindOpen(ctx, requestID, sub.StageCode)
	if errors.Is(err, ErrNotFound) {
		return db.SubStageTracking{}, fmt.Errorf("%w: stage %s is not open for request %s",
			ErrInvalidState, sub.StageCode, requestID)
	}
	if err != nil {
		return db.SubStageTracking{}, err
	}

	now := s.Now()
	t := db.SubStageTracking{
		ID:              uuid.New().String(),
		StageTrackingID: parent.ID,
		RequestID:       requestID,
		StageCode:       sub.StageCode,
		SubStageCode:    sub.Code,
		StartedAt:       now,
		DueAt:           dueAtFor(now, sub.ExpectedDurationDays),
		AssignedTo:      assignedTo,
		Notes:           notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err = s.PG.ExecContext(ctx, `
		INSERT INTO sub_stage_trackings (
			id, stage_tracking_id, request_id, stage_code, sub_stage_code, started_at, due_at,
			assigned_to, notes, is_delayed, delay_days, escalation_level, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, FALSE, 0, 0, $6, $6)`,
		t.ID, t.StageTrackingID, t.RequestID, t.StageCode, t.SubStageCode, now, t.DueAt, assignedTo, notes)
	if err != nil {
		return db.SubStageTracking{}, persistenceError("insert sub-stage tracking", err)
	}

	s.log.Info("sub-stage tracking opened",
		"tracking_id", t.ID, "parent_tracking_id", parent.ID, "request_id", requestID, "sub_stage_code", sub.Code)
	return t, nil
}

// Complete closes the most recently opened open record for (request, sub-stage) whose
// parent stage tracking is still open.
// The action payload is stored verbatim.
func (s *SubStageTrackerService) Complete(ctx context.Context, requestID, subStageCode, completedBy, notes string, payload json.RawMessage) (db.SubStageTracking, error) {
	if len(payload) > 0 && !json.Valid(payload) {
		return db.SubStageTracking{}, fmt.Errorf("%w: action payload is not valid JSON", ErrInvalidInput)
	}
	var payloadArg interface{}
	if len(payload) > 0 {
		payloadArg = string(payload)
	}

	row := s.PG.QueryRowContext(ctx, `
		UPDATE sub_stage_trackings SET
			completed_at = $3,
			completed_by = NULLIF($4, ''),
			notes = CASE
				WHEN $5::text = '' THEN notes
				WHEN notes = '' THEN $5::text
				ELSE notes || E'\n' || $5::text
			END,
			action_payload = COALESCE($6::jsonb, action_payload),
			updated_at = $3
		WHERE id = (
			SELECT s.id FROM sub_stage_trackings s
			JOIN stage_trackings p ON p.id = s.stage_tracking_id AND p.completed_at IS NULL
			WHERE s.request_id = $1 AND s.sub_stage_code = $2 AND s.completed_at IS NULL
			ORDER BY s.started_at DESC, s.created_at DESC
			LIMIT 1
			FOR UPDATE OF s
		) AND completed_at IS NULL
		RETURNING `+subStageTrackingColumns,
		requestID, subStageCode, s.Now(), completedBy, notes, payloadArg)

	t, err := scanSubStageTracking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return db.SubStageTracking{}, fmt.Errorf("%w: no open %s sub-stage for request %s",
			ErrInvalidState, subStageCode, requestID)
	}
	if err != nil {
		return db.SubStageTracking{}, persistenceError("complete sub-stage tracking", err)
	}

	s.log.Info("sub-stage tracking completed",
		"tracking_id", t.ID, "request_id", requestID, "sub_stage_code", subStageCode, "completed_by", completedBy)
	return t, nil
}

func (s *SubStageTrackerService) query(ctx context.Context, op, where string, args ...interface{}) ([]db.SubStageTracking, error) {
	rows, err := s.PG.QueryContext(ctx, "SELECT "+subStageTrackingColumns+" FROM sub_stage_trackings "+where, args...)
	if err != nil {
		return nil, persistenceError(op, err)
	}
	defer rows.Close()

	trackings := []db.SubStageTracking{}
	for rows.Next() {
		t, err := scanSubStageTracking(rows)
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

// ListOpenForRequest returns open sub-stage trackings of a request, oldest first.
func (s *SubStageTrackerService) ListOpenForRequest(ctx context.Context, requestID string) ([]db.SubStageTracking, error) {
	return s.query(ctx, "list open sub-stage trackings", `
		WHERE request_id = $1 AND completed_at IS NULL
		ORDER BY started_at ASC`, requestID)
}

// ListForRequest returns every sub-stage tracking of a request, oldest first.
func (s *SubStageTrackerService) ListForRequest(ctx context.Context, requestID string) ([]db.SubStageTracking, error) {
	return s.query(ctx, "list sub-stage trackings", `
		WHERE request_id = $1
		ORDER BY started_at ASC`, requestID)
}

// ListAllDelayed returns open delayed sub-stage trackings, most overdue first.
func (s *SubStageTrackerService) ListAllDelayed(ctx context.Context) ([]db.SubStageTracking, error) {
	return s.query(ctx, "list delayed sub-stage trackings", `
		WHERE is_delayed = TRUE AND completed_at IS NULL
		ORDER BY delay_days DESC, started_at ASC`)
}
