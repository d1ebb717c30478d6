package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/phonginreallife/masajid/db"
	"github.com/phonginreallife/masajid/internal/logger"
)

const (
	defaultEscalationPageSize = 50
	maxEscalationPageSize     = 500
)

// EscalationLogService reads the append-only escalation audit. Entries are
// written only by the delay scanner, inside the same transaction that raises the level.
type EscalationLogService struct {
	PG *sql.DB

	log *logger.Logger
}

func NewEscalationLogService(pg *sql.DB, log *logger.Logger) *EscalationLogService {
	return &EscalationLogService{PG: pg, log: logger.OrNop(log)}
}

// ListEscalations returns matching entries most recent first, with the total count
// of matches before pagination.
func (s *EscalationLogService) ListEscalations(ctx context.Context, filter db.EscalationLogFilter) ([]db.EscalationLogEntry, int, error) {
	var conditions []string
	var args []interface{}

	if filter.RequestID != "" {
		args = append(args, filter.RequestID)
		conditions = append(conditions, fmt.Sprintf("request_id = $%d", len(args)))
	}
	if filter.StageCode != "" {
		args = append(args, filter.StageCode)
		conditions = append(conditions, fmt.Sprintf("stage_code = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.PG.QueryRowContext(ctx, "SELECT COUNT(*) FROM escalation_logs"+where, args...).Scan(&total); err != nil {
		return nil, 0, persistenceError("count escalation logs", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultEscalationPageSize
	}
	if limit > maxEscalationPageSize {
		limit = maxEscalationPageSize
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	query := `
		SELECT id, stage_tracking_id, request_id, stage_code, escalation_level, delay_days,
		       COALESCE(escalated_from, ''), COALESCE(escalated_to, ''), reason, created_at
		FROM escalation_logs` + where + fmt.Sprintf(`
		ORDER BY created_at DESC, escalation_level DESC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.PG.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, persistenceError("list escalation logs", err)
	}
	defer rows.Close()

	entries := []db.EscalationLogEntry{}
	for rows.Next() {
		var e db.EscalationLogEntry
		if err := rows.Scan(
			&e.ID, &e.StageTrackingID, &e.RequestID, &e.StageCode, &e.EscalationLevel, &e.DelayDays,
			&e.EscalatedFrom, &e.EscalatedTo, &e.Reason, &e.CreatedAt,
		); err != nil {
			return nil, 0, persistenceError("scan escalation log", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, persistenceError("read escalation logs", err)
	}
	return entries, total, nil
}

// appendEscalation inserts one entry inside the caller's transaction.
func appendEscalation(ctx context.Context, tx *sql.Tx, e db.EscalationLogEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO escalation_logs (
			id, stage_tracking_id, request_id, stage_code, escalation_level, delay_days,
			escalated_from, escalated_to, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10)`,
		e.ID, e.StageTrackingID, e.RequestID, e.StageCode, e.EscalationLevel, e.DelayDays,
		e.EscalatedFrom, e.EscalatedTo, e.Reason, e.CreatedAt)
	return persistenceError("insert escalation log", err)
}
