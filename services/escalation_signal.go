package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/phonginreallife/masajid/db"
)

// EscalationSignal is published when a tracking reaches a higher escalation level.
// Delivery to people is left to whoever consumes the queue.
type EscalationSignal struct {
	Type            string    `json:"type"`
	LogID           string    `json:"log_id"`
	StageTrackingID string    `json:"stage_tracking_id"`
	RequestID       string    `json:"request_id"`
	StageCode       string    `json:"stage_code"`
	StageLabel      string    `json:"stage_label"`
	EscalationLevel int       `json:"escalation_level"`
	DelayDays       int       `json:"delay_days"`
	EscalatedFrom   string    `json:"escalated_from,omitempty"`
	EscalatedTo     string    `json:"escalated_to,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

func newEscalationSignal(entry db.EscalationLogEntry, stageLabel string) EscalationSignal {
	return EscalationSignal{
		Type:            "stage_escalated",
		LogID:           entry.ID,
		StageTrackingID: entry.StageTrackingID,
		RequestID:       entry.RequestID,
		StageCode:       entry.StageCode,
		StageLabel:      stageLabel,
		EscalationLevel: entry.EscalationLevel,
		DelayDays:       entry.DelayDays,
		EscalatedFrom:   entry.EscalatedFrom,
		EscalatedTo:     entry.EscalatedTo,
		OccurredAt:      entry.CreatedAt,
	}
}

// SignalPublisher emits escalation signals inside the escalating transaction,
// so a signal exists exactly when the level change commits.
type SignalPublisher interface {
	PublishTx(ctx context.Context, tx *sql.Tx, signal EscalationSignal) error
}

// PGMQSignalPublisher enqueues signals on a PGMQ queue.
type PGMQSignalPublisher struct {
	Queue string
}

func NewPGMQSignalPublisher(queue string) *PGMQSignalPublisher {
	return &PGMQSignalPublisher{Queue: queue}
}

func (p *PGMQSignalPublisher) PublishTx(ctx context.Context, tx *sql.Tx, signal EscalationSignal) error {
	payload, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("failed to marshal escalation signal: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pgmq.send($1, $2::jsonb)`, p.Queue, string(payload)); err != nil {
		return persistenceError("send escalation signal to "+p.Queue, err)
	}
	return nil
}

// EnsureQueue creates the queue if it does not exist yet.
func (p *PGMQSignalPublisher) EnsureQueue(ctx context.Context, pg *sql.DB) error {
	if _, err := pg.ExecContext(ctx, `SELECT pgmq.create($1)`, p.Queue); err != nil {
		return fmt.Errorf("failed to create queue %s: %w", p.Queue, err)
	}
	return nil
}

var _ SignalPublisher = (*PGMQSignalPublisher)(nil)
