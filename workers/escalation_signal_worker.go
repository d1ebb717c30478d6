package workers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/phonginreallife/masajid/internal/logger"
	"github.com/phonginreallife/masajid/services"
)

// SignalHandler delivers one escalation signal. A returned error leaves the message
// on the queue until its visibility timeout expires.
type SignalHandler func(ctx context.Context, signal services.EscalationSignal) error

// EscalationSignalWorker drains the escalation PGMQ queue and hands each signal to Handler.
type EscalationSignalWorker struct {
	PG                *sql.DB
	Queue             string
	Handler           SignalHandler
	BatchSize         int
	VisibilityTimeout int // seconds
	MaxReads          int // archived after this many failed deliveries
	PollInterval      time.Duration

	log *logger.Logger
}

// PGMQMessage represents a message from PGMQ
type PGMQMessage struct {
	MsgID      int64
	ReadCT     int
	EnqueuedAt time.Time
	Message    json.RawMessage
}

func NewEscalationSignalWorker(pg *sql.DB, queue string, handler SignalHandler, log *logger.Logger) *EscalationSignalWorker {
	log = logger.OrNop(log)
	if handler == nil {
		handler = LogSignalHandler(log)
	}
	return &EscalationSignalWorker{
		PG:                pg,
		Queue:             queue,
		Handler:           handler,
		BatchSize:         10,
		VisibilityTimeout: 30,
		MaxReads:          5,
		PollInterval:      2 * time.Second,
		log:               log,
	}
}

// LogSignalHandler records signals in the structured log only.
func LogSignalHandler(log *logger.Logger) SignalHandler {
	return func(_ context.Context, signal services.EscalationSignal) error {
		log.Info("escalation signal",
			"request_id", signal.RequestID, "stage_code", signal.StageCode,
			"level", signal.EscalationLevel, "delay_days", signal.DelayDays,
			"escalated_to", signal.EscalatedTo)
		return nil
	}
}

// Run polls the queue until ctx is cancelled.
func (w *EscalationSignalWorker) Run(ctx context.Context) {
	w.log.Info("escalation signal worker started", "queue", w.Queue)

	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("escalation signal worker stopped")
			return
		case <-ticker.C:
			if _, err := w.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
				w.log.Error("failed to process escalation signals", "queue", w.Queue, "error", err)
			}
		}
	}
}

// ProcessBatch reads one batch and returns how many messages were delivered.
func (w *EscalationSignalWorker) ProcessBatch(ctx context.Context) (int, error) {
	// pgmq.read returns: msg_id, read_ct, enqueued_at, vt, message
	rows, err := w.PG.QueryContext(ctx,
		`SELECT msg_id, read_ct, enqueued_at, message FROM pgmq.read($1, $2, $3)`,
		w.Queue, w.VisibilityTimeout, w.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read from queue %s: %w", w.Queue, err)
	}

	var batch []PGMQMessage
	for rows.Next() {
		var msg PGMQMessage
		var raw []byte
		if err := rows.Scan(&msg.MsgID, &msg.ReadCT, &msg.EnqueuedAt, &raw); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan message from queue %s: %w", w.Queue, err)
		}
		msg.Message = raw
		batch = append(batch, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read from queue %s: %w", w.Queue, err)
	}

	delivered := 0
	for _, msg := range batch {
		var signal services.EscalationSignal
		if err := json.Unmarshal(msg.Message, &signal); err != nil {
			w.log.Error("malformed escalation signal, archiving", "msg_id", msg.MsgID, "error", err)
			w.archive(ctx, msg.MsgID)
			continue
		}

		if err := w.Handler(ctx, signal); err != nil {
			if msg.ReadCT >= w.MaxReads {
				w.log.Error("escalation signal exhausted retries, archiving",
					"msg_id", msg.MsgID, "read_ct", msg.ReadCT, "error", err)
				w.archive(ctx, msg.MsgID)
			} else {
				w.log.Warn("escalation signal delivery failed, will retry",
					"msg_id", msg.MsgID, "read_ct", msg.ReadCT, "error", err)
			}
			continue
		}

		if _, err := w.PG.ExecContext(ctx, `SELECT pgmq.delete($1, $2::bigint)`, w.Queue, msg.MsgID); err != nil {
			w.log.Error("failed to delete delivered signal", "msg_id", msg.MsgID, "error", err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

func (w *EscalationSignalWorker) archive(ctx context.Context, msgID int64) {
	if _, err := w.PG.ExecContext(ctx, `SELECT pgmq.archive($1, $2::bigint)`, w.Queue, msgID); err != nil {
		w.log.Error("failed to archive signal", "msg_id", msgID, "error", err)
	}
}
