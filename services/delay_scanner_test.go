package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/phonginreallife/masajid/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldVisit() db.StageDefinition {
	return testStages()[1]
}

func TestDelayDaysAt(t *testing.T) {
	due := testNow
	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"before due", due.Add(-time.Hour), 0},
		{"exactly due", due, 0},
		{"23 hours late", due.Add(23 * time.Hour), 0},
		{"one day late", due.Add(day), 1},
		{"49 hours late", due.Add(49 * time.Hour), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DelayDaysAt(due, tt.now))
		})
	}
}

func TestEscalationLevelFor(t *testing.T) {
	stage := fieldVisit() // level 1 after 1 day, level 2 after 1+3 days
	tests := []struct {
		delayDays int
		want      int
	}{
		{0, db.EscalationLevelNone},
		{1, db.EscalationLevelFirst},
		{3, db.EscalationLevelFirst},
		{4, db.EscalationLevelSecond},
		{30, db.EscalationLevelSecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EscalationLevelFor(tt.delayDays, stage), "delay_days=%d", tt.delayDays)
	}

	unset := db.StageDefinition{ExpectedDurationDays: 2}
	assert.Equal(t, db.EscalationLevelFirst, EscalationLevelFor(1, unset))
	assert.Equal(t, db.EscalationLevelSecond, EscalationLevelFor(1, db.StageDefinition{EscalationLevel1Days: 1}),
		"level 2 threshold collapses onto level 1 when unset")
}

func TestEvaluateDelay(t *testing.T) {
	stage := fieldVisit()
	started := testNow.Add(-8 * day)
	due := started.Add(7 * day)

	t.Run("not yet due", func(t *testing.T) {
		tr := db.StageTracking{StartedAt: started, DueAt: &due}
		d := EvaluateDelay(tr, stage, due.Add(-time.Minute))
		assert.False(t, d.Delayed)
		assert.False(t, d.Escalate)
	})

	t.Run("open-ended stage never delays", func(t *testing.T) {
		tr := db.StageTracking{StartedAt: started}
		d := EvaluateDelay(tr, stage, testNow.Add(365*day))
		assert.False(t, d.Delayed)
		assert.Equal(t, db.EscalationLevelNone, d.Level)
	})

	t.Run("one day late reaches level 1", func(t *testing.T) {
		tr := db.StageTracking{StartedAt: started, DueAt: &due}
		d := EvaluateDelay(tr, stage, due.Add(day))
		assert.True(t, d.Delayed)
		assert.Equal(t, 1, d.DelayDays)
		assert.Equal(t, db.EscalationLevelFirst, d.Level)
		assert.True(t, d.Escalate)
	})

	t.Run("three days late stays at level 1", func(t *testing.T) {
		tr := db.StageTracking{StartedAt: started, DueAt: &due, IsDelayed: true, DelayDays: 1, EscalationLevel: 1}
		d := EvaluateDelay(tr, stage, due.Add(3*day))
		assert.Equal(t, 3, d.DelayDays)
		assert.Equal(t, db.EscalationLevelFirst, d.Level)
		assert.False(t, d.Escalate)
	})

	t.Run("four days late reaches level 2", func(t *testing.T) {
		tr := db.StageTracking{StartedAt: started, DueAt: &due, IsDelayed: true, DelayDays: 3, EscalationLevel: 1}
		d := EvaluateDelay(tr, stage, due.Add(4*day))
		assert.Equal(t, db.EscalationLevelSecond, d.Level)
		assert.True(t, d.Escalate)
	})

	t.Run("level never decreases", func(t *testing.T) {
		tr := db.StageTracking{StartedAt: started, DueAt: &due, IsDelayed: true, DelayDays: 5, EscalationLevel: 2}
		later := due.Add(5 * day)
		// Thresholds loosened by an administrator after the level was reached.
		loose := stage
		loose.EscalationLevel1Days = 10
		d := EvaluateDelay(tr, loose, later)
		assert.Equal(t, db.EscalationLevelSecond, d.Level)
		assert.False(t, d.Escalate)
	})

	t.Run("completed tracking is left alone", func(t *testing.T) {
		done := due.Add(time.Hour)
		tr := db.StageTracking{StartedAt: started, DueAt: &due, CompletedAt: &done, EscalationLevel: 1}
		d := EvaluateDelay(tr, stage, due.Add(10*day))
		assert.False(t, d.Escalate)
		assert.Equal(t, 1, d.Level)
	})
}

func newTestScanner(t *testing.T, resolver EscalationTargetResolver, publisher SignalPublisher) (*DelayScanner, sqlmock.Sqlmock) {
	t.Helper()
	catalog, mock, pg := newTestCatalog(t)
	scanner := NewDelayScanner(pg, catalog, resolver, publisher, nil)
	scanner.Now = fixedClock
	return scanner, mock
}

func overdueTracking(id string, daysLate int, level int) db.StageTracking {
	due := testNow.Add(-time.Duration(daysLate) * day)
	return db.StageTracking{
		ID: id, RequestID: "req-" + id, StageCode: "field_visit",
		StartedAt: due.Add(-7 * day), DueAt: &due, AssignedTo: "officer-7",
		IsDelayed: level > 0, DelayDays: daysLate, EscalationLevel: level,
		StageLabel: "Field Visit",
	}
}

func expectOverdue(mock sqlmock.Sqlmock, trackings ...db.StageTracking) {
	mock.ExpectQuery(`t.due_at <= \$1`).WithArgs(testNow).WillReturnRows(trackingRows(trackings...))
}

func expectSubStageMarking(mock sqlmock.Sqlmock, n int64) {
	mock.ExpectExec("UPDATE sub_stage_trackings SET").WithArgs(testNow).WillReturnResult(sqlmock.NewResult(0, n))
}

// Field visit started at T with 7 days expected, scanned at T+8: one day late, level 1.
func TestDelayScanner_FirstEscalation(t *testing.T) {
	scanner, mock := newTestScanner(t, nil, nil)
	tr := overdueTracking("trk-1", 1, 0)
	tr.IsDelayed = false
	tr.DelayDays = 0

	expectOverdue(mock, tr)
	expectCatalogLoad(mock, testStages())
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE stage_trackings SET").
		WithArgs("trk-1", 1, 1, testNow, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO escalation_logs").
		WithArgs(sqlmock.AnyArg(), "trk-1", "req-trk-1", "field_visit", 1, 1, "officer-7", "officer-7", sqlmock.AnyArg(), testNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	expectSubStageMarking(mock, 2)

	result, err := scanner.RunDelayScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Escalated)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 2, result.SubStagesScanned)
	assert.Equal(t, testNow, result.StartedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Same tracking scanned at T+11: four days late, level 1 to level 2.
func TestDelayScanner_SecondEscalation(t *testing.T) {
	scanner, mock := newTestScanner(t, StaticTargetResolver{Level1: "programs_supervisor", Level2: "programs_director"}, nil)
	tr := overdueTracking("trk-1", 3, 1)

	late := tr
	due := testNow.Add(-4 * day)
	late.DueAt = &due

	expectOverdue(mock, late)
	expectCatalogLoad(mock, testStages())
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE stage_trackings SET").
		WithArgs("trk-1", 4, 2, testNow, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO escalation_logs").
		WithArgs(sqlmock.AnyArg(), "trk-1", "req-trk-1", "field_visit", 2, 4, "officer-7", "programs_director", sqlmock.AnyArg(), testNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	expectSubStageMarking(mock, 0)

	result, err := scanner.RunDelayScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Escalated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Three days late at level 1 only refreshes delay_days; no log row.
func TestDelayScanner_RefreshesDelayWithoutEscalating(t *testing.T) {
	scanner, mock := newTestScanner(t, nil, nil)
	tr := overdueTracking("trk-1", 3, 1)
	tr.DelayDays = 2

	expectOverdue(mock, tr)
	expectCatalogLoad(mock, testStages())
	mock.ExpectExec("UPDATE stage_trackings SET is_delayed").
		WithArgs("trk-1", 3, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectSubStageMarking(mock, 0)

	result, err := scanner.RunDelayScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Escalated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A second scan at the same instant writes nothing.
func TestDelayScanner_Idempotent(t *testing.T) {
	scanner, mock := newTestScanner(t, nil, nil)
	tr := overdueTracking("trk-1", 1, 1)

	expectOverdue(mock, tr)
	expectCatalogLoad(mock, testStages())
	expectSubStageMarking(mock, 0)

	result, err := scanner.RunDelayScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Escalated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelayScanner_SkipsCatalogInconsistencies(t *testing.T) {
	scanner, mock := newTestScanner(t, nil, nil)
	ghost := overdueTracking("ghost", 2, 0)
	ghost.StageCode = "demolished_stage"
	inactive := overdueTracking("old", 2, 0)
	inactive.StageCode = "legacy_survey"

	expectOverdue(mock, ghost, inactive)
	expectCatalogLoad(mock, testStages())
	expectSubStageMarking(mock, 0)

	result, err := scanner.RunDelayScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 0, result.Processed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Another scanner raised the level first; the conditional update matches nothing
// and no log row is written.
func TestDelayScanner_LostRace(t *testing.T) {
	scanner, mock := newTestScanner(t, nil, nil)
	tr := overdueTracking("trk-1", 1, 0)

	expectOverdue(mock, tr)
	expectCatalogLoad(mock, testStages())
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE stage_trackings SET").
		WithArgs("trk-1", 1, 1, testNow, 0).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	expectSubStageMarking(mock, 0)

	result, err := scanner.RunDelayScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Escalated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A failed log insert rolls back the level change and the scan carries on.
func TestDelayScanner_LogFailureRollsBack(t *testing.T) {
	scanner, mock := newTestScanner(t, nil, nil)
	first := overdueTracking("trk-1", 1, 0)
	second := overdueTracking("trk-2", 1, 1)

	expectOverdue(mock, first, second)
	expectCatalogLoad(mock, testStages())
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE stage_trackings SET").
		WithArgs("trk-1", 1, 1, testNow, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO escalation_logs").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()
	expectSubStageMarking(mock, 0)

	result, err := scanner.RunDelayScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Escalated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelayScanner_DuplicateLogIsNotAFailure(t *testing.T) {
	scanner, mock := newTestScanner(t, nil, nil)
	tr := overdueTracking("trk-1", 1, 0)

	expectOverdue(mock, tr)
	expectCatalogLoad(mock, testStages())
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE stage_trackings SET").
		WithArgs("trk-1", 1, 1, testNow, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO escalation_logs").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()
	expectSubStageMarking(mock, 0)

	result, err := scanner.RunDelayScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Escalated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelayScanner_PublishesSignal(t *testing.T) {
	scanner, mock := newTestScanner(t, nil, NewPGMQSignalPublisher("stage_escalations"))
	tr := overdueTracking("trk-1", 1, 0)

	expectOverdue(mock, tr)
	expectCatalogLoad(mock, testStages())
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE stage_trackings SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO escalation_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`SELECT pgmq.send`).
		WithArgs("stage_escalations", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectSubStageMarking(mock, 0)

	result, err := scanner.RunDelayScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Escalated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelayScanner_RejectsConcurrentScan(t *testing.T) {
	scanner, _ := newTestScanner(t, nil, nil)
	scanner.running.Lock()
	defer scanner.running.Unlock()

	_, err := scanner.RunDelayScan(context.Background())
	assert.True(t, errors.Is(err, ErrScanInProgress))
}

func TestDelayScanner_FetchFailure(t *testing.T) {
	scanner, mock := newTestScanner(t, nil, nil)
	mock.ExpectQuery(`t.due_at <= \$1`).WillReturnError(errors.New("connection refused"))

	_, err := scanner.RunDelayScan(context.Background())
	assert.True(t, errors.Is(err, ErrPersistence))
}

type cancellingResolver struct {
	cancel context.CancelFunc
}

func (r cancellingResolver) ResolveTarget(_ context.Context, tracking db.StageTracking, _ db.StageDefinition, _ int) (string, error) {
	r.cancel()
	return tracking.AssignedTo, nil
}

// Cancellation between records stops the pass and reports partial progress.
func TestDelayScanner_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scanner, mock := newTestScanner(t, cancellingResolver{cancel: cancel}, nil)
	expectOverdue(mock, overdueTracking("trk-1", 1, 0), overdueTracking("trk-2", 1, 0))
	expectCatalogLoad(mock, testStages())

	result, err := scanner.RunDelayScan(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Escalated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Completed trackings never reach the scan, and sub-stages are only marked while their
// parent tracking is open.
func TestDelayScanner_OnlyOpenTrackingsAreScanned(t *testing.T) {
	scanner, mock := newTestScanner(t, nil, nil)

	mock.ExpectQuery(`WHERE t.completed_at IS NULL AND t.due_at IS NOT NULL AND t.due_at <= \$1`).
		WithArgs(testNow).
		WillReturnRows(sqlmock.NewRows(trackingColumns))
	mock.ExpectExec(`FROM stage_trackings p\s+WHERE p.id = sub_stage_trackings.stage_tracking_id\s+AND p.completed_at IS NULL\s+AND sub_stage_trackings.completed_at IS NULL`).
		WithArgs(testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))

	result, err := scanner.RunDelayScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
	assert.Equal(t, 0, result.SubStagesScanned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelayScanner_RowsAffectedErrorFailsRecord(t *testing.T) {
	scanner, mock := newTestScanner(t, nil, nil)
	tr := overdueTracking("trk-1", 1, 0)

	expectOverdue(mock, tr)
	expectCatalogLoad(mock, testStages())
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE stage_trackings SET").
		WillReturnResult(sqlmock.NewErrorResult(errors.New("driver lost count")))
	mock.ExpectRollback()
	expectSubStageMarking(mock, 0)

	result, err := scanner.RunDelayScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Escalated)
	assert.NoError(t, mock.ExpectationsWereMet())
}
