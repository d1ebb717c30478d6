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

var trackingColumns = []string{
	"id", "request_id", "stage_code", "started_at", "due_at", "completed_at",
	"completed_by", "assigned_to", "notes",
	"is_delayed", "delay_days", "escalation_level", "created_at", "updated_at",
	"label",
}

func trackingRows(trackings ...db.StageTracking) *sqlmock.Rows {
	rows := sqlmock.NewRows(trackingColumns)
	for _, t := range trackings {
		var due, completed interface{}
		if t.DueAt != nil {
			due = *t.DueAt
		}
		if t.CompletedAt != nil {
			completed = *t.CompletedAt
		}
		rows.AddRow(t.ID, t.RequestID, t.StageCode, t.StartedAt, due, completed,
			t.CompletedBy, t.AssignedTo, t.Notes,
			t.IsDelayed, t.DelayDays, t.EscalationLevel, t.StartedAt, t.StartedAt,
			t.StageLabel)
	}
	return rows
}

func timePtr(t time.Time) *time.Time { return &t }

func newTestTracker(t *testing.T) (*StageTrackerService, sqlmock.Sqlmock) {
	t.Helper()
	catalog, mock, pg := newTestCatalog(t)
	tracker := NewStageTrackerService(pg, catalog, nil)
	tracker.Now = fixedClock
	return tracker, mock
}

func TestStageTracker_Open(t *testing.T) {
	tests := []struct {
		name      string
		stageCode string
		wantDue   *time.Time
	}{
		{"stage with duration gets due date", "field_visit", timePtr(testNow.Add(7 * 24 * time.Hour))},
		{"open-ended stage has no due date", "execution", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, mock := newTestTracker(t)
			expectCatalogLoad(mock, testStages())

			mock.ExpectExec("INSERT INTO stage_trackings").
				WithArgs(sqlmock.AnyArg(), "req-1", tt.stageCode, testNow, tt.wantDue, "officer-7", "").
				WillReturnResult(sqlmock.NewResult(1, 1))

			got, err := tracker.Open(context.Background(), "req-1", tt.stageCode, "officer-7", "")
			require.NoError(t, err)
			assert.NotEmpty(t, got.ID)
			assert.Equal(t, testNow, got.StartedAt)
			assert.Equal(t, tt.wantDue, got.DueAt)
			assert.True(t, got.IsOpen())
			assert.False(t, got.IsDelayed)
			assert.Equal(t, 0, got.DelayDays)
			assert.Equal(t, db.EscalationLevelNone, got.EscalationLevel)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStageTracker_Open_Errors(t *testing.T) {
	tests := []struct {
		name      string
		requestID string
		stageCode string
		wantErr   error
	}{
		{"unknown stage", "req-1", "nope", ErrNotFound},
		{"inactive stage", "req-1", "legacy_survey", ErrStageInactive},
		{"missing request", " ", "field_visit", ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, mock := newTestTracker(t)
			if tt.wantErr != ErrInvalidInput {
				expectCatalogLoad(mock, testStages())
			}

			_, err := tracker.Open(context.Background(), tt.requestID, tt.stageCode, "", "")
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStageTracker_Close(t *testing.T) {
	tracker, mock := newTestTracker(t)
	due := testNow.Add(-2 * 24 * time.Hour)
	closed := db.StageTracking{
		ID: "trk-1", RequestID: "req-1", StageCode: "field_visit",
		StartedAt: testNow.Add(-9 * 24 * time.Hour), DueAt: &due, CompletedAt: timePtr(testNow),
		CompletedBy: "engineer-2", IsDelayed: true, DelayDays: 2, EscalationLevel: 1,
		StageLabel: "Field Visit",
	}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE stage_trackings SET").
		WithArgs("trk-1", testNow, "engineer-2", "report uploaded").
		WillReturnRows(trackingRows(closed))
	mock.ExpectExec("UPDATE sub_stage_trackings SET").
		WithArgs("trk-1", testNow, "engineer-2").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	got, err := tracker.Close(context.Background(), "trk-1", "engineer-2", "report uploaded")
	require.NoError(t, err)
	assert.False(t, got.IsOpen())
	assert.Equal(t, "engineer-2", got.CompletedBy)
	// Delay and escalation state are preserved on close.
	assert.True(t, got.IsDelayed)
	assert.Equal(t, 2, got.DelayDays)
	assert.Equal(t, 1, got.EscalationLevel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStageTracker_Close_AlreadyCompleted(t *testing.T) {
	tracker, mock := newTestTracker(t)
	existing := db.StageTracking{
		ID: "trk-1", RequestID: "req-1", StageCode: "field_visit",
		StartedAt: testNow.Add(-3 * 24 * time.Hour), CompletedAt: timePtr(testNow.Add(-time.Hour)),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE stage_trackings SET").
		WillReturnRows(sqlmock.NewRows(trackingColumns))
	mock.ExpectRollback()
	mock.ExpectQuery("WHERE t.id =").
		WithArgs("trk-1").
		WillReturnRows(trackingRows(existing))

	_, err := tracker.Close(context.Background(), "trk-1", "engineer-2", "")
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStageTracker_Close_NotFound(t *testing.T) {
	tracker, mock := newTestTracker(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE stage_trackings SET").
		WillReturnRows(sqlmock.NewRows(trackingColumns))
	mock.ExpectRollback()
	mock.ExpectQuery("WHERE t.id =").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(trackingColumns))

	_, err := tracker.Close(context.Background(), "missing", "engineer-2", "")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStageTracker_ListOpenForRequest(t *testing.T) {
	tracker, mock := newTestTracker(t)
	a := db.StageTracking{ID: "a", RequestID: "req-1", StageCode: "initial_review", StartedAt: testNow.Add(-48 * time.Hour)}
	b := db.StageTracking{ID: "b", RequestID: "req-1", StageCode: "field_visit", StartedAt: testNow}

	mock.ExpectQuery("t.completed_at IS NULL").
		WithArgs("req-1").
		WillReturnRows(trackingRows(a, b))

	got, err := tracker.ListOpenForRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Nil(t, got[0].DueAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStageTracker_ListForRequest_Empty(t *testing.T) {
	tracker, mock := newTestTracker(t)
	mock.ExpectQuery("WHERE t.request_id").
		WithArgs("req-none").
		WillReturnRows(sqlmock.NewRows(trackingColumns))

	got, err := tracker.ListForRequest(context.Background(), "req-none")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStageTracker_ListAllDelayed(t *testing.T) {
	tracker, mock := newTestTracker(t)
	worst := db.StageTracking{ID: "w", RequestID: "req-2", StageCode: "contracting", IsDelayed: true, DelayDays: 9, EscalationLevel: 2}
	mild := db.StageTracking{ID: "m", RequestID: "req-1", StageCode: "field_visit", IsDelayed: true, DelayDays: 1, EscalationLevel: 1}

	mock.ExpectQuery("ORDER BY t.delay_days DESC").WillReturnRows(trackingRows(worst, mild))

	got, err := tracker.ListAllDelayed(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 9, got[0].DelayDays)
	assert.Equal(t, 2, got[0].EscalationLevel)
}

func TestStageTracker_ListAtRisk(t *testing.T) {
	tracker, mock := newTestTracker(t)
	soon := db.StageTracking{ID: "s", RequestID: "req-3", StageCode: "field_visit", DueAt: timePtr(testNow.Add(24 * time.Hour))}

	mock.ExpectQuery("make_interval").WithArgs(testNow).WillReturnRows(trackingRows(soon))

	got, err := tracker.ListAtRisk(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s", got[0].ID)
}

func TestStageTracker_Reassign(t *testing.T) {
	tracker, mock := newTestTracker(t)
	updated := db.StageTracking{ID: "trk-1", RequestID: "req-1", StageCode: "field_visit", AssignedTo: "officer-9", StartedAt: testNow}

	mock.ExpectExec("UPDATE stage_trackings SET assigned_to").
		WithArgs("trk-1", "officer-9", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("WHERE t.id =").WithArgs("trk-1").WillReturnRows(trackingRows(updated))

	got, err := tracker.Reassign(context.Background(), "trk-1", "officer-9")
	require.NoError(t, err)
	assert.Equal(t, "officer-9", got.AssignedTo)

	_, err = tracker.Reassign(context.Background(), "trk-1", "")
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStageTracker_Close_RollsBackWhenSubStagesFail(t *testing.T) {
	tracker, mock := newTestTracker(t)
	closed := db.StageTracking{
		ID: "trk-1", RequestID: "req-1", StageCode: "field_visit",
		StartedAt: testNow.Add(-2 * 24 * time.Hour), CompletedAt: timePtr(testNow),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE stage_trackings SET").WillReturnRows(trackingRows(closed))
	mock.ExpectExec(`WHERE stage_tracking_id = \$1 AND completed_at IS NULL`).
		WithArgs("trk-1", testNow, "engineer-2").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := tracker.Close(context.Background(), "trk-1", "engineer-2", "")
	assert.True(t, errors.Is(err, ErrPersistence), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStageTracker_Reassign_RowsAffectedError(t *testing.T) {
	tracker, mock := newTestTracker(t)

	mock.ExpectExec("UPDATE stage_trackings SET assigned_to").
		WillReturnResult(sqlmock.NewErrorResult(errors.New("driver lost count")))

	_, err := tracker.Reassign(context.Background(), "trk-1", "officer-9")
	assert.True(t, errors.Is(err, ErrPersistence), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStageTracker_MalformedIDIsNotFound(t *testing.T) {
	tracker, mock := newTestTracker(t)

	mock.ExpectQuery("WHERE t.id =").WithArgs("nope").
		WillReturnError(&pq.Error{Code: "22P02", Message: `invalid input syntax for type uuid: "nope"`})

	_, err := tracker.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	assert.False(t, errors.Is(err, ErrPersistence))
	assert.NoError(t, mock.ExpectationsWereMet())
}
