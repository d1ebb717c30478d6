package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/phonginreallife/masajid/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	pg, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { pg.Close() })

	engine := services.NewEngine(pg, nil, nil, services.EngineOptions{})
	return NewRouterForEngine(engine, pg, services.NewAdminAuthService("", ""), nil), mock
}

func TestRouter_Health(t *testing.T) {
	r, mock := newTestRouter(t)
	mock.ExpectPing()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRouter_Metrics(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_AdminRoutesRequireAuth(t *testing.T) {
	r, _ := newTestRouter(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/stages/seed"},
		{http.MethodPut, "/api/v1/stages/field_visit"},
		{http.MethodPatch, "/api/v1/stages/field_visit/active"},
		{http.MethodPut, "/api/v1/stages/field_visit/sub-stages/schedule_visit"},
		{http.MethodPost, "/api/v1/escalations/scan"},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(route.method, route.path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", route.method, route.path)
	}
}

func TestRouter_PublicCatalogRead(t *testing.T) {
	r, mock := newTestRouter(t)
	now := time.Now()
	mock.ExpectQuery("FROM stage_definitions").WillReturnRows(sqlmock.NewRows([]string{
		"code", "label", "position", "expected_duration_days", "warning_threshold_days",
		"escalation_level1_days", "escalation_level2_days", "is_active", "description",
		"created_at", "updated_at",
	}).AddRow("initial_review", "Initial Review", 1, 3, 1, 1, 3, true, "", now, now))
	mock.ExpectQuery("FROM sub_stage_definitions").WillReturnRows(sqlmock.NewRows([]string{
		"code", "stage_code", "label", "position", "expected_duration_days", "description",
		"created_at", "updated_at",
	}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stages", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "initial_review")
}
