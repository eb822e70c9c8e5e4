package hrv

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fitly-app/fitly/internal/athlete"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlanEngine struct {
	plan      []Step
	resetFrom time.Time
	resetErr  error
}

func (f *fakePlanEngine) Reset(_ context.Context, fromDate time.Time) error {
	f.resetFrom = fromDate
	return f.resetErr
}

func (f *fakePlanEngine) PlanWindow(_ context.Context, _, _ time.Time) ([]Step, error) {
	return f.plan, nil
}

func testHandlerRouter(engine planEngine, now time.Time) *mux.Router {
	handler := NewHandler(engine)
	handler.nowFunc = func() time.Time { return now }
	r := mux.NewRouter()
	r.HandleFunc("/hrv/plan", handler.HandlePlan).Methods("GET")
	r.HandleFunc("/hrv/reset", handler.HandleReset).Methods("POST")
	return r
}

func TestHandler_HandlePlan(t *testing.T) {
	engine := &fakePlanEngine{
		plan: []Step{
			{Date: day(2026, 8, 29), Step: 1, Effort: athlete.EffortMod, Rationale: "r"},
			{Date: day(2026, 8, 30), Step: 2, Effort: athlete.EffortHIIT, Rationale: "r"},
		},
	}
	r := testHandlerRouter(engine, day(2026, 8, 30))

	req := httptest.NewRequest("GET", "/hrv/plan", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var steps []Step
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &steps))
	require.Len(t, steps, 2)
	assert.Equal(t, athlete.EffortHIIT, steps[1].Effort)
}

func TestHandler_HandlePlan_BadDates(t *testing.T) {
	r := testHandlerRouter(&fakePlanEngine{}, day(2026, 8, 30))

	req := httptest.NewRequest("GET", "/hrv/plan?from=yesterday", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_HandleReset(t *testing.T) {
	engine := &fakePlanEngine{}
	r := testHandlerRouter(engine, day(2026, 8, 30))

	req := httptest.NewRequest("POST", "/hrv/reset", strings.NewReader(`{"from_date":"2026-08-28"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reset:2026-08-28", rec.Body.String())
	assert.Equal(t, day(2026, 8, 28), engine.resetFrom)
}

func TestHandler_HandleReset_DefaultsToToday(t *testing.T) {
	engine := &fakePlanEngine{}
	r := testHandlerRouter(engine, day(2026, 8, 30))

	req := httptest.NewRequest("POST", "/hrv/reset", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, day(2026, 8, 30), engine.resetFrom)
}

func TestHandler_HandleReset_FutureDateRejected(t *testing.T) {
	engine := &fakePlanEngine{}
	r := testHandlerRouter(engine, day(2026, 8, 30))

	req := httptest.NewRequest("POST", "/hrv/reset", strings.NewReader(`{"from_date":"2026-09-15"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, engine.resetFrom.IsZero())
}
