package hrv

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fitly-app/fitly/pkg"
	log "github.com/sirupsen/logrus"
)

const defaultPlanWindowDays = 14

type planEngine interface {
	Reset(ctx context.Context, fromDate time.Time) error
	PlanWindow(ctx context.Context, from, to time.Time) ([]Step, error)
}

type Handler struct {
	engine  planEngine
	nowFunc func() time.Time
}

func NewHandler(engine planEngine) *Handler {
	return &Handler{
		engine:  engine,
		nowFunc: time.Now,
	}
}

func (handler *Handler) HandlePlan(w http.ResponseWriter, r *http.Request) {
	now := handler.nowFunc()
	from := pkg.DayOf(now).AddDate(0, 0, -defaultPlanWindowDays)
	to := pkg.DayOf(now)

	var err error
	if fromParam := r.URL.Query().Get("from"); fromParam != "" {
		if from, err = time.Parse("2006-01-02", fromParam); err != nil {
			http.Error(w, "error, invalid from date", http.StatusBadRequest)
			return
		}
	}
	if toParam := r.URL.Query().Get("to"); toParam != "" {
		if to, err = time.Parse("2006-01-02", toParam); err != nil {
			http.Error(w, "error, invalid to date", http.StatusBadRequest)
			return
		}
	}

	steps, err := handler.engine.PlanWindow(r.Context(), from, to)
	if err != nil {
		log.Errorf("get workout plan: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if steps == nil {
		steps = []Step{}
	}

	stepsJson, err := json.Marshal(steps)
	if err != nil {
		log.Errorf("marshal workout plan: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	pkg.WriteJSONBytesResponseOK(w, stepsJson)
}

type resetRequest struct {
	FromDate string `json:"from_date"`
}

func (handler *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "error, invalid request", http.StatusBadRequest)
		return
	}

	fromDate := pkg.DayOf(handler.nowFunc())
	if req.FromDate != "" {
		var err error
		if fromDate, err = time.Parse("2006-01-02", req.FromDate); err != nil {
			http.Error(w, "error, invalid from date", http.StatusBadRequest)
			return
		}
	}
	if fromDate.After(pkg.DayOf(handler.nowFunc())) {
		http.Error(w, "error, from date in the future", http.StatusBadRequest)
		return
	}

	if err := handler.engine.Reset(r.Context(), fromDate); err != nil {
		log.Errorf("reset workout plan: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	pkg.WriteTextResponseOK(w, "reset:"+fromDate.Format("2006-01-02"))
}
