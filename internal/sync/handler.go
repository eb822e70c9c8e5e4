package sync

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/fitly-app/fitly/pkg"
	log "github.com/sirupsen/logrus"
)

type Handler struct {
	orchestrator refresher
}

func NewHandler(orchestrator refresher) *Handler {
	return &Handler{orchestrator: orchestrator}
}

type refreshRequest struct {
	Mode          Mode   `json:"mode"`
	TruncateAfter string `json:"truncate_after"` // 2006-01-02, truncate-after mode only
}

// HandleRefresh runs a refresh synchronously and returns its summary. The
// runs are minutes at worst, an admin watching the response is fine.
func (handler *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	req := refreshRequest{Mode: ModeManual}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "error, invalid request", http.StatusBadRequest)
		return
	}
	if req.Mode == "" {
		req.Mode = ModeManual
	}

	var truncateAfter *time.Time
	if req.TruncateAfter != "" {
		parsed, err := time.Parse("2006-01-02", req.TruncateAfter)
		if err != nil {
			http.Error(w, "error, invalid truncate_after date", http.StatusBadRequest)
			return
		}
		truncateAfter = &parsed
	}

	summary, err := handler.orchestrator.Refresh(r.Context(), req.Mode, truncateAfter)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidMode):
			http.Error(w, "error, "+err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrRefreshInProgress):
			http.Error(w, "error, refresh already in progress", http.StatusConflict)
		default:
			log.Errorf("refresh: %s", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	summaryJson, err := json.Marshal(summary)
	if err != nil {
		log.Errorf("marshal refresh summary: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	pkg.WriteJSONBytesResponseOK(w, summaryJson)
}
