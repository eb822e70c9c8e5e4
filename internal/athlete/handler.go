package athlete

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/fitly-app/fitly/pkg"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type profileRepo interface {
	Get(ctx context.Context) (*Athlete, error)
	UpdateField(ctx context.Context, field, value string) error
	UpdateBookmarks(ctx context.Context, bookmarks Bookmarks) error
}

// classCatalog knows which fitness disciplines Peloton currently has
// classes for.
type classCatalog interface {
	FitnessDisciplines(ctx context.Context) (map[string]struct{}, error)
}

type Handler struct {
	repo    profileRepo
	catalog classCatalog
}

func NewHandler(repo profileRepo, catalog classCatalog) *Handler {
	return &Handler{repo: repo, catalog: catalog}
}

func (handler *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	a, err := handler.repo.Get(r.Context())
	if err != nil {
		log.Errorf("get athlete: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	aJson, err := json.Marshal(a)
	if err != nil {
		log.Errorf("marshal athlete: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	pkg.WriteJSONBytesResponseOK(w, aJson)
}

type updateFieldRequest struct {
	Value string `json:"value"`
}

func (handler *Handler) HandleUpdateField(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	field := vars["field"]
	if field == "" {
		http.Error(w, "error, field empty", http.StatusBadRequest)
		return
	}

	var req updateFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warnf("update athlete field %s, decode request: %s", field, err)
		http.Error(w, "error, invalid request", http.StatusBadRequest)
		return
	}

	if err := handler.repo.UpdateField(r.Context(), field, req.Value); err != nil {
		switch {
		case errors.Is(err, ErrUnknownField), errors.Is(err, ErrInvalidValue):
			http.Error(w, fmt.Sprintf("error, %s", err), http.StatusBadRequest)
		case errors.Is(err, ErrNotFound):
			http.Error(w, "error, athlete not found", http.StatusNotFound)
		default:
			log.Errorf("update athlete field %s: %s", field, err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	log.Debugf("athlete field %s updated", field)
	pkg.WriteTextResponseOK(w, "updated:"+field)
}

func (handler *Handler) HandleUpdateBookmarks(w http.ResponseWriter, r *http.Request) {
	var bookmarks Bookmarks
	if err := json.NewDecoder(r.Body).Decode(&bookmarks); err != nil {
		log.Warnf("update peloton bookmarks, decode request: %s", err)
		http.Error(w, "error, invalid request", http.StatusBadRequest)
		return
	}

	// discipline keys must exist in the class catalog; when peloton is
	// unreachable the write goes through on structural validation alone
	if disciplines, err := handler.catalog.FitnessDisciplines(r.Context()); err != nil {
		log.Warnf("update peloton bookmarks, fetch class catalog: %s", err)
	} else {
		for discipline := range bookmarks {
			if _, known := disciplines[discipline]; !known {
				http.Error(w, fmt.Sprintf("error, unknown fitness discipline %q", discipline), http.StatusBadRequest)
				return
			}
		}
	}

	if err := handler.repo.UpdateBookmarks(r.Context(), bookmarks); err != nil {
		switch {
		case errors.Is(err, ErrInvalidValue):
			http.Error(w, fmt.Sprintf("error, %s", err), http.StatusBadRequest)
		case errors.Is(err, ErrNotFound):
			http.Error(w, "error, athlete not found", http.StatusNotFound)
		default:
			log.Errorf("update peloton bookmarks: %s", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}

	pkg.WriteTextResponseOK(w, "updated:peloton_bookmarks")
}
