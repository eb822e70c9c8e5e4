package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/fitly-app/fitly/internal/fitness"
	"github.com/fitly-app/fitly/pkg"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

const oauthStateTTL = 10 * time.Minute

// stateStore keeps the OAuth state nonces of in-flight authorization
// flows. In-memory is enough, the deployment is a single instance and an
// abandoned flow just restarts.
type stateStore struct {
	mutex  sync.Mutex
	states map[string]time.Time
}

func newStateStore() *stateStore {
	return &stateStore{states: make(map[string]time.Time)}
}

func (s *stateStore) add(state string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.states[state] = time.Now().Add(oauthStateTTL)
	for st, deadline := range s.states {
		if time.Now().After(deadline) {
			delete(s.states, st)
		}
	}
}

func (s *stateStore) consume(state string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	deadline, ok := s.states[state]
	delete(s.states, state)
	return ok && time.Now().Before(deadline)
}

type connectionStatuses interface {
	Statuses(ctx context.Context) ([]ConnectionStatus, error)
	Save(ctx context.Context, source fitness.Source, token Token) error
}

// Handler serves the provider connection endpoints: the status listing and
// the OAuth connect/redirect pair.
type Handler struct {
	conns          connectionStatuses
	oauthProviders map[fitness.Source]OAuthProvider
	states         *stateStore
}

func NewHandler(conns connectionStatuses, oauthProviders []OAuthProvider) *Handler {
	byName := make(map[fitness.Source]OAuthProvider, len(oauthProviders))
	for _, p := range oauthProviders {
		byName[p.Source()] = p
	}
	return &Handler{
		conns:          conns,
		oauthProviders: byName,
		states:         newStateStore(),
	}
}

func (handler *Handler) HandleConnections(w http.ResponseWriter, r *http.Request) {
	statuses, err := handler.conns.Statuses(r.Context())
	if err != nil {
		log.Errorf("list connections: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if statuses == nil {
		statuses = []ConnectionStatus{}
	}

	statusesJson, err := json.Marshal(statuses)
	if err != nil {
		log.Errorf("marshal connections: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	pkg.WriteJSONBytesResponseOK(w, statusesJson)
}

func (handler *Handler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	provider, ok := handler.oauthProviders[fitness.Source(mux.Vars(r)["provider"])]
	if !ok {
		http.Error(w, "error, unknown provider", http.StatusNotFound)
		return
	}

	state, err := pkg.GenerateRandomString(24)
	if err != nil {
		log.Errorf("generate oauth state: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	handler.states.add(state)

	http.Redirect(w, r, provider.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

func (handler *Handler) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	source := fitness.Source(mux.Vars(r)["provider"])
	provider, ok := handler.oauthProviders[source]
	if !ok {
		http.Error(w, "error, unknown provider", http.StatusNotFound)
		return
	}

	if !handler.states.consume(r.URL.Query().Get("state")) {
		http.Error(w, "error, invalid oauth state", http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "error, code missing", http.StatusBadRequest)
		return
	}

	token, err := provider.ExchangeCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, ErrUpstreamUnavailable) {
			http.Error(w, "error, provider unavailable", http.StatusBadGateway)
			return
		}
		log.Errorf("exchange %s code: %s", source, err)
		http.Error(w, "error, code exchange failed", http.StatusBadRequest)
		return
	}

	if err := handler.conns.Save(r.Context(), source, token); err != nil {
		log.Errorf("save %s connection: %s", source, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	log.Printf("provider %s connected", source)
	pkg.WriteTextResponseOK(w, "connected:"+string(source))
}
