package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fitly-app/fitly/internal/fitness"
)

// The error kinds every provider maps its failures onto. The sync
// orchestrator only ever branches on these, never on provider-specific
// errors.
var (
	// ErrAuthExpired: credentials no longer work and a refresh attempt
	// failed, reauthorization through the OAuth flow is needed.
	ErrAuthExpired = errors.New("provider authorization expired")
	// ErrRateLimited: the upstream asked us to back off.
	ErrRateLimited = errors.New("provider rate limited")
	// ErrUpstreamUnavailable: network failure or upstream 5xx.
	ErrUpstreamUnavailable = errors.New("provider unavailable")
	// ErrNotConnected: the athlete never connected this provider, or
	// disconnected it.
	ErrNotConnected = errors.New("provider not connected")
)

// Window bounds a fetch. A zero Since means fetch the whole history.
type Window struct {
	Since time.Time
	Until time.Time
}

// Provider pulls raw data from one upstream service and normalizes it into
// canonical rows. Implementations return the rows fetched so far alongside
// the error when a fetch dies partway, so progress is not thrown away.
type Provider interface {
	Source() fitness.Source
	FetchWindow(ctx context.Context, window Window) (fitness.Rows, error)
}

// OAuthProvider is a Provider connected through the standard
// authorization-code flow.
type OAuthProvider interface {
	Provider
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (Token, error)
}

// ErrFromStatus maps an upstream HTTP status onto the error taxonomy.
// Returns nil for 2xx.
func ErrFromStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuthExpired, status)
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 500:
		return fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, status)
	default:
		return fmt.Errorf("unexpected upstream status %d", status)
	}
}
