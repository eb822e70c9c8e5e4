package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/fitly-app/fitly/internal/fitness"
	log "github.com/sirupsen/logrus"
)

// tokens this close to expiry get refreshed up front instead of risking a
// mid-fetch 401
const refreshMargin = 5 * time.Minute

// ConnectionsStore is the slice of ConnectionsRepo the token manager needs.
type ConnectionsStore interface {
	Get(ctx context.Context, source fitness.Source) (*Connection, error)
	Save(ctx context.Context, source fitness.Source, token Token) error
	MarkDisconnected(ctx context.Context, source fitness.Source) error
}

var _ ConnectionsStore = (*ConnectionsRepo)(nil)

// RefreshFunc trades a refresh token for a fresh token at the upstream.
type RefreshFunc func(ctx context.Context, refreshToken string) (Token, error)

// TokenManager hands out valid access tokens for one provider, refreshing
// through the upstream when the stored one is expired or about to expire.
// A failed refresh marks the provider disconnected, there is no point in
// retrying a dead refresh token every sync.
type TokenManager struct {
	source  fitness.Source
	conns   ConnectionsStore
	refresh RefreshFunc
	nowFunc func() time.Time
}

func NewTokenManager(source fitness.Source, conns ConnectionsStore, refresh RefreshFunc) *TokenManager {
	return &TokenManager{
		source:  source,
		conns:   conns,
		refresh: refresh,
		nowFunc: time.Now,
	}
}

// AccessToken returns a token expected to survive the next request.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	conn, err := m.conns.Get(ctx, m.source)
	if err != nil {
		return "", err
	}
	if conn.Token.ExpiresAt.IsZero() || conn.Token.ExpiresAt.After(m.nowFunc().Add(refreshMargin)) {
		return conn.Token.AccessToken, nil
	}
	return m.ForceRefresh(ctx)
}

// ForceRefresh refreshes regardless of stored expiry, used after an
// unexpected 401.
func (m *TokenManager) ForceRefresh(ctx context.Context) (string, error) {
	conn, err := m.conns.Get(ctx, m.source)
	if err != nil {
		return "", err
	}

	token, err := m.refresh(ctx, conn.Token.RefreshToken)
	if err != nil {
		log.Warnf("refresh %s token failed, marking disconnected: %s", m.source, err)
		if markErr := m.conns.MarkDisconnected(ctx, m.source); markErr != nil {
			log.Errorf("mark %s disconnected: %s", m.source, markErr)
		}
		return "", fmt.Errorf("%w: refresh failed: %s", ErrAuthExpired, err)
	}

	if err := m.conns.Save(ctx, m.source, token); err != nil {
		return "", fmt.Errorf("save refreshed %s token: %w", m.source, err)
	}
	return token.AccessToken, nil
}
