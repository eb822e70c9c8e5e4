package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fitly-app/fitly/internal/fitness"
	"github.com/fitly-app/fitly/internal/telemetry/tracing"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Token is an upstream credential set. Providers without a refresh flow
// (Peloton sessions) leave RefreshToken empty.
type Token struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Connection is the stored credential state of one provider.
type Connection struct {
	Source    fitness.Source `json:"source"`
	Connected bool           `json:"connected"`
	Token     Token          `json:"token"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ConnectionsRepo persists provider credentials, one row per provider.
type ConnectionsRepo struct {
	db *pgxpool.Pool
}

func NewConnectionsRepo(db *pgxpool.Pool) *ConnectionsRepo {
	return &ConnectionsRepo{db: db}
}

func (r *ConnectionsRepo) Get(ctx context.Context, source fitness.Source) (_ *Connection, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "connectionsRepo.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	var c Connection
	err = r.db.QueryRow(ctx, `
		SELECT provider, connected, access_token, refresh_token, expires_at, updated_at
		FROM provider_connection WHERE provider = $1`, source,
	).Scan(
		&c.Source, &c.Connected,
		&c.Token.AccessToken, &c.Token.RefreshToken, &c.Token.ExpiresAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, fmt.Errorf("select connection %s: %w", source, err)
	}
	if !c.Connected {
		return nil, ErrNotConnected
	}
	return &c, nil
}

// Save stores a fresh token and marks the provider connected.
func (r *ConnectionsRepo) Save(ctx context.Context, source fitness.Source, token Token) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "connectionsRepo.save")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	_, err = r.db.Exec(ctx, `
		INSERT INTO provider_connection (
			provider, connected, access_token, refresh_token, expires_at, updated_at
		) VALUES ($1, TRUE, $2, $3, $4, NOW())
		ON CONFLICT (provider) DO UPDATE SET
			connected = TRUE, access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at, updated_at = NOW()`,
		source, token.AccessToken, token.RefreshToken, token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("save connection %s: %w", source, err)
	}
	return nil
}

// MarkDisconnected flags a provider as needing reauthorization. Synced data
// stays, only the credentials are dropped.
func (r *ConnectionsRepo) MarkDisconnected(ctx context.Context, source fitness.Source) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "connectionsRepo.markDisconnected")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	_, err = r.db.Exec(ctx, `
		UPDATE provider_connection
		SET connected = FALSE, access_token = '', updated_at = NOW()
		WHERE provider = $1`, source,
	)
	if err != nil {
		return fmt.Errorf("mark connection %s disconnected: %w", source, err)
	}
	return nil
}

// ConnectionStatus is the public view of a connection, no credentials.
type ConnectionStatus struct {
	Source    fitness.Source `json:"source"`
	Connected bool           `json:"connected"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Statuses lists all known providers and their connection state.
func (r *ConnectionsRepo) Statuses(ctx context.Context) (_ []ConnectionStatus, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "connectionsRepo.statuses")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := r.db.Query(ctx, `
		SELECT provider, connected, expires_at, updated_at
		FROM provider_connection ORDER BY provider`,
	)
	if err != nil {
		return nil, fmt.Errorf("select connections: %w", err)
	}
	defer rows.Close()

	var statuses []ConnectionStatus
	for rows.Next() {
		var s ConnectionStatus
		var expiresAt time.Time
		if err = rows.Scan(&s.Source, &s.Connected, &expiresAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		if !expiresAt.IsZero() {
			s.ExpiresAt = &expiresAt
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}
