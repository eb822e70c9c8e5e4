package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// DoAuthorized runs an upstream request with a bearer token from the token
// manager. An unexpected 401 gets exactly one forced refresh and retry,
// after that the auth error bubbles up. Other statuses go through
// ErrFromStatus; network errors come back as ErrUpstreamUnavailable.
//
// The caller owns closing the response body.
func DoAuthorized(
	ctx context.Context,
	httpClient *http.Client,
	tokens *TokenManager,
	newRequest func(accessToken string) (*http.Request, error),
) (*http.Response, error) {
	accessToken, err := tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := doOnce(ctx, httpClient, accessToken, newRequest)
	if err == nil || !errors.Is(err, ErrAuthExpired) {
		return resp, err
	}

	// stored token looked valid but the upstream disagreed
	accessToken, err = tokens.ForceRefresh(ctx)
	if err != nil {
		return nil, err
	}
	return doOnce(ctx, httpClient, accessToken, newRequest)
}

func doOnce(
	ctx context.Context,
	httpClient *http.Client,
	accessToken string,
	newRequest func(accessToken string) (*http.Request, error),
) (*http.Response, error) {
	req, err := newRequest(accessToken)
	if err != nil {
		return nil, fmt.Errorf("new upstream request: %w", err)
	}
	req = req.WithContext(ctx)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUpstreamUnavailable, err)
	}
	if err := ErrFromStatus(resp.StatusCode); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp, nil
}
