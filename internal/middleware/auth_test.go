package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fitly-app/fitly/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_AllowedPaths(t *testing.T) {
	checker := auth.NewLoginTestChecker()
	authMiddleware := NewAuthMiddlewareHandler(checker)
	handler := authMiddleware.AuthCheck()(okHandler())

	for _, path := range []string{
		"/", "/a/login", "/connections", "/athlete", "/hrv/plan",
		"/oauth/oura/redirect", "/oauth/strava/connect",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code, "path %s should be allowed", path)
	}
}

func TestAuthMiddleware_ProtectedPaths(t *testing.T) {
	checker := auth.NewLoginTestChecker()
	checker.LoggedSessions["valid-token"] = true
	authMiddleware := NewAuthMiddlewareHandler(checker)
	handler := authMiddleware.AuthCheck()(okHandler())

	// no token
	req := httptest.NewRequest(http.MethodPost, "/refresh", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	// invalid token
	req = httptest.NewRequest(http.MethodPost, "/refresh", nil)
	req.Header.Set(AuthTokenHeader, "bogus")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	// valid token
	req = httptest.NewRequest(http.MethodPost, "/refresh", nil)
	req.Header.Set(AuthTokenHeader, "valid-token")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestAuthMiddleware_Options(t *testing.T) {
	authMiddleware := NewAuthMiddlewareHandler(auth.NewLoginTestChecker())
	handler := authMiddleware.AuthCheck()(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/refresh", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Allow"))
}
