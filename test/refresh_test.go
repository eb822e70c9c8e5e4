package test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	datasync "github.com/fitly-app/fitly/internal/sync"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *IntegrationTestSuite) TestRefresh() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t.Run("refresh requires token", func(t *testing.T) {
		req, err := http.NewRequestWithContext(ctx, "POST",
			fmt.Sprintf("%s/refresh", serverEndpoint), nil)
		require.NoError(t, err)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	token := doLogin(ctx, t)

	t.Run("refresh with no connected providers", func(t *testing.T) {
		req := authorizedRequest(ctx, t, token, "POST", "/refresh",
			strings.NewReader(`{"mode":"manual"}`))

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var summary datasync.Summary
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
		assert.NotEmpty(t, summary.RunID)
		assert.Equal(t, datasync.ModeManual, summary.Mode)
		require.Len(t, summary.Results, 4)

		// nothing is connected yet, every source reports skipped
		for _, result := range summary.Results {
			assert.True(t, result.Skipped, "source %s", result.Source)
			assert.Equal(t, datasync.ErrorKindNotConnected, result.ErrorKind, "source %s", result.Source)
		}
	})

	t.Run("invalid mode", func(t *testing.T) {
		req := authorizedRequest(ctx, t, token, "POST", "/refresh",
			strings.NewReader(`{"mode":"yolo"}`))

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
