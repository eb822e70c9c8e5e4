package test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fitly-app/fitly/internal/hrv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *IntegrationTestSuite) TestHrvWorkflow() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// seed a readiness history so the plan engine has something to
	// advance on
	today := time.Now().UTC().Truncate(24 * time.Hour)
	for i := 3; i >= 1; i-- {
		_, err := s.DB.Exec(`
			INSERT INTO readiness_summary (date, score) VALUES ($1, $2)
			ON CONFLICT (date) DO UPDATE SET score = EXCLUDED.score`,
			today.AddDate(0, 0, -i), 80,
		)
		require.NoError(t, err)
	}

	token := doLogin(ctx, t)

	t.Run("reset requires token", func(t *testing.T) {
		req, err := http.NewRequestWithContext(ctx, "POST",
			fmt.Sprintf("%s/hrv/reset", serverEndpoint),
			strings.NewReader(`{}`),
		)
		require.NoError(t, err)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	resetFrom := today.AddDate(0, 0, -3)

	t.Run("reset", func(t *testing.T) {
		req := authorizedRequest(ctx, t, token, "POST", "/hrv/reset",
			strings.NewReader(fmt.Sprintf(`{"from_date":"%s"}`, resetFrom.Format("2006-01-02"))))

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		respBytes, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "reset:"+resetFrom.Format("2006-01-02"), string(respBytes))
	})

	t.Run("plan filled through today", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("%s/hrv/plan", serverEndpoint))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var steps []hrv.Step
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&steps))
		// the reset day plus every day after it, through today
		require.GreaterOrEqual(t, len(steps), 4)

		first := steps[0]
		assert.Equal(t, 0, first.Step)
		assert.NotEmpty(t, first.Rationale)

		for _, step := range steps {
			assert.NotEmpty(t, step.Effort, "day %s", step.Date.Format("2006-01-02"))
			assert.NotEmpty(t, step.Rationale, "day %s", step.Date.Format("2006-01-02"))
		}
	})

	t.Run("reset in the future rejected", func(t *testing.T) {
		tomorrow := today.AddDate(0, 0, 1)
		req := authorizedRequest(ctx, t, token, "POST", "/hrv/reset",
			strings.NewReader(fmt.Sprintf(`{"from_date":"%s"}`, tomorrow.Format("2006-01-02"))))

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
