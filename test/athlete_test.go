package test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/fitly-app/fitly/internal/athlete"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *IntegrationTestSuite) TestAthleteProfile() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t.Run("get profile", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("%s/athlete", serverEndpoint))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var a athlete.Athlete
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&a))
		assert.Equal(t, "Test Athlete", a.Name)
		assert.Equal(t, 250, a.RideFTP)
		assert.Equal(t, 280, a.RunFTP)
	})

	t.Run("update field without token", func(t *testing.T) {
		req, err := http.NewRequestWithContext(ctx, "PUT",
			fmt.Sprintf("%s/athlete/ride_ftp", serverEndpoint),
			strings.NewReader(`{"value":"260"}`),
		)
		require.NoError(t, err)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	token := doLogin(ctx, t)

	t.Run("update field", func(t *testing.T) {
		req := authorizedRequest(ctx, t, token, "PUT", "/athlete/ride_ftp",
			strings.NewReader(`{"value":"260"}`))

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		respBytes, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "updated:ride_ftp", string(respBytes))

		var rideFTP int
		require.NoError(t, s.DB.QueryRow(
			"SELECT ride_ftp FROM athlete WHERE id = 1",
		).Scan(&rideFTP))
		assert.Equal(t, 260, rideFTP)

		// restore
		req = authorizedRequest(ctx, t, token, "PUT", "/athlete/ride_ftp",
			strings.NewReader(`{"value":"250"}`))
		resp2, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		assert.NoError(t, resp2.Body.Close())
	})

	t.Run("update unknown field", func(t *testing.T) {
		req := authorizedRequest(ctx, t, token, "PUT", "/athlete/shoe_size",
			strings.NewReader(`{"value":"44"}`))

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("update peloton bookmarks", func(t *testing.T) {
		bookmarks := `{"cycling":{"HIIT":["class-a","class-b"],"Low":["class-c"]}}`
		req := authorizedRequest(ctx, t, token, "PUT", "/athlete/peloton/bookmarks",
			strings.NewReader(bookmarks))

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		getResp, err := http.Get(fmt.Sprintf("%s/athlete", serverEndpoint))
		require.NoError(t, err)
		defer getResp.Body.Close()

		var a athlete.Athlete
		require.NoError(t, json.NewDecoder(getResp.Body).Decode(&a))
		assert.Equal(t,
			[]string{"class-a", "class-b"},
			a.PelotonBookmarks.ClassTypesFor("cycling", athlete.EffortHIIT),
		)
	})
}
