package peloton

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fitly-app/fitly/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func pelotonUpstream(t *testing.T) *httptest.Server {
	var loginCount int
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			loginCount++
			var creds map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
			require.Equal(t, "rider", creds["username_or_email"])
			require.Equal(t, "pedal-pass", creds["password"])
			_, _ = w.Write([]byte(`{"session_id":"session-1","user_id":"user-1"}`))
		case "/api/user/user-1/workouts":
			cookie, err := r.Cookie(sessionCookie)
			require.NoError(t, err)
			require.Equal(t, "session-1", cookie.Value)
			_, _ = w.Write([]byte(`{"data":[{
				"id":"w1","created_at":1785654000,"status":"COMPLETE",
				"fitness_discipline":"cycling",
				"ride":{"title":"45 min Power Zone","class_type_ids":["pz"],
					"instructor":{"name":"Matt Wilpers"}}
			}],"show_next":false,"page":0,"page_count":1}`))
		case "/api/ride/metadata_mappings":
			_, _ = w.Write([]byte(`{"class_types":[
				{"id":"pz","name":"Power Zone","fitness_discipline":"cycling"}]}`))
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
}

func TestClient_FetchWindow(t *testing.T) {
	upstream := pelotonUpstream(t)
	defer upstream.Close()

	client := NewClient(Config{
		APIURL:   upstream.URL,
		Username: "rider",
		Password: "pedal-pass",
	}, upstream.Client())

	rows, err := client.FetchWindow(context.Background(), providers.Window{
		Since: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Len(t, rows.PelotonWorkouts, 1)
	workout := rows.PelotonWorkouts[0]
	assert.Equal(t, "w1", workout.WorkoutID)
	assert.Equal(t, "cycling", workout.FitnessDiscipline)
	assert.Equal(t, "45 min Power Zone", workout.ClassTitle)
	assert.Equal(t, []string{"pz"}, workout.ClassTypeIDs)
	assert.Equal(t, "Matt Wilpers", workout.Instructor)
	assert.Equal(t, time.Unix(1785654000, 0).UTC(), workout.StartDate)
}

func TestClient_FetchWindow_NoCredentials(t *testing.T) {
	client := NewClient(Config{APIURL: "http://localhost:1"}, http.DefaultClient)
	_, err := client.FetchWindow(context.Background(), providers.Window{})
	assert.ErrorIs(t, err, providers.ErrNotConnected)
}

func TestClient_FetchWindow_WindowCutoff(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			_, _ = w.Write([]byte(`{"session_id":"session-1","user_id":"user-1"}`))
		case "/api/user/user-1/workouts":
			// newest inside the window, oldest before it
			_, _ = w.Write([]byte(`{"data":[
				{"id":"new","created_at":1785654000,"fitness_discipline":"cycling","ride":{}},
				{"id":"old","created_at":1600000000,"fitness_discipline":"cycling","ride":{}}
			],"show_next":true,"page":0,"page_count":5}`))
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer upstream.Close()

	client := NewClient(Config{
		APIURL:   upstream.URL,
		Username: "rider",
		Password: "pedal-pass",
	}, upstream.Client())

	rows, err := client.FetchWindow(context.Background(), providers.Window{
		Since: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	// pagination stops at the window start instead of walking all history
	require.Len(t, rows.PelotonWorkouts, 1)
	assert.Equal(t, "new", rows.PelotonWorkouts[0].WorkoutID)
}

func TestClient_ClassTypes_Cached(t *testing.T) {
	upstream := pelotonUpstream(t)
	defer upstream.Close()

	var catalogRequests int
	countingUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/ride/metadata_mappings" {
			catalogRequests++
		}
		upstream.Config.Handler.ServeHTTP(w, r)
	}))
	defer countingUpstream.Close()

	client := NewClient(Config{
		APIURL:   countingUpstream.URL,
		Username: "rider",
		Password: "pedal-pass",
	}, countingUpstream.Client())

	for i := 0; i < 3; i++ {
		classTypes, err := client.ClassTypes(context.Background())
		require.NoError(t, err)
		require.Len(t, classTypes, 1)
		assert.Equal(t, "Power Zone", classTypes[0].Name)
	}
	assert.Equal(t, 1, catalogRequests)
}

func TestClient_FitnessDisciplines(t *testing.T) {
	upstream := pelotonUpstream(t)
	defer upstream.Close()

	client := NewClient(Config{
		APIURL:   upstream.URL,
		Username: "rider",
		Password: "pedal-pass",
	}, upstream.Client())

	disciplines, err := client.FitnessDisciplines(context.Background())
	require.NoError(t, err)
	assert.Contains(t, disciplines, "cycling")
}

func TestClient_FitnessDisciplines_NoCredentials(t *testing.T) {
	client := NewClient(Config{APIURL: "http://localhost:0"}, http.DefaultClient)

	_, err := client.FitnessDisciplines(context.Background())
	assert.ErrorIs(t, err, providers.ErrNotConnected)
}
