//go:build integration_test || all_tests

package fitness

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/fitly-app/fitly/internal/db"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getRepo(t *testing.T) *Repo {
	t.Helper()

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}
	t.Logf("using postgres host: %s", host)

	pool, err := db.NewDBPool(timeoutCtx, db.NewDBPoolParams{
		DBHost: host,
		DBPort: "5432",
		DBName: "fitly",
	})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewRepo(pool)
}

func randomActivity(startDate time.Time) Activity {
	return Activity{
		Source:               SourceStrava,
		ExternalID:           gofakeit.UUID(),
		Name:                 gofakeit.Sentence(3),
		Type:                 "Ride",
		StartDate:            startDate,
		Distance:             gofakeit.Float64Range(1000, 50000),
		MovingTime:           gofakeit.Number(600, 7200),
		ElapsedTime:          gofakeit.Number(600, 7200),
		AverageWatts:         gofakeit.Float64Range(100, 300),
		WeightedAverageWatts: gofakeit.Float64Range(100, 300),
		FTP:                  250,
	}
}

func TestRepo_UpsertRows_Idempotent(t *testing.T) {
	repo := getRepo(t)
	ctx := context.Background()

	a := randomActivity(time.Now().Add(-24 * time.Hour).UTC())
	written, err := repo.UpsertRows(ctx, Rows{Activities: []Activity{a}})
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	// same natural key again, with a changed name: updated, not duplicated
	a.Name = "renamed ride"
	written, err = repo.UpsertRows(ctx, Rows{Activities: []Activity{a}})
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	activities, err := repo.ActivitiesOn(ctx, a.StartDate)
	require.NoError(t, err)

	var found int
	for _, got := range activities {
		if got.ExternalID == a.ExternalID {
			found++
			assert.Equal(t, "renamed ride", got.Name)
		}
	}
	assert.Equal(t, 1, found)
}

func TestRepo_LastSyncedAt(t *testing.T) {
	repo := getRepo(t)
	ctx := context.Background()

	startDate := time.Now().UTC().Truncate(time.Second)
	_, err := repo.UpsertRows(ctx, Rows{Activities: []Activity{randomActivity(startDate)}})
	require.NoError(t, err)

	lastSynced, err := repo.LastSyncedAt(ctx, SourceStrava)
	require.NoError(t, err)
	assert.False(t, lastSynced.Before(startDate))
}

func TestRepo_TruncateAfter(t *testing.T) {
	repo := getRepo(t)
	ctx := context.Background()

	now := time.Now().UTC()
	older := randomActivity(now.AddDate(0, 0, -10))
	newer := randomActivity(now)
	_, err := repo.UpsertRows(ctx, Rows{Activities: []Activity{older, newer}})
	require.NoError(t, err)

	require.NoError(t, repo.TruncateAfter(ctx, now.AddDate(0, 0, -5)))

	activities, err := repo.ActivitiesOn(ctx, older.StartDate)
	require.NoError(t, err)
	assert.NotEmpty(t, activities)

	activities, err = repo.ActivitiesOn(ctx, newer.StartDate)
	require.NoError(t, err)
	for _, got := range activities {
		assert.NotEqual(t, newer.ExternalID, got.ExternalID)
	}
}

func TestRepo_DailyTSS(t *testing.T) {
	repo := getRepo(t)
	ctx := context.Background()

	day := time.Now().UTC().AddDate(0, 0, -2)
	a := randomActivity(day)
	tss := 80.0
	a.TSS = &tss
	b := randomActivity(day.Add(2 * time.Hour))
	tssB := 20.0
	b.TSS = &tssB

	_, err := repo.UpsertRows(ctx, Rows{Activities: []Activity{a, b}})
	require.NoError(t, err)

	daily, err := repo.DailyTSS(ctx, day.AddDate(0, 0, -1), day)
	require.NoError(t, err)

	dayKey := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	assert.GreaterOrEqual(t, daily[dayKey], 100.0)
}

func TestRepo_ReadinessOn(t *testing.T) {
	repo := getRepo(t)
	ctx := context.Background()

	day := time.Now().UTC()
	score := gofakeit.Number(1, 100)
	_, err := repo.UpsertRows(ctx, Rows{Readiness: []ReadinessSummary{{Date: day, Score: score}}})
	require.NoError(t, err)

	got, err := repo.ReadinessOn(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, score, got)

	_, err = repo.ReadinessOn(ctx, day.AddDate(5, 0, 0))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepo_LatestFTPTestRide(t *testing.T) {
	repo := getRepo(t)
	ctx := context.Background()

	ride := randomActivity(time.Now().UTC())
	ride.Name = fmt.Sprintf("FTP Test %s", gofakeit.UUID())
	_, err := repo.UpsertRows(ctx, Rows{Activities: []Activity{ride}})
	require.NoError(t, err)

	got, err := repo.LatestFTPTestRide(ctx)
	require.NoError(t, err)
	assert.Equal(t, ride.ExternalID, got.ExternalID)
}
