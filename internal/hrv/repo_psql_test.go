//go:build integration_test || all_tests

package hrv

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fitly-app/fitly/internal/athlete"
	"github.com/fitly-app/fitly/internal/db"

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

func TestRepo_UpsertAndPlan(t *testing.T) {
	repo := getRepo(t)
	ctx := context.Background()

	base := time.Date(2030, 1, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Upsert(ctx, Step{
			Date:      base.AddDate(0, 0, i),
			Step:      i,
			Effort:    athlete.EffortLow,
			Rationale: "planned",
		}))
	}

	plan, err := repo.Plan(ctx, base, base.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, plan, 3)
	assert.Equal(t, 0, plan[0].Step)
	assert.Equal(t, 2, plan[2].Step)

	// upsert rewrites in place
	require.NoError(t, repo.Upsert(ctx, Step{
		Date:      base,
		Step:      3,
		Effort:    athlete.EffortHigh,
		Rationale: "rewritten",
	}))
	first, err := repo.On(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Step)
	assert.Equal(t, "rewritten", first.Rationale)
}

func TestRepo_DeleteAfter(t *testing.T) {
	repo := getRepo(t)
	ctx := context.Background()

	base := time.Date(2031, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Upsert(ctx, Step{
			Date:      base.AddDate(0, 0, i),
			Effort:    athlete.EffortLow,
			Rationale: "planned",
		}))
	}

	require.NoError(t, repo.DeleteAfter(ctx, base.AddDate(0, 0, 1)))

	plan, err := repo.Plan(ctx, base, base.AddDate(0, 0, 4))
	require.NoError(t, err)
	assert.Len(t, plan, 2)

	_, err = repo.On(ctx, base.AddDate(0, 0, 3))
	assert.ErrorIs(t, err, ErrNoSteps)
}

func TestRepo_SetCompleted(t *testing.T) {
	repo := getRepo(t)
	ctx := context.Background()

	date := time.Date(2032, 5, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Upsert(ctx, Step{
		Date:      date,
		Effort:    athlete.EffortMod,
		Rationale: "planned",
	}))

	require.NoError(t, repo.SetCompleted(ctx, date, true))

	step, err := repo.On(ctx, date)
	require.NoError(t, err)
	assert.True(t, step.Completed)
}
