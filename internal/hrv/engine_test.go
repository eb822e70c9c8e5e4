package hrv

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/fitly-app/fitly/internal/athlete"
	"github.com/fitly-app/fitly/internal/fitness"
	"github.com/fitly-app/fitly/internal/telemetry/metrics"
	"github.com/fitly-app/fitly/pkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type inMemorySteps struct {
	steps map[time.Time]Step
}

func newInMemorySteps() *inMemorySteps {
	return &inMemorySteps{steps: make(map[time.Time]Step)}
}

func (s *inMemorySteps) sortedDates() []time.Time {
	dates := make([]time.Time, 0, len(s.steps))
	for date := range s.steps {
		dates = append(dates, date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

func (s *inMemorySteps) Latest(_ context.Context) (*Step, error) {
	dates := s.sortedDates()
	if len(dates) == 0 {
		return nil, ErrNoSteps
	}
	latest := s.steps[dates[len(dates)-1]]
	return &latest, nil
}

func (s *inMemorySteps) On(_ context.Context, date time.Time) (*Step, error) {
	step, ok := s.steps[pkg.DayOf(date)]
	if !ok {
		return nil, ErrNoSteps
	}
	return &step, nil
}

func (s *inMemorySteps) Upsert(_ context.Context, step Step) error {
	s.steps[pkg.DayOf(step.Date)] = step
	return nil
}

func (s *inMemorySteps) SetCompleted(_ context.Context, date time.Time, completed bool) error {
	if step, ok := s.steps[pkg.DayOf(date)]; ok {
		step.Completed = completed
		s.steps[pkg.DayOf(date)] = step
	}
	return nil
}

func (s *inMemorySteps) DeleteAfter(_ context.Context, date time.Time) error {
	cutoff := pkg.DayOf(date)
	for d := range s.steps {
		if d.After(cutoff) {
			delete(s.steps, d)
		}
	}
	return nil
}

func (s *inMemorySteps) Plan(_ context.Context, from, to time.Time) ([]Step, error) {
	var plan []Step
	for _, date := range s.sortedDates() {
		if !date.Before(pkg.DayOf(from)) && !date.After(pkg.DayOf(to)) {
			plan = append(plan, s.steps[date])
		}
	}
	return plan, nil
}

type fakeFitnessStore struct {
	readiness  map[time.Time]int
	dailyTSS   map[time.Time]float64
	activities map[time.Time][]fitness.Activity
}

func (f *fakeFitnessStore) ReadinessOn(_ context.Context, date time.Time) (int, error) {
	score, ok := f.readiness[pkg.DayOf(date)]
	if !ok {
		return 0, fitness.ErrNotFound
	}
	return score, nil
}

func (f *fakeFitnessStore) DailyTSS(_ context.Context, from, to time.Time) (map[time.Time]float64, error) {
	daily := make(map[time.Time]float64)
	for day, tss := range f.dailyTSS {
		if !day.Before(pkg.DayOf(from)) && !day.After(pkg.DayOf(to)) {
			daily[day] = tss
		}
	}
	return daily, nil
}

func (f *fakeFitnessStore) ActivitiesOn(_ context.Context, date time.Time) ([]fitness.Activity, error) {
	return f.activities[pkg.DayOf(date)], nil
}

type fakeAthleteStore struct {
	athlete *athlete.Athlete
}

func (f *fakeAthleteStore) Get(_ context.Context) (*athlete.Athlete, error) {
	return f.athlete, nil
}

func testAthlete() *athlete.Athlete {
	return &athlete.Athlete{
		ID:                      1,
		RRMinGoal:               -5,
		RRMaxGoal:               8,
		MinNonWarmupWorkoutTime: 900,
	}
}

func day(yyyy int, mm time.Month, dd int) time.Time {
	return time.Date(yyyy, mm, dd, 0, 0, 0, 0, time.UTC)
}

func testEngine(steps stepStore, fitnessStore fitnessStore, now time.Time) *Engine {
	e := NewEngine(steps, fitnessStore, &fakeAthleteStore{athlete: testAthlete()}, metrics.NewTestManager())
	e.nowFunc = func() time.Time { return now }
	return e
}

func TestEngine_RunDaily_FirstRun(t *testing.T) {
	steps := newInMemorySteps()
	store := &fakeFitnessStore{
		readiness: map[time.Time]int{day(2026, 8, 30): 80},
	}
	engine := testEngine(steps, store, day(2026, 8, 30))

	require.NoError(t, engine.RunDaily(context.Background()))

	today, err := steps.On(context.Background(), day(2026, 8, 30))
	require.NoError(t, err)
	assert.Equal(t, athlete.EffortHIIT, today.Effort)
	assert.NotEmpty(t, today.Rationale)
}

func TestEngine_RunDaily_FillsMissedDays(t *testing.T) {
	ctx := context.Background()
	steps := newInMemorySteps()
	require.NoError(t, steps.Upsert(ctx, Step{
		Date: day(2026, 8, 27), Step: 1, Effort: athlete.EffortMod, Rationale: "r",
	}))

	store := &fakeFitnessStore{
		readiness: map[time.Time]int{
			day(2026, 8, 28): 60,
			day(2026, 8, 29): 70,
			day(2026, 8, 30): 90,
		},
	}
	engine := testEngine(steps, store, day(2026, 8, 30))

	require.NoError(t, engine.RunDaily(ctx))

	assert.Len(t, steps.steps, 4)
	s28, _ := steps.On(ctx, day(2026, 8, 28))
	assert.Equal(t, athlete.EffortLow, s28.Effort)
	s29, _ := steps.On(ctx, day(2026, 8, 29))
	assert.Equal(t, athlete.EffortMod, s29.Effort)
	s30, _ := steps.On(ctx, day(2026, 8, 30))
	assert.Equal(t, athlete.EffortHigh, s30.Effort)
}

func TestEngine_RunDaily_Idempotent(t *testing.T) {
	ctx := context.Background()
	steps := newInMemorySteps()
	store := &fakeFitnessStore{
		readiness: map[time.Time]int{day(2026, 8, 30): 80},
	}
	engine := testEngine(steps, store, day(2026, 8, 30))

	require.NoError(t, engine.RunDaily(ctx))
	first, err := steps.On(ctx, day(2026, 8, 30))
	require.NoError(t, err)

	// changed readiness must not rewrite an already-computed day
	store.readiness[day(2026, 8, 30)] = 20
	require.NoError(t, engine.RunDaily(ctx))
	second, err := steps.On(ctx, day(2026, 8, 30))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEngine_RunDaily_MarksPriorDayCompleted(t *testing.T) {
	ctx := context.Background()
	steps := newInMemorySteps()
	require.NoError(t, steps.Upsert(ctx, Step{
		Date: day(2026, 8, 29), Step: 0, Effort: athlete.EffortLow, Rationale: "r",
	}))

	store := &fakeFitnessStore{
		readiness: map[time.Time]int{day(2026, 8, 30): 70},
		activities: map[time.Time][]fitness.Activity{
			day(2026, 8, 29): {{MovingTime: 2400}},
		},
	}
	engine := testEngine(steps, store, day(2026, 8, 30))

	require.NoError(t, engine.RunDaily(ctx))

	prior, err := steps.On(ctx, day(2026, 8, 29))
	require.NoError(t, err)
	assert.True(t, prior.Completed)
}

func TestEngine_RunDaily_ShortWorkoutDoesNotComplete(t *testing.T) {
	ctx := context.Background()
	steps := newInMemorySteps()
	require.NoError(t, steps.Upsert(ctx, Step{
		Date: day(2026, 8, 29), Step: 0, Effort: athlete.EffortLow, Rationale: "r",
	}))

	store := &fakeFitnessStore{
		readiness: map[time.Time]int{day(2026, 8, 30): 70},
		activities: map[time.Time][]fitness.Activity{
			// below the min non-warmup workout time
			day(2026, 8, 29): {{MovingTime: 600}},
		},
	}
	engine := testEngine(steps, store, day(2026, 8, 30))

	require.NoError(t, engine.RunDaily(ctx))

	prior, err := steps.On(ctx, day(2026, 8, 29))
	require.NoError(t, err)
	assert.False(t, prior.Completed)
}

func TestEngine_Reset(t *testing.T) {
	ctx := context.Background()
	steps := newInMemorySteps()
	for d := 25; d <= 30; d++ {
		require.NoError(t, steps.Upsert(ctx, Step{
			Date: day(2026, 8, d), Step: 3, Effort: athlete.EffortHigh, Rationale: "r", Completed: true,
		}))
	}

	store := &fakeFitnessStore{
		readiness: map[time.Time]int{
			day(2026, 8, 29): 80,
			day(2026, 8, 30): 80,
		},
	}
	engine := testEngine(steps, store, day(2026, 8, 30))

	require.NoError(t, engine.Reset(ctx, day(2026, 8, 28)))

	// the reset day goes back to the start of the ladder
	resetStep, err := steps.On(ctx, day(2026, 8, 28))
	require.NoError(t, err)
	assert.Equal(t, 0, resetStep.Step)
	assert.Equal(t, athlete.EffortLow, resetStep.Effort)
	assert.Equal(t, resetRationale, resetStep.Rationale)
	assert.False(t, resetStep.Completed)

	// the days after it are recomputed from the clean base
	s29, err := steps.On(ctx, day(2026, 8, 29))
	require.NoError(t, err)
	assert.Equal(t, athlete.EffortHIIT, s29.Effort)
	s30, err := steps.On(ctx, day(2026, 8, 30))
	require.NoError(t, err)
	assert.Equal(t, athlete.EffortHIIT, s30.Effort)

	// days before the reset date survive untouched
	s27, err := steps.On(ctx, day(2026, 8, 27))
	require.NoError(t, err)
	assert.Equal(t, athlete.EffortHigh, s27.Effort)
}

func TestEngine_Reset_Today(t *testing.T) {
	ctx := context.Background()
	steps := newInMemorySteps()
	require.NoError(t, steps.Upsert(ctx, Step{
		Date: day(2026, 8, 30), Step: 3, Effort: athlete.EffortHigh, Rationale: "r", Completed: true,
	}))

	store := &fakeFitnessStore{
		readiness: map[time.Time]int{day(2026, 8, 30): 95},
	}
	engine := testEngine(steps, store, day(2026, 8, 30))

	require.NoError(t, engine.Reset(ctx, day(2026, 8, 30)))

	// today stays the reset row, readiness does not reapply
	today, err := steps.On(ctx, day(2026, 8, 30))
	require.NoError(t, err)
	assert.Equal(t, 0, today.Step)
	assert.Equal(t, athlete.EffortLow, today.Effort)
	assert.Equal(t, resetRationale, today.Rationale)
	assert.False(t, today.Completed)
}

func TestEngine_RampRate(t *testing.T) {
	steps := newInMemorySteps()
	store := &fakeFitnessStore{
		dailyTSS: map[time.Time]float64{},
	}
	// previous week 50 TSS per day, trailing week 100 per day:
	// ramp rate (700-350)/7 = 50
	for d := 16; d <= 22; d++ {
		store.dailyTSS[day(2026, 8, d)] = 50
	}
	for d := 23; d <= 29; d++ {
		store.dailyTSS[day(2026, 8, d)] = 100
	}
	engine := testEngine(steps, store, day(2026, 8, 30))

	rampRate, err := engine.rampRate(context.Background(), day(2026, 8, 30))
	require.NoError(t, err)
	assert.InDelta(t, 50.0, rampRate, 0.001)
}
