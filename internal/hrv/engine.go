package hrv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fitly-app/fitly/internal/athlete"
	"github.com/fitly-app/fitly/internal/fitness"
	"github.com/fitly-app/fitly/internal/telemetry/metrics"
	"github.com/fitly-app/fitly/internal/telemetry/tracing"
	"github.com/fitly-app/fitly/pkg"
	log "github.com/sirupsen/logrus"
)

const resetRationale = "You manually restarted the hrv workout plan workflow today"

// the ramp rate compares the trailing week of training load to the week
// before it
const rampRateWindowDays = 7

type stepStore interface {
	Latest(ctx context.Context) (*Step, error)
	On(ctx context.Context, date time.Time) (*Step, error)
	Upsert(ctx context.Context, s Step) error
	SetCompleted(ctx context.Context, date time.Time, completed bool) error
	DeleteAfter(ctx context.Context, date time.Time) error
	Plan(ctx context.Context, from, to time.Time) ([]Step, error)
}

type fitnessStore interface {
	ReadinessOn(ctx context.Context, date time.Time) (int, error)
	DailyTSS(ctx context.Context, from, to time.Time) (map[time.Time]float64, error)
	ActivitiesOn(ctx context.Context, date time.Time) ([]fitness.Activity, error)
}

type athleteStore interface {
	Get(ctx context.Context) (*athlete.Athlete, error)
}

// Engine drives the workout step log forward: after every sync it fills
// the log up to today, one Advance per missing day.
type Engine struct {
	steps    stepStore
	fitness  fitnessStore
	athletes athleteStore
	metrics  *metrics.Manager
	nowFunc  func() time.Time
}

func NewEngine(
	steps stepStore,
	fitnessRepo fitnessStore,
	athletes athleteStore,
	metricsManager *metrics.Manager,
) *Engine {
	return &Engine{
		steps:    steps,
		fitness:  fitnessRepo,
		athletes: athletes,
		metrics:  metricsManager,
		nowFunc:  time.Now,
	}
}

// RunDaily advances the plan through today. Days already computed are left
// alone, so running it after every sync is safe.
func (e *Engine) RunDaily(ctx context.Context) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "hrvEngine.runDaily")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	a, err := e.athletes.Get(ctx)
	if err != nil {
		return fmt.Errorf("get athlete: %w", err)
	}

	today := pkg.DayOf(e.nowFunc())

	prior, err := e.steps.Latest(ctx)
	if err != nil && !errors.Is(err, ErrNoSteps) {
		return fmt.Errorf("latest workout step: %w", err)
	}

	var from time.Time
	if prior == nil {
		from = today
	} else {
		from = prior.Date.AddDate(0, 0, 1)
	}

	for date := from; !date.After(today); date = date.AddDate(0, 0, 1) {
		if prior != nil {
			if err := e.updateCompleted(ctx, a, prior); err != nil {
				log.Errorf("update workout step %s completed: %s", prior.Date.Format("2006-01-02"), err)
			}
		}

		next, err := e.advanceDay(ctx, a, date, prior)
		if err != nil {
			return err
		}

		if err := e.steps.Upsert(ctx, next); err != nil {
			return fmt.Errorf("upsert workout step: %w", err)
		}
		e.metrics.CounterHrvAdvances.Inc()
		log.Tracef("workout step %s: %s (step %d)", next.Date.Format("2006-01-02"), next.Effort, next.Step)

		prior = &next
	}

	return nil
}

func (e *Engine) advanceDay(ctx context.Context, a *athlete.Athlete, date time.Time, prior *Step) (Step, error) {
	var readiness *int
	score, err := e.fitness.ReadinessOn(ctx, date)
	switch {
	case err == nil:
		readiness = &score
	case errors.Is(err, fitness.ErrNotFound):
		// degraded mode, Advance handles it
	default:
		return Step{}, fmt.Errorf("readiness on %s: %w", date.Format("2006-01-02"), err)
	}

	rampRate, err := e.rampRate(ctx, date)
	if err != nil {
		return Step{}, err
	}

	return Advance(date, Inputs{
		Prior:     prior,
		Readiness: readiness,
		RampRate:  rampRate,
		RRMin:     a.RRMinGoal,
		RRMax:     a.RRMaxGoal,
	}), nil
}

// rampRate is the day-over-day change in training load: the average daily
// TSS of the trailing week minus the week before it, per day.
func (e *Engine) rampRate(ctx context.Context, date time.Time) (float64, error) {
	to := pkg.DayOf(date).AddDate(0, 0, -1)
	from := to.AddDate(0, 0, -(2*rampRateWindowDays - 1))

	daily, err := e.fitness.DailyTSS(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("daily tss: %w", err)
	}

	var recent, previous float64
	for day, tss := range daily {
		if day.After(to.AddDate(0, 0, -rampRateWindowDays)) {
			recent += tss
		} else {
			previous += tss
		}
	}
	return (recent - previous) / rampRateWindowDays, nil
}

// updateCompleted flags the prior day completed once a long-enough workout
// shows up for it.
func (e *Engine) updateCompleted(ctx context.Context, a *athlete.Athlete, prior *Step) error {
	if prior.Completed {
		return nil
	}

	activities, err := e.fitness.ActivitiesOn(ctx, prior.Date)
	if err != nil {
		return err
	}
	for _, activity := range activities {
		if activity.MovingTime >= a.MinNonWarmupWorkoutTime {
			prior.Completed = true
			return e.steps.SetCompleted(ctx, prior.Date, true)
		}
	}
	return nil
}

// Reset restarts the plan workflow at the given date: everything after it
// is dropped, the date itself goes back to the start of the ladder, and
// the days up to today are recomputed from that clean base.
func (e *Engine) Reset(ctx context.Context, fromDate time.Time) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "hrvEngine.reset")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	from := pkg.DayOf(fromDate)
	if err := e.steps.DeleteAfter(ctx, from); err != nil {
		return fmt.Errorf("delete workout steps: %w", err)
	}

	if err := e.steps.Upsert(ctx, Step{
		Date:      from,
		Step:      0,
		Effort:    athlete.EffortLow,
		Rationale: resetRationale,
		Completed: false,
	}); err != nil {
		return fmt.Errorf("upsert reset workout step: %w", err)
	}

	e.metrics.CounterHrvPlanResets.Inc()
	log.Printf("hrv workout plan reset from %s", from.Format("2006-01-02"))

	return e.RunDaily(ctx)
}

// PlanWindow returns the stored plan for [from, to].
func (e *Engine) PlanWindow(ctx context.Context, from, to time.Time) ([]Step, error) {
	return e.steps.Plan(ctx, from, to)
}
