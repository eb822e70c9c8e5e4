package hrv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fitly-app/fitly/internal/athlete"
	"github.com/fitly-app/fitly/internal/telemetry/tracing"
	"github.com/fitly-app/fitly/pkg"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNoSteps = errors.New("no workout steps")

// Step is one day of the adaptive workout plan: a position in the
// intensity ladder, the prescribed effort, and why.
type Step struct {
	Date      time.Time      `json:"date"`
	Step      int            `json:"step"`
	Effort    athlete.Effort `json:"effort"`
	Rationale string         `json:"rationale"`
	Completed bool           `json:"completed"`
}

// Repo persists the workout step log, one row per day.
type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Latest(ctx context.Context) (_ *Step, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "hrvRepo.latest")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	var s Step
	err = r.db.QueryRow(ctx, `
		SELECT date, step, effort, rationale, completed
		FROM hrv_workout_step ORDER BY date DESC LIMIT 1`,
	).Scan(&s.Date, &s.Step, &s.Effort, &s.Rationale, &s.Completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSteps
	}
	if err != nil {
		return nil, fmt.Errorf("select latest workout step: %w", err)
	}
	return &s, nil
}

func (r *Repo) On(ctx context.Context, date time.Time) (_ *Step, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "hrvRepo.on")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	var s Step
	err = r.db.QueryRow(ctx, `
		SELECT date, step, effort, rationale, completed
		FROM hrv_workout_step WHERE date = $1`, pkg.DayOf(date),
	).Scan(&s.Date, &s.Step, &s.Effort, &s.Rationale, &s.Completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSteps
	}
	if err != nil {
		return nil, fmt.Errorf("select workout step: %w", err)
	}
	return &s, nil
}

// Upsert writes a day's step, a single statement so a reader never sees a
// half-written day.
func (r *Repo) Upsert(ctx context.Context, s Step) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "hrvRepo.upsert")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	_, err = r.db.Exec(ctx, `
		INSERT INTO hrv_workout_step (date, step, effort, rationale, completed)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (date) DO UPDATE SET
			step = EXCLUDED.step, effort = EXCLUDED.effort,
			rationale = EXCLUDED.rationale, completed = EXCLUDED.completed`,
		pkg.DayOf(s.Date), s.Step, s.Effort, s.Rationale, s.Completed,
	)
	if err != nil {
		return fmt.Errorf("upsert workout step %s: %w", s.Date.Format("2006-01-02"), err)
	}
	return nil
}

func (r *Repo) SetCompleted(ctx context.Context, date time.Time, completed bool) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "hrvRepo.setCompleted")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	_, err = r.db.Exec(ctx, `
		UPDATE hrv_workout_step SET completed = $1 WHERE date = $2`,
		completed, pkg.DayOf(date),
	)
	if err != nil {
		return fmt.Errorf("set workout step %s completed: %w", date.Format("2006-01-02"), err)
	}
	return nil
}

// DeleteAfter drops all steps strictly after the given date.
func (r *Repo) DeleteAfter(ctx context.Context, date time.Time) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "hrvRepo.deleteAfter")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	_, err = r.db.Exec(ctx,
		`DELETE FROM hrv_workout_step WHERE date > $1`, pkg.DayOf(date),
	)
	if err != nil {
		return fmt.Errorf("delete workout steps after %s: %w", date.Format("2006-01-02"), err)
	}
	return nil
}

// Plan returns the steps in [from, to], oldest first.
func (r *Repo) Plan(ctx context.Context, from, to time.Time) (_ []Step, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "hrvRepo.plan")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := r.db.Query(ctx, `
		SELECT date, step, effort, rationale, completed
		FROM hrv_workout_step
		WHERE date >= $1 AND date <= $2
		ORDER BY date`,
		pkg.DayOf(from), pkg.DayOf(to),
	)
	if err != nil {
		return nil, fmt.Errorf("select workout plan: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var s Step
		if err = rows.Scan(&s.Date, &s.Step, &s.Effort, &s.Rationale, &s.Completed); err != nil {
			return nil, fmt.Errorf("scan workout step: %w", err)
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}
