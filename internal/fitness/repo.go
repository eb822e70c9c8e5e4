package fitness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fitly-app/fitly/internal/telemetry/tracing"
	"github.com/fitly-app/fitly/pkg"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{db: db}
}

// UpsertRows writes one provider's normalized rows in a single transaction.
// Rows already present (by natural key) are updated in place, so re-syncing
// an overlapping window never duplicates data.
func (r *Repo) UpsertRows(ctx context.Context, rows Rows) (written int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "fitnessRepo.upsertRows")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, a := range rows.Activities {
		if err = upsertActivity(ctx, tx, a); err != nil {
			return 0, err
		}
		written++
	}
	for _, s := range rows.Sleeps {
		if err = upsertSleep(ctx, tx, s); err != nil {
			return 0, err
		}
		written++
	}
	for _, rd := range rows.Readiness {
		if err = upsertReadiness(ctx, tx, rd); err != nil {
			return 0, err
		}
		written++
	}
	for _, ad := range rows.ActivityDailies {
		if err = upsertActivityDaily(ctx, tx, ad); err != nil {
			return 0, err
		}
		written++
	}
	for _, w := range rows.Weights {
		if err = upsertWeight(ctx, tx, w); err != nil {
			return 0, err
		}
		written++
	}
	for _, p := range rows.PelotonWorkouts {
		if err = upsertPelotonWorkout(ctx, tx, p); err != nil {
			return 0, err
		}
		written++
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return written, nil
}

func upsertActivity(ctx context.Context, tx pgx.Tx, a Activity) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO activity (
			source, external_id, name, type, start_date, distance,
			moving_time, elapsed_time, average_watts, weighted_average_watts,
			max_watts, average_heartrate, max_heartrate, calories, ftp, tss
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (source, external_id) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type,
			start_date = EXCLUDED.start_date, distance = EXCLUDED.distance,
			moving_time = EXCLUDED.moving_time, elapsed_time = EXCLUDED.elapsed_time,
			average_watts = EXCLUDED.average_watts,
			weighted_average_watts = EXCLUDED.weighted_average_watts,
			max_watts = EXCLUDED.max_watts,
			average_heartrate = EXCLUDED.average_heartrate,
			max_heartrate = EXCLUDED.max_heartrate,
			calories = EXCLUDED.calories, ftp = EXCLUDED.ftp, tss = EXCLUDED.tss`,
		a.Source, a.ExternalID, a.Name, a.Type, a.StartDate, a.Distance,
		a.MovingTime, a.ElapsedTime, a.AverageWatts, a.WeightedAverageWatts,
		a.MaxWatts, a.AverageHeartrate, a.MaxHeartrate, a.Calories, a.FTP, a.TSS,
	)
	if err != nil {
		return fmt.Errorf("upsert activity %s/%s: %w", a.Source, a.ExternalID, err)
	}
	return nil
}

func upsertSleep(ctx context.Context, tx pgx.Tx, s SleepSummary) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO sleep_summary (
			date, score, total_sleep_seconds, time_in_bed_seconds,
			hr_lowest, hr_average, rmssd
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (date) DO UPDATE SET
			score = EXCLUDED.score,
			total_sleep_seconds = EXCLUDED.total_sleep_seconds,
			time_in_bed_seconds = EXCLUDED.time_in_bed_seconds,
			hr_lowest = EXCLUDED.hr_lowest, hr_average = EXCLUDED.hr_average,
			rmssd = EXCLUDED.rmssd`,
		pkg.DayOf(s.Date), s.Score, s.TotalSleepSeconds, s.TimeInBedSeconds,
		s.HRLowest, s.HRAverage, s.RMSSD,
	)
	if err != nil {
		return fmt.Errorf("upsert sleep summary %s: %w", s.Date.Format("2006-01-02"), err)
	}
	return nil
}

func upsertReadiness(ctx context.Context, tx pgx.Tx, rd ReadinessSummary) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO readiness_summary (date, score) VALUES ($1,$2)
		ON CONFLICT (date) DO UPDATE SET score = EXCLUDED.score`,
		pkg.DayOf(rd.Date), rd.Score,
	)
	if err != nil {
		return fmt.Errorf("upsert readiness summary %s: %w", rd.Date.Format("2006-01-02"), err)
	}
	return nil
}

func upsertActivityDaily(ctx context.Context, tx pgx.Tx, ad ActivityDaily) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO activity_daily (
			date, score, calories_total, calories_out, daily_movement
		) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (date) DO UPDATE SET
			score = EXCLUDED.score, calories_total = EXCLUDED.calories_total,
			calories_out = EXCLUDED.calories_out,
			daily_movement = EXCLUDED.daily_movement`,
		pkg.DayOf(ad.Date), ad.Score, ad.CaloriesTotal, ad.CaloriesOut, ad.DailyMovement,
	)
	if err != nil {
		return fmt.Errorf("upsert activity daily %s: %w", ad.Date.Format("2006-01-02"), err)
	}
	return nil
}

func upsertWeight(ctx context.Context, tx pgx.Tx, w WeightMeasurement) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO weight_measurement (measured_at, weight_lbs, fat_ratio)
		VALUES ($1,$2,$3)
		ON CONFLICT (measured_at) DO UPDATE SET
			weight_lbs = EXCLUDED.weight_lbs, fat_ratio = EXCLUDED.fat_ratio`,
		w.MeasuredAt, w.WeightLbs, w.FatRatio,
	)
	if err != nil {
		return fmt.Errorf("upsert weight measurement %s: %w", w.MeasuredAt, err)
	}
	return nil
}

func upsertPelotonWorkout(ctx context.Context, tx pgx.Tx, p PelotonWorkout) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO peloton_workout (
			workout_id, start_date, fitness_discipline, class_title,
			class_type_ids, instructor, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (workout_id) DO UPDATE SET
			start_date = EXCLUDED.start_date,
			fitness_discipline = EXCLUDED.fitness_discipline,
			class_title = EXCLUDED.class_title,
			class_type_ids = EXCLUDED.class_type_ids,
			instructor = EXCLUDED.instructor, status = EXCLUDED.status`,
		p.WorkoutID, p.StartDate, p.FitnessDiscipline, p.ClassTitle,
		p.ClassTypeIDs, p.Instructor, p.Status,
	)
	if err != nil {
		return fmt.Errorf("upsert peloton workout %s: %w", p.WorkoutID, err)
	}
	return nil
}

// sourceTables maps each provider to the tables it owns. Providers write
// disjoint tables except for activity, which carries the source in its key.
var sourceTables = map[Source][]struct {
	table    string
	dateCol  string
	bySource bool
}{
	SourceOura: {
		{"sleep_summary", "date", false},
		{"readiness_summary", "date", false},
		{"activity_daily", "date", false},
	},
	SourceStrava: {
		{"activity", "start_date", true},
	},
	SourceWithings: {
		{"weight_measurement", "measured_at", false},
	},
	SourcePeloton: {
		{"peloton_workout", "start_date", false},
	},
}

// TruncateAll drops all synced data, one transaction over all tables.
// The athlete profile and the workout step log are left alone.
func (r *Repo) TruncateAll(ctx context.Context) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "fitnessRepo.truncateAll")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, table := range []string{
		"activity", "sleep_summary", "readiness_summary",
		"activity_daily", "weight_measurement", "peloton_workout",
	} {
		if _, err = tx.Exec(ctx, "TRUNCATE TABLE "+table); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// TruncateAfter drops all synced rows strictly after the given date so the
// next sync refetches them.
func (r *Repo) TruncateAfter(ctx context.Context, date time.Time) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "fitnessRepo.truncateAfter")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	cutoff := pkg.DayOf(date)
	for _, sources := range sourceTables {
		for _, t := range sources {
			query := fmt.Sprintf("DELETE FROM %s WHERE %s > $1", t.table, t.dateCol)
			if _, err = tx.Exec(ctx, query, cutoff); err != nil {
				return fmt.Errorf("truncate %s after %s: %w", t.table, cutoff.Format("2006-01-02"), err)
			}
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// LastSyncedAt returns the newest row timestamp for a source, or the zero
// time when the source has no data yet (first sync then fetches the whole
// history).
func (r *Repo) LastSyncedAt(ctx context.Context, source Source) (_ time.Time, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "fitnessRepo.lastSyncedAt")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tables, ok := sourceTables[source]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown source %s", source)
	}

	var newest time.Time
	for _, t := range tables {
		query := fmt.Sprintf("SELECT MAX(%s) FROM %s", t.dateCol, t.table)
		args := []any{}
		if t.bySource {
			query += " WHERE source = $1"
			args = append(args, source)
		}
		var ts *time.Time
		if err = r.db.QueryRow(ctx, query, args...).Scan(&ts); err != nil {
			return time.Time{}, fmt.Errorf("max %s of %s: %w", t.dateCol, t.table, err)
		}
		if ts != nil && ts.After(newest) {
			newest = *ts
		}
	}
	return newest, nil
}

// DailyTSS sums activity TSS per day over [from, to].
func (r *Repo) DailyTSS(ctx context.Context, from, to time.Time) (_ map[time.Time]float64, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "fitnessRepo.dailyTSS")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := r.db.Query(ctx, `
		SELECT date_trunc('day', start_date), COALESCE(SUM(tss), 0)
		FROM activity
		WHERE start_date >= $1 AND start_date < $2 + INTERVAL '1 day'
		GROUP BY 1`,
		pkg.DayOf(from), pkg.DayOf(to),
	)
	if err != nil {
		return nil, fmt.Errorf("query daily tss: %w", err)
	}
	defer rows.Close()

	daily := make(map[time.Time]float64)
	for rows.Next() {
		var day time.Time
		var tss float64
		if err = rows.Scan(&day, &tss); err != nil {
			return nil, fmt.Errorf("scan daily tss: %w", err)
		}
		daily[pkg.DayOf(day)] = tss
	}
	return daily, rows.Err()
}

// ReadinessOn returns the readiness score for a day, or ErrNotFound.
func (r *Repo) ReadinessOn(ctx context.Context, date time.Time) (_ int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "fitnessRepo.readinessOn")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	var score int
	err = r.db.QueryRow(ctx,
		`SELECT score FROM readiness_summary WHERE date = $1`, pkg.DayOf(date),
	).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("select readiness: %w", err)
	}
	return score, nil
}

// ActivitiesOn returns the activities recorded on a day.
func (r *Repo) ActivitiesOn(ctx context.Context, date time.Time) (_ []Activity, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "fitnessRepo.activitiesOn")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	day := pkg.DayOf(date)
	rows, err := r.db.Query(ctx, `
		SELECT source, external_id, name, type, start_date, distance,
			moving_time, elapsed_time, average_watts, weighted_average_watts,
			max_watts, average_heartrate, max_heartrate, calories, ftp, tss
		FROM activity
		WHERE start_date >= $1 AND start_date < $1 + INTERVAL '1 day'
		ORDER BY start_date`,
		day,
	)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	var activities []Activity
	for rows.Next() {
		var a Activity
		if err = rows.Scan(
			&a.Source, &a.ExternalID, &a.Name, &a.Type, &a.StartDate, &a.Distance,
			&a.MovingTime, &a.ElapsedTime, &a.AverageWatts, &a.WeightedAverageWatts,
			&a.MaxWatts, &a.AverageHeartrate, &a.MaxHeartrate, &a.Calories, &a.FTP, &a.TSS,
		); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// LatestFTPTestRide returns the newest ride whose name marks it as an FTP
// test, or ErrNotFound when the athlete never rode one. The LIKE pattern
// is the SQL side of Activity.IsFTPTest.
func (r *Repo) LatestFTPTestRide(ctx context.Context) (_ *Activity, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "fitnessRepo.latestFTPTestRide")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	var a Activity
	err = r.db.QueryRow(ctx, `
		SELECT source, external_id, name, type, start_date, distance,
			moving_time, elapsed_time, average_watts, weighted_average_watts,
			max_watts, average_heartrate, max_heartrate, calories, ftp, tss
		FROM activity
		WHERE LOWER(name) LIKE '%ftp test%' AND type = 'Ride'
		ORDER BY start_date DESC
		LIMIT 1`,
	).Scan(
		&a.Source, &a.ExternalID, &a.Name, &a.Type, &a.StartDate, &a.Distance,
		&a.MovingTime, &a.ElapsedTime, &a.AverageWatts, &a.WeightedAverageWatts,
		&a.MaxWatts, &a.AverageHeartrate, &a.MaxHeartrate, &a.Calories, &a.FTP, &a.TSS,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select latest ftp test ride: %w", err)
	}
	return &a, nil
}
