package athlete

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fitly-app/fitly/internal/telemetry/tracing"
	"github.com/jackc/pgx/v5/pgxpool"
)

// the deployment is single-athlete, everything lives on this row
const athleteID = 1

var (
	ErrUnknownField = errors.New("unknown athlete field")
	ErrInvalidValue = errors.New("invalid athlete field value")
	ErrNotFound     = errors.New("athlete not found")
)

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{db: db}
}

const athleteColumns = `
	id, name, birthday, sex, weight_lbs, resting_hr, ride_ftp, run_ftp,
	cycle_power_zone_threshold_1, cycle_power_zone_threshold_2,
	cycle_power_zone_threshold_3, cycle_power_zone_threshold_4,
	cycle_power_zone_threshold_5, cycle_power_zone_threshold_6,
	run_power_zone_threshold_1, run_power_zone_threshold_2,
	run_power_zone_threshold_3, run_power_zone_threshold_4,
	hr_zone_threshold_1, hr_zone_threshold_2,
	hr_zone_threshold_3, hr_zone_threshold_4,
	min_non_warmup_workout_time, weekly_tss_goal, rr_max_goal, rr_min_goal,
	weekly_workout_goal, weekly_yoga_goal, daily_sleep_hr_target,
	weekly_sleep_score_goal, weekly_readiness_score_goal,
	weekly_activity_score_goal, peloton_bookmarks`

func (r *Repo) Get(ctx context.Context) (_ *Athlete, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "athleteRepo.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	var a Athlete
	var bookmarksRaw []byte
	err = r.db.QueryRow(ctx,
		`SELECT`+athleteColumns+` FROM athlete WHERE id = $1`, athleteID,
	).Scan(
		&a.ID, &a.Name, &a.Birthday, &a.Sex, &a.WeightLbs, &a.RestingHR,
		&a.RideFTP, &a.RunFTP,
		&a.CyclePowerZoneThreshold1, &a.CyclePowerZoneThreshold2,
		&a.CyclePowerZoneThreshold3, &a.CyclePowerZoneThreshold4,
		&a.CyclePowerZoneThreshold5, &a.CyclePowerZoneThreshold6,
		&a.RunPowerZoneThreshold1, &a.RunPowerZoneThreshold2,
		&a.RunPowerZoneThreshold3, &a.RunPowerZoneThreshold4,
		&a.HRZoneThreshold1, &a.HRZoneThreshold2,
		&a.HRZoneThreshold3, &a.HRZoneThreshold4,
		&a.MinNonWarmupWorkoutTime, &a.WeeklyTSSGoal, &a.RRMaxGoal, &a.RRMinGoal,
		&a.WeeklyWorkoutGoal, &a.WeeklyYogaGoal, &a.DailySleepHrTarget,
		&a.WeeklySleepScoreGoal, &a.WeeklyReadinessScoreGoal,
		&a.WeeklyActivityScoreGoal, &bookmarksRaw,
	)
	if err != nil {
		return nil, fmt.Errorf("select athlete: %w", err)
	}

	a.PelotonBookmarks = Bookmarks{}
	if len(bookmarksRaw) > 0 {
		if err := json.Unmarshal(bookmarksRaw, &a.PelotonBookmarks); err != nil {
			return nil, fmt.Errorf("unmarshal peloton bookmarks: %w", err)
		}
	}

	return &a, nil
}

// updatableFields maps the public field names to their columns and value
// parsers. Updates to anything else are rejected up front.
var updatableFields = map[string]struct {
	column string
	parse  func(string) (any, error)
}{
	"name":     {"name", parseString},
	"birthday": {"birthday", parseDate},
	"sex":      {"sex", parseString},

	"weight_lbs": {"weight_lbs", parseFloat},
	"resting_hr": {"resting_hr", parseInt},
	"ride_ftp":   {"ride_ftp", parseInt},
	"run_ftp":    {"run_ftp", parseInt},

	"cycle_power_zone_threshold_1": {"cycle_power_zone_threshold_1", parseFloat},
	"cycle_power_zone_threshold_2": {"cycle_power_zone_threshold_2", parseFloat},
	"cycle_power_zone_threshold_3": {"cycle_power_zone_threshold_3", parseFloat},
	"cycle_power_zone_threshold_4": {"cycle_power_zone_threshold_4", parseFloat},
	"cycle_power_zone_threshold_5": {"cycle_power_zone_threshold_5", parseFloat},
	"cycle_power_zone_threshold_6": {"cycle_power_zone_threshold_6", parseFloat},
	"run_power_zone_threshold_1":   {"run_power_zone_threshold_1", parseFloat},
	"run_power_zone_threshold_2":   {"run_power_zone_threshold_2", parseFloat},
	"run_power_zone_threshold_3":   {"run_power_zone_threshold_3", parseFloat},
	"run_power_zone_threshold_4":   {"run_power_zone_threshold_4", parseFloat},
	"hr_zone_threshold_1":          {"hr_zone_threshold_1", parseFloat},
	"hr_zone_threshold_2":          {"hr_zone_threshold_2", parseFloat},
	"hr_zone_threshold_3":          {"hr_zone_threshold_3", parseFloat},
	"hr_zone_threshold_4":          {"hr_zone_threshold_4", parseFloat},

	"min_non_warmup_workout_time": {"min_non_warmup_workout_time", parseInt},
	"weekly_tss_goal":             {"weekly_tss_goal", parseFloat},
	"rr_max_goal":                 {"rr_max_goal", parseFloat},
	"rr_min_goal":                 {"rr_min_goal", parseFloat},
	"weekly_workout_goal":         {"weekly_workout_goal", parseInt},
	"weekly_yoga_goal":            {"weekly_yoga_goal", parseInt},
	"daily_sleep_hr_target":       {"daily_sleep_hr_target", parseFloat},
	"weekly_sleep_score_goal":     {"weekly_sleep_score_goal", parseInt},
	"weekly_readiness_score_goal": {"weekly_readiness_score_goal", parseInt},
	"weekly_activity_score_goal":  {"weekly_activity_score_goal", parseInt},
}

func parseString(v string) (any, error) {
	if v == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidValue)
	}
	return v, nil
}

func parseDate(v string) (any, error) {
	d, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a date", ErrInvalidValue, v)
	}
	return d, nil
}

func parseInt(v string) (any, error) {
	i, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not an integer", ErrInvalidValue, v)
	}
	return i, nil
}

func parseFloat(v string) (any, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a number", ErrInvalidValue, v)
	}
	return f, nil
}

// UpdateField sets a single whitelisted profile field from its string
// representation.
func (r *Repo) UpdateField(ctx context.Context, field, value string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "athleteRepo.updateField")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	spec, ok := updatableFields[field]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	parsed, err := spec.parse(value)
	if err != nil {
		return fmt.Errorf("field %s: %w", field, err)
	}

	tag, err := r.db.Exec(ctx,
		fmt.Sprintf(`UPDATE athlete SET %s = $1 WHERE id = $2`, spec.column),
		parsed, athleteID,
	)
	if err != nil {
		return fmt.Errorf("update athlete %s: %w", field, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateBookmarks replaces the whole Peloton bookmark mapping.
func (r *Repo) UpdateBookmarks(ctx context.Context, bookmarks Bookmarks) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "athleteRepo.updateBookmarks")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if err := bookmarks.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidValue, err)
	}
	raw, err := json.Marshal(bookmarks)
	if err != nil {
		return fmt.Errorf("marshal peloton bookmarks: %w", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE athlete SET peloton_bookmarks = $1 WHERE id = $2`,
		raw, athleteID,
	)
	if err != nil {
		return fmt.Errorf("update peloton bookmarks: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
