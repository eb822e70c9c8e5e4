package athlete

import (
	"time"
)

// Effort is a prescribed training intensity for a day. The HRV engine
// writes one of these into the workout step log, and the Peloton
// bookmark preferences are keyed by them.
type Effort string

const (
	EffortRest Effort = "Rest"
	EffortLow  Effort = "Low"
	EffortMod  Effort = "Mod"
	EffortHIIT Effort = "HIIT"
	EffortHigh Effort = "High"
)

func (e Effort) Valid() bool {
	switch e {
	case EffortRest, EffortLow, EffortMod, EffortHIIT, EffortHigh:
		return true
	}
	return false
}

// GoalMode selects how weekly fitness goals are evaluated. The workout and
// yoga goal columns double as mode selectors via sentinel values, the same
// values the settings UI writes.
type GoalMode string

const (
	GoalModeFixed     GoalMode = "fixed"     // plain weekly workout/yoga counts
	GoalModeReadiness GoalMode = "readiness" // goals follow the readiness score
	GoalModeTSS       GoalMode = "tss"       // goals follow the weekly TSS target
)

const (
	goalSentinelReadiness = 99
	goalSentinelTSS       = 100
)

// Athlete is the single athlete profile of the deployment. Exactly one row
// exists, with ID 1.
type Athlete struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Birthday  time.Time `json:"birthday"`
	Sex       string    `json:"sex"`
	WeightLbs float64   `json:"weight_lbs"`
	RestingHR int       `json:"resting_hr"`
	RideFTP   int       `json:"ride_ftp"`
	RunFTP    int       `json:"run_ftp"`

	// zone thresholds, fractions of FTP / heart rate reserve
	CyclePowerZoneThreshold1 float64 `json:"cycle_power_zone_threshold_1"`
	CyclePowerZoneThreshold2 float64 `json:"cycle_power_zone_threshold_2"`
	CyclePowerZoneThreshold3 float64 `json:"cycle_power_zone_threshold_3"`
	CyclePowerZoneThreshold4 float64 `json:"cycle_power_zone_threshold_4"`
	CyclePowerZoneThreshold5 float64 `json:"cycle_power_zone_threshold_5"`
	CyclePowerZoneThreshold6 float64 `json:"cycle_power_zone_threshold_6"`
	RunPowerZoneThreshold1   float64 `json:"run_power_zone_threshold_1"`
	RunPowerZoneThreshold2   float64 `json:"run_power_zone_threshold_2"`
	RunPowerZoneThreshold3   float64 `json:"run_power_zone_threshold_3"`
	RunPowerZoneThreshold4   float64 `json:"run_power_zone_threshold_4"`
	HRZoneThreshold1         float64 `json:"hr_zone_threshold_1"`
	HRZoneThreshold2         float64 `json:"hr_zone_threshold_2"`
	HRZoneThreshold3         float64 `json:"hr_zone_threshold_3"`
	HRZoneThreshold4         float64 `json:"hr_zone_threshold_4"`

	// goals
	MinNonWarmupWorkoutTime  int     `json:"min_non_warmup_workout_time"` // seconds
	WeeklyTSSGoal            float64 `json:"weekly_tss_goal"`
	RRMaxGoal                float64 `json:"rr_max_goal"` // high ramp rate injury threshold
	RRMinGoal                float64 `json:"rr_min_goal"` // low ramp rate injury threshold
	WeeklyWorkoutGoal        int     `json:"weekly_workout_goal"`
	WeeklyYogaGoal           int     `json:"weekly_yoga_goal"`
	DailySleepHrTarget       float64 `json:"daily_sleep_hr_target"`
	WeeklySleepScoreGoal     int     `json:"weekly_sleep_score_goal"`
	WeeklyReadinessScoreGoal int     `json:"weekly_readiness_score_goal"`
	WeeklyActivityScoreGoal  int     `json:"weekly_activity_score_goal"`

	PelotonBookmarks Bookmarks `json:"peloton_bookmarks"`
}

// GoalMode reads the sentinel values off the weekly workout/yoga goals.
// Readiness mode wins when the two columns disagree, since the settings UI
// only ever writes matching pairs and a readiness-looking pair is the safer
// interpretation of a mixed one.
func (a *Athlete) GoalMode() GoalMode {
	if a.WeeklyWorkoutGoal == goalSentinelReadiness || a.WeeklyYogaGoal == goalSentinelReadiness {
		return GoalModeReadiness
	}
	if a.WeeklyWorkoutGoal == goalSentinelTSS && a.WeeklyYogaGoal == goalSentinelTSS {
		return GoalModeTSS
	}
	return GoalModeFixed
}

// Age in full years at the given moment.
func (a *Athlete) Age(now time.Time) int {
	years := now.Year() - a.Birthday.Year()
	birthdayThisYear := time.Date(
		now.Year(), a.Birthday.Month(), a.Birthday.Day(),
		0, 0, 0, 0, time.UTC,
	)
	if now.Before(birthdayThisYear) {
		years--
	}
	return years
}

// MaxHR uses the age-derived 220-age estimate.
func (a *Athlete) MaxHR(now time.Time) int {
	return 220 - a.Age(now)
}

// HeartRateZones returns the upper bounds of zones 1-4, derived from the
// heart rate reserve and the configured zone thresholds. Anything above
// the last bound is zone 5.
func (a *Athlete) HeartRateZones(now time.Time, restingHR int) [4]int {
	hrr := float64(a.MaxHR(now) - restingHR)
	bound := func(threshold float64) int {
		return int(hrr*threshold + float64(restingHR) + 0.5)
	}
	return [4]int{
		bound(a.HRZoneThreshold1),
		bound(a.HRZoneThreshold2),
		bound(a.HRZoneThreshold3),
		bound(a.HRZoneThreshold4),
	}
}
