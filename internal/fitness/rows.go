package fitness

import (
	"strings"
	"time"
)

// Source identifies where a canonical row came from.
type Source string

const (
	SourceOura     Source = "oura"
	SourceStrava   Source = "strava"
	SourceWithings Source = "withings"
	SourcePeloton  Source = "peloton"
)

// Activity is one recorded workout. Strava is the primary producer, the
// natural key is (source, external_id).
type Activity struct {
	Source               Source    `json:"source"`
	ExternalID           string    `json:"external_id"`
	Name                 string    `json:"name"`
	Type                 string    `json:"type"` // Ride, Run, Yoga, WeightTraining, ...
	StartDate            time.Time `json:"start_date"`
	Distance             float64   `json:"distance"`    // meters
	MovingTime           int       `json:"moving_time"` // seconds
	ElapsedTime          int       `json:"elapsed_time"`
	AverageWatts         float64   `json:"average_watts"`
	WeightedAverageWatts float64   `json:"weighted_average_watts"`
	MaxWatts             float64   `json:"max_watts"`
	AverageHeartrate     float64   `json:"average_heartrate"`
	MaxHeartrate         float64   `json:"max_heartrate"`
	Calories             float64   `json:"calories"`
	FTP                  int       `json:"ftp"` // FTP in effect when the activity happened
	TSS                  *float64  `json:"tss"` // nil until power data allows computing it
}

// IsFTPTest reports whether the activity name marks it as an FTP test ride,
// the convention the athlete uses to recalibrate the ride FTP.
func (a Activity) IsFTPTest() bool {
	return strings.Contains(strings.ToLower(a.Name), "ftp test")
}

// SleepSummary is one night of Oura sleep data, keyed by the summary date.
type SleepSummary struct {
	Date              time.Time `json:"date"`
	Score             int       `json:"score"`
	TotalSleepSeconds int       `json:"total_sleep_seconds"`
	TimeInBedSeconds  int       `json:"time_in_bed_seconds"`
	HRLowest          float64   `json:"hr_lowest"`
	HRAverage         float64   `json:"hr_average"`
	RMSSD             float64   `json:"rmssd"` // HRV, milliseconds
}

// ReadinessSummary is one day of the Oura readiness score, keyed by date.
type ReadinessSummary struct {
	Date  time.Time `json:"date"`
	Score int       `json:"score"`
}

// ActivityDaily is one day of the Oura activity score, keyed by date.
type ActivityDaily struct {
	Date          time.Time `json:"date"`
	Score         int       `json:"score"`
	CaloriesTotal int       `json:"calories_total"`
	CaloriesOut   int       `json:"calories_out"`
	DailyMovement int       `json:"daily_movement"` // meters
}

// WeightMeasurement is one Withings scale reading, keyed by the measured-at
// timestamp. Weight is stored in pounds, conversion happens at the
// provider boundary.
type WeightMeasurement struct {
	MeasuredAt time.Time `json:"measured_at"`
	WeightLbs  float64   `json:"weight_lbs"`
	FatRatio   *float64  `json:"fat_ratio"` // percent, not every reading has it
}

// PelotonWorkout is one Peloton workout with its class metadata, keyed by
// the workout ID.
type PelotonWorkout struct {
	WorkoutID         string    `json:"workout_id"`
	StartDate         time.Time `json:"start_date"`
	FitnessDiscipline string    `json:"fitness_discipline"`
	ClassTitle        string    `json:"class_title"`
	ClassTypeIDs      []string  `json:"class_type_ids"`
	Instructor        string    `json:"instructor"`
	Status            string    `json:"status"`
}

// Rows is the normalized output of one provider fetch, grouped by table.
// A provider fills only the slices it produces.
type Rows struct {
	Activities      []Activity
	Sleeps          []SleepSummary
	Readiness       []ReadinessSummary
	ActivityDailies []ActivityDaily
	Weights         []WeightMeasurement
	PelotonWorkouts []PelotonWorkout
}

// Count is the total number of rows across all groups.
func (r Rows) Count() int {
	return len(r.Activities) + len(r.Sleeps) + len(r.Readiness) +
		len(r.ActivityDailies) + len(r.Weights) + len(r.PelotonWorkouts)
}
