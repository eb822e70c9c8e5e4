package hrv

import (
	"fmt"
	"time"

	"github.com/fitly-app/fitly/internal/athlete"
	"github.com/fitly-app/fitly/pkg"
)

// intensityLadder maps a step to its effort. Rest days do not move the
// athlete along the ladder, they keep the position and override the effort.
var intensityLadder = []athlete.Effort{
	athlete.EffortLow,
	athlete.EffortMod,
	athlete.EffortHIIT,
	athlete.EffortHigh,
}

var maxStep = len(intensityLadder) - 1

// readiness score bands of the effort table
const (
	readinessRestBelow = 50
	readinessLowBelow  = 65
	readinessModBelow  = 75
	readinessHIITBelow = 85
	favorableReadiness = 75
)

// Inputs is everything Advance looks at. Same inputs, same output: the
// function touches no clock and no store, so re-running a day never
// changes an already-computed prescription.
type Inputs struct {
	// Prior is the previous day's step, nil on the very first run.
	Prior *Step
	// Readiness is the day's recovery score (0-100), nil when the HRV
	// source is disconnected or has no data for the day.
	Readiness *int
	// RampRate is the change in daily training load over the trailing
	// weeks, TSS per day.
	RampRate float64

	RRMin float64
	RRMax float64
}

// Advance computes the workout prescription for a day.
//
// Rules, in order of precedence:
//  1. ramp rate above RRMax forces a low intensity day, no readiness score
//     overrides an injury guardrail
//  2. without a readiness score the plan degrades to a training-load-only
//     policy instead of guessing
//  3. readiness below 50 is a rest day, keeping the ladder position
//  4. ramp rate below RRMin with favorable readiness climbs one ladder
//     step
//  5. otherwise the effort follows the readiness band table
func Advance(date time.Time, in Inputs) Step {
	priorStep := 0
	if in.Prior != nil {
		priorStep = in.Prior.Step
		if priorStep > maxStep {
			priorStep = maxStep
		}
	}

	next := Step{
		Date:      pkg.DayOf(date),
		Completed: false,
	}

	switch {
	case in.RampRate > in.RRMax:
		next.Step = 0
		next.Effort = athlete.EffortLow
		next.Rationale = fmt.Sprintf(
			"Ramp rate %.1f is above your max of %.1f, overriding to a low intensity day to protect against overtraining",
			in.RampRate, in.RRMax,
		)

	case in.Readiness == nil:
		if in.RampRate < in.RRMin {
			next.Step = 1
			next.Effort = athlete.EffortMod
			next.Rationale = fmt.Sprintf(
				"No readiness data available and ramp rate %.1f is below your min of %.1f, going with a moderate day",
				in.RampRate, in.RRMin,
			)
		} else {
			next.Step = 0
			next.Effort = athlete.EffortLow
			next.Rationale = "No readiness data available, holding a low intensity day until your recovery source is connected again"
		}

	case *in.Readiness < readinessRestBelow:
		next.Step = priorStep
		next.Effort = athlete.EffortRest
		next.Rationale = fmt.Sprintf(
			"Readiness %d signals poor recovery, take a rest day", *in.Readiness,
		)

	case in.RampRate < in.RRMin && *in.Readiness >= favorableReadiness:
		next.Step = priorStep + 1
		if next.Step > maxStep {
			next.Step = maxStep
		}
		next.Effort = intensityLadder[next.Step]
		next.Rationale = fmt.Sprintf(
			"Ramp rate %.1f is below your min of %.1f and readiness %d is good, stepping the plan up to %s",
			in.RampRate, in.RRMin, *in.Readiness, next.Effort,
		)

	default:
		next.Step = stepForReadiness(*in.Readiness)
		next.Effort = intensityLadder[next.Step]
		next.Rationale = fmt.Sprintf(
			"Readiness %d calls for a %s day", *in.Readiness, next.Effort,
		)
	}

	return next
}

func stepForReadiness(readiness int) int {
	switch {
	case readiness >= readinessHIITBelow:
		return 3 // High
	case readiness >= readinessModBelow:
		return 2 // HIIT
	case readiness >= readinessLowBelow:
		return 1 // Mod
	default:
		return 0 // Low
	}
}
