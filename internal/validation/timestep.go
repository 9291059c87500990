// Package validation decides whether rate and duration values are plausible
// relative to the simulation time steps. Every function is pure; callers own
// what happens with the returned Signal.
package validation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TimeStep names one of the simulation time-step settings.
type TimeStep string

const (
	DiffusionDT TimeStep = "diffusion_dt"
	MechanicsDT TimeStep = "mechanics_dt"
	PhenotypeDT TimeStep = "phenotype_dt"
)

// TimeSteps lists the time-step settings.
func TimeSteps() []TimeStep {
	return []TimeStep{DiffusionDT, MechanicsDT, PhenotypeDT}
}

// Measure tells whether a field holds a rate (1/time) or a duration (time).
type Measure int

const (
	Rate Measure = iota + 1
	Duration
)

func (m Measure) String() string {
	switch m {
	case Rate:
		return "rate"
	case Duration:
		return "duration"
	default:
		return "unknown"
	}
}

// Binding associates a field with the time step it is checked against.
type Binding struct {
	Measure  Measure
	TimeStep TimeStep
}

// Code is the outcome of a check.
type Code int

const (
	// None means the input is incomplete; any prior indicator stays as is.
	None Code = iota
	// Clear means the value is plausible and a prior warning should be removed.
	Clear
	// WarnTimeStepUnset means the bound time step is empty or zero.
	WarnTimeStepUnset
	// WarnTooFast means the event would occur more than once per time step.
	WarnTooFast
	// WarnIntervalMismatch means the SVG and full-data output intervals differ.
	WarnIntervalMismatch
)

func (c Code) String() string {
	switch c {
	case None:
		return "none"
	case Clear:
		return "clear"
	case WarnTimeStepUnset:
		return "warn_timestep_unset"
	case WarnTooFast:
		return "warn_too_fast"
	case WarnIntervalMismatch:
		return "warn_interval_mismatch"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Signal is the result of a check. SuggestedMax is only meaningful for
// WarnTooFast.
type Signal struct {
	Code         Code
	SuggestedMax float64
	Message      string
}

// IsWarning reports whether the signal should be shown to the user.
func (s Signal) IsWarning() bool {
	return s.Code == WarnTimeStepUnset || s.Code == WarnTooFast || s.Code == WarnIntervalMismatch
}

// Check evaluates value against the time step text for binding. Values that do
// not parse yet (a lone "-", "1e") yield None, never an error.
func Check(value string, binding Binding, dtText string) Signal {
	v, ok := parseFloat(value)
	if !ok {
		return Signal{Code: None}
	}

	dtText = strings.TrimSpace(dtText)
	dt, dtOK := parseFloat(dtText)
	if dtText == "" || (dtOK && dt == 0) {
		return Signal{
			Code:    WarnTimeStepUnset,
			Message: fmt.Sprintf("current %s is 0 (or unset); set it to a value > 0", binding.TimeStep),
		}
	}
	if !dtOK {
		return Signal{Code: None}
	}

	var rate float64
	switch binding.Measure {
	case Duration:
		if v == 0 {
			// A zero duration is instantaneous on purpose.
			return Signal{Code: Clear}
		}
		rate = 1 / v
	case Rate:
		rate = v
	default:
		return Signal{Code: None}
	}

	if rate*dt <= 1 {
		return Signal{Code: Clear}
	}

	suggested := 1 / dt
	detail := fmt.Sprintf("rate > 1/%s", binding.TimeStep)
	if binding.Measure == Duration {
		suggested = dt
		detail = fmt.Sprintf("duration < %s", binding.TimeStep)
	}
	return Signal{
		Code:         WarnTooFast,
		SuggestedMax: suggested,
		Message:      fmt.Sprintf("a %s is instantaneous; may as well set to %s", detail, formatFloat(suggested)),
	}
}

// CheckOutputIntervals compares the SVG and full-data save intervals. Runs
// with mismatched intervals produce snapshots that cannot be paired up.
func CheckOutputIntervals(svgInterval, fullInterval string) Signal {
	svg, okSVG := parseFloat(svgInterval)
	full, okFull := parseFloat(fullInterval)
	if !okSVG || !okFull {
		return Signal{Code: None}
	}
	if svg == full {
		return Signal{Code: Clear}
	}
	return Signal{
		Code:    WarnIntervalMismatch,
		Message: fmt.Sprintf("SVG interval (%s) and full data interval (%s) differ", formatFloat(svg), formatFloat(full)),
	}
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
