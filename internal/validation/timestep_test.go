package validation

import (
	"strings"
	"testing"
)

func TestCheckIncompleteInputProducesNoSignal(t *testing.T) {
	b := Binding{Measure: Rate, TimeStep: PhenotypeDT}
	for _, in := range []string{"", "-", "1e", ".", "abc", "NaN", "Inf"} {
		if got := Check(in, b, "6"); got.Code != None {
			t.Fatalf("Check(%q) = %v, want none", in, got.Code)
		}
	}
}

func TestCheckTimeStepUnset(t *testing.T) {
	b := Binding{Measure: Duration, TimeStep: MechanicsDT}
	for _, dt := range []string{"", "  ", "0", "0.0"} {
		got := Check("5", b, dt)
		if got.Code != WarnTimeStepUnset {
			t.Fatalf("dt %q: got %v, want warn_timestep_unset", dt, got.Code)
		}
		if !strings.Contains(got.Message, "mechanics_dt") {
			t.Fatalf("message should name the time step: %q", got.Message)
		}
	}
}

func TestCheckZeroDurationIsInstantaneous(t *testing.T) {
	got := Check("0", Binding{Measure: Duration, TimeStep: PhenotypeDT}, "6")
	if got.Code != Clear {
		t.Fatalf("got %v, want clear", got.Code)
	}
}

func TestCheckTooFastMonotonicity(t *testing.T) {
	rate := Binding{Measure: Rate, TimeStep: MechanicsDT}
	duration := Binding{Measure: Duration, TimeStep: MechanicsDT}

	cases := []struct {
		name    string
		value   string
		binding Binding
		want    Code
		max     float64
	}{
		{"rate below bound", "9.9", rate, Clear, 0},
		{"rate at bound", "10", rate, Clear, 0},
		{"rate above bound", "10.5", rate, WarnTooFast, 10},
		{"negative rate", "-50", rate, Clear, 0},
		{"duration above dt", "0.2", duration, Clear, 0},
		{"duration at dt", "0.1", duration, Clear, 0},
		{"duration below dt", "0.05", duration, WarnTooFast, 0.1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Check(tc.value, tc.binding, "0.1")
			if got.Code != tc.want {
				t.Fatalf("got %v, want %v", got.Code, tc.want)
			}
			if tc.want == WarnTooFast {
				if got.SuggestedMax != tc.max {
					t.Fatalf("suggested max %v, want %v", got.SuggestedMax, tc.max)
				}
				if !got.IsWarning() || got.Message == "" {
					t.Fatalf("expected a displayable warning, got %+v", got)
				}
			}
		})
	}
}

func TestCheckOutputIntervals(t *testing.T) {
	if got := CheckOutputIntervals("60", "60.0"); got.Code != Clear {
		t.Fatalf("equal intervals: %v", got.Code)
	}
	got := CheckOutputIntervals("30", "60")
	if got.Code != WarnIntervalMismatch || !strings.Contains(got.Message, "30") {
		t.Fatalf("mismatch: %+v", got)
	}
	if got := CheckOutputIntervals("", "60"); got.Code != None {
		t.Fatalf("incomplete interval: %v", got.Code)
	}
}
