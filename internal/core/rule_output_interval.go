package core

import (
	"context"

	"studiocore/internal/validation"
	"studiocore/pkg/domain"
)

var outputIntervalKeys = map[string]struct{}{
	"svg_interval":       {},
	"svg_enabled":        {},
	"full_data_interval": {},
	"full_data_enabled":  {},
}

// OutputIntervalRule warns when SVG and full data snapshots are both enabled
// but saved at different intervals.
func OutputIntervalRule() domain.Rule {
	return outputIntervalRule{}
}

type outputIntervalRule struct{}

func (outputIntervalRule) Name() string { return "output_interval_mismatch" }

func (outputIntervalRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	if changes != nil && !touchesOutput(changes) {
		return res, nil
	}
	if v, _ := view.Setting("svg_enabled"); v == "false" {
		return res, nil
	}
	if v, _ := view.Setting("full_data_enabled"); v == "false" {
		return res, nil
	}
	svg, _ := view.Setting("svg_interval")
	full, _ := view.Setting("full_data_interval")
	if sig := validation.CheckOutputIntervals(svg, full); sig.IsWarning() {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "output_interval_mismatch",
			Severity: domain.SeverityWarn,
			Message:  sig.Message,
			Key:      "svg_interval",
		})
	}
	return res, nil
}

func touchesOutput(changes []domain.Change) bool {
	for _, c := range changes {
		if _, ok := outputIntervalKeys[c.Key]; ok && c.Kind == "" {
			return true
		}
	}
	return false
}
