package core

import (
	"context"
	"slices"

	"studiocore/internal/params"
	"studiocore/internal/validation"
	"studiocore/pkg/domain"
)

// TimeStepPlausibilityRule warns when a rate or duration touched by the
// transaction would fire more than once per time step. Changing a time step
// re-checks every field bound to it; a nil change set checks everything.
func TimeStepPlausibilityRule() domain.Rule {
	return timeStepRule{}
}

type timeStepRule struct{}

func (timeStepRule) Name() string { return "time_step_plausibility" }

type fieldRef struct {
	kind domain.EntityKind
	name string
	key  string
}

func (r timeStepRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, f := range r.targets(view, changes) {
		ps, ok := view.Parameters(f.kind, f.name)
		if !ok {
			continue
		}
		binding, ok := params.BindingFor(f.kind, f.key)
		if !ok {
			continue
		}
		dt, _ := view.Setting(string(binding.TimeStep))
		sig := validation.Check(ps[f.key], binding, dt)
		if !sig.IsWarning() {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "time_step_plausibility",
			Severity: domain.SeverityWarn,
			Message:  sig.Message,
			Kind:     f.kind,
			Entity:   f.name,
			Key:      f.key,
		})
	}
	return res, nil
}

// targets lists the bound fields to check, in a stable order.
func (timeStepRule) targets(view domain.RuleView, changes []domain.Change) []fieldRef {
	var out []fieldRef
	seen := make(map[fieldRef]struct{})
	add := func(f fieldRef) {
		if _, ok := seen[f]; ok {
			return
		}
		if _, ok := params.BindingFor(f.kind, f.key); !ok {
			return
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	addEntity := func(kind domain.EntityKind, name string, match func(validation.Binding) bool) {
		ps, ok := view.Parameters(kind, name)
		if !ok {
			return
		}
		for _, key := range params.ParameterSet(ps).Keys() {
			if b, ok := params.BindingFor(kind, key); ok && match(b) {
				add(fieldRef{kind: kind, name: name, key: key})
			}
		}
	}
	all := func(validation.Binding) bool { return true }

	if changes == nil {
		for _, kind := range domain.Kinds() {
			for _, e := range view.Entities(kind) {
				addEntity(kind, e.Name, all)
			}
		}
		return out
	}
	for _, c := range changes {
		switch {
		case c.Kind == "" && slices.Contains(validation.TimeSteps(), validation.TimeStep(c.Key)):
			ts := validation.TimeStep(c.Key)
			for _, kind := range domain.Kinds() {
				for _, e := range view.Entities(kind) {
					addEntity(kind, e.Name, func(b validation.Binding) bool { return b.TimeStep == ts })
				}
			}
		case c.Kind != domain.KindCellType && c.Kind != domain.KindSubstrate:
		case c.Key != "":
			add(fieldRef{kind: c.Kind, name: c.Entity, key: c.Key})
		case c.Action == domain.ActionCreate:
			addEntity(c.Kind, c.Entity, all)
		}
	}
	return out
}
