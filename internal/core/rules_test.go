package core

import (
	"context"
	"testing"

	"studiocore/pkg/domain"
)

// fakeView is a hand-built RuleView for exercising rules in isolation.
type fakeView struct {
	entities map[domain.EntityKind][]domain.Entity
	params   map[string]map[string]string
	settings map[string]string
}

func (v fakeView) Entities(kind domain.EntityKind) []domain.Entity { return v.entities[kind] }

func (v fakeView) Parameters(kind domain.EntityKind, name string) (map[string]string, bool) {
	ps, ok := v.params[string(kind)+"/"+name]
	return ps, ok
}

func (v fakeView) Setting(key string) (string, bool) {
	s, ok := v.settings[key]
	return s, ok
}

func baseView() fakeView {
	return fakeView{
		entities: map[domain.EntityKind][]domain.Entity{
			domain.KindSubstrate: {{Kind: domain.KindSubstrate, Name: "oxygen", ID: 0}},
			domain.KindCellType: {
				{Kind: domain.KindCellType, Name: "tumor", ID: 0},
				{Kind: domain.KindCellType, Name: "immune", ID: 1},
			},
		},
		params: map[string]map[string]string{
			"substrate/oxygen": {"decay_rate": "0.1"},
			"cell_type/tumor": {
				"chemotaxis_substrate":   "oxygen",
				"secretion_rate[oxygen]": "0",
				"attack_rate[immune]":    "0",
				"attachment_rate":        "0",
			},
			"cell_type/immune": {
				"parent_type":            "tumor",
				"chemotaxis_substrate":   "oxygen",
				"secretion_rate[oxygen]": "0",
				"attack_rate[tumor]":     "0.05",
				"attachment_rate":        "40",
			},
		},
		settings: map[string]string{
			"diffusion_dt":       "0.01",
			"mechanics_dt":       "0.1",
			"phenotype_dt":       "6",
			"svg_interval":       "60",
			"svg_enabled":        "true",
			"full_data_interval": "60",
			"full_data_enabled":  "true",
		},
	}
}

func evaluate(t *testing.T, rule domain.Rule, view domain.RuleView, changes []domain.Change) domain.Result {
	t.Helper()
	res, err := rule.Evaluate(context.Background(), view, changes)
	if err != nil {
		t.Fatalf("%s: %v", rule.Name(), err)
	}
	return res
}

func TestCrossReferenceIntegrityRule(t *testing.T) {
	view := baseView()
	if res := evaluate(t, CrossReferenceIntegrityRule(), view, nil); len(res.Violations) != 0 {
		t.Fatalf("clean view produced %+v", res.Violations)
	}

	view.params["cell_type/immune"]["parent_type"] = "ghost"
	view.params["cell_type/tumor"]["uptake_rate[nitrogen]"] = "1"
	view.params["cell_type/tumor"]["custom:attack_rate[x]"] = "1"
	res := evaluate(t, CrossReferenceIntegrityRule(), view, nil)
	if len(res.Violations) != 2 || !res.HasBlocking() {
		t.Fatalf("expected two blocking violations, got %+v", res.Violations)
	}
	keys := map[string]bool{}
	for _, v := range res.Violations {
		keys[v.Key] = true
	}
	if !keys["parent_type"] || !keys["uptake_rate[nitrogen]"] {
		t.Fatalf("unexpected violation keys %v", keys)
	}
}

func TestIDContiguityRule(t *testing.T) {
	view := baseView()
	if res := evaluate(t, IDContiguityRule(), view, nil); len(res.Violations) != 0 {
		t.Fatalf("clean view produced %+v", res.Violations)
	}
	view.entities[domain.KindCellType][1].ID = 5
	view.entities[domain.KindSubstrate] = nil
	res := evaluate(t, IDContiguityRule(), view, nil)
	if len(res.Violations) != 2 || !res.HasBlocking() {
		t.Fatalf("expected gap and empty-kind violations, got %+v", res.Violations)
	}
}

func TestTimeStepPlausibilityRuleScopes(t *testing.T) {
	rule := TimeStepPlausibilityRule()
	view := baseView()

	full := evaluate(t, rule, view, nil)
	if len(full.Violations) != 1 || full.Violations[0].Entity != "immune" || full.Violations[0].Severity != domain.SeverityWarn {
		t.Fatalf("full scan: %+v", full.Violations)
	}

	touched := evaluate(t, rule, view, []domain.Change{{Kind: domain.KindCellType, Entity: "tumor", Action: domain.ActionUpdate, Key: "attachment_rate"}})
	if len(touched.Violations) != 0 {
		t.Fatalf("untouched field was checked: %+v", touched.Violations)
	}

	unrelated := evaluate(t, rule, view, []domain.Change{{Action: domain.ActionUpdate, Key: "phenotype_dt"}})
	if len(unrelated.Violations) != 0 {
		t.Fatalf("phenotype_dt change re-checked mechanics fields: %+v", unrelated.Violations)
	}
	dtChange := evaluate(t, rule, view, []domain.Change{{Action: domain.ActionUpdate, Key: "mechanics_dt"}})
	if len(dtChange.Violations) != 1 {
		t.Fatalf("mechanics_dt change: %+v", dtChange.Violations)
	}

	view.settings["mechanics_dt"] = ""
	unset := evaluate(t, rule, view, []domain.Change{{Kind: domain.KindCellType, Entity: "tumor", Action: domain.ActionCreate}})
	if len(unset.Violations) != 1 || unset.Violations[0].Key != "attachment_rate" {
		t.Fatalf("expected unset time step warning, got %+v", unset.Violations)
	}
}

func TestOutputIntervalRule(t *testing.T) {
	rule := OutputIntervalRule()
	view := baseView()
	view.settings["svg_interval"] = "15"

	if res := evaluate(t, rule, view, []domain.Change{{Kind: domain.KindCellType, Entity: "tumor", Key: "speed"}}); len(res.Violations) != 0 {
		t.Fatalf("unrelated change produced %+v", res.Violations)
	}
	if res := evaluate(t, rule, view, nil); len(res.Violations) != 1 {
		t.Fatalf("expected mismatch warning, got %+v", res.Violations)
	}
	view.settings["full_data_enabled"] = "false"
	if res := evaluate(t, rule, view, nil); len(res.Violations) != 0 {
		t.Fatalf("disabled output still compared: %+v", res.Violations)
	}
}

func TestDefaultRulesEngineOrder(t *testing.T) {
	want := []string{"cross_reference_integrity", "id_contiguity", "time_step_plausibility", "output_interval_mismatch"}
	rules := NewDefaultRulesEngine().Rules()
	if len(rules) != len(want) {
		t.Fatalf("expected %d rules, got %d", len(want), len(rules))
	}
	for i, r := range rules {
		if r.Name() != want[i] {
			t.Fatalf("rule %d = %s, want %s", i, r.Name(), want[i])
		}
	}
}
