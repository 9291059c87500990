package core

import (
	"context"
	"fmt"
	"slices"

	"studiocore/internal/params"
	"studiocore/pkg/domain"
)

// CrossReferenceIntegrityRule blocks any state in which a value reference or a
// family entry names an entity that does not exist.
func CrossReferenceIntegrityRule() domain.Rule {
	return crossReferenceRule{}
}

type crossReferenceRule struct{}

func (crossReferenceRule) Name() string { return "cross_reference_integrity" }

func (r crossReferenceRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	names := make(map[domain.EntityKind][]string, 2)
	for _, kind := range domain.Kinds() {
		for _, e := range view.Entities(kind) {
			names[kind] = append(names[kind], e.Name)
		}
	}

	for _, ref := range params.CrossReferences() {
		members := familyMembers(ref)
		for _, source := range view.Entities(ref.Source) {
			ps, ok := view.Parameters(ref.Source, source.Name)
			if !ok {
				continue
			}
			if ref.Key != "" {
				if v := ps[ref.Key]; v != "" && !slices.Contains(names[ref.Target], v) {
					res.Violations = append(res.Violations, r.violation(source, ref.Key,
						fmt.Sprintf("%s %s references missing %s %q", source.Kind, source.Name, ref.Target, v)))
				}
				continue
			}
			for key := range ps {
				member, target, ok := params.SplitFamilyKey(key)
				if !ok || !slices.Contains(members, member) || slices.Contains(names[ref.Target], target) {
					continue
				}
				res.Violations = append(res.Violations, r.violation(source, key,
					fmt.Sprintf("%s %s holds %s entry for missing %s %q", source.Kind, source.Name, ref.Family, ref.Target, target)))
			}
		}
	}
	return res, nil
}

func (crossReferenceRule) violation(e domain.Entity, key, msg string) domain.Violation {
	return domain.Violation{
		Rule:     "cross_reference_integrity",
		Severity: domain.SeverityBlock,
		Message:  msg,
		Kind:     e.Kind,
		Entity:   e.Name,
		Key:      key,
	}
}

func familyMembers(ref params.CrossReference) []string {
	if ref.Family == "" {
		return nil
	}
	sch, _ := params.SchemaFor(ref.Source)
	var out []string
	for _, fam := range sch.Families {
		if fam.Name != ref.Family {
			continue
		}
		for _, m := range fam.Members {
			out = append(out, m.Key)
		}
	}
	return out
}
