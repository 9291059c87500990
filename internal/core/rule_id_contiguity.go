package core

import (
	"context"
	"fmt"

	"studiocore/pkg/domain"
)

// IDContiguityRule requires at least one entity per kind, unique names and IDs
// numbered 0..n-1 in order.
func IDContiguityRule() domain.Rule {
	return idContiguityRule{}
}

type idContiguityRule struct{}

func (idContiguityRule) Name() string { return "id_contiguity" }

func (idContiguityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, kind := range domain.Kinds() {
		entities := view.Entities(kind)
		if len(entities) == 0 {
			res.Violations = append(res.Violations, idViolation(kind, "", fmt.Sprintf("no %s entity left", kind)))
			continue
		}
		seen := make(map[string]struct{}, len(entities))
		for i, e := range entities {
			if e.ID != i {
				res.Violations = append(res.Violations, idViolation(kind, e.Name, fmt.Sprintf("%s %s has ID %d, expected %d", kind, e.Name, e.ID, i)))
			}
			if _, dup := seen[e.Name]; dup {
				res.Violations = append(res.Violations, idViolation(kind, e.Name, fmt.Sprintf("%s name %s is used more than once", kind, e.Name)))
			}
			seen[e.Name] = struct{}{}
		}
	}
	return res, nil
}

func idViolation(kind domain.EntityKind, name, msg string) domain.Violation {
	return domain.Violation{
		Rule:     "id_contiguity",
		Severity: domain.SeverityBlock,
		Message:  msg,
		Kind:     kind,
		Entity:   name,
	}
}
