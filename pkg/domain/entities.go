// Package domain defines the configuration-editing domain shared by the
// session service, the parameter store and the persistence adapters.
package domain

// EntityKind identifies a family of named, independently configurable units in
// a configuration document.
type EntityKind string

const (
	// KindCellType identifies cell type definitions.
	KindCellType EntityKind = "cell_type"
	// KindSubstrate identifies microenvironment substrates.
	KindSubstrate EntityKind = "substrate"
)

// Kinds lists the entity kinds in the order they are loaded and flushed.
// Substrates come first because cell type parameters reference them.
func Kinds() []EntityKind {
	return []EntityKind{KindSubstrate, KindCellType}
}

// Entity describes one named unit. Parameters live in the parameter store;
// the entity carries only its identity and bookkeeping attributes.
type Entity struct {
	Kind EntityKind `json:"kind"`
	Name string     `json:"name"`
	// ID is zero-based and contiguous within a kind.
	ID int `json:"id"`
	// ParentName names another entity of the same kind this one inherits from.
	ParentName string `json:"parent_name,omitempty"`
	Visible    bool   `json:"visible"`
}

// Severity captures rule outcomes.
type Severity string

const (
	// SeverityBlock aborts the transaction.
	SeverityBlock Severity = "block"
	// SeverityWarn annotates the transaction but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Action enumerates the mutations captured in a transaction's change journal.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionRename Action = "rename"
	ActionDelete Action = "delete"
)

// Change records one mutation applied within a transaction. Key is empty for
// whole-entity changes. Settings changes use an empty Kind.
type Change struct {
	Kind   EntityKind
	Entity string
	Action Action
	Key    string
	Before string
	After  string
}

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Kind     EntityKind
	Entity   string
	Key      string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Warnings returns the warn-severity violations.
func (r Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityWarn {
			out = append(out, v)
		}
	}
	return out
}
