package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyRunning is returned when a run is requested while another is active.
	ErrAlreadyRunning = errors.New("studio: a run is already active")
	// ErrNotRunning is returned when cancelling with no active run.
	ErrNotRunning = errors.New("studio: no active run")
	// ErrExecutableNotFound is returned when the simulation executable does not resolve to a file.
	ErrExecutableNotFound = errors.New("studio: executable not found")
)

// ParseError reports a malformed configuration document. The document being
// replaced is left untouched.
type ParseError struct {
	Line int
	Msg  string
}

func (e ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse document: line %d: %s", e.Line, e.Msg)
	}
	return "parse document: " + e.Msg
}

// SchemaError reports a document that parses but violates the entity shape.
type SchemaError struct {
	Kind   EntityKind
	Index  int // 1-based position of the offending node in its section, 0 when unknown
	Entity string
	Msg    string
}

func (e SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("schema: ")
	if e.Kind != "" {
		b.WriteString(string(e.Kind))
		if e.Entity != "" {
			fmt.Fprintf(&b, " %q", e.Entity)
		} else if e.Index > 0 {
			fmt.Fprintf(&b, " #%d", e.Index)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	return b.String()
}

// UnknownKeyError is returned when a parameter key is not part of the field
// set declared for an entity kind. It signals a mismatch between callers and
// the parameter schema and is never swallowed.
type UnknownKeyError struct {
	Kind   EntityKind
	Entity string
	Key    string
}

func (e UnknownKeyError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("unknown setting %q", e.Key)
	}
	return fmt.Sprintf("unknown key %q for %s %q", e.Key, e.Kind, e.Entity)
}

// DuplicateNameError is returned when a name is already used by another entity.
type DuplicateNameError struct {
	Kind EntityKind
	Name string
}

func (e DuplicateNameError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Name)
}

// LastEntityError is returned when deleting the only remaining entity of a kind.
type LastEntityError struct {
	Kind EntityKind
	Name string
}

func (e LastEntityError) Error() string {
	return fmt.Sprintf("cannot delete %s %q: at least one %s must remain", e.Kind, e.Name, e.Kind)
}

// InvalidNameError is returned when a proposed entity name cannot be stored.
type InvalidNameError struct {
	Kind   EntityKind
	Name   string
	Reason string
}

func (e InvalidNameError) Error() string {
	return fmt.Sprintf("invalid %s name %q: %s", e.Kind, e.Name, e.Reason)
}

// NotFoundError is returned when an entity lookup fails.
type NotFoundError struct {
	Kind EntityKind
	Name string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}

// ValidateName checks that name can be used as an entity name. Names appear
// inside attribute predicates of document paths, so quoting and path
// characters are rejected.
func ValidateName(kind EntityKind, name string) error {
	if strings.TrimSpace(name) == "" {
		return InvalidNameError{Kind: kind, Name: name, Reason: "name is empty"}
	}
	if name != strings.TrimSpace(name) {
		return InvalidNameError{Kind: kind, Name: name, Reason: "leading or trailing whitespace"}
	}
	if i := strings.IndexAny(name, `'"[]/`); i >= 0 {
		return InvalidNameError{Kind: kind, Name: name, Reason: fmt.Sprintf("character %q not allowed", name[i])}
	}
	return nil
}
