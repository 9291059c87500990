package core

import "studiocore/pkg/domain"

type (
	EntityKind         = domain.EntityKind
	Entity             = domain.Entity
	Severity           = domain.Severity
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	SessionSnapshot    = domain.SessionSnapshot
	SessionStore       = domain.SessionStore
)

const (
	KindCellType  = domain.KindCellType
	KindSubstrate = domain.KindSubstrate
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)
