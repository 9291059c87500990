package core

import "studiocore/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(CrossReferenceIntegrityRule())
	engine.Register(IDContiguityRule())
	engine.Register(TimeStepPlausibilityRule())
	engine.Register(OutputIntervalRule())
	return engine
}
