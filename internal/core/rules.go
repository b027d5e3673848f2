package core

import "entitygraph/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
// Hosts register additional rules on the returned engine before handing it
// to a registry.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewProvenanceCompletenessRule())
	engine.Register(NewHistoryContinuityRule())
	return engine
}
