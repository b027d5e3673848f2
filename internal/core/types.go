package core

import "entitygraph/pkg/domain"

type (
	PermanentID        = domain.PermanentID
	LineageID          = domain.LineageID
	EphemeralID        = domain.EphemeralID
	Meta               = domain.Meta
	Entity             = domain.Entity
	Record             = domain.Record
	Reference          = domain.Reference
	Provenance         = domain.Provenance
	Graph              = domain.Graph
	Edge               = domain.Edge
	EdgeKey            = domain.EdgeKey
	EdgeKind           = domain.EdgeKind
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
	Snapshot           = domain.Snapshot
	PersistentRegistry = domain.PersistentRegistry
)

const (
	EdgeDirect      = domain.EdgeDirect
	EdgeListMember  = domain.EdgeListMember
	EdgeMapMember   = domain.EdgeMapMember
	EdgeSetMember   = domain.EdgeSetMember
	EdgeTupleMember = domain.EdgeTupleMember
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionRegister = domain.ActionRegister
	ActionCommit   = domain.ActionCommit
	ActionDiscard  = domain.ActionDiscard
)
