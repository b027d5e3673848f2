package domain

import "context"

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine whether a mutation lands.
const (
	// SeverityBlock aborts the register or commit with no state change.
	SeverityBlock Severity = "block"
	// SeverityWarn records the violation but allows the mutation.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation describes a single rule finding.
type Violation struct {
	Rule        string      `json:"rule"`
	Severity    Severity    `json:"severity"`
	Message     string      `json:"message"`
	EntityType  string      `json:"entity_type,omitempty"`
	PermanentID PermanentID `json:"permanent_id"`
}

// Result aggregates rule findings for one mutation.
type Result struct {
	Violations []Violation `json:"violations,omitempty"`
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking reports whether the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present; the
// mutation that produced it made no state change.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "mutation blocked by rules"
}

// Action identifies the mutation under rule evaluation.
type Action string

// Mutation kinds surfaced to rules.
const (
	// ActionRegister is the first registration of a lineage.
	ActionRegister Action = "register"
	// ActionCommit is a re-versioning of an already registered lineage.
	ActionCommit Action = "commit"
	// ActionDiscard is the removal of a superseded tree version. Discards are
	// not rule-evaluated; the constant exists for audit trails.
	ActionDiscard Action = "discard"
)

// Change describes one entity version the mutation under evaluation will
// newly store. Unchanged nodes carried over between graph versions are not
// listed. Predecessor is zero for first versions.
type Change struct {
	Action      Action      `json:"action"`
	EntityType  string      `json:"entity_type"`
	PermanentID PermanentID `json:"permanent_id"`
	LineageID   LineageID   `json:"lineage_id"`
	Predecessor PermanentID `json:"predecessor"`
}

// RuleView provides read-only access to the candidate registry state, with
// the mutation already applied, for rule evaluation.
type RuleView interface {
	// FindRecord returns any stored version by permanent id.
	FindRecord(id PermanentID) (*Record, bool)
	// FindGraph returns a stored graph by its root permanent id.
	FindGraph(rootID PermanentID) (*Graph, bool)
	// LineageVersions returns the ordered root permanent ids of a tree
	// lineage, oldest first.
	LineageVersions(lineage LineageID) []PermanentID
}

// Rule defines an evaluation executed within a mutation boundary.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rules in registration order.
func (e *RulesEngine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}
