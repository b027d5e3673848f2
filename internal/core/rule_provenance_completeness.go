package core

import (
	"context"
	"fmt"

	"entitygraph/pkg/domain"
)

// NewProvenanceCompletenessRule returns the built-in rule requiring a
// provenance entry, self-originated included, for every declared field of
// every changed node.
func NewProvenanceCompletenessRule() domain.Rule {
	return provenanceCompletenessRule{}
}

type provenanceCompletenessRule struct{}

func (provenanceCompletenessRule) Name() string { return "provenance_completeness" }

func (provenanceCompletenessRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		rec, ok := view.FindRecord(change.PermanentID)
		if !ok {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:        "provenance_completeness",
				Severity:    domain.SeverityBlock,
				Message:     fmt.Sprintf("changed node %s is not present in the candidate state", change.PermanentID),
				EntityType:  change.EntityType,
				PermanentID: change.PermanentID,
			})
			continue
		}
		for _, field := range rec.Fields {
			if _, ok := rec.Provenance[field]; !ok {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:        "provenance_completeness",
					Severity:    domain.SeverityBlock,
					Message:     fmt.Sprintf("%s %s: field %q has no provenance entry", rec.Type, change.PermanentID, field),
					EntityType:  rec.Type,
					PermanentID: change.PermanentID,
				})
			}
		}
	}
	return res, nil
}
