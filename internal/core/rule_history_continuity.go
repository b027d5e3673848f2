package core

import (
	"context"
	"fmt"

	"entitygraph/pkg/domain"
)

// NewHistoryContinuityRule returns the built-in rule checking that every
// changed node's predecessor pointer agrees with its recorded history, and
// that tree version lists stay append-only.
func NewHistoryContinuityRule() domain.Rule {
	return historyContinuityRule{}
}

type historyContinuityRule struct{}

func (historyContinuityRule) Name() string { return "history_continuity" }

func (historyContinuityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		rec, ok := view.FindRecord(change.PermanentID)
		if !ok {
			res.Violations = append(res.Violations, violation(change, "changed node %s is not present in the candidate state", change.PermanentID))
			continue
		}
		meta := rec.Meta
		if meta.PredecessorID != change.Predecessor {
			res.Violations = append(res.Violations, violation(change, "%s %s: predecessor %s does not match announced predecessor %s", rec.Type, change.PermanentID, meta.PredecessorID, change.Predecessor))
		}
		switch change.Action {
		case domain.ActionRegister:
			if !meta.PredecessorID.IsZero() {
				res.Violations = append(res.Violations, violation(change, "%s %s: first version carries predecessor %s", rec.Type, change.PermanentID, meta.PredecessorID))
			}
			if len(meta.History) != 0 {
				res.Violations = append(res.Violations, violation(change, "%s %s: first version carries history of length %d", rec.Type, change.PermanentID, len(meta.History)))
			}
		case domain.ActionCommit:
			if meta.PredecessorID.IsZero() {
				res.Violations = append(res.Violations, violation(change, "%s %s: re-versioned node has no predecessor", rec.Type, change.PermanentID))
			}
			if len(meta.History) == 0 {
				res.Violations = append(res.Violations, violation(change, "%s %s: re-versioned node has empty history", rec.Type, change.PermanentID))
			} else if last := meta.History[len(meta.History)-1]; last != meta.PredecessorID {
				res.Violations = append(res.Violations, violation(change, "%s %s: history ends at %s, predecessor is %s", rec.Type, change.PermanentID, last, meta.PredecessorID))
			}
		}
		// Tree lineages additionally record a version list; node lineages
		// yield an empty list here.
		if versions := view.LineageVersions(meta.LineageID); len(versions) > 0 {
			if versions[len(versions)-1] != change.PermanentID {
				res.Violations = append(res.Violations, violation(change, "%s %s: version list ends at %s instead of the changed node", rec.Type, change.PermanentID, versions[len(versions)-1]))
			}
			if change.Action == domain.ActionCommit && len(versions) >= 2 && versions[len(versions)-2] != meta.PredecessorID {
				res.Violations = append(res.Violations, violation(change, "%s %s: prior version %s does not match predecessor %s", rec.Type, change.PermanentID, versions[len(versions)-2], meta.PredecessorID))
			}
		}
	}
	return res, nil
}

func violation(change domain.Change, format string, args ...any) domain.Violation {
	return domain.Violation{
		Rule:        "history_continuity",
		Severity:    domain.SeverityBlock,
		Message:     fmt.Sprintf(format, args...),
		EntityType:  change.EntityType,
		PermanentID: change.PermanentID,
	}
}
