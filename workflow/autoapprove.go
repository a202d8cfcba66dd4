package workflow

import "slices"

// Candidate is the view of a fact the auto-approval evaluator needs.
type Candidate struct {
	Type       FactType
	Confidence float64
	Flags      Flags
	Source     SourceType
}

// AdjustedConfidence returns the candidate's confidence after source and
// metadata adjustment.
func (c Candidate) AdjustedConfidence() float64 {
	return AdjustConfidence(c.Confidence, c.Flags, c.Source)
}

// CheckAutoApproval reports whether the candidate qualifies for automatic
// pending -> approved under any rule whose roles the caller holds. It is
// advisory: nothing is persisted.
func (r *Rules) CheckAutoApproval(c Candidate, roles Roles) bool {
	adjusted := c.AdjustedConfidence()

	for _, rule := range r.byFrom[StatusPending] {
		if rule.To != StatusApproved || rule.AutoApproval == nil {
			continue
		}
		if !roles.Intersects(rule.Roles) {
			continue
		}
		if rule.AutoApproval.satisfied(c.Type, adjusted) {
			return true
		}
	}

	return false
}

func (a *AutoApproval) satisfied(t FactType, adjusted float64) bool {
	if adjusted < a.MinConfidence {
		return false
	}
	if len(a.FactTypes) > 0 && !slices.Contains(a.FactTypes, t) {
		return false
	}
	if a.RequireTrustedSource && adjusted < TrustedSourceThreshold {
		return false
	}
	return true
}

// Allows reports whether the candidate satisfies this predicate. Rules that
// carry a predicate gate the transition on it even for callers holding the
// rule's roles.
func (a *AutoApproval) Allows(c Candidate) bool {
	if a == nil {
		return true
	}
	return a.satisfied(c.Type, c.AdjustedConfidence())
}
