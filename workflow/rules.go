package workflow

import (
	"fmt"
	"slices"
)

// TrustedSourceThreshold is the adjusted confidence a fact must reach to be
// treated as coming from a trusted source.
const TrustedSourceThreshold = 0.8

// AutoApproval is the optional predicate attached to a rule.
type AutoApproval struct {
	MinConfidence        float64    `json:"min_confidence" toml:"min_confidence"`
	FactTypes            []FactType `json:"fact_types,omitempty" toml:"fact_types"`
	RequireTrustedSource bool       `json:"require_trusted_source" toml:"require_trusted_source"`
}

// Rule permits the transition From -> To for callers holding one of Roles.
type Rule struct {
	From            Status        `json:"from" toml:"from"`
	To              Status        `json:"to" toml:"to"`
	Roles           Roles         `json:"roles" toml:"roles"`
	RequiresComment bool          `json:"requires_comment" toml:"requires_comment"`
	AutoApproval    *AutoApproval `json:"auto_approval,omitempty" toml:"auto_approval"`
}

// DefaultRules is the transition table used when configuration does not
// supply one. Transitions are directional; there are no implicit inverses.
func DefaultRules() []Rule {
	reviewers := Roles{RoleKnowledgeManager, RoleProgramManager}
	return []Rule{
		{From: StatusPending, To: StatusUnderReview, Roles: reviewers},
		{From: StatusUnderReview, To: StatusApproved, Roles: reviewers},
		{From: StatusUnderReview, To: StatusRejected, Roles: reviewers, RequiresComment: true},
		{
			From:  StatusPending,
			To:    StatusApproved,
			Roles: Roles{RoleProgramManager},
			AutoApproval: &AutoApproval{
				MinConfidence:        0.9,
				RequireTrustedSource: true,
			},
		},
		{From: StatusNeedsReview, To: StatusUnderReview, Roles: reviewers},
		{From: StatusUnderReview, To: StatusNeedsReview, Roles: reviewers, RequiresComment: true},
		{From: StatusApproved, To: StatusUnderReview, Roles: reviewers},
		{From: StatusRejected, To: StatusUnderReview, Roles: reviewers},
	}
}

// Validation is the outcome of checking a transition against the table.
type Validation struct {
	Allowed         bool
	Reason          string
	RequiresComment bool
	Rule            *Rule
}

// Rules is an immutable transition table indexed by source status.
type Rules struct {
	byFrom map[Status][]Rule
	all    []Rule
}

// NewRules validates and indexes a rule list. Duplicate (from, to) pairs,
// unknown statuses, self transitions, and rules without roles are rejected.
func NewRules(rules []Rule) (*Rules, error) {
	idx := &Rules{
		byFrom: make(map[Status][]Rule),
		all:    make([]Rule, 0, len(rules)),
	}

	for i, r := range rules {
		if !r.From.Valid() || !r.To.Valid() {
			return nil, fmt.Errorf("rule %d: %w: %s -> %s", i, ErrInvalidRule, r.From, r.To)
		}
		if r.From == r.To {
			return nil, fmt.Errorf("rule %d: %w: self transition %s", i, ErrInvalidRule, r.From)
		}
		if len(r.Roles) == 0 {
			return nil, fmt.Errorf("rule %d: %w: no roles for %s -> %s", i, ErrInvalidRule, r.From, r.To)
		}
		if idx.find(r.From, r.To) != nil {
			return nil, fmt.Errorf("rule %d: %w: duplicate %s -> %s", i, ErrInvalidRule, r.From, r.To)
		}
		if a := r.AutoApproval; a != nil && !ValidConfidence(a.MinConfidence) {
			return nil, fmt.Errorf("rule %d: %w: min_confidence out of range", i, ErrInvalidRule)
		}

		r.Roles = slices.Clone(r.Roles)
		idx.byFrom[r.From] = append(idx.byFrom[r.From], r)
		idx.all = append(idx.all, r)
	}

	return idx, nil
}

// MustRules panics if the rule list is invalid. Intended for static tables.
func MustRules(rules []Rule) *Rules {
	idx, err := NewRules(rules)
	if err != nil {
		panic(err)
	}
	return idx
}

// All returns a copy of the table in declaration order.
func (r *Rules) All() []Rule {
	return slices.Clone(r.all)
}

// Validate decides whether callers holding roles may move a fact from one
// status to another, and whether a comment is mandatory.
func (r *Rules) Validate(from, to Status, roles Roles) Validation {
	rule := r.find(from, to)
	if rule == nil {
		return Validation{
			Reason: fmt.Sprintf("Transition from %s to %s is not allowed", from, to),
		}
	}

	if !roles.Intersects(rule.Roles) {
		return Validation{
			Reason: fmt.Sprintf(
				"Insufficient permissions for transition %s -> %s. Requires %s role.",
				from, to, rule.Roles.Describe(),
			),
			Rule: rule,
		}
	}

	return Validation{
		Allowed:         true,
		RequiresComment: rule.RequiresComment,
		Rule:            rule,
	}
}

// Next returns the rules leaving from that callers holding roles may apply.
func (r *Rules) Next(from Status, roles Roles) []Rule {
	var out []Rule
	for _, rule := range r.byFrom[from] {
		if roles.Intersects(rule.Roles) {
			out = append(out, rule)
		}
	}
	return out
}

func (r *Rules) find(from, to Status) *Rule {
	candidates := r.byFrom[from]
	for i := range candidates {
		if candidates[i].To == to {
			return &candidates[i]
		}
	}
	return nil
}
