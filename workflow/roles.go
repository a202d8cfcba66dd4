package workflow

import (
	"slices"
	"strings"
)

// Role is a caller role name as issued by the identity provider.
type Role string

// Known roles. Unknown role names are carried through untouched; they simply
// never match a rule.
const (
	RoleUser             Role = "user"
	RoleAnalyst          Role = "analyst"
	RoleApprover         Role = "approver"
	RoleAdmin            Role = "admin"
	RoleKnowledgeManager Role = "knowledge_manager"
	RoleProgramManager   Role = "program_manager"
)

// implied lists the roles a role grants in addition to itself.
var implied = map[Role][]Role{
	RoleAdmin:            {RoleApprover, RoleKnowledgeManager, RoleProgramManager},
	RoleKnowledgeManager: {RoleApprover},
	RoleProgramManager:   {RoleApprover},
}

// DecisionRoles are the roles that may issue approve/reject decisions at all.
var DecisionRoles = Roles{RoleApprover, RoleAdmin}

// Roles is a set of role names.
type Roles []Role

// ParseRoles splits a comma separated role list, normalizing case and
// dropping blanks.
func ParseRoles(s string) Roles {
	var roles Roles
	for part := range strings.SplitSeq(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		roles = append(roles, Role(part))
	}
	return roles
}

// Expand returns the roles plus every role they imply, without duplicates.
func (r Roles) Expand() Roles {
	out := make(Roles, 0, len(r))
	for _, role := range r {
		out = append(out, role)
		out = append(out, implied[role]...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Has reports whether the expanded role set contains role.
func (r Roles) Has(role Role) bool {
	return slices.Contains(r.Expand(), role)
}

// Intersects reports whether the expanded role set shares any role with other.
func (r Roles) Intersects(other Roles) bool {
	expanded := r.Expand()
	return slices.ContainsFunc(other, func(role Role) bool {
		return slices.Contains(expanded, role)
	})
}

// Describe renders roles for user-facing messages, e.g. "approver or admin".
func (r Roles) Describe() string {
	names := make([]string, len(r))
	for i, role := range r {
		names[i] = string(role)
	}
	return strings.Join(names, " or ")
}

// Caller is the request-scoped identity handed to the engine by the
// identity provider. It is never persisted.
type Caller struct {
	UserID    string         `json:"user_id"`
	Roles     Roles          `json:"roles"`
	Clearance Classification `json:"clearance"`
}
