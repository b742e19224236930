package workflow

import "strings"

// Role is a portal role that can own a purchase request stage.
type Role string

const (
	RoleNone          Role = ""
	RoleRequestor     Role = "REQUESTOR"
	RoleManager       Role = "MANAGER"
	RoleBranchManager Role = "BRANCH_MANAGER"
	RoleBuyerLeader   Role = "BUYER_LEADER"
	RoleBuyer         Role = "BUYER"
	RoleSystem        Role = "SYSTEM"
)

var knownRoles = map[Role]struct{}{
	RoleRequestor:     {},
	RoleManager:       {},
	RoleBranchManager: {},
	RoleBuyerLeader:   {},
	RoleBuyer:         {},
	RoleSystem:        {},
}

// ParseRole normalises a role name. DEPARTMENT_HEAD is accepted as the
// legacy name of MANAGER.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if r == "DEPARTMENT_HEAD" {
		return RoleManager, true
	}
	_, ok := knownRoles[r]
	return r, ok
}

func (r Role) String() string { return string(r) }
