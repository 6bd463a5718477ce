package workflow

import (
	"fmt"
	"strings"
)

// Role is a closed enumeration of actor roles. Raw role strings from the
// identity collaborator are parsed once at the boundary.
type Role string

const (
	RoleAdministrator      Role = "administrator"
	RoleProgramManager     Role = "program_manager"
	RolePHPDeveloper       Role = "php_developer"
	RoleReactDeveloper     Role = "react_developer"
	RoleWordPressDeveloper Role = "wordpress_developer"
	RoleDesigner           Role = "designer"
	RoleClient             Role = "client"
	RoleCoordinator        Role = "coordinator"
	RoleTeamLead           Role = "team_lead"
)

var roles = map[Role]bool{
	RoleAdministrator:      true,
	RoleProgramManager:     true,
	RolePHPDeveloper:       true,
	RoleReactDeveloper:     true,
	RoleWordPressDeveloper: true,
	RoleDesigner:           true,
	RoleClient:             true,
	RoleCoordinator:        true,
	RoleTeamLead:           true,
}

// ParseRole rejects unrecognized role codes immediately rather than letting
// them travel through the permission tables with implicit zero rights.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !roles[r] {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// IsManagement reports whether the role is one of the two highest-privilege
// roles.
func (r Role) IsManagement() bool {
	return r == RoleAdministrator || r == RoleProgramManager
}

// buildDepartmentForRole maps builder specialties to their department.
func buildDepartmentForRole(r Role) (Department, bool) {
	switch r {
	case RolePHPDeveloper:
		return DeptBuildPHP, true
	case RoleReactDeveloper:
		return DeptBuildReact, true
	case RoleWordPressDeveloper:
		return DeptBuildWordPress, true
	}
	return "", false
}

// Permissions is what a role may do while the project sits in a department.
type Permissions struct {
	CanUpdateStatus   bool
	CanMoveDepartment bool
	CanApprove        bool
}

// RolePermissions is department-scoped on purpose: the same role has
// different authority depending on where the project currently sits.
func RolePermissions(role Role, dept Department) Permissions {
	if role.IsManagement() {
		return Permissions{CanUpdateStatus: true, CanMoveDepartment: true, CanApprove: true}
	}
	if buildDept, ok := buildDepartmentForRole(role); ok {
		return Permissions{CanUpdateStatus: dept == buildDept}
	}
	switch role {
	case RoleDesigner:
		return Permissions{CanUpdateStatus: dept == DeptDesign}
	case RoleClient:
		// Clients never move projects or touch work status; they sign off
		// in the design department only.
		return Permissions{CanApprove: dept == DeptDesign}
	}
	return Permissions{}
}

// Action is a coarse workflow action used for pre-checks before full
// transition or status validation.
type Action string

const (
	ActionMoveDepartment Action = "move_department"
	ActionUpdateStatus   Action = "update_status"
	ActionApprove        Action = "approve"
	ActionStartQA        Action = "start_qa"
)

// CheckWorkflowPermission returns a ForbiddenError naming the role and
// department when the action is not allowed. Starting QA is restricted to
// the two highest-privilege roles regardless of department.
func CheckWorkflowPermission(role Role, dept Department, action Action) error {
	perms := RolePermissions(role, dept)
	allowed := false
	switch action {
	case ActionMoveDepartment:
		allowed = perms.CanMoveDepartment
	case ActionUpdateStatus:
		allowed = perms.CanUpdateStatus
	case ActionApprove:
		allowed = perms.CanApprove
	case ActionStartQA:
		allowed = role.IsManagement()
	}
	if !allowed {
		return &ForbiddenError{Role: role, Department: dept, Action: string(action)}
	}
	return nil
}
