package workflow

import (
	"errors"
	"testing"
)

func TestManagementCanDoEverything(t *testing.T) {
	for _, role := range []Role{RoleAdministrator, RoleProgramManager} {
		for dept := range departments {
			p := RolePermissions(role, dept)
			if !p.CanUpdateStatus || !p.CanMoveDepartment || !p.CanApprove {
				t.Fatalf("%s should have full permissions in %s", role, dept)
			}
		}
	}
}

func TestBuilderScopedToSpecialty(t *testing.T) {
	p := RolePermissions(RolePHPDeveloper, DeptBuildPHP)
	if !p.CanUpdateStatus {
		t.Fatalf("php developer should update status in build_php")
	}
	if p.CanMoveDepartment || p.CanApprove {
		t.Fatalf("builders never move projects or approve")
	}
	if RolePermissions(RolePHPDeveloper, DeptBuildReact).CanUpdateStatus {
		t.Fatalf("php developer has no authority in build_react")
	}
	if RolePermissions(RoleReactDeveloper, DeptDesign).CanUpdateStatus {
		t.Fatalf("react developer has no authority in design")
	}
}

func TestDesignerAndClientScopes(t *testing.T) {
	if !RolePermissions(RoleDesigner, DeptDesign).CanUpdateStatus {
		t.Fatalf("designer should update status in design")
	}
	if RolePermissions(RoleDesigner, DeptQA).CanUpdateStatus {
		t.Fatalf("designer has no authority in qa")
	}
	client := RolePermissions(RoleClient, DeptDesign)
	if client.CanUpdateStatus || client.CanMoveDepartment {
		t.Fatalf("clients never update status or move departments")
	}
	if !client.CanApprove {
		t.Fatalf("clients approve in design")
	}
	if RolePermissions(RoleClient, DeptQA).CanApprove {
		t.Fatalf("clients cannot approve outside design")
	}
}

func TestUnknownRoleRejectedAtBoundary(t *testing.T) {
	if _, err := ParseRole("intern"); err == nil {
		t.Fatalf("unknown role must be rejected")
	}
	if r, err := ParseRole(" Program_Manager "); err != nil || r != RoleProgramManager {
		t.Fatalf("expected program_manager, got %q err %v", r, err)
	}
}

func TestStartQARestrictedToManagement(t *testing.T) {
	if err := CheckWorkflowPermission(RoleProgramManager, DeptBuildReact, ActionStartQA); err != nil {
		t.Fatalf("program manager starts qa: %v", err)
	}
	err := CheckWorkflowPermission(RoleReactDeveloper, DeptBuildReact, ActionStartQA)
	var forbidden *ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	if forbidden.Role != RoleReactDeveloper {
		t.Fatalf("error should name the role: %+v", forbidden)
	}
}

func TestClassifierRouting(t *testing.T) {
	c := DefaultClassifier()
	cases := []struct {
		title, desc string
		want        Department
	}{
		{"Broken CSS on header", "", DeptDesign},
		{"HTML structure wrong", "markup nesting issue", DeptMarkup},
		{"500 on checkout", "server error in payment", DeptBuildPHP},
		{"Plugin crashes", "the wordpress plugin fails", DeptBuildWordPress},
		{"Something odd", "no keyword matches at all", DeptBuildReact},
	}
	for _, tc := range cases {
		if got := c.Classify(tc.title, tc.desc); got != tc.want {
			t.Errorf("Classify(%q, %q) = %s, want %s", tc.title, tc.desc, got, tc.want)
		}
	}
}
