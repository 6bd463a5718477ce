package workflow

import (
	"reflect"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	r := DefaultRules()
	if !r.IsValidTransition(DeptIntake, DeptDesign) {
		t.Fatalf("intake -> design should be legal")
	}
	if !r.IsValidTransition(DeptQA, DeptDelivery) {
		t.Fatalf("qa -> delivery should be legal")
	}
	if !r.IsValidTransition(DeptQA, DeptBuildPHP) {
		t.Fatalf("qa -> build_php rework should be legal")
	}
	// everything not in the table is invalid, including skips and reversals
	for _, pair := range [][2]Department{
		{DeptIntake, DeptQA},
		{DeptIntake, DeptDelivery},
		{DeptDesign, DeptIntake},
		{DeptDesign, DeptQA},
		{DeptDelivery, DeptQA},
		{DeptMarkup, DeptDelivery},
	} {
		if r.IsValidTransition(pair[0], pair[1]) {
			t.Errorf("%s -> %s should be invalid", pair[0], pair[1])
		}
	}
}

func TestTransitionRequirements(t *testing.T) {
	r := DefaultRules()
	req, ok := r.TransitionRequirements(DeptDesign, DeptMarkup)
	if !ok || !req.RequiresApproval || req.RequiredStatus != StatusCompleted {
		t.Fatalf("design -> markup should require completed status and approval: %+v", req)
	}
	req, ok = r.TransitionRequirements(DeptQA, DeptDelivery)
	if !ok || !req.RequiresQAPassing {
		t.Fatalf("qa -> delivery should require qa passing: %+v", req)
	}
	req, ok = r.TransitionRequirements(DeptQA, DeptBuildReact)
	if !ok || req.RequiredStatus != "" {
		t.Fatalf("rework edge should have no required status: %+v", req)
	}
}

func TestAllowedNextDepartments(t *testing.T) {
	r := DefaultRules()
	next := r.AllowedNextDepartments(DeptMarkup)
	want := []Department{DeptBuildPHP, DeptBuildReact, DeptBuildWordPress}
	if !reflect.DeepEqual(next, want) {
		t.Fatalf("markup next = %v, want %v", next, want)
	}
	if got := r.AllowedNextDepartments(DeptDelivery); len(got) != 0 {
		t.Fatalf("delivery should have no outgoing edges, got %v", got)
	}
}

func TestWorkflowSequenceBranches(t *testing.T) {
	r := DefaultRules()
	cases := map[string]Department{
		"php shop site":   DeptBuildPHP,
		"WordPress blog":  DeptBuildWordPress,
		"wp landing":      DeptBuildWordPress,
		"react dashboard": DeptBuildReact,
		"plain brochure":  DeptBuildReact,
		"":                DeptBuildReact,
	}
	for category, build := range cases {
		seq := r.WorkflowSequence(category)
		if len(seq) != 6 {
			t.Fatalf("sequence length %d for %q", len(seq), category)
		}
		if seq[0] != DeptIntake || seq[1] != DeptDesign || seq[2] != DeptMarkup {
			t.Fatalf("base sequence wrong for %q: %v", category, seq)
		}
		if seq[3] != build {
			t.Errorf("category %q build = %s, want %s", category, seq[3], build)
		}
		if seq[4] != DeptQA || seq[5] != DeptDelivery {
			t.Fatalf("sequence must converge on qa, delivery: %v", seq)
		}
	}
}

func TestCanSkipDepartment(t *testing.T) {
	r := DefaultRules()
	if !r.CanSkipDepartment(DeptMarkup, "EMERGENCY client launch", RoleAdministrator) {
		t.Fatalf("administrator with emergency reason should skip markup")
	}
	if r.CanSkipDepartment(DeptMarkup, "emergency", RoleProgramManager) {
		t.Fatalf("only administrators may skip")
	}
	if r.CanSkipDepartment(DeptDesign, "emergency", RoleAdministrator) {
		t.Fatalf("design is never skippable")
	}
	if r.CanSkipDepartment(DeptQA, "emergency", RoleAdministrator) {
		t.Fatalf("qa is never skippable")
	}
	if r.CanSkipDepartment(DeptMarkup, "running late", RoleAdministrator) {
		t.Fatalf("reason must carry an emergency marker")
	}
}

func TestManagerReviewThresholds(t *testing.T) {
	r := DefaultRules()
	if r.ManagerReviewRequired(1, 2) {
		t.Fatalf("below both thresholds should not require review")
	}
	if !r.ManagerReviewRequired(2, 0) {
		t.Fatalf("rejection threshold should trigger review")
	}
	if !r.ManagerReviewRequired(0, 3) {
		t.Fatalf("critical bug threshold should trigger review")
	}
	custom := r.WithReviewThresholds(ReviewThresholds{Rejections: 5})
	if custom.ManagerReviewRequired(3, 0) {
		t.Fatalf("override should raise rejection threshold")
	}
	if !custom.ManagerReviewRequired(0, 3) {
		t.Fatalf("unset override fields keep defaults")
	}
}
