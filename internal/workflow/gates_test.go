package workflow

import (
	"strings"
	"testing"
)

func TestGatesUngatedDepartment(t *testing.T) {
	r := DefaultRules()
	res := AreGatesSatisfied(r, DeptIntake, StatusNotStarted, nil, nil)
	if !res.Satisfied || len(res.Missing) != 0 {
		t.Fatalf("intake has no gate: %+v", res)
	}
}

func TestDesignGateListsEveryMissingRequirement(t *testing.T) {
	r := DefaultRules()
	res := AreGatesSatisfied(r, DeptDesign, StatusInProgress, nil, nil)
	if res.Satisfied {
		t.Fatalf("unsatisfied gate reported satisfied")
	}
	if len(res.Missing) != 2 {
		t.Fatalf("expected status and approval messages, got %v", res.Missing)
	}
	joined := strings.Join(res.Missing, "; ")
	if !strings.Contains(joined, string(StatusCompleted)) || !strings.Contains(joined, string(ApprovalClient)) {
		t.Fatalf("missing list should name requirements: %v", res.Missing)
	}
}

func TestDesignGateSatisfied(t *testing.T) {
	r := DefaultRules()
	approvals := []ApprovalRecord{
		{Type: ApprovalClient, Status: ApprovalRejected},
		{Type: ApprovalClient, Status: ApprovalApproved},
	}
	res := AreGatesSatisfied(r, DeptDesign, StatusCompleted, approvals, nil)
	if !res.Satisfied {
		t.Fatalf("approved client sign-off should satisfy design gate: %v", res.Missing)
	}
}

func TestDesignGatePendingApprovalDoesNotCount(t *testing.T) {
	r := DefaultRules()
	approvals := []ApprovalRecord{{Type: ApprovalClient, Status: ApprovalPending}}
	res := AreGatesSatisfied(r, DeptDesign, StatusCompleted, approvals, nil)
	if res.Satisfied {
		t.Fatalf("pending approval must not satisfy the gate")
	}
}

func TestQAGateRequiresPassedRound(t *testing.T) {
	r := DefaultRules()
	res := AreGatesSatisfied(r, DeptQA, StatusCompleted, nil, []QARoundRecord{{Status: QAFailed}})
	if res.Satisfied {
		t.Fatalf("failed round must not satisfy qa gate")
	}
	res = AreGatesSatisfied(r, DeptQA, StatusCompleted, nil, []QARoundRecord{{Status: QAFailed}, {Status: QAPassed}})
	if !res.Satisfied {
		t.Fatalf("one passed round should satisfy the qa gate: %v", res.Missing)
	}
}
