package workflow

import (
	"strings"
	"testing"
)

func TestStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusNotStarted, StatusInProgress},
		{StatusNotStarted, StatusOnHold},
		{StatusInProgress, StatusCompleted},
		{StatusInProgress, StatusCorrectionsNeeded},
		{StatusInProgress, StatusPendingClientApproval},
		{StatusCorrectionsNeeded, StatusBugfixInProgress},
		{StatusCompleted, StatusBeforeLiveQA},
		{StatusOnHold, StatusInProgress},
		{StatusPendingClientApproval, StatusClientRejected},
		{StatusClientRejected, StatusInProgress},
		{StatusQATesting, StatusQARejected},
		{StatusQARejected, StatusBugfixInProgress},
		{StatusBugfixInProgress, StatusQATesting},
		{StatusBeforeLiveQA, StatusReadyForDelivery},
	}
	for _, tc := range allowed {
		if err := EnsureStatusTransition(tc.from, tc.to); err != nil {
			t.Errorf("expected %s -> %s allowed: %v", tc.from, tc.to, err)
		}
	}
	denied := []struct{ from, to Status }{
		{StatusNotStarted, StatusCompleted},
		{StatusOnHold, StatusCompleted},
		{StatusCompleted, StatusInProgress},
		{StatusReadyForDelivery, StatusInProgress},
		{StatusReadyForDelivery, StatusNotStarted},
		{StatusClientRejected, StatusCompleted},
	}
	for _, tc := range denied {
		err := EnsureStatusTransition(tc.from, tc.to)
		if err == nil {
			t.Errorf("expected %s -> %s rejected", tc.from, tc.to)
			continue
		}
		if !strings.Contains(err.Error(), string(tc.from)) || !strings.Contains(err.Error(), string(tc.to)) {
			t.Errorf("error should name the pair, got %q", err.Error())
		}
	}
}

func TestReadyForDeliveryIsTerminal(t *testing.T) {
	for to := range statusTransitions {
		if CanTransitionStatus(StatusReadyForDelivery, to) {
			t.Fatalf("ready_for_delivery must be terminal, allows %s", to)
		}
	}
}

func TestStatusSideConstraints(t *testing.T) {
	if err := EnsureStatusSideConstraints(DeptIntake, StatusInProgress, StatusPendingClientApproval); err == nil {
		t.Fatalf("client approval outside design should fail")
	}
	if err := EnsureStatusSideConstraints(DeptDesign, StatusInProgress, StatusPendingClientApproval); err != nil {
		t.Fatalf("client approval in design: %v", err)
	}
	if err := EnsureStatusSideConstraints(DeptDesign, StatusInProgress, StatusQATesting); err == nil {
		t.Fatalf("qa testing outside build should fail")
	}
	if err := EnsureStatusSideConstraints(DeptBuildReact, StatusInProgress, StatusQATesting); err != nil {
		t.Fatalf("qa testing in build: %v", err)
	}
	if err := EnsureStatusSideConstraints(DeptIntake, StatusOnHold, StatusCompleted); err == nil {
		t.Fatalf("completing on-hold work should fail")
	}
}

func TestParseStatusRejectsUnknown(t *testing.T) {
	if _, err := ParseStatus("half_done"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
	if st, err := ParseStatus(" In_Progress "); err != nil || st != StatusInProgress {
		t.Fatalf("expected in_progress, got %q err %v", st, err)
	}
}
