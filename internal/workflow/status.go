package workflow

import (
	"fmt"
	"strings"
)

// Status is the fine-grained work status of a department occupancy.
type Status string

const (
	StatusNotStarted            Status = "not_started"
	StatusInProgress            Status = "in_progress"
	StatusCompleted             Status = "completed"
	StatusOnHold                Status = "on_hold"
	StatusCorrectionsNeeded     Status = "corrections_needed"
	StatusPendingClientApproval Status = "pending_client_approval"
	StatusClientRejected        Status = "client_rejected"
	StatusQATesting             Status = "qa_testing"
	StatusQARejected            Status = "qa_rejected"
	StatusBugfixInProgress      Status = "bugfix_in_progress"
	StatusBeforeLiveQA          Status = "before_live_qa"
	StatusReadyForDelivery      Status = "ready_for_delivery"
)

// statusTransitions is the closed outward-transition table.
// ready_for_delivery is terminal.
var statusTransitions = map[Status][]Status{
	StatusNotStarted:            {StatusInProgress, StatusOnHold},
	StatusInProgress:            {StatusCompleted, StatusOnHold, StatusCorrectionsNeeded, StatusPendingClientApproval, StatusQATesting},
	StatusCorrectionsNeeded:     {StatusInProgress, StatusBugfixInProgress},
	StatusCompleted:             {StatusPendingClientApproval, StatusQATesting, StatusBeforeLiveQA},
	StatusOnHold:                {StatusInProgress},
	StatusPendingClientApproval: {StatusCompleted, StatusClientRejected},
	StatusClientRejected:        {StatusInProgress},
	StatusQATesting:             {StatusCompleted, StatusQARejected},
	StatusQARejected:            {StatusBugfixInProgress},
	StatusBugfixInProgress:      {StatusQATesting, StatusInProgress},
	StatusBeforeLiveQA:          {StatusReadyForDelivery, StatusQARejected},
	StatusReadyForDelivery:      {},
}

// ParseStatus rejects unknown work statuses at the boundary.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := statusTransitions[st]; !ok {
		return "", fmt.Errorf("unknown work status %q", s)
	}
	return st, nil
}

// CanTransitionStatus reports whether from -> to appears in the table.
func CanTransitionStatus(from, to Status) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EnsureStatusTransition returns an InvalidTransitionError naming the
// attempted pair when from -> to is not in the table.
func EnsureStatusTransition(from, to Status) error {
	if !CanTransitionStatus(from, to) {
		return &InvalidTransitionError{From: string(from), To: string(to)}
	}
	return nil
}

// EnsureStatusSideConstraints enforces the constraints the transition table
// alone cannot express: client approval may only be requested from the
// design department, qa_testing only from a build department, and completed
// only from in_progress.
func EnsureStatusSideConstraints(dept Department, from, to Status) error {
	switch to {
	case StatusPendingClientApproval:
		if dept != DeptDesign {
			return &PreconditionFailedError{Reason: fmt.Sprintf("client approval can only be requested from the design department, not %s", dept)}
		}
	case StatusQATesting:
		if !dept.IsBuild() {
			return &PreconditionFailedError{Reason: fmt.Sprintf("qa testing can only be requested from a build department, not %s", dept)}
		}
	case StatusCompleted:
		if from != StatusInProgress {
			return &PreconditionFailedError{Reason: fmt.Sprintf("work must be in progress before it can be completed (current status %s)", from)}
		}
	}
	return nil
}
