package workflow

import "fmt"

// ApprovalRecord is the slice of an approval the gate evaluator needs.
type ApprovalRecord struct {
	Type   ApprovalType
	Status ApprovalStatus
}

// QARoundRecord is the slice of a QA round the gate evaluator needs.
type QARoundRecord struct {
	Status QAStatus
}

// GateResult reports gate satisfaction with one message per missing
// requirement, so callers can resolve all of them in a single round-trip.
type GateResult struct {
	Satisfied bool
	Missing   []string
}

// AreGatesSatisfied decides whether a department's gate holds. It is pure:
// the caller supplies the approval and QA records for the current history
// entry, so the evaluator needs no store.
func AreGatesSatisfied(rules *Rules, dept Department, currentStatus Status, approvals []ApprovalRecord, rounds []QARoundRecord) GateResult {
	gate, ok := rules.Gate(dept)
	if !ok {
		return GateResult{Satisfied: true}
	}
	var missing []string
	if gate.MinimumWorkStatus != "" && currentStatus != gate.MinimumWorkStatus {
		missing = append(missing, fmt.Sprintf("work status must be %s (currently %s)", gate.MinimumWorkStatus, currentStatus))
	}
	for _, required := range gate.RequiredApprovalTypes {
		if !hasApproved(approvals, required) {
			missing = append(missing, fmt.Sprintf("missing %s approval", required))
		}
	}
	if gate.RequiredQAStatus != "" && !hasRoundWithStatus(rounds, gate.RequiredQAStatus) {
		missing = append(missing, fmt.Sprintf("no qa round with status %s", gate.RequiredQAStatus))
	}
	return GateResult{Satisfied: len(missing) == 0, Missing: missing}
}

func hasApproved(approvals []ApprovalRecord, required ApprovalType) bool {
	for _, a := range approvals {
		if a.Type == required && a.Status == ApprovalApproved {
			return true
		}
	}
	return false
}

func hasRoundWithStatus(rounds []QARoundRecord, status QAStatus) bool {
	for _, r := range rounds {
		if r.Status == status {
			return true
		}
	}
	return false
}
