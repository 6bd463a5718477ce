package workflow

import (
	"sort"
	"strings"
)

// ApprovalType classifies a sign-off request.
type ApprovalType string

const (
	ApprovalClient        ApprovalType = "client_approval"
	ApprovalPreDeliveryQA ApprovalType = "pre_delivery_qa"
	ApprovalManagerReview ApprovalType = "manager_review"
)

// ApprovalStatus is the lifecycle of an approval record.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// QAStatus is the lifecycle of a QA testing round.
type QAStatus string

const (
	QAInProgress QAStatus = "in_progress"
	QAPassed     QAStatus = "passed"
	QAFailed     QAStatus = "failed"
)

// QAType distinguishes pre-delivery rounds from general ones.
type QAType string

const (
	QATypeGeneral     QAType = "general"
	QATypePreDelivery QAType = "pre_delivery"
)

// TransitionRequirements are the preconditions attached to one edge of the
// transition table. RequiredStatus is the work status the current entry must
// hold before the project may leave on this edge.
type TransitionRequirements struct {
	RequiredStatus    Status
	RequiresApproval  bool
	RequiresQAPassing bool
}

// Gate is a per-department requirement set that must hold before any edge
// leaving the department qualifies, regardless of which edge is used.
type Gate struct {
	RequiredApprovalTypes []ApprovalType
	RequiredQAStatus      QAStatus
	MinimumWorkStatus     Status
}

// ReviewThresholds gate-keeps manager review: review is required once the
// prior rejection count or the cumulative critical-bug count reaches its
// threshold.
type ReviewThresholds struct {
	Rejections   int
	CriticalBugs int
}

// Rules is the static rule table. Built once at process start and injected
// by reference; never mutated at runtime.
type Rules struct {
	transitions map[Department]map[Department]TransitionRequirements
	gates       map[Department]Gate
	review      ReviewThresholds
}

// DefaultRules returns the standard pipeline rule table.
func DefaultRules() *Rules {
	r := &Rules{
		transitions: map[Department]map[Department]TransitionRequirements{},
		gates: map[Department]Gate{
			DeptDesign: {
				RequiredApprovalTypes: []ApprovalType{ApprovalClient},
				MinimumWorkStatus:     StatusCompleted,
			},
			DeptQA: {
				RequiredQAStatus: QAPassed,
			},
		},
		review: ReviewThresholds{Rejections: 2, CriticalBugs: 3},
	}
	completed := TransitionRequirements{RequiredStatus: StatusCompleted}
	r.addEdge(DeptIntake, DeptDesign, completed)
	r.addEdge(DeptDesign, DeptMarkup, TransitionRequirements{RequiredStatus: StatusCompleted, RequiresApproval: true})
	for _, build := range []Department{DeptBuildPHP, DeptBuildReact, DeptBuildWordPress} {
		r.addEdge(DeptMarkup, build, completed)
		r.addEdge(build, DeptQA, completed)
		// QA can send a project back to any build branch for rework.
		r.addEdge(DeptQA, build, TransitionRequirements{})
	}
	// Leaving qa needs the entry completed plus a passed round somewhere
	// in the project's testing history.
	r.addEdge(DeptQA, DeptDelivery, TransitionRequirements{RequiredStatus: StatusCompleted, RequiresQAPassing: true})
	return r
}

// WithReviewThresholds returns a copy of r with overridden manager-review
// thresholds. Used by config-driven setups and tests.
func (r *Rules) WithReviewThresholds(t ReviewThresholds) *Rules {
	copied := *r
	if t.Rejections > 0 {
		copied.review.Rejections = t.Rejections
	}
	if t.CriticalBugs > 0 {
		copied.review.CriticalBugs = t.CriticalBugs
	}
	return &copied
}

func (r *Rules) addEdge(from, to Department, req TransitionRequirements) {
	if r.transitions[from] == nil {
		r.transitions[from] = map[Department]TransitionRequirements{}
	}
	r.transitions[from][to] = req
}

// IsValidTransition reports whether (from, to) appears in the transition list.
func (r *Rules) IsValidTransition(from, to Department) bool {
	_, ok := r.transitions[from][to]
	return ok
}

// TransitionRequirements returns the preconditions attached to an edge.
func (r *Rules) TransitionRequirements(from, to Department) (TransitionRequirements, bool) {
	req, ok := r.transitions[from][to]
	return req, ok
}

// Gate returns the approval gate for a department, if one exists.
func (r *Rules) Gate(dept Department) (Gate, bool) {
	g, ok := r.gates[dept]
	return g, ok
}

// AllowedNextDepartments lists every edge leaving current, in stable order.
func (r *Rules) AllowedNextDepartments(current Department) []Department {
	var next []Department
	for dept := range r.transitions[current] {
		next = append(next, dept)
	}
	sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
	return next
}

// WorkflowSequence returns the canonical department ordering for a project
// category: the base sequence branches at the build step on the category
// keyword and converges on qa and delivery.
func (r *Rules) WorkflowSequence(category string) []Department {
	return []Department{
		DeptIntake,
		DeptDesign,
		DeptMarkup,
		BuildDepartmentForCategory(category),
		DeptQA,
		DeptDelivery,
	}
}

// CanSkipDepartment is the emergency escape hatch: only administrators may
// skip, never the two critical gated departments, and only with an explicit
// emergency marker in the reason. No orchestrator operation invokes it; it
// is reserved for the surrounding application and must be logged wherever
// invoked.
func (r *Rules) CanSkipDepartment(dept Department, reason string, role Role) bool {
	if role != RoleAdministrator {
		return false
	}
	if dept == DeptDesign || dept == DeptQA {
		return false
	}
	return strings.Contains(strings.ToLower(reason), "emergency")
}

// ManagerReviewRequired applies the threshold rule.
func (r *Rules) ManagerReviewRequired(rejections, criticalBugs int) bool {
	return rejections >= r.review.Rejections || criticalBugs >= r.review.CriticalBugs
}

// ParseApprovalType rejects unknown approval types at the boundary.
func ParseApprovalType(s string) (ApprovalType, bool) {
	t := ApprovalType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case ApprovalClient, ApprovalPreDeliveryQA, ApprovalManagerReview:
		return t, true
	}
	return "", false
}

// ParseQAType rejects unknown QA round types at the boundary.
func ParseQAType(s string) (QAType, bool) {
	t := QAType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case QATypeGeneral, QATypePreDelivery:
		return t, true
	}
	return "", false
}
