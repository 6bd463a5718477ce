package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"stageline/internal/domain"
	"stageline/internal/events"
	"stageline/internal/workflow"
)

// ApprovalRequestOptions are parameters for requesting a sign-off.
type ApprovalRequestOptions struct {
	ProjectID     string
	Type          string
	ActorID       string
	Comments      string
	AttachmentURL string
}

// RequestApproval creates a pending approval on the current history entry.
// A client approval request also moves the entry into
// pending_client_approval, which the state machine only allows while the
// project sits in the design department.
func (e Engine) RequestApproval(ctx context.Context, opts ApprovalRequestOptions) (domain.Approval, error) {
	approvalType, ok := workflow.ParseApprovalType(opts.Type)
	if !ok {
		return domain.Approval{}, fmt.Errorf("unknown approval type %q", opts.Type)
	}
	_, role, err := e.actorRole(ctx, opts.ActorID)
	if err != nil {
		return domain.Approval{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Approval{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
	if err != nil {
		return domain.Approval{}, err
	}
	dept, err := workflow.ParseDepartment(p.CurrentDepartment)
	if err != nil {
		return domain.Approval{}, err
	}
	if err := workflow.CheckWorkflowPermission(role, dept, workflow.ActionUpdateStatus); err != nil {
		return domain.Approval{}, err
	}
	latest, err := e.Repo.LatestHistoryTx(ctx, tx, opts.ProjectID)
	if err != nil {
		return domain.Approval{}, err
	}

	now := e.nowRFC3339()
	if approvalType == workflow.ApprovalClient {
		from := workflow.Status(latest.Status)
		if err := workflow.EnsureStatusTransition(from, workflow.StatusPendingClientApproval); err != nil {
			return domain.Approval{}, err
		}
		if err := workflow.EnsureStatusSideConstraints(dept, from, workflow.StatusPendingClientApproval); err != nil {
			return domain.Approval{}, err
		}
		if err := e.Repo.UpdateHistoryStatusTx(ctx, tx, latest.ID, string(workflow.StatusPendingClientApproval)); err != nil {
			return domain.Approval{}, err
		}
	}

	a := domain.Approval{
		ID:            uuid.NewString(),
		HistoryID:     latest.ID,
		Type:          string(approvalType),
		Status:        string(workflow.ApprovalPending),
		RequestedBy:   opts.ActorID,
		Comments:      opts.Comments,
		AttachmentURL: opts.AttachmentURL,
		CreatedAt:     now,
	}
	if err := e.Repo.InsertApproval(ctx, tx, a); err != nil {
		return domain.Approval{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ApprovalRequested, p.ID, "approval", a.ID, opts.ActorID, events.Payload{
		"type":       a.Type,
		"history_id": latest.ID,
	}); err != nil {
		return domain.Approval{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Approval{}, err
	}
	return a, nil
}

// ApprovalDecisionOptions are parameters for deciding a pending approval.
type ApprovalDecisionOptions struct {
	ApprovalID      string
	Decision        string
	ActorID         string
	Comments        string
	RejectionReason string
}

// SubmitApproval stamps the decision and recomputes the owning history
// entry's work status: approved lifts it to completed, rejected drops it to
// the rejection status matching the approval type. An approval is decided
// exactly once.
func (e Engine) SubmitApproval(ctx context.Context, opts ApprovalDecisionOptions) (domain.Approval, error) {
	var decision workflow.ApprovalStatus
	switch opts.Decision {
	case string(workflow.ApprovalApproved):
		decision = workflow.ApprovalApproved
	case string(workflow.ApprovalRejected):
		decision = workflow.ApprovalRejected
		if opts.RejectionReason == "" {
			return domain.Approval{}, &workflow.PreconditionFailedError{Reason: "a rejection requires a reason"}
		}
	default:
		return domain.Approval{}, fmt.Errorf("unknown decision %q", opts.Decision)
	}
	_, role, err := e.actorRole(ctx, opts.ActorID)
	if err != nil {
		return domain.Approval{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Approval{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetApprovalTx(ctx, tx, opts.ApprovalID)
	if err != nil {
		return domain.Approval{}, err
	}
	if a.Status != string(workflow.ApprovalPending) {
		return domain.Approval{}, &workflow.PreconditionFailedError{Reason: fmt.Sprintf("approval %s is already %s", a.ID, a.Status)}
	}
	entry, err := e.Repo.GetHistoryTx(ctx, tx, a.HistoryID)
	if err != nil {
		return domain.Approval{}, err
	}
	dept, err := workflow.ParseDepartment(entry.ToDepartment)
	if err != nil {
		return domain.Approval{}, err
	}
	if err := workflow.CheckWorkflowPermission(role, dept, workflow.ActionApprove); err != nil {
		return domain.Approval{}, err
	}

	now := e.nowRFC3339()
	a.Status = string(decision)
	a.ReviewedBy = &opts.ActorID
	a.DecidedAt = &now
	if opts.Comments != "" {
		a.Comments = opts.Comments
	}
	a.RejectionReason = opts.RejectionReason
	if err := e.Repo.UpdateApprovalTx(ctx, tx, a); err != nil {
		return domain.Approval{}, err
	}

	next := approvalOutcomeStatus(workflow.ApprovalType(a.Type), decision)
	if next != "" && workflow.CanTransitionStatus(workflow.Status(entry.Status), next) {
		if err := e.Repo.UpdateHistoryStatusTx(ctx, tx, entry.ID, string(next)); err != nil {
			return domain.Approval{}, err
		}
		if next == workflow.StatusCompleted {
			code, err := e.projectCodeTx(ctx, tx, entry.ProjectID)
			if err != nil {
				return domain.Approval{}, err
			}
			if err := e.Repo.UpdateProjectCodeTx(ctx, tx, entry.ProjectID, code); err != nil {
				return domain.Approval{}, err
			}
		}
	}

	if err := e.Events.Append(ctx, tx, events.ApprovalDecided, entry.ProjectID, "approval", a.ID, opts.ActorID, events.Payload{
		"type":     a.Type,
		"decision": a.Status,
	}); err != nil {
		return domain.Approval{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Approval{}, err
	}
	return a, nil
}

// approvalOutcomeStatus maps a decided approval to the work status it
// induces on the owning history entry.
func approvalOutcomeStatus(t workflow.ApprovalType, decision workflow.ApprovalStatus) workflow.Status {
	if decision == workflow.ApprovalApproved {
		return workflow.StatusCompleted
	}
	switch t {
	case workflow.ApprovalClient:
		return workflow.StatusClientRejected
	case workflow.ApprovalPreDeliveryQA:
		return workflow.StatusQARejected
	}
	return ""
}

// ReviewRequestOptions are parameters for requesting manager review.
type ReviewRequestOptions struct {
	ProjectID string
	ActorID   string
	Comments  string
}

// RequestManagerReview opens a manager_review approval, but only when the
// threshold rule fires: enough prior rejections or enough cumulative
// critical bugs across the project's QA rounds.
func (e Engine) RequestManagerReview(ctx context.Context, opts ReviewRequestOptions) (domain.Approval, error) {
	if _, _, err := e.actorRole(ctx, opts.ActorID); err != nil {
		return domain.Approval{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Approval{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
	if err != nil {
		return domain.Approval{}, err
	}
	rejections, err := e.Repo.CountRejectedApprovals(ctx, tx, p.ID)
	if err != nil {
		return domain.Approval{}, err
	}
	critical, err := e.Repo.SumCriticalBugs(ctx, tx, p.ID)
	if err != nil {
		return domain.Approval{}, err
	}
	if !e.rules().ManagerReviewRequired(rejections, critical) {
		return domain.Approval{}, &workflow.PreconditionFailedError{
			Reason: fmt.Sprintf("manager review not required: %d rejections, %d critical bugs", rejections, critical),
		}
	}
	latest, err := e.Repo.LatestHistoryTx(ctx, tx, p.ID)
	if err != nil {
		return domain.Approval{}, err
	}

	a := domain.Approval{
		ID:          uuid.NewString(),
		HistoryID:   latest.ID,
		Type:        string(workflow.ApprovalManagerReview),
		Status:      string(workflow.ApprovalPending),
		RequestedBy: opts.ActorID,
		Comments:    opts.Comments,
		CreatedAt:   e.nowRFC3339(),
	}
	if err := e.Repo.InsertApproval(ctx, tx, a); err != nil {
		return domain.Approval{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ReviewRequested, p.ID, "approval", a.ID, opts.ActorID, events.Payload{
		"rejections":    rejections,
		"critical_bugs": critical,
	}); err != nil {
		return domain.Approval{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Approval{}, err
	}
	return a, nil
}

// Manager review verdicts.
const (
	ReviewProceed = "proceed"
	ReviewRevise  = "revise"
	ReviewCancel  = "cancel"
)

// ReviewDecisionOptions are parameters for submitting a manager review.
type ReviewDecisionOptions struct {
	ApprovalID string
	Verdict    string
	ActorID    string
	Comments   string
}

// SubmitManagerReview records the verdict and updates project and history
// state in one transaction: proceed keeps the project active and marks the
// entry ready for delivery, revise keeps it active but demands corrections,
// cancel stops the project outright without touching the entry. Restricted
// to the management roles.
func (e Engine) SubmitManagerReview(ctx context.Context, opts ReviewDecisionOptions) (domain.Approval, error) {
	_, role, err := e.actorRole(ctx, opts.ActorID)
	if err != nil {
		return domain.Approval{}, err
	}
	if !role.IsManagement() {
		return domain.Approval{}, &workflow.ForbiddenError{Role: role, Action: "submit manager review"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Approval{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetApprovalTx(ctx, tx, opts.ApprovalID)
	if err != nil {
		return domain.Approval{}, err
	}
	if a.Type != string(workflow.ApprovalManagerReview) {
		return domain.Approval{}, &workflow.PreconditionFailedError{Reason: fmt.Sprintf("approval %s is a %s, not a manager review", a.ID, a.Type)}
	}
	if a.Status != string(workflow.ApprovalPending) {
		return domain.Approval{}, &workflow.PreconditionFailedError{Reason: fmt.Sprintf("review %s is already %s", a.ID, a.Status)}
	}
	entry, err := e.Repo.GetHistoryTx(ctx, tx, a.HistoryID)
	if err != nil {
		return domain.Approval{}, err
	}

	now := e.nowRFC3339()
	a.ReviewedBy = &opts.ActorID
	a.DecidedAt = &now
	if opts.Comments != "" {
		a.Comments = opts.Comments
	}

	var projectStatus string
	var entryStatus workflow.Status
	switch opts.Verdict {
	case ReviewProceed:
		a.Status = string(workflow.ApprovalApproved)
		projectStatus = domain.ProjectActive
		entryStatus = workflow.StatusReadyForDelivery
	case ReviewRevise:
		a.Status = string(workflow.ApprovalRejected)
		a.RejectionReason = "revisions requested"
		projectStatus = domain.ProjectActive
		entryStatus = workflow.StatusCorrectionsNeeded
	case ReviewCancel:
		a.Status = string(workflow.ApprovalRejected)
		a.RejectionReason = "project cancelled"
		projectStatus = domain.ProjectCancelled
	default:
		return domain.Approval{}, fmt.Errorf("unknown review verdict %q", opts.Verdict)
	}

	if err := e.Repo.UpdateApprovalTx(ctx, tx, a); err != nil {
		return domain.Approval{}, err
	}
	if err := e.Repo.UpdateProjectStatusTx(ctx, tx, entry.ProjectID, projectStatus); err != nil {
		return domain.Approval{}, err
	}
	if entryStatus != "" {
		if err := e.Repo.UpdateHistoryStatusTx(ctx, tx, entry.ID, string(entryStatus)); err != nil {
			return domain.Approval{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.ReviewDecided, entry.ProjectID, "approval", a.ID, opts.ActorID, events.Payload{
		"verdict": opts.Verdict,
	}); err != nil {
		return domain.Approval{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Approval{}, err
	}
	return a, nil
}
