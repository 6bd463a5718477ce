package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"stageline/internal/domain"
	"stageline/internal/events"
	"stageline/internal/workflow"
)

// QAStartOptions are parameters for opening a testing round.
type QAStartOptions struct {
	ProjectID string
	QAType    string
	TesterID  string
	ActorID   string
}

// StartQARound opens round previousMax+1 on the current history entry and
// moves the entry into its testing status: qa_testing for general rounds,
// before_live_qa for pre-delivery rounds. Only the management roles may
// start testing.
func (e Engine) StartQARound(ctx context.Context, opts QAStartOptions) (domain.QARound, error) {
	qaType, ok := workflow.ParseQAType(opts.QAType)
	if !ok {
		return domain.QARound{}, fmt.Errorf("unknown qa type %q", opts.QAType)
	}
	if opts.TesterID == "" {
		opts.TesterID = opts.ActorID
	}
	_, role, err := e.actorRole(ctx, opts.ActorID)
	if err != nil {
		return domain.QARound{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.QARound{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
	if err != nil {
		return domain.QARound{}, err
	}
	dept, err := workflow.ParseDepartment(p.CurrentDepartment)
	if err != nil {
		return domain.QARound{}, err
	}
	if err := workflow.CheckWorkflowPermission(role, dept, workflow.ActionStartQA); err != nil {
		return domain.QARound{}, err
	}
	latest, err := e.Repo.LatestHistoryTx(ctx, tx, opts.ProjectID)
	if err != nil {
		return domain.QARound{}, err
	}

	from := workflow.Status(latest.Status)
	target := workflow.StatusQATesting
	if qaType == workflow.QATypePreDelivery {
		target = workflow.StatusBeforeLiveQA
		if dept != workflow.DeptDelivery {
			return domain.QARound{}, &workflow.PreconditionFailedError{Reason: fmt.Sprintf("pre-delivery testing runs in the %s department, not %s", workflow.DeptDelivery, dept)}
		}
	}
	if err := workflow.EnsureStatusTransition(from, target); err != nil {
		return domain.QARound{}, err
	}
	if err := workflow.EnsureStatusSideConstraints(dept, from, target); err != nil {
		return domain.QARound{}, err
	}

	maxRound, err := e.Repo.MaxRoundNumber(ctx, tx, latest.ID)
	if err != nil {
		return domain.QARound{}, err
	}
	round := domain.QARound{
		ID:          uuid.NewString(),
		HistoryID:   latest.ID,
		RoundNumber: maxRound + 1,
		QAType:      string(qaType),
		Status:      string(workflow.QAInProgress),
		TesterID:    opts.TesterID,
		StartedAt:   e.nowRFC3339(),
	}
	if err := e.Repo.InsertRound(ctx, tx, round); err != nil {
		return domain.QARound{}, err
	}
	if err := e.Repo.UpdateHistoryStatusTx(ctx, tx, latest.ID, string(target)); err != nil {
		return domain.QARound{}, err
	}
	if err := e.Events.Append(ctx, tx, events.QARoundStarted, p.ID, "qa_round", round.ID, opts.ActorID, events.Payload{
		"round":  round.RoundNumber,
		"type":   round.QAType,
		"tester": round.TesterID,
	}); err != nil {
		return domain.QARound{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.QARound{}, err
	}
	return round, nil
}

// QACompleteOptions are parameters for closing a testing round.
type QACompleteOptions struct {
	RoundID         string
	Outcome         string
	ActorID         string
	Results         string
	RejectionReason string
}

// CompleteQARound stamps the verdict and recomputes the owning entry's work
// status: a passed pre-delivery round makes it ready for delivery, a passed
// general round completes it, a failure with critical bugs rejects it, any
// other failure sends it to bugfix. Bug counts are tallied from the round's
// recorded bugs, never taken on trust from the caller. A round completes
// exactly once.
func (e Engine) CompleteQARound(ctx context.Context, opts QACompleteOptions) (domain.QARound, error) {
	var outcome workflow.QAStatus
	switch opts.Outcome {
	case string(workflow.QAPassed):
		outcome = workflow.QAPassed
	case string(workflow.QAFailed):
		outcome = workflow.QAFailed
		if opts.RejectionReason == "" {
			return domain.QARound{}, &workflow.PreconditionFailedError{Reason: "a failed round requires a rejection reason"}
		}
	default:
		return domain.QARound{}, fmt.Errorf("unknown qa outcome %q", opts.Outcome)
	}
	_, role, err := e.actorRole(ctx, opts.ActorID)
	if err != nil {
		return domain.QARound{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.QARound{}, err
	}
	defer tx.Rollback()

	round, err := e.Repo.GetRoundTx(ctx, tx, opts.RoundID)
	if err != nil {
		return domain.QARound{}, err
	}
	if round.Status != string(workflow.QAInProgress) {
		return domain.QARound{}, &workflow.PreconditionFailedError{Reason: fmt.Sprintf("round %d is already %s", round.RoundNumber, round.Status)}
	}
	if !role.IsManagement() && opts.ActorID != round.TesterID {
		return domain.QARound{}, &workflow.ForbiddenError{Role: role, Action: "complete a qa round started by another tester"}
	}
	entry, err := e.Repo.GetHistoryTx(ctx, tx, round.HistoryID)
	if err != nil {
		return domain.QARound{}, err
	}

	bugs, err := e.Repo.ListBugsByRound(ctx, tx, round.ID)
	if err != nil {
		return domain.QARound{}, err
	}
	round.BugCount = len(bugs)
	round.CriticalBugs = 0
	for _, b := range bugs {
		if b.Severity == "critical" {
			round.CriticalBugs++
		}
	}

	now := e.nowRFC3339()
	round.Status = string(outcome)
	round.Results = opts.Results
	round.RejectionReason = opts.RejectionReason
	round.CompletedAt = &now
	if err := e.Repo.UpdateRoundTx(ctx, tx, round); err != nil {
		return domain.QARound{}, err
	}

	var entryStatus workflow.Status
	switch {
	case outcome == workflow.QAPassed && round.QAType == string(workflow.QATypePreDelivery):
		entryStatus = workflow.StatusReadyForDelivery
	case outcome == workflow.QAPassed:
		entryStatus = workflow.StatusCompleted
	case round.CriticalBugs > 0:
		entryStatus = workflow.StatusQARejected
	default:
		entryStatus = workflow.StatusBugfixInProgress
	}
	if entryStatus == workflow.StatusCompleted {
		entry.Status = string(entryStatus)
		entry.EndedAt = &now
		if entry.StartedAt != nil {
			entry.ActualDays = elapsedDays(*entry.StartedAt, now)
		}
		if err := e.Repo.UpdateHistoryTx(ctx, tx, entry); err != nil {
			return domain.QARound{}, err
		}
		code, err := e.projectCodeTx(ctx, tx, entry.ProjectID)
		if err != nil {
			return domain.QARound{}, err
		}
		if err := e.Repo.UpdateProjectCodeTx(ctx, tx, entry.ProjectID, code); err != nil {
			return domain.QARound{}, err
		}
	} else {
		if err := e.Repo.UpdateHistoryStatusTx(ctx, tx, entry.ID, string(entryStatus)); err != nil {
			return domain.QARound{}, err
		}
	}

	if err := e.Events.Append(ctx, tx, events.QARoundCompleted, entry.ProjectID, "qa_round", round.ID, opts.ActorID, events.Payload{
		"round":         round.RoundNumber,
		"outcome":       round.Status,
		"bugs":          round.BugCount,
		"critical_bugs": round.CriticalBugs,
	}); err != nil {
		return domain.QARound{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.QARound{}, err
	}
	return round, nil
}

// BugCreateOptions are parameters for recording a defect on a round.
type BugCreateOptions struct {
	RoundID       string
	Title         string
	Description   string
	Severity      string
	Steps         string
	ScreenshotURL string
	AssignedTo    string
	ActorID       string
}

var bugSeverities = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}

// CreateBug records a defect and routes it to a department via the keyword
// classifier. The computed department is appended to the reproduction steps
// as an audit trail; it gates nothing.
func (e Engine) CreateBug(ctx context.Context, opts BugCreateOptions) (domain.Bug, error) {
	if opts.Title == "" {
		return domain.Bug{}, fmt.Errorf("title is required")
	}
	if opts.Severity == "" {
		opts.Severity = "medium"
	}
	if !bugSeverities[opts.Severity] {
		return domain.Bug{}, fmt.Errorf("unknown severity %q", opts.Severity)
	}
	if _, _, err := e.actorRole(ctx, opts.ActorID); err != nil {
		return domain.Bug{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bug{}, err
	}
	defer tx.Rollback()

	round, err := e.Repo.GetRoundTx(ctx, tx, opts.RoundID)
	if err != nil {
		return domain.Bug{}, err
	}
	if round.Status != string(workflow.QAInProgress) {
		return domain.Bug{}, &workflow.PreconditionFailedError{Reason: fmt.Sprintf("round %d is already %s; bugs attach to open rounds", round.RoundNumber, round.Status)}
	}
	entry, err := e.Repo.GetHistoryTx(ctx, tx, round.HistoryID)
	if err != nil {
		return domain.Bug{}, err
	}

	dept := e.classifier().Classify(opts.Title, opts.Description)
	steps := strings.TrimSpace(opts.Steps)
	annotation := fmt.Sprintf("[auto-assigned to %s]", dept)
	if steps == "" {
		steps = annotation
	} else {
		steps = steps + "\n" + annotation
	}

	b := domain.Bug{
		ID:                 uuid.NewString(),
		RoundID:            round.ID,
		Title:              opts.Title,
		Description:        opts.Description,
		Severity:           opts.Severity,
		Status:             "open",
		AssignedDepartment: string(dept),
		Steps:              steps,
		ScreenshotURL:      opts.ScreenshotURL,
		FoundAt:            e.nowRFC3339(),
	}
	if opts.AssignedTo != "" {
		b.AssignedTo = &opts.AssignedTo
	}
	if err := e.Repo.InsertBug(ctx, tx, b); err != nil {
		return domain.Bug{}, err
	}
	if err := e.Events.Append(ctx, tx, events.BugCreated, entry.ProjectID, "bug", b.ID, opts.ActorID, events.Payload{
		"severity":   b.Severity,
		"department": b.AssignedDepartment,
	}); err != nil {
		return domain.Bug{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bug{}, err
	}
	return b, nil
}
