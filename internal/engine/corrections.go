package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"stageline/internal/domain"
	"stageline/internal/events"
	"stageline/internal/workflow"
)

// CorrectionCreateOptions are parameters for logging a correction request.
type CorrectionCreateOptions struct {
	ProjectID      string
	Type           string
	Description    string
	Priority       string
	AssignedTo     string
	EstimatedHours *int
	ActorID        string
}

// CreateCorrection attaches a correction to the current history entry,
// bumps the entry's correction counter and forces its status to
// corrections_needed, all in one transaction.
func (e Engine) CreateCorrection(ctx context.Context, opts CorrectionCreateOptions) (domain.Correction, error) {
	if opts.Description == "" {
		return domain.Correction{}, errors.New("description is required")
	}
	if opts.Type == "" {
		opts.Type = "general"
	}
	_, role, err := e.actorRole(ctx, opts.ActorID)
	if err != nil {
		return domain.Correction{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Correction{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
	if err != nil {
		return domain.Correction{}, err
	}
	dept, err := workflow.ParseDepartment(p.CurrentDepartment)
	if err != nil {
		return domain.Correction{}, err
	}
	perms := workflow.RolePermissions(role, dept)
	if !perms.CanUpdateStatus && !perms.CanApprove {
		return domain.Correction{}, &workflow.ForbiddenError{Role: role, Department: dept, Action: "request corrections"}
	}
	entry, err := e.Repo.LatestHistoryTx(ctx, tx, opts.ProjectID)
	if err != nil {
		return domain.Correction{}, err
	}

	c := domain.Correction{
		ID:             uuid.NewString(),
		HistoryID:      entry.ID,
		Type:           opts.Type,
		Description:    opts.Description,
		Priority:       opts.Priority,
		Status:         domain.CorrectionOpen,
		RequestedBy:    opts.ActorID,
		EstimatedHours: opts.EstimatedHours,
		CreatedAt:      e.nowRFC3339(),
	}
	if opts.AssignedTo != "" {
		c.AssignedTo = &opts.AssignedTo
	}
	if err := e.Repo.InsertCorrection(ctx, tx, c); err != nil {
		return domain.Correction{}, err
	}
	entry.CorrectionCount++
	entry.Status = string(workflow.StatusCorrectionsNeeded)
	if err := e.Repo.UpdateHistoryTx(ctx, tx, entry); err != nil {
		return domain.Correction{}, err
	}
	if err := e.Events.Append(ctx, tx, events.CorrectionCreated, p.ID, "correction", c.ID, opts.ActorID, events.Payload{
		"history_id": entry.ID,
		"count":      entry.CorrectionCount,
	}); err != nil {
		return domain.Correction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Correction{}, err
	}
	return c, nil
}

// CorrectionUpdateOptions are parameters for progressing a correction.
type CorrectionUpdateOptions struct {
	CorrectionID    string
	Status          string
	AssignedTo      string
	ActualHours     *int
	ResolutionNotes string
	ActorID         string
}

var correctionStatuses = map[string]bool{
	domain.CorrectionOpen:       true,
	domain.CorrectionInProgress: true,
	domain.CorrectionResolved:   true,
}

// UpdateCorrection progresses a correction; resolving stamps the resolution
// timestamp.
func (e Engine) UpdateCorrection(ctx context.Context, opts CorrectionUpdateOptions) (domain.Correction, error) {
	if opts.Status != "" && !correctionStatuses[opts.Status] {
		return domain.Correction{}, fmt.Errorf("unknown correction status %q", opts.Status)
	}
	if _, _, err := e.actorRole(ctx, opts.ActorID); err != nil {
		return domain.Correction{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Correction{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCorrectionTx(ctx, tx, opts.CorrectionID)
	if err != nil {
		return domain.Correction{}, err
	}
	if c.Status == domain.CorrectionResolved {
		return domain.Correction{}, &workflow.PreconditionFailedError{Reason: fmt.Sprintf("correction %s is already resolved", c.ID)}
	}
	if opts.Status != "" {
		c.Status = opts.Status
	}
	if opts.AssignedTo != "" {
		c.AssignedTo = &opts.AssignedTo
	}
	if opts.ActualHours != nil {
		c.ActualHours = opts.ActualHours
	}
	if opts.ResolutionNotes != "" {
		c.ResolutionNotes = opts.ResolutionNotes
	}
	if c.Status == domain.CorrectionResolved {
		now := e.nowRFC3339()
		c.ResolvedAt = &now
	}
	if err := e.Repo.UpdateCorrectionTx(ctx, tx, c); err != nil {
		return domain.Correction{}, err
	}
	entry, err := e.Repo.GetHistoryTx(ctx, tx, c.HistoryID)
	if err != nil {
		return domain.Correction{}, err
	}
	if err := e.Events.Append(ctx, tx, events.CorrectionUpdated, entry.ProjectID, "correction", c.ID, opts.ActorID, events.Payload{
		"status": c.Status,
	}); err != nil {
		return domain.Correction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Correction{}, err
	}
	return c, nil
}
