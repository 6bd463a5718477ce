package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"stageline/internal/domain"
	"stageline/internal/events"
	"stageline/internal/workflow"
)

// Assignment types handled by Reassign.
const (
	AssignCoordinator = "coordinator"
	AssignTeamLead    = "team_lead"
)

// ReassignOptions are parameters for handing a coordination role to another
// actor.
type ReassignOptions struct {
	ProjectID      string
	AssignmentType string
	NewUserID      string
	Reason         string
	ActorID        string
}

// Reassign hands the project's coordinator or team-lead role to another
// actor. The acting user must sit in the coordination department (or hold a
// management role); the target must sit there too and carry the sub-role
// matching the assignment type. The previous holder is captured in an
// assignment history row in the same transaction as the project update.
func (e Engine) Reassign(ctx context.Context, opts ReassignOptions) (domain.AssignmentHistory, error) {
	if opts.AssignmentType != AssignCoordinator && opts.AssignmentType != AssignTeamLead {
		return domain.AssignmentHistory{}, fmt.Errorf("unknown assignment type %q", opts.AssignmentType)
	}
	actor, role, err := e.actorRole(ctx, opts.ActorID)
	if err != nil {
		return domain.AssignmentHistory{}, err
	}
	if !role.IsManagement() && actor.Department != string(workflow.DeptCoordination) {
		return domain.AssignmentHistory{}, &workflow.ForbiddenError{Role: role, Action: "reassign coordination roles"}
	}

	target, targetRole, err := e.actorRole(ctx, opts.NewUserID)
	if err != nil {
		return domain.AssignmentHistory{}, err
	}
	if target.Department != string(workflow.DeptCoordination) {
		return domain.AssignmentHistory{}, &workflow.PreconditionFailedError{Reason: fmt.Sprintf("%s does not belong to the coordination department", target.ID)}
	}
	wantRole := workflow.RoleCoordinator
	if opts.AssignmentType == AssignTeamLead {
		wantRole = workflow.RoleTeamLead
	}
	if targetRole != wantRole {
		return domain.AssignmentHistory{}, &workflow.PreconditionFailedError{Reason: fmt.Sprintf("%s holds role %s, a %s assignment needs %s", target.ID, targetRole, opts.AssignmentType, wantRole)}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AssignmentHistory{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
	if err != nil {
		return domain.AssignmentHistory{}, err
	}
	var previous *string
	if opts.AssignmentType == AssignCoordinator {
		previous = p.CoordinatorID
	} else {
		previous = p.TeamLeadID
	}

	row := domain.AssignmentHistory{
		ID:             uuid.NewString(),
		ProjectID:      p.ID,
		AssignmentType: opts.AssignmentType,
		PreviousUserID: previous,
		NewUserID:      opts.NewUserID,
		ChangedBy:      opts.ActorID,
		Reason:         opts.Reason,
		CreatedAt:      e.nowRFC3339(),
	}
	if err := e.Repo.InsertAssignment(ctx, tx, row); err != nil {
		return domain.AssignmentHistory{}, err
	}
	if opts.AssignmentType == AssignCoordinator {
		err = e.Repo.SetProjectCoordinatorTx(ctx, tx, p.ID, opts.NewUserID)
	} else {
		err = e.Repo.SetProjectTeamLeadTx(ctx, tx, p.ID, opts.NewUserID)
	}
	if err != nil {
		return domain.AssignmentHistory{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ProjectReassigned, p.ID, "assignment", row.ID, opts.ActorID, events.Payload{
		"type": opts.AssignmentType,
		"to":   opts.NewUserID,
	}); err != nil {
		return domain.AssignmentHistory{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AssignmentHistory{}, err
	}
	return row, nil
}
