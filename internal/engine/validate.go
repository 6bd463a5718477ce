package engine

import (
	"context"
	"errors"
	"fmt"

	"stageline/internal/domain"
	"stageline/internal/repo"
	"stageline/internal/workflow"
)

// ValidationResult is the outcome of a read-only validation query.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

func invalid(errs ...string) ValidationResult {
	return ValidationResult{Valid: false, Errors: errs}
}

// ValidateTransition dry-runs a department move without mutating anything.
// The read is optimistic; MoveToDepartment revalidates inside its
// transaction, so a stale answer here can never corrupt state.
func (e Engine) ValidateTransition(ctx context.Context, projectID, targetDepartment, actorID string) (ValidationResult, error) {
	target, err := workflow.ParseDepartment(targetDepartment)
	if err != nil {
		return invalid(err.Error()), nil
	}
	_, role, err := e.actorRole(ctx, actorID)
	if err != nil {
		return ValidationResult{}, err
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return ValidationResult{}, err
	}
	current, err := workflow.ParseDepartment(p.CurrentDepartment)
	if err != nil {
		return ValidationResult{}, err
	}
	if err := workflow.CheckWorkflowPermission(role, current, workflow.ActionMoveDepartment); err != nil {
		return invalid(err.Error()), nil
	}
	if target == current {
		return invalid(fmt.Sprintf("project is already in the %s department", current)), nil
	}
	_, missing, err := e.checkTransitionQ(ctx, dbq{db: e.DB}, p, current, target)
	if err != nil {
		var ite *workflow.InvalidTransitionError
		if errors.As(err, &ite) {
			return invalid(ite.Error()), nil
		}
		return ValidationResult{}, err
	}
	if len(missing) > 0 {
		return ValidationResult{Valid: false, Errors: missing}, nil
	}
	return ValidationResult{Valid: true}, nil
}

// ValidateStatusUpdate dry-runs a work status update: state machine, role
// permission and side constraints, in that order.
func (e Engine) ValidateStatusUpdate(ctx context.Context, projectID, newStatus, actorID string) (ValidationResult, error) {
	target, err := workflow.ParseStatus(newStatus)
	if err != nil {
		return invalid(err.Error()), nil
	}
	_, role, err := e.actorRole(ctx, actorID)
	if err != nil {
		return ValidationResult{}, err
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return ValidationResult{}, err
	}
	dept, err := workflow.ParseDepartment(p.CurrentDepartment)
	if err != nil {
		return ValidationResult{}, err
	}
	latest, err := e.Repo.LatestHistory(ctx, projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			latest = domain.DepartmentHistoryEntry{Status: string(workflow.StatusNotStarted)}
		} else {
			return ValidationResult{}, err
		}
	}
	var errs []string
	from := workflow.Status(latest.Status)
	if err := workflow.EnsureStatusTransition(from, target); err != nil {
		errs = append(errs, err.Error())
	}
	if err := workflow.CheckWorkflowPermission(role, dept, workflow.ActionUpdateStatus); err != nil {
		errs = append(errs, err.Error())
	}
	if err := workflow.EnsureStatusSideConstraints(dept, from, target); err != nil {
		errs = append(errs, err.Error())
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}, nil
}

// ValidateWorkflowPermission is the coarse pre-check over the four workflow
// actions, evaluated against the project's current department.
func (e Engine) ValidateWorkflowPermission(ctx context.Context, projectID, action, actorID string) (ValidationResult, error) {
	_, role, err := e.actorRole(ctx, actorID)
	if err != nil {
		return ValidationResult{}, err
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return ValidationResult{}, err
	}
	dept, err := workflow.ParseDepartment(p.CurrentDepartment)
	if err != nil {
		return ValidationResult{}, err
	}
	switch workflow.Action(action) {
	case workflow.ActionMoveDepartment, workflow.ActionUpdateStatus, workflow.ActionApprove, workflow.ActionStartQA:
	default:
		return invalid(fmt.Sprintf("unknown workflow action %q", action)), nil
	}
	if err := workflow.CheckWorkflowPermission(role, dept, workflow.Action(action)); err != nil {
		return invalid(err.Error()), nil
	}
	return ValidationResult{Valid: true}, nil
}

// WorkflowStatus is the full validation picture for a project: where it
// sits, where it may go, and what its department gate still wants.
type WorkflowStatus struct {
	CurrentDepartment string                `json:"current_department"`
	WorkStatus        string                `json:"work_status"`
	ProjectCode       string                `json:"project_code,omitempty"`
	AllowedNext       []workflow.Department `json:"allowed_next"`
	Gate              workflow.GateResult   `json:"gate"`
	Sequence          []workflow.Department `json:"sequence"`
}

// GetWorkflowStatus reports gate satisfaction and the legal next moves for
// a project without mutating anything.
func (e Engine) GetWorkflowStatus(ctx context.Context, projectID string) (WorkflowStatus, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return WorkflowStatus{}, err
	}
	dept, err := workflow.ParseDepartment(p.CurrentDepartment)
	if err != nil {
		return WorkflowStatus{}, err
	}
	rules := e.rules()
	status := WorkflowStatus{
		CurrentDepartment: p.CurrentDepartment,
		ProjectCode:       p.ProjectCode,
		AllowedNext:       rules.AllowedNextDepartments(dept),
		Sequence:          rules.WorkflowSequence(p.Category),
		Gate:              workflow.GateResult{Satisfied: true},
	}
	latest, err := e.Repo.LatestHistory(ctx, projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			status.WorkStatus = string(workflow.StatusNotStarted)
			return status, nil
		}
		return WorkflowStatus{}, err
	}
	status.WorkStatus = latest.Status
	approvals, rounds, err := e.gateRecords(ctx, dbq{db: e.DB}, p.ID, latest.ID)
	if err != nil {
		return WorkflowStatus{}, err
	}
	status.Gate = workflow.AreGatesSatisfied(rules, dept, workflow.Status(latest.Status), approvals, rounds)
	return status, nil
}
