package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"stageline/internal/config"
	"stageline/internal/domain"
	"stageline/internal/events"
	"stageline/internal/repo"
	"stageline/internal/workflow"
)

// Engine owns every workflow mutation. Each operation validates against the
// rule table and permission model, then applies its changes in a single
// transaction so multi-record mutations commit together or not at all.
type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Rules      *workflow.Rules
	Classifier *workflow.Classifier
	Now        func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     events.Writer{DB: db},
		Config:     cfg,
		Rules:      cfg.Rules(),
		Classifier: cfg.BugClassifier(),
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) rules() *workflow.Rules {
	if e.Rules != nil {
		return e.Rules
	}
	return workflow.DefaultRules()
}

func (e Engine) classifier() *workflow.Classifier {
	if e.Classifier != nil {
		return e.Classifier
	}
	return workflow.DefaultClassifier()
}

// actorRole loads the actor and parses its role code.
func (e Engine) actorRole(ctx context.Context, actorID string) (domain.Actor, workflow.Role, error) {
	if actorID == "" {
		return domain.Actor{}, "", errors.New("actor is required")
	}
	actor, err := e.Repo.GetActor(ctx, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Actor{}, "", fmt.Errorf("unknown actor %s", actorID)
		}
		return domain.Actor{}, "", err
	}
	role, err := workflow.ParseRole(actor.Role)
	if err != nil {
		return domain.Actor{}, "", err
	}
	return actor, role, nil
}

// elapsedDays returns ceil((end-start)/1 day) for two RFC3339 timestamps,
// nil when either is unparseable or the interval is negative.
func elapsedDays(start, end string) *int {
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339, end)
	if err != nil || t.Before(s) {
		return nil
	}
	d := int(math.Ceil(t.Sub(s).Hours() / 24))
	return &d
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// SideEffect reports the outcome of one best-effort bookkeeping step.
type SideEffect struct {
	Name string
	Err  error
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	ID                string
	Name              string
	Category          string
	InitialDepartment string
	OwnerID           string
	CoordinatorID     string
	TeamLeadID        string
	ActorID           string
}

// CreateProject inserts the project, then best-effort seeds the first
// history entry and any initial assignment rows. Failures in the seed steps
// are reported via the side-effect list but never roll back the project:
// a project must not fail to exist because bookkeeping failed.
func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, []SideEffect, error) {
	if opts.Name == "" {
		return domain.Project{}, nil, errors.New("name is required")
	}
	if opts.ActorID == "" {
		return domain.Project{}, nil, errors.New("actor is required")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.OwnerID == "" {
		opts.OwnerID = opts.ActorID
	}
	initial := workflow.DeptIntake
	if opts.InitialDepartment != "" {
		dept, err := workflow.ParseDepartment(opts.InitialDepartment)
		if err != nil {
			return domain.Project{}, nil, err
		}
		initial = dept
	}

	p := domain.Project{
		ID:                opts.ID,
		Name:              opts.Name,
		Category:          opts.Category,
		CurrentDepartment: string(initial),
		Status:            domain.ProjectActive,
		OwnerID:           opts.OwnerID,
		CreatedAt:         e.nowRFC3339(),
	}
	if opts.CoordinatorID != "" {
		p.CoordinatorID = &opts.CoordinatorID
	}
	if opts.TeamLeadID != "" {
		p.TeamLeadID = &opts.TeamLeadID
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, nil, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, opts.ActorID, events.Payload{
		"department": p.CurrentDepartment,
		"category":   p.Category,
	}); err != nil {
		return domain.Project{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, nil, err
	}

	var effects []SideEffect
	seed := domain.DepartmentHistoryEntry{
		ProjectID:    p.ID,
		ToDepartment: string(initial),
		Status:       string(workflow.StatusNotStarted),
		MovedBy:      opts.ActorID,
		CreatedAt:    p.CreatedAt,
	}
	_, err = e.Repo.InsertHistory(ctx, e.DB, seed)
	effects = append(effects, SideEffect{Name: "seed history entry", Err: err})
	if opts.CoordinatorID != "" {
		err := e.Repo.InsertAssignment(ctx, e.DB, domain.AssignmentHistory{
			ID:             uuid.NewString(),
			ProjectID:      p.ID,
			AssignmentType: "coordinator",
			NewUserID:      opts.CoordinatorID,
			ChangedBy:      opts.ActorID,
			Reason:         "initial assignment",
			CreatedAt:      p.CreatedAt,
		})
		effects = append(effects, SideEffect{Name: "initial coordinator assignment", Err: err})
	}
	if opts.TeamLeadID != "" {
		err := e.Repo.InsertAssignment(ctx, e.DB, domain.AssignmentHistory{
			ID:             uuid.NewString(),
			ProjectID:      p.ID,
			AssignmentType: "team_lead",
			NewUserID:      opts.TeamLeadID,
			ChangedBy:      opts.ActorID,
			Reason:         "initial assignment",
			CreatedAt:      p.CreatedAt,
		})
		effects = append(effects, SideEffect{Name: "initial team lead assignment", Err: err})
	}
	return p, effects, nil
}

// MoveOptions are parameters for advancing a project to another department.
type MoveOptions struct {
	ProjectID string
	To        string
	ActorID   string
	// AuthorizedBy optionally records who signed off on the move when it
	// differs from the actor performing it.
	AuthorizedBy string
	PlannedDays  *int
	Notes        string
}

// MoveToDepartment advances a project along one edge of the transition
// table. The project is re-read inside the transaction so concurrent movers
// revalidate against committed state rather than overwriting each other.
func (e Engine) MoveToDepartment(ctx context.Context, opts MoveOptions) (domain.Project, error) {
	target, err := workflow.ParseDepartment(opts.To)
	if err != nil {
		return domain.Project{}, err
	}
	_, role, err := e.actorRole(ctx, opts.ActorID)
	if err != nil {
		return domain.Project{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
	if err != nil {
		return domain.Project{}, err
	}
	current, err := workflow.ParseDepartment(p.CurrentDepartment)
	if err != nil {
		return domain.Project{}, err
	}
	if err := workflow.CheckWorkflowPermission(role, current, workflow.ActionMoveDepartment); err != nil {
		return domain.Project{}, err
	}
	if target == current {
		return domain.Project{}, &workflow.PreconditionFailedError{Reason: fmt.Sprintf("project is already in the %s department", current)}
	}
	latest, missing, err := e.checkTransition(ctx, tx, p, current, target)
	if err != nil {
		return domain.Project{}, err
	}
	if len(missing) > 0 {
		return domain.Project{}, &workflow.PreconditionFailedError{
			Reason:  fmt.Sprintf("transition %s -> %s blocked", current, target),
			Missing: missing,
		}
	}

	now := e.nowRFC3339()
	if latest.EndedAt == nil {
		latest.EndedAt = &now
		if latest.ActualDays == nil && latest.StartedAt != nil {
			latest.ActualDays = elapsedDays(*latest.StartedAt, now)
		}
		if err := e.Repo.UpdateHistoryTx(ctx, tx, latest); err != nil {
			return domain.Project{}, fmt.Errorf("close history entry: %w", err)
		}
	}
	from := string(current)
	entry := domain.DepartmentHistoryEntry{
		ProjectID:      p.ID,
		FromDepartment: &from,
		ToDepartment:   string(target),
		Status:         string(workflow.StatusNotStarted),
		PlannedDays:    opts.PlannedDays,
		MovedBy:        opts.ActorID,
		Notes:          opts.Notes,
		CreatedAt:      now,
	}
	if opts.AuthorizedBy != "" {
		entry.AuthorizedBy = &opts.AuthorizedBy
	}
	if _, err := e.Repo.InsertHistory(ctx, tx, entry); err != nil {
		return domain.Project{}, fmt.Errorf("insert history entry: %w", err)
	}
	code, err := e.projectCodeTx(ctx, tx, p.ID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.UpdateProjectWorkflowTx(ctx, tx, p.ID, string(target), code); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ProjectMoved, p.ID, "project", p.ID, opts.ActorID, events.Payload{
		"from": from,
		"to":   string(target),
		"code": code,
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	p.CurrentDepartment = string(target)
	p.NextDepartment = nil
	p.ProjectCode = code
	return p, nil
}

// checkTransition applies the edge preconditions from the rule table against
// the latest history entry. It returns the entry plus one message per unmet
// requirement; an edge absent from the table is an immediate error.
func (e Engine) checkTransition(ctx context.Context, q *sql.Tx, p domain.Project, current, target workflow.Department) (domain.DepartmentHistoryEntry, []string, error) {
	return e.checkTransitionQ(ctx, dbq{tx: q, db: e.DB}, p, current, target)
}

// dbq lets the transition check run inside a transaction (mutations) or
// directly on the pool (read-only validation).
type dbq struct {
	tx *sql.Tx
	db *sql.DB
}

func (e Engine) checkTransitionQ(ctx context.Context, q dbq, p domain.Project, current, target workflow.Department) (domain.DepartmentHistoryEntry, []string, error) {
	rules := e.rules()
	if !rules.IsValidTransition(current, target) {
		return domain.DepartmentHistoryEntry{}, nil, &workflow.InvalidTransitionError{From: string(current), To: string(target)}
	}
	req, _ := rules.TransitionRequirements(current, target)

	var latest domain.DepartmentHistoryEntry
	var err error
	if q.tx != nil {
		latest, err = e.Repo.LatestHistoryTx(ctx, q.tx, p.ID)
	} else {
		latest, err = e.Repo.LatestHistory(ctx, p.ID)
	}
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.DepartmentHistoryEntry{}, []string{"project has no department history"}, nil
		}
		return domain.DepartmentHistoryEntry{}, nil, err
	}

	var missing []string
	status := workflow.Status(latest.Status)
	if req.RequiredStatus != "" && status != req.RequiredStatus {
		missing = append(missing, fmt.Sprintf("work status must be %s (currently %s)", req.RequiredStatus, status))
	}
	if req.RequiresApproval {
		approvals, rounds, err := e.gateRecords(ctx, q, p.ID, latest.ID)
		if err != nil {
			return latest, nil, err
		}
		res := workflow.AreGatesSatisfied(rules, current, status, approvals, rounds)
		for _, m := range res.Missing {
			// The gate's MinimumWorkStatus can repeat the edge requirement.
			if !containsString(missing, m) {
				missing = append(missing, m)
			}
		}
	}
	if req.RequiresQAPassing {
		_, rounds, err := e.gateRecords(ctx, q, p.ID, latest.ID)
		if err != nil {
			return latest, nil, err
		}
		passed := false
		for _, r := range rounds {
			if r.Status == workflow.QAPassed {
				passed = true
				break
			}
		}
		if !passed {
			missing = append(missing, fmt.Sprintf("no qa round with status %s", workflow.QAPassed))
		}
	}
	return latest, missing, nil
}

// gateRecords assembles the evaluator's view: approvals scoped to the
// current history entry, QA rounds project-wide, since a passed round on an
// earlier build entry is what qualifies the project as tested.
func (e Engine) gateRecords(ctx context.Context, q dbq, projectID string, historyID int64) ([]workflow.ApprovalRecord, []workflow.QARoundRecord, error) {
	var approvals []domain.Approval
	var rounds []domain.QARound
	var err error
	if q.tx != nil {
		approvals, err = e.Repo.ListApprovalsByHistoryTx(ctx, q.tx, historyID)
	} else {
		approvals, err = e.Repo.ListApprovalsByHistory(ctx, historyID)
	}
	if err != nil {
		return nil, nil, err
	}
	if q.tx != nil {
		rounds, err = e.Repo.ListRoundsByProject(ctx, q.tx, projectID)
	} else {
		rounds, err = e.Repo.ListRoundsByProject(ctx, e.DB, projectID)
	}
	if err != nil {
		return nil, nil, err
	}
	var ar []workflow.ApprovalRecord
	for _, a := range approvals {
		ar = append(ar, workflow.ApprovalRecord{Type: workflow.ApprovalType(a.Type), Status: workflow.ApprovalStatus(a.Status)})
	}
	var rr []workflow.QARoundRecord
	for _, r := range rounds {
		rr = append(rr, workflow.QARoundRecord{Status: workflow.QAStatus(r.Status)})
	}
	return ar, rr, nil
}

// projectCodeTx recomputes the project code from the full history. The code
// is always derived fresh, never patched incrementally.
func (e Engine) projectCodeTx(ctx context.Context, tx *sql.Tx, projectID string) (string, error) {
	entries, err := e.Repo.ListHistoryTx(ctx, tx, projectID)
	if err != nil {
		return "", err
	}
	var records []workflow.HistoryRecord
	for _, h := range entries {
		records = append(records, workflow.HistoryRecord{
			ID:           h.ID,
			ToDepartment: workflow.Department(h.ToDepartment),
			Status:       workflow.Status(h.Status),
			CreatedAt:    h.CreatedAt,
		})
	}
	return workflow.GenerateCode(records), nil
}

// StatusUpdateOptions are parameters for updating work status.
type StatusUpdateOptions struct {
	ProjectID string
	Status    string
	ActorID   string
	Notes     string
}

// UpdateWorkStatus moves the current history entry through the work status
// state machine. The entry for the current department is lazily created with
// an audit note when missing; the project code is recomputed only when the
// new status is completed, the single event that can change it.
func (e Engine) UpdateWorkStatus(ctx context.Context, opts StatusUpdateOptions) (domain.DepartmentHistoryEntry, error) {
	target, err := workflow.ParseStatus(opts.Status)
	if err != nil {
		return domain.DepartmentHistoryEntry{}, err
	}
	_, role, err := e.actorRole(ctx, opts.ActorID)
	if err != nil {
		return domain.DepartmentHistoryEntry{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DepartmentHistoryEntry{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
	if err != nil {
		return domain.DepartmentHistoryEntry{}, err
	}
	dept, err := workflow.ParseDepartment(p.CurrentDepartment)
	if err != nil {
		return domain.DepartmentHistoryEntry{}, err
	}
	if err := workflow.CheckWorkflowPermission(role, dept, workflow.ActionUpdateStatus); err != nil {
		return domain.DepartmentHistoryEntry{}, err
	}

	now := e.nowRFC3339()
	latest, err := e.Repo.LatestHistoryTx(ctx, tx, opts.ProjectID)
	if errors.Is(err, repo.ErrNotFound) {
		latest = domain.DepartmentHistoryEntry{
			ProjectID:    p.ID,
			ToDepartment: string(dept),
			Status:       string(workflow.StatusNotStarted),
			MovedBy:      opts.ActorID,
			Notes:        "entry created during status update; original move record missing",
			CreatedAt:    now,
		}
		id, insErr := e.Repo.InsertHistory(ctx, tx, latest)
		if insErr != nil {
			return domain.DepartmentHistoryEntry{}, insErr
		}
		latest.ID = id
	} else if err != nil {
		return domain.DepartmentHistoryEntry{}, err
	}

	from := workflow.Status(latest.Status)
	if err := workflow.EnsureStatusTransition(from, target); err != nil {
		return domain.DepartmentHistoryEntry{}, err
	}
	if err := workflow.EnsureStatusSideConstraints(dept, from, target); err != nil {
		return domain.DepartmentHistoryEntry{}, err
	}

	latest.Status = string(target)
	if target == workflow.StatusInProgress && latest.StartedAt == nil {
		latest.StartedAt = &now
	}
	if target == workflow.StatusCompleted {
		latest.EndedAt = &now
		if latest.StartedAt != nil {
			latest.ActualDays = elapsedDays(*latest.StartedAt, now)
		}
	}
	if opts.Notes != "" {
		latest.Notes = opts.Notes
	}
	if err := e.Repo.UpdateHistoryTx(ctx, tx, latest); err != nil {
		return domain.DepartmentHistoryEntry{}, err
	}
	if target == workflow.StatusCompleted {
		code, err := e.projectCodeTx(ctx, tx, p.ID)
		if err != nil {
			return domain.DepartmentHistoryEntry{}, err
		}
		if err := e.Repo.UpdateProjectCodeTx(ctx, tx, p.ID, code); err != nil {
			return domain.DepartmentHistoryEntry{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.StatusUpdated, p.ID, "history", fmt.Sprint(latest.ID), opts.ActorID, events.Payload{
		"department": string(dept),
		"from":       string(from),
		"to":         string(target),
	}); err != nil {
		return domain.DepartmentHistoryEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DepartmentHistoryEntry{}, err
	}
	return latest, nil
}

// RegisterActor records an actor after parsing its role and department codes.
func (e Engine) RegisterActor(ctx context.Context, actor domain.Actor) (domain.Actor, error) {
	if actor.ID == "" {
		actor.ID = uuid.NewString()
	}
	role, err := workflow.ParseRole(actor.Role)
	if err != nil {
		return domain.Actor{}, err
	}
	actor.Role = string(role)
	if actor.Department != "" {
		dept, err := workflow.ParseDepartment(actor.Department)
		if err != nil {
			return domain.Actor{}, err
		}
		actor.Department = string(dept)
	}
	if actor.CreatedAt == "" {
		actor.CreatedAt = e.nowRFC3339()
	}
	if err := e.Repo.UpsertActor(ctx, e.DB, actor); err != nil {
		return domain.Actor{}, err
	}
	return actor, nil
}

// IssueAPIKey mints a key for an actor and stores only its hash. The
// plaintext is returned once and never persisted.
func (e Engine) IssueAPIKey(ctx context.Context, actorID, name string) (string, domain.APIKey, error) {
	if _, err := e.Repo.GetActor(ctx, actorID); err != nil {
		return "", domain.APIKey{}, err
	}
	plaintext := "slk_" + uuid.NewString()
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plaintext),
		CreatedAt: e.nowRFC3339(),
	}
	if err := e.Repo.InsertAPIKey(ctx, e.DB, key); err != nil {
		return "", domain.APIKey{}, err
	}
	return plaintext, key, nil
}
