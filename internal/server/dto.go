package server

import (
	"stageline/internal/domain"
	"stageline/internal/engine"
	"stageline/internal/workflow"
)

// Request payloads

type CreateProjectRequest struct {
	ID                string  `json:"id,omitempty"`
	Name              string  `json:"name"`
	Category          string  `json:"category,omitempty" enum:"php,react,wordpress,"`
	InitialDepartment string  `json:"initial_department,omitempty"`
	CoordinatorID     *string `json:"coordinator_id,omitempty"`
	TeamLeadID        *string `json:"team_lead_id,omitempty"`
}

type MoveRequest struct {
	To           string  `json:"to"`
	AuthorizedBy *string `json:"authorized_by,omitempty"`
	PlannedDays  *int    `json:"planned_days,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

type StatusUpdateRequest struct {
	Status string  `json:"status"`
	Notes  *string `json:"notes,omitempty"`
}

type RequestApprovalRequest struct {
	Type          string  `json:"type" enum:"client_approval,pre_delivery_qa"`
	Comments      *string `json:"comments,omitempty"`
	AttachmentURL *string `json:"attachment_url,omitempty"`
}

type DecideApprovalRequest struct {
	Decision        string  `json:"decision" enum:"approved,rejected"`
	Comments        *string `json:"comments,omitempty"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
}

type RequestReviewRequest struct {
	Comments *string `json:"comments,omitempty"`
}

type ReviewVerdictRequest struct {
	Verdict  string  `json:"verdict" enum:"proceed,revise,cancel"`
	Comments *string `json:"comments,omitempty"`
}

type StartQARoundRequest struct {
	QAType   string  `json:"qa_type" enum:"general,pre_delivery"`
	TesterID *string `json:"tester_id,omitempty"`
}

type CompleteQARoundRequest struct {
	Outcome         string  `json:"outcome" enum:"passed,failed"`
	Results         *string `json:"results,omitempty"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
}

type CreateBugRequest struct {
	Title         string  `json:"title"`
	Description   *string `json:"description,omitempty"`
	Severity      string  `json:"severity" enum:"low,medium,high,critical"`
	Steps         *string `json:"steps,omitempty"`
	ScreenshotURL *string `json:"screenshot_url,omitempty"`
	AssignedTo    *string `json:"assigned_to,omitempty"`
}

type CreateCorrectionRequest struct {
	Type           string  `json:"type"`
	Description    string  `json:"description"`
	Priority       *string `json:"priority,omitempty"`
	AssignedTo     *string `json:"assigned_to,omitempty"`
	EstimatedHours *int    `json:"estimated_hours,omitempty"`
}

type UpdateCorrectionRequest struct {
	Status          *string `json:"status,omitempty" enum:"open,in_progress,resolved"`
	AssignedTo      *string `json:"assigned_to,omitempty"`
	ActualHours     *int    `json:"actual_hours,omitempty"`
	ResolutionNotes *string `json:"resolution_notes,omitempty"`
}

type ReassignRequest struct {
	AssignmentType string  `json:"assignment_type" enum:"coordinator,team_lead"`
	NewUserID      string  `json:"new_user_id"`
	Reason         *string `json:"reason,omitempty"`
}

type ValidateRequest struct {
	Check  string `json:"check" enum:"transition,status,permission"`
	Target string `json:"target,omitempty"`
	Status string `json:"status,omitempty"`
	Action string `json:"action,omitempty"`
}

type RegisterActorRequest struct {
	ID         string  `json:"id,omitempty"`
	Name       *string `json:"name,omitempty"`
	Role       string  `json:"role"`
	Department *string `json:"department,omitempty"`
}

type IssueAPIKeyRequest struct {
	ActorID string  `json:"actor_id"`
	Name    *string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type ProjectResponse struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Category          string  `json:"category,omitempty"`
	CurrentDepartment string  `json:"current_department"`
	Status            string  `json:"status" enum:"active,hold,cancelled,completed"`
	ProjectCode       string  `json:"project_code,omitempty"`
	OwnerID           string  `json:"owner_id"`
	CoordinatorID     *string `json:"coordinator_id,omitempty"`
	TeamLeadID        *string `json:"team_lead_id,omitempty"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
}

type CreateProjectResponse struct {
	Project  ProjectResponse `json:"project"`
	Warnings []string        `json:"warnings,omitempty"`
}

type HistoryEntryResponse struct {
	ID              int64   `json:"id"`
	ProjectID       string  `json:"project_id"`
	FromDepartment  *string `json:"from_department,omitempty"`
	ToDepartment    string  `json:"to_department"`
	Status          string  `json:"status"`
	PlannedDays     *int    `json:"planned_days,omitempty"`
	ActualDays      *int    `json:"actual_days,omitempty"`
	StartedAt       *string `json:"started_at,omitempty" format:"date-time"`
	EndedAt         *string `json:"ended_at,omitempty" format:"date-time"`
	CorrectionCount int     `json:"correction_count"`
	MovedBy         string  `json:"moved_by"`
	AuthorizedBy    *string `json:"authorized_by,omitempty"`
	Notes           string  `json:"notes,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

type ApprovalResponse struct {
	ID              string  `json:"id"`
	HistoryID       int64   `json:"history_id"`
	Type            string  `json:"type"`
	Status          string  `json:"status" enum:"pending,approved,rejected"`
	RequestedBy     string  `json:"requested_by"`
	ReviewedBy      *string `json:"reviewed_by,omitempty"`
	Comments        string  `json:"comments,omitempty"`
	RejectionReason string  `json:"rejection_reason,omitempty"`
	AttachmentURL   string  `json:"attachment_url,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	DecidedAt       *string `json:"decided_at,omitempty" format:"date-time"`
}

type QARoundResponse struct {
	ID              string  `json:"id"`
	HistoryID       int64   `json:"history_id"`
	RoundNumber     int     `json:"round_number"`
	QAType          string  `json:"qa_type" enum:"general,pre_delivery"`
	Status          string  `json:"status" enum:"in_progress,passed,failed"`
	TesterID        string  `json:"tester_id"`
	BugCount        int     `json:"bug_count"`
	CriticalBugs    int     `json:"critical_bugs"`
	Results         string  `json:"results,omitempty"`
	RejectionReason string  `json:"rejection_reason,omitempty"`
	StartedAt       string  `json:"started_at" format:"date-time"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
}

type BugResponse struct {
	ID                 string  `json:"id"`
	RoundID            string  `json:"round_id"`
	Title              string  `json:"title"`
	Description        string  `json:"description,omitempty"`
	Severity           string  `json:"severity" enum:"low,medium,high,critical"`
	Status             string  `json:"status"`
	AssignedTo         *string `json:"assigned_to,omitempty"`
	AssignedDepartment string  `json:"assigned_department"`
	Steps              string  `json:"steps,omitempty"`
	ScreenshotURL      string  `json:"screenshot_url,omitempty"`
	FoundAt            string  `json:"found_at" format:"date-time"`
}

type CorrectionResponse struct {
	ID              string  `json:"id"`
	HistoryID       int64   `json:"history_id"`
	Type            string  `json:"type"`
	Description     string  `json:"description"`
	Priority        string  `json:"priority,omitempty"`
	Status          string  `json:"status" enum:"open,in_progress,resolved"`
	RequestedBy     string  `json:"requested_by"`
	AssignedTo      *string `json:"assigned_to,omitempty"`
	EstimatedHours  *int    `json:"estimated_hours,omitempty"`
	ActualHours     *int    `json:"actual_hours,omitempty"`
	ResolutionNotes string  `json:"resolution_notes,omitempty"`
	ResolvedAt      *string `json:"resolved_at,omitempty" format:"date-time"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

type AssignmentResponse struct {
	ID             string  `json:"id"`
	ProjectID      string  `json:"project_id"`
	AssignmentType string  `json:"assignment_type" enum:"coordinator,team_lead"`
	PreviousUserID *string `json:"previous_user_id,omitempty"`
	NewUserID      string  `json:"new_user_id"`
	ChangedBy      string  `json:"changed_by"`
	Reason         string  `json:"reason,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

type ActorResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type APIKeyResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	Key     string `json:"key,omitempty"`
}

type WorkflowStatusResponse struct {
	CurrentDepartment string   `json:"current_department"`
	WorkStatus        string   `json:"work_status"`
	ProjectCode       string   `json:"project_code,omitempty"`
	AllowedNext       []string `json:"allowed_next"`
	GateSatisfied     bool     `json:"gate_satisfied"`
	GateMissing       []string `json:"gate_missing,omitempty"`
	Sequence          []string `json:"sequence"`
}

type ValidationResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:                p.ID,
		Name:              p.Name,
		Category:          p.Category,
		CurrentDepartment: p.CurrentDepartment,
		Status:            p.Status,
		ProjectCode:       p.ProjectCode,
		OwnerID:           p.OwnerID,
		CoordinatorID:     p.CoordinatorID,
		TeamLeadID:        p.TeamLeadID,
		CreatedAt:         p.CreatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func historyResponse(e domain.DepartmentHistoryEntry) HistoryEntryResponse {
	return HistoryEntryResponse{
		ID:              e.ID,
		ProjectID:       e.ProjectID,
		FromDepartment:  e.FromDepartment,
		ToDepartment:    e.ToDepartment,
		Status:          e.Status,
		PlannedDays:     e.PlannedDays,
		ActualDays:      e.ActualDays,
		StartedAt:       e.StartedAt,
		EndedAt:         e.EndedAt,
		CorrectionCount: e.CorrectionCount,
		MovedBy:         e.MovedBy,
		AuthorizedBy:    e.AuthorizedBy,
		Notes:           e.Notes,
		CreatedAt:       e.CreatedAt,
	}
}

func approvalResponse(a domain.Approval) ApprovalResponse {
	return ApprovalResponse{
		ID:              a.ID,
		HistoryID:       a.HistoryID,
		Type:            a.Type,
		Status:          a.Status,
		RequestedBy:     a.RequestedBy,
		ReviewedBy:      a.ReviewedBy,
		Comments:        a.Comments,
		RejectionReason: a.RejectionReason,
		AttachmentURL:   a.AttachmentURL,
		CreatedAt:       a.CreatedAt,
		DecidedAt:       a.DecidedAt,
	}
}

func roundResponse(r domain.QARound) QARoundResponse {
	return QARoundResponse{
		ID:              r.ID,
		HistoryID:       r.HistoryID,
		RoundNumber:     r.RoundNumber,
		QAType:          r.QAType,
		Status:          r.Status,
		TesterID:        r.TesterID,
		BugCount:        r.BugCount,
		CriticalBugs:    r.CriticalBugs,
		Results:         r.Results,
		RejectionReason: r.RejectionReason,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
	}
}

func bugResponse(b domain.Bug) BugResponse {
	return BugResponse{
		ID:                 b.ID,
		RoundID:            b.RoundID,
		Title:              b.Title,
		Description:        b.Description,
		Severity:           b.Severity,
		Status:             b.Status,
		AssignedTo:         b.AssignedTo,
		AssignedDepartment: b.AssignedDepartment,
		Steps:              b.Steps,
		ScreenshotURL:      b.ScreenshotURL,
		FoundAt:            b.FoundAt,
	}
}

func correctionResponse(c domain.Correction) CorrectionResponse {
	return CorrectionResponse{
		ID:              c.ID,
		HistoryID:       c.HistoryID,
		Type:            c.Type,
		Description:     c.Description,
		Priority:        c.Priority,
		Status:          c.Status,
		RequestedBy:     c.RequestedBy,
		AssignedTo:      c.AssignedTo,
		EstimatedHours:  c.EstimatedHours,
		ActualHours:     c.ActualHours,
		ResolutionNotes: c.ResolutionNotes,
		ResolvedAt:      c.ResolvedAt,
		CreatedAt:       c.CreatedAt,
	}
}

func assignmentResponse(a domain.AssignmentHistory) AssignmentResponse {
	return AssignmentResponse{
		ID:             a.ID,
		ProjectID:      a.ProjectID,
		AssignmentType: a.AssignmentType,
		PreviousUserID: a.PreviousUserID,
		NewUserID:      a.NewUserID,
		ChangedBy:      a.ChangedBy,
		Reason:         a.Reason,
		CreatedAt:      a.CreatedAt,
	}
}

func actorResponse(a domain.Actor) ActorResponse {
	return ActorResponse{
		ID:         a.ID,
		Name:       a.Name,
		Role:       a.Role,
		Department: a.Department,
		CreatedAt:  a.CreatedAt,
	}
}

func workflowStatusResponse(ws engine.WorkflowStatus) WorkflowStatusResponse {
	return WorkflowStatusResponse{
		CurrentDepartment: ws.CurrentDepartment,
		WorkStatus:        ws.WorkStatus,
		ProjectCode:       ws.ProjectCode,
		AllowedNext:       departmentStrings(ws.AllowedNext),
		GateSatisfied:     ws.Gate.Satisfied,
		GateMissing:       ws.Gate.Missing,
		Sequence:          departmentStrings(ws.Sequence),
	}
}

func validationResponse(r engine.ValidationResult) ValidationResponse {
	return ValidationResponse{Valid: r.Valid, Errors: r.Errors}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func departmentStrings(in []workflow.Department) []string {
	res := make([]string, 0, len(in))
	for _, d := range in {
		res = append(res, string(d))
	}
	return res
}

func domainActor(req RegisterActorRequest) domain.Actor {
	return domain.Actor{
		ID:         req.ID,
		Name:       stringOrEmpty(req.Name),
		Role:       req.Role,
		Department: stringOrEmpty(req.Department),
	}
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
