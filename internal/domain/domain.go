package domain

// Project lifecycle statuses.
const (
	ProjectActive    = "active"
	ProjectOnHold    = "hold"
	ProjectCancelled = "cancelled"
	ProjectCompleted = "completed"
)

type Project struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Category          string  `json:"category"`
	CurrentDepartment string  `json:"current_department"`
	NextDepartment    *string `json:"next_department,omitempty"`
	Status            string  `json:"status" enum:"active,hold,cancelled,completed"`
	ProjectCode       string  `json:"project_code,omitempty"`
	OwnerID           string  `json:"owner_id"`
	CoordinatorID     *string `json:"coordinator_id,omitempty"`
	TeamLeadID        *string `json:"team_lead_id,omitempty"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
}

// DepartmentHistoryEntry records one occupancy of one department by one
// project. FromDepartment is nil only for the seed entry. Ordering by
// creation time (then id) is the sole source of truth for the current
// department; department identity alone is never used, since departments
// may repeat.
type DepartmentHistoryEntry struct {
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

// Correction statuses.
const (
	CorrectionOpen       = "open"
	CorrectionInProgress = "in_progress"
	CorrectionResolved   = "resolved"
)

type Correction struct {
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

type Approval struct {
	ID              string  `json:"id"`
	HistoryID       int64   `json:"history_id"`
	Type            string  `json:"type" enum:"client_approval,pre_delivery_qa,manager_review"`
	Status          string  `json:"status" enum:"pending,approved,rejected"`
	RequestedBy     string  `json:"requested_by"`
	ReviewedBy      *string `json:"reviewed_by,omitempty"`
	Comments        string  `json:"comments,omitempty"`
	RejectionReason string  `json:"rejection_reason,omitempty"`
	AttachmentURL   string  `json:"attachment_url,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	DecidedAt       *string `json:"decided_at,omitempty" format:"date-time"`
}

type QARound struct {
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

type Bug struct {
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
	FixedAt            *string `json:"fixed_at,omitempty" format:"date-time"`
}

// AssignmentHistory records coordinator/team-lead handovers. It never
// participates in gate evaluation.
type AssignmentHistory struct {
	ID             string  `json:"id"`
	ProjectID      string  `json:"project_id"`
	AssignmentType string  `json:"assignment_type" enum:"coordinator,team_lead"`
	PreviousUserID *string `json:"previous_user_id,omitempty"`
	NewUserID      string  `json:"new_user_id"`
	ChangedBy      string  `json:"changed_by"`
	Reason         string  `json:"reason,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

// Actor is the engine's view of the identity collaborator: an opaque id
// plus role and department codes parsed at the boundary.
type Actor struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
