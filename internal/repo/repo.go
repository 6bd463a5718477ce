package repo

import (
	"context"
	"database/sql"
	"errors"

	"stageline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// dbtx lets the same query helpers run on *sql.DB or inside a *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

const projectColumns = `id,name,category,current_department,next_department,status,project_code,owner_id,coordinator_id,team_lead_id,created_at`

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	var next, coordinator, lead sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.CurrentDepartment, &next, &p.Status, &p.ProjectCode, &p.OwnerID, &coordinator, &lead, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.NextDepartment = strPtr(next)
	p.CoordinatorID = strPtr(coordinator)
	p.TeamLeadID = strPtr(lead)
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, q dbtx, p domain.Project) error {
	_, err := q.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.Category, p.CurrentDepartment, nullableStringPtr(p.NextDepartment), p.Status, p.ProjectCode,
		p.OwnerID, nullableStringPtr(p.CoordinatorID), nullableStringPtr(p.TeamLeadID), p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return r.getProject(ctx, r.DB, id)
}

// GetProjectTx re-reads the project inside a mutating transaction so
// concurrent movers observe committed state, never a stale snapshot.
func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return r.getProject(ctx, tx, id)
}

func (r Repo) getProject(ctx context.Context, q dbtx, id string) (domain.Project, error) {
	return scanProject(q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

// SingleProject returns the workspace's only project, or ErrNotFound when
// there is none or more than one. CLI commands use it to omit --project in
// single-project workspaces.
func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) != 1 {
		return domain.Project{}, ErrNotFound
	}
	return projects[0], nil
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		var next, coordinator, lead sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.CurrentDepartment, &next, &p.Status, &p.ProjectCode, &p.OwnerID, &coordinator, &lead, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.NextDepartment = strPtr(next)
		p.CoordinatorID = strPtr(coordinator)
		p.TeamLeadID = strPtr(lead)
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProjectWorkflowTx commits a department move: new current
// department, refreshed project code, cleared next-department hint.
func (r Repo) UpdateProjectWorkflowTx(ctx context.Context, tx *sql.Tx, id, currentDepartment, projectCode string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET current_department=?, project_code=?, next_department=NULL WHERE id=?`,
		currentDepartment, projectCode, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateProjectCodeTx(ctx context.Context, tx *sql.Tx, id, projectCode string) error {
	_, err := tx.ExecContext(ctx, `UPDATE projects SET project_code=? WHERE id=?`, projectCode, id)
	return err
}

func (r Repo) UpdateProjectStatusTx(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetProjectCoordinatorTx(ctx context.Context, tx *sql.Tx, id, userID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE projects SET coordinator_id=? WHERE id=?`, userID, id)
	return err
}

func (r Repo) SetProjectTeamLeadTx(ctx context.Context, tx *sql.Tx, id, userID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE projects SET team_lead_id=? WHERE id=?`, userID, id)
	return err
}
