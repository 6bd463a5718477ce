package repo

import (
	"context"
	"database/sql"

	"stageline/internal/domain"
)

const historyColumns = `id,project_id,from_department,to_department,status,planned_days,actual_days,started_at,ended_at,correction_count,moved_by,authorized_by,notes,created_at`

func scanHistoryRow(scan func(dest ...any) error) (domain.DepartmentHistoryEntry, error) {
	var e domain.DepartmentHistoryEntry
	var from, startedAt, endedAt, authorizedBy, notes sql.NullString
	var planned, actual sql.NullInt64
	err := scan(&e.ID, &e.ProjectID, &from, &e.ToDepartment, &e.Status, &planned, &actual, &startedAt, &endedAt,
		&e.CorrectionCount, &e.MovedBy, &authorizedBy, &notes, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	e.FromDepartment = strPtr(from)
	e.PlannedDays = intPtr(planned)
	e.ActualDays = intPtr(actual)
	e.StartedAt = strPtr(startedAt)
	e.EndedAt = strPtr(endedAt)
	e.AuthorizedBy = strPtr(authorizedBy)
	if notes.Valid {
		e.Notes = notes.String
	}
	return e, nil
}

// InsertHistory appends a department occupancy row and returns its id.
func (r Repo) InsertHistory(ctx context.Context, q dbtx, e domain.DepartmentHistoryEntry) (int64, error) {
	res, err := q.ExecContext(ctx, `INSERT INTO department_history(project_id,from_department,to_department,status,planned_days,actual_days,started_at,ended_at,correction_count,moved_by,authorized_by,notes,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ProjectID, nullableStringPtr(e.FromDepartment), e.ToDepartment, e.Status, nullableIntPtr(e.PlannedDays), nullableIntPtr(e.ActualDays),
		nullableStringPtr(e.StartedAt), nullableStringPtr(e.EndedAt), e.CorrectionCount, e.MovedBy, nullableStringPtr(e.AuthorizedBy),
		nullable(e.Notes), e.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetHistory(ctx context.Context, id int64) (domain.DepartmentHistoryEntry, error) {
	return r.getHistory(ctx, r.DB, id)
}

func (r Repo) GetHistoryTx(ctx context.Context, tx *sql.Tx, id int64) (domain.DepartmentHistoryEntry, error) {
	return r.getHistory(ctx, tx, id)
}

func (r Repo) getHistory(ctx context.Context, q dbtx, id int64) (domain.DepartmentHistoryEntry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM department_history WHERE id=?`, id)
	e, err := scanHistoryRow(row.Scan)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

// LatestHistory returns the most recent entry for a project — the single
// source of truth for the current department. The lookup is always by
// creation order, never by department identity, since departments repeat.
func (r Repo) LatestHistory(ctx context.Context, projectID string) (domain.DepartmentHistoryEntry, error) {
	return r.latestHistory(ctx, r.DB, projectID)
}

func (r Repo) LatestHistoryTx(ctx context.Context, tx *sql.Tx, projectID string) (domain.DepartmentHistoryEntry, error) {
	return r.latestHistory(ctx, tx, projectID)
}

func (r Repo) latestHistory(ctx context.Context, q dbtx, projectID string) (domain.DepartmentHistoryEntry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM department_history WHERE project_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, projectID)
	e, err := scanHistoryRow(row.Scan)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

// ListHistory returns all entries for a project in creation order.
func (r Repo) ListHistory(ctx context.Context, projectID string) ([]domain.DepartmentHistoryEntry, error) {
	return r.listHistory(ctx, r.DB, projectID)
}

func (r Repo) ListHistoryTx(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.DepartmentHistoryEntry, error) {
	return r.listHistory(ctx, tx, projectID)
}

func (r Repo) listHistory(ctx context.Context, q dbtx, projectID string) ([]domain.DepartmentHistoryEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+historyColumns+` FROM department_history WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DepartmentHistoryEntry
	for rows.Next() {
		e, err := scanHistoryRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// UpdateHistoryTx updates the mutable fields of the current entry. Entries
// are immutable once superseded; callers must only pass the latest entry.
func (r Repo) UpdateHistoryTx(ctx context.Context, tx *sql.Tx, e domain.DepartmentHistoryEntry) error {
	res, err := tx.ExecContext(ctx, `UPDATE department_history SET status=?, planned_days=?, actual_days=?, started_at=?, ended_at=?, correction_count=?, notes=? WHERE id=?`,
		e.Status, nullableIntPtr(e.PlannedDays), nullableIntPtr(e.ActualDays), nullableStringPtr(e.StartedAt), nullableStringPtr(e.EndedAt),
		e.CorrectionCount, nullable(e.Notes), e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateHistoryStatusTx(ctx context.Context, tx *sql.Tx, id int64, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE department_history SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
