package repo

import (
	"context"
	"database/sql"

	"stageline/internal/domain"
)

const assignmentColumns = `id,project_id,assignment_type,previous_user_id,new_user_id,changed_by,reason,created_at`

func (r Repo) InsertAssignment(ctx context.Context, q dbtx, a domain.AssignmentHistory) error {
	_, err := q.ExecContext(ctx, `INSERT INTO assignment_history(`+assignmentColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.ProjectID, a.AssignmentType, nullableStringPtr(a.PreviousUserID), a.NewUserID,
		a.ChangedBy, nullable(a.Reason), a.CreatedAt)
	return err
}

func (r Repo) ListAssignments(ctx context.Context, projectID string) ([]domain.AssignmentHistory, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+assignmentColumns+` FROM assignment_history WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AssignmentHistory
	for rows.Next() {
		var a domain.AssignmentHistory
		var prev, reason sql.NullString
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.AssignmentType, &prev, &a.NewUserID, &a.ChangedBy, &reason, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.PreviousUserID = strPtr(prev)
		if reason.Valid {
			a.Reason = reason.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
