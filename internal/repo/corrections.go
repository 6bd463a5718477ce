package repo

import (
	"context"
	"database/sql"

	"stageline/internal/domain"
)

const correctionColumns = `id,history_id,type,description,priority,status,requested_by,assigned_to,estimated_hours,actual_hours,resolution_notes,resolved_at,created_at`

func scanCorrectionRow(scan func(dest ...any) error) (domain.Correction, error) {
	var c domain.Correction
	var priority, resolutionNotes, assignedTo, resolvedAt sql.NullString
	var estimated, actual sql.NullInt64
	err := scan(&c.ID, &c.HistoryID, &c.Type, &c.Description, &priority, &c.Status, &c.RequestedBy,
		&assignedTo, &estimated, &actual, &resolutionNotes, &resolvedAt, &c.CreatedAt)
	if err != nil {
		return c, err
	}
	c.AssignedTo = strPtr(assignedTo)
	c.EstimatedHours = intPtr(estimated)
	c.ActualHours = intPtr(actual)
	c.ResolvedAt = strPtr(resolvedAt)
	if priority.Valid {
		c.Priority = priority.String
	}
	if resolutionNotes.Valid {
		c.ResolutionNotes = resolutionNotes.String
	}
	return c, nil
}

func (r Repo) InsertCorrection(ctx context.Context, q dbtx, c domain.Correction) error {
	_, err := q.ExecContext(ctx, `INSERT INTO corrections(`+correctionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.HistoryID, c.Type, c.Description, nullable(c.Priority), c.Status, c.RequestedBy,
		nullableStringPtr(c.AssignedTo), nullableIntPtr(c.EstimatedHours), nullableIntPtr(c.ActualHours),
		nullable(c.ResolutionNotes), nullableStringPtr(c.ResolvedAt), c.CreatedAt)
	return err
}

func (r Repo) GetCorrection(ctx context.Context, id string) (domain.Correction, error) {
	return r.getCorrection(ctx, r.DB, id)
}

func (r Repo) GetCorrectionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Correction, error) {
	return r.getCorrection(ctx, tx, id)
}

func (r Repo) getCorrection(ctx context.Context, q dbtx, id string) (domain.Correction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+correctionColumns+` FROM corrections WHERE id=?`, id)
	c, err := scanCorrectionRow(row.Scan)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) UpdateCorrectionTx(ctx context.Context, tx *sql.Tx, c domain.Correction) error {
	res, err := tx.ExecContext(ctx, `UPDATE corrections SET status=?, assigned_to=?, actual_hours=?, resolution_notes=?, resolved_at=? WHERE id=?`,
		c.Status, nullableStringPtr(c.AssignedTo), nullableIntPtr(c.ActualHours),
		nullable(c.ResolutionNotes), nullableStringPtr(c.ResolvedAt), c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListCorrectionsByHistory(ctx context.Context, historyID int64) ([]domain.Correction, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+correctionColumns+` FROM corrections WHERE history_id=? ORDER BY created_at ASC, id ASC`, historyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Correction
	for rows.Next() {
		c, err := scanCorrectionRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
