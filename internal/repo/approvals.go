package repo

import (
	"context"
	"database/sql"

	"stageline/internal/domain"
)

const approvalColumns = `id,history_id,type,status,requested_by,reviewed_by,comments,rejection_reason,attachment_url,created_at,decided_at`

func scanApprovalRow(scan func(dest ...any) error) (domain.Approval, error) {
	var a domain.Approval
	var reviewedBy, comments, rejection, attachment, decidedAt sql.NullString
	err := scan(&a.ID, &a.HistoryID, &a.Type, &a.Status, &a.RequestedBy, &reviewedBy, &comments, &rejection, &attachment, &a.CreatedAt, &decidedAt)
	if err != nil {
		return a, err
	}
	a.ReviewedBy = strPtr(reviewedBy)
	a.DecidedAt = strPtr(decidedAt)
	if comments.Valid {
		a.Comments = comments.String
	}
	if rejection.Valid {
		a.RejectionReason = rejection.String
	}
	if attachment.Valid {
		a.AttachmentURL = attachment.String
	}
	return a, nil
}

func (r Repo) InsertApproval(ctx context.Context, q dbtx, a domain.Approval) error {
	_, err := q.ExecContext(ctx, `INSERT INTO approvals(`+approvalColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.HistoryID, a.Type, a.Status, a.RequestedBy, nullableStringPtr(a.ReviewedBy), nullable(a.Comments),
		nullable(a.RejectionReason), nullable(a.AttachmentURL), a.CreatedAt, nullableStringPtr(a.DecidedAt))
	return err
}

func (r Repo) GetApproval(ctx context.Context, id string) (domain.Approval, error) {
	return r.getApproval(ctx, r.DB, id)
}

func (r Repo) GetApprovalTx(ctx context.Context, tx *sql.Tx, id string) (domain.Approval, error) {
	return r.getApproval(ctx, tx, id)
}

func (r Repo) getApproval(ctx context.Context, q dbtx, id string) (domain.Approval, error) {
	row := q.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id=?`, id)
	a, err := scanApprovalRow(row.Scan)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) UpdateApprovalTx(ctx context.Context, tx *sql.Tx, a domain.Approval) error {
	res, err := tx.ExecContext(ctx, `UPDATE approvals SET status=?, reviewed_by=?, comments=?, rejection_reason=?, decided_at=? WHERE id=?`,
		a.Status, nullableStringPtr(a.ReviewedBy), nullable(a.Comments), nullable(a.RejectionReason), nullableStringPtr(a.DecidedAt), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListApprovalsByHistory(ctx context.Context, historyID int64) ([]domain.Approval, error) {
	return r.listApprovalsByHistory(ctx, r.DB, historyID)
}

func (r Repo) ListApprovalsByHistoryTx(ctx context.Context, tx *sql.Tx, historyID int64) ([]domain.Approval, error) {
	return r.listApprovalsByHistory(ctx, tx, historyID)
}

func (r Repo) listApprovalsByHistory(ctx context.Context, q dbtx, historyID int64) ([]domain.Approval, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE history_id=? ORDER BY created_at ASC, id ASC`, historyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Approval
	for rows.Next() {
		a, err := scanApprovalRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// CountRejectedApprovals counts terminal rejections across the whole
// project history; the manager-review threshold rule consumes it.
func (r Repo) CountRejectedApprovals(ctx context.Context, q dbtx, projectID string) (int, error) {
	row := q.QueryRowContext(ctx, `
SELECT count(*) FROM approvals a
JOIN department_history h ON h.id=a.history_id
WHERE h.project_id=? AND a.status='rejected'`, projectID)
	var n int
	err := row.Scan(&n)
	return n, err
}
