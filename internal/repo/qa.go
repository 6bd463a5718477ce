package repo

import (
	"context"
	"database/sql"

	"stageline/internal/domain"
)

const roundColumns = `id,history_id,round_number,qa_type,status,tester_id,bug_count,critical_bugs,results,rejection_reason,started_at,completed_at`

func scanRoundRow(scan func(dest ...any) error) (domain.QARound, error) {
	var q domain.QARound
	var results, rejection, completedAt sql.NullString
	err := scan(&q.ID, &q.HistoryID, &q.RoundNumber, &q.QAType, &q.Status, &q.TesterID, &q.BugCount, &q.CriticalBugs,
		&results, &rejection, &q.StartedAt, &completedAt)
	if err != nil {
		return q, err
	}
	q.CompletedAt = strPtr(completedAt)
	if results.Valid {
		q.Results = results.String
	}
	if rejection.Valid {
		q.RejectionReason = rejection.String
	}
	return q, nil
}

func (r Repo) InsertRound(ctx context.Context, q dbtx, round domain.QARound) error {
	_, err := q.ExecContext(ctx, `INSERT INTO qa_rounds(`+roundColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		round.ID, round.HistoryID, round.RoundNumber, round.QAType, round.Status, round.TesterID, round.BugCount,
		round.CriticalBugs, nullable(round.Results), nullable(round.RejectionReason), round.StartedAt, nullableStringPtr(round.CompletedAt))
	return err
}

func (r Repo) GetRound(ctx context.Context, id string) (domain.QARound, error) {
	return r.getRound(ctx, r.DB, id)
}

func (r Repo) GetRoundTx(ctx context.Context, tx *sql.Tx, id string) (domain.QARound, error) {
	return r.getRound(ctx, tx, id)
}

func (r Repo) getRound(ctx context.Context, q dbtx, id string) (domain.QARound, error) {
	row := q.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM qa_rounds WHERE id=?`, id)
	round, err := scanRoundRow(row.Scan)
	if err == sql.ErrNoRows {
		return round, ErrNotFound
	}
	return round, err
}

func (r Repo) UpdateRoundTx(ctx context.Context, tx *sql.Tx, round domain.QARound) error {
	res, err := tx.ExecContext(ctx, `UPDATE qa_rounds SET status=?, bug_count=?, critical_bugs=?, results=?, rejection_reason=?, completed_at=? WHERE id=?`,
		round.Status, round.BugCount, round.CriticalBugs, nullable(round.Results), nullable(round.RejectionReason),
		nullableStringPtr(round.CompletedAt), round.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListRoundsByHistory(ctx context.Context, historyID int64) ([]domain.QARound, error) {
	return r.listRoundsByHistory(ctx, r.DB, historyID)
}

func (r Repo) ListRoundsByHistoryTx(ctx context.Context, tx *sql.Tx, historyID int64) ([]domain.QARound, error) {
	return r.listRoundsByHistory(ctx, tx, historyID)
}

func (r Repo) listRoundsByHistory(ctx context.Context, q dbtx, historyID int64) ([]domain.QARound, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+roundColumns+` FROM qa_rounds WHERE history_id=? ORDER BY round_number ASC`, historyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QARound
	for rows.Next() {
		round, err := scanRoundRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, round)
	}
	return res, rows.Err()
}

// MaxRoundNumber returns the highest round number recorded for a history
// entry, 0 when none exist.
func (r Repo) MaxRoundNumber(ctx context.Context, q dbtx, historyID int64) (int, error) {
	row := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(round_number),0) FROM qa_rounds WHERE history_id=?`, historyID)
	var n int
	err := row.Scan(&n)
	return n, err
}

// ListRoundsByProject returns every round across the project's history,
// oldest entry first.
func (r Repo) ListRoundsByProject(ctx context.Context, q dbtx, projectID string) ([]domain.QARound, error) {
	rows, err := q.QueryContext(ctx, `
SELECT r.id,r.history_id,r.round_number,r.qa_type,r.status,r.tester_id,r.bug_count,r.critical_bugs,r.results,r.rejection_reason,r.started_at,r.completed_at
FROM qa_rounds r
JOIN department_history h ON h.id=r.history_id
WHERE h.project_id=? ORDER BY r.history_id ASC, r.round_number ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QARound
	for rows.Next() {
		round, err := scanRoundRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, round)
	}
	return res, rows.Err()
}

// SumCriticalBugs totals critical bugs across every round of a project.
func (r Repo) SumCriticalBugs(ctx context.Context, q dbtx, projectID string) (int, error) {
	row := q.QueryRowContext(ctx, `
SELECT COALESCE(SUM(r.critical_bugs),0) FROM qa_rounds r
JOIN department_history h ON h.id=r.history_id
WHERE h.project_id=?`, projectID)
	var n int
	err := row.Scan(&n)
	return n, err
}

const bugColumns = `id,round_id,title,description,severity,status,assigned_to,assigned_department,steps,screenshot_url,found_at,fixed_at`

func (r Repo) InsertBug(ctx context.Context, q dbtx, b domain.Bug) error {
	_, err := q.ExecContext(ctx, `INSERT INTO bugs(`+bugColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.RoundID, b.Title, nullable(b.Description), b.Severity, b.Status, nullableStringPtr(b.AssignedTo),
		b.AssignedDepartment, nullable(b.Steps), nullable(b.ScreenshotURL), b.FoundAt, nullableStringPtr(b.FixedAt))
	return err
}

func (r Repo) ListBugsByRound(ctx context.Context, q dbtx, roundID string) ([]domain.Bug, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+bugColumns+` FROM bugs WHERE round_id=? ORDER BY found_at ASC, id ASC`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Bug
	for rows.Next() {
		var b domain.Bug
		var description, steps, screenshot, assignedTo, fixedAt sql.NullString
		if err := rows.Scan(&b.ID, &b.RoundID, &b.Title, &description, &b.Severity, &b.Status, &assignedTo,
			&b.AssignedDepartment, &steps, &screenshot, &b.FoundAt, &fixedAt); err != nil {
			return nil, err
		}
		b.AssignedTo = strPtr(assignedTo)
		b.FixedAt = strPtr(fixedAt)
		if description.Valid {
			b.Description = description.String
		}
		if steps.Valid {
			b.Steps = steps.String
		}
		if screenshot.Valid {
			b.ScreenshotURL = screenshot.String
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
