package repo

import (
	"context"
	"database/sql"

	"stageline/internal/domain"
)

const actorColumns = `id,name,role,department,created_at`

func scanActorRow(scan func(dest ...any) error) (domain.Actor, error) {
	var a domain.Actor
	var name, department sql.NullString
	err := scan(&a.ID, &name, &a.Role, &department, &a.CreatedAt)
	if err != nil {
		return a, err
	}
	if name.Valid {
		a.Name = name.String
	}
	if department.Valid {
		a.Department = department.String
	}
	return a, nil
}

// UpsertActor registers an actor or refreshes its role and department.
func (r Repo) UpsertActor(ctx context.Context, q dbtx, a domain.Actor) error {
	_, err := q.ExecContext(ctx, `INSERT INTO actors(`+actorColumns+`) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, role=excluded.role, department=excluded.department`,
		a.ID, nullable(a.Name), a.Role, nullable(a.Department), a.CreatedAt)
	return err
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE id=?`, id)
	a, err := scanActorRow(row.Scan)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) ListActors(ctx context.Context) ([]domain.Actor, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+actorColumns+` FROM actors ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		a, err := scanActorRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
