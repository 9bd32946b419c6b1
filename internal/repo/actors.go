package repo

import (
	"context"
	"database/sql"

	"planifica/internal/domain"
)

func (r Repo) InsertActor(ctx context.Context, a domain.Actor) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO actors(id,display_name,role,community,territory,created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.DisplayName, a.Role, nullable(a.Community), nullable(a.Territory), a.CreatedAt)
	return err
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,display_name,role,COALESCE(community,''),COALESCE(territory,''),created_at FROM actors WHERE id=?`, id)
	var a domain.Actor
	err := row.Scan(&a.ID, &a.DisplayName, &a.Role, &a.Community, &a.Territory, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) GetActorTx(ctx context.Context, tx *sql.Tx, id string) (domain.Actor, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,display_name,role,COALESCE(community,''),COALESCE(territory,''),created_at FROM actors WHERE id=?`, id)
	var a domain.Actor
	err := row.Scan(&a.ID, &a.DisplayName, &a.Role, &a.Community, &a.Territory, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) ListActors(ctx context.Context, role string) ([]domain.Actor, error) {
	query := `SELECT id,display_name,role,COALESCE(community,''),COALESCE(territory,''),created_at FROM actors`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		var a domain.Actor
		if err := rows.Scan(&a.ID, &a.DisplayName, &a.Role, &a.Community, &a.Territory, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
