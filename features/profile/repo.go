package profile

import (
	"context"
	"database/sql"
	"errors"
)

type Repository interface {
	Get(ctx context.Context, name string) (*Profile, error)
	List(ctx context.Context) ([]Profile, error)
	Upsert(ctx context.Context, p *Profile) error
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context, name string) (*Profile, error) {
	p := &Profile{}
	query := `SELECT name, instruction, updated_at FROM profiles WHERE name = $1`
	err := r.db.QueryRowContext(ctx, query, name).Scan(&p.Name, &p.Instruction, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PostgresRepo) List(ctx context.Context) ([]Profile, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, instruction, updated_at FROM profiles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.Name, &p.Instruction, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Upsert(ctx context.Context, p *Profile) error {
	query := `INSERT INTO profiles (name, instruction, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET instruction = EXCLUDED.instruction, updated_at = NOW()
		RETURNING updated_at`
	return r.db.QueryRowContext(ctx, query, p.Name, p.Instruction).Scan(&p.UpdatedAt)
}
