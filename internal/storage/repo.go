package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) CreateUpload(ctx context.Context, u *Upload) error {
	query := `INSERT INTO uploads (object_name, bucket, checksum, size_bytes, content_type, user_id, profile) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query, u.ObjectName, u.Bucket, u.Checksum, u.Size, u.ContentType, u.UserID, u.Profile).Scan(&u.ID, &u.CreatedAt)
}

// CreateDocument inserts the record and its vector links in one transaction.
func (r *PostgresRepo) CreateDocument(ctx context.Context, rec *Record, vectorIDs []string) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `INSERT INTO documents (name, storage_path, checksum, profile) VALUES ($1, $2, $3, $4) RETURNING id, created_at, updated_at`
	if err = tx.QueryRowContext(ctx, query, rec.Name, rec.StoragePath, rec.Checksum, rec.Profile).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return mapPQError(err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO vector_links (vector_id, document_id) VALUES ($1, $2)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range vectorIDs {
		if _, err = stmt.ExecContext(ctx, id, rec.ID); err != nil {
			return mapPQError(err)
		}
	}

	if err = tx.Commit(); err != nil {
		return mapPQError(err)
	}
	return nil
}

func (r *PostgresRepo) FindByChecksum(ctx context.Context, checksum string) (*Record, error) {
	query := `SELECT id, name, storage_path, checksum, profile, created_at, updated_at FROM documents WHERE checksum = $1 AND deleted_at IS NULL`
	rec, err := r.scanOne(r.db.QueryRowContext(ctx, query, checksum))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// FindByVectorID resolves a vector id to the live record owning it. A nil
// record with nil error means the vector is not linked to anything live.
func (r *PostgresRepo) FindByVectorID(ctx context.Context, vectorID string) (*Record, error) {
	query := `SELECT d.id, d.name, d.storage_path, d.checksum, d.profile, d.created_at, d.updated_at
		FROM vector_links l JOIN documents d ON d.id = l.document_id
		WHERE l.vector_id = $1 AND l.deleted_at IS NULL AND d.deleted_at IS NULL`
	rec, err := r.scanOne(r.db.QueryRowContext(ctx, query, vectorID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Record, error) {
	query := `SELECT id, name, storage_path, checksum, profile, created_at, updated_at FROM documents WHERE id = $1 AND deleted_at IS NULL`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepo) List(ctx context.Context, p Page) ([]Record, error) {
	p = p.Normalize()
	query := `SELECT id, name, storage_path, checksum, profile, created_at, updated_at FROM documents WHERE deleted_at IS NULL ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, query, p.Size, p.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.StoragePath, &rec.Checksum, &rec.Profile, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SoftDelete marks the record and its vector links deleted together.
func (r *PostgresRepo) SoftDelete(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE documents SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	if _, err = tx.ExecContext(ctx, `UPDATE vector_links SET deleted_at = NOW(), updated_at = NOW() WHERE document_id = $1 AND deleted_at IS NULL`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresRepo) VectorIDs(ctx context.Context, documentID string) ([]string, error) {
	query := `SELECT vector_id FROM vector_links WHERE document_id = $1 AND deleted_at IS NULL`
	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM documents WHERE deleted_at IS NULL`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

func (r *PostgresRepo) scanOne(row *sql.Row) (*Record, error) {
	rec := &Record{}
	if err := row.Scan(&rec.ID, &rec.Name, &rec.StoragePath, &rec.Checksum, &rec.Profile, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	return rec, nil
}

func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
	}
	return err
}
