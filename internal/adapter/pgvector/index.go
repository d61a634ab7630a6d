// Package pgvector keeps document fingerprints in Postgres using the vector extension.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	pgv "github.com/pgvector/pgvector-go"

	"docbrief/internal/similarity"
	"docbrief/internal/storage"
)

const table = "document_fingerprints"

type Index struct {
	db        *sql.DB
	dimension int
}

func NewIndex(db *sql.DB, dimension int) *Index {
	return &Index{db: db, dimension: dimension}
}

// EnsureSchema creates the extension, table and cosine HNSW index if missing.
func (x *Index) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`, table, x.dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 200)`, table, table),
	}
	for _, s := range stmts {
		if _, err := x.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (x *Index) Upsert(ctx context.Context, vectors []storage.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	for _, v := range vectors {
		if len(v.Values) != x.dimension {
			return fmt.Errorf("%w: vector %s has %d, want %d", similarity.ErrDimensionMismatch, v.ID, len(v.Values), x.dimension)
		}
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+table+` (id, checksum, embedding) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET checksum = EXCLUDED.checksum, embedding = EXCLUDED.embedding`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, v := range vectors {
		if _, err := stmt.ExecContext(ctx, v.ID, v.Checksum, pgv.NewVector(v.Values)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Query orders by cosine distance; score is 1 - distance.
func (x *Index) Query(ctx context.Context, values []float32, k int) ([]storage.Match, error) {
	q := `SELECT id, 1 - (embedding <=> $1) AS score FROM ` + table + ` ORDER BY embedding <=> $1 LIMIT $2`
	rows, err := x.db.QueryContext(ctx, q, pgv.NewVector(values), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Match
	for rows.Next() {
		var m storage.Match
		if err := rows.Scan(&m.ID, &m.Score); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (x *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := x.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ANY($1)`, pq.Array(ids))
	return err
}

func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n)
	return n, err
}
