package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDuplicate is returned when a commit collides with a live record for
	// the same source checksum or vector id.
	ErrDuplicate = errors.New("duplicate document")
	// ErrObjectNotFound is returned by object stores for missing keys.
	ErrObjectNotFound = errors.New("object not found")
	// ErrConsistency marks a failed compensation: a store may now hold data
	// that no record references.
	ErrConsistency = errors.New("storage consistency violated")
)

// vectorNamespace seeds deterministic vector ids so that redelivered tasks
// write to the same index entry.
var vectorNamespace = uuid.MustParse("6f1c8d2e-3b4a-5c6d-9e8f-0a1b2c3d4e5f")

// VectorID derives the index id of a document fingerprint from the checksum
// of its source bytes.
func VectorID(checksum string) string {
	return uuid.NewSHA1(vectorNamespace, []byte(checksum)).String()
}

type Record struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	StoragePath string     `json:"storage_path"`
	Checksum    string     `json:"checksum"`
	Profile     string     `json:"profile"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

type VectorLink struct {
	ID         int64     `json:"id"`
	VectorID   string    `json:"vector_id"`
	DocumentID string    `json:"document_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Upload is the relational trace of a raw submission in the inbound bucket.
type Upload struct {
	ID          string    `json:"id"`
	ObjectName  string    `json:"object_name"`
	Bucket      string    `json:"bucket"`
	Checksum    string    `json:"checksum"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	UserID      string    `json:"user_id"`
	Profile     string    `json:"profile"`
	CreatedAt   time.Time `json:"created_at"`
}

type Vector struct {
	ID       string
	Values   []float32
	Checksum string
}

type Match struct {
	ID    string
	Score float64
}

type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
	// Get returns the object bytes and a URL the caller may hand out for access.
	Get(ctx context.Context, bucket, key string) ([]byte, string, error)
	Delete(ctx context.Context, bucket, key string) error
	URL(ctx context.Context, bucket, key string) (string, error)
}

type VectorIndex interface {
	Upsert(ctx context.Context, vectors []Vector) error
	// Query returns up to k nearest neighbours, best first. Score is cosine
	// similarity.
	Query(ctx context.Context, values []float32, k int) ([]Match, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
}

type Repository interface {
	CreateUpload(ctx context.Context, u *Upload) error
	CreateDocument(ctx context.Context, rec *Record, vectorIDs []string) error
	FindByChecksum(ctx context.Context, checksum string) (*Record, error)
	FindByVectorID(ctx context.Context, vectorID string) (*Record, error)
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, p Page) ([]Record, error)
	SoftDelete(ctx context.Context, id string) error
	VectorIDs(ctx context.Context, documentID string) ([]string, error)
	Count(ctx context.Context) (int, error)
}
