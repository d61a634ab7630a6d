package testutils

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"docbrief/internal/similarity"
	"docbrief/internal/storage"
)

// MemoryObjectStore is an in-process storage.ObjectStore.
type MemoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	PutErr  error
}

func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: map[string][]byte{}}
}

func (s *MemoryObjectStore) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	if s.PutErr != nil {
		return s.PutErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+key] = buf.Bytes()
	return nil
}

func (s *MemoryObjectStore) Get(ctx context.Context, bucket, key string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s/%s", storage.ErrObjectNotFound, bucket, key)
	}
	return b, "mem://" + bucket + "/" + key, nil
}

func (s *MemoryObjectStore) Delete(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, bucket+"/"+key)
	return nil
}

func (s *MemoryObjectStore) URL(ctx context.Context, bucket, key string) (string, error) {
	return "mem://" + bucket + "/" + key, nil
}

// Keys lists stored objects as bucket/key, sorted.
func (s *MemoryObjectStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MemoryVectorIndex is a brute-force cosine index.
type MemoryVectorIndex struct {
	mu      sync.Mutex
	vectors map[string][]float32
}

func NewMemoryVectorIndex() *MemoryVectorIndex {
	return &MemoryVectorIndex{vectors: map[string][]float32{}}
}

func (x *MemoryVectorIndex) Upsert(ctx context.Context, vectors []storage.Vector) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, v := range vectors {
		x.vectors[v.ID] = append([]float32(nil), v.Values...)
	}
	return nil
}

func (x *MemoryVectorIndex) Query(ctx context.Context, values []float32, k int) ([]storage.Match, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	matches := make([]storage.Match, 0, len(x.vectors))
	for id, v := range x.vectors {
		matches = append(matches, storage.Match{ID: id, Score: similarity.Cosine(values, v)})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (x *MemoryVectorIndex) Delete(ctx context.Context, ids []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range ids {
		delete(x.vectors, id)
	}
	return nil
}

func (x *MemoryVectorIndex) Count(ctx context.Context) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.vectors), nil
}

// MemoryRepo is a storage.Repository with the same uniqueness rules as the
// Postgres schema: one live record per checksum and per vector id.
type MemoryRepo struct {
	mu      sync.Mutex
	uploads []storage.Upload
	records map[string]*storage.Record
	links   map[string]string // vector id -> document id
	order   []string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{records: map[string]*storage.Record{}, links: map[string]string{}}
}

func (r *MemoryRepo) CreateUpload(ctx context.Context, u *storage.Upload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	u.CreatedAt = time.Now()
	r.uploads = append(r.uploads, *u)
	return nil
}

func (r *MemoryRepo) CreateDocument(ctx context.Context, rec *storage.Record, vectorIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.DeletedAt == nil && existing.Checksum == rec.Checksum {
			return storage.ErrDuplicate
		}
	}
	for _, v := range vectorIDs {
		if _, ok := r.links[v]; ok {
			return storage.ErrDuplicate
		}
	}

	now := time.Now()
	rec.ID = uuid.New().String()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	stored := *rec
	r.records[rec.ID] = &stored
	r.order = append(r.order, rec.ID)
	for _, v := range vectorIDs {
		r.links[v] = rec.ID
	}
	return nil
}

func (r *MemoryRepo) FindByChecksum(ctx context.Context, checksum string) (*storage.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.DeletedAt == nil && rec.Checksum == checksum {
			out := *rec
			return &out, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepo) FindByVectorID(ctx context.Context, vectorID string) (*storage.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.links[vectorID]
	if !ok {
		return nil, nil
	}
	rec := r.records[id]
	if rec.DeletedAt != nil {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (*storage.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.DeletedAt != nil {
		return nil, sql.ErrNoRows
	}
	out := *rec
	return &out, nil
}

func (r *MemoryRepo) List(ctx context.Context, p storage.Page) ([]storage.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p = p.Normalize()
	var live []storage.Record
	for i := len(r.order) - 1; i >= 0; i-- {
		if rec := r.records[r.order[i]]; rec.DeletedAt == nil {
			live = append(live, *rec)
		}
	}
	start := p.Offset()
	if start >= len(live) {
		return []storage.Record{}, nil
	}
	end := start + p.Size
	if end > len(live) {
		end = len(live)
	}
	return live[start:end], nil
}

func (r *MemoryRepo) SoftDelete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.DeletedAt != nil {
		return sql.ErrNoRows
	}
	now := time.Now()
	rec.DeletedAt = &now
	for v, doc := range r.links {
		if doc == id {
			delete(r.links, v)
		}
	}
	return nil
}

func (r *MemoryRepo) VectorIDs(ctx context.Context, documentID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for v, doc := range r.links {
		if doc == documentID {
			ids = append(ids, v)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryRepo) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.DeletedAt == nil {
			n++
		}
	}
	return n, nil
}

// Uploads returns the recorded raw uploads.
func (r *MemoryRepo) Uploads() []storage.Upload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storage.Upload(nil), r.uploads...)
}
