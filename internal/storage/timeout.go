package storage

import (
	"context"
	"io"
	"time"
)

// BoundObjects bounds every call on store by d. A non-positive d returns
// store unchanged.
func BoundObjects(store ObjectStore, d time.Duration) ObjectStore {
	if d <= 0 {
		return store
	}
	return &boundObjects{next: store, timeout: d}
}

// BoundVectors bounds every call on idx by d.
func BoundVectors(idx VectorIndex, d time.Duration) VectorIndex {
	if d <= 0 {
		return idx
	}
	return &boundVectors{next: idx, timeout: d}
}

type boundObjects struct {
	next    ObjectStore
	timeout time.Duration
}

func (b *boundObjects) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.Put(ctx, bucket, key, body, size, contentType)
}

func (b *boundObjects) Get(ctx context.Context, bucket, key string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.Get(ctx, bucket, key)
}

func (b *boundObjects) Delete(ctx context.Context, bucket, key string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.Delete(ctx, bucket, key)
}

func (b *boundObjects) URL(ctx context.Context, bucket, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.URL(ctx, bucket, key)
}

type boundVectors struct {
	next    VectorIndex
	timeout time.Duration
}

func (b *boundVectors) Upsert(ctx context.Context, vectors []Vector) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.Upsert(ctx, vectors)
}

func (b *boundVectors) Query(ctx context.Context, values []float32, k int) ([]Match, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.Query(ctx, values, k)
}

func (b *boundVectors) Delete(ctx context.Context, ids []string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.Delete(ctx, ids)
}

func (b *boundVectors) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.Count(ctx)
}
