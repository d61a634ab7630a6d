package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const compensationTimeout = 30 * time.Second

// Coordinator keeps the object store, vector index and relational store in
// step. Writes go to the external stores first and are committed by the
// relational insert; a failed commit undoes the external writes.
type Coordinator struct {
	objects ObjectStore
	vectors VectorIndex
	repo    Repository
	logger  *slog.Logger
}

func NewCoordinator(objects ObjectStore, vectors VectorIndex, repo Repository, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{objects: objects, vectors: vectors, repo: repo, logger: logger}
}

// StoreRaw uploads a submitted file and records it. If the record cannot be
// written the object is removed again and the original error is returned.
func (c *Coordinator) StoreRaw(ctx context.Context, up *Upload, body []byte) error {
	if err := c.objects.Put(ctx, up.Bucket, up.ObjectName, bytes.NewReader(body), int64(len(body)), up.ContentType); err != nil {
		return fmt.Errorf("put raw object: %w", err)
	}

	if err := c.repo.CreateUpload(ctx, up); err != nil {
		c.undoObject(ctx, up.Bucket, up.ObjectName)
		return fmt.Errorf("record upload: %w", err)
	}
	return nil
}

// DerivedWrite is everything persisted for one transformed document.
type DerivedWrite struct {
	Record      Record
	Bucket      string
	Key         string
	Body        []byte
	ContentType string
	Vector      []float32
}

// StoreDerived writes the fingerprint, then the artifact, then commits the
// record with its vector link. ErrDuplicate means another delivery committed
// the same checksum first; its vector is left in place.
func (c *Coordinator) StoreDerived(ctx context.Context, w DerivedWrite) (*Record, error) {
	vectorID := VectorID(w.Record.Checksum)

	if err := c.vectors.Upsert(ctx, []Vector{{ID: vectorID, Values: w.Vector, Checksum: w.Record.Checksum}}); err != nil {
		return nil, fmt.Errorf("upsert vector: %w", err)
	}

	if err := c.objects.Put(ctx, w.Bucket, w.Key, bytes.NewReader(w.Body), int64(len(w.Body)), w.ContentType); err != nil {
		if cerr := c.undoVector(ctx, vectorID); cerr != nil {
			return nil, fmt.Errorf("put artifact: %w (compensation: %w)", err, cerr)
		}
		return nil, fmt.Errorf("put artifact: %w", err)
	}

	rec := w.Record
	rec.StoragePath = w.Bucket + "/" + w.Key
	err := c.repo.CreateDocument(ctx, &rec, []string{vectorID})
	if err == nil {
		return &rec, nil
	}

	oerr := c.undoObject(ctx, w.Bucket, w.Key)
	if errors.Is(err, ErrDuplicate) {
		if oerr != nil {
			return nil, fmt.Errorf("commit document: %w (compensation: %w)", err, oerr)
		}
		return nil, err
	}

	verr := c.undoVector(ctx, vectorID)
	if cerr := errors.Join(oerr, verr); cerr != nil {
		return nil, fmt.Errorf("commit document: %w (compensation: %w)", err, cerr)
	}
	return nil, fmt.Errorf("commit document: %w", err)
}

// DeleteDocument soft-deletes a record and its links, then removes the
// vectors. Vectors that outlive the record no longer resolve to a document.
func (c *Coordinator) DeleteDocument(ctx context.Context, id string) error {
	if _, err := c.repo.Get(ctx, id); err != nil {
		return err
	}

	ids, err := c.repo.VectorIDs(ctx, id)
	if err != nil {
		return fmt.Errorf("load vector links: %w", err)
	}
	if err := c.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	if len(ids) > 0 {
		if err := c.vectors.Delete(ctx, ids); err != nil {
			c.logger.ErrorContext(ctx, "data integrity: orphaned vectors after delete",
				"document_id", id, "vector_ids", ids, "error", err)
			return fmt.Errorf("%w: delete vectors: %v", ErrConsistency, err)
		}
	}
	return nil
}

func (c *Coordinator) undoObject(ctx context.Context, bucket, key string) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if err := c.objects.Delete(cctx, bucket, key); err != nil && !errors.Is(err, ErrObjectNotFound) {
		c.logger.ErrorContext(ctx, "data integrity: orphaned object after failed commit",
			"bucket", bucket, "key", key, "error", err)
		return fmt.Errorf("%w: object %s/%s: %v", ErrConsistency, bucket, key, err)
	}
	return nil
}

func (c *Coordinator) undoVector(ctx context.Context, id string) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if err := c.vectors.Delete(cctx, []string{id}); err != nil {
		c.logger.ErrorContext(ctx, "data integrity: orphaned vector after failed commit",
			"vector_id", id, "error", err)
		return fmt.Errorf("%w: vector %s: %v", ErrConsistency, id, err)
	}
	return nil
}
