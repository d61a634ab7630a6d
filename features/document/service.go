package document

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"docbrief/internal/config"
	"docbrief/internal/extract"
	"docbrief/internal/middleware"
	"docbrief/internal/pipeline"
	"docbrief/internal/storage"
)

const publishTimeout = 5 * time.Second

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type RawStore interface {
	StoreRaw(ctx context.Context, up *storage.Upload, body []byte) error
	DeleteDocument(ctx context.Context, id string) error
}

type Records interface {
	Get(ctx context.Context, id string) (*storage.Record, error)
	List(ctx context.Context, p storage.Page) ([]storage.Record, error)
}

type URLBuilder interface {
	URL(ctx context.Context, bucket, key string) (string, error)
}

type Options struct {
	InboundBucket  string
	MaxUploadBytes int64
}

type Service struct {
	store    RawStore
	records  Records
	urls     URLBuilder
	profiles pipeline.ProfileSource
	pub      EventPublisher
	opts     Options
}

func NewService(store RawStore, records Records, urls URLBuilder, profiles pipeline.ProfileSource, pub EventPublisher, opts Options) *Service {
	return &Service{store: store, records: records, urls: urls, profiles: profiles, pub: pub, opts: opts}
}

// Upload validates a PDF, stores it in the inbound bucket and queues it for
// processing.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*Handle, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if len(req.Body) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidInput)
	}
	if s.opts.MaxUploadBytes > 0 && int64(len(req.Body)) > s.opts.MaxUploadBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidInput, s.opts.MaxUploadBytes)
	}
	if !isPDF(req.FileName, req.ContentType) {
		return nil, fmt.Errorf("%w: only PDF files are accepted", ErrInvalidInput)
	}

	pages, err := extract.Validate(req.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if req.StartPage >= pages {
		return nil, fmt.Errorf("%w: start_page %d beyond %d pages", ErrInvalidInput, req.StartPage, pages)
	}
	if err := s.checkProfile(ctx, req.Profile); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(req.Body)
	checksum := hex.EncodeToString(sum[:])
	name := filepath.Base(req.FileName)
	up := &storage.Upload{
		ObjectName:  fmt.Sprintf("%s/%s", uuid.New().String(), name),
		Bucket:      s.opts.InboundBucket,
		Checksum:    checksum,
		Size:        int64(len(req.Body)),
		ContentType: PDFContentType,
		UserID:      req.UserID,
		Profile:     req.Profile,
	}
	task := s.newTask(ctx, up.Bucket, up.ObjectName, req.UserID, req.Profile, req.StartPage, req.EndPage)
	task.SourceName = name
	task.Checksum = checksum
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if err := s.store.StoreRaw(ctx, up, req.Body); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "upload stored", "object", up.ObjectName, "size", up.Size, "pages", pages)

	if err := s.publish(ctx, task); err != nil {
		return nil, err
	}
	return &Handle{TaskID: task.ID, Bucket: up.Bucket, ObjectName: up.ObjectName, Checksum: checksum, Pages: pages}, nil
}

// Submit queues a document that is already in the object store.
func (s *Service) Submit(ctx context.Context, req TaskRequest) (*Handle, error) {
	if req.Bucket == "" {
		req.Bucket = s.opts.InboundBucket
	}
	if req.ObjectName == "" {
		return nil, fmt.Errorf("%w: object_name is required", ErrInvalidInput)
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if !isPDF(req.ObjectName, "") {
		return nil, fmt.Errorf("%w: only PDF files are accepted", ErrInvalidInput)
	}
	if err := s.checkProfile(ctx, req.Profile); err != nil {
		return nil, err
	}

	task := s.newTask(ctx, req.Bucket, req.ObjectName, req.UserID, req.Profile, req.StartPage, req.EndPage)
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := s.publish(ctx, task); err != nil {
		return nil, err
	}
	return &Handle{TaskID: task.ID, Bucket: task.Bucket, ObjectName: task.ObjectName}, nil
}

func (s *Service) List(ctx context.Context, p storage.Page) ([]storage.Record, error) {
	return s.records.List(ctx, p)
}

func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{Record: *rec}
	if bucket, key, ok := strings.Cut(rec.StoragePath, "/"); ok {
		u, err := s.urls.URL(ctx, bucket, key)
		if err != nil {
			slog.WarnContext(ctx, "failed to build artifact url", "id", id, "error", err)
		}
		d.ArtifactURL = u
	}
	return d, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteDocument(ctx, id)
}

func (s *Service) checkProfile(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: profile is required", ErrInvalidInput)
	}
	if _, err := s.profiles.Instruction(ctx, name); err != nil {
		if errors.Is(err, pipeline.ErrUnknownProfile) {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return err
	}
	return nil
}

func (s *Service) newTask(ctx context.Context, bucket, object, user, profile string, start, end int) pipeline.Task {
	correlationID := middleware.GetCorrelationID(ctx)
	if correlationID == "unknown" {
		correlationID = ""
	}
	return pipeline.Task{
		ID:            uuid.New().String(),
		Bucket:        bucket,
		ObjectName:    object,
		UserID:        user,
		Profile:       profile,
		StartPage:     start,
		EndPage:       end,
		CorrelationID: correlationID,
		SubmittedAt:   time.Now().UTC(),
	}
}

func (s *Service) publish(ctx context.Context, task pipeline.Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(config.TopicDocumentProcess, body)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("publish task: %w", err)
		}
	case <-time.After(publishTimeout):
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
	slog.InfoContext(ctx, "task queued", "task_id", task.ID, "object", task.ObjectName)
	return nil
}

func isPDF(name, contentType string) bool {
	if strings.EqualFold(path.Ext(name), ".pdf") {
		return true
	}
	ct, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(ct) == PDFContentType
}
