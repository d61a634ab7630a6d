// Package pipeline runs one submitted document through extraction, dedup,
// transformation and persistence.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"docbrief/internal/extract"
	"docbrief/internal/notify"
	"docbrief/internal/provider"
	"docbrief/internal/similarity"
	"docbrief/internal/storage"
	"docbrief/internal/text"
	"docbrief/internal/transform"
)

type Extractor interface {
	Extract(ctx context.Context, data []byte, start, end int) ([]extract.PageContent, error)
}

type Deduper interface {
	Check(ctx context.Context, chunks []string) (*similarity.Decision, error)
}

type Transformer interface {
	Run(ctx context.Context, instruction string, chunks []text.Chunk, heartbeat func()) ([]string, error)
}

type DerivedStore interface {
	StoreDerived(ctx context.Context, w storage.DerivedWrite) (*storage.Record, error)
}

// ProfileSource resolves a profile name to its model instruction. Unknown
// names return an error matching ErrUnknownProfile.
type ProfileSource interface {
	Instruction(ctx context.Context, name string) (string, error)
}

// RecordFinder is the read side of the relational store used during a run.
type RecordFinder interface {
	FindByChecksum(ctx context.Context, checksum string) (*storage.Record, error)
	FindByVectorID(ctx context.Context, vectorID string) (*storage.Record, error)
}

type Hooks struct {
	OnState   func(State)
	Heartbeat func()
}

type Deps struct {
	Objects     storage.ObjectStore
	Records     RecordFinder
	Store       DerivedStore
	Extractor   Extractor
	Tokenizer   text.Tokenizer
	Deduper     Deduper
	Transformer Transformer
	Profiles    ProfileSource
	Notifier    notify.Notifier
}

type Options struct {
	DerivedBucket string
	ChunkTokens   int
}

type Orchestrator struct {
	deps Deps
	opts Options
	now  func() time.Time
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if deps.Notifier == nil {
		deps.Notifier = notify.LogNotifier{}
	}
	return &Orchestrator{deps: deps, opts: opts, now: time.Now}
}

// Run executes the task. A returned error is always a *StageError; the run
// never continues past a failed stage.
func (o *Orchestrator) Run(ctx context.Context, task Task, hooks Hooks) (*TaskResult, error) {
	enter := func(s State) {
		slog.InfoContext(ctx, "pipeline state", "state", s.String(), "object", task.ObjectName)
		if hooks.OnState != nil {
			hooks.OnState(s)
		}
	}
	beat := func() {
		if hooks.Heartbeat != nil {
			hooks.Heartbeat()
		}
	}

	// Fetched
	data, _, err := o.deps.Objects.Get(ctx, task.Bucket, task.ObjectName)
	if err != nil {
		return nil, transient(StateFetched, fmt.Errorf("fetch %s/%s: %w", task.Bucket, task.ObjectName, err))
	}
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	if task.Checksum != "" && task.Checksum != checksum {
		slog.WarnContext(ctx, "checksum differs from submission", "submitted", task.Checksum, "actual", checksum)
	}
	enter(StateFetched)

	existing, err := o.deps.Records.FindByChecksum(ctx, checksum)
	if err != nil {
		return nil, transient(StateFetched, fmt.Errorf("checksum lookup: %w", err))
	}
	if existing != nil {
		return o.skip(ctx, task, existing, "identical source already processed", enter)
	}

	// Extracted
	start, end := task.pageRange()
	pages, err := o.deps.Extractor.Extract(ctx, data, start, end)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, transient(StateExtracted, err)
		}
		return nil, terminal(StateExtracted, err)
	}
	content := extract.Concat(pages)
	if strings.TrimSpace(content) == "" {
		return nil, terminal(StateExtracted, ErrNoText)
	}
	enter(StateExtracted)

	// Chunked
	chunks, err := text.Split(content, o.deps.Tokenizer, o.opts.ChunkTokens)
	if err != nil {
		return nil, terminal(StateChunked, err)
	}
	if len(chunks) == 0 {
		return nil, terminal(StateChunked, ErrNoText)
	}
	enter(StateChunked)
	beat()

	// Deduped
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	decision, err := o.deps.Deduper.Check(ctx, texts)
	if err != nil {
		return nil, classify(StateDeduped, err)
	}
	enter(StateDeduped)

	for _, m := range decision.Duplicates {
		rec, err := o.deps.Records.FindByVectorID(ctx, m.ID)
		if err != nil {
			return nil, transient(StateDeduped, fmt.Errorf("resolve vector %s: %w", m.ID, err))
		}
		if rec == nil {
			slog.WarnContext(ctx, "integrity: vector without live record", "vector_id", m.ID, "score", m.Score)
			continue
		}
		return o.skip(ctx, task, rec, fmt.Sprintf("similar document %s (score %.4f)", rec.ID, m.Score), enter)
	}
	beat()

	// Transformed
	instruction, err := o.deps.Profiles.Instruction(ctx, task.Profile)
	if err != nil {
		if errors.Is(err, ErrUnknownProfile) {
			return nil, terminal(StateTransformed, err)
		}
		return nil, transient(StateTransformed, fmt.Errorf("resolve profile: %w", err))
	}

	replies, err := o.deps.Transformer.Run(ctx, instruction, chunks, hooks.Heartbeat)
	if err != nil {
		return nil, classify(StateTransformed, err)
	}

	name := task.SourceName
	if name == "" {
		name = path.Base(task.ObjectName)
	}
	body := transform.Render(transform.Artifact{
		Title:       strings.TrimSuffix(name, path.Ext(name)),
		Profile:     task.Profile,
		SourceName:  name,
		Checksum:    checksum,
		GeneratedAt: o.now(),
		Sections:    replies,
	})
	enter(StateTransformed)

	// Persisted. The key is unique per attempt so a losing concurrent write
	// never removes the winner's object.
	key := fmt.Sprintf("%s/%s.md", checksum[:16], uuid.New().String())
	rec, err := o.deps.Store.StoreDerived(ctx, storage.DerivedWrite{
		Record: storage.Record{
			Name:     name,
			Checksum: checksum,
			Profile:  task.Profile,
		},
		Bucket:      o.opts.DerivedBucket,
		Key:         key,
		Body:        body,
		ContentType: transform.ArtifactContentType,
		Vector:      decision.Fingerprint,
	})
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrDuplicate):
		winner, ferr := o.deps.Records.FindByChecksum(ctx, checksum)
		if ferr != nil || winner == nil {
			return nil, transient(StatePersisted, fmt.Errorf("resolve concurrent duplicate: %w", err))
		}
		return o.skip(ctx, task, winner, "committed concurrently by another delivery", enter)
	case errors.Is(err, storage.ErrConsistency):
		slog.ErrorContext(ctx, "integrity: compensation failed", "error", err)
		return nil, &StageError{State: StatePersisted, Kind: ErrConsistency, Err: err}
	default:
		return nil, transient(StatePersisted, err)
	}
	enter(StatePersisted)

	res := &TaskResult{
		Outcome:      OutcomeCreated,
		UserID:       task.UserID,
		ArtifactPath: rec.StoragePath,
		ArtifactURL:  o.artifactURL(ctx, rec.StoragePath),
		DocumentID:   rec.ID,
	}
	o.sendNotification(ctx, task, res)
	enter(StateNotified)
	return res, nil
}

func (o *Orchestrator) skip(ctx context.Context, task Task, rec *storage.Record, reason string, enter func(State)) (*TaskResult, error) {
	enter(StateSkipped)
	res := &TaskResult{
		Outcome:      OutcomeDuplicate,
		UserID:       task.UserID,
		ArtifactPath: rec.StoragePath,
		ArtifactURL:  o.artifactURL(ctx, rec.StoragePath),
		DocumentID:   rec.ID,
		Reason:       reason,
	}
	o.sendNotification(ctx, task, res)
	enter(StateNotified)
	return res, nil
}

// artifactURL falls back to the storage path when no URL can be produced.
func (o *Orchestrator) artifactURL(ctx context.Context, storagePath string) string {
	bucket, key, ok := strings.Cut(storagePath, "/")
	if !ok {
		return storagePath
	}
	u, err := o.deps.Objects.URL(ctx, bucket, key)
	if err != nil {
		slog.WarnContext(ctx, "failed to build artifact url", "path", storagePath, "error", err)
		return storagePath
	}
	return u
}

func (o *Orchestrator) sendNotification(ctx context.Context, task Task, res *TaskResult) {
	err := o.deps.Notifier.Notify(ctx, notify.Notification{
		UserID:      res.UserID,
		ArtifactURL: res.ArtifactURL,
		Outcome:     string(res.Outcome),
		DocumentID:  res.DocumentID,
		TaskID:      task.ID,
		Reason:      res.Reason,
	})
	if err != nil {
		slog.WarnContext(ctx, "notification failed", "user_id", res.UserID, "error", err)
	}
}

// classify maps provider and budget failures. Rejected requests and content
// that cannot fit the context are terminal; everything else may recover.
func classify(s State, err error) error {
	switch {
	case provider.IsPermanent(err),
		errors.Is(err, transform.ErrBudgetExceeded),
		errors.Is(err, similarity.ErrDimensionMismatch),
		errors.Is(err, similarity.ErrNoChunks):
		return terminal(s, err)
	}
	return transient(s, err)
}
