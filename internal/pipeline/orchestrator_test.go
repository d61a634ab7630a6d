package pipeline_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docbrief/internal/extract"
	"docbrief/internal/notify"
	"docbrief/internal/pipeline"
	"docbrief/internal/provider"
	"docbrief/internal/similarity"
	"docbrief/internal/storage"
	"docbrief/internal/testutils"
	"docbrief/internal/transform"
)

const dim = 8

type runeTokenizer struct{}

func (runeTokenizer) Encode(s string) []int {
	out := make([]int, 0, len(s))
	for _, r := range s {
		out = append(out, int(r))
	}
	return out
}

func (runeTokenizer) Decode(tokens []int) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteRune(rune(t))
	}
	return b.String()
}

// byteHistogram embeds text as a histogram of byte values folded into dim
// buckets, so identical text always yields identical vectors.
type byteHistogram struct{}

func (byteHistogram) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, s := range texts {
		v := make([]float32, dim)
		for _, b := range []byte(s) {
			v[int(b)%dim]++
		}
		out[i] = v
	}
	return out, nil
}

type fakeCompleter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeCompleter) Complete(ctx context.Context, conv transform.Conversation) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "Summary of: " + conv[len(conv)-1].Content[:10], nil
}

type staticProfiles map[string]string

func (p staticProfiles) Instruction(ctx context.Context, name string) (string, error) {
	if s, ok := p[name]; ok {
		return s, nil
	}
	return "", pipeline.ErrUnknownProfile
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (r *recordingNotifier) Notify(ctx context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

type harness struct {
	objects   *testutils.MemoryObjectStore
	index     *testutils.MemoryVectorIndex
	repo      *testutils.MemoryRepo
	completer *fakeCompleter
	notifier  *recordingNotifier
	deps      pipeline.Deps
	orch      *pipeline.Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		objects:   testutils.NewMemoryObjectStore(),
		index:     testutils.NewMemoryVectorIndex(),
		repo:      testutils.NewMemoryRepo(),
		completer: &fakeCompleter{},
		notifier:  &recordingNotifier{},
	}
	h.deps = pipeline.Deps{
		Objects:     h.objects,
		Records:     h.repo,
		Store:       storage.NewCoordinator(h.objects, h.index, h.repo, nil),
		Extractor:   extract.NewExtractor(),
		Tokenizer:   runeTokenizer{},
		Deduper:     similarity.NewEngine(byteHistogram{}, h.index, 0.9, 1, dim),
		Transformer: transform.NewTransformer(h.completer, runeTokenizer{}, 4096, 512),
		Profiles:    staticProfiles{"summary": "Summarise the document."},
		Notifier:    h.notifier,
	}
	h.orch = pipeline.NewOrchestrator(h.deps, pipeline.Options{DerivedBucket: "derived", ChunkTokens: 500})
	return h
}

type failingExtractor struct {
	err error
}

func (f failingExtractor) Extract(ctx context.Context, data []byte, start, end int) ([]extract.PageContent, error) {
	return nil, f.err
}

func (h *harness) useExtractor(e pipeline.Extractor) {
	h.deps.Extractor = e
	h.orch = pipeline.NewOrchestrator(h.deps, pipeline.Options{DerivedBucket: "derived", ChunkTokens: 500})
}

func (h *harness) upload(t *testing.T, key string, data []byte) pipeline.Task {
	t.Helper()
	require.NoError(t, h.objects.Put(context.Background(), "inbound", key, bytes.NewReader(data), int64(len(data)), "application/pdf"))
	return pipeline.Task{
		ID:         "task-" + key,
		Bucket:     "inbound",
		ObjectName: key,
		UserID:     "user-1",
		Profile:    "summary",
	}
}

func threePagePDF(x float64) []byte {
	return testutils.BuildPDF([]testutils.PDFPage{
		{Texts: []testutils.PDFText{{X: x, Y: 720, Text: "Chapter one opens here"}}},
		{Texts: []testutils.PDFText{{X: x, Y: 720, Text: "Chapter two continues"}}},
		{Texts: []testutils.PDFText{{X: x, Y: 720, Text: "Chapter three closes"}}},
	})
}

func checksumOf(b []byte) string {
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	h := newHarness(t)
	data := threePagePDF(72)
	task := h.upload(t, "user-1/report.pdf", data)

	var states []pipeline.State
	res, err := h.orch.Run(context.Background(), task, pipeline.Hooks{
		OnState: func(s pipeline.State) { states = append(states, s) },
	})
	require.NoError(t, err)

	assert.Equal(t, []pipeline.State{
		pipeline.StateFetched,
		pipeline.StateExtracted,
		pipeline.StateChunked,
		pipeline.StateDeduped,
		pipeline.StateTransformed,
		pipeline.StatePersisted,
		pipeline.StateNotified,
	}, states)

	assert.Equal(t, pipeline.OutcomeCreated, res.Outcome)
	assert.Equal(t, 1, h.completer.calls, "one chunk, one model call")
	assert.True(t, strings.HasPrefix(res.ArtifactPath, "derived/"))
	assert.Equal(t, "mem://"+res.ArtifactPath, res.ArtifactURL)

	rec, err := h.repo.Get(context.Background(), res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, checksumOf(data), rec.Checksum)
	assert.Equal(t, "report.pdf", rec.Name)

	ids, err := h.repo.VectorIDs(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{storage.VectorID(rec.Checksum)}, ids)

	n, _ := h.index.Count(context.Background())
	assert.Equal(t, 1, n)

	artifact, _, err := h.objects.Get(context.Background(), "derived", strings.TrimPrefix(res.ArtifactPath, "derived/"))
	require.NoError(t, err)
	assert.Contains(t, string(artifact), "# report")
	assert.Contains(t, string(artifact), "Summary of: Chapter on")

	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, "user-1", h.notifier.sent[0].UserID)
	assert.Equal(t, res.ArtifactURL, h.notifier.sent[0].ArtifactURL)
	assert.Equal(t, notify.OutcomeCreated, h.notifier.sent[0].Outcome)
}

func TestOrchestrator_RedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t)
	task := h.upload(t, "user-1/report.pdf", threePagePDF(72))

	first, err := h.orch.Run(context.Background(), task, pipeline.Hooks{})
	require.NoError(t, err)

	var states []pipeline.State
	second, err := h.orch.Run(context.Background(), task, pipeline.Hooks{
		OnState: func(s pipeline.State) { states = append(states, s) },
	})
	require.NoError(t, err)

	assert.Equal(t, pipeline.OutcomeDuplicate, second.Outcome)
	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Equal(t, first.ArtifactPath, second.ArtifactPath)
	assert.Equal(t, []pipeline.State{pipeline.StateFetched, pipeline.StateSkipped, pipeline.StateNotified}, states)

	assert.Equal(t, 1, h.completer.calls)
	n, _ := h.repo.Count(context.Background())
	assert.Equal(t, 1, n)
	v, _ := h.index.Count(context.Background())
	assert.Equal(t, 1, v)

	// Duplicates are notified too.
	require.Len(t, h.notifier.sent, 2)
	assert.Equal(t, notify.OutcomeDuplicate, h.notifier.sent[1].Outcome)
}

func TestOrchestrator_NearDuplicateSkipsTransform(t *testing.T) {
	h := newHarness(t)
	original := h.upload(t, "a.pdf", threePagePDF(72))
	first, err := h.orch.Run(context.Background(), original, pipeline.Hooks{})
	require.NoError(t, err)

	// Same text at a different position: new bytes, same content.
	copyTask := h.upload(t, "b.pdf", threePagePDF(90))
	res, err := h.orch.Run(context.Background(), copyTask, pipeline.Hooks{})
	require.NoError(t, err)

	assert.Equal(t, pipeline.OutcomeDuplicate, res.Outcome)
	assert.Equal(t, first.DocumentID, res.DocumentID)
	assert.Contains(t, res.Reason, "similar document")
	assert.Equal(t, 1, h.completer.calls)
}

func TestOrchestrator_OrphanVectorIgnored(t *testing.T) {
	h := newHarness(t)
	task := h.upload(t, "a.pdf", threePagePDF(72))
	first, err := h.orch.Run(context.Background(), task, pipeline.Hooks{})
	require.NoError(t, err)

	// Soft delete without vector cleanup leaves an orphan in the index.
	require.NoError(t, h.repo.SoftDelete(context.Background(), first.DocumentID))

	res, err := h.orch.Run(context.Background(), task, pipeline.Hooks{})
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeCreated, res.Outcome)
	assert.NotEqual(t, first.DocumentID, res.DocumentID)
	assert.Equal(t, 2, h.completer.calls)
}

type racingStore struct {
	repo *testutils.MemoryRepo
}

func (s racingStore) StoreDerived(ctx context.Context, w storage.DerivedWrite) (*storage.Record, error) {
	winner := storage.Record{Name: "winner.pdf", Checksum: w.Record.Checksum, StoragePath: "derived/winner.md"}
	if err := s.repo.CreateDocument(ctx, &winner, []string{storage.VectorID(w.Record.Checksum)}); err != nil {
		return nil, err
	}
	return nil, storage.ErrDuplicate
}

func TestOrchestrator_ConcurrentCommitResolvesToDuplicate(t *testing.T) {
	h := newHarness(t)
	h.deps.Store = racingStore{repo: h.repo}
	orch := pipeline.NewOrchestrator(h.deps, pipeline.Options{DerivedBucket: "derived", ChunkTokens: 500})

	task := h.upload(t, "a.pdf", threePagePDF(72))
	res, err := orch.Run(context.Background(), task, pipeline.Hooks{})
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeDuplicate, res.Outcome)
	assert.Equal(t, "derived/winner.md", res.ArtifactPath)
}

func TestOrchestrator_NotificationFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("webhook down")

	task := h.upload(t, "a.pdf", threePagePDF(72))
	res, err := h.orch.Run(context.Background(), task, pipeline.Hooks{})
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeCreated, res.Outcome)
}

func TestOrchestrator_HeartbeatCalled(t *testing.T) {
	h := newHarness(t)
	task := h.upload(t, "a.pdf", threePagePDF(72))

	beats := 0
	_, err := h.orch.Run(context.Background(), task, pipeline.Hooks{Heartbeat: func() { beats++ }})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, beats, 3)
}

func TestOrchestrator_StageErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, h *harness) pipeline.Task
		state pipeline.State
		kind  error
		errIs error
	}{
		{
			name: "Missing Object",
			setup: func(t *testing.T, h *harness) pipeline.Task {
				return pipeline.Task{ID: "t", Bucket: "inbound", ObjectName: "nope.pdf", UserID: "u", Profile: "summary"}
			},
			state: pipeline.StateFetched,
			kind:  pipeline.ErrTransient,
			errIs: storage.ErrObjectNotFound,
		},
		{
			name: "Malformed PDF",
			setup: func(t *testing.T, h *harness) pipeline.Task {
				return h.upload(t, "bad.pdf", []byte("%PDF-1.4\ngarbage"))
			},
			state: pipeline.StateExtracted,
			kind:  pipeline.ErrTerminal,
			errIs: extract.ErrMalformed,
		},
		{
			name: "Extraction Deadline",
			setup: func(t *testing.T, h *harness) pipeline.Task {
				h.useExtractor(failingExtractor{err: fmt.Errorf("page 2: %w", context.DeadlineExceeded)})
				return h.upload(t, "a.pdf", threePagePDF(72))
			},
			state: pipeline.StateExtracted,
			kind:  pipeline.ErrTransient,
			errIs: context.DeadlineExceeded,
		},
		{
			name: "Extraction Cancelled",
			setup: func(t *testing.T, h *harness) pipeline.Task {
				h.useExtractor(failingExtractor{err: context.Canceled})
				return h.upload(t, "a.pdf", threePagePDF(72))
			},
			state: pipeline.StateExtracted,
			kind:  pipeline.ErrTransient,
			errIs: context.Canceled,
		},
		{
			name: "No Text",
			setup: func(t *testing.T, h *harness) pipeline.Task {
				return h.upload(t, "blank.pdf", testutils.BuildPDF([]testutils.PDFPage{{}, {}}))
			},
			state: pipeline.StateExtracted,
			kind:  pipeline.ErrTerminal,
			errIs: pipeline.ErrNoText,
		},
		{
			name: "Unknown Profile",
			setup: func(t *testing.T, h *harness) pipeline.Task {
				task := h.upload(t, "a.pdf", threePagePDF(72))
				task.Profile = "poetry"
				return task
			},
			state: pipeline.StateTransformed,
			kind:  pipeline.ErrTerminal,
			errIs: pipeline.ErrUnknownProfile,
		},
		{
			name: "Provider Rejects Request",
			setup: func(t *testing.T, h *harness) pipeline.Task {
				h.completer.err = &provider.Error{Provider: "openai", StatusCode: 400, Message: "bad request"}
				return h.upload(t, "a.pdf", threePagePDF(72))
			},
			state: pipeline.StateTransformed,
			kind:  pipeline.ErrTerminal,
		},
		{
			name: "Provider Unavailable",
			setup: func(t *testing.T, h *harness) pipeline.Task {
				h.completer.err = &provider.Error{Provider: "openai", StatusCode: 503, Message: "overloaded"}
				return h.upload(t, "a.pdf", threePagePDF(72))
			},
			state: pipeline.StateTransformed,
			kind:  pipeline.ErrTransient,
		},
		{
			name: "Artifact Put Fails",
			setup: func(t *testing.T, h *harness) pipeline.Task {
				task := h.upload(t, "a.pdf", threePagePDF(72))
				h.objects.PutErr = errors.New("disk full")
				return task
			},
			state: pipeline.StatePersisted,
			kind:  pipeline.ErrTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			task := tt.setup(t, h)

			res, err := h.orch.Run(context.Background(), task, pipeline.Hooks{})
			require.Error(t, err)
			assert.Nil(t, res)

			var se *pipeline.StageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.state, se.State)
			assert.ErrorIs(t, err, tt.kind)
			if tt.errIs != nil {
				assert.ErrorIs(t, err, tt.errIs)
			}
			assert.Empty(t, h.notifier.sent)

			n, _ := h.repo.Count(context.Background())
			assert.Zero(t, n)
			v, _ := h.index.Count(context.Background())
			assert.Zero(t, v, "no vector left behind")
		})
	}
}

func TestTask_Validate(t *testing.T) {
	valid := pipeline.Task{ID: "t", Bucket: "b", ObjectName: "o", UserID: "u", Profile: "summary"}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.UserID = ""
	assert.ErrorIs(t, bad.Validate(), pipeline.ErrInvalidTask)

	bad = valid
	bad.StartPage, bad.EndPage = 3, 2
	assert.ErrorIs(t, bad.Validate(), pipeline.ErrInvalidTask)
}
