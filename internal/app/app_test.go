package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docbrief/internal/config"
	"docbrief/internal/notify"
	"docbrief/internal/testutils"
)

type nopPublisher struct{}

func (nopPublisher) Publish(topic string, body []byte) error { return nil }

type recordingPublisher struct {
	bodies [][]byte
}

func (p *recordingPublisher) Publish(topic string, body []byte) error {
	p.bodies = append(p.bodies, body)
	return nil
}

func newTestApp(t *testing.T) (*App, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		InboundBucket:       "inbound",
		DerivedBucket:       "derived",
		SimilarityThreshold: 0.9,
		DedupCandidates:     1,
		VectorDimension:     8,
		ChunkTokens:         100,
		ContextTokens:       1000,
		ReplyTokens:         100,
		MaxUploadSizeMB:     5,
		TaskTimeoutSeconds:  60,
		NSQMaxAttempts:      3,
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	a, err := New(cfg, db, testutils.NewMemoryVectorIndex(), testutils.NewMemoryObjectStore(), nopPublisher{}, Models{}, logger)
	require.NoError(t, err)
	return a, mock
}

func TestNew(t *testing.T) {
	a, _ := newTestApp(t)
	assert.NotNil(t, a.Handler)
	assert.NotNil(t, a.DocumentService)
	assert.NotNil(t, a.JobService)
	assert.NotNil(t, a.Orchestrator)
	assert.NotNil(t, a.TaskConsumer)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestNew_RequiresStores(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = New(&config.Config{}, db, nil, testutils.NewMemoryObjectStore(), nil, Models{}, nil)
	assert.Error(t, err)
}

func TestRoutes_CORSPreflight(t *testing.T) {
	a, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodOptions, "/documents", nil)
	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "DELETE")

	req = httptest.NewRequest(http.MethodGet, "/documents?page=x", nil)
	w = httptest.NewRecorder()
	a.Handler.ServeHTTP(w, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutes_Stats(t *testing.T) {
	a, mock := newTestApp(t)
	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM documents`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM failed_tasks`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data struct {
			Documents   int `json:"documents"`
			FailedTasks int `json:"failed_tasks"`
			Vectors     int `json:"vectors"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 4, resp.Data.Documents)
	assert.Equal(t, 1, resp.Data.FailedTasks)
	assert.Equal(t, 0, resp.Data.Vectors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoutes_ProfilesIncludeBuiltIns(t *testing.T) {
	a, mock := newTestApp(t)
	mock.ExpectQuery(`SELECT name, instruction, updated_at FROM profiles`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "instruction", "updated_at"}))

	req := httptest.NewRequest(http.MethodGet, "/profiles", nil)
	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"summary"`)
	assert.Contains(t, w.Body.String(), `"translate"`)
}

func TestRoutes_SubmitRejectsBadBody(t *testing.T) {
	a, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader("{"))
	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
}

func TestNewNotifier(t *testing.T) {
	n := newNotifier(&config.Config{NotifyWebhookURL: "http://hooks.local/done", NotifyTimeoutSeconds: 5}, nopPublisher{})
	assert.IsType(t, &notify.WebhookNotifier{}, n)

	n = newNotifier(&config.Config{}, nopPublisher{})
	assert.IsType(t, &notify.QueueNotifier{}, n)

	n = newNotifier(&config.Config{}, nil)
	assert.IsType(t, notify.LogNotifier{}, n)
}

func TestLimitPublisher(t *testing.T) {
	rec := &recordingPublisher{}
	pub := limitPublisher(rec, 8)

	require.NoError(t, pub.Publish(config.TopicDocumentProcess, []byte("12345678")))
	err := pub.Publish(config.TopicDocumentProcess, []byte("123456789"))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
	assert.Len(t, rec.bodies, 1)

	assert.Same(t, rec, limitPublisher(rec, 0))
	assert.Nil(t, limitPublisher(nil, 8))
}

func TestRun_NothingEnabled(t *testing.T) {
	a, _ := newTestApp(t)
	err := a.Run(context.Background())
	assert.Error(t, err)
}

type fakeBuckets struct {
	created []string
	failOn  string
}

func (f *fakeBuckets) EnsureBucket(ctx context.Context, bucket string) error {
	if bucket == f.failOn {
		return errors.New("access denied")
	}
	f.created = append(f.created, bucket)
	return nil
}

func TestBucketSchema(t *testing.T) {
	f := &fakeBuckets{}
	s := &bucketSchema{store: f, buckets: []string{"inbound", "derived"}}
	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.Equal(t, []string{"inbound", "derived"}, f.created)

	f = &fakeBuckets{failOn: "derived"}
	s = &bucketSchema{store: f, buckets: []string{"inbound", "derived"}}
	err := s.EnsureSchema(context.Background())
	assert.ErrorContains(t, err, "bucket derived")
}
