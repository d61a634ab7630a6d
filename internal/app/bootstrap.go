package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"docbrief/internal/adapter/gemini"
	"docbrief/internal/adapter/objectstore"
	"docbrief/internal/adapter/openai"
	"docbrief/internal/adapter/pgvector"
	wstore "docbrief/internal/adapter/weaviate"
	"docbrief/internal/config"
	"docbrief/internal/similarity"
	"docbrief/internal/storage"
	"docbrief/internal/text"
	"docbrief/internal/transform"
	"docbrief/internal/vector"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// SchemaStore is anything that can create its backing schema idempotently.
type SchemaStore interface {
	EnsureSchema(ctx context.Context) error
}

// Publisher is the producing side of the queue.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Models bundles the provider-backed pieces of the pipeline.
type Models struct {
	Embedder  similarity.Embedder
	Completer transform.Completer
	Tokenizer text.Tokenizer
}

type Dependencies struct {
	DB          *sql.DB
	Vectors     storage.VectorIndex
	Objects     storage.ObjectStore
	NSQProducer *nsq.Producer
	Models      Models

	closers []func() error
}

// Close releases everything Bootstrap opened, in reverse order.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	deps := &Dependencies{}
	ok := false
	defer func() {
		if !ok {
			_ = deps.Close()
		}
	}()

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	// Database
	db, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	deps.DB = db
	deps.closers = append(deps.closers, db.Close)

	// Migrations
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("migration up error: %w", err)
	}

	// Vector index
	vectors, schema, err := NewVectorIndex(cfg, db)
	if err != nil {
		return nil, err
	}
	if err := EnsureSchemaWithRetry(ctx, schema, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		return nil, fmt.Errorf("%s schema error: %w", cfg.VectorBackend, err)
	}
	deps.Vectors = vectors

	// Object store
	objects, err := objectstore.NewS3Store(ctx, objectstore.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		UsePathStyle:  cfg.S3UsePathStyle,
		PresignTTL:    time.Duration(cfg.PresignTTLMinutes) * time.Minute,
		PublicBaseURL: cfg.PublicArtifactBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("object store error: %w", err)
	}
	buckets := &bucketSchema{store: objects, buckets: []string{cfg.InboundBucket, cfg.DerivedBucket}}
	if err := EnsureSchemaWithRetry(ctx, buckets, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		return nil, fmt.Errorf("object store bucket error: %w", err)
	}
	deps.Objects = objects

	// NSQ Producer
	producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}
	deps.NSQProducer = producer
	deps.closers = append(deps.closers, func() error { producer.Stop(); return nil })

	createTopics(cfg.NSQDHTTP)

	// Models
	models, closers, err := NewModels(ctx, cfg)
	if err != nil {
		return nil, err
	}
	deps.Models = models
	deps.closers = append(deps.closers, closers...)

	ok = true
	return deps, nil
}

// OpenDB opens the Postgres pool and waits for it to answer.
func OpenDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.PingContext(ctx); err == nil {
			return db, nil
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1)
		time.Sleep(retryDelay)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return db, nil
}

// NewVectorIndex builds the configured fingerprint index and the schema
// step that must run before it is used.
func NewVectorIndex(cfg *config.Config, db *sql.DB) (storage.VectorIndex, SchemaStore, error) {
	switch cfg.VectorBackend {
	case config.VectorBackendPgvector:
		idx := pgvector.NewIndex(db, cfg.VectorDimension)
		return idx, idx, nil
	case config.VectorBackendWeaviate, "":
		client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, nil, fmt.Errorf("weaviate client error: %w", err)
		}
		schema := &weaviateSchema{client: vector.NewSchemaAdapter(client), className: cfg.VectorCollection}
		return wstore.NewIndex(client, cfg.VectorCollection, cfg.VectorDimension), schema, nil
	default:
		return nil, nil, fmt.Errorf("%w: VECTOR_BACKEND %q", config.ErrInvalid, cfg.VectorBackend)
	}
}

// NewModels builds the embedder, completer and tokenizer for the configured
// provider. The returned closers release provider clients.
func NewModels(ctx context.Context, cfg *config.Config) (Models, []func() error, error) {
	tok, err := text.NewTiktoken(cfg.TokenizerEncoding)
	if err != nil {
		return Models{}, nil, fmt.Errorf("tokenizer error: %w", err)
	}

	switch cfg.Provider {
	case config.ProviderOpenAI:
		client, err := openai.NewClient(openai.Config{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			EmbedModel:  cfg.EmbedModel,
			ChatModel:   cfg.ChatModel,
			Dimension:   cfg.VectorDimension,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.ReplyTokens,
			Timeout:     time.Duration(cfg.ProviderTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return Models{}, nil, fmt.Errorf("provider error: %w", err)
		}
		return Models{Embedder: client, Completer: client, Tokenizer: tok}, nil, nil

	case config.ProviderGemini, "":
		emb, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbedModel, cfg.VectorDimension)
		if err != nil {
			return Models{}, nil, fmt.Errorf("provider error: %w", err)
		}
		gen, err := gemini.NewGenerator(ctx, cfg.GeminiAPIKey, cfg.ChatModel, cfg.Temperature, cfg.ReplyTokens)
		if err != nil {
			_ = emb.Close()
			return Models{}, nil, fmt.Errorf("provider error: %w", err)
		}
		timeout := time.Duration(cfg.ProviderTimeoutSeconds) * time.Second
		emb.SetTimeout(timeout)
		gen.SetTimeout(timeout)
		return Models{Embedder: emb, Completer: gen, Tokenizer: tok}, []func() error{emb.Close, gen.Close}, nil

	default:
		return Models{}, nil, fmt.Errorf("%w: PROVIDER %q", config.ErrInvalid, cfg.Provider)
	}
}

type weaviateSchema struct {
	client    vector.SchemaClient
	className string
}

func (s *weaviateSchema) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, s.client, s.className)
}

type bucketEnsurer interface {
	EnsureBucket(ctx context.Context, bucket string) error
}

type bucketSchema struct {
	store   bucketEnsurer
	buckets []string
}

func (s *bucketSchema) EnsureSchema(ctx context.Context) error {
	for _, b := range s.buckets {
		if err := s.store.EnsureBucket(ctx, b); err != nil {
			return fmt.Errorf("bucket %s: %w", b, err)
		}
	}
	return nil
}

func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicDocumentProcess)
		create(config.TopicDocumentNotify)
	}()
}

// EnsureSchemaWithRetry delegates schema check to a helper with retry logic.
func EnsureSchemaWithRetry(ctx context.Context, store SchemaStore, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.EnsureSchema(ctx); err == nil {
			return nil
		}
		if i < attempts-1 {
			slog.Warn("schema not ready, retrying...", "attempt", i+1, "error", err)
			time.Sleep(delay)
		}
	}
	return err
}
