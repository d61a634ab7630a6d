package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"docbrief/features/document"
	"docbrief/features/job"
	"docbrief/features/profile"
	"docbrief/features/stats"
	"docbrief/internal/config"
	"docbrief/internal/extract"
	"docbrief/internal/middleware"
	"docbrief/internal/notify"
	"docbrief/internal/pipeline"
	"docbrief/internal/similarity"
	"docbrief/internal/storage"
	"docbrief/internal/transform"
	"docbrief/internal/worker"

	"github.com/nsqio/go-nsq"
)

type App struct {
	Handler         http.Handler
	DocumentService *document.Service
	JobService      *job.Service
	Orchestrator    *pipeline.Orchestrator
	TaskConsumer    *worker.TaskConsumer

	cfg    *config.Config
	logger *slog.Logger
}

func New(
	cfg *config.Config,
	db *sql.DB,
	vectors storage.VectorIndex,
	objects storage.ObjectStore,
	pub Publisher,
	models Models,
	logger *slog.Logger,
) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if objects == nil || vectors == nil {
		return nil, errors.New("object store and vector index are required")
	}
	storageTimeout := time.Duration(cfg.StorageTimeoutSeconds) * time.Second
	objects = storage.BoundObjects(objects, storageTimeout)
	vectors = storage.BoundVectors(vectors, storageTimeout)
	pub = limitPublisher(pub, cfg.NSQMaxMsgSize)

	// Storage
	documentRepo := storage.NewPostgresRepo(db)
	coordinator := storage.NewCoordinator(objects, vectors, documentRepo, logger)

	// Feature: Profiles
	profileRepo := profile.NewPostgresRepo(db)
	profileService := profile.NewService(profileRepo, cfg.TranslateLanguage)
	profileHandler := profile.NewHandler(profileService)

	// Feature: Failed tasks
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, pub, logger)
	jobHandler := job.NewHandler(jobService)

	// Feature: Documents
	maxUpload := cfg.MaxUploadSizeMB << 20
	documentService := document.NewService(coordinator, documentRepo, objects, profileService, pub, document.Options{
		InboundBucket:  cfg.InboundBucket,
		MaxUploadBytes: maxUpload,
	})
	documentHandler := document.NewHandler(documentService, maxUpload)

	// Feature: Stats
	statsHandler := stats.NewHandler(documentRepo, jobRepo, vectors)

	// Pipeline
	notifier := newNotifier(cfg, pub)
	orchestrator := pipeline.NewOrchestrator(pipeline.Deps{
		Objects:     objects,
		Records:     documentRepo,
		Store:       coordinator,
		Extractor:   extract.NewExtractor(),
		Tokenizer:   models.Tokenizer,
		Deduper:     similarity.NewEngine(models.Embedder, vectors, cfg.SimilarityThreshold, cfg.DedupCandidates, cfg.VectorDimension),
		Transformer: transform.NewTransformer(models.Completer, models.Tokenizer, cfg.ContextTokens, cfg.ReplyTokens),
		Profiles:    profileService,
		Notifier:    notifier,
	}, pipeline.Options{
		DerivedBucket: cfg.DerivedBucket,
		ChunkTokens:   cfg.ChunkTokens,
	})
	taskConsumer := worker.NewTaskConsumer(orchestrator, jobService, notifier, cfg.TaskAttempts(),
		time.Duration(cfg.TaskTimeoutSeconds)*time.Second)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Correlation-ID")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()

	mux.Handle("POST /documents/upload", middleware.CorrelationID(enableCORS(documentHandler.Upload)))
	mux.Handle("POST /tasks", middleware.CorrelationID(enableCORS(documentHandler.Submit)))
	mux.Handle("GET /documents", middleware.CorrelationID(enableCORS(documentHandler.List)))
	mux.Handle("GET /documents/{id}", middleware.CorrelationID(enableCORS(documentHandler.Get)))
	mux.Handle("DELETE /documents/{id}", middleware.CorrelationID(enableCORS(documentHandler.Delete)))

	mux.Handle("GET /profiles", middleware.CorrelationID(enableCORS(profileHandler.List)))
	mux.Handle("PUT /profiles/{name}", middleware.CorrelationID(enableCORS(profileHandler.Put)))

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	// Preflight for every route.
	mux.Handle("OPTIONS /", middleware.CorrelationID(enableCORS(func(w http.ResponseWriter, r *http.Request) {})))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:         mux,
		DocumentService: documentService,
		JobService:      jobService,
		Orchestrator:    orchestrator,
		TaskConsumer:    taskConsumer,
		cfg:             cfg,
		logger:          logger,
	}, nil
}

// newNotifier prefers the webhook, then the notify topic.
func newNotifier(cfg *config.Config, pub Publisher) notify.Notifier {
	if cfg.NotifyWebhookURL != "" {
		return notify.NewWebhookNotifier(cfg.NotifyWebhookURL, time.Duration(cfg.NotifyTimeoutSeconds)*time.Second)
	}
	if pub != nil {
		return notify.NewQueueNotifier(pub)
	}
	return notify.LogNotifier{}
}

// Run serves the API and consumes pipeline tasks, depending on which roles
// are enabled, until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if !a.cfg.EnableAPI && !a.cfg.EnableWorker {
		return errors.New("neither API nor worker is enabled")
	}

	if a.cfg.EnableWorker {
		consumer, err := a.startConsumer()
		if err != nil {
			return err
		}
		defer func() {
			consumer.Stop()
			<-consumer.StopChan
			a.logger.Info("task consumer stopped")
		}()
	}

	if !a.cfg.EnableAPI {
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		a.logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", "error", err)
		}
	}()

	a.logger.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) startConsumer() (*nsq.Consumer, error) {
	nsqCfg := nsq.NewConfig()
	// Attempts are counted by the task consumer, which parks the task itself.
	nsqCfg.MaxAttempts = 0
	nsqCfg.MaxInFlight = max(a.cfg.WorkerConcurrency, 1)

	consumer, err := nsq.NewConsumer(config.TopicDocumentProcess, config.ChannelPipeline, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.AddConcurrentHandlers(a.TaskConsumer, max(a.cfg.WorkerConcurrency, 1))

	if a.cfg.NSQLookupd != "" {
		err = consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd)
	} else {
		err = consumer.ConnectToNSQD(a.cfg.NSQDHost)
	}
	if err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("nsq connect error: %w", err)
	}
	a.logger.Info("task consumer connected", "topic", config.TopicDocumentProcess, "concurrency", a.cfg.WorkerConcurrency)
	return consumer, nil
}
