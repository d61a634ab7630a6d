package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

const (
	VectorBackendWeaviate = "weaviate"
	VectorBackendPgvector = "pgvector"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

const (
	// MessageOverheadTokens is the framing a chat model adds per message.
	MessageOverheadTokens = 4
	// InstructionTokens is the window share reserved for a profile instruction.
	InstructionTokens = 1024
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"docbrief"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"docbrief"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Vector index
	VectorBackend       string  `envconfig:"VECTOR_BACKEND" default:"weaviate"`
	WeaviateHost        string  `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme      string  `envconfig:"WEAVIATE_SCHEME" default:"http"`
	VectorCollection    string  `envconfig:"VECTOR_COLLECTION" default:"DocumentFingerprint"`
	VectorDimension     int     `envconfig:"VECTOR_DIMENSION" default:"1536"`
	SimilarityThreshold float64 `envconfig:"SIMILARITY_THRESHOLD" default:"0.9"`
	DedupCandidates     int     `envconfig:"DEDUP_CANDIDATES" default:"1"`

	// Queue
	NSQLookupd        string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost          string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP          string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQMaxAttempts    uint16 `envconfig:"NSQ_MAX_ATTEMPTS" default:"5"`
	NSQMaxMsgSize     int64  `envconfig:"NSQ_MAX_MSG_SIZE" default:"1048576"`
	WorkerConcurrency int    `envconfig:"WORKER_CONCURRENCY" default:"4"`

	// Object store
	S3Endpoint            string `envconfig:"S3_ENDPOINT" default:"http://minio:9000"`
	S3Region              string `envconfig:"S3_REGION" default:"us-east-1"`
	S3AccessKey           string `envconfig:"S3_ACCESS_KEY" default:"minioadmin"`
	S3SecretKey           string `envconfig:"S3_SECRET_KEY" default:"minioadmin"`
	S3UsePathStyle        bool   `envconfig:"S3_USE_PATH_STYLE" default:"true"`
	InboundBucket         string `envconfig:"INBOUND_BUCKET" default:"inbound"`
	DerivedBucket         string `envconfig:"DERIVED_BUCKET" default:"derived"`
	PresignTTLMinutes     int    `envconfig:"PRESIGN_TTL_MINUTES" default:"60"`
	PublicArtifactBaseURL string `envconfig:"PUBLIC_ARTIFACT_BASE_URL"`

	// Model provider
	Provider      string  `envconfig:"PROVIDER" default:"gemini"`
	GeminiAPIKey  string  `envconfig:"GEMINI_API_KEY"`
	OpenAIAPIKey  string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string  `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	EmbedModel    string  `envconfig:"EMBED_MODEL"`
	ChatModel     string  `envconfig:"CHAT_MODEL"`
	Temperature   float32 `envconfig:"TEMPERATURE" default:"0.2"`

	// Token budgets
	TokenizerEncoding string `envconfig:"TOKENIZER_ENCODING" default:"cl100k_base"`
	ChunkTokens       int    `envconfig:"CHUNK_TOKENS" default:"4096"`
	ContextTokens     int    `envconfig:"CONTEXT_TOKENS" default:"16384"`
	ReplyTokens       int    `envconfig:"REPLY_TOKENS" default:"2048"`

	TranslateLanguage string `envconfig:"TRANSLATE_LANGUAGE" default:"Russian"`

	// Notification
	NotifyWebhookURL     string `envconfig:"NOTIFY_WEBHOOK_URL"`
	NotifyTimeoutSeconds int    `envconfig:"NOTIFY_TIMEOUT_SECONDS" default:"10"`

	// Server
	EnableAPI       bool   `envconfig:"ENABLE_API" default:"true"`
	EnableWorker    bool   `envconfig:"ENABLE_WORKER" default:"true"`
	ServerPort      int    `envconfig:"SERVER_PORT" default:"8081"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"5"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`

	// Timeouts
	ProviderTimeoutSeconds int `envconfig:"PROVIDER_TIMEOUT_SECONDS" default:"60"`
	StorageTimeoutSeconds  int `envconfig:"STORAGE_TIMEOUT_SECONDS" default:"30"`
	TaskTimeoutSeconds     int `envconfig:"TASK_TIMEOUT_SECONDS" default:"1800"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell win; a missing .env is fine.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.InboundBucket == "" || c.DerivedBucket == "" {
		return fmt.Errorf("%w: INBOUND_BUCKET/DERIVED_BUCKET", ErrMissingRequired)
	}

	switch c.VectorBackend {
	case VectorBackendWeaviate, VectorBackendPgvector:
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND %q", ErrInvalid, c.VectorBackend)
	}
	switch c.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: PROVIDER %q", ErrInvalid, c.Provider)
	}

	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: SIMILARITY_THRESHOLD must be in (0,1]", ErrInvalid)
	}
	if c.VectorDimension <= 0 {
		return fmt.Errorf("%w: VECTOR_DIMENSION must be positive", ErrInvalid)
	}
	if c.DedupCandidates <= 0 {
		return fmt.Errorf("%w: DEDUP_CANDIDATES must be positive", ErrInvalid)
	}
	if c.ChunkTokens <= 0 {
		return fmt.Errorf("%w: CHUNK_TOKENS must be positive", ErrInvalid)
	}
	// The instruction and one chunk, each framed as a message, plus the
	// reply must fit in one context window.
	if c.ChunkTokens+c.ReplyTokens+2*MessageOverheadTokens+InstructionTokens > c.ContextTokens {
		return fmt.Errorf("%w: CHUNK_TOKENS + REPLY_TOKENS leaves no room for the instruction in CONTEXT_TOKENS", ErrInvalid)
	}
	return nil
}

// TaskAttempts is the number of deliveries after which a transient failure is parked.
func (c *Config) TaskAttempts() uint16 {
	if c.NSQMaxAttempts == 0 {
		return 1
	}
	return c.NSQMaxAttempts
}
