package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"docbrief/internal/config"
)

const (
	minioUser     = "minioadmin"
	minioPassword = "minioadmin"
)

// IntegrationSuite starts Postgres (with pgvector), Weaviate, nsqd and MinIO
// containers for end-to-end tests.
type IntegrationSuite struct {
	T        *testing.T
	DB       *sql.DB
	Weaviate *weaviate.Client
	NSQ      *nsq.Producer

	DBConnString  string
	WeaviateHost  string
	NSQDAddr      string
	NSQDHTTPAddr  string
	MinIOEndpoint string

	pgContainer       *postgres.PostgresContainer
	weaviateContainer testcontainers.Container
	nsqContainer      testcontainers.Container
	minioContainer    testcontainers.Container
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

func (s *IntegrationSuite) Setup() {
	if testing.Short() {
		s.T.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	// 1. Postgres
	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("docbrief_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	s.DBConnString, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.DB, err = sql.Open("postgres", s.DBConnString)
	require.NoError(s.T, err)

	m, err := migrate.New(MigrationPath(), s.DBConnString)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())

	// 2. Weaviate
	weaviateC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "semitechnologies/weaviate:1.33.6",
			ExposedPorts: []string{"8080/tcp", "50051/tcp"},
			Env: map[string]string{
				"AUTHENTICATION_ANONYMOUS_ACCESS_ENABLED": "true",
				"DEFAULT_VECTORIZER_MODULE":               "none",
				"PERSISTENCE_DATA_PATH":                   "/var/lib/weaviate",
			},
			WaitingFor: wait.ForHTTP("/v1/meta").WithPort("8080/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(s.T, err)
	s.weaviateContainer = weaviateC
	s.WeaviateHost = s.endpoint(ctx, weaviateC, "8080")

	s.Weaviate, err = weaviate.NewClient(weaviate.Config{Host: s.WeaviateHost, Scheme: "http"})
	require.NoError(s.T, err)

	// 3. NSQ
	nsqC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nsqio/nsq:v1.3.0",
			ExposedPorts: []string{"4150/tcp", "4151/tcp"},
			Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
			WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(s.T, err)
	s.nsqContainer = nsqC
	s.NSQDAddr = s.endpoint(ctx, nsqC, "4150")
	s.NSQDHTTPAddr = s.endpoint(ctx, nsqC, "4151")

	s.NSQ, err = nsq.NewProducer(s.NSQDAddr, nsq.NewConfig())
	require.NoError(s.T, err)

	// 4. MinIO
	minioC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Cmd:          []string{"server", "/data"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(s.T, err)
	s.minioContainer = minioC
	s.MinIOEndpoint = "http://" + s.endpoint(ctx, minioC, "9000")
}

func (s *IntegrationSuite) endpoint(ctx context.Context, c testcontainers.Container, port nat.Port) string {
	host, err := c.Host(ctx)
	require.NoError(s.T, err)
	mapped, err := c.MappedPort(ctx, port)
	require.NoError(s.T, err)
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

// Config returns a configuration pointing every client at the suite's
// containers. Provider keys are left empty.
func (s *IntegrationSuite) Config() *config.Config {
	ctx := context.Background()
	pgHost, err := s.pgContainer.Host(ctx)
	require.NoError(s.T, err)
	pgPort, err := s.pgContainer.MappedPort(ctx, "5432")
	require.NoError(s.T, err)

	return &config.Config{
		DBHost:                     pgHost,
		DBPort:                     pgPort.Int(),
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "docbrief_test",
		MigrationPath:              MigrationPath(),
		VectorBackend:              config.VectorBackendWeaviate,
		WeaviateHost:               s.WeaviateHost,
		WeaviateScheme:             "http",
		VectorCollection:           "DocumentFingerprintTest",
		VectorDimension:            8,
		SimilarityThreshold:        0.9,
		DedupCandidates:            1,
		NSQDHost:                   s.NSQDAddr,
		NSQDHTTP:                   s.NSQDHTTPAddr,
		NSQMaxAttempts:             3,
		NSQMaxMsgSize:              1 << 20,
		WorkerConcurrency:          1,
		S3Endpoint:                 s.MinIOEndpoint,
		S3Region:                   "us-east-1",
		S3AccessKey:                minioUser,
		S3SecretKey:                minioPassword,
		S3UsePathStyle:             true,
		InboundBucket:              "inbound",
		DerivedBucket:              "derived",
		PresignTTLMinutes:          10,
		Provider:                   config.ProviderOpenAI,
		TokenizerEncoding:          "cl100k_base",
		ChunkTokens:                500,
		ContextTokens:              4096,
		ReplyTokens:                512,
		EnableAPI:                  true,
		EnableWorker:               true,
		MaxUploadSizeMB:            5,
		ProviderTimeoutSeconds:     10,
		StorageTimeoutSeconds:      10,
		TaskTimeoutSeconds:         60,
		BootstrapRetryAttempts:     3,
		BootstrapRetryDelaySeconds: 1,
	}
}

// MigrationPath returns the file:// URL of the repository's migrations.
func MigrationPath() string {
	_, b, _, _ := runtime.Caller(0)
	return fmt.Sprintf("file://%s", filepath.Join(filepath.Dir(b), "..", "..", "migrations"))
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.NSQ != nil {
		s.NSQ.Stop()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	for _, c := range []testcontainers.Container{s.weaviateContainer, s.nsqContainer, s.minioContainer} {
		if c != nil {
			_ = c.Terminate(ctx)
		}
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(ctx)
	}
}
