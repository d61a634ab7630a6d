package vector

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

const (
	// HNSW parameters for the fingerprint collection.
	hnswMaxConnections = 16
	hnswEfConstruction = 200
	hnswEf             = 50
)

// SchemaClient is the part of the Weaviate schema API bootstrap needs.
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

func fingerprintProperties() []*models.Property {
	return []*models.Property{
		{
			Name:         "checksum",
			DataType:     []string{"text"},
			Tokenization: "field",
		},
	}
}

// FingerprintClass describes the collection of document fingerprints: no
// server-side vectorizer, cosine distance, HNSW index.
func FingerprintClass(className string) *models.Class {
	return &models.Class{
		Class:           className,
		Description:     "Semantic fingerprint of a processed document",
		Vectorizer:      "none",
		VectorIndexType: "hnsw",
		VectorIndexConfig: map[string]interface{}{
			"distance":       "cosine",
			"maxConnections": hnswMaxConnections,
			"efConstruction": hnswEfConstruction,
			"ef":             hnswEf,
		},
		Properties: fingerprintProperties(),
	}
}

// EnsureSchema creates the fingerprint class if needed and adds properties
// that older deployments lack. It is safe to call on every start.
func EnsureSchema(ctx context.Context, client SchemaClient, className string) error {
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}

	if !exists {
		return client.CreateClass(ctx, FingerprintClass(className))
	}

	class, err := client.GetClass(ctx, className)
	if err != nil {
		return err
	}
	if class == nil {
		return fmt.Errorf("class %s reported but not returned", className)
	}
	if cfg, ok := class.VectorIndexConfig.(map[string]interface{}); ok {
		if d, ok := cfg["distance"].(string); ok && d != "" && d != "cosine" {
			return fmt.Errorf("class %s uses %s distance, want cosine", className, d)
		}
	}

	existing := make(map[string]bool)
	for _, p := range class.Properties {
		existing[p.Name] = true
	}
	for _, p := range fingerprintProperties() {
		if !existing[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// SchemaAdapter exposes a Weaviate client as a SchemaClient.
type SchemaAdapter struct {
	client *weaviate.Client
}

func NewSchemaAdapter(client *weaviate.Client) *SchemaAdapter {
	return &SchemaAdapter{client: client}
}

func (a *SchemaAdapter) ClassExists(ctx context.Context, className string) (bool, error) {
	return a.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
}

func (a *SchemaAdapter) CreateClass(ctx context.Context, class *models.Class) error {
	return a.client.Schema().ClassCreator().WithClass(class).Do(ctx)
}

func (a *SchemaAdapter) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return a.client.Schema().ClassGetter().WithClassName(className).Do(ctx)
}

func (a *SchemaAdapter) AddProperty(ctx context.Context, className string, property *models.Property) error {
	return a.client.Schema().PropertyCreator().WithClassName(className).WithProperty(property).Do(ctx)
}
