package weaviate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"docbrief/internal/similarity"
	"docbrief/internal/storage"
)

// Index stores document fingerprints in a Weaviate class.
type Index struct {
	client    *weaviate.Client
	className string
	dimension int
}

func NewIndex(client *weaviate.Client, className string, dimension int) *Index {
	return &Index{client: client, className: className, dimension: dimension}
}

// Upsert writes vectors under their ids. Writing an existing id replaces it.
func (s *Index) Upsert(ctx context.Context, vectors []storage.Vector) error {
	if len(vectors) == 0 {
		return nil
	}

	objs := make([]*models.Object, 0, len(vectors))
	for _, v := range vectors {
		if len(v.Values) != s.dimension {
			return fmt.Errorf("%w: vector %s has %d, want %d", similarity.ErrDimensionMismatch, v.ID, len(v.Values), s.dimension)
		}
		objs = append(objs, &models.Object{
			Class:      s.className,
			ID:         strfmt.UUID(v.ID),
			Vector:     v.Values,
			Properties: map[string]interface{}{"checksum": v.Checksum},
		})
	}

	res, err := s.client.Batch().ObjectsBatcher().WithObjects(objs...).Do(ctx)
	if err != nil {
		return err
	}

	var msgs []string
	for _, r := range res {
		if r.Result != nil && r.Result.Errors != nil {
			for _, e := range r.Result.Errors.Error {
				if e != nil {
					msgs = append(msgs, fmt.Sprintf("%s: %s", r.ID, e.Message))
				}
			}
		}
	}
	if len(msgs) > 0 {
		return fmt.Errorf("batch upsert: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Query returns the k nearest fingerprints. Weaviate reports cosine distance,
// which is converted to similarity.
func (s *Index) Query(ctx context.Context, values []float32, k int) ([]storage.Match, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(values)

	fields := []graphql.Field{
		{Name: "checksum"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithNearVector(nearVector).
		WithLimit(k).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var matches []storage.Match
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	items, ok := data[s.className].([]interface{})
	if !ok {
		return nil, nil
	}
	for _, item := range items {
		props, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		additional, ok := props["_additional"].(map[string]interface{})
		if !ok {
			continue
		}
		id, _ := additional["id"].(string)
		distance, ok := additional["distance"].(float64)
		if id == "" || !ok {
			continue
		}
		matches = append(matches, storage.Match{ID: id, Score: 1 - distance})
	}
	return matches, nil
}

// Delete removes vectors by id. Missing ids are not an error.
func (s *Index) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		err := s.client.Data().Deleter().
			WithClassName(s.className).
			WithID(id).
			Do(ctx)
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	return nil
}

func (s *Index) Count(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.className).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	agg, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	groups, ok := agg[s.className].([]interface{})
	if !ok || len(groups) == 0 {
		return 0, nil
	}
	group, _ := groups[0].(map[string]interface{})
	meta, _ := group["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}

func isNotFound(err error) bool {
	var werr *fault.WeaviateClientError
	return errors.As(err, &werr) && werr.StatusCode == http.StatusNotFound
}
