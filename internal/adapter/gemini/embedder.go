package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"docbrief/internal/similarity"
)

const (
	DefaultEmbedModel = "gemini-embedding-001"
	// maxBatch is the per-request limit of batchEmbedContents.
	maxBatch = 100
)

type Embedder struct {
	client    *genai.Client
	model     string
	dimension int
	timeout   time.Duration
}

func NewEmbedder(ctx context.Context, apiKey, model string, dimension int, opts ...option.ClientOption) (*Embedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}
	client, err := genai.NewClient(ctx, append(opts, option.WithAPIKey(apiKey))...)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultEmbedModel
	}
	return &Embedder{client: client, model: model, dimension: dimension}, nil
}

func (e *Embedder) Close() error {
	return e.client.Close()
}

// SetTimeout bounds each Embed call.
func (e *Embedder) SetTimeout(d time.Duration) {
	e.timeout = d
}

// Embed returns one vector per text, in input order, sized to the configured
// dimension. Requests are split into batches the API accepts.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	slog.DebugContext(ctx, "embedding content", "model", e.model, "count", len(texts))
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	em := e.client.EmbeddingModel(e.model)

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))

		batch := em.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}
		res, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			slog.ErrorContext(ctx, "embedding failed", "error", err)
			return nil, mapError(err)
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("gemini: got %d embeddings for %d inputs", len(res.Embeddings), end-start)
		}
		for _, emb := range res.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, fmt.Errorf("empty embedding received")
			}
			v, err := FitDimension(emb.Values, e.dimension)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

// FitDimension truncates a Matryoshka-trained embedding to dim values and
// renormalises it. Shorter vectors are rejected.
func FitDimension(v []float32, dim int) ([]float32, error) {
	if dim <= 0 || len(v) == dim {
		return v, nil
	}
	if len(v) < dim {
		return nil, fmt.Errorf("%w: model returned %d, want %d", similarity.ErrDimensionMismatch, len(v), dim)
	}
	out := make([]float32, dim)
	copy(out, v[:dim])
	return similarity.Normalize(out), nil
}
