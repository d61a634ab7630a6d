package similarity

import (
	"context"
	"errors"
	"fmt"
	"math"

	"docbrief/internal/storage"
)

var (
	ErrNoChunks          = errors.New("no chunks to fingerprint")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Index interface {
	Query(ctx context.Context, values []float32, k int) ([]storage.Match, error)
}

// IsDuplicate is the single place the threshold comparison lives.
func IsDuplicate(score, threshold float64) bool {
	return score >= threshold
}

type Engine struct {
	embedder   Embedder
	index      Index
	threshold  float64
	candidates int
	dimension  int
}

func NewEngine(embedder Embedder, index Index, threshold float64, candidates, dimension int) *Engine {
	if candidates < 1 {
		candidates = 1
	}
	return &Engine{embedder: embedder, index: index, threshold: threshold, candidates: candidates, dimension: dimension}
}

// Decision is the outcome of a dedup check. Duplicates holds the neighbours
// at or above the threshold, best first.
type Decision struct {
	Fingerprint []float32
	Nearest     *storage.Match
	Duplicates  []storage.Match
}

func (d *Decision) IsDuplicate() bool {
	return len(d.Duplicates) > 0
}

// Fingerprint embeds every chunk in one batch and mean-pools the vectors into
// a single unit-length document vector.
func (e *Engine) Fingerprint(ctx context.Context, chunks []string) ([]float32, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	vecs, err := e.embedder.Embed(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("embed chunks: got %d vectors for %d inputs", len(vecs), len(chunks))
	}

	sum := make([]float64, e.dimension)
	for i, v := range vecs {
		if len(v) != e.dimension {
			return nil, fmt.Errorf("%w: chunk %d has %d, want %d", ErrDimensionMismatch, i, len(v), e.dimension)
		}
		for j, x := range v {
			sum[j] += float64(x)
		}
	}

	out := make([]float32, e.dimension)
	for j := range sum {
		out[j] = float32(sum[j] / float64(len(vecs)))
	}
	return Normalize(out), nil
}

// Check fingerprints the document and compares it with its nearest
// neighbours in the index.
func (e *Engine) Check(ctx context.Context, chunks []string) (*Decision, error) {
	fp, err := e.Fingerprint(ctx, chunks)
	if err != nil {
		return nil, err
	}

	matches, err := e.index.Query(ctx, fp, e.candidates)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	d := &Decision{Fingerprint: fp}
	for i, m := range matches {
		if i == 0 {
			nearest := m
			d.Nearest = &nearest
		}
		if IsDuplicate(m.Score, e.threshold) {
			d.Duplicates = append(d.Duplicates, m)
		}
	}
	return d, nil
}

// Normalize scales v to unit length in place. A zero vector is returned as is.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// Cosine returns the cosine similarity of two equal-length vectors.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
