package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"docbrief/internal/middleware"
)

// Counter is satisfied by the document repository, the failed task
// repository and the vector index.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	documents Counter
	failed    Counter
	vectors   Counter
}

func NewHandler(documents, failed, vectors Counter) *Handler {
	return &Handler{documents: documents, failed: failed, vectors: vectors}
}

type StatsResponse struct {
	Documents   int `json:"documents"`
	FailedTasks int `json:"failed_tasks"`
	Vectors     int `json:"vectors"`
}

// GetStats handles GET /stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var resp StatsResponse
	counts := []struct {
		name string
		c    Counter
		dst  *int
	}{
		{"documents", h.documents, &resp.Documents},
		{"failed tasks", h.failed, &resp.FailedTasks},
		{"vectors", h.vectors, &resp.Vectors},
	}
	for _, c := range counts {
		n, err := c.c.Count(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count "+c.name, "error", err)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count "+c.name, http.StatusInternalServerError)
			return
		}
		*c.dst = n
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
