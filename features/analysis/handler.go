package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"vulnscope/internal/middleware"
	"vulnscope/internal/orchestrator"
	"vulnscope/internal/report"
)

// Orchestrator runs the full pipeline for one raw report.
type Orchestrator interface {
	AnalyzeReport(ctx context.Context, raw string) ([]orchestrator.Result, error)
}

type Handler struct {
	orch Orchestrator
}

func NewHandler(orch Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// Analyze handles POST /analyze with {"report": "..."}. The response keeps
// one result per extracted finding in extraction order, including the ones
// that failed.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Report string `json:"report"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	results, err := h.orch.AnalyzeReport(ctx, req.Report)
	if err != nil {
		if errors.Is(err, report.ErrEmptyInput) {
			h.writeError(ctx, w, "VALIDATION_ERROR", "report is required", http.StatusBadRequest)
			return
		}
		slog.ErrorContext(ctx, "analysis run failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	succeeded := 0
	for _, res := range results {
		if res.Status == orchestrator.StatusSucceeded {
			succeeded++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": results,
		"meta": map[string]int{
			"findings":  len(results),
			"succeeded": succeeded,
			"failed":    len(results) - succeeded,
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
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
