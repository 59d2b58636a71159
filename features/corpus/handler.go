package corpus

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"vulnscope/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Ingest handles POST /corpus/documents with {"documents": [...]}.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Documents []Document `json:"documents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Documents) == 0 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "documents is required", http.StatusBadRequest)
		return
	}

	stored, err := h.service.Ingest(r.Context(), req.Documents)
	if err != nil {
		if errors.Is(err, ErrInvalidDocument) {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("ingest failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]int{"stored": stored}}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// List handles GET /corpus/documents?source_tag=...
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	sourceTag := r.URL.Query().Get("source_tag")
	if sourceTag == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "source_tag is required", http.StatusBadRequest)
		return
	}

	docs, err := h.service.ListBySourceTag(r.Context(), sourceTag)
	if err != nil {
		slog.Error("list failed", "error", err, "source_tag", sourceTag)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []Document{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": docs}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Get handles GET /corpus/documents/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(r.Context(), w, "NOT_FOUND", "document not found", http.StatusNotFound)
			return
		}
		slog.Error("get failed", "error", err, "id", id)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": doc}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Reindex handles POST /corpus/reindex with {"source_tag": "...", "rebuild": bool}.
func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceTag string `json:"source_tag"`
		Rebuild   bool   `json:"rebuild"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.SourceTag == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "source_tag is required", http.StatusBadRequest)
		return
	}

	if err := h.service.RequestReindex(r.Context(), req.SourceTag, req.Rebuild); err != nil {
		slog.Error("reindex request failed", "error", err, "source_tag", req.SourceTag)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]string{"status": "queued"}}); err != nil {
		slog.Error("failed to encode response", "error", err)
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
