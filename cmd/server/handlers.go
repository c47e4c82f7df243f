package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/akasha-ai/akasha"
)

type handler struct {
	engine *akasha.Akasha
}

func newHandler(e *akasha.Akasha) *handler {
	return &handler{engine: e}
}

// apiError is the uniform error body.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// writeCoreError maps engine error kinds to HTTP statuses.
func writeCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, akasha.ErrValidation):
		writeJSON(w, http.StatusBadRequest, apiError{
			Error: "validation_error", Message: err.Error(),
		})
	case errors.Is(err, akasha.ErrNotFound):
		writeJSON(w, http.StatusNotFound, apiError{
			Error: "not_found", Message: err.Error(),
		})
	case errors.Is(err, akasha.ErrScopeViolation):
		writeJSON(w, http.StatusNotFound, apiError{
			Error: "not_found", Message: "record not accessible in this scope",
		})
	case errors.Is(err, akasha.ErrDatabase):
		writeJSON(w, http.StatusServiceUnavailable, apiError{
			Error: "database_unavailable", Message: err.Error(),
			Hint: "check the database connection and retry",
		})
	case errors.Is(err, akasha.ErrLLM), errors.Is(err, akasha.ErrEmbedding):
		writeJSON(w, http.StatusServiceUnavailable, apiError{
			Error: "provider_unavailable", Message: err.Error(),
			Hint: "check provider credentials and rate limits",
		})
	default:
		writeJSON(w, http.StatusInternalServerError, apiError{
			Error: "internal_error", Message: "unexpected error",
		})
		slog.Error("unhandled error", "error", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{
			Error: "validation_error", Message: "invalid JSON body",
		})
		return false
	}
	return true
}

// POST /api/graphrag/query
func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Query   string            `json:"query"`
		Options *akasha.AskOptions `json:"options,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.engine.Ask(ctx, req.Query, req.Options)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/graph/extract
func (h *handler) handleExtract(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	var req struct {
		Text    string              `json:"text"`
		Options *akasha.LearnOptions `json:"options,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.engine.Learn(ctx, req.Text, req.Options)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/graph/extract/batch
func (h *handler) handleExtractBatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	var req struct {
		Items   []akasha.BatchItem   `json:"items"`
		Options *akasha.LearnOptions `json:"options,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, apiError{
			Error: "validation_error", Message: "items is required",
		})
		return
	}

	res, err := h.engine.LearnBatch(ctx, req.Items, req.Options)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/graph/entities
func (h *handler) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var req akasha.EntityInput
	if !decodeBody(w, r, &req) {
		return
	}
	e, err := h.engine.CreateEntity(r.Context(), req)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// POST /api/graph/entities/batch
func (h *handler) handleCreateEntitiesBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Entities []akasha.EntityInput `json:"entities"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	es, err := h.engine.CreateEntities(r.Context(), req.Entities)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"entities": es,
		"created":  len(es),
	})
}

// GET /api/graph/entities
func (h *handler) handleListEntities(w http.ResponseWriter, r *http.Request) {
	opts := listOptionsFromQuery(r)
	es, err := h.engine.ListEntities(r.Context(), opts)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": es})
}

// GET /api/graph/entities/{id}
func (h *handler) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	e, err := h.engine.GetEntity(r.Context(), r.PathValue("id"))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// PUT /api/graph/entities/{id}
func (h *handler) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	var props map[string]any
	if !decodeBody(w, r, &props) {
		return
	}
	e, err := h.engine.UpdateEntity(r.Context(), r.PathValue("id"), props)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// DELETE /api/graph/entities/{id}
func (h *handler) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.DeleteEntity(r.Context(), r.PathValue("id"))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": res.Deleted,
		"message": res.Message,
	})
}

// POST /api/graph/relationships
func (h *handler) handleCreateRelationship(w http.ResponseWriter, r *http.Request) {
	var req akasha.RelationshipInput
	if !decodeBody(w, r, &req) {
		return
	}
	rel, err := h.engine.CreateRelationship(r.Context(), req)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

// POST /api/graph/relationships/batch
func (h *handler) handleCreateRelationshipsBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Relationships []akasha.RelationshipInput `json:"relationships"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	rels, err := h.engine.CreateRelationships(r.Context(), req.Relationships)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"relationships": rels,
		"created":       len(rels),
	})
}

// GET /api/graph/relationships
func (h *handler) handleListRelationships(w http.ResponseWriter, r *http.Request) {
	opts := listOptionsFromQuery(r)
	rels, err := h.engine.ListRelationships(r.Context(), opts)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"relationships": rels})
}

// GET /api/graph/relationships/{id}
func (h *handler) handleGetRelationship(w http.ResponseWriter, r *http.Request) {
	rel, err := h.engine.GetRelationship(r.Context(), r.PathValue("id"))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

// PUT /api/graph/relationships/{id}
func (h *handler) handleUpdateRelationship(w http.ResponseWriter, r *http.Request) {
	var props map[string]any
	if !decodeBody(w, r, &props) {
		return
	}
	rel, err := h.engine.UpdateRelationship(r.Context(), r.PathValue("id"), props)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

// DELETE /api/graph/relationships/{id}
func (h *handler) handleDeleteRelationship(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.DeleteRelationship(r.Context(), r.PathValue("id"))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": res.Deleted,
		"message": res.Message,
	})
}

// GET /api/health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	health := h.engine.HealthCheck(ctx)
	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func listOptionsFromQuery(r *http.Request) *akasha.ListOptions {
	q := r.URL.Query()
	opts := &akasha.ListOptions{
		Label:  q.Get("label"),
		FromID: q.Get("from"),
		ToID:   q.Get("to"),
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		opts.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		opts.Offset = v
	}
	return opts
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
