// Package api exposes the query pipeline over HTTP. The surface is small:
// one endpoint to process a natural-language query, one to fetch the
// explanation for an earlier query, plus health and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/askdb/internal/observe"
	"github.com/MrWong99/askdb/internal/pipeline"
)

// QueryService is the part of the pipeline the HTTP layer depends on.
type QueryService interface {
	Process(ctx context.Context, req pipeline.Request) pipeline.Result
	GetExplanation(ctx context.Context, queryID uuid.UUID) (string, error)
}

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the HTTP handlers for the query service.
type Handler struct {
	svc QueryService

	// db is optional; when set, /healthz checks database reachability.
	db Pinger
}

// NewHandler creates a Handler around svc. db may be nil.
func NewHandler(svc QueryService, db Pinger) *Handler {
	return &Handler{svc: svc, db: db}
}

// Router builds the HTTP routing table. Application endpoints run behind the
// observability middleware; health and metrics stay outside it so scrapes do
// not pollute request telemetry.
func Router(h *Handler, metrics *observe.Metrics) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(observe.Middleware(metrics))
		r.Post("/api/query", h.processQuery)
		r.Get("/api/query/{queryID}/explanation", h.explanation)
	})

	return r
}

type queryRequest struct {
	Query                 string `json:"query"`
	ConversationID        string `json:"conversation_id,omitempty"`
	IncludeExplanation    bool   `json:"include_explanation"`
	SkipCachedExplanation bool   `json:"skip_cached_explanation"`
}

func (h *Handler) processQuery(w http.ResponseWriter, r *http.Request) {
	var body queryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	req := pipeline.Request{
		Query:                 body.Query,
		RequestID:             observe.CorrelationID(r.Context()),
		IncludeExplanation:    body.IncludeExplanation,
		SkipCachedExplanation: body.SkipCachedExplanation,
	}
	if body.ConversationID != "" {
		id, err := uuid.Parse(body.ConversationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid conversation_id")
			return
		}
		req.ConversationID = id
	}

	result := h.svc.Process(r.Context(), req)
	writeJSON(w, statusFor(result.Outcome), result)
}

func (h *Handler) explanation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "queryID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query id")
		return
	}

	text, err := h.svc.GetExplanation(r.Context(), id)
	switch {
	case errors.Is(err, pipeline.ErrExplanationNotFound):
		writeError(w, http.StatusNotFound, "no explanation found for this query")
		return
	case err != nil:
		slog.Error("explanation retrieval failed", "query_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve explanation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query_id":    id,
		"explanation": text,
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// statusFor maps a pipeline outcome to an HTTP status code. Validation
// failures are the caller's problem, execution failures are the query's, and
// processing failures are ours.
func statusFor(outcome pipeline.Outcome) int {
	switch outcome {
	case pipeline.OutcomeSuccess:
		return http.StatusOK
	case pipeline.OutcomeValidationError:
		return http.StatusBadRequest
	case pipeline.OutcomeExecutionError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
