// Package httpapi is the thin HTTP glue over the ingestion, administration,
// and digest usecases. Handlers translate between JSON and usecase calls and
// hold no pipeline logic of their own.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tabdigest/internal/domain"
	"tabdigest/internal/usecase"
)

// Pinger reports queue transport reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the API surface.
type Deps struct {
	Ingestor *usecase.Ingestor
	Admin    *usecase.Admin
	Digest   *usecase.DigestService
	Queue    Pinger
	Logger   *slog.Logger
}

type api struct {
	ingestor *usecase.Ingestor
	admin    *usecase.Admin
	digest   *usecase.DigestService
	queue    Pinger
	logger   *slog.Logger
	started  time.Time
}

// New builds the router.
func New(deps Deps) http.Handler {
	a := &api{
		ingestor: deps.Ingestor,
		admin:    deps.Admin,
		digest:   deps.Digest,
		queue:    deps.Queue,
		logger:   deps.Logger,
		started:  time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api/summaries", func(r chi.Router) {
		r.Post("/", a.submitSummary)
		r.Get("/", a.listCompleted)
		r.Get("/status", a.aggregateStatus)
		r.Get("/{id}", a.getSummary)
	})

	r.Route("/api/queue", func(r chi.Router) {
		r.Get("/stats", a.queueStats)
		r.Get("/active", a.queueActive)
		r.Get("/failed", a.queueFailed)
		r.Get("/job/{id}", a.queueEntry)
		r.Post("/pause", a.queuePause)
		r.Post("/resume", a.queueResume)
		r.Post("/retry-failed", a.queueRetryFailed)
		r.Post("/clean", a.queueClean)
	})

	r.Post("/api/digest/send", a.sendDigest)
	r.Get("/health", a.health)

	return r
}

func (a *api) submitSummary(w http.ResponseWriter, r *http.Request) {
	var req usecase.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sum, err := a.ingestor.Submit(r.Context(), req)
	if err != nil {
		var verr domain.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		a.serverError(w, "submit summary", err)
		return
	}
	writeJSON(w, http.StatusCreated, summaryView(sum))
}

func (a *api) getSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := a.ingestor.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.serverError(w, "get summary", err)
		return
	}
	if sum == nil {
		writeError(w, http.StatusNotFound, "summary not found")
		return
	}
	writeJSON(w, http.StatusOK, summaryView(sum))
}

func (a *api) aggregateStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.ingestor.GetAggregateStatus(r.Context())
	if err != nil {
		a.serverError(w, "aggregate status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *api) listCompleted(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		since = &t
	}

	summaries, err := a.ingestor.ListCompleted(r.Context(), limit, since)
	if err != nil {
		a.serverError(w, "list completed", err)
		return
	}

	views := make([]map[string]any, 0, len(summaries))
	for i := range summaries {
		views = append(views, summaryView(&summaries[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *api) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.admin.Stats(r.Context())
	if err != nil {
		a.adminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *api) queueActive(w http.ResponseWriter, r *http.Request) {
	entries, err := a.admin.ListActive(r.Context())
	if err != nil {
		a.adminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *api) queueFailed(w http.ResponseWriter, r *http.Request) {
	entries, err := a.admin.ListFailed(r.Context())
	if err != nil {
		a.adminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *api) queueEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := a.admin.GetEntry(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, usecase.ErrEntryNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		a.adminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *api) queuePause(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.Pause(r.Context()); err != nil {
		a.adminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Queue paused successfully"})
}

func (a *api) queueResume(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.Resume(r.Context()); err != nil {
		a.adminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Queue resumed successfully"})
}

func (a *api) queueRetryFailed(w http.ResponseWriter, r *http.Request) {
	count, err := a.admin.RetryFailed(r.Context())
	if err != nil {
		a.adminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Retried failed jobs", "count": count})
}

func (a *api) queueClean(w http.ResponseWriter, r *http.Request) {
	olderThan := time.Duration(0)
	if raw := r.URL.Query().Get("olderThanHours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid olderThanHours")
			return
		}
		olderThan = time.Duration(n) * time.Hour
	}

	count, err := a.admin.Clean(r.Context(), olderThan)
	if err != nil {
		a.adminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Cleaned completed jobs", "count": count})
}

func (a *api) sendDigest(w http.ResponseWriter, r *http.Request) {
	err := a.digest.Run(r.Context(), time.Now().UTC())
	if errors.Is(err, usecase.ErrNothingToSend) {
		writeJSON(w, http.StatusOK, map[string]any{"sent": false, "message": "No summaries to send"})
		return
	}
	if err != nil {
		a.serverError(w, "send digest", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true, "message": "Digest sent successfully"})
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	queueStatus := "ok"
	if a.queue != nil {
		if err := a.queue.Ping(r.Context()); err != nil {
			queueStatus = "unreachable"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(a.started).String(),
		"queue":     queueStatus,
	})
}

func (a *api) adminError(w http.ResponseWriter, err error) {
	if errors.Is(err, usecase.ErrQueueUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	a.serverError(w, "queue administration", err)
}

func (a *api) serverError(w http.ResponseWriter, op string, err error) {
	if a.logger != nil {
		a.logger.Error("request failed", "op", op, "error", err)
	}
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func summaryView(sum *domain.Summary) map[string]any {
	return map[string]any{
		"id":          sum.ID,
		"url":         sum.SourceURL,
		"title":       sum.Title,
		"type":        sum.ContentType,
		"status":      sum.Status,
		"summary":     sum.SummaryText,
		"keyPoints":   sum.KeyPoints,
		"tags":        sum.Tags,
		"error":       sum.ErrorDetail,
		"createdAt":   sum.CreatedAt,
		"processedAt": sum.ProcessedAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
