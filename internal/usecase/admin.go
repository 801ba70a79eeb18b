package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tabdigest/internal/domain"
	"tabdigest/internal/ports"
	"tabdigest/internal/queue"
)

// DefaultCleanAge is the purge window applied when the caller gives none.
const DefaultCleanAge = 24 * time.Hour

// ErrQueueUnavailable is the distinguishable condition admin operations
// report when the queue transport cannot be reached, instead of a raw
// transport error.
var ErrQueueUnavailable = errors.New("queue unavailable")

// ErrEntryNotFound reports an unknown queue entry id.
var ErrEntryNotFound = errors.New("queue entry not found")

// EntryView is the operator-facing projection of a queue entry.
type EntryView struct {
	ID           string     `json:"id"`
	SummaryID    string     `json:"summaryId"`
	State        string     `json:"state"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"maxAttempts"`
	EnqueuedAt   time.Time  `json:"enqueuedAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	FailedReason string     `json:"failedReason,omitempty"`
}

// Admin is the observation and control surface over the durable queue.
// It never mutates summary content; the only record write it performs is the
// operator-retry reset back to PENDING.
type Admin struct {
	queue  queue.Queue
	repo   ports.SummaryRepository
	logger *slog.Logger
}

// NewAdmin constructs the administration service.
func NewAdmin(q queue.Queue, repo ports.SummaryRepository, logger *slog.Logger) *Admin {
	return &Admin{queue: q, repo: repo, logger: logger}
}

// Stats returns queue depth per state.
func (a *Admin) Stats(ctx context.Context) (queue.Stats, error) {
	stats, err := a.queue.Stats(ctx)
	if err != nil {
		return queue.Stats{}, a.unavailable("stats", err)
	}
	return stats, nil
}

// ListActive returns entries currently leased to workers.
func (a *Admin) ListActive(ctx context.Context) ([]EntryView, error) {
	entries, err := a.queue.ListActive(ctx)
	if err != nil {
		return nil, a.unavailable("list active", err)
	}
	return toViews(entries), nil
}

// ListFailed returns terminally failed entries retained for inspection.
func (a *Admin) ListFailed(ctx context.Context) ([]EntryView, error) {
	entries, err := a.queue.ListFailed(ctx)
	if err != nil {
		return nil, a.unavailable("list failed", err)
	}
	return toViews(entries), nil
}

// GetEntry looks up a single entry by id.
func (a *Admin) GetEntry(ctx context.Context, entryID string) (*EntryView, error) {
	entry, err := a.queue.Get(ctx, entryID)
	if errors.Is(err, queue.ErrNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, a.unavailable("get entry", err)
	}
	v := toView(*entry)
	return &v, nil
}

// Pause stops new dequeues without cancelling in-flight work. Idempotent.
func (a *Admin) Pause(ctx context.Context) error {
	if err := a.queue.Pause(ctx); err != nil {
		return a.unavailable("pause", err)
	}
	a.info("queue paused")
	return nil
}

// Resume re-enables dequeuing. Idempotent.
func (a *Admin) Resume(ctx context.Context) error {
	if err := a.queue.Resume(ctx); err != nil {
		return a.unavailable("resume", err)
	}
	a.info("queue resumed")
	return nil
}

// RetryFailed resets every terminally failed entry into a fresh lineage and
// moves its record back to PENDING. Returns the number retried.
func (a *Admin) RetryFailed(ctx context.Context) (int, error) {
	failed, err := a.queue.ListFailed(ctx)
	if err != nil {
		return 0, a.unavailable("list failed", err)
	}

	retried := 0
	for _, entry := range failed {
		reset, err := a.repo.SetStatusIf(ctx, entry.SummaryID,
			[]domain.Status{domain.StatusFailed}, domain.StatusPending)
		if err != nil {
			return retried, fmt.Errorf("reset summary %s: %w", entry.SummaryID, err)
		}
		if !reset {
			// Record already moved on (e.g. a parallel retry); skip quietly.
			continue
		}
		if err := a.queue.Retry(ctx, entry.ID); err != nil {
			return retried, a.unavailable("retry entry", err)
		}
		retried++
	}
	a.info("retried failed entries", "count", retried)
	return retried, nil
}

// Clean purges completed entries older than the given age (DefaultCleanAge
// when zero). Entries whose record is not yet terminal are left alone.
func (a *Admin) Clean(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = DefaultCleanAge
	}
	purged, err := a.queue.PurgeCompleted(ctx, olderThan)
	if err != nil {
		return purged, a.unavailable("purge completed", err)
	}
	a.info("purged completed entries", "count", purged, "older_than", olderThan)
	return purged, nil
}

func (a *Admin) unavailable(op string, err error) error {
	a.warn("queue transport error", "op", op, "error", err)
	return fmt.Errorf("%s: %w", op, ErrQueueUnavailable)
}

func toViews(entries []queue.Entry) []EntryView {
	out := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, toView(e))
	}
	return out
}

func toView(e queue.Entry) EntryView {
	v := EntryView{
		ID:          e.ID,
		SummaryID:   e.SummaryID,
		State:       string(e.State),
		Attempts:    e.AttemptsMade,
		MaxAttempts: e.MaxAttempts,
		EnqueuedAt:  e.EnqueuedAt,
		StartedAt:   e.StartedAt,
		FinishedAt:  e.FinishedAt,
	}
	if e.State == queue.StateFailed {
		v.FailedReason = e.LastError
	}
	return v
}

func (a *Admin) info(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Info(msg, args...)
	}
}

func (a *Admin) warn(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Warn(msg, args...)
	}
}
