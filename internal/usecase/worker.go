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

const (
	defaultPollInterval  = time.Second
	defaultEnrichTimeout = 60 * time.Second
)

// processingGuard is the set of statuses a record may hold when a delivery
// arrives: PENDING on the first attempt, FAILED on a queue-scheduled retry.
// Anything else means a duplicate delivery raced a prior outcome and the
// entry is dropped.
var processingGuard = []domain.Status{domain.StatusPending, domain.StatusFailed}

// Worker is the single-flow consumer that advances each summary through the
// status state machine. Multiple instances may run against the same queue;
// queue-level leases plus the status guard keep any entry owned by at most
// one of them.
type Worker struct {
	queue         queue.Queue
	repo          ports.SummaryRepository
	enricher      ports.Enricher
	pollInterval  time.Duration
	enrichTimeout time.Duration
	logger        *slog.Logger
}

// WorkerDeps wires the worker's collaborators.
type WorkerDeps struct {
	Queue         queue.Queue
	Repository    ports.SummaryRepository
	Enricher      ports.Enricher
	PollInterval  time.Duration
	EnrichTimeout time.Duration
	Logger        *slog.Logger
}

// NewWorker constructs the worker loop.
func NewWorker(deps WorkerDeps) *Worker {
	w := &Worker{
		queue:         deps.Queue,
		repo:          deps.Repository,
		enricher:      deps.Enricher,
		pollInterval:  deps.PollInterval,
		enrichTimeout: deps.EnrichTimeout,
		logger:        deps.Logger,
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.enrichTimeout <= 0 {
		w.enrichTimeout = defaultEnrichTimeout
	}
	return w
}

// Run polls the queue until the context is cancelled. Each tick drains every
// ready entry before sleeping again.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.debug("worker started", "poll_interval", w.pollInterval)
	for {
		select {
		case <-ctx.Done():
			w.debug("worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.warn("drain pass failed", "error", err)
			}
		}
	}
}

// Drain processes ready entries until the queue reports empty.
func (w *Worker) Drain(ctx context.Context) error {
	for {
		processed, err := w.ProcessNext(ctx)
		if err != nil {
			return err
		}
		if !processed {
			return nil
		}
	}
}

// ProcessNext handles a single entry. It reports false when nothing was
// ready.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	entry, err := w.queue.Dequeue(ctx)
	if errors.Is(err, queue.ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}

	w.processEntry(ctx, entry)
	return true, nil
}

func (w *Worker) processEntry(ctx context.Context, entry *queue.Entry) {
	log := w.entryLogger(entry)

	sum, err := w.repo.Get(ctx, entry.SummaryID)
	if err != nil {
		// Record unreadable: give the attempt back rather than losing it.
		log.Warn("load summary failed", "error", err)
		w.nack(ctx, entry, fmt.Errorf("load summary: %w", err))
		return
	}
	if sum == nil {
		log.Warn("summary record missing, dropping entry")
		w.ack(ctx, entry)
		return
	}

	claimed, err := w.repo.SetStatusIf(ctx, sum.ID, processingGuard, domain.StatusProcessing)
	if err != nil {
		log.Warn("claim summary failed", "error", err)
		w.nack(ctx, entry, fmt.Errorf("claim summary: %w", err))
		return
	}
	if !claimed {
		// Duplicate delivery racing a prior outcome; benign no-op.
		log.Info("summary not claimable, dropping entry", "status", sum.Status)
		w.ack(ctx, entry)
		return
	}

	enrichCtx, cancel := context.WithTimeout(ctx, w.enrichTimeout)
	result, enrichErr := w.enricher.Enrich(enrichCtx, sum.RawContent, sum.ContentType)
	cancel()

	now := time.Now().UTC()
	sum.ProcessedAt = &now

	if enrichErr != nil {
		log.Warn("enrichment failed", "attempt", entry.AttemptsMade, "error", enrichErr)
		sum.Status = domain.StatusFailed
		sum.ErrorDetail = enrichErr.Error()
		if err := w.repo.Update(ctx, sum); err != nil {
			log.Error("record failure write failed", "error", err)
			w.releaseClaim(ctx, sum.ID, log)
		}
		w.nack(ctx, entry, enrichErr)
		return
	}

	sum.Status = domain.StatusCompleted
	sum.SummaryText = result.Summary
	sum.KeyPoints = result.KeyPoints
	sum.Tags = result.Tags
	sum.ErrorDetail = ""
	if err := w.repo.Update(ctx, sum); err != nil {
		// The store write must land before the ack; requeue instead.
		log.Error("record completion write failed", "error", err)
		w.releaseClaim(ctx, sum.ID, log)
		w.nack(ctx, entry, fmt.Errorf("persist completion: %w", err))
		return
	}
	w.ack(ctx, entry)
	log.Info("summary completed", "attempt", entry.AttemptsMade, "tags", len(result.Tags))
}

// releaseClaim moves a still-claimed record back to FAILED so the redelivery
// can pass the claim guard. Without it a persist failure would leave the
// record in PROCESSING while every redelivery is dropped as unclaimable.
func (w *Worker) releaseClaim(ctx context.Context, id string, log *slog.Logger) {
	if _, err := w.repo.SetStatusIf(ctx, id, []domain.Status{domain.StatusProcessing}, domain.StatusFailed); err != nil {
		log.Error("release claim failed", "error", err)
	}
}

func (w *Worker) ack(ctx context.Context, entry *queue.Entry) {
	if err := w.queue.Ack(ctx, entry.ID); err != nil {
		w.entryLogger(entry).Warn("ack failed", "error", err)
	}
}

func (w *Worker) nack(ctx context.Context, entry *queue.Entry, cause error) {
	if err := w.queue.Nack(ctx, entry.ID, cause); err != nil {
		w.entryLogger(entry).Warn("nack failed", "error", err)
	}
}

func (w *Worker) entryLogger(entry *queue.Entry) *slog.Logger {
	log := w.logger
	if log == nil {
		log = slog.Default()
	}
	return log.With("entry_id", entry.ID, "summary_id", entry.SummaryID)
}

func (w *Worker) debug(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Debug(msg, args...)
	}
}

func (w *Worker) warn(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Warn(msg, args...)
	}
}
