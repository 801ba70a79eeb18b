package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"tabdigest/internal/domain"
	"tabdigest/internal/ports"
	"tabdigest/internal/queue"
)

// SubmitRequest is the ingestion payload.
type SubmitRequest struct {
	SourceURL  string `json:"url"`
	Title      string `json:"title"`
	RawContent string `json:"content"`
}

// AggregateStatus reports counts by record status plus queue backlog, and a
// derived readiness signal.
type AggregateStatus struct {
	Ready   bool         `json:"ready"`
	Message string       `json:"message"`
	Counts  StatusCounts `json:"counts"`
}

// StatusCounts breaks the aggregate down.
type StatusCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Queued     int `json:"queued"`
	Active     int `json:"active"`
}

// Ingestor accepts content, classifies it, and queues enrichable records.
type Ingestor struct {
	repo       ports.SummaryRepository
	queue      queue.Queue
	classifier ports.Classifier
	opts       queue.Options
	logger     *slog.Logger
}

// IngestorDeps wires the ingestion collaborators.
type IngestorDeps struct {
	Repository ports.SummaryRepository
	Queue      queue.Queue
	Classifier ports.Classifier
	Options    queue.Options
	Logger     *slog.Logger
}

// NewIngestor constructs the ingestion service.
func NewIngestor(deps IngestorDeps) *Ingestor {
	return &Ingestor{
		repo:       deps.Repository,
		queue:      deps.Queue,
		classifier: deps.Classifier,
		opts:       deps.Options,
		logger:     deps.Logger,
	}
}

// Submit validates, classifies, persists, and (for enrichable content)
// enqueues a summarization job. Content classified as "other" is stored as
// SKIPPED and never queued.
func (s *Ingestor) Submit(ctx context.Context, req SubmitRequest) (*domain.Summary, error) {
	if strings.TrimSpace(req.RawContent) == "" {
		return nil, domain.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if strings.TrimSpace(req.SourceURL) == "" {
		return nil, domain.ValidationError{Field: "url", Reason: "must not be empty"}
	}

	verdict := s.classifier.Classify(ctx, ports.ClassifyInput{
		SourceURL:  req.SourceURL,
		Title:      req.Title,
		RawContent: req.RawContent,
	})
	if verdict.Degraded {
		s.debug("classification degraded", "url", req.SourceURL, "reason", verdict.Reason)
	}

	sum := &domain.Summary{
		ID:          uuid.NewString(),
		SourceURL:   req.SourceURL,
		Title:       req.Title,
		RawContent:  req.RawContent,
		ContentType: verdict.Type,
		Status:      domain.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if !verdict.Type.Enrichable() {
		sum.Status = domain.StatusSkipped
	}

	if err := s.repo.Create(ctx, sum); err != nil {
		return nil, fmt.Errorf("create summary: %w", err)
	}

	if sum.Status == domain.StatusPending {
		entryID, err := s.queue.Enqueue(ctx, sum.ID, s.opts)
		if err != nil {
			// A PENDING record with no queue entry would sit invisible forever
			// and hold the aggregate ready signal down. Fail it so the stall is
			// visible on the record itself.
			sum.Status = domain.StatusFailed
			sum.ErrorDetail = fmt.Sprintf("enqueue failed: %v", err)
			if uerr := s.repo.Update(ctx, sum); uerr != nil {
				s.warn("record enqueue-failure write failed", "summary_id", sum.ID, "error", uerr)
			}
			return nil, fmt.Errorf("enqueue summary %s: %w", sum.ID, err)
		}
		s.debug("summary queued", "summary_id", sum.ID, "entry_id", entryID, "type", sum.ContentType)
	} else {
		s.debug("summary skipped", "summary_id", sum.ID, "type", sum.ContentType)
	}
	return sum, nil
}

// GetStatus returns a snapshot of one record.
func (s *Ingestor) GetStatus(ctx context.Context, id string) (*domain.Summary, error) {
	sum, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get summary %s: %w", id, err)
	}
	return sum, nil
}

// GetAggregateStatus combines store counts with queue backlog. Ready is true
// only when nothing is pending or in flight and at least one record exists.
func (s *Ingestor) GetAggregateStatus(ctx context.Context) (AggregateStatus, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return AggregateStatus{}, fmt.Errorf("count summaries: %w", err)
	}
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return AggregateStatus{}, fmt.Errorf("queue stats: %w", err)
	}

	c := StatusCounts{
		Pending:    counts[domain.StatusPending],
		Processing: counts[domain.StatusProcessing],
		Completed:  counts[domain.StatusCompleted],
		Failed:     counts[domain.StatusFailed],
		Skipped:    counts[domain.StatusSkipped],
		Queued:     stats.Waiting + stats.Delayed,
		Active:     stats.Active,
	}
	for _, n := range counts {
		c.Total += n
	}

	ready := c.Pending == 0 && c.Processing == 0 && c.Queued == 0 && c.Active == 0 && c.Total > 0

	message := "No summaries to process"
	if c.Total > 0 {
		if ready {
			message = "All summaries are ready"
		} else {
			inProgress := c.Processing + c.Active
			waiting := c.Pending + c.Queued
			message = fmt.Sprintf("Processing summaries (%d completed, %d in progress, %d waiting)",
				c.Completed, inProgress, waiting)
		}
	}

	return AggregateStatus{Ready: ready, Message: message, Counts: c}, nil
}

// ListCompleted returns completed records, most recent first.
func (s *Ingestor) ListCompleted(ctx context.Context, limit int, since *time.Time) ([]domain.Summary, error) {
	out, err := s.repo.ListCompleted(ctx, limit, since)
	if err != nil {
		return nil, fmt.Errorf("list completed: %w", err)
	}
	return out, nil
}

func (s *Ingestor) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Ingestor) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
