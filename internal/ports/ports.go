package ports

import (
	"context"
	"time"

	"tabdigest/internal/domain"
)

// SummaryRepository persists summary records. Core logic only sees this
// contract, never a concrete storage engine.
type SummaryRepository interface {
	Create(ctx context.Context, sum *domain.Summary) error
	Get(ctx context.Context, id string) (*domain.Summary, error)
	Update(ctx context.Context, sum *domain.Summary) error
	// SetStatusIf moves the record to next only when its current status is one
	// of from. A false result is the benign concurrent-guard outcome, not an
	// error.
	SetStatusIf(ctx context.Context, id string, from []domain.Status, next domain.Status) (bool, error)
	CountByStatus(ctx context.Context) (map[domain.Status]int, error)
	ListCompleted(ctx context.Context, limit int, since *time.Time) ([]domain.Summary, error)
}

// ClassifyInput carries the fields the classifier inspects.
type ClassifyInput struct {
	SourceURL  string
	Title      string
	RawContent string
}

// Classification is the classifier verdict. Degraded marks the explicit
// fallback taken when the underlying mechanism failed or answered nonsense;
// a degraded result always carries TypeOther.
type Classification struct {
	Type     domain.ContentType
	Degraded bool
	Reason   string
}

// Classifier decides whether content is worth enqueuing. It never fails:
// classification outages degrade to TypeOther.
type Classifier interface {
	Classify(ctx context.Context, in ClassifyInput) Classification
}

// Enricher produces summary text, key points, and tags for accepted content.
// Partial failure yields an error and no partial output.
type Enricher interface {
	Enrich(ctx context.Context, content string, contentType domain.ContentType) (domain.Enrichment, error)
}

// TextGenerator is the raw text-generation capability behind classification
// and enrichment. May fail or time out.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// DigestChannel delivers a rendered digest to one destination. Channels are
// independent: a failure in one must not block another.
type DigestChannel interface {
	Name() string
	Deliver(ctx context.Context, d domain.Digest) error
}

// Scheduler controls when the digest job executes.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
