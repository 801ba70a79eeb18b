// Package queue defines the durable work-queue contract used by the
// summarization pipeline: at-least-once delivery, exponential retry with a
// cap, pause/resume, and an inspection surface for administration.
package queue

import (
	"context"
	"errors"
	"time"
)

// Entry states as reported by listings and stats.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

var (
	// ErrEmpty signals no entry is ready for delivery (or the queue is paused).
	ErrEmpty = errors.New("queue: no entry available")
	// ErrNotFound signals an unknown entry id.
	ErrNotFound = errors.New("queue: entry not found")
)

// Entry is one scheduling unit referencing a summary record. The queue owns
// its retry state; the summary record's status is owned by the worker.
type Entry struct {
	ID           string     `json:"id"`
	SummaryID    string     `json:"summary_id"`
	State        State      `json:"state"`
	AttemptsMade int        `json:"attempts_made"`
	MaxAttempts  int        `json:"max_attempts"`
	BackoffBase  int64      `json:"backoff_base_ms"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
	AvailableAt  time.Time  `json:"available_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// Options tune scheduling for a single enqueue.
type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
	Delay       time.Duration
}

const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 1000 * time.Millisecond
	// DefaultBackoffCap bounds the exponential delay between attempts.
	DefaultBackoffCap = 60 * time.Second
	// DefaultVisibilityTimeout is how long a dequeued entry stays invisible
	// before it is considered abandoned and redelivered.
	DefaultVisibilityTimeout = 60 * time.Second
)

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BackoffBase < 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	return o
}

// Stats is a point-in-time snapshot of queue depth per state.
type Stats struct {
	Waiting   int  `json:"waiting"`
	Active    int  `json:"active"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Delayed   int  `json:"delayed"`
	Paused    bool `json:"paused"`
}

// PurgeGuard lets the owner veto removal of a completed entry whose summary
// record is not yet in a terminal state (e.g. after an operator retry).
type PurgeGuard func(ctx context.Context, summaryID string) (bool, error)

// Queue is the durable channel of summary references.
//
// Delivery is at-least-once: an entry dequeued but neither acked nor nacked
// becomes visible again once its visibility timeout expires. Pause stops new
// deliveries without cancelling in-flight work.
type Queue interface {
	Enqueue(ctx context.Context, summaryID string, opts Options) (string, error)
	// Dequeue returns the next ready entry or ErrEmpty.
	Dequeue(ctx context.Context) (*Entry, error)
	Ack(ctx context.Context, entryID string) error
	// Nack reschedules the entry per its backoff policy, or marks it
	// terminally failed once attempts are exhausted.
	Nack(ctx context.Context, entryID string, cause error) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	ListActive(ctx context.Context) ([]Entry, error)
	ListFailed(ctx context.Context) ([]Entry, error)
	Get(ctx context.Context, entryID string) (*Entry, error)
	// Retry starts a fresh lineage for a terminally failed entry. Calling it
	// on an entry in any other state is a no-op.
	Retry(ctx context.Context, entryID string) error
	PurgeCompleted(ctx context.Context, olderThan time.Duration) (int, error)
}

// Backoff computes the delay before retry attempt n (1-based):
// min(base * 2^(n-1), cap). Non-positive attempts get no delay.
func Backoff(base time.Duration, attempt int, cap time.Duration) time.Duration {
	if attempt <= 0 || base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}
