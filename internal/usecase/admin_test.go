package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"tabdigest/internal/domain"
	"tabdigest/internal/infrastructure/storage"
	"tabdigest/internal/queue"
)

// brokenQueue fails every operation, standing in for an unreachable transport.
type brokenQueue struct{}

var errTransport = errors.New("dial tcp: connection refused")

func (brokenQueue) Enqueue(ctx context.Context, summaryID string, opts queue.Options) (string, error) {
	return "", errTransport
}
func (brokenQueue) Dequeue(ctx context.Context) (*queue.Entry, error) { return nil, errTransport }
func (brokenQueue) Ack(ctx context.Context, entryID string) error     { return errTransport }
func (brokenQueue) Nack(ctx context.Context, entryID string, cause error) error {
	return errTransport
}
func (brokenQueue) Pause(ctx context.Context) error                 { return errTransport }
func (brokenQueue) Resume(ctx context.Context) error                { return errTransport }
func (brokenQueue) Stats(ctx context.Context) (queue.Stats, error)  { return queue.Stats{}, errTransport }
func (brokenQueue) ListActive(ctx context.Context) ([]queue.Entry, error) {
	return nil, errTransport
}
func (brokenQueue) ListFailed(ctx context.Context) ([]queue.Entry, error) {
	return nil, errTransport
}
func (brokenQueue) Get(ctx context.Context, entryID string) (*queue.Entry, error) {
	return nil, errTransport
}
func (brokenQueue) Retry(ctx context.Context, entryID string) error { return errTransport }
func (brokenQueue) PurgeCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, errTransport
}

func TestAdminReportsQueueUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	admin := NewAdmin(brokenQueue{}, storage.NewMemoryRepository(), nil)

	if _, err := admin.Stats(ctx); !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("stats error = %v, want ErrQueueUnavailable", err)
	}
	if _, err := admin.ListActive(ctx); !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("list active error = %v", err)
	}
	if _, err := admin.ListFailed(ctx); !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("list failed error = %v", err)
	}
	if err := admin.Pause(ctx); !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("pause error = %v", err)
	}
	if err := admin.Resume(ctx); !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("resume error = %v", err)
	}
	if _, err := admin.Clean(ctx, time.Hour); !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("clean error = %v", err)
	}
}

func TestAdminGetEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := queue.NewMemory()
	admin := NewAdmin(q, storage.NewMemoryRepository(), nil)

	if _, err := admin.GetEntry(ctx, "nope"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("unknown entry error = %v, want ErrEntryNotFound", err)
	}

	id, err := q.Enqueue(ctx, "sum-1", queue.Options{MaxAttempts: 5})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	view, err := admin.GetEntry(ctx, id)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if view.ID != id || view.SummaryID != "sum-1" || view.State != string(queue.StateWaiting) {
		t.Fatalf("view = %+v", view)
	}
	if view.MaxAttempts != 5 || view.Attempts != 0 {
		t.Fatalf("view attempts = %+v", view)
	}
}

func TestAdminRetryFailedResetsRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := storage.NewMemoryRepository()
	q := queue.NewMemory()
	admin := NewAdmin(q, repo, nil)

	err := repo.Create(ctx, &domain.Summary{
		ID:          "sum-1",
		SourceURL:   "https://example.com",
		RawContent:  "body",
		ContentType: domain.TypeArticle,
		Status:      domain.StatusFailed,
		ErrorDetail: "model unreachable",
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Drive the entry to terminal failure.
	if _, err := q.Enqueue(ctx, "sum-1", queue.Options{MaxAttempts: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	entry, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := q.Nack(ctx, entry.ID, errors.New("model unreachable")); err != nil {
		t.Fatalf("nack: %v", err)
	}

	retried, err := admin.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if retried != 1 {
		t.Fatalf("retried = %d, want 1", retried)
	}

	sum, _ := repo.Get(ctx, "sum-1")
	if sum.Status != domain.StatusPending {
		t.Fatalf("record status = %s, want %s", sum.Status, domain.StatusPending)
	}
	stats, _ := q.Stats(ctx)
	if stats.Failed != 0 || stats.Waiting != 1 {
		t.Fatalf("queue stats = %+v", stats)
	}

	// Nothing failed anymore: a second sweep is a no-op.
	retried, err = admin.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("second retry: %v", err)
	}
	if retried != 0 {
		t.Fatalf("second sweep retried = %d, want 0", retried)
	}
}

func TestAdminCleanDefaultsAge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock()
	q := queue.NewMemory(queue.WithClock(clock.Now))
	admin := NewAdmin(q, storage.NewMemoryRepository(), nil)

	if _, err := q.Enqueue(ctx, "sum-1", queue.Options{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	entry, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := q.Ack(ctx, entry.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}

	// Younger than the 24h default: kept.
	clock.Advance(2 * time.Hour)
	purged, err := admin.Clean(ctx, 0)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if purged != 0 {
		t.Fatalf("purged = %d, want 0", purged)
	}

	clock.Advance(23 * time.Hour)
	purged, err = admin.Clean(ctx, 0)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
}

func TestAdminPauseResumeRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := queue.NewMemory()
	admin := NewAdmin(q, storage.NewMemoryRepository(), nil)

	if err := admin.Pause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}
	stats, err := admin.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !stats.Paused {
		t.Fatal("stats do not reflect pause")
	}

	if err := admin.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	stats, _ = admin.Stats(ctx)
	if stats.Paused {
		t.Fatal("stats do not reflect resume")
	}
}
