package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tabdigest/internal/domain"
	"tabdigest/internal/infrastructure/storage"
	"tabdigest/internal/ports"
)

// recordingChannel captures deliveries and optionally fails them.
type recordingChannel struct {
	name      string
	fail      error
	delivered []domain.Digest
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Deliver(ctx context.Context, d domain.Digest) error {
	if c.fail != nil {
		return c.fail
	}
	c.delivered = append(c.delivered, d)
	return nil
}

func seedCompleted(t *testing.T, repo *storage.MemoryRepository, id string, ct domain.ContentType, createdAt time.Time) {
	t.Helper()
	err := repo.Create(context.Background(), &domain.Summary{
		ID:          id,
		SourceURL:   "https://example.com/" + id,
		Title:       "Title " + id,
		RawContent:  "body",
		ContentType: ct,
		Status:      domain.StatusCompleted,
		SummaryText: "summary of " + id,
		KeyPoints:   "- a point",
		Tags:        []string{"tag1", "tag2"},
		CreatedAt:   createdAt,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestFormatDigestGroupsByType(t *testing.T) {
	t.Parallel()

	summaries := []domain.Summary{
		{ID: "1", ContentType: domain.TypeTweet},
		{ID: "2", ContentType: domain.TypeArticle},
		{ID: "3", ContentType: domain.TypeTweet},
		{ID: "4", ContentType: domain.TypeArticle},
	}

	groups := FormatDigest(summaries)
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	// Group order is by type name; article sorts before tweet.
	if groups[0].Type != domain.TypeArticle || groups[1].Type != domain.TypeTweet {
		t.Fatalf("group order = %s, %s", groups[0].Type, groups[1].Type)
	}
	// Input order preserved within groups.
	if groups[0].Items[0].ID != "2" || groups[0].Items[1].ID != "4" {
		t.Fatalf("article group order = %s, %s", groups[0].Items[0].ID, groups[0].Items[1].ID)
	}
	if groups[1].Items[0].ID != "1" || groups[1].Items[1].ID != "3" {
		t.Fatalf("tweet group order = %s, %s", groups[1].Items[0].ID, groups[1].Items[1].ID)
	}

	total := 0
	for _, g := range groups {
		total += len(g.Items)
	}
	if total != len(summaries) {
		t.Fatalf("grouping dropped items: %d != %d", total, len(summaries))
	}
}

func TestBuildNothingToSend(t *testing.T) {
	t.Parallel()

	svc := NewDigestService(DigestDeps{Repository: storage.NewMemoryRepository()})
	_, err := svc.Build(context.Background(), time.Now())
	if !errors.Is(err, ErrNothingToSend) {
		t.Fatalf("error = %v, want ErrNothingToSend", err)
	}
}

func TestBuildRendersBothFormats(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.March, 7, 9, 0, 0, 0, time.UTC)
	repo := storage.NewMemoryRepository()
	seedCompleted(t, repo, "a1", domain.TypeArticle, now.Add(-time.Hour))
	seedCompleted(t, repo, "t1", domain.TypeTweet, now.Add(-2*time.Hour))

	svc := NewDigestService(DigestDeps{Repository: repo})
	digest, err := svc.Build(context.Background(), now)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if digest.Count != 2 {
		t.Fatalf("count = %d, want 2", digest.Count)
	}
	if !strings.Contains(digest.Text, "*Weekly Tab Digest*") {
		t.Fatalf("text missing header:\n%s", digest.Text)
	}
	if !strings.Contains(digest.Text, "<https://example.com/a1|Title a1>") {
		t.Fatalf("text missing slack link:\n%s", digest.Text)
	}
	if !strings.Contains(digest.Text, "#tag1 #tag2") {
		t.Fatalf("text missing tags:\n%s", digest.Text)
	}
	if !strings.Contains(digest.HTML, "<h1>Weekly Tab Digest</h1>") {
		t.Fatalf("html missing header:\n%s", digest.HTML)
	}
	if !strings.Contains(digest.HTML, `<a href="https://example.com/a1">Title a1</a>`) {
		t.Fatalf("html missing link:\n%s", digest.HTML)
	}
	if !strings.Contains(digest.HTML, "<h2>ARTICLE</h2>") || !strings.Contains(digest.HTML, "<h2>TWEET</h2>") {
		t.Fatalf("html missing type sections:\n%s", digest.HTML)
	}
}

func TestBuildRespectsWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.March, 7, 9, 0, 0, 0, time.UTC)
	repo := storage.NewMemoryRepository()
	seedCompleted(t, repo, "fresh", domain.TypeArticle, now.Add(-24*time.Hour))
	seedCompleted(t, repo, "stale", domain.TypeArticle, now.Add(-10*24*time.Hour))

	svc := NewDigestService(DigestDeps{Repository: repo, Window: 7 * 24 * time.Hour})
	digest, err := svc.Build(context.Background(), now)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if digest.Count != 1 {
		t.Fatalf("count = %d, want 1", digest.Count)
	}
	if strings.Contains(digest.Text, "stale") {
		t.Fatalf("stale item included:\n%s", digest.Text)
	}
}

func TestRunDeliversToChannelsIndependently(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	repo := storage.NewMemoryRepository()
	seedCompleted(t, repo, "a1", domain.TypeArticle, now.Add(-time.Hour))

	boom := errors.New("webhook 500")
	slack := &recordingChannel{name: "slack", fail: boom}
	email := &recordingChannel{name: "email"}

	svc := NewDigestService(DigestDeps{
		Repository: repo,
		Channels:   []ports.DigestChannel{slack, email},
	})

	err := svc.Run(context.Background(), now)
	if err == nil {
		t.Fatal("expected joined failure")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("error does not wrap the channel failure: %v", err)
	}
	if !strings.Contains(err.Error(), "slack") {
		t.Fatalf("error does not name the failing channel: %v", err)
	}

	// The healthy channel still got the digest.
	if len(email.delivered) != 1 {
		t.Fatalf("email deliveries = %d, want 1", len(email.delivered))
	}
	if email.delivered[0].Count != 1 {
		t.Fatalf("delivered digest = %+v", email.delivered[0])
	}
}

func TestRunAllChannelsHealthy(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	repo := storage.NewMemoryRepository()
	seedCompleted(t, repo, "a1", domain.TypeArticle, now.Add(-time.Hour))

	slack := &recordingChannel{name: "slack"}
	email := &recordingChannel{name: "email"}
	svc := NewDigestService(DigestDeps{
		Repository: repo,
		Channels:   []ports.DigestChannel{slack, email},
	})

	if err := svc.Run(context.Background(), now); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(slack.delivered) != 1 || len(email.delivered) != 1 {
		t.Fatalf("deliveries = %d/%d, want 1/1", len(slack.delivered), len(email.delivered))
	}
}

func TestRunEmptyWindow(t *testing.T) {
	t.Parallel()

	slack := &recordingChannel{name: "slack"}
	svc := NewDigestService(DigestDeps{
		Repository: storage.NewMemoryRepository(),
		Channels:   []ports.DigestChannel{slack},
	})

	err := svc.Run(context.Background(), time.Now())
	if !errors.Is(err, ErrNothingToSend) {
		t.Fatalf("error = %v, want ErrNothingToSend", err)
	}
	if len(slack.delivered) != 0 {
		t.Fatal("empty digest was delivered")
	}
}
