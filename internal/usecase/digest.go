package usecase

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"
	"time"

	"tabdigest/internal/domain"
	"tabdigest/internal/ports"
)

const (
	defaultDigestWindow = 7 * 24 * time.Hour
	defaultDigestLimit  = 100
)

// ErrNothingToSend distinguishes an empty digest window from a delivery
// problem; callers should treat it as "skip this cycle".
var ErrNothingToSend = errors.New("digest: no completed summaries in window")

// DigestGroup holds the completed summaries of one content type, most recent
// first.
type DigestGroup struct {
	Type  domain.ContentType
	Items []domain.Summary
}

// DigestService aggregates completed summaries into a periodic digest and
// fans it out to the configured channels.
type DigestService struct {
	repo     ports.SummaryRepository
	channels []ports.DigestChannel
	window   time.Duration
	limit    int
	logger   *slog.Logger
}

// DigestDeps wires the aggregator.
type DigestDeps struct {
	Repository ports.SummaryRepository
	Channels   []ports.DigestChannel
	Window     time.Duration
	Limit      int
	Logger     *slog.Logger
}

// NewDigestService constructs the aggregator.
func NewDigestService(deps DigestDeps) *DigestService {
	d := &DigestService{
		repo:     deps.Repository,
		channels: deps.Channels,
		window:   deps.Window,
		limit:    deps.Limit,
		logger:   deps.Logger,
	}
	if d.window <= 0 {
		d.window = defaultDigestWindow
	}
	if d.limit <= 0 {
		d.limit = defaultDigestLimit
	}
	return d
}

// Run builds the digest for the window ending at now and delivers it to every
// channel. Channel deliveries are independent: one failing does not stop the
// others, and all failures are reported together.
func (d *DigestService) Run(ctx context.Context, now time.Time) error {
	digest, err := d.Build(ctx, now)
	if err != nil {
		return err
	}

	var failures []error
	for _, ch := range d.channels {
		if err := ch.Deliver(ctx, digest); err != nil {
			d.warn("digest delivery failed", "channel", ch.Name(), "error", err)
			failures = append(failures, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		d.info("digest delivered", "channel", ch.Name(), "summaries", digest.Count)
	}
	return errors.Join(failures...)
}

// Build assembles both renderings of the digest, or ErrNothingToSend when the
// window holds no completed summaries.
func (d *DigestService) Build(ctx context.Context, now time.Time) (domain.Digest, error) {
	since := now.Add(-d.window)
	summaries, err := d.repo.ListCompleted(ctx, d.limit, &since)
	if err != nil {
		return domain.Digest{}, fmt.Errorf("load completed summaries: %w", err)
	}
	if len(summaries) == 0 {
		return domain.Digest{}, ErrNothingToSend
	}

	groups := FormatDigest(summaries)
	return domain.Digest{
		GeneratedAt: now,
		Count:       len(summaries),
		Text:        renderText(groups, now),
		HTML:        renderHTML(groups, now),
	}, nil
}

// FormatDigest groups summaries by content type. Input order (most recent
// first) is preserved within each group; groups are ordered by type name for
// stable output.
func FormatDigest(summaries []domain.Summary) []DigestGroup {
	byType := map[domain.ContentType][]domain.Summary{}
	for _, sum := range summaries {
		byType[sum.ContentType] = append(byType[sum.ContentType], sum)
	}

	groups := make([]DigestGroup, 0, len(byType))
	for t, items := range byType {
		groups = append(groups, DigestGroup{Type: t, Items: items})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Type < groups[j].Type })
	return groups
}

func renderText(groups []DigestGroup, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Weekly Tab Digest*\n_%s_\n\n", now.Format("2006-01-02"))

	for _, g := range groups {
		fmt.Fprintf(&b, "*%s*\n\n", strings.ToUpper(string(g.Type)))
		for _, item := range g.Items {
			fmt.Fprintf(&b, "• <%s|%s>\n", item.SourceURL, item.Title)
			fmt.Fprintf(&b, "%s\n\n", item.SummaryText)
			if item.KeyPoints != "" {
				fmt.Fprintf(&b, "Key Points:\n%s\n\n", item.KeyPoints)
			}
			if len(item.Tags) > 0 {
				fmt.Fprintf(&b, "Tags: %s\n\n", hashTags(item.Tags, " "))
			}
		}
	}
	return b.String()
}

func renderHTML(groups []DigestGroup, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h1>Weekly Tab Digest</h1><p>%s</p>", now.Format("2006-01-02"))

	for _, g := range groups {
		fmt.Fprintf(&b, "<h2>%s</h2>", strings.ToUpper(string(g.Type)))
		for _, item := range g.Items {
			fmt.Fprintf(&b, `<div style="margin-bottom: 20px;">`)
			fmt.Fprintf(&b, `<h3><a href="%s">%s</a></h3>`, html.EscapeString(item.SourceURL), html.EscapeString(item.Title))
			fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(item.SummaryText))
			if item.KeyPoints != "" {
				fmt.Fprintf(&b, "<p><strong>Key Points:</strong><br>%s</p>", html.EscapeString(item.KeyPoints))
			}
			if len(item.Tags) > 0 {
				fmt.Fprintf(&b, "<p><strong>Tags:</strong> %s</p>", html.EscapeString(hashTags(item.Tags, " ")))
			}
			b.WriteString("</div>")
		}
	}
	return b.String()
}

func hashTags(tags []string, sep string) string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		out = append(out, "#"+tag)
	}
	return strings.Join(out, sep)
}

func (d *DigestService) info(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Info(msg, args...)
	}
}

func (d *DigestService) warn(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, args...)
	}
}
