// Package enrich produces the summary text, key points, and tags for
// accepted content. Generation is type-templated with an article-style
// fallback; a failure in any of the three calls fails the whole job so no
// partial result is ever persisted.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"tabdigest/internal/domain"
	"tabdigest/internal/ports"
)

var summaryTemplates = map[domain.ContentType]string{
	domain.TypeArticle: `Summarize this article in 2-3 informative sentences that capture the main points:

ARTICLE:
%s

SUMMARY:`,

	domain.TypeTweet: `Provide a clear, one-sentence summary of this tweet's key message:

TWEET:
%s

SUMMARY:`,

	domain.TypeLinkedInPost: `Summarize this LinkedIn post in 1-2 professional sentences:

POST:
%s

SUMMARY:`,

	domain.TypeYouTubeVideo: `Provide a 2-3 sentence summary of this video's content:

VIDEO CONTENT:
%s

SUMMARY:`,
}

const keyPointsTemplate = `Extract 3-5 key points from this content, formatted as bullet points:

CONTENT:
%s

KEY POINTS:`

const tagsTemplate = `Generate 3-5 relevant tags or topics for this content.
Tags should be single words or short phrases, separated by commas.

CONTENT:
%s

TAGS:`

// Engine implements ports.Enricher on a TextGenerator.
type Engine struct {
	gen    ports.TextGenerator
	logger *slog.Logger
}

var _ ports.Enricher = (*Engine)(nil)

// NewEngine wires the text-generation collaborator.
func NewEngine(gen ports.TextGenerator, logger *slog.Logger) *Engine {
	return &Engine{gen: gen, logger: logger}
}

// Enrich runs the three generations for the given content. The content type
// selects the summary template; accepted-but-unmapped types fall back to the
// article shape.
func (e *Engine) Enrich(ctx context.Context, content string, contentType domain.ContentType) (domain.Enrichment, error) {
	if e.gen == nil {
		return domain.Enrichment{}, domain.EnrichmentError{Stage: "setup", Cause: fmt.Errorf("no text generator configured")}
	}

	summary, err := e.gen.Generate(ctx, fmt.Sprintf(summaryTemplate(contentType), content))
	if err != nil {
		return domain.Enrichment{}, domain.EnrichmentError{Stage: "summary", Cause: err}
	}

	keyPoints, err := e.gen.Generate(ctx, fmt.Sprintf(keyPointsTemplate, content))
	if err != nil {
		return domain.Enrichment{}, domain.EnrichmentError{Stage: "key points", Cause: err}
	}

	rawTags, err := e.gen.Generate(ctx, fmt.Sprintf(tagsTemplate, content))
	if err != nil {
		return domain.Enrichment{}, domain.EnrichmentError{Stage: "tags", Cause: err}
	}

	e.debug("content enriched", "type", contentType, "content_length", len(content))
	return domain.Enrichment{
		Summary:   strings.TrimSpace(summary),
		KeyPoints: strings.TrimSpace(keyPoints),
		Tags:      NormalizeTags(rawTags),
	}, nil
}

func summaryTemplate(contentType domain.ContentType) string {
	if tpl, ok := summaryTemplates[contentType]; ok {
		return tpl
	}
	return summaryTemplates[domain.TypeArticle]
}

// NormalizeTags splits a comma-delimited tag list, trimming whitespace per
// entry and dropping empties.
func NormalizeTags(raw string) []string {
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func (e *Engine) debug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}
