// Package classify decides the content type of ingested material. It asks the
// text-generation collaborator for a verdict and degrades to "other" on any
// failure, so a classification outage can only cause under-processing.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"tabdigest/internal/domain"
	"tabdigest/internal/ports"
)

const previewLimit = 1000

const classifyTemplate = `Analyze this content and classify it as exactly one of these types: 'article', 'tweet', 'linkedin_post', 'youtube_video', or 'other'.

Consider these characteristics:
- Article: Long-form content with paragraphs, often informative or analytical
- Tweet: Very short content, often with hashtags, @mentions
- LinkedIn Post: Professional content, typically medium length, business-focused
- YouTube Video: Video content with title, description, often has timestamps
- Other: Doesn't clearly match any above types

URL: %s
Title: %s
Content Preview: %s

Respond with ONLY one of the type strings listed above, nothing else.`

// LLMClassifier implements ports.Classifier on a TextGenerator.
type LLMClassifier struct {
	gen    ports.TextGenerator
	logger *slog.Logger
}

var _ ports.Classifier = (*LLMClassifier)(nil)

// NewLLMClassifier wires the generator; a nil generator always degrades.
func NewLLMClassifier(gen ports.TextGenerator, logger *slog.Logger) *LLMClassifier {
	return &LLMClassifier{gen: gen, logger: logger}
}

// Classify returns a content-type verdict. Failures never propagate; they
// surface as a degraded TypeOther result with the reason attached.
func (c *LLMClassifier) Classify(ctx context.Context, in ports.ClassifyInput) ports.Classification {
	if c.gen == nil {
		return degraded("no text generator configured")
	}

	preview := ExtractPreview(in.RawContent, previewLimit)
	prompt := fmt.Sprintf(classifyTemplate, in.SourceURL, in.Title, preview)

	answer, err := c.gen.Generate(ctx, prompt)
	if err != nil {
		c.warn("classification call failed", "url", in.SourceURL, "error", err)
		return degraded(fmt.Sprintf("generation failed: %v", err))
	}

	contentType, known := domain.ParseContentType(answer)
	if !known {
		c.warn("unrecognized classification answer", "url", in.SourceURL, "answer", answer)
		return degraded(fmt.Sprintf("unrecognized answer %q", answer))
	}

	c.debug("content classified", "url", in.SourceURL, "type", contentType,
		"title_length", len(in.Title), "content_length", len(in.RawContent))
	return ports.Classification{Type: contentType}
}

func degraded(reason string) ports.Classification {
	return ports.Classification{Type: domain.TypeOther, Degraded: true, Reason: reason}
}

// ExtractPreview reduces raw content to at most limit characters of plain
// text. HTML payloads are stripped to their text; anything unparsable passes
// through as-is.
func ExtractPreview(raw string, limit int) string {
	text := raw
	if strings.Contains(raw, "<") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw)); err == nil {
			if extracted := strings.TrimSpace(doc.Text()); extracted != "" {
				text = extracted
			}
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return text
}

func (c *LLMClassifier) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func (c *LLMClassifier) warn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
