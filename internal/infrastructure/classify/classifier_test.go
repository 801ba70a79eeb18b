package classify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tabdigest/internal/domain"
	"tabdigest/internal/ports"
)

type stubGenerator struct {
	answer string
	err    error
	prompt string
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.answer, g.err
}

func TestClassifyKnownAnswer(t *testing.T) {
	t.Parallel()

	// Answers arrive with stray case and whitespace.
	gen := &stubGenerator{answer: "  Tweet \n"}
	c := NewLLMClassifier(gen, nil)

	verdict := c.Classify(context.Background(), ports.ClassifyInput{
		SourceURL:  "https://x.com/status/1",
		Title:      "a tweet",
		RawContent: "short post #go",
	})
	if verdict.Type != domain.TypeTweet {
		t.Fatalf("type = %s, want %s", verdict.Type, domain.TypeTweet)
	}
	if verdict.Degraded {
		t.Fatalf("unexpected degradation: %+v", verdict)
	}
	if !strings.Contains(gen.prompt, "https://x.com/status/1") || !strings.Contains(gen.prompt, "short post #go") {
		t.Fatalf("prompt missing inputs:\n%s", gen.prompt)
	}
}

func TestClassifyUnrecognizedAnswerDegrades(t *testing.T) {
	t.Parallel()

	c := NewLLMClassifier(&stubGenerator{answer: "podcast"}, nil)
	verdict := c.Classify(context.Background(), ports.ClassifyInput{RawContent: "body"})

	if verdict.Type != domain.TypeOther || !verdict.Degraded {
		t.Fatalf("verdict = %+v, want degraded other", verdict)
	}
	if !strings.Contains(verdict.Reason, "podcast") {
		t.Fatalf("reason does not carry the answer: %q", verdict.Reason)
	}
}

func TestClassifyGenerationFailureDegrades(t *testing.T) {
	t.Parallel()

	c := NewLLMClassifier(&stubGenerator{err: errors.New("rate limited")}, nil)
	verdict := c.Classify(context.Background(), ports.ClassifyInput{RawContent: "body"})

	if verdict.Type != domain.TypeOther || !verdict.Degraded {
		t.Fatalf("verdict = %+v, want degraded other", verdict)
	}
	if !strings.Contains(verdict.Reason, "rate limited") {
		t.Fatalf("reason = %q", verdict.Reason)
	}
}

func TestClassifyNilGeneratorDegrades(t *testing.T) {
	t.Parallel()

	c := NewLLMClassifier(nil, nil)
	verdict := c.Classify(context.Background(), ports.ClassifyInput{RawContent: "body"})
	if verdict.Type != domain.TypeOther || !verdict.Degraded {
		t.Fatalf("verdict = %+v, want degraded other", verdict)
	}
}

func TestExtractPreviewStripsHTML(t *testing.T) {
	t.Parallel()

	raw := `<html><body><h1>Go Queues</h1><p>Durable   work queues
in Go.</p><script>ignore()</script></body></html>`
	got := ExtractPreview(raw, 1000)

	if strings.Contains(got, "<") {
		t.Fatalf("markup survived: %q", got)
	}
	if !strings.Contains(got, "Go Queues") || !strings.Contains(got, "Durable work queues in Go.") {
		t.Fatalf("text content lost: %q", got)
	}
}

func TestExtractPreviewCollapsesWhitespace(t *testing.T) {
	t.Parallel()

	got := ExtractPreview("one\n\n  two\t three", 1000)
	if got != "one two three" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractPreviewLimitsRunes(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("ä", 50)
	got := ExtractPreview(long, 10)
	if runes := []rune(got); len(runes) != 10 {
		t.Fatalf("preview length = %d runes, want 10", len(runes))
	}
}
