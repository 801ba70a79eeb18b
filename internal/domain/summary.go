package domain

import (
	"fmt"
	"strings"
	"time"
)

// ContentType classifies ingested content and selects the enrichment template.
type ContentType string

const (
	TypeArticle      ContentType = "article"
	TypeTweet        ContentType = "tweet"
	TypeLinkedInPost ContentType = "linkedin_post"
	TypeYouTubeVideo ContentType = "youtube_video"
	TypeOther        ContentType = "other"
)

// ParseContentType normalizes a raw classification answer to a known type.
// Unrecognized values map to TypeOther.
func ParseContentType(raw string) (ContentType, bool) {
	switch ContentType(strings.ToLower(strings.TrimSpace(raw))) {
	case TypeArticle:
		return TypeArticle, true
	case TypeTweet:
		return TypeTweet, true
	case TypeLinkedInPost:
		return TypeLinkedInPost, true
	case TypeYouTubeVideo:
		return TypeYouTubeVideo, true
	case TypeOther:
		return TypeOther, true
	}
	return TypeOther, false
}

// Enrichable reports whether content of this type is worth queueing.
func (t ContentType) Enrichable() bool {
	switch t {
	case TypeArticle, TypeTweet, TypeLinkedInPost, TypeYouTubeVideo:
		return true
	}
	return false
}

// Status enumerates summary lifecycle states.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	// StatusSkipped marks records accepted into the store but never queued
	// because their content type is not enrichable.
	StatusSkipped Status = "SKIPPED"
)

// Terminal reports whether no further worker transition applies.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusSkipped
}

// CanTransition reports whether moving from s to next is a legal step.
// PENDING -> PROCESSING -> {COMPLETED | FAILED}; FAILED -> PROCESSING covers
// a queue-scheduled re-attempt and FAILED -> PENDING an operator retry.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	case StatusFailed:
		return next == StatusProcessing || next == StatusPending
	}
	return false
}

// Transition validates and applies a status change on the summary.
func (sum *Summary) Transition(next Status) error {
	if !sum.Status.CanTransition(next) {
		return fmt.Errorf("illegal status transition %s -> %s for summary %s", sum.Status, next, sum.ID)
	}
	sum.Status = next
	return nil
}

// Summary is the persistent record of one piece of content moving through
// classification and enrichment.
type Summary struct {
	ID          string
	SourceURL   string
	Title       string
	RawContent  string
	ContentType ContentType
	Status      Status
	SummaryText string
	KeyPoints   string
	Tags        []string
	ErrorDetail string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// Enrichment is the generated output written on completion.
type Enrichment struct {
	Summary   string
	KeyPoints string
	Tags      []string
}

// Digest is an aggregation of completed summaries rendered for delivery.
// Text and HTML are two renderings of the same grouped data.
type Digest struct {
	GeneratedAt time.Time
	Count       int
	Text        string
	HTML        string
}
