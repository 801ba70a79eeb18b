package domain

import "fmt"

// ValidationError rejects bad input at ingestion, before a record exists.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// EnrichmentError is a per-attempt enrichment failure; it drives the queue
// retry policy and eventually the terminal FAILED status.
type EnrichmentError struct {
	Stage string
	Cause error
}

func (e EnrichmentError) Error() string {
	return fmt.Sprintf("enrichment %s failed: %v", e.Stage, e.Cause)
}

func (e EnrichmentError) Unwrap() error {
	return e.Cause
}
