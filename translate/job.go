// Package translate is the translation job orchestrator. It turns a local
// file plus a target language into a named, correctly formatted translated
// file: it picks the provider endpoint by source format, submits, polls to
// a terminal state, applies the equal-language retry and the minimum
// billing floor, records history, and reports progress along the way.
package translate

import (
	"fmt"
	"time"

	"github.com/minios-linux/doctrans/deepl"
	"github.com/minios-linux/doctrans/docformat"
)

// ---------------------------------------------------------------------------
// Job states
// ---------------------------------------------------------------------------

// State is the lifecycle position of one job attempt.
type State string

const (
	StateCreated   State = "created"
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// MinimumBilledCharacters is the provider's minimum charge for binary
// documents.
const MinimumBilledCharacters = 50000

// maxAttempts bounds the equal-language retry: the first attempt plus one
// retry with an explicit source language.
const maxAttempts = 2

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options configures an Orchestrator.
type Options struct {
	// PricePerMillion is the price of one million billed characters. Default: 25.
	PricePerMillion float64
	// Currency labels costs. Default: USD.
	Currency string
	// ChunkSize is the largest text segment sent to the text endpoint. Default: 4500.
	ChunkSize int
	// PollInterval is the status cadence of interactive jobs. Default: 1.5s.
	PollInterval time.Duration
	// BatchPollInterval is the status cadence of batch jobs. Default: 4s.
	BatchPollInterval time.Duration
	// MaxPollAttempts caps status checks before a job times out. Default: 300.
	MaxPollAttempts int
	// GlossaryID is used when a request names no glossary.
	GlossaryID string
}

func (o *Options) effectivePricePerMillion() float64 {
	if o.PricePerMillion > 0 {
		return o.PricePerMillion
	}
	return 25
}

func (o *Options) effectiveCurrency() string {
	if o.Currency != "" {
		return o.Currency
	}
	return "USD"
}

func (o *Options) effectiveChunkSize() int {
	if o.ChunkSize > 0 {
		return o.ChunkSize
	}
	return 4500
}

func (o *Options) effectivePollInterval(batch bool) time.Duration {
	if batch {
		if o.BatchPollInterval > 0 {
			return o.BatchPollInterval
		}
		return 4 * time.Second
	}
	if o.PollInterval > 0 {
		return o.PollInterval
	}
	return 1500 * time.Millisecond
}

func (o *Options) effectiveMaxPollAttempts() int {
	if o.MaxPollAttempts > 0 {
		return o.MaxPollAttempts
	}
	return 300
}

// Cost returns the price of billed characters.
func (o *Options) Cost(billed int) float64 {
	return float64(billed) / 1_000_000 * o.effectivePricePerMillion()
}

// ---------------------------------------------------------------------------
// Requests, attempts and results
// ---------------------------------------------------------------------------

// Request is one user-initiated translation.
type Request struct {
	// JobID labels logs and progress. Optional.
	JobID string
	// SourcePath is the uploaded file.
	SourcePath string
	// Target is the requested language; it is normalized before use.
	Target string
	// OutputFormat is the requested output extension. Empty selects the
	// source format when legal, otherwise the first legal output.
	OutputFormat string
	// GlossaryID overrides Options.GlossaryID.
	GlossaryID string
	// SourceLang forces the source language of the first attempt.
	SourceLang string
	// Batch selects the slower poll cadence and batched text requests.
	Batch bool
	// OnTransition observes every state change of every attempt.
	OnTransition func(Job)
}

// Job is one attempt at translating a request. A retry is a new Job.
type Job struct {
	ID         string
	Attempt    int
	SourceHint string
	State      State
	DocumentID string
	Billed     int
	Err        error

	// key authenticates follow-up calls for DocumentID. It stays
	// unexported so it cannot end up in logs or API responses.
	key string
}

func (j *Job) handle() deepl.Handle {
	return deepl.Handle{ID: j.DocumentID, Key: j.key}
}

// Result describes a finished request.
type Result struct {
	JobID           string
	Source          docformat.Format
	Output          docformat.Format
	Target          string
	Attempts        []Job
	DocumentID      string
	Billed          int
	ReportedBilled  int
	FallbackApplied bool
	Cost            float64
	Currency        string
	RawCharacters   int
	OutputPath      string
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// TimeoutError means the poll ceiling was reached before the provider
// finished the document.
type TimeoutError struct {
	DocumentID string
	Attempts   int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("document %s not finished after %d status checks", e.DocumentID, e.Attempts)
}

// DocumentError means the provider reported status=error for a document.
type DocumentError struct {
	DocumentID string
	Message    string
}

func (e *DocumentError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("document %s failed at the provider", e.DocumentID)
	}
	return fmt.Sprintf("document %s failed at the provider: %s", e.DocumentID, e.Message)
}
