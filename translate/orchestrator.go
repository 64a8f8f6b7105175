package translate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/minios-linux/doctrans/deepl"
	"github.com/minios-linux/doctrans/docformat"
	"github.com/minios-linux/doctrans/langmeta"
	"github.com/minios-linux/doctrans/materialize"
	"github.com/minios-linux/doctrans/metrics"
	"github.com/minios-linux/doctrans/progress"
)

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// Provider is the translation service. *deepl.Client implements it.
type Provider interface {
	TranslateText(ctx context.Context, text string, req deepl.TextRequest) (*deepl.TextResult, error)
	TranslateBatch(ctx context.Context, texts []string, req deepl.TextRequest) ([]deepl.TextResult, error)
	SubmitDocument(ctx context.Context, dr deepl.DocumentRequest) (deepl.Handle, error)
	CheckStatus(ctx context.Context, h deepl.Handle) (deepl.Status, error)
	FetchResult(ctx context.Context, h deepl.Handle) ([]byte, error)
}

// Materializer writes provider results as output files.
type Materializer interface {
	Materialize(ctx context.Context, req materialize.Request) (string, error)
}

// Recorder is the history ledger.
type Recorder interface {
	Record(name string, billed int, cost float64) error
	RecordRaw(name string, characters int) error
}

// Estimator counts source characters for the raw history backfill.
type Estimator interface {
	Estimate(ctx context.Context, path, ext string) (int, string, error)
}

// Deps are the collaborators of an Orchestrator. Provider and Materializer
// are required.
type Deps struct {
	Provider     Provider
	Materializer Materializer
	History      Recorder
	Estimator    Estimator
}

// Orchestrator runs translation requests. It holds no per-job state and is
// safe for concurrent use.
type Orchestrator struct {
	deps  Deps
	opts  Options
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Provider == nil {
		return nil, errors.New("translate: provider is required")
	}
	if deps.Materializer == nil {
		return nil, errors.New("translate: materializer is required")
	}
	return &Orchestrator{deps: deps, opts: opts, sleep: sleepContext}, nil
}

// Options returns the effective options.
func (o *Orchestrator) Options() Options {
	opts := o.opts
	opts.PricePerMillion = o.opts.effectivePricePerMillion()
	opts.Currency = o.opts.effectiveCurrency()
	return opts
}

// ---------------------------------------------------------------------------
// Pre-flight
// ---------------------------------------------------------------------------

type plan struct {
	sourcePath string
	name       string
	source     docformat.Format
	output     docformat.Format
	target     string
	glossary   string
	batch      bool
}

// Validate performs every check that needs no network call: the source
// exists, its format is known, and the output format is legal for it.
func (o *Orchestrator) Validate(req Request) error {
	_, err := o.prepare(req)
	return err
}

func (o *Orchestrator) prepare(req Request) (plan, error) {
	src, err := docformat.FromPath(req.SourcePath)
	if err != nil {
		return plan{}, err
	}

	out := docformat.Format("")
	if req.OutputFormat != "" {
		if out, err = docformat.Parse(req.OutputFormat); err != nil {
			return plan{}, &docformat.UnsupportedFormatError{Source: src, Output: docformat.Format(req.OutputFormat), Reason: "unknown output format"}
		}
	} else {
		out = DefaultOutput(src)
	}
	if err := docformat.CheckOutput(src, out); err != nil {
		return plan{}, err
	}

	st, err := os.Stat(req.SourcePath)
	if err != nil {
		return plan{}, fmt.Errorf("source file: %w", err)
	}
	if st.IsDir() {
		return plan{}, fmt.Errorf("source file: %s is a directory", req.SourcePath)
	}

	glossary := req.GlossaryID
	if glossary == "" {
		glossary = o.opts.GlossaryID
	}
	return plan{
		sourcePath: req.SourcePath,
		name:       filepath.Base(req.SourcePath),
		source:     src,
		output:     out,
		target:     langmeta.NormalizeTarget(req.Target),
		glossary:   glossary,
		batch:      req.Batch,
	}, nil
}

// DefaultOutput is the output used when none is requested: the source
// format itself when legal, otherwise its first legal output.
func DefaultOutput(src docformat.Format) docformat.Format {
	legal := src.LegalOutputs()
	for _, f := range legal {
		if f == src {
			return f
		}
	}
	if len(legal) > 0 {
		return legal[0]
	}
	return src
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

// providerResult is what one successful attempt brought back.
type providerResult struct {
	raw         []byte
	text        string
	returned    docformat.Format
	billed      int
	sourceChars int
}

// Run executes a request to completion. Illegal format combinations are
// rejected before any network call. The returned Result is non-nil
// whenever pre-flight validation passed, even on failure, so callers can
// inspect the attempts.
func (o *Orchestrator) Run(ctx context.Context, req Request, rep progress.Reporter) (*Result, error) {
	p, err := o.prepare(req)
	if err != nil {
		return nil, err
	}
	mono := progress.NewMonotonic(rep)

	res := &Result{
		JobID:         req.JobID,
		Source:        p.source,
		Output:        p.output,
		Target:        p.target,
		Currency:      o.opts.effectiveCurrency(),
		RawCharacters: -1,
	}
	logger := log.WithFields(log.Fields{
		"job":    req.JobID,
		"source": p.name,
		"format": p.source,
		"output": p.output,
		"target": p.target,
	})
	logger.WithField("strategy", p.source.Strategy()).Info("Starting translation")

	var (
		out  *providerResult
		last *Job
	)
	hint := req.SourceLang
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		job := &Job{ID: req.JobID, Attempt: attempt, SourceHint: hint}
		o.transition(req, job, StateCreated, nil)

		out, err = o.runAttempt(ctx, req, p, job, mono)
		res.Attempts = append(res.Attempts, *job)
		last = job
		if err == nil {
			break
		}
		if attempt < maxAttempts && IsEqualLanguage(err) && ctx.Err() == nil {
			hint = langmeta.OppositeSource(p.target)
			metrics.EqualLanguageRetries.Inc()
			logger.WithFields(log.Fields{"attempt": attempt, "source_hint": hint}).
				Warn("Provider reports equal source and target language, retrying with explicit source")
			continue
		}
		res.DocumentID = job.DocumentID
		metrics.Jobs.WithLabelValues(string(StateFailed), string(p.source)).Inc()
		logger.WithFields(log.Fields{"attempt": attempt, "document_id": job.DocumentID}).
			WithError(err).Error("Translation failed")
		return res, err
	}

	res.DocumentID = last.DocumentID
	res.ReportedBilled = out.billed
	res.Billed, res.FallbackApplied = ApplyBillingFloor(p.source, out.billed)
	res.Cost = o.opts.Cost(res.Billed)
	metrics.BilledCharacters.WithLabelValues(string(p.source)).Add(float64(res.Billed))
	if res.FallbackApplied {
		metrics.BillingFloorApplied.Inc()
		logger.WithFields(log.Fields{
			"document_id":      res.DocumentID,
			"reported":         out.billed,
			"billed":           res.Billed,
			"fallback_applied": true,
		}).Warn("Provider reported fewer characters than the minimum charge, billing the floor")
	}
	o.record(logger, p.name, res)

	path, err := o.deps.Materializer.Materialize(ctx, materialize.Request{
		Raw:        out.raw,
		Text:       out.text,
		Source:     p.source,
		Returned:   out.returned,
		Requested:  p.output,
		BaseName:   p.name,
		Target:     p.target,
		DocumentID: res.DocumentID,
	})
	if err != nil {
		metrics.MaterializationFailures.Inc()
		metrics.Jobs.WithLabelValues(string(StateFailed), string(p.source)).Inc()
		logger.WithFields(log.Fields{"document_id": res.DocumentID, "billed": res.Billed}).
			WithError(err).Error("Translation succeeded but the output could not be produced")
		return res, err
	}
	res.OutputPath = path
	o.record(logger, filepath.Base(path), res)

	o.backfillRaw(ctx, logger, p, out, res)

	mono.Report(100, msg(msgDone))
	metrics.Jobs.WithLabelValues(string(StateDone), string(p.source)).Inc()
	logger.WithFields(log.Fields{
		"billed":           res.Billed,
		"cost":             res.Cost,
		"fallback_applied": res.FallbackApplied,
		"output":           filepath.Base(path),
		"attempts":         len(res.Attempts),
	}).Info("Translation finished")
	return res, nil
}

// runAttempt drives one Job from Created to Done or Failed.
func (o *Orchestrator) runAttempt(ctx context.Context, req Request, p plan, job *Job, rep progress.Reporter) (*providerResult, error) {
	var (
		out *providerResult
		err error
	)
	if p.source.Strategy() == docformat.TextEndpoint {
		out, err = o.translateText(ctx, req, p, job, rep)
	} else {
		out, err = o.translateDocument(ctx, req, p, job, rep)
	}
	if err != nil {
		o.transition(req, job, StateFailed, err)
		return nil, err
	}
	job.Billed = out.billed
	o.transition(req, job, StateDone, nil)
	return out, nil
}

func (o *Orchestrator) transition(req Request, job *Job, s State, err error) {
	job.State = s
	if err != nil {
		job.Err = err
	}
	log.WithFields(log.Fields{
		"job":         job.ID,
		"attempt":     job.Attempt,
		"document_id": job.DocumentID,
		"state":       s,
	}).Debug("Job state changed")
	if req.OnTransition != nil {
		req.OnTransition(*job)
	}
}

// ---------------------------------------------------------------------------
// Billing and history
// ---------------------------------------------------------------------------

// ApplyBillingFloor raises billed to the minimum charge for binary document
// formats and reports whether it did.
func ApplyBillingFloor(src docformat.Format, billed int) (int, bool) {
	if src.IsBinary() && billed < MinimumBilledCharacters {
		return MinimumBilledCharacters, true
	}
	return billed, false
}

func (o *Orchestrator) record(logger *log.Entry, name string, res *Result) {
	if o.deps.History == nil {
		return
	}
	if err := o.deps.History.Record(name, res.Billed, res.Cost); err != nil {
		logger.WithError(err).Warn("Failed to record history")
	}
}

// backfillRaw records the locally counted characters of the source. Text
// sources are counted during translation; other formats go through the
// estimator when one is configured.
func (o *Orchestrator) backfillRaw(ctx context.Context, logger *log.Entry, p plan, out *providerResult, res *Result) {
	n := -1
	if p.source.Strategy() == docformat.TextEndpoint {
		n = out.sourceChars
	} else if o.deps.Estimator != nil {
		count, detail, err := o.deps.Estimator.Estimate(ctx, p.sourcePath, string(p.source))
		if err != nil {
			logger.WithError(err).Debug("Raw character backfill skipped")
		} else if count > 0 {
			n = count
			logger.WithFields(log.Fields{"raw": count, "detail": detail}).Debug("Counted source characters")
		}
	}
	if n < 0 {
		return
	}
	res.RawCharacters = n
	if o.deps.History == nil {
		return
	}
	if err := o.deps.History.RecordRaw(p.name, n); err != nil {
		logger.WithError(err).Warn("Failed to record raw character count")
	}
}

// ---------------------------------------------------------------------------
// Error classification
// ---------------------------------------------------------------------------

// IsEqualLanguage reports whether err is the provider's rejection of a
// job whose detected source language equals the target.
func IsEqualLanguage(err error) bool {
	var pe *deepl.ProviderError
	if errors.As(err, &pe) {
		return deepl.IsEqualLanguage(pe.Message)
	}
	var de *DocumentError
	if errors.As(err, &de) {
		return deepl.IsEqualLanguage(de.Message)
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
