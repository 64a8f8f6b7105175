package translate

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/minios-linux/doctrans/deepl"
	"github.com/minios-linux/doctrans/docformat"
	"github.com/minios-linux/doctrans/metrics"
	"github.com/minios-linux/doctrans/progress"
)

// translateDocument uploads a binary source, polls it to a terminal state
// and downloads the result.
func (o *Orchestrator) translateDocument(ctx context.Context, req Request, p plan, job *Job, rep progress.Reporter) (*providerResult, error) {
	rep.Report(10, msg(msgUploading))

	dr := deepl.DocumentRequest{
		Path:       p.sourcePath,
		TargetLang: p.target,
		SourceLang: job.SourceHint,
		GlossaryID: p.glossary,
	}
	if p.output != p.source {
		dr.OutputFormat = string(p.output)
	}
	h, err := o.deps.Provider.SubmitDocument(ctx, dr)
	if err != nil {
		return nil, err
	}
	job.DocumentID, job.key = h.ID, h.Key
	o.transition(req, job, StateSubmitted, nil)

	rep.Report(30, msg(msgAccepted))
	o.transition(req, job, StatePolling, nil)

	st, err := o.poll(ctx, req, job, rep, p.batch)
	if err != nil {
		return nil, err
	}

	raw, err := o.deps.Provider.FetchResult(ctx, job.handle())
	if err != nil {
		return nil, err
	}
	rep.Report(80, msg(msgResultFetched))

	returned := p.source
	if dr.OutputFormat != "" {
		returned = docformat.Format(dr.OutputFormat)
	}
	return &providerResult{
		raw:      raw,
		returned: returned,
		billed:   st.BilledCharacters,
	}, nil
}

// poll checks the document status at the configured cadence until it is
// done or failed, or until the attempt ceiling is reached. Progress climbs
// by two points per check and stops at 75.
func (o *Orchestrator) poll(ctx context.Context, req Request, job *Job, rep progress.Reporter, batch bool) (deepl.Status, error) {
	interval := o.opts.effectivePollInterval(batch)
	limit := o.opts.effectiveMaxPollAttempts()
	logger := log.WithFields(log.Fields{"job": req.JobID, "document_id": job.DocumentID})

	for n := 1; n <= limit; n++ {
		if err := o.sleep(ctx, interval); err != nil {
			return deepl.Status{}, err
		}
		st, err := o.deps.Provider.CheckStatus(ctx, job.handle())
		if err != nil {
			return deepl.Status{}, err
		}
		switch st.State {
		case deepl.StatusDone:
			metrics.PollAttempts.Observe(float64(n))
			logger.WithFields(log.Fields{"checks": n, "billed": st.BilledCharacters}).Debug("Document translated")
			return st, nil
		case deepl.StatusError:
			metrics.PollAttempts.Observe(float64(n))
			return deepl.Status{}, &DocumentError{DocumentID: job.DocumentID, Message: st.Reason()}
		}
		logger.WithFields(log.Fields{"status": st.State, "seconds_remaining": st.SecondsRemaining}).Trace("Document pending")
		rep.Report(min(75, 30+2*n), msg(msgInProgress))
	}
	return deepl.Status{}, &TimeoutError{DocumentID: job.DocumentID, Attempts: limit}
}
