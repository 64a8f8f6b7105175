package translate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/minios-linux/doctrans/metrics"
	"github.com/minios-linux/doctrans/outputs"
	"github.com/minios-linux/doctrans/progress"
	"github.com/minios-linux/doctrans/store"
)

// ErrUnknownJob is returned for job ids the Manager is not running.
var ErrUnknownJob = errors.New("unknown job")

// Submission is a request submitted to a Manager.
type Submission struct {
	Request
	// Session keys the progress file polled by the browser. Optional.
	Session string
}

// Status is the current view of a job.
type Status struct {
	ID              string
	State           State
	Percent         int
	Message         string
	DocumentID      string
	Billed          int
	Cost            float64
	FallbackApplied bool
	Output          string
	Error           string
}

// ManagerOptions wires a Manager to its stores.
type ManagerOptions struct {
	// Store persists job records. Required.
	Store *store.Store
	// Memory holds live progress snapshots by job id. Optional.
	Memory *progress.MemoryStore
	// Files writes progress_<session>.json for session-keyed polling. Optional.
	Files *progress.FileStore
	// Sink publishes finished outputs. Defaults to outputs.LocalSink.
	Sink outputs.Sink
	// Retain is how long a finished job stays available to Wait. The
	// stored record outlives it. Default: 10 minutes.
	Retain time.Duration
}

type running struct {
	cancel context.CancelFunc
	done   chan struct{}
	result *Result
	err    error
}

// Manager runs jobs in the background, one goroutine per job, and keeps
// their records current.
type Manager struct {
	orch *Orchestrator
	opts ManagerOptions

	mu   sync.Mutex
	jobs map[string]*running
	wg   sync.WaitGroup
}

// NewManager creates a Manager.
func NewManager(orch *Orchestrator, opts ManagerOptions) (*Manager, error) {
	if orch == nil {
		return nil, errors.New("translate: orchestrator is required")
	}
	if opts.Store == nil {
		return nil, errors.New("translate: job store is required")
	}
	if opts.Sink == nil {
		opts.Sink = outputs.LocalSink{}
	}
	if opts.Retain <= 0 {
		opts.Retain = 10 * time.Minute
	}
	return &Manager{orch: orch, opts: opts, jobs: make(map[string]*running)}, nil
}

// Submit validates the request and starts it. Illegal requests are
// rejected here, before any record, goroutine or network call exists.
func (m *Manager) Submit(ctx context.Context, sub Submission) (string, error) {
	p, err := m.orch.prepare(sub.Request)
	if err != nil {
		return "", err
	}
	if sub.JobID == "" {
		sub.JobID = uuid.NewString()
	}

	rec := &store.Job{
		ID:           sub.JobID,
		Session:      sub.Session,
		Source:       p.name,
		Target:       p.target,
		OutputFormat: string(p.output),
		State:        string(StateCreated),
		Attempt:      1,
	}
	if err := m.opts.Store.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("recording job: %w", err)
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	r := &running{cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.jobs[sub.JobID] = r
	m.mu.Unlock()

	metrics.JobsInFlight.Inc()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer metrics.JobsInFlight.Dec()
		defer close(r.done)
		defer cancel()
		r.result, r.err = m.run(jobCtx, sub, rec)
		time.AfterFunc(m.opts.Retain, func() { m.forget(rec.ID, r) })
	}()
	return sub.JobID, nil
}

func (m *Manager) run(ctx context.Context, sub Submission, rec *store.Job) (*Result, error) {
	logger := log.WithField("job", rec.ID)
	persist := func() {
		// The request context may already be cancelled; records are still written.
		if err := m.opts.Store.Update(context.Background(), rec); err != nil {
			logger.WithError(err).Warn("Failed to update job record")
		}
	}

	reporters := progress.Multi{
		progress.Func(func(percent int, message string) {
			if err := m.opts.Store.UpdateProgress(context.Background(), rec.ID, percent, message); err != nil {
				logger.WithError(err).Debug("Failed to store progress")
			}
		}),
	}
	if m.opts.Memory != nil {
		reporters = append(reporters, m.opts.Memory.Reporter(rec.ID))
	}
	if m.opts.Files != nil && sub.Session != "" {
		reporters = append(reporters, m.opts.Files.Reporter(sub.Session))
		defer func() {
			if err := m.opts.Files.Remove(sub.Session); err != nil {
				logger.WithError(err).Debug("Failed to remove progress file")
			}
		}()
	}
	mono := progress.NewMonotonic(reporters)

	req := sub.Request
	req.OnTransition = func(j Job) {
		cur := mono.Current()
		rec.State = string(j.State)
		rec.Attempt = j.Attempt
		rec.DocumentID = j.DocumentID
		rec.Percent, rec.Message = cur.Percent, cur.Message
		switch {
		case j.State == StateCreated:
			rec.Error = ""
		case j.State == StateFailed && j.Err != nil:
			rec.Error = UserMessage(j.Err)
		}
		persist()
		if sub.OnTransition != nil {
			sub.OnTransition(j)
		}
	}

	res, err := m.orch.Run(ctx, req, mono)
	cur := mono.Current()
	rec.Percent, rec.Message = cur.Percent, cur.Message
	if res != nil {
		rec.DocumentID = res.DocumentID
		rec.Billed = res.Billed
		rec.Cost = res.Cost
		rec.FallbackApplied = res.FallbackApplied
	}
	if err != nil {
		rec.State = string(StateFailed)
		rec.Error = UserMessage(err)
		persist()
		return res, err
	}

	rec.State = string(StateDone)
	rec.Output = filepath.Base(res.OutputPath)
	rec.Error = ""
	if _, perr := m.opts.Sink.Publish(ctx, res.OutputPath); perr != nil {
		logger.WithError(perr).Warn("Failed to publish output")
	}
	persist()
	return res, nil
}

func (m *Manager) forget(id string, r *running) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.jobs[id] == r {
		delete(m.jobs, id)
	}
}

// Status returns the current state of a job, preferring live progress
// over the stored record.
func (m *Manager) Status(ctx context.Context, id string) (*Status, error) {
	rec, err := m.opts.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	st := &Status{
		ID:              rec.ID,
		State:           State(rec.State),
		Percent:         rec.Percent,
		Message:         rec.Message,
		DocumentID:      rec.DocumentID,
		Billed:          rec.Billed,
		Cost:            rec.Cost,
		FallbackApplied: rec.FallbackApplied,
		Output:          rec.Output,
		Error:           rec.Error,
	}
	if m.opts.Memory != nil && !st.State.Terminal() {
		if u, ok := m.opts.Memory.Get(id); ok && u.Percent >= st.Percent {
			st.Percent, st.Message = u.Percent, u.Message
		}
	}
	return st, nil
}

// Cancel stops a running job. The job ends in the failed state.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	r, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}
	r.cancel()
	return nil
}

// Wait blocks until the job finishes or ctx is done and returns its result.
func (m *Manager) Wait(ctx context.Context, id string) (*Result, error) {
	m.mu.Lock()
	r, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrUnknownJob
	}
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown cancels every running job and waits for them to record their
// final state.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, r := range m.jobs {
		r.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
