package translate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minios-linux/doctrans/progress"
	"github.com/minios-linux/doctrans/store"
)

type recordingSink struct {
	published []string
}

func (s *recordingSink) Publish(_ context.Context, localPath string) (string, error) {
	s.published = append(s.published, localPath)
	return localPath, nil
}

func (s *recordingSink) Close() error { return nil }

func newTestManager(t *testing.T, h *harness) (*Manager, *store.Store, *progress.FileStore, *recordingSink) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	files := progress.NewFileStore(t.TempDir())
	sink := &recordingSink{}
	m, err := NewManager(h.orch, ManagerOptions{
		Store:  st,
		Memory: progress.NewMemoryStore(time.Minute),
		Files:  files,
		Sink:   sink,
	})
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m, st, files, sink
}

func TestNewManagerRequiresStore(t *testing.T) {
	h := newHarness(t, &fakeDeepL{}, Options{})
	_, err := NewManager(nil, ManagerOptions{})
	assert.Error(t, err)
	_, err = NewManager(h.orch, ManagerOptions{})
	assert.Error(t, err)
}

func TestManagerRunsJobToDone(t *testing.T) {
	h := newHarness(t, &fakeDeepL{}, Options{})
	m, _, files, sink := newTestManager(t, h)
	src := h.source(t, "notes.txt", []byte("hello"))

	id, err := m.Submit(context.Background(), Submission{
		Request: Request{SourcePath: src, Target: "JA"},
		Session: "sess-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	res, err := m.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "notes_jp.txt", filepath.Base(res.OutputPath))

	st, err := m.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateDone, st.State)
	assert.Equal(t, 100, st.Percent)
	assert.Equal(t, "notes_jp.txt", st.Output)
	assert.Equal(t, 5, st.Billed)
	assert.Empty(t, st.Error)

	assert.Equal(t, []string{res.OutputPath}, sink.published)
	_, err = os.Stat(files.Path("sess-1"))
	assert.True(t, os.IsNotExist(err), "progress file should be removed when the job ends")
}

func TestManagerRejectsIllegalRequestBeforeRecording(t *testing.T) {
	h := newHarness(t, &fakeDeepL{}, Options{})
	m, st, _, _ := newTestManager(t, h)
	src := h.source(t, "sheet.xlsx", []byte("PK"))

	_, err := m.Submit(context.Background(), Submission{Request: Request{SourcePath: src, Target: "JA", OutputFormat: "pdf"}})
	require.Error(t, err)
	assert.Equal(t, "XLSX may only output XLSX", UserMessage(err))

	jobs, err := st.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.Empty(t, h.fake.stats().submits)
}

func TestManagerRecordsFailure(t *testing.T) {
	h := newHarness(t, &fakeDeepL{statuses: []string{"translating"}}, Options{MaxPollAttempts: 2})
	m, _, _, sink := newTestManager(t, h)
	src := h.source(t, "a.pdf", []byte("%PDF"))

	id, err := m.Submit(context.Background(), Submission{Request: Request{SourcePath: src, Target: "JA"}})
	require.NoError(t, err)
	_, err = m.Wait(context.Background(), id)
	require.Error(t, err)

	st, err := m.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, "DOC1", st.DocumentID)
	assert.Equal(t, UserMessage(err), st.Error)
	assert.Empty(t, sink.published)
}

func TestManagerCancel(t *testing.T) {
	h := newHarness(t, &fakeDeepL{statuses: []string{"translating"}}, Options{PollInterval: 5 * time.Millisecond, MaxPollAttempts: 100000})
	h.orch.sleep = sleepContext
	m, _, _, _ := newTestManager(t, h)
	src := h.source(t, "a.pdf", []byte("%PDF"))

	id, err := m.Submit(context.Background(), Submission{Request: Request{SourcePath: src, Target: "JA"}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.fake.stats().statusCalls > 0
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, m.Cancel(id))

	_, err = m.Wait(context.Background(), id)
	assert.ErrorIs(t, err, context.Canceled)

	st, err := m.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, "The translation was cancelled.", st.Error)

	assert.ErrorIs(t, m.Cancel("nope"), ErrUnknownJob)
}

func TestManagerForgetsFinishedJobs(t *testing.T) {
	h := newHarness(t, &fakeDeepL{}, Options{})
	st, err := store.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m, err := NewManager(h.orch, ManagerOptions{Store: st, Retain: 50 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)

	src := h.source(t, "notes.txt", []byte("hello"))
	id, err := m.Submit(context.Background(), Submission{Request: Request{SourcePath: src, Target: "JA"}})
	require.NoError(t, err)
	_, err = m.Wait(context.Background(), id)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.jobs) == 0
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, m.Cancel(id), ErrUnknownJob)
	status, err := m.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateDone, status.State)
}
