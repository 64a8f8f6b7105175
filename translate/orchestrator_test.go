package translate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minios-linux/doctrans/deepl"
	"github.com/minios-linux/doctrans/docformat"
	"github.com/minios-linux/doctrans/materialize"
	"github.com/minios-linux/doctrans/progress"
)

// ---------------------------------------------------------------------------
// Fake provider
// ---------------------------------------------------------------------------

type fakeDeepL struct {
	mu sync.Mutex

	// translate answers /translate; nil echoes the text uppercased.
	translate func(form map[string][]string) (int, string)
	// statuses are returned by successive status checks; the last one repeats.
	statuses []string
	billed   int
	result   []byte
	// submitError, when set, fails document uploads with HTTP 400.
	submitError func(call int) string

	translateCalls int
	submits        []map[string]string
	statusCalls    int
	resultCalls    int
}

func (f *fakeDeepL) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.URL.Path == "/translate":
			require.NoError(t, r.ParseForm())
			f.translateCalls++
			if f.translate != nil {
				code, body := f.translate(r.PostForm)
				w.WriteHeader(code)
				_, _ = io.WriteString(w, body)
				return
			}
			var parts []string
			for _, text := range r.PostForm["text"] {
				parts = append(parts, fmt.Sprintf(`{"detected_source_language":"EN","text":%q,"billed_characters":%d}`, strings.ToUpper(text), len([]rune(text))))
			}
			_, _ = io.WriteString(w, `{"translations":[`+strings.Join(parts, ",")+`]}`)

		case r.URL.Path == "/document":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			fields := map[string]string{}
			for k, v := range r.MultipartForm.Value {
				fields[k] = v[0]
			}
			f.submits = append(f.submits, fields)
			if f.submitError != nil {
				if m := f.submitError(len(f.submits)); m != "" {
					w.WriteHeader(http.StatusBadRequest)
					_, _ = fmt.Fprintf(w, `{"message":%q}`, m)
					return
				}
			}
			_, _ = fmt.Fprintf(w, `{"document_id":"DOC%d","document_key":"KEY%d"}`, len(f.submits), len(f.submits))

		case strings.HasSuffix(r.URL.Path, "/result"):
			require.NoError(t, r.ParseForm())
			assert.NotEmpty(t, r.PostForm.Get("document_key"))
			f.resultCalls++
			_, _ = w.Write(f.result)

		case strings.HasPrefix(r.URL.Path, "/document/"):
			require.NoError(t, r.ParseForm())
			assert.NotEmpty(t, r.PostForm.Get("document_key"))
			i := f.statusCalls
			if i >= len(f.statuses) {
				i = len(f.statuses) - 1
			}
			f.statusCalls++
			state := f.statuses[i]
			if state == "error" {
				_, _ = io.WriteString(w, `{"status":"error","message":"Source and target language are equal."}`)
				return
			}
			_, _ = fmt.Fprintf(w, `{"status":%q,"billed_characters":%d}`, state, f.billed)

		default:
			http.NotFound(w, r)
		}
	}
}

type fakeStats struct {
	translateCalls int
	submits        []map[string]string
	statusCalls    int
	resultCalls    int
}

func (f *fakeDeepL) stats() fakeStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeStats{
		translateCalls: f.translateCalls,
		submits:        append([]map[string]string(nil), f.submits...),
		statusCalls:    f.statusCalls,
		resultCalls:    f.resultCalls,
	}
}

type fakeRecorder struct {
	mu     sync.Mutex
	billed map[string]int
	raw    map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{billed: map[string]int{}, raw: map[string]int{}}
}

func (r *fakeRecorder) Record(name string, billed int, cost float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.billed[name] = billed
	return nil
}

func (r *fakeRecorder) RecordRaw(name string, characters int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raw[name] = characters
	return nil
}

type harness struct {
	orch    *Orchestrator
	fake    *fakeDeepL
	history *fakeRecorder
	inDir   string
	outDir  string
}

func newHarness(t *testing.T, fake *fakeDeepL, opts Options) *harness {
	t.Helper()
	h := &harness{fake: fake, history: newFakeRecorder(), inDir: t.TempDir(), outDir: t.TempDir()}

	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	client, err := deepl.New(deepl.Options{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	orch, err := New(Deps{
		Provider:     client,
		Materializer: materialize.New(materialize.Options{OutputDir: h.outDir}),
		History:      h.history,
	}, opts)
	require.NoError(t, err)
	orch.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	h.orch = orch
	return h
}

func (h *harness) source(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(h.inDir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

type recordingReporter struct {
	mu      sync.Mutex
	percent []int
}

func (r *recordingReporter) Report(percent int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.percent = append(r.percent, percent)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, Options{})
	assert.Error(t, err)

	client, err := deepl.New(deepl.Options{APIKey: "k"})
	require.NoError(t, err)
	_, err = New(Deps{Provider: client}, Options{})
	assert.Error(t, err)
}

func TestRunTextToText(t *testing.T) {
	h := newHarness(t, &fakeDeepL{
		translate: func(form map[string][]string) (int, string) {
			assert.Equal(t, []string{"Hello world"}, form["text"])
			assert.Equal(t, "JA", form["target_lang"][0])
			return 200, `{"translations":[{"detected_source_language":"EN","text":"こんにちは世界","billed_characters":11}]}`
		},
	}, Options{})
	src := h.source(t, "notes.txt", []byte("Hello world"))

	rep := &recordingReporter{}
	res, err := h.orch.Run(context.Background(), Request{SourcePath: src, Target: "JA", OutputFormat: "txt"}, rep)
	require.NoError(t, err)

	assert.Equal(t, 1, h.fake.stats().translateCalls)
	assert.Equal(t, filepath.Join(h.outDir, "notes_jp.txt"), res.OutputPath)
	data, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "こんにちは世界", string(data))

	assert.Equal(t, 11, res.Billed)
	assert.False(t, res.FallbackApplied)
	assert.InDelta(t, 11.0/1_000_000*25, res.Cost, 1e-12)
	assert.Equal(t, "USD", res.Currency)
	assert.Equal(t, 11, res.RawCharacters)

	assert.Equal(t, 11, h.history.billed["notes.txt"])
	assert.Equal(t, 11, h.history.billed["notes_jp.txt"])
	assert.Equal(t, 11, h.history.raw["notes.txt"])

	require.NotEmpty(t, rep.percent)
	assert.Equal(t, 100, rep.percent[len(rep.percent)-1])
}

func TestRunTextChunksAreJoined(t *testing.T) {
	h := newHarness(t, &fakeDeepL{}, Options{ChunkSize: 4})
	src := h.source(t, "a.txt", []byte("ab\ncd\nefghij"))

	res, err := h.orch.Run(context.Background(), Request{SourcePath: src, Target: "EN"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, h.fake.stats().translateCalls)

	data, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "AB\nCD\nEFGHIJ", string(data))
	assert.Equal(t, "a_en.txt", filepath.Base(res.OutputPath))
}

func TestRunBatchTextPacksChunksIntoOneRequest(t *testing.T) {
	h := newHarness(t, &fakeDeepL{}, Options{ChunkSize: 4})
	src := h.source(t, "a.txt", []byte("ab\ncd\nefghij"))

	res, err := h.orch.Run(context.Background(), Request{SourcePath: src, Target: "EN", Batch: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, h.fake.stats().translateCalls)

	data, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "AB\nCD\nEFGHIJ", string(data))
	assert.Equal(t, 12, res.Billed)
}

func TestRunPollCadence(t *testing.T) {
	for _, tc := range []struct {
		batch bool
		want  time.Duration
	}{
		{batch: false, want: 1500 * time.Millisecond},
		{batch: true, want: 4 * time.Second},
	} {
		h := newHarness(t, &fakeDeepL{statuses: []string{"queued", "translating", "done"}, billed: 70000, result: []byte("x")}, Options{})
		var (
			mu    sync.Mutex
			slept []time.Duration
		)
		h.orch.sleep = func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			defer mu.Unlock()
			slept = append(slept, d)
			return ctx.Err()
		}
		src := h.source(t, "deck.pptx", []byte("PK"))

		_, err := h.orch.Run(context.Background(), Request{SourcePath: src, Target: "JA", Batch: tc.batch}, nil)
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{tc.want, tc.want, tc.want}, slept, "batch=%v", tc.batch)
	}
}

func TestRunDocumentRequestsNativeOutput(t *testing.T) {
	h := newHarness(t, &fakeDeepL{
		statuses: []string{"queued", "translating", "done"},
		billed:   64000,
		result:   []byte("docx-bytes"),
	}, Options{})
	src := h.source(t, "manual.pdf", []byte("%PDF-1.4 fake"))

	res, err := h.orch.Run(context.Background(), Request{SourcePath: src, Target: "JA", OutputFormat: "docx"}, nil)
	require.NoError(t, err)

	require.Len(t, h.fake.stats().submits, 1)
	assert.Equal(t, "docx", h.fake.stats().submits[0]["output_format"])
	assert.Equal(t, "JA", h.fake.stats().submits[0]["target_lang"])
	assert.Equal(t, 3, h.fake.stats().statusCalls)
	assert.Equal(t, 1, h.fake.stats().resultCalls)

	assert.Equal(t, "DOC1", res.DocumentID)
	assert.Equal(t, 64000, res.Billed)
	assert.False(t, res.FallbackApplied)
	assert.Equal(t, "manual_jp.docx", filepath.Base(res.OutputPath))
	data, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "docx-bytes", string(data))
}

func TestRunSameFormatOmitsOutputFormat(t *testing.T) {
	h := newHarness(t, &fakeDeepL{statuses: []string{"done"}, billed: 60000, result: []byte("x")}, Options{})
	src := h.source(t, "report_jp.pdf", []byte("%PDF"))

	res, err := h.orch.Run(context.Background(), Request{SourcePath: src, Target: "JA"}, nil)
	require.NoError(t, err)
	_, ok := h.fake.stats().submits[0]["output_format"]
	assert.False(t, ok)
	assert.Equal(t, "report_jp.pdf", filepath.Base(res.OutputPath))
}

func TestRunRejectsIllegalPairsWithoutNetwork(t *testing.T) {
	h := newHarness(t, &fakeDeepL{}, Options{})

	for _, src := range docformat.All() {
		path := h.source(t, "file."+string(src), []byte("data"))
		for _, out := range docformat.All() {
			err := h.orch.Validate(Request{SourcePath: path, Target: "JA", OutputFormat: string(out)})
			legal := docformat.CheckOutput(src, out) == nil
			if legal {
				assert.NoError(t, err, "%s -> %s", src, out)
			} else {
				assert.Error(t, err, "%s -> %s", src, out)
			}
		}
	}

	path := h.source(t, "sheet.xlsx", []byte("PK"))
	res, err := h.orch.Run(context.Background(), Request{SourcePath: path, Target: "JA", OutputFormat: "pdf"}, nil)
	assert.Nil(t, res)
	var ufe *docformat.UnsupportedFormatError
	require.True(t, errors.As(err, &ufe))
	assert.Equal(t, "XLSX may only output XLSX", UserMessage(err))
	st := h.fake.stats()
	assert.Zero(t, st.translateCalls+len(st.submits)+st.statusCalls+st.resultCalls)
}

func TestRunAppliesBillingFloor(t *testing.T) {
	h := newHarness(t, &fakeDeepL{statuses: []string{"done"}, billed: 0, result: []byte("pptx")}, Options{})
	src := h.source(t, "slides.pptx", []byte("PK"))

	res, err := h.orch.Run(context.Background(), Request{SourcePath: src, Target: "EN-US"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ReportedBilled)
	assert.Equal(t, MinimumBilledCharacters, res.Billed)
	assert.True(t, res.FallbackApplied)
	assert.InDelta(t, 1.25, res.Cost, 1e-9)
	assert.Equal(t, MinimumBilledCharacters, h.history.billed["slides.pptx"])
	assert.Equal(t, MinimumBilledCharacters, h.history.billed["slides_en.pptx"])
}

func TestApplyBillingFloor(t *testing.T) {
	tests := []struct {
		src      docformat.Format
		billed   int
		want     int
		fallback bool
	}{
		{docformat.TXT, 11, 11, false},
		{docformat.PDF, 0, 50000, true},
		{docformat.DOCX, 49999, 50000, true},
		{docformat.XLSX, 50000, 50000, false},
		{docformat.PPTX, 120000, 120000, false},
	}
	for _, tt := range tests {
		got, fallback := ApplyBillingFloor(tt.src, tt.billed)
		if got != tt.want || fallback != tt.fallback {
			t.Fatalf("ApplyBillingFloor(%s, %d) = %d, %v, want %d, %v", tt.src, tt.billed, got, fallback, tt.want, tt.fallback)
		}
	}
}

func TestRunRetriesEqualLanguageOnce(t *testing.T) {
	var sources []string
	h := newHarness(t, &fakeDeepL{
		translate: func(form map[string][]string) (int, string) {
			sources = append(sources, strings.Join(form["source_lang"], ""))
			if len(sources) == 1 {
				return 400, `{"message":"Source and target language are equal."}`
			}
			return 200, `{"translations":[{"text":"hello","billed_characters":5}]}`
		},
	}, Options{})
	src := h.source(t, "memo.txt", []byte("こんにちは"))

	var states []string
	res, err := h.orch.Run(context.Background(), Request{
		SourcePath: src,
		Target:     "JA",
		OnTransition: func(j Job) {
			states = append(states, fmt.Sprintf("%d:%s", j.Attempt, j.State))
		},
	}, nil)
	require.NoError(t, err)
	h.fake.mu.Lock()
	assert.Equal(t, []string{"", "EN"}, sources)
	h.fake.mu.Unlock()
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, StateFailed, res.Attempts[0].State)
	assert.Equal(t, StateDone, res.Attempts[1].State)
	assert.Equal(t, "EN", res.Attempts[1].SourceHint)
	assert.Equal(t, []string{
		"1:created", "1:submitted", "1:failed",
		"2:created", "2:submitted", "2:done",
	}, states)
}

func TestRunSecondEqualLanguageIsTerminal(t *testing.T) {
	h := newHarness(t, &fakeDeepL{
		submitError: func(int) string { return "Source and target language are equal." },
	}, Options{})
	src := h.source(t, "doc.docx", []byte("PK"))

	res, err := h.orch.Run(context.Background(), Request{SourcePath: src, Target: "EN-GB"}, nil)
	require.Error(t, err)
	assert.True(t, IsEqualLanguage(err))
	assert.Len(t, h.fake.stats().submits, 2)
	assert.Equal(t, "JA", h.fake.stats().submits[1]["source_lang"])
	require.NotNil(t, res)
	assert.Len(t, res.Attempts, 2)
	assert.Empty(t, res.OutputPath)
}

func TestRunEqualLanguageFromStatus(t *testing.T) {
	h := newHarness(t, &fakeDeepL{statuses: []string{"error"}}, Options{})
	src := h.source(t, "doc.pdf", []byte("%PDF"))

	res, err := h.orch.Run(context.Background(), Request{SourcePath: src, Target: "JA"}, nil)
	var de *DocumentError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "DOC2", de.DocumentID)
	assert.Len(t, h.fake.stats().submits, 2)
	assert.Len(t, res.Attempts, 2)
}

func TestRunTimesOut(t *testing.T) {
	h := newHarness(t, &fakeDeepL{statuses: []string{"translating"}}, Options{MaxPollAttempts: 3})
	src := h.source(t, "big.pdf", []byte("%PDF"))

	rep := &recordingReporter{}
	_, err := h.orch.Run(context.Background(), Request{SourcePath: src, Target: "JA"}, rep)
	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 3, te.Attempts)
	assert.Equal(t, 3, h.fake.stats().statusCalls)
	assert.Zero(t, h.fake.stats().resultCalls)
	assert.Equal(t, []int{10, 30, 32, 34, 36}, rep.percent)
}

func TestRunNonRetryableProviderErrorIsTerminal(t *testing.T) {
	h := newHarness(t, &fakeDeepL{
		translate: func(map[string][]string) (int, string) {
			return 403, `{"message":"Wrong endpoint"}`
		},
	}, Options{})
	src := h.source(t, "a.txt", []byte("text"))

	res, err := h.orch.Run(context.Background(), Request{SourcePath: src, Target: "JA"}, nil)
	var pe *deepl.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 1, h.fake.stats().translateCalls)
	assert.Len(t, res.Attempts, 1)
	assert.Contains(t, UserMessage(err), "Wrong endpoint")
}

func TestRunEmptyTextIsExtractionFailure(t *testing.T) {
	h := newHarness(t, &fakeDeepL{}, Options{})
	src := h.source(t, "blank.txt", []byte("  \n"))

	_, err := h.orch.Run(context.Background(), Request{SourcePath: src, Target: "JA"}, nil)
	require.Error(t, err)
	assert.Zero(t, h.fake.stats().translateCalls)
	assert.Equal(t, "The document contains no text to translate.", UserMessage(err))
}

func TestRunCancelledWhilePolling(t *testing.T) {
	h := newHarness(t, &fakeDeepL{statuses: []string{"translating"}}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	h.orch.sleep = func(ctx context.Context, d time.Duration) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return ctx.Err()
	}
	src := h.source(t, "a.pdf", []byte("%PDF"))

	_, err := h.orch.Run(ctx, Request{SourcePath: src, Target: "JA"}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, h.fake.stats().statusCalls)
	assert.Len(t, h.fake.stats().submits, 1)
}

func TestRunProgressIsMonotonic(t *testing.T) {
	h := newHarness(t, &fakeDeepL{
		statuses: []string{"queued", "translating", "translating", "done"},
		billed:   70000,
		result:   []byte("pdf"),
	}, Options{})
	src := h.source(t, "p.pdf", []byte("%PDF"))

	var got []progress.Update
	rep := progress.Func(func(p int, m string) { got = append(got, progress.Update{Percent: p, Message: m}) })
	_, err := h.orch.Run(context.Background(), Request{SourcePath: src, Target: "JA"}, rep)
	require.NoError(t, err)

	var percents []int
	for _, u := range got {
		percents = append(percents, u.Percent)
		assert.NotEmpty(t, u.Message)
	}
	assert.Equal(t, []int{10, 30, 32, 34, 36, 80, 100}, percents)
}

func TestChunkText(t *testing.T) {
	tests := []struct {
		text string
		size int
		want []string
	}{
		{"short", 10, []string{"short"}},
		{"ab\ncd\nef", 6, []string{"ab\ncd\n", "ef"}},
		{"abcdefgh", 3, []string{"abc", "def", "gh"}},
		{"日本語の文章", 4, []string{"日本語の", "文章"}},
		{"a\n\n\nb", 2, []string{"a\n", "\n\n", "b"}},
	}
	for _, tt := range tests {
		got := chunkText(tt.text, tt.size)
		assert.Equal(t, tt.want, got, "chunkText(%q, %d)", tt.text, tt.size)
		assert.Equal(t, tt.text, strings.Join(got, ""))
	}
}

func TestDefaultOutput(t *testing.T) {
	tests := map[docformat.Format]docformat.Format{
		docformat.TXT:  docformat.TXT,
		docformat.PDF:  docformat.PDF,
		docformat.DOC:  docformat.PDF,
		docformat.XLSX: docformat.XLSX,
	}
	for src, want := range tests {
		if got := DefaultOutput(src); got != want {
			t.Fatalf("DefaultOutput(%s) = %q, want %q", src, got, want)
		}
	}
}
