package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/minios-linux/doctrans/config"
	"github.com/minios-linux/doctrans/docformat"
	"github.com/minios-linux/doctrans/lockfile"
	"github.com/minios-linux/doctrans/translate"
)

func TestProgressBar(t *testing.T) {
	tests := []struct {
		name    string
		percent int
		width   int
		want    string
	}{
		{
			name:    "clamps below zero",
			percent: -10,
			width:   4,
			want:    colorGreen + "░░░░" + colorReset + "   0%",
		},
		{
			name:    "mid range uses yellow",
			percent: 50,
			width:   4,
			want:    colorYellow + "██░░" + colorReset + "  50%",
		},
		{
			name:    "clamps above hundred",
			percent: 120,
			width:   4,
			want:    colorRed + "████" + colorReset + " 100%",
		},
	}

	for _, tc := range tests {
		if got := progressBar(tc.percent, tc.width); got != tc.want {
			t.Fatalf("%s: progressBar() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestFormatCost(t *testing.T) {
	if got := formatCost(1.25, "USD"); got != "1.2500 USD" {
		t.Fatalf("formatCost(1.25) = %q, want %q", got, "1.2500 USD")
	}
	if got := formatCost(1234.5, "JPY"); got != "1,234.5000 JPY" {
		t.Fatalf("formatCost(1234.5) = %q, want %q", got, "1,234.5000 JPY")
	}
}

func TestResolveOutput(t *testing.T) {
	tests := []struct {
		path, flag string
		wantSrc    docformat.Format
		wantOut    docformat.Format
		wantErr    bool
	}{
		{path: "report.pdf", wantSrc: docformat.PDF, wantOut: docformat.PDF},
		{path: "report.pdf", flag: "docx", wantSrc: docformat.PDF, wantOut: docformat.DOCX},
		{path: "notes.txt", flag: ".pdf", wantSrc: docformat.TXT, wantOut: docformat.PDF},
		{path: "legacy.doc", wantSrc: docformat.DOC, wantOut: docformat.PDF},
		{path: "sheet.xlsx", flag: "pdf", wantErr: true},
		{path: "slides.pptx", flag: "odp", wantErr: true},
		{path: "image.png", wantErr: true},
	}

	for _, tc := range tests {
		src, out, err := resolveOutput(tc.path, tc.flag)
		if tc.wantErr {
			var ufe *docformat.UnsupportedFormatError
			if !errors.As(err, &ufe) {
				t.Fatalf("resolveOutput(%q, %q) error = %v, want UnsupportedFormatError", tc.path, tc.flag, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("resolveOutput(%q, %q) error: %v", tc.path, tc.flag, err)
		}
		if src != tc.wantSrc || out != tc.wantOut {
			t.Fatalf("resolveOutput(%q, %q) = %s, %s, want %s, %s", tc.path, tc.flag, src, out, tc.wantSrc, tc.wantOut)
		}
	}
}

func TestParseGlossaryEntries(t *testing.T) {
	in := "# terms\nkernel\tカーネル\n\nmodule, モジュール\n"
	got, err := parseGlossaryEntries(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parseGlossaryEntries() error: %v", err)
	}
	want := map[string]string{"kernel": "カーネル", "module": "モジュール"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseGlossaryEntries() = %#v, want %#v", got, want)
	}

	if _, err := parseGlossaryEntries(strings.NewReader("lonely\n")); err == nil {
		t.Fatal("expected error for a line without a target")
	}
	if _, err := parseGlossaryEntries(strings.NewReader("# only comments\n")); err == nil {
		t.Fatal("expected error for an empty list")
	}
}

type fakeEstimator map[string]int

func (f fakeEstimator) Estimate(_ context.Context, path, _ string) (int, string, error) {
	n, ok := f[filepath.Base(path)]
	if !ok {
		return 0, "unreadable", errors.New("unreadable")
	}
	return n, "utf-8", nil
}

func TestEstimateFilesKeepsOrder(t *testing.T) {
	est := fakeEstimator{"a.txt": 120, "b.pptx": 10}
	rows := estimateFiles(context.Background(), est, []string{"in/a.txt", "in/b.pptx", "in/c.png", "in/d.pdf"}, 2)

	if len(rows) != 4 {
		t.Fatalf("len(rows) = %d, want 4", len(rows))
	}
	if rows[0].name != "a.txt" || rows[0].characters != 120 || rows[0].billable != 120 || rows[0].floored {
		t.Fatalf("rows[0] = %+v", rows[0])
	}
	if rows[1].billable != translate.MinimumBilledCharacters || !rows[1].floored {
		t.Fatalf("rows[1] = %+v, want the minimum charge", rows[1])
	}
	if rows[2].err == nil {
		t.Fatal("rows[2]: expected unsupported format error")
	}
	if rows[3].err == nil {
		t.Fatal("rows[3]: expected estimator error")
	}

	var buf bytes.Buffer
	printEstimates(&buf, rows, &translate.Options{PricePerMillion: 25, Currency: "USD"})
	out := buf.String()
	for _, want := range []string{"a.txt", "120", "50,000*", "1.2500 USD", "minimum charge of 50,000"} {
		if !strings.Contains(out, want) {
			t.Fatalf("printEstimates() output missing %q:\n%s", want, out)
		}
	}
}

func TestRunTranslateReusesCachedResult(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default(dir)
	a := &app{cfg: &cfg}

	src := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(src, []byte("こんにちは"), 0644); err != nil {
		t.Fatalf("os.WriteFile() error: %v", err)
	}
	if err := os.MkdirAll(cfg.Dirs.Downloads, 0755); err != nil {
		t.Fatalf("os.MkdirAll() error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Dirs.Downloads, "notes_jp.txt"), []byte("hello"), 0644); err != nil {
		t.Fatalf("os.WriteFile() error: %v", err)
	}

	cache, err := lockfile.Load(cfg.Dirs.Downloads)
	if err != nil {
		t.Fatalf("lockfile.Load() error: %v", err)
	}
	sum, err := lockfile.HashFile(src)
	if err != nil {
		t.Fatalf("lockfile.HashFile() error: %v", err)
	}
	cache.Record(lockfile.Key(sum, "JA", "txt"), lockfile.Entry{Source: "notes.txt", Output: "notes_jp.txt", Billed: 5})
	if err := cache.Save(); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	// A cache hit needs no API key.
	if err := runTranslate(context.Background(), a, src, translateArgs{to: "ja"}); err != nil {
		t.Fatalf("runTranslate() with cached result error: %v", err)
	}

	err = runTranslate(context.Background(), a, src, translateArgs{to: "ja", force: true})
	if err == nil || !strings.Contains(err.Error(), "no DeepL API key") {
		t.Fatalf("runTranslate(--force) error = %v, want missing key", err)
	}

	err = runTranslate(context.Background(), a, src, translateArgs{to: "ja", format: "xlsx"})
	if err == nil || !strings.Contains(err.Error(), "TXT may only output") {
		t.Fatalf("runTranslate(xlsx) error = %v, want illegal output", err)
	}
}

func TestConfigInitCommand(t *testing.T) {
	t.Setenv("LANGUAGE", "en")
	dir := t.TempDir()

	root := newRootCmd()
	root.SetArgs([]string{"--root", dir, "--config", "", "config", "init"})
	if err := root.Execute(); err != nil {
		t.Fatalf("config init error: %v", err)
	}
	path := filepath.Join(dir, config.FileName)
	if !fileExists(path) {
		t.Fatalf("%s not written", path)
	}

	root = newRootCmd()
	root.SetArgs([]string{"--root", dir, "config", "init"})
	if err := root.Execute(); err == nil {
		t.Fatal("second config init without --force should fail")
	}

	root = newRootCmd()
	root.SetArgs([]string{"--root", dir, "config", "init", "--force"})
	if err := root.Execute(); err != nil {
		t.Fatalf("config init --force error: %v", err)
	}
}

func TestFlagNormalization(t *testing.T) {
	root := newRootCmd()
	cmd, _, err := root.Find([]string{"translate"})
	if err != nil {
		t.Fatalf("Find(translate) error: %v", err)
	}
	if err := cmd.ParseFlags([]string{"--output_dir", "out", "--to", "EN-GB"}); err != nil {
		t.Fatalf("ParseFlags() error: %v", err)
	}
	if got, _ := cmd.Flags().GetString("output-dir"); got != "out" {
		t.Fatalf("output-dir = %q, want %q", got, "out")
	}
}

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	want := []string{"auth", "config", "estimate", "glossary", "history", "serve", "translate", "usage", "version"}
	var got []string
	for _, c := range root.Commands() {
		got = append(got, c.Name())
	}
	for _, name := range want {
		found := false
		for _, g := range got {
			if g == name {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("command %q missing from %v", name, got)
		}
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(filePath, []byte("ok"), 0644); err != nil {
		t.Fatalf("os.WriteFile() error: %v", err)
	}

	if !fileExists(filePath) {
		t.Fatalf("fileExists(file) = false, want true")
	}
	if fileExists(dir) {
		t.Fatalf("fileExists(directory) = true, want false")
	}
	if fileExists(filepath.Join(dir, "missing.txt")) {
		t.Fatalf("fileExists(missing) = true, want false")
	}
}

func TestCleanupSchedulerKeepsUploadsAndOutputs(t *testing.T) {
	cfg := config.Default(t.TempDir())
	old := time.Now().Add(-30 * 24 * time.Hour)

	var paths []string
	for _, dir := range []string{cfg.Dirs.Uploads, cfg.Dirs.Downloads, cfg.Dirs.Temp} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("os.MkdirAll() error: %v", err)
		}
		p := filepath.Join(dir, "20261001_notes.txt")
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatalf("os.WriteFile() error: %v", err)
		}
		if err := os.Chtimes(p, old, old); err != nil {
			t.Fatalf("os.Chtimes() error: %v", err)
		}
		paths = append(paths, p)
	}

	if n := newCleanupScheduler(&cfg).Sweep(); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if !fileExists(paths[0]) || !fileExists(paths[1]) {
		t.Fatal("upload or output was swept")
	}
	if fileExists(paths[2]) {
		t.Fatal("stale temp file was kept")
	}
}
