package lockfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHashDeterministic(t *testing.T) {
	h1 := Hash([]byte("hello world"))
	h2 := Hash([]byte("hello world"))
	if h1 != h2 {
		t.Errorf("Hash not deterministic: %s != %s", h1, h2)
	}
	if h1 == Hash([]byte("different")) {
		t.Errorf("Hash collision for different input")
	}

	path := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if got != h1 {
		t.Errorf("HashFile = %s, want %s", got, h1)
	}
}

func TestKey(t *testing.T) {
	if got := Key("abc", "ja", "PDF"); got != "abc|JA|pdf" {
		t.Errorf("Key = %q, want %q", got, "abc|JA|pdf")
	}
}

func TestLoadNonExistent(t *testing.T) {
	lf, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load returned error for non-existent file: %v", err)
	}
	if lf.Version != Version {
		t.Errorf("Version = %d, want %d", lf.Version, Version)
	}
	if len(lf.Results) != 0 {
		t.Errorf("Results not empty: %v", lf.Results)
	}
	if lf.Summary() != "empty" {
		t.Errorf("Summary = %q, want empty", lf.Summary())
	}
}

func TestSaveLoadAndLookup(t *testing.T) {
	dir := t.TempDir()

	lf, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	key := Key("d41d8cd98f00b204e9800998ecf8427e", "JA", "pdf")
	lf.Record(key, Entry{Source: "manual.pdf", Output: filepath.Join(dir, "manual_jp.pdf"), DocumentID: "DOC1", Billed: 50000, Cost: 1.25})

	if _, ok := lf.Lookup(key); ok {
		t.Fatal("Lookup should miss while the output does not exist")
	}
	if err := os.WriteFile(filepath.Join(dir, "manual_jp.pdf"), []byte("%PDF"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := lf.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); err != nil {
		t.Fatalf("lock file not created: %v", err)
	}

	lf2, err := Load(dir)
	if err != nil {
		t.Fatalf("Load after save: %v", err)
	}
	e, ok := lf2.Lookup(key)
	if !ok {
		t.Fatal("Lookup missed after reload")
	}
	if e.Output != "manual_jp.pdf" || e.Billed != 50000 || e.DocumentID != "DOC1" {
		t.Errorf("entry = %+v", e)
	}
	if e.Time.IsZero() {
		t.Error("Record should stamp the time")
	}
	if got := lf2.OutputPath(e); got != filepath.Join(dir, "manual_jp.pdf") {
		t.Errorf("OutputPath = %q", got)
	}
	if _, ok := lf2.Lookup(Key("d41d8cd98f00b204e9800998ecf8427e", "EN-US", "pdf")); ok {
		t.Error("a different target must not hit")
	}

	results, billed := lf2.Stats()
	if results != 1 || billed != 50000 {
		t.Errorf("Stats = %d, %d, want 1, 50000", results, billed)
	}
}

func TestCleanAndForget(t *testing.T) {
	dir := t.TempDir()
	lf, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a_jp.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	lf.Record("k1", Entry{Source: "a.txt", Output: "a_jp.txt"})
	lf.Record("k2", Entry{Source: "b.txt", Output: "b_jp.txt"})
	lf.Record("k3", Entry{Source: "a.txt", Output: "a_en.txt"})

	if n := lf.Clean(); n != 2 {
		t.Errorf("Clean removed %d, want 2", n)
	}
	if got := lf.Outputs(); len(got) != 1 || got[0] != "a_jp.txt" {
		t.Errorf("Outputs = %v, want [a_jp.txt]", got)
	}

	if n := lf.Forget("uploads/a.txt"); n != 1 {
		t.Errorf("Forget removed %d, want 1", n)
	}
	if results, _ := lf.Stats(); results != 0 {
		t.Errorf("results = %d, want 0", results)
	}
}
