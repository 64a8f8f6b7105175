// Package lockfile implements doctrans.lock, a result cache that maps the
// MD5 checksum of a source document plus the requested target language and
// output format to the output already produced for it. A repeated request
// for an unchanged document can then reuse the existing output instead of
// paying for another translation.
//
// The lock file lives in the downloads directory next to the outputs it
// refers to.
package lockfile

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// LockFileName is the default lock file name.
const LockFileName = "doctrans.lock"

// Version is the lock file format version.
const Version = 1

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// Entry records one finished translation.
type Entry struct {
	Source     string    `yaml:"source"`
	Output     string    `yaml:"output"`
	DocumentID string    `yaml:"document_id,omitempty"`
	Billed     int       `yaml:"billed"`
	Cost       float64   `yaml:"cost"`
	Time       time.Time `yaml:"time"`
}

// LockFile represents the doctrans.lock file structure.
type LockFile struct {
	Version int               `yaml:"version"`
	Results map[string]*Entry `yaml:"results"` // key -> entry

	mu   sync.Mutex `yaml:"-"`
	path string     `yaml:"-"`
}

// ---------------------------------------------------------------------------
// Loading and saving
// ---------------------------------------------------------------------------

// Load reads a lock file from the given directory.
// Returns an empty lock file if the file doesn't exist.
func Load(dir string) (*LockFile, error) {
	path := filepath.Join(dir, LockFileName)
	lf := &LockFile{
		Version: Version,
		Results: make(map[string]*Entry),
		path:    path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lf, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, lf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	lf.path = path

	if lf.Results == nil {
		lf.Results = make(map[string]*Entry)
	}
	return lf, nil
}

// Save writes the lock file to disk.
func (lf *LockFile) Save() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	if lf.path == "" {
		return fmt.Errorf("lock file path not set")
	}

	data, err := yaml.Marshal(lf)
	if err != nil {
		return fmt.Errorf("marshaling lock file: %w", err)
	}

	tmp := lf.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, lf.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", lf.path, err)
	}
	return nil
}

// Path returns the lock file path.
func (lf *LockFile) Path() string {
	return lf.path
}

// ---------------------------------------------------------------------------
// Keys
// ---------------------------------------------------------------------------

// Hash computes the MD5 hex digest of a byte slice.
func Hash(b []byte) string {
	return fmt.Sprintf("%x", md5.Sum(b))
}

// HashFile computes the MD5 hex digest of a file's content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// Key builds the cache key of a request: "md5|TARGET|format".
func Key(sum, target, format string) string {
	return sum + "|" + strings.ToUpper(target) + "|" + strings.ToLower(format)
}

// ---------------------------------------------------------------------------
// Cache operations
// ---------------------------------------------------------------------------

// Lookup returns the entry for key when its output still exists in the
// directory of the lock file.
func (lf *LockFile) Lookup(key string) (*Entry, bool) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	e, ok := lf.Results[key]
	if !ok || e.Output == "" {
		return nil, false
	}
	if _, err := os.Stat(lf.outputPath(e)); err != nil {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// OutputPath returns the absolute location of an entry's output.
func (lf *LockFile) OutputPath(e *Entry) string {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.outputPath(e)
}

func (lf *LockFile) outputPath(e *Entry) string {
	return filepath.Join(filepath.Dir(lf.path), filepath.Base(e.Output))
}

// Record stores the result of a finished translation.
func (lf *LockFile) Record(key string, e Entry) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	e.Output = filepath.Base(e.Output)
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	lf.Results[key] = &e
}

// Forget drops every entry whose source or output has the given base name
// and returns how many were removed.
func (lf *LockFile) Forget(name string) int {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	name = filepath.Base(name)
	n := 0
	for k, e := range lf.Results {
		if e.Source == name || e.Output == name {
			delete(lf.Results, k)
			n++
		}
	}
	return n
}

// Clean removes entries whose outputs no longer exist. This prevents
// stale entries from accumulating after the download area is swept.
func (lf *LockFile) Clean() int {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	n := 0
	for k, e := range lf.Results {
		if _, err := os.Stat(lf.outputPath(e)); err != nil {
			delete(lf.Results, k)
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Stats returns the number of cached results and their total billed
// characters.
func (lf *LockFile) Stats() (results, billed int) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	results = len(lf.Results)
	for _, e := range lf.Results {
		billed += e.Billed
	}
	return
}

// Outputs returns the sorted output names of all cached results.
func (lf *LockFile) Outputs() []string {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	outs := make([]string, 0, len(lf.Results))
	for _, e := range lf.Results {
		outs = append(outs, e.Output)
	}
	sort.Strings(outs)
	return outs
}

// Summary returns a human-readable summary string.
func (lf *LockFile) Summary() string {
	results, billed := lf.Stats()
	if results == 0 {
		return "empty"
	}
	return fmt.Sprintf("%d results, %d billed characters (%s)", results, billed, strings.Join(lf.Outputs(), ", "))
}
