// Package history keeps the CSV ledger of translated documents and their
// billed characters. Every write holds a process mutex plus an exclusive
// advisory lock on the file, so several doctrans processes can share one
// ledger.
package history

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/minios-linux/doctrans/langmeta"
)

// Kind distinguishes provider-billed rows from locally estimated ones.
type Kind string

const (
	KindBilled Kind = "billed"
	KindRaw    Kind = "raw"
)

var header = []string{"time", "name", "kind", "characters", "cost"}

// Entry is one ledger row.
type Entry struct {
	Time       time.Time
	Name       string
	Kind       Kind
	Characters int
	Cost       float64
}

// Summary merges the rows of one logical document. Raw is the smallest raw
// count observed and Billed the largest billed count; Cost belongs to the
// billed row that won.
type Summary struct {
	Name      string
	Raw       int
	HasRaw    bool
	Billed    int
	HasBilled bool
	Cost      float64
	Last      time.Time
}

// Ledger is a CSV history file.
type Ledger struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// New returns a ledger stored at path. The file is created on first write.
func New(path string) *Ledger {
	return &Ledger{path: path, now: time.Now}
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Record appends a billed row.
func (l *Ledger) Record(name string, billed int, cost float64) error {
	return l.append(Entry{Name: name, Kind: KindBilled, Characters: billed, Cost: cost})
}

// RecordRaw appends a locally estimated character count.
func (l *Ledger) RecordRaw(name string, characters int) error {
	return l.append(Entry{Name: name, Kind: KindRaw, Characters: characters})
}

func (l *Ledger) append(e Entry) error {
	if e.Time.IsZero() {
		e.Time = l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return errors.Wrap(err, "creating history directory")
	}
	fp, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrap(err, "opening history ledger")
	}
	defer fp.Close()

	unlock, err := lockFile(fp, true)
	if err != nil {
		return errors.Wrap(err, "locking history ledger")
	}
	defer unlock()

	st, err := fp.Stat()
	if err != nil {
		return errors.Wrap(err, "inspecting history ledger")
	}
	w := csv.NewWriter(fp)
	if st.Size() == 0 {
		if err := w.Write(header); err != nil {
			return errors.Wrap(err, "writing history header")
		}
	}
	if err := w.Write(e.record()); err != nil {
		return errors.Wrap(err, "writing history row")
	}
	w.Flush()
	return errors.Wrap(w.Error(), "writing history row")
}

// Entries returns every row in file order. A missing ledger is empty.
func (l *Ledger) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fp, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "opening history ledger")
	}
	defer fp.Close()

	unlock, err := lockFile(fp, false)
	if err != nil {
		return nil, errors.Wrap(err, "locking history ledger")
	}
	defer unlock()

	return readEntries(fp)
}

// Remove deletes every row whose logical name matches name and returns the
// number of rows removed.
func (l *Ledger) Remove(name string) (int, error) {
	target := langmeta.LogicalName(name)

	l.mu.Lock()
	defer l.mu.Unlock()

	fp, err := os.OpenFile(l.path, os.O_RDWR, 0644)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "opening history ledger")
	}
	defer fp.Close()

	unlock, err := lockFile(fp, true)
	if err != nil {
		return 0, errors.Wrap(err, "locking history ledger")
	}
	defer unlock()

	entries, err := readEntries(fp)
	if err != nil {
		return 0, err
	}
	kept := entries[:0]
	for _, e := range entries {
		if langmeta.LogicalName(e.Name) != target {
			kept = append(kept, e)
		}
	}
	removed := len(entries) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	if err := fp.Truncate(0); err != nil {
		return 0, errors.Wrap(err, "truncating history ledger")
	}
	if _, err := fp.Seek(0, io.SeekStart); err != nil {
		return 0, errors.Wrap(err, "rewinding history ledger")
	}
	w := csv.NewWriter(fp)
	if err := w.Write(header); err != nil {
		return 0, errors.Wrap(err, "rewriting history ledger")
	}
	for _, e := range kept {
		if err := w.Write(e.record()); err != nil {
			return 0, errors.Wrap(err, "rewriting history ledger")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, errors.Wrap(err, "rewriting history ledger")
	}
	log.WithFields(log.Fields{"name": target, "rows": removed}).Debug("Removed history rows")
	return removed, nil
}

// Summaries merges rows by logical document name, newest first.
func (l *Ledger) Summaries() ([]Summary, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}
	return Summarize(entries), nil
}

// Summarize merges entries by logical document name, newest first.
func Summarize(entries []Entry) []Summary {
	byName := make(map[string]*Summary)
	for _, e := range entries {
		key := langmeta.LogicalName(e.Name)
		s, ok := byName[key]
		if !ok {
			s = &Summary{Name: key}
			byName[key] = s
		}
		switch e.Kind {
		case KindRaw:
			if !s.HasRaw || e.Characters < s.Raw {
				s.Raw = e.Characters
			}
			s.HasRaw = true
		case KindBilled:
			if !s.HasBilled || e.Characters > s.Billed {
				s.Billed = e.Characters
				s.Cost = e.Cost
			}
			s.HasBilled = true
		}
		if e.Time.After(s.Last) {
			s.Last = e.Time
		}
	}

	out := make([]Summary, 0, len(byName))
	for _, s := range byName {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Last.Equal(out[j].Last) {
			return out[i].Last.After(out[j].Last)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (e Entry) record() []string {
	return []string{
		e.Time.UTC().Format(time.RFC3339),
		e.Name,
		string(e.Kind),
		strconv.Itoa(e.Characters),
		strconv.FormatFloat(e.Cost, 'f', 4, 64),
	}
}

func readEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "parsing history ledger")
	}

	var entries []Entry
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == header[0] {
			continue
		}
		if len(row) < len(header) {
			log.Warnf("Skipping malformed history row %d", i+1)
			continue
		}
		ts, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			log.Warnf("Skipping history row %d with bad time %q", i+1, row[0])
			continue
		}
		chars, err := strconv.Atoi(row[3])
		if err != nil {
			log.Warnf("Skipping history row %d with bad character count %q", i+1, row[3])
			continue
		}
		cost, _ := strconv.ParseFloat(row[4], 64)
		entries = append(entries, Entry{
			Time:       ts,
			Name:       row[1],
			Kind:       Kind(row[2]),
			Characters: chars,
			Cost:       cost,
		})
	}
	return entries, nil
}
