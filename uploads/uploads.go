// Package uploads manages the upload area: collision-free stored names,
// size-limited saves, and purging a document together with its
// translations and history rows.
package uploads

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/minios-linux/doctrans/history"
	"github.com/minios-linux/doctrans/langmeta"
)

// DefaultMaxBytes is the upload size limit when none is configured.
const DefaultMaxBytes = 20 << 20

// TooLargeError is returned by Save when the upload exceeds the limit.
type TooLargeError struct {
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("upload exceeds %d bytes", e.Limit)
}

// CleanName reduces a client-supplied file name to a safe base name.
func CleanName(original string) (string, error) {
	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(original), "\\", "/"))
	if name == "." || name == "/" || name == "" || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid file name %q", original)
	}
	return name, nil
}

// StoredName returns the first free name in dir for original:
// YYYYMMDD_base.ext, then YYYYMMDD_1_base.ext, YYYYMMDD_2_base.ext, ...
func StoredName(dir, original string, now time.Time) (string, error) {
	name, err := CleanName(original)
	if err != nil {
		return "", err
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	date := now.Format("20060102")

	candidate := date + "_" + base + ext
	for n := 1; exists(filepath.Join(dir, candidate)); n++ {
		candidate = fmt.Sprintf("%s_%d_%s%s", date, n, base, ext)
	}
	return candidate, nil
}

// Save copies r into dir under a fresh stored name and returns that name.
// At most maxBytes are accepted; a larger upload is removed and reported
// as *TooLargeError.
func Save(dir, original string, r io.Reader, maxBytes int64, now time.Time) (string, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating upload directory: %w", err)
	}

	var (
		stored string
		f      *os.File
	)
	for {
		name, err := StoredName(dir, original, now)
		if err != nil {
			return "", err
		}
		f, err = os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if os.IsExist(err) {
			// lost a race with a concurrent upload of the same name
			continue
		}
		if err != nil {
			return "", fmt.Errorf("creating upload: %w", err)
		}
		stored = name
		break
	}

	path := filepath.Join(dir, stored)
	n, err := io.Copy(f, io.LimitReader(r, maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("writing upload: %w", err)
	}
	if n > maxBytes {
		os.Remove(path)
		return "", &TooLargeError{Limit: maxBytes}
	}

	log.WithFields(log.Fields{"stored": stored, "bytes": n}).Info("Saved upload")
	return stored, nil
}

// Translations lists the files in downloads derived from storedName.
func Translations(downloads, storedName string) ([]string, error) {
	logical := langmeta.LogicalName(storedName)
	entries, err := os.ReadDir(downloads)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		base := strings.TrimSuffix(name, filepath.Ext(name))
		for _, s := range langmeta.KnownSuffixes {
			if strings.EqualFold(base, logical+"_"+s) {
				out = append(out, name)
				break
			}
		}
	}
	return out, nil
}

// PurgeResult reports what Purge removed.
type PurgeResult struct {
	Upload       bool
	Translations []string
	HistoryRows  int
}

// Purge removes an upload, every translation derived from it, and its
// history rows. Missing pieces are not an error.
func Purge(uploadsDir, downloadsDir string, ledger *history.Ledger, storedName string) (*PurgeResult, error) {
	name, err := CleanName(storedName)
	if err != nil {
		return nil, err
	}
	res := &PurgeResult{}

	switch err := os.Remove(filepath.Join(uploadsDir, name)); {
	case err == nil:
		res.Upload = true
	case !os.IsNotExist(err):
		return res, fmt.Errorf("removing upload: %w", err)
	}

	outputs, err := Translations(downloadsDir, name)
	if err != nil {
		return res, fmt.Errorf("listing translations: %w", err)
	}
	for _, out := range outputs {
		if err := os.Remove(filepath.Join(downloadsDir, out)); err != nil && !os.IsNotExist(err) {
			return res, fmt.Errorf("removing %s: %w", out, err)
		}
		res.Translations = append(res.Translations, out)
	}

	if ledger != nil {
		n, err := ledger.Remove(name)
		if err != nil {
			return res, err
		}
		res.HistoryRows = n
	}

	log.WithFields(log.Fields{
		"name":         name,
		"upload":       res.Upload,
		"translations": len(res.Translations),
		"history_rows": res.HistoryRows,
	}).Info("Purged document")
	return res, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
