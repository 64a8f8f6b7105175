// Package materialize turns a provider result into the file the user asked
// for: the returned document verbatim, plain text pulled out of a returned
// container, or a PDF/DOCX generated from translated text.
package materialize

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/minios-linux/doctrans/docformat"
	"github.com/minios-linux/doctrans/langmeta"
	"github.com/minios-linux/doctrans/ooxml"
)

// MaterializationError means the translation succeeded but the requested
// output could not be produced. DocumentID identifies the paid-for result
// at the provider so it can be recovered by hand.
type MaterializationError struct {
	DocumentID string
	Output     string
	Err        error
}

func (e *MaterializationError) Error() string {
	if e.DocumentID != "" {
		return fmt.Sprintf("materializing %s (document %s): %v", e.Output, e.DocumentID, e.Err)
	}
	return fmt.Sprintf("materializing %s: %v", e.Output, e.Err)
}

func (e *MaterializationError) Unwrap() error { return e.Err }

// Options configures a Materializer.
type Options struct {
	// OutputDir receives materialized files.
	OutputDir string
	// FontPath is a TTF font used for generated PDFs. When empty, a few
	// common CJK font locations are tried before falling back to Courier.
	FontPath string
	// IncludeNotes adds pptx speaker notes when extracting text.
	IncludeNotes bool
}

// Request describes one result to materialize.
type Request struct {
	// Raw holds the bytes returned by the document endpoint.
	Raw []byte
	// Text holds the translation returned by the text endpoint.
	Text string
	// Source is the uploaded format.
	Source docformat.Format
	// Returned is the format of Raw. Empty for text endpoint results.
	Returned docformat.Format
	// Requested is the output format the user chose.
	Requested docformat.Format
	// BaseName is the uploaded file name; its extension and any language
	// suffix are dropped when naming the output.
	BaseName string
	// Target is the resolved target language.
	Target string
	// DocumentID is carried into errors for manual recovery.
	DocumentID string
}

// Materializer writes translated results into the output directory.
type Materializer struct {
	opts Options
}

// New creates a Materializer.
func New(opts Options) *Materializer {
	return &Materializer{opts: opts}
}

// OutputName returns "{base}_{suffix}.{ext}" where base has its extension
// and any existing _jp/_en suffix removed.
func OutputName(baseName, target string, ext docformat.Format) string {
	return langmeta.LogicalName(baseName) + "_" + langmeta.Suffix(target) + "." + string(ext)
}

// Materialize produces the requested output and returns its path.
func (m *Materializer) Materialize(ctx context.Context, req Request) (string, error) {
	name := OutputName(req.BaseName, req.Target, req.Requested)
	fail := func(err error) (string, error) {
		return "", &MaterializationError{DocumentID: req.DocumentID, Output: name, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := m.render(req)
	if err != nil {
		return fail(err)
	}

	path := filepath.Join(m.opts.OutputDir, name)
	if err := writeFileAtomic(path, data); err != nil {
		return fail(err)
	}

	log.WithFields(log.Fields{
		"output":   name,
		"format":   req.Requested,
		"returned": req.Returned,
		"bytes":    len(data),
	}).Debug("Materialized translation")
	return path, nil
}

func (m *Materializer) render(req Request) ([]byte, error) {
	// Text endpoint results.
	if req.Returned == "" {
		switch req.Requested {
		case docformat.TXT:
			return []byte(req.Text), nil
		case docformat.PDF:
			return m.generatePDF(req.Text, OutputName(req.BaseName, req.Target, docformat.PDF))
		case docformat.DOCX:
			var buf bytes.Buffer
			if err := ooxml.WriteDocx(&buf, req.Text, ooxml.DocxOptions{EastAsiaFont: eastAsiaFont(req.Target)}); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		}
		return nil, fmt.Errorf("cannot generate %s from text", req.Requested.Upper())
	}

	if len(req.Raw) == 0 {
		return nil, fmt.Errorf("provider returned an empty %s document", req.Returned.Upper())
	}
	if req.Requested == req.Returned {
		return req.Raw, nil
	}
	if req.Requested == docformat.TXT && req.Returned.IsContainer() {
		return m.extractText(req)
	}
	return nil, fmt.Errorf("cannot convert %s to %s", req.Returned.Upper(), req.Requested.Upper())
}

// extractText pulls the primary text part out of a returned container.
func (m *Materializer) extractText(req Request) ([]byte, error) {
	zr, err := ooxml.OpenBytes(req.Raw)
	if err != nil {
		return nil, fmt.Errorf("reading returned %s: %w", req.Returned.Upper(), err)
	}
	text, err := ooxml.Extract(zr, req.Returned, ooxml.Options{IncludeNotes: m.opts.IncludeNotes})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("no text found in returned %s", req.Returned.Upper())
	}
	return []byte(text + "\n"), nil
}

func eastAsiaFont(target string) string {
	if langmeta.Primary(target) == "ja" {
		return "MS Mincho"
	}
	return ""
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".materialize-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
