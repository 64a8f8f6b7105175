// Package estimate extracts plain text from source documents and counts
// their characters for pre-flight cost display and history backfill.
//
// Estimation is a pure read: the same unmodified file always yields the
// same count. Temporary files created by the PDF fallbacks are removed
// before returning.
package estimate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/minios-linux/doctrans/docformat"
	"github.com/minios-linux/doctrans/ooxml"
)

// Detail values reported alongside a count or inside an ExtractionError.
const (
	DetailPDFText      = "pdf_text"
	DetailPDFDecrypted = "pdf_decrypted"
	DetailPDFOCR       = "pdf_ocr"
	DetailPDFFailed    = "pdf_failed"
	DetailContainer    = "container"
	DetailEmpty        = "empty"
	DetailCorrupt      = "corrupt_container"
	DetailUnreadable   = "unreadable"
	DetailUnsupported  = "unsupported"
)

// ExtractionError reports that a document yielded nothing usable. It is
// distinct from translation failures: the document itself is the problem.
type ExtractionError struct {
	Path   string
	Format docformat.Format
	Detail string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extracting %s (%s): %s: %v", e.Path, e.Format, e.Detail, e.Err)
	}
	return fmt.Sprintf("extracting %s (%s): %s", e.Path, e.Format, e.Detail)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// IsPDFFailed reports whether err is the scanned or image-only PDF case.
func IsPDFFailed(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee) && ee.Detail == DetailPDFFailed
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options controls the extraction fallbacks.
type Options struct {
	// OCR enables the pdftoppm + tesseract fallback when both tools exist.
	OCR bool
	// OCRLanguages is passed to tesseract -l (default "jpn+eng").
	OCRLanguages string
	// MaxOCRPages skips OCR for longer documents (default 50).
	MaxOCRPages int
	// TempDir receives intermediate files (default os.TempDir()).
	TempDir string
	// IncludeNotes counts PPTX speaker notes.
	IncludeNotes bool
}

func (o *Options) effectiveOCRLanguages() string {
	if o.OCRLanguages != "" {
		return o.OCRLanguages
	}
	return "jpn+eng"
}

func (o *Options) effectiveMaxOCRPages() int {
	if o.MaxOCRPages > 0 {
		return o.MaxOCRPages
	}
	return 50
}

func (o *Options) effectiveTempDir() string {
	if o.TempDir != "" {
		return o.TempDir
	}
	return os.TempDir()
}

// Estimator counts characters per document format.
type Estimator struct {
	opts Options
	ocr  ocrRunner
}

// New returns an Estimator using the system OCR tools.
func New(opts Options) *Estimator {
	return &Estimator{opts: opts, ocr: execOCR{}}
}

// ---------------------------------------------------------------------------
// Estimation
// ---------------------------------------------------------------------------

// Estimate returns the character count of the document at path and a detail
// string describing how the text was obtained.
func (e *Estimator) Estimate(ctx context.Context, path, ext string) (int, string, error) {
	format, err := docformat.Parse(ext)
	if err != nil {
		return 0, DetailUnsupported, &ExtractionError{Path: path, Format: docformat.Format(ext), Detail: DetailUnsupported, Err: err}
	}

	text, detail, err := e.ExtractText(ctx, path, format)
	if err != nil {
		return 0, detail, err
	}

	var n int
	if format == docformat.TXT {
		n = utf8.RuneCountInString(text)
	} else {
		n = utf8.RuneCountInString(strings.TrimSpace(text))
	}
	if n == 0 && detail != DetailEmpty && format != docformat.PDF {
		detail = DetailEmpty
	}
	log.WithFields(log.Fields{"path": path, "format": format, "characters": n, "detail": detail}).Debug("Estimated document")
	return n, detail, nil
}

// ExtractText returns the plain text of a document.
func (e *Estimator) ExtractText(ctx context.Context, path string, format docformat.Format) (string, string, error) {
	switch format.Estimator() {
	case docformat.EstimatePlainText:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", DetailUnreadable, &ExtractionError{Path: path, Format: format, Detail: DetailUnreadable, Err: err}
		}
		text, charset := DecodeText(data)
		return text, charset, nil

	case docformat.EstimateContainer:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", DetailUnreadable, &ExtractionError{Path: path, Format: format, Detail: DetailUnreadable, Err: err}
		}
		zr, err := ooxml.OpenBytes(data)
		if err != nil {
			return "", DetailCorrupt, &ExtractionError{Path: path, Format: format, Detail: DetailCorrupt, Err: err}
		}
		text, err := ooxml.Extract(zr, format, ooxml.Options{IncludeNotes: e.opts.IncludeNotes})
		if err != nil {
			return "", DetailCorrupt, &ExtractionError{Path: path, Format: format, Detail: DetailCorrupt, Err: err}
		}
		if text == "" {
			return "", DetailEmpty, nil
		}
		return text, DetailContainer, nil

	case docformat.EstimatePDF:
		return e.extractPDF(ctx, path)

	default:
		return "", DetailUnsupported, &ExtractionError{
			Path:   path,
			Format: format,
			Detail: DetailUnsupported,
			Err:    &docformat.UnsupportedFormatError{Source: format, Reason: "no character estimator"},
		}
	}
}
