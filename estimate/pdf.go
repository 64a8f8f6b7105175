package estimate

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	log "github.com/sirupsen/logrus"

	"github.com/minios-linux/doctrans/docformat"
)

// extractPDF tries the text layer, then a decryption pass, then OCR.
func (e *Estimator) extractPDF(ctx context.Context, path string) (string, string, error) {
	logger := log.WithField("path", path)

	text, err := pdfTextLayer(path)
	if err == nil && strings.TrimSpace(text) != "" {
		return text, DetailPDFText, nil
	}
	if err != nil {
		logger.WithError(err).Debug("PDF text layer unavailable")
	}

	if text, ok := e.decryptAndExtract(path); ok {
		return text, DetailPDFDecrypted, nil
	}

	if err := ctx.Err(); err != nil {
		return "", DetailPDFFailed, err
	}

	if e.opts.OCR && e.ocr != nil && e.ocr.Available() {
		if pages, err := api.PageCountFile(path); err == nil && pages > e.opts.effectiveMaxOCRPages() {
			logger.Warnf("Skipping OCR: %d pages exceeds limit %d", pages, e.opts.effectiveMaxOCRPages())
		} else {
			text, err := e.runOCR(ctx, path)
			if err != nil {
				logger.WithError(err).Warn("OCR pass failed")
			} else if strings.TrimSpace(text) != "" {
				return text, DetailPDFOCR, nil
			}
		}
	}

	return "", DetailPDFFailed, &ExtractionError{
		Path:   path,
		Format: docformat.PDF,
		Detail: DetailPDFFailed,
		Err:    fmt.Errorf("no extractable text (scanned or image-only PDF)"),
	}
}

// pdfTextLayer reads the native text layer. The reader panics on some
// malformed inputs, so panics are turned into errors.
func pdfTextLayer(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("reading text layer: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	rd, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading text layer: %w", err)
	}
	data, err := io.ReadAll(rd)
	if err != nil {
		return "", fmt.Errorf("reading text layer: %w", err)
	}
	return string(data), nil
}

// decryptAndExtract writes a decrypted copy to the temp area (owner-password
// protected files open with an empty user password) and re-reads it.
func (e *Estimator) decryptAndExtract(path string) (string, bool) {
	tmp, err := os.CreateTemp(e.opts.effectiveTempDir(), "decrypt-*.pdf")
	if err != nil {
		log.WithError(err).Debug("Cannot create decrypt temp file")
		return "", false
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.DecryptFile(path, tmpPath, conf); err != nil {
		log.WithError(err).WithField("path", path).Debug("PDF decrypt pass failed")
		return "", false
	}

	text, err := pdfTextLayer(tmpPath)
	if err != nil || strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

func (e *Estimator) runOCR(ctx context.Context, path string) (string, error) {
	workDir, err := os.MkdirTemp(e.opts.effectiveTempDir(), "ocr-*")
	if err != nil {
		return "", fmt.Errorf("creating OCR work dir: %w", err)
	}
	defer os.RemoveAll(workDir)
	return e.ocr.Run(ctx, path, workDir, e.opts.effectiveOCRLanguages())
}

// ---------------------------------------------------------------------------
// OCR tooling
// ---------------------------------------------------------------------------

type ocrRunner interface {
	Available() bool
	Run(ctx context.Context, pdfPath, workDir, languages string) (string, error)
}

// execOCR rasterizes pages with pdftoppm and reads them with tesseract.
type execOCR struct{}

func (execOCR) Available() bool {
	for _, tool := range []string{"pdftoppm", "tesseract"} {
		if _, err := exec.LookPath(tool); err != nil {
			return false
		}
	}
	return true
}

func (execOCR) Run(ctx context.Context, pdfPath, workDir, languages string) (string, error) {
	prefix := filepath.Join(workDir, "page")
	if out, err := exec.CommandContext(ctx, "pdftoppm", "-r", "300", "-png", pdfPath, prefix).CombinedOutput(); err != nil {
		return "", fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(string(out)))
	}

	pages, err := filepath.Glob(prefix + "*.png")
	if err != nil {
		return "", err
	}
	sort.Strings(pages)

	var b strings.Builder
	for _, page := range pages {
		out, err := exec.CommandContext(ctx, "tesseract", page, "stdout", "-l", languages).Output()
		if err != nil {
			return "", fmt.Errorf("tesseract %s: %w", filepath.Base(page), err)
		}
		b.Write(out)
		b.WriteByte('\n')
	}
	return b.String(), nil
}
