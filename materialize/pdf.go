package materialize

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-pdf/fpdf"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/charmap"
)

// ErrNoFont reports text that the built-in Courier font cannot show and no
// TrueType font to show it with.
var ErrNoFont = errors.New("no TrueType font covers the translated text; set pdf.font")

// fontCandidates are TrueType fonts with Japanese coverage shipped by
// common distributions.
var fontCandidates = []string{
	"/usr/share/fonts/truetype/fonts-japanese-gothic.ttf",
	"/usr/share/fonts/opentype/ipafont-gothic/ipag.ttf",
	"/usr/share/fonts/truetype/takao-gothic/TakaoGothic.ttf",
	"/usr/share/fonts/truetype/vlgothic/VL-Gothic-Regular.ttf",
	"/usr/share/fonts/google-droid-sans-fonts/DroidSansJapanese.ttf",
}

// resolveFont returns the configured font, or the first candidate found.
func (m *Materializer) resolveFont() string {
	if m.opts.FontPath != "" {
		return m.opts.FontPath
	}
	for _, p := range fontCandidates {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}

// generatePDF lays text out as a single flowing body on A4 pages. An
// auto-detected font that fpdf cannot load is dropped in favor of Courier;
// a configured one is an error.
func (m *Materializer) generatePDF(text, title string) ([]byte, error) {
	font := m.resolveFont()
	data, err := renderPDF(text, title, font)
	if err != nil && font != "" && m.opts.FontPath == "" {
		log.WithField("font", font).Warnf("Cannot use font for PDF output: %v", err)
		return renderPDF(text, title, "")
	}
	return data, err
}

func renderPDF(text, title, font string) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("fpdf: %v", r)
		}
	}()

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(18, 18, 18)
	pdf.SetAutoPageBreak(true, 18)
	pdf.SetTitle(title, true)
	pdf.SetCreator("doctrans", true)

	body := strings.ReplaceAll(text, "\r\n", "\n")
	if font != "" {
		pdf.AddUTF8Font("body", "", font)
		pdf.SetFont("body", "", 10.5)
	} else {
		if _, err := charmap.Windows1252.NewEncoder().String(body); err != nil {
			return nil, ErrNoFont
		}
		log.Warn("No CJK font available for PDF output, falling back to Courier")
		pdf.SetFont("Courier", "", 10)
		tr := pdf.UnicodeTranslatorFromDescriptor("")
		body = tr(body)
	}
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("preparing PDF font: %w", err)
	}

	pdf.AddPage()
	pdf.MultiCell(0, 5.5, body, "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("rendering PDF: %w", err)
	}
	return buf.Bytes(), nil
}
