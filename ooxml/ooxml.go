// Package ooxml reads and writes the zipped XML packages used by DOCX, XLSX
// and PPTX documents. Only the text content is of interest: parts are
// located by name, markup is stripped and entities are decoded.
package ooxml

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/minios-linux/doctrans/docformat"
)

// Well-known part names.
const (
	DocumentPart      = "word/document.xml"
	SharedStringsPart = "xl/sharedStrings.xml"
	worksheetDir      = "xl/worksheets"
	slideDir          = "ppt/slides"
	notesDir          = "ppt/notesSlides"
)

// Options tunes text extraction.
type Options struct {
	// IncludeNotes adds speaker notes after the slides of a PPTX.
	IncludeNotes bool
}

// OpenBytes opens an in-memory package.
func OpenBytes(b []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("opening package: %w", err)
	}
	return zr, nil
}

// LooksLikePackage reports whether b starts with a zip local file header.
func LooksLikePackage(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], []byte("PK\x03\x04"))
}

// ReadPart returns the raw bytes of a named part.
func ReadPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("part %s not found", name)
}

// Extract returns the trimmed plain text of a package. Missing or
// unreadable parts contribute nothing.
func Extract(zr *zip.Reader, format docformat.Format, opts Options) (string, error) {
	var parts []string
	switch format {
	case docformat.DOCX:
		parts = []string{partText(zr, DocumentPart, nil)}
	case docformat.XLSX:
		parts = append(parts, partText(zr, SharedStringsPart, nil))
		for _, name := range numberedParts(zr, worksheetDir, "sheet") {
			parts = append(parts, partText(zr, name, inlineStringsOnly))
		}
	case docformat.PPTX:
		for _, name := range numberedParts(zr, slideDir, "slide") {
			parts = append(parts, partText(zr, name, nil))
		}
		if opts.IncludeNotes {
			for _, name := range numberedParts(zr, notesDir, "notesSlide") {
				parts = append(parts, partText(zr, name, nil))
			}
		}
	default:
		return "", fmt.Errorf("%s is not an OOXML package", format)
	}

	var nonEmpty []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.TrimSpace(strings.Join(nonEmpty, "\n")), nil
}

func partText(zr *zip.Reader, name string, filter elementFilter) string {
	data, err := ReadPart(zr, name)
	if err != nil {
		return ""
	}
	return blankLines.ReplaceAllString(stripMarkup(data, filter), "\n")
}

var partNumber = regexp.MustCompile(`(\d+)\.xml$`)

// numberedParts lists dir/<prefix>N.xml parts in numeric order.
func numberedParts(zr *zip.Reader, dir, prefix string) []string {
	var names []string
	for _, f := range zr.File {
		if path.Dir(f.Name) != dir {
			continue
		}
		base := path.Base(f.Name)
		if strings.HasPrefix(base, prefix) && strings.HasSuffix(base, ".xml") {
			names = append(names, f.Name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return partIndex(names[i]) < partIndex(names[j])
	})
	return names
}

func partIndex(name string) int {
	m := partNumber.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// ---------------------------------------------------------------------------
// Markup stripping
// ---------------------------------------------------------------------------

// elementFilter decides whether character data is kept given the stack of
// enclosing element local names.
type elementFilter func(stack []string) bool

func within(stack []string, name string) bool {
	for _, s := range stack {
		if s == name {
			return true
		}
	}
	return false
}

// textRuns keeps character data of text elements (w:t, a:t, t). Phonetic
// guides (xlsx rPh, docx ruby w:rt) repeat the base text and are skipped.
func textRuns(stack []string) bool {
	return within(stack, "t") && !phonetic(stack)
}

// inlineStringsOnly keeps the inline strings of a worksheet; cell values
// and formulas are not text.
func inlineStringsOnly(stack []string) bool {
	return within(stack, "is") && textRuns(stack)
}

func phonetic(stack []string) bool {
	return within(stack, "rPh") || within(stack, "rt")
}

var (
	blockEnds  = map[string]bool{"p": true, "si": true, "is": true, "tr": true}
	lineBreaks = map[string]bool{"br": true, "cr": true}
	tagPattern = regexp.MustCompile(`<[^>]*>`)
	blankLines = regexp.MustCompile(`\n{2,}`)
)

// StripMarkup removes XML markup from an OOXML part and decodes entities.
// Paragraph ends become newlines and tabs are preserved.
func StripMarkup(data []byte) string {
	return blankLines.ReplaceAllString(stripMarkup(data, nil), "\n")
}

func stripMarkup(data []byte, filter elementFilter) string {
	if filter == nil {
		filter = textRuns
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false

	var b strings.Builder
	var stack []string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed part: fall back to a plain tag strip.
			return html.UnescapeString(tagPattern.ReplaceAllString(string(data), ""))
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			switch {
			case t.Name.Local == "tab" && len(stack) > 1 && stack[len(stack)-2] == "r":
				b.WriteByte('\t')
			case lineBreaks[t.Name.Local]:
				b.WriteByte('\n')
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if blockEnds[t.Name.Local] {
				b.WriteByte('\n')
			}
		case xml.CharData:
			if filter(stack) {
				b.Write(t)
			}
		}
	}
	return b.String()
}
