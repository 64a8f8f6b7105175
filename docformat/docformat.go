// Package docformat centralizes the per-extension rules of the translation
// pipeline: which output formats a source may produce, which provider
// endpoint handles it, how its characters are estimated, and whether the
// minimum-billing floor applies.
package docformat

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format is a document format identified by its lowercase extension.
type Format string

const (
	TXT  Format = "txt"
	PDF  Format = "pdf"
	DOCX Format = "docx"
	DOC  Format = "doc"
	XLSX Format = "xlsx"
	PPTX Format = "pptx"
)

// Strategy selects the provider endpoint used for a source format.
type Strategy int

const (
	// TextEndpoint sends the decoded text in chunks (synchronous).
	TextEndpoint Strategy = iota
	// DocumentEndpoint uploads the file and polls for the result.
	DocumentEndpoint
)

func (s Strategy) String() string {
	if s == TextEndpoint {
		return "text"
	}
	return "document"
}

// Estimator selects how characters are counted for a source format.
type Estimator int

const (
	EstimateNone Estimator = iota
	EstimatePlainText
	EstimateContainer
	EstimatePDF
)

// ---------------------------------------------------------------------------
// Rule table
// ---------------------------------------------------------------------------

type rule struct {
	outputs   []Format
	binary    bool
	strategy  Strategy
	estimator Estimator
	mime      string
}

var rules = map[Format]rule{
	TXT: {
		outputs:   []Format{TXT, PDF, DOCX},
		strategy:  TextEndpoint,
		estimator: EstimatePlainText,
		mime:      "text/plain; charset=utf-8",
	},
	PDF: {
		outputs:   []Format{PDF, DOCX},
		binary:    true,
		strategy:  DocumentEndpoint,
		estimator: EstimatePDF,
		mime:      "application/pdf",
	},
	DOCX: {
		outputs:   []Format{PDF, DOCX},
		binary:    true,
		strategy:  DocumentEndpoint,
		estimator: EstimateContainer,
		mime:      "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	},
	DOC: {
		outputs:   []Format{PDF, DOCX},
		binary:    true,
		strategy:  DocumentEndpoint,
		estimator: EstimateNone,
		mime:      "application/msword",
	},
	XLSX: {
		outputs:   []Format{XLSX},
		binary:    true,
		strategy:  DocumentEndpoint,
		estimator: EstimateContainer,
		mime:      "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	},
	PPTX: {
		outputs:   []Format{PPTX},
		binary:    true,
		strategy:  DocumentEndpoint,
		estimator: EstimateContainer,
		mime:      "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	},
}

// All returns every known format in a stable order.
func All() []Format {
	return []Format{TXT, PDF, DOCX, DOC, XLSX, PPTX}
}

// Parse normalizes an extension ("PDF", ".pdf", "pdf") into a Format.
func Parse(ext string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), ".")))
	if _, ok := rules[f]; !ok {
		return "", &UnsupportedFormatError{Source: f, Reason: "unknown extension"}
	}
	return f, nil
}

// FromPath returns the Format of a file name by extension.
func FromPath(path string) (Format, error) {
	return Parse(filepath.Ext(path))
}

// Known reports whether f is a recognized format.
func (f Format) Known() bool {
	_, ok := rules[f]
	return ok
}

// LegalOutputs lists the output formats a source format may produce.
func (f Format) LegalOutputs() []Format {
	out := rules[f].outputs
	return append([]Format(nil), out...)
}

// IsBinary reports whether the minimum-billing floor applies.
func (f Format) IsBinary() bool {
	return rules[f].binary
}

// Strategy returns the provider endpoint used for the source format.
func (f Format) Strategy() Strategy {
	return rules[f].strategy
}

// Estimator returns how characters are counted for the source format.
func (f Format) Estimator() Estimator {
	return rules[f].estimator
}

// MIMEType returns the content type used when serving the format.
func (f Format) MIMEType() string {
	if m := rules[f].mime; m != "" {
		return m
	}
	return "application/octet-stream"
}

// IsContainer reports whether the format is a zipped XML package.
func (f Format) IsContainer() bool {
	return f == DOCX || f == XLSX || f == PPTX
}

func (f Format) String() string { return string(f) }

// Upper returns the format in the uppercase form used in user messages.
func (f Format) Upper() string { return strings.ToUpper(string(f)) }

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// CheckOutput verifies that src may be materialized as out.
func CheckOutput(src, out Format) error {
	r, ok := rules[src]
	if !ok {
		return &UnsupportedFormatError{Source: src, Output: out, Reason: "unknown source format"}
	}
	for _, legal := range r.outputs {
		if legal == out {
			return nil
		}
	}
	return &UnsupportedFormatError{Source: src, Output: out, Reason: "illegal output format"}
}

// UnsupportedFormatError reports a source extension or output combination
// outside the legal table. It is never retriable.
type UnsupportedFormatError struct {
	Source Format
	Output Format
	Reason string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Output == "" || !e.Source.Known() {
		return fmt.Sprintf("unsupported format %q: %s", string(e.Source), e.Reason)
	}
	return fmt.Sprintf("%s may only output %s", e.Source.Upper(), joinUpper(e.Source.LegalOutputs()))
}

func joinUpper(fs []Format) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = f.Upper()
	}
	if len(parts) <= 1 {
		return strings.Join(parts, "")
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " or " + parts[len(parts)-1]
}

// DescribeOutputs lists the legal outputs of f for messages, such as
// "TXT, PDF or DOCX".
func DescribeOutputs(f Format) string {
	return joinUpper(f.LegalOutputs())
}
