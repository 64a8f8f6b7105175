package deepl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
)

// Document states reported by checkStatus.
const (
	StatusQueued      = "queued"
	StatusTranslating = "translating"
	StatusDone        = "done"
	StatusError       = "error"
)

// DocumentRequest describes a document upload.
type DocumentRequest struct {
	Path         string
	Filename     string // defaults to the base name of Path
	TargetLang   string
	SourceLang   string
	GlossaryID   string
	OutputFormat string
}

// Handle identifies a submitted document. The key is a credential: it is
// required by every follow-up call and must not be logged.
type Handle struct {
	ID  string `json:"document_id"`
	Key string `json:"document_key"`
}

// String omits the key.
func (h Handle) String() string {
	return "document " + h.ID
}

// Status is the provider's view of a submitted document.
type Status struct {
	State            string `json:"status"`
	BilledCharacters int    `json:"billed_characters"`
	SecondsRemaining int    `json:"seconds_remaining"`
	Message          string `json:"message"`
	ErrorMessage     string `json:"error_message"`
}

// Terminal reports whether the document reached done or error.
func (s Status) Terminal() bool {
	return s.State == StatusDone || s.State == StatusError
}

// Reason returns the provider's error message.
func (s Status) Reason() string {
	if s.ErrorMessage != "" {
		return s.ErrorMessage
	}
	return s.Message
}

// SubmitDocument uploads a document for asynchronous translation.
func (c *Client) SubmitDocument(ctx context.Context, dr DocumentRequest) (Handle, error) {
	f, err := os.Open(dr.Path)
	if err != nil {
		return Handle{}, fmt.Errorf("opening %s: %w", dr.Path, err)
	}
	defer f.Close()

	filename := dr.Filename
	if filename == "" {
		filename = filepath.Base(dr.Path)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Handle{}, fmt.Errorf("building upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return Handle{}, fmt.Errorf("reading %s: %w", dr.Path, err)
	}
	fields := url.Values{}
	fields.Set("target_lang", dr.TargetLang)
	setIf(fields, "source_lang", dr.SourceLang)
	setIf(fields, "glossary_id", dr.GlossaryID)
	setIf(fields, "output_format", dr.OutputFormat)
	for k := range fields {
		if err := mw.WriteField(k, fields.Get(k)); err != nil {
			return Handle{}, fmt.Errorf("building upload: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return Handle{}, fmt.Errorf("building upload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/document", &buf)
	if err != nil {
		return Handle{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	body, err := c.do("submit", req)
	if err != nil {
		return Handle{}, err
	}

	var h Handle
	if err := json.Unmarshal(body, &h); err != nil {
		return Handle{}, &ProviderError{Op: "submit", StatusCode: 200, Message: fmt.Sprintf("decoding response: %v", err)}
	}
	if h.ID == "" || h.Key == "" {
		return Handle{}, &ProviderError{Op: "submit", StatusCode: 200, Message: "response missing document_id or document_key"}
	}
	return h, nil
}

// CheckStatus returns the translation state of a document.
func (c *Client) CheckStatus(ctx context.Context, h Handle) (Status, error) {
	form := url.Values{"document_key": {h.Key}}
	body, err := c.postForm(ctx, "status", "/document/"+url.PathEscape(h.ID), form)
	if err != nil {
		return Status{}, err
	}
	var st Status
	if err := json.Unmarshal(body, &st); err != nil {
		return Status{}, &ProviderError{Op: "status", StatusCode: 200, Message: fmt.Sprintf("decoding response: %v", err)}
	}
	if st.State == "" {
		st.State = StatusError
	}
	return st, nil
}

// FetchResult downloads the translated document bytes.
func (c *Client) FetchResult(ctx context.Context, h Handle) ([]byte, error) {
	form := url.Values{"document_key": {h.Key}}
	return c.postForm(ctx, "result", "/document/"+url.PathEscape(h.ID)+"/result", form)
}
