package deepl

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// TransportError is a network-level failure (connect, TLS, timeout) talking
// to the provider.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("deepl %s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProviderError is a 4xx/5xx response with a decoded error body.
type ProviderError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("deepl %s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
}

// Retryable reports whether the batch backoff policy applies.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusServiceUnavailable
}

// IsRetryable reports whether err is a 429 or 503 provider response.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable()
}

// IsEqualLanguage reports whether a provider message says the source and
// target languages are the same.
func IsEqualLanguage(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "source and target language") && (strings.Contains(m, "equal") || strings.Contains(m, "same"))
}

// parseErrorBody extracts the provider's error message, falling back to the
// raw body.
func parseErrorBody(status int, body []byte) string {
	var e struct {
		Message      string `json:"message"`
		Detail       string `json:"detail"`
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		msg := e.Message
		if msg == "" {
			msg = e.ErrorMessage
		}
		if e.Detail != "" {
			if msg != "" {
				msg += ": "
			}
			msg += e.Detail
		}
		if msg != "" {
			return msg
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return truncate(text, 500)
	}
	return http.StatusText(status)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
