// Package logging configures logrus for doctrans and keeps credentials out
// of log output.
package logging

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

const redacted = "[REDACTED]"

var (
	authKeyParam  = regexp.MustCompile(`(?i)(auth_key=)[^&\s"]+`)
	authKeyHeader = regexp.MustCompile(`(?i)(DeepL-Auth-Key\s+)[^\s"]+`)
)

// RedactHook rewrites every log entry so that registered secrets, auth_key
// query parameters and DeepL-Auth-Key header values never reach the
// output.
type RedactHook struct {
	mu      sync.Mutex
	secrets atomic.Pointer[[]string]
}

// Levels returns every level.
func (h *RedactHook) Levels() []log.Level {
	return log.AllLevels
}

// Fire redacts the message and all string fields of entry.
func (h *RedactHook) Fire(entry *log.Entry) error {
	entry.Message = h.Redact(entry.Message)
	for k, v := range entry.Data {
		switch val := v.(type) {
		case string:
			entry.Data[k] = h.Redact(val)
		case error:
			entry.Data[k] = h.Redact(val.Error())
		case fmt.Stringer:
			entry.Data[k] = h.Redact(val.String())
		}
	}
	return nil
}

// Redact applies every rule to s.
func (h *RedactHook) Redact(s string) string {
	if secrets := h.secrets.Load(); secrets != nil {
		for _, secret := range *secrets {
			s = strings.ReplaceAll(s, secret, redacted)
		}
	}
	s = authKeyParam.ReplaceAllString(s, "${1}"+redacted)
	return authKeyHeader.ReplaceAllString(s, "${1}"+redacted)
}

// AddSecret registers a literal value to redact. Values shorter than four
// characters are ignored.
func (h *RedactHook) AddSecret(secret string) {
	secret = strings.TrimSpace(secret)
	if len(secret) < 4 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	var next []string
	if cur := h.secrets.Load(); cur != nil {
		for _, s := range *cur {
			if s == secret {
				return
			}
		}
		next = append(next, *cur...)
	}
	next = append(next, secret)
	h.secrets.Store(&next)
}

var (
	globalHook      RedactHook
	addedGlobalHook bool
	setupMu         sync.Mutex
)

// RegisterSecret adds a secret to the global redaction hook.
func RegisterSecret(secret string) {
	globalHook.AddSecret(secret)
}

// Setup configures the standard logger. Level is a logrus level name
// (default info) and format is "text" or "json". A nil out leaves the
// current output in place.
func Setup(level, format string, out io.Writer) error {
	setupMu.Lock()
	defer setupMu.Unlock()

	lvl := log.InfoLevel
	if level != "" {
		parsed, err := log.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", format)
	}

	if out != nil {
		log.SetOutput(out)
	}

	// Setup may run more than once in tests; install the hook only once.
	if !addedGlobalHook {
		log.AddHook(&globalHook)
		addedGlobalHook = true
	}
	return nil
}
