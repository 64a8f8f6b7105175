// Package progress carries job progress from the orchestrator to whoever
// is watching: a CLI progress bar, a per-session JSON file polled by the
// browser, or an in-memory snapshot served by the API.
package progress

import (
	"sync"
)

// Update is one progress observation.
type Update struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// Reporter receives progress updates. Implementations must not block the
// caller for long; the orchestrator reports from its worker goroutine.
type Reporter interface {
	Report(percent int, message string)
}

// Func adapts a plain function to Reporter.
type Func func(percent int, message string)

// Report calls f.
func (f Func) Report(percent int, message string) { f(percent, message) }

// Nop discards every update.
var Nop Reporter = Func(func(int, string) {})

// Multi fans an update out to several reporters in order.
type Multi []Reporter

// Report forwards to every non-nil reporter.
func (m Multi) Report(percent int, message string) {
	for _, r := range m {
		if r != nil {
			r.Report(percent, message)
		}
	}
}

// Monotonic clamps percentages to [0, 100] and never lets them go down.
type Monotonic struct {
	mu   sync.Mutex
	last Update
	next Reporter
}

// NewMonotonic wraps next. A nil next is allowed; Current still works.
func NewMonotonic(next Reporter) *Monotonic {
	return &Monotonic{next: next}
}

// Report forwards the clamped update.
func (m *Monotonic) Report(percent int, message string) {
	m.mu.Lock()
	if percent > 100 {
		percent = 100
	}
	if percent < m.last.Percent {
		percent = m.last.Percent
	}
	if percent < 0 {
		percent = 0
	}
	if message == "" {
		message = m.last.Message
	}
	m.last = Update{Percent: percent, Message: message}
	m.mu.Unlock()

	if m.next != nil {
		m.next.Report(percent, message)
	}
}

// Current returns the last forwarded update.
func (m *Monotonic) Current() Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
