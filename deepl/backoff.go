package deepl

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// backoffState is a pause shared by every caller of one Client. A 429/503
// seen by one batch holds back all requests until the delay has elapsed.
type backoffState struct {
	mu       sync.Mutex
	paused   int32 // atomic: 1 = paused
	pauseEnd time.Time
}

func (b *backoffState) isPaused() bool {
	return atomic.LoadInt32(&b.paused) == 1
}

// pause extends the shared pause to at least now+d.
func (b *backoffState) pause(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if end := time.Now().Add(d); end.After(b.pauseEnd) {
		b.pauseEnd = end
	}
	atomic.StoreInt32(&b.paused, 1)
}

func (b *backoffState) unpause() {
	atomic.StoreInt32(&b.paused, 0)
}

// waitIfPaused blocks until the shared pause is over.
func (b *backoffState) waitIfPaused(ctx context.Context) error {
	for b.isPaused() {
		b.mu.Lock()
		remaining := time.Until(b.pauseEnd)
		b.mu.Unlock()
		if remaining <= 0 {
			b.unpause()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(remaining, 100*time.Millisecond)):
		}
	}
	return nil
}

// backoffDelay returns base * 2^attempt (attempt counts from zero).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base << attempt
}
