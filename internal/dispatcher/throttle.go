package dispatcher

import (
	"sync"
	"time"
)

// Window admits at most limit events per fixed window. The window opens with the
// first event after the previous one expired; excess events inside it are rejected,
// not deferred.
type Window struct {
	mu     sync.Mutex
	limit  int
	length time.Duration
	start  time.Time
	count  int
}

// NewWindow creates a Window. A limit <= 0 admits everything.
func NewWindow(limit int, length time.Duration) *Window {
	return &Window{limit: limit, length: length}
}

// Allow records an event at now and reports whether it fits in the current window.
func (w *Window) Allow(now time.Time) bool {
	if w.limit <= 0 {
		return true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.start.IsZero() || now.Sub(w.start) >= w.length || now.Before(w.start) {
		w.start = now
		w.count = 0
	}
	if w.count >= w.limit {
		return false
	}
	w.count++
	return true
}
