package service

import (
	"sync"
	"time"
)

const DefaultTypingIdle = 3 * time.Second

type typingEntry struct {
	timer *time.Timer
	stop  func()
}

// TypingTracker guarantees a stop follows every start: each start arms an
// idle timer per (client, conversation) that emits the stop if nobody else does.
type TypingTracker struct {
	mu      sync.Mutex
	idle    time.Duration
	pending map[string]map[string]*typingEntry
}

func NewTypingTracker(idle time.Duration) *TypingTracker {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	return &TypingTracker{idle: idle, pending: make(map[string]map[string]*typingEntry)}
}

// Arm (re)starts the idle timer; stop runs at most once.
func (t *TypingTracker) Arm(clientID, convID string, stop func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byConv, ok := t.pending[clientID]
	if !ok {
		byConv = make(map[string]*typingEntry)
		t.pending[clientID] = byConv
	}
	if prev := byConv[convID]; prev != nil {
		prev.timer.Stop()
	}
	e := &typingEntry{stop: stop}
	e.timer = time.AfterFunc(t.idle, func() {
		if t.take(clientID, convID, e) {
			stop()
		}
	})
	byConv[convID] = e
}

func (t *TypingTracker) take(clientID, convID string, e *typingEntry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	byConv := t.pending[clientID]
	if byConv == nil || byConv[convID] != e {
		return false
	}
	delete(byConv, convID)
	if len(byConv) == 0 {
		delete(t.pending, clientID)
	}
	return true
}

// Disarm is called on an explicit stop.
func (t *TypingTracker) Disarm(clientID, convID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	byConv := t.pending[clientID]
	e := byConv[convID]
	if e == nil {
		return false
	}
	e.timer.Stop()
	delete(byConv, convID)
	if len(byConv) == 0 {
		delete(t.pending, clientID)
	}
	return true
}

// Flush fires every pending stop for a client right away (disconnect).
func (t *TypingTracker) Flush(clientID string) int {
	t.mu.Lock()
	byConv := t.pending[clientID]
	delete(t.pending, clientID)
	t.mu.Unlock()

	for _, e := range byConv {
		e.timer.Stop()
		e.stop()
	}
	return len(byConv)
}

func (t *TypingTracker) Pending(clientID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending[clientID])
}
