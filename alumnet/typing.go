package alumnet

import (
	"sync"
	"time"
)

// DefaultTypingTTL clears a typing indicator after a second of silence.
const DefaultTypingTTL = time.Second

// TypingTracker keeps a per-peer "is typing" flag that expires ttl after
// the most recent Touch.
type TypingTracker struct {
	ttl time.Duration

	mu       sync.Mutex
	active   map[int64]*typingEntry
	onChange func(peer int64, typing bool)
	stopped  bool
}

type typingEntry struct {
	timer *time.Timer
	seq   uint64
}

// NewTypingTracker creates a tracker. A non-positive ttl uses
// DefaultTypingTTL.
func NewTypingTracker(ttl time.Duration) *TypingTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingTracker{ttl: ttl, active: make(map[int64]*typingEntry)}
}

// OnChange registers fn, called when a peer starts or stops typing.
func (t *TypingTracker) OnChange(fn func(peer int64, typing bool)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Touch marks peer as typing and restarts its expiry.
func (t *TypingTracker) Touch(peer int64) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	e, ok := t.active[peer]
	if ok {
		e.timer.Stop()
	} else {
		e = &typingEntry{}
		t.active[peer] = e
	}
	e.seq++
	seq := e.seq
	e.timer = time.AfterFunc(t.ttl, func() { t.expire(peer, seq) })
	fn := t.onChange
	t.mu.Unlock()

	if !ok && fn != nil {
		fn(peer, true)
	}
}

// IsTyping reports whether peer signalled within the ttl.
func (t *TypingTracker) IsTyping(peer int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[peer]
	return ok
}

// Clear drops peer's indicator immediately.
func (t *TypingTracker) Clear(peer int64) {
	t.mu.Lock()
	e, ok := t.active[peer]
	if ok {
		e.timer.Stop()
		delete(t.active, peer)
	}
	fn := t.onChange
	t.mu.Unlock()

	if ok && fn != nil {
		fn(peer, false)
	}
}

// Stop cancels all timers. The tracker ignores Touch afterwards.
func (t *TypingTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for peer, e := range t.active {
		e.timer.Stop()
		delete(t.active, peer)
	}
}

func (t *TypingTracker) expire(peer int64, seq uint64) {
	t.mu.Lock()
	e, ok := t.active[peer]
	if !ok || e.seq != seq {
		t.mu.Unlock()
		return
	}
	delete(t.active, peer)
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn(peer, false)
	}
}
