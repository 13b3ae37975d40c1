// ABOUTME: Thread-safe TTL registry of armed per-conversation stop flags.
// ABOUTME: Size-limited with O(1) eviction and periodic expiry cleanup.

package cancel

import (
	"container/list"
	"sync"
	"time"
)

// Flags is a per-conversation stop flag store.
type Flags interface {
	// Arm requests that the conversation's running turn stop. Idempotent.
	Arm(conversationID string)
	// Armed reports whether a stop was requested and not yet cleared.
	Armed(conversationID string) bool
	// Clear removes the flag.
	Clear(conversationID string)
}

type flagEntry struct {
	armedAt time.Time
	element *list.Element
}

// Registry is an in-memory Flags store. Flags expire after ttl so a stop
// request for a run that never polls again cannot leak forever.
type Registry struct {
	mu      sync.Mutex
	armed   map[string]*flagEntry
	order   *list.List // conversation ids, oldest first
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

var _ Flags = (*Registry)(nil)

// NewRegistry creates a registry and starts its cleanup goroutine.
func NewRegistry(ttl time.Duration, maxSize int) *Registry {
	if maxSize <= 0 {
		maxSize = 10000
	}
	r := &Registry{
		armed:   make(map[string]*flagEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go r.cleanup()
	return r
}

func (r *Registry) Arm(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.armed[conversationID]; ok {
		entry.armedAt = time.Now()
		r.order.MoveToBack(entry.element)
		return
	}

	if len(r.armed) >= r.maxSize {
		r.evictOldest()
	}

	r.armed[conversationID] = &flagEntry{
		armedAt: time.Now(),
		element: r.order.PushBack(conversationID),
	}
}

func (r *Registry) Armed(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.armed[conversationID]
	if !ok {
		return false
	}
	return r.ttl <= 0 || time.Since(entry.armedAt) < r.ttl
}

func (r *Registry) Clear(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.armed[conversationID]; ok {
		r.order.Remove(entry.element)
		delete(r.armed, conversationID)
	}
}

// Len returns the number of flags currently held, expired or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.armed)
}

// evictOldest must be called with mu held.
func (r *Registry) evictOldest() {
	front := r.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	r.order.Remove(front)
	delete(r.armed, id)
}

func (r *Registry) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.expire()
		case <-r.done:
			return
		}
	}
}

func (r *Registry) expire() {
	if r.ttl <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, entry := range r.armed {
		if now.Sub(entry.armedAt) > r.ttl {
			r.order.Remove(entry.element)
			delete(r.armed, id)
		}
	}
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.closed {
		close(r.done)
		r.closed = true
	}
}
