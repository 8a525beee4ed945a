// ABOUTME: Thread-safe failed-attempt lockout keyed by client address
// ABOUTME: Token buckets per key with size-bounded eviction and background cleanup

package throttle

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// lockoutEntry stores the bucket and list element for a tracked key.
type lockoutEntry struct {
	limiter     *rate.Limiter
	lastFailure time.Time
	element     *list.Element
}

// Lockout charges failed verifications to a key. Each key holds a token
// bucket of maxFailures tokens refilled evenly over window; a key with an
// empty bucket is locked until a token refills. Successes cost nothing.
type Lockout struct {
	mu          sync.Mutex
	entries     map[string]*lockoutEntry
	order       *list.List // keys by most recent failure (oldest at front)
	maxFailures int
	window      time.Duration
	maxSize     int
	now         func() time.Time
	done        chan struct{}
	closed      bool
}

// New creates a Lockout. A background goroutine drops keys whose bucket has
// fully refilled. maxSize bounds how many keys are tracked at once.
func New(maxFailures int, window time.Duration, maxSize int) *Lockout {
	l := newLockout(maxFailures, window, maxSize, time.Now)
	go l.cleanup()
	return l
}

func newLockout(maxFailures int, window time.Duration, maxSize int, now func() time.Time) *Lockout {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Lockout{
		entries:     make(map[string]*lockoutEntry),
		order:       list.New(),
		maxFailures: maxFailures,
		window:      window,
		maxSize:     maxSize,
		now:         now,
		done:        make(chan struct{}),
	}
}

// Locked reports whether key has exhausted its failure budget.
func (l *Lockout) Locked(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		return false
	}
	return entry.limiter.TokensAt(l.now()) < 1
}

// Fail records one failed attempt for key and reports whether key is now locked.
func (l *Lockout) Fail(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.entries[key]
	if ok {
		l.order.MoveToBack(entry.element)
	} else {
		if len(l.entries) >= l.maxSize {
			l.evictOldest()
		}
		entry = &lockoutEntry{
			limiter: rate.NewLimiter(rate.Every(l.window/time.Duration(l.maxFailures)), l.maxFailures),
			element: l.order.PushBack(key),
		}
		l.entries[key] = entry
	}

	entry.lastFailure = now
	entry.limiter.AllowN(now, 1)
	return entry.limiter.TokensAt(now) < 1
}

// Len returns the number of tracked keys.
func (l *Lockout) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// evictOldest removes the key with the oldest failure. Must be called with mu held.
func (l *Lockout) evictOldest() {
	front := l.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	l.order.Remove(front)
	delete(l.entries, key)
}

// cleanup runs in a background goroutine, periodically removing refilled keys.
func (l *Lockout) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.runCleanup()
		case <-l.done:
			return
		}
	}
}

// runCleanup drops every key whose last failure is older than the window.
func (l *Lockout) runCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, entry := range l.entries {
		if now.Sub(entry.lastFailure) > l.window {
			l.order.Remove(entry.element)
			delete(l.entries, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (l *Lockout) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		close(l.done)
		l.closed = true
	}
}
