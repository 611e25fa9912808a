package dashboard

import (
	"sync"
	"time"
)

// ConnLimit caps how many connection attempts a single key may make
// within a sliding window.
type ConnLimit struct {
	Attempts int
	Window   time.Duration
}

// ConnLimiter tracks connection attempts per key (token ID or remote
// address) using a sliding window.
type ConnLimiter struct {
	mu      sync.Mutex
	limit   ConnLimit
	windows map[string][]time.Time
	done    chan struct{}
}

// NewConnLimiter creates a connection limiter and starts its background
// cleanup. Call Close to stop the cleanup goroutine.
func NewConnLimiter(limit ConnLimit) *ConnLimiter {
	cl := &ConnLimiter{
		limit:   limit,
		windows: make(map[string][]time.Time),
		done:    make(chan struct{}),
	}
	go cl.cleanup()
	return cl
}

// Allow reports whether a connection attempt for key is within the limit,
// recording the attempt when it is.
func (cl *ConnLimiter) Allow(key string) bool {
	if cl.limit.Attempts <= 0 {
		return true
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-cl.limit.Window)

	valid := cl.windows[key][:0]
	for _, t := range cl.windows[key] {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= cl.limit.Attempts {
		cl.windows[key] = valid
		return false
	}

	cl.windows[key] = append(valid, now)
	return true
}

// Close stops the background cleanup goroutine.
func (cl *ConnLimiter) Close() {
	close(cl.done)
}

// cleanup periodically drops keys with no attempts inside the window.
func (cl *ConnLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-cl.done:
			return
		case <-ticker.C:
			cl.mu.Lock()
			cutoff := time.Now().Add(-cl.limit.Window)
			for key, attempts := range cl.windows {
				recent := false
				for _, t := range attempts {
					if t.After(cutoff) {
						recent = true
						break
					}
				}
				if !recent {
					delete(cl.windows, key)
				}
			}
			cl.mu.Unlock()
		}
	}
}
