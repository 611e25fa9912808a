// Package hub fans finalized profiles out to live dashboard sessions.
package hub

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/profileboard/profileboard/internal/profiler"
)

// Sink is a session's delivery capability. Deliver must not block for long;
// it returns false when the session can no longer accept events (closed or
// backed up), which is informational only.
type Sink interface {
	Deliver(profile *profiler.Profile) bool
}

// Hub is the process-wide broadcast registry. Exactly one instance exists
// per process, created at startup and injected into the interceptor and the
// dashboard server. Many request-completion goroutines publish concurrently
// while sessions subscribe and unsubscribe.
type Hub struct {
	mu     sync.RWMutex
	sinks  map[string]Sink
	logger zerolog.Logger
}

// New creates an empty hub.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		sinks:  make(map[string]Sink),
		logger: logger.With().Str("component", "hub").Logger(),
	}
}

// Subscribe registers a delivery sink for a session. Idempotent per
// session ID; re-subscribing replaces the sink.
func (h *Hub) Subscribe(sessionID string, sink Sink) {
	h.mu.Lock()
	h.sinks[sessionID] = sink
	h.mu.Unlock()

	h.logger.Debug().Str("session_id", sessionID).Msg("session subscribed")
}

// Unsubscribe removes a session's registration. Safe to call for sessions
// that were never registered.
func (h *Hub) Unsubscribe(sessionID string) {
	h.mu.Lock()
	_, existed := h.sinks[sessionID]
	delete(h.sinks, sessionID)
	h.mu.Unlock()

	if existed {
		h.logger.Debug().Str("session_id", sessionID).Msg("session unsubscribed")
	}
}

// Publish delivers the profile to every registered sink. A failing sink
// never prevents delivery to the others and never panics the publisher.
func (h *Hub) Publish(profile *profiler.Profile) {
	h.mu.RLock()
	snapshot := make(map[string]Sink, len(h.sinks))
	for id, sink := range h.sinks {
		snapshot[id] = sink
	}
	h.mu.RUnlock()

	for id, sink := range snapshot {
		h.deliver(id, sink, profile)
	}
}

func (h *Hub) deliver(sessionID string, sink Sink, profile *profiler.Profile) {
	defer func() {
		if p := recover(); p != nil {
			h.logger.Warn().
				Str("session_id", sessionID).
				Interface("panic", p).
				Msg("sink delivery panicked")
		}
	}()

	if !sink.Deliver(profile) {
		h.logger.Debug().
			Str("session_id", sessionID).
			Str("profile_id", profile.ID).
			Msg("profile dropped for session")
	}
}

// Len returns the number of registered sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks)
}
