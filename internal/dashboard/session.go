package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/profileboard/profileboard/internal/analyzer"
	"github.com/profileboard/profileboard/internal/auth"
	"github.com/profileboard/profileboard/internal/constants"
	"github.com/profileboard/profileboard/internal/flags"
	"github.com/profileboard/profileboard/internal/hub"
	"github.com/profileboard/profileboard/internal/profiler"
	"github.com/profileboard/profileboard/internal/storage"
)

// queryTimeout bounds each storage call made on behalf of a session.
const queryTimeout = 10 * time.Second

// Session is one authorized dashboard websocket connection. It moves
// through Connecting, Authorizing, Active and Closed; only an Active
// session is registered with the broadcast hub. A single reader goroutine
// dispatches client frames in order and a single writer goroutine drains
// the outbox, so replies keep their per-session order.
type Session struct {
	id   string
	conn *websocket.Conn

	store    *storage.Store
	flags    flags.Store
	hub      *hub.Hub
	analyzer *analyzer.Analyzer

	outbox    chan interface{}
	done      chan struct{}
	closeOnce sync.Once

	logger zerolog.Logger
}

func newSession(conn *websocket.Conn, s *Server) *Session {
	id := uuid.NewString()
	return &Session{
		id:       id,
		conn:     conn,
		store:    s.store,
		flags:    s.flagStore,
		hub:      s.hub,
		analyzer: s.analyzer,
		outbox:   make(chan interface{}, constants.DefaultSessionBuffer),
		done:     make(chan struct{}),
		logger:   s.logger.With().Str("session_id", id).Logger(),
	}
}

// run authorizes the connection and, on success, serves it until the
// client disconnects. It owns the connection's full lifecycle.
func (s *Session) run(principal *auth.Token, authErr error) {
	defer s.teardown()

	if authErr != nil || principal == nil {
		s.logger.Debug().Msg("Dashboard session rejected: unauthorized")
		s.closeWithCode(constants.CloseUnauthorized, "unauthorized")
		return
	}

	if !auth.HasPermission(principal, auth.PermissionViewDashboard) {
		s.logger.Debug().
			Str("token_id", principal.TokenID).
			Msg("Dashboard session rejected: missing view_dashboard permission")
		s.closeWithCode(constants.CloseForbidden, "forbidden")
		return
	}

	s.logger.Info().Str("token_id", principal.TokenID).Msg("Dashboard session active")

	go s.writeLoop()

	s.hub.Subscribe(s.id, s)
	defer s.hub.Unsubscribe(s.id)

	s.sendInitialData()
	s.readLoop()
}

// Deliver queues a broadcast profile for this session. It implements
// hub.Sink; a full outbox drops the update rather than blocking the
// publisher, and a closed session reports failure.
func (s *Session) Deliver(profile *profiler.Profile) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.outbox <- updateMessage{Type: msgProfileUpdate, Data: profile}:
		return true
	default:
		s.logger.Debug().Msg("Session outbox full, dropping profile update")
		return true
	}
}

// send queues a reply for the writer, blocking until there is room.
// Replies to a closed session are dropped without error.
func (s *Session) send(msg interface{}) {
	select {
	case <-s.done:
	case s.outbox <- msg:
	}
}

func (s *Session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("Dashboard session read error")
			}
			return
		}
		s.dispatch(data)
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.outbox:
			if err := s.conn.WriteJSON(msg); err != nil {
				s.logger.Debug().Err(err).Msg("Dashboard session write error")
				// Close done as well as the connection so a reader
				// blocked in send can still escape.
				s.teardown()
				return
			}
		}
	}
}

// dispatch handles one client frame. Malformed frames get a typed error
// reply and the session stays open.
func (s *Session) dispatch(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.send(errorReply(fmt.Sprintf("Error processing message: %v", err)))
		return
	}

	switch msg.Type {
	case msgRequestHistory:
		s.handleHistory(msg.Params)
	case msgRequestDetails:
		s.handleDetails(msg.RequestID)
	case msgToggleProfiler:
		s.handleToggle(msg.Enabled)
	default:
		s.send(errorReply(fmt.Sprintf("Error processing message: unknown type %q", msg.Type)))
	}
}

func (s *Session) sendInitialData() {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	recent, err := s.store.QueryProfiles(ctx, storage.Filter{}, constants.DefaultInitialProfiles)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load initial profiles")
		s.send(errorReply("Error loading initial data"))
		return
	}

	stats, err := s.store.Aggregate(ctx, storage.Filter{Since: time.Now().Add(-time.Hour)})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load initial stats")
		s.send(errorReply("Error loading initial data"))
		return
	}

	if recent == nil {
		recent = []profiler.Profile{}
	}
	s.send(initialDataMessage{
		Type:           msgInitialData,
		RecentRequests: recent,
		Stats:          stats,
	})
}

func (s *Session) handleHistory(params historyParams) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	since := time.Now().Add(-lookback(params.TimeRange))
	filter := storage.Filter{
		Since:            since,
		ViewNameContains: params.ViewName,
	}

	switch params.Status {
	case "error":
		filter.ErrorsOnly = true
	case "slow":
		threshold := params.SlowThreshold
		if threshold <= 0 {
			threshold = constants.DefaultSlowRequestThreshold
		}
		filter.MinDuration = threshold
	}

	requests, err := s.store.QueryProfiles(ctx, filter, constants.DefaultHistoryLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to query request history")
		s.send(errorReply("Error loading request history"))
		return
	}

	// Stats cover the time window only, regardless of the other filters.
	stats, err := s.store.Aggregate(ctx, storage.Filter{Since: since})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to aggregate request history")
		s.send(errorReply("Error loading request history"))
		return
	}

	if requests == nil {
		requests = []profiler.Profile{}
	}
	s.send(historyMessage{
		Type:     msgRequestHistory,
		Requests: requests,
		Stats:    stats,
	})
}

func (s *Session) handleDetails(requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	profile, err := s.store.GetProfile(ctx, requestID)
	if errors.Is(err, storage.ErrNotFound) {
		s.send(errorReply(fmt.Sprintf("Error loading request details: profile %s not found", requestID)))
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", requestID).Msg("Failed to load profile")
		s.send(errorReply("Error loading request details"))
		return
	}

	queries := make([]analyzer.Query, len(profile.Queries))
	for i, q := range profile.Queries {
		queries[i] = analyzer.Query{
			SQL:      q.SQL,
			Duration: time.Duration(q.Duration * float64(time.Second)),
		}
	}

	s.send(detailsMessage{
		Type: msgRequestDetails,
		Details: detailPayload{
			Profile:  *profile,
			Analysis: s.analyzer.Analyze(queries),
		},
	})
}

func (s *Session) handleToggle(enabled bool) {
	if err := s.flags.Set(constants.ProfilerEnabledFlag, enabled); err != nil {
		s.send(errorReply(fmt.Sprintf("Failed to toggle profiler: %v", err)))
		return
	}

	s.logger.Info().Bool("enabled", enabled).Msg("Profiler toggled from dashboard")
	s.send(toggledMessage{Type: msgProfilerToggled, Enabled: enabled})
}

// closeWithCode sends a close frame with an application close code before
// dropping the connection. Used for authorization failures only.
func (s *Session) closeWithCode(code int, reason string) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
}

func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
