// Package dashboard implements the live profiling dashboard: a websocket
// endpoint that streams finalized request profiles to authorized clients
// and answers history, detail and profiler-toggle requests.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/profileboard/profileboard/internal/analyzer"
	"github.com/profileboard/profileboard/internal/auth"
	"github.com/profileboard/profileboard/internal/config"
	"github.com/profileboard/profileboard/internal/constants"
	"github.com/profileboard/profileboard/internal/flags"
	"github.com/profileboard/profileboard/internal/hub"
	"github.com/profileboard/profileboard/internal/storage"
)

// defaultConnLimit caps websocket connection attempts per client key.
var defaultConnLimit = ConnLimit{Attempts: 30, Window: time.Minute}

// Config contains dependencies for creating a dashboard server.
type Config struct {
	// Dashboard is the listen address and path prefix configuration.
	Dashboard config.DashboardConfig

	// SlowQueryThreshold is forwarded to the per-session query analyzer.
	SlowQueryThreshold time.Duration

	// TokenStore authenticates dashboard clients.
	TokenStore *auth.TokenStore

	// Flags is the live feature-flag store the toggle operation writes to.
	Flags flags.Store

	// Store is the profile store queried for history and details.
	Store *storage.Store

	// Hub is the broadcast hub sessions subscribe to.
	Hub *hub.Hub

	// ConnLimit caps websocket connection attempts per client. Zero value
	// uses the default of 30 attempts per minute.
	ConnLimit ConnLimit

	// Logger is the logger instance.
	Logger zerolog.Logger
}

// Server is the dashboard websocket server.
type Server struct {
	httpServer *http.Server
	tokens     *auth.TokenStore
	flagStore  flags.Store
	store      *storage.Store
	hub        *hub.Hub
	analyzer   *analyzer.Analyzer
	limiter    *ConnLimiter
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

// New creates a dashboard server. The websocket endpoint is served at
// PathPrefix + "/ws"; /health bypasses authentication.
func New(cfg Config) (*Server, error) {
	if cfg.TokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("profile store is required")
	}
	if cfg.Hub == nil {
		return nil, fmt.Errorf("broadcast hub is required")
	}
	if cfg.Flags == nil {
		return nil, fmt.Errorf("flag store is required")
	}

	logger := cfg.Logger.With().Str("component", "dashboard").Logger()

	host := cfg.Dashboard.Host
	if host == "" {
		host = constants.DefaultDashboardHost
	}
	port := cfg.Dashboard.Port
	if port == 0 {
		port = constants.DefaultDashboardPort
	}
	prefix := cfg.Dashboard.PathPrefix
	if prefix == "" {
		prefix = constants.DefaultDashboardPrefix
	}
	connLimit := cfg.ConnLimit
	if connLimit.Attempts == 0 {
		connLimit = defaultConnLimit
	}

	s := &Server{
		tokens:    cfg.TokenStore,
		flagStore: cfg.Flags,
		store:     cfg.Store,
		hub:       cfg.Hub,
		analyzer:  analyzer.New(cfg.SlowQueryThreshold),
		limiter:   NewConnLimiter(connLimit),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard authenticates with bearer tokens, not cookies.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(prefix+"/ws", s.handleWebsocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := s.store.Ping(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("Health check failed to reach profile store")
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK\n"))
	})

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// Start starts the dashboard server in a background goroutine.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("Starting dashboard server")

	go func() {
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Dashboard server error")
		}
	}()

	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping dashboard server")
	s.limiter.Close()
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the root handler, exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// handleWebsocket upgrades a dashboard connection and hands it to a
// session. Authorization happens after the upgrade so the client receives
// a websocket close code rather than an HTTP error.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)

	key := token
	if key == "" {
		key = r.RemoteAddr
	}
	if !s.limiter.Allow(key) {
		s.logger.Warn().Str("remote", r.RemoteAddr).Msg("Dashboard connection rate limited")
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	var principal *auth.Token
	authErr := fmt.Errorf("missing token")
	if token != "" {
		principal, authErr = s.tokens.ValidateToken(token)
	}

	go newSession(conn, s).run(principal, authErr)
}

// bearerToken extracts the client token from the token query parameter or
// the Authorization header.
func bearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}

	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
