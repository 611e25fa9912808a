package profiler

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/profileboard/profileboard/internal/constants"
	"github.com/profileboard/profileboard/internal/flags"
)

// Storage persists finalized profiles. Implemented by internal/storage;
// declared here so the profiler has no dependency on persistence.
type Storage interface {
	InsertProfile(ctx context.Context, profile *Profile) error
}

// Publisher fans finalized profiles out to live dashboard sessions.
type Publisher interface {
	Publish(profile *Profile)
}

// RouteResolver maps a request to its route or view name. Resolution is
// best-effort; an error substitutes the "unknown" placeholder.
type RouteResolver func(r *http.Request) (string, error)

// UserIDFunc extracts the authenticated user ID from a request, or ""
// for anonymous requests.
type UserIDFunc func(r *http.Request) string

// unknownView is recorded when route resolution fails.
const unknownView = "unknown"

// noisePrefixes are well-known paths never worth profiling.
var noisePrefixes = []string{
	"/static/",
	"/media/",
	"/.well-known/",
	"/ws/",
}

// InterceptorConfig carries the interceptor's collaborators.
type InterceptorConfig struct {
	// Flags gates profiling globally; consulted live on every request.
	Flags flags.Store

	// Storage receives finalized profiles. Optional.
	Storage Storage

	// Publisher receives finalized profiles for broadcast. Optional.
	Publisher Publisher

	// Resolver maps requests to view names. Optional.
	Resolver RouteResolver

	// UserID extracts the authenticated principal. Optional.
	UserID UserIDFunc

	// DashboardPrefix is the dashboard's own URL namespace, excluded from
	// capture.
	DashboardPrefix string

	// ExcludePrefixes lists additional never-profiled URL prefixes.
	ExcludePrefixes []string

	// EmitTimeout bounds the persistence write for one profile.
	EmitTimeout time.Duration

	Logger zerolog.Logger
}

// Interceptor wraps request handling to capture per-request telemetry. It
// owns the collector lifecycle: create, bind, finalize, emit. Profiling
// failures are logged and swallowed; the wrapped handler's response is
// never affected.
type Interceptor struct {
	flags           flags.Store
	storage         Storage
	publisher       Publisher
	resolver        RouteResolver
	userID          UserIDFunc
	dashboardPrefix string
	exclude         []string
	emitTimeout     time.Duration
	logger          zerolog.Logger

	emits sync.WaitGroup
}

// NewInterceptor creates a request profiler interceptor.
func NewInterceptor(cfg InterceptorConfig) *Interceptor {
	prefix := cfg.DashboardPrefix
	if prefix == "" {
		prefix = constants.DefaultDashboardPrefix
	}
	timeout := cfg.EmitTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Interceptor{
		flags:           cfg.Flags,
		storage:         cfg.Storage,
		publisher:       cfg.Publisher,
		resolver:        cfg.Resolver,
		userID:          cfg.UserID,
		dashboardPrefix: prefix,
		exclude:         cfg.ExcludePrefixes,
		emitTimeout:     timeout,
		logger:          cfg.Logger.With().Str("component", "interceptor").Logger(),
	}
}

// ShouldProfile decides whether a request is captured. Pure decision, no
// side effects: profiling must be enabled, the path must not belong to the
// dashboard, a static/noise namespace or a configured exclusion, and no
// collector may already be bound to the context (re-entrancy guard).
func (i *Interceptor) ShouldProfile(r *http.Request) bool {
	if i.flags != nil && !i.flags.Enabled(constants.ProfilerEnabledFlag) {
		return false
	}

	path := r.URL.Path
	if strings.HasPrefix(path, i.dashboardPrefix) {
		return false
	}
	for _, prefix := range noisePrefixes {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	for _, prefix := range i.exclude {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}

	if _, bound := FromContext(r.Context()); bound {
		return false
	}

	return true
}

// Handler wraps next with profiling. The collector binding lives in the
// derived request context and the finalize path runs in a defer, so every
// exit, including a handler panic, unwinds the capture state.
func (i *Interceptor) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !i.ShouldProfile(r) {
			next.ServeHTTP(w, r)
			return
		}

		collector := NewCollector()
		collector.SetMeta(i.requestMeta(r))

		start := time.Now()
		startMem := sampleRSSMB()
		recorder := newStatusRecorder(w)

		defer func() {
			p := recover()
			status := recorder.Status()
			if p != nil {
				status = http.StatusInternalServerError
			}
			i.finish(collector, time.Since(start), startMem, status)
			if p != nil {
				panic(p)
			}
		}()

		next.ServeHTTP(recorder, r.WithContext(WithCollector(r.Context(), collector)))
	})
}

// requestMeta gathers request metadata, tolerating resolver failure.
func (i *Interceptor) requestMeta(r *http.Request) RequestMeta {
	meta := RequestMeta{
		URL:      r.URL.RequestURI(),
		Method:   r.Method,
		ViewName: unknownView,
	}

	if i.userID != nil {
		meta.UserID = i.userID(r)
	}

	if i.resolver != nil {
		if view, err := i.resolver(r); err == nil && view != "" {
			meta.ViewName = view
		}
	}

	return meta
}

// finish finalizes the collector and hands the profile to the sinks. Any
// failure here is contained: the response has already been written.
func (i *Interceptor) finish(collector *Collector, duration time.Duration, startMem float64, status int) {
	defer func() {
		if p := recover(); p != nil {
			i.logger.Error().Interface("panic", p).Msg("profile finalize failed")
		}
	}()

	memoryMB := sampleRSSMB() - startMem
	profile := collector.Finalize(duration, memoryMB, status)

	// Persistence and broadcast happen off the request goroutine so the
	// response is never delayed by sink I/O.
	i.emits.Add(1)
	go i.emit(profile)
}

// Drain waits for in-flight profile emits to finish. Called at shutdown so
// profiles for completed requests are not lost.
func (i *Interceptor) Drain() {
	i.emits.Wait()
}

// emit writes the profile to storage and broadcasts it. The two sinks are
// independent best-effort consumers: a storage failure is logged once and
// the broadcast still proceeds.
func (i *Interceptor) emit(profile *Profile) {
	defer i.emits.Done()
	defer func() {
		if p := recover(); p != nil {
			i.logger.Error().Interface("panic", p).Msg("profile emit failed")
		}
	}()

	if i.storage != nil {
		ctx, cancel := context.WithTimeout(context.Background(), i.emitTimeout)
		if err := i.storage.InsertProfile(ctx, profile); err != nil {
			i.logger.Error().Err(err).Str("profile_id", profile.ID).Msg("failed to store profile")
		}
		cancel()
	}

	if i.publisher != nil {
		i.publisher.Publish(profile)
	}
}

// statusRecorder captures the response status code without altering the
// response path. An unwritten header reports 200, matching net/http.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w}
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wrote {
		r.status = status
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wrote {
		r.status = http.StatusOK
		r.wrote = true
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Status() int {
	if !r.wrote {
		return http.StatusOK
	}
	return r.status
}
