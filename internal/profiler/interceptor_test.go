package profiler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/profileboard/profileboard/internal/constants"
	"github.com/profileboard/profileboard/internal/flags"
	"github.com/profileboard/profileboard/internal/logging"
)

type fakeStorage struct {
	mu       sync.Mutex
	profiles []*Profile
	err      error
}

func (s *fakeStorage) InsertProfile(_ context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.profiles = append(s.profiles, p)
	return nil
}

func (s *fakeStorage) stored() []*Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Profile(nil), s.profiles...)
}

type fakePublisher struct {
	mu        sync.Mutex
	published []*Profile
}

func (p *fakePublisher) Publish(profile *Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, profile)
}

func (p *fakePublisher) all() []*Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Profile(nil), p.published...)
}

func enabledFlags() flags.Store {
	return flags.NewMemoryStore(map[string]bool{constants.ProfilerEnabledFlag: true})
}

func newTestInterceptor(store Storage, pub Publisher, fs flags.Store) *Interceptor {
	return NewInterceptor(InterceptorConfig{
		Flags:     fs,
		Storage:   store,
		Publisher: pub,
		Resolver: func(r *http.Request) (string, error) {
			if r.URL.Path == "/unresolvable" {
				return "", errors.New("no route")
			}
			return "view" + r.URL.Path, nil
		},
		UserID: func(r *http.Request) string { return r.Header.Get("X-User") },
		Logger: logging.Nop(),
	})
}

func TestInterceptor_ProfilesRequest(t *testing.T) {
	store := &fakeStorage{}
	pub := &fakePublisher{}
	recorder := NewRecorder(logging.Nop())
	interceptor := newTestInterceptor(store, pub, enabledFlags())

	handler := interceptor.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder.Observe(r.Context(), "SELECT * FROM orders WHERE id = $1", []string{"5"}, 2*time.Millisecond)
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/orders?page=1", nil)
	req.Header.Set("X-User", "alice")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	interceptor.Drain()

	assert.Equal(t, http.StatusCreated, rr.Code)

	profiles := store.stored()
	require.Len(t, profiles, 1)
	p := profiles[0]
	assert.Equal(t, "/orders?page=1", p.URL)
	assert.Equal(t, http.MethodPost, p.Method)
	assert.Equal(t, "alice", p.UserID)
	assert.Equal(t, "view/orders", p.ViewName)
	assert.Equal(t, http.StatusCreated, p.StatusCode)
	assert.False(t, p.IsError)
	assert.GreaterOrEqual(t, p.Duration, 0.0)
	assert.GreaterOrEqual(t, p.MemoryMB, 0.0)
	require.Equal(t, 1, p.QueryCount)
	assert.Equal(t, []string{"5"}, p.Queries[0].Params)

	published := pub.all()
	require.Len(t, published, 1)
	assert.Same(t, p, published[0], "broadcast and persistence share one snapshot")
}

func TestInterceptor_ErrorStatusFlagged(t *testing.T) {
	store := &fakeStorage{}
	interceptor := newTestInterceptor(store, nil, enabledFlags())

	handler := interceptor.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	interceptor.Drain()

	profiles := store.stored()
	require.Len(t, profiles, 1)
	assert.Equal(t, http.StatusBadGateway, profiles[0].StatusCode)
	assert.True(t, profiles[0].IsError)
}

func TestInterceptor_UnwrittenHeaderReports200(t *testing.T) {
	store := &fakeStorage{}
	interceptor := newTestInterceptor(store, nil, enabledFlags())

	handler := interceptor.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/quiet", nil))
	interceptor.Drain()

	profiles := store.stored()
	require.Len(t, profiles, 1)
	assert.Equal(t, http.StatusOK, profiles[0].StatusCode)
}

func TestInterceptor_ResolverFailureUsesPlaceholder(t *testing.T) {
	store := &fakeStorage{}
	interceptor := newTestInterceptor(store, nil, enabledFlags())

	handler := interceptor.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/unresolvable", nil))
	interceptor.Drain()

	profiles := store.stored()
	require.Len(t, profiles, 1)
	assert.Equal(t, "unknown", profiles[0].ViewName)
}

func TestInterceptor_PanicStillFinalizes(t *testing.T) {
	store := &fakeStorage{}
	interceptor := newTestInterceptor(store, nil, enabledFlags())

	handler := interceptor.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	}))

	rr := httptest.NewRecorder()
	assert.Panics(t, func() {
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/boom", nil))
	}, "the handler panic must propagate to the server")
	interceptor.Drain()

	profiles := store.stored()
	require.Len(t, profiles, 1, "finalize must run on the panic path")
	assert.Equal(t, http.StatusInternalServerError, profiles[0].StatusCode)
	assert.True(t, profiles[0].IsError)
}

func TestInterceptor_StorageFailureDoesNotAffectResponseOrBroadcast(t *testing.T) {
	store := &fakeStorage{err: errors.New("disk full")}
	pub := &fakePublisher{}
	interceptor := newTestInterceptor(store, pub, enabledFlags())

	handler := interceptor.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	interceptor.Drain()

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, pub.all(), 1, "broadcast proceeds despite persistence failure")
}

func TestShouldProfile_Exclusions(t *testing.T) {
	fs := enabledFlags()
	interceptor := NewInterceptor(InterceptorConfig{
		Flags:           fs,
		DashboardPrefix: "/__monitor__",
		ExcludePrefixes: []string{"/internal/"},
		Logger:          logging.Nop(),
	})

	tests := []struct {
		path string
		want bool
	}{
		{"/orders", true},
		{"/__monitor__/ws", false},
		{"/static/app.css", false},
		{"/media/logo.png", false},
		{"/.well-known/health", false},
		{"/ws/chat", false},
		{"/internal/metrics", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		assert.Equal(t, tt.want, interceptor.ShouldProfile(req), "path %s", tt.path)
	}
}

func TestShouldProfile_ReentrancyGuard(t *testing.T) {
	interceptor := newTestInterceptor(nil, nil, enabledFlags())

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	assert.True(t, interceptor.ShouldProfile(req))

	bound := req.WithContext(WithCollector(req.Context(), NewCollector()))
	assert.False(t, interceptor.ShouldProfile(bound), "a bound collector must block nested profiling")
}

func TestShouldProfile_ConsultsLiveFlag(t *testing.T) {
	fs := enabledFlags()
	store := &fakeStorage{}
	interceptor := newTestInterceptor(store, nil, fs)

	handler := interceptor.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	require.NoError(t, fs.Set(constants.ProfilerEnabledFlag, false))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))
	interceptor.Drain()
	assert.Empty(t, store.stored(), "disabled flag must suppress profiling immediately")

	require.NoError(t, fs.Set(constants.ProfilerEnabledFlag, true))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders", nil))
	interceptor.Drain()
	assert.Len(t, store.stored(), 1)
}

func TestInterceptor_ConcurrentRequestIsolation(t *testing.T) {
	store := &fakeStorage{}
	recorder := NewRecorder(logging.Nop())
	interceptor := newTestInterceptor(store, nil, enabledFlags())

	handler := interceptor.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		marker := r.Header.Get("X-Marker")
		for j := 0; j < 5; j++ {
			recorder.Observe(r.Context(), fmt.Sprintf("SELECT '%s' FROM t WHERE n = %d", marker, j), nil, time.Millisecond)
		}
	}))

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/r/%d", i), nil)
			req.Header.Set("X-Marker", fmt.Sprintf("req-%d", i))
			handler.ServeHTTP(httptest.NewRecorder(), req)
		}(i)
	}
	wg.Wait()
	interceptor.Drain()

	profiles := store.stored()
	require.Len(t, profiles, n)
	for _, p := range profiles {
		marker := "req-" + p.URL[len("/r/"):]
		require.Equal(t, 5, p.QueryCount)
		for _, q := range p.Queries {
			assert.Contains(t, q.SQL, "'"+marker+"'",
				"query captured for %s leaked into profile %s", q.SQL, p.URL)
		}
	}
}
