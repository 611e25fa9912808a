// Package profiler implements the request-scoped capture pipeline: the
// per-request collector, the interceptor that owns its lifecycle, and the
// query recorder that attributes SQL activity to the in-flight request.
package profiler

import (
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/profileboard/profileboard/internal/constants"
)

// RequestMeta holds request identification captured near request start.
type RequestMeta struct {
	URL      string `json:"url"`
	Method   string `json:"method"`
	UserID   string `json:"user_id,omitempty"`
	ViewName string `json:"view_name"`
}

// QueryEvent is one captured database query.
type QueryEvent struct {
	SQL        string    `json:"sql"`
	Params     []string  `json:"params,omitempty"`
	Duration   float64   `json:"duration"`
	StackTrace string    `json:"stack_trace,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// APICallEvent is one captured outbound HTTP call.
type APICallEvent struct {
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	Duration   float64   `json:"duration"`
	StatusCode int       `json:"status_code"`
	Timestamp  time.Time `json:"timestamp"`
}

// Profile is the immutable finalized record for one request. It is created
// exactly once per profiled request and never mutated afterwards; the
// persistence writer and the broadcast payload each read the same snapshot.
type Profile struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	URL      string `json:"url"`
	Method   string `json:"method"`
	UserID   string `json:"user_id,omitempty"`
	ViewName string `json:"view_name"`

	Duration   float64 `json:"duration"`
	MemoryMB   float64 `json:"memory_usage"`
	StatusCode int     `json:"status_code"`
	IsError    bool    `json:"is_error"`

	QueryCount int     `json:"db_queries_count"`
	QueryTime  float64 `json:"db_queries_time"`

	Queries  []QueryEvent   `json:"queries,omitempty"`
	APICalls []APICallEvent `json:"api_calls,omitempty"`
}

// Collector accumulates profile facts during one request. It is created at
// request entry, bound to that request's context, and must never be shared
// across requests. Appends are mutex-guarded because a handler may fan work
// out to multiple goroutines within the request.
type Collector struct {
	profileID string
	started   time.Time

	mu        sync.Mutex
	meta      RequestMeta
	queries   []QueryEvent
	apiCalls  []APICallEvent
	finalized *Profile
}

// NewCollector creates a collector with a fresh profile ID.
func NewCollector() *Collector {
	return &Collector{
		profileID: uuid.NewString(),
		started:   time.Now(),
	}
}

// ProfileID returns the opaque profile identifier.
func (c *Collector) ProfileID() string {
	return c.profileID
}

// SetMeta records request metadata. Populated once near request start.
func (c *Collector) SetMeta(meta RequestMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized != nil {
		return
	}
	c.meta = meta
}

// AddQuery appends a query event, applying the capture bounds: SQL and
// stack trace are truncated, parameter strings are sanitized, and the
// duration is clamped at zero. Events arriving after finalize are dropped.
func (c *Collector) AddQuery(sql string, params []string, duration time.Duration, stackTrace string) {
	if duration < 0 {
		duration = 0
	}

	sanitized := make([]string, len(params))
	for i, p := range params {
		sanitized[i] = truncate(p, constants.MaxParamLength)
	}

	event := QueryEvent{
		SQL:        truncate(sql, constants.MaxSQLLength),
		Params:     sanitized,
		Duration:   duration.Seconds(),
		StackTrace: truncate(stackTrace, constants.MaxStackLength),
		Timestamp:  time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized != nil {
		return
	}
	c.queries = append(c.queries, event)
}

// AddAPICall appends an external call event.
func (c *Collector) AddAPICall(url, method string, duration time.Duration, statusCode int) {
	if duration < 0 {
		duration = 0
	}

	event := APICallEvent{
		URL:        url,
		Method:     method,
		Duration:   duration.Seconds(),
		StatusCode: statusCode,
		Timestamp:  time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized != nil {
		return
	}
	c.apiCalls = append(c.apiCalls, event)
}

// Finalize produces the immutable profile snapshot. The first call wins;
// repeated calls return the same profile. Duration and memory are clamped
// at zero and the error flag derives from the status code.
func (c *Collector) Finalize(duration time.Duration, memoryMB float64, statusCode int) *Profile {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finalized != nil {
		return c.finalized
	}

	if duration < 0 {
		duration = 0
	}
	if memoryMB < 0 {
		memoryMB = 0
	}

	var queryTime float64
	for _, q := range c.queries {
		queryTime += q.Duration
	}

	c.finalized = &Profile{
		ID:         c.profileID,
		Timestamp:  c.started,
		URL:        c.meta.URL,
		Method:     c.meta.Method,
		UserID:     c.meta.UserID,
		ViewName:   c.meta.ViewName,
		Duration:   duration.Seconds(),
		MemoryMB:   memoryMB,
		StatusCode: statusCode,
		IsError:    statusCode >= 400,
		QueryCount: len(c.queries),
		QueryTime:  queryTime,
		Queries:    c.queries,
		APICalls:   c.apiCalls,
	}
	return c.finalized
}

// truncate cuts s to at most max bytes without splitting a UTF-8 rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
