package profiler

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// selfTables are the profiler's own storage tables. Observations touching
// them are dropped so persisting a profile never profiles itself.
var selfTables = []string{
	"request_profiles",
	"request_queries",
	"request_api_calls",
}

// Recorder is the process-wide query observation hook. Integrations call
// Observe from their SQL execution layer; the only per-request state is the
// collector reachable through the context binding. Observe never panics and
// never returns an error: telemetry capture must not break the request.
type Recorder struct {
	logger zerolog.Logger
}

// NewRecorder creates a query recorder.
func NewRecorder(logger zerolog.Logger) *Recorder {
	return &Recorder{
		logger: logger.With().Str("component", "query_recorder").Logger(),
	}
}

// Observe attributes one executed query to the collector bound to ctx.
// Observations with no bound collector, or referencing the profiler's own
// storage, are dropped silently.
func (r *Recorder) Observe(ctx context.Context, sql string, params []string, duration time.Duration) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Debug().Interface("panic", p).Msg("query observation dropped")
		}
	}()

	collector, ok := FromContext(ctx)
	if !ok {
		return
	}

	if referencesSelf(sql) {
		return
	}

	collector.AddQuery(sql, params, duration, callSiteTrace())
}

func referencesSelf(sql string) bool {
	lowered := strings.ToLower(sql)
	for _, table := range selfTables {
		if strings.Contains(lowered, table) {
			return true
		}
	}
	return false
}
