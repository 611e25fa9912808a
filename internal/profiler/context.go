package profiler

import "context"

// contextKey is the private type for context values owned by this package.
type contextKey struct{}

var collectorKey contextKey

// WithCollector binds a collector to the context. The binding is the sole
// correlation between a query observation and its owning request; exactly
// one collector is bound per request context and the binding dies with the
// request scope.
func WithCollector(ctx context.Context, c *Collector) context.Context {
	return context.WithValue(ctx, collectorKey, c)
}

// FromContext returns the collector bound to the context, if any.
func FromContext(ctx context.Context) (*Collector, bool) {
	c, ok := ctx.Value(collectorKey).(*Collector)
	return c, ok
}
