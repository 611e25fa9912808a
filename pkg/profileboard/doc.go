// Package profileboard embeds live HTTP request profiling into a Go
// application.
//
// The embedded instance wraps the application's handler with a profiling
// middleware, captures the database queries each request runs, persists a
// finalized profile per request and streams it to connected dashboard
// clients over a websocket.
//
// Basic integration:
//
//	board, err := profileboard.New(profileboard.Config{
//	    Resolver:       routeName,
//	    StartDashboard: true,
//	    Logger:         logger,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer board.Close()
//
//	http.ListenAndServe(":8080", board.Middleware(appHandler))
//
// Query capture hooks into the application's database layer. Either call
// ObserveQuery from a driver wrapper or query hook:
//
//	start := time.Now()
//	rows, err := db.QueryContext(ctx, query, args...)
//	board.ObserveQuery(ctx, query, argStrings, time.Since(start))
//
// or feed database log lines through ConsumeLogLine when no hook point is
// available.
//
// Profiling is gated by a feature flag that dashboard operators can flip
// at runtime; a disabled profiler adds a single flag check per request.
// Capture is best effort throughout: profiling failures are logged and
// swallowed, never surfaced to the application's callers.
package profileboard
