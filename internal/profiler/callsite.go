package profiler

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/profileboard/profileboard/internal/constants"
)

// excludedFrames lists function-path fragments stripped from call-site
// traces: the profiler itself, the query-execution layer and the logging
// subsystem are noise for someone looking for the query's origin.
var excludedFrames = []string{
	"profileboard/internal/profiler",
	"profileboard/internal/storage",
	"database/sql",
	"github.com/rs/zerolog",
	"log.",
	"runtime.",
	"testing.",
}

// callSiteTrace renders the current goroutine's call stack, innermost
// application frame first, bounded to MaxStackFrames frames and
// MaxStackLength bytes.
func callSiteTrace() string {
	var pcs [32]uintptr
	n := runtime.Callers(2, pcs[:])
	if n == 0 {
		return ""
	}

	frames := runtime.CallersFrames(pcs[:n])
	var b strings.Builder
	kept := 0

	for kept < constants.MaxStackFrames {
		frame, more := frames.Next()
		if frame.Function != "" && !frameExcluded(frame.Function) {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
			kept++
		}
		if !more {
			break
		}
	}

	trace := b.String()
	if len(trace) > constants.MaxStackLength {
		trace = trace[:constants.MaxStackLength]
	}
	return trace
}

func frameExcluded(fn string) bool {
	for _, fragment := range excludedFrames {
		if strings.Contains(fn, fragment) {
			return true
		}
	}
	return false
}
