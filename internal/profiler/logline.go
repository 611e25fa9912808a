package profiler

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/profileboard/profileboard/internal/constants"
)

// sqlLineRe matches the legacy query-log line shape:
//
//	(<seconds>) <sql>; args=<params>
//
// The duration is seconds as a float, the params a Python-literal-like
// encoding.
var sqlLineRe = regexp.MustCompile(`(?s)^\((\d+(?:\.\d+)?)\)\s+(.*?);\s+args=(.*)$`)

// LogLineAdapter recovers query observations from formatted log lines for
// stacks that only expose a log-line interface. It exists purely as an
// adapter in front of Recorder; nothing else depends on the text format.
type LogLineAdapter struct {
	recorder *Recorder
	logger   zerolog.Logger
}

// NewLogLineAdapter creates an adapter forwarding to the given recorder.
func NewLogLineAdapter(recorder *Recorder, logger zerolog.Logger) *LogLineAdapter {
	return &LogLineAdapter{
		recorder: recorder,
		logger:   logger.With().Str("component", "logline_adapter").Logger(),
	}
}

// Consume parses one log line and forwards the observation. Lines that do
// not match the expected shape are ignored; a params payload that cannot be
// decoded is stored as a single truncated raw string.
func (a *LogLineAdapter) Consume(ctx context.Context, line string) {
	match := sqlLineRe.FindStringSubmatch(line)
	if match == nil {
		return
	}

	seconds, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		a.logger.Debug().Str("raw", match[1]).Msg("unparsable query duration, line dropped")
		return
	}

	sql := match[2]
	params, err := parseParamLiterals(match[3])
	if err != nil {
		params = []string{truncate(match[3], constants.MaxParamLength)}
	}

	a.recorder.Observe(ctx, sql, params, time.Duration(seconds*float64(time.Second)))
}
