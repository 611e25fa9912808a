package analyzer

import (
	"strings"
	"time"

	"github.com/profileboard/profileboard/internal/constants"
)

// Query is the minimal view of a captured query the analyzer needs.
type Query struct {
	// SQL is the literal query text as captured.
	SQL string
	// Duration is the query execution time.
	Duration time.Duration
}

// DuplicateGroup reports queries with byte-identical SQL text.
type DuplicateGroup struct {
	SQL     string `json:"sql"`
	Count   int    `json:"count"`
	Indices []int  `json:"indices"`
}

// SlowQuery reports a single query exceeding the slow threshold.
type SlowQuery struct {
	Index    int     `json:"index"`
	Duration float64 `json:"duration"`
	SQL      string  `json:"sql"`
}

// SignatureGroup reports queries sharing a normalized signature. Groups
// large enough to look like a per-row query pattern are surfaced as N+1
// candidates; this is a heuristic, not a diagnosis.
type SignatureGroup struct {
	NormalizedSQL string `json:"normalized_sql"`
	Count         int    `json:"count"`
	Indices       []int  `json:"indices"`
}

// Analysis is the derived result for one profile's query list. It is always
// recomputed on demand and never persisted.
type Analysis struct {
	TotalQueries       int              `json:"total_queries"`
	TotalTime          float64          `json:"total_time"`
	Duplicates         []DuplicateGroup `json:"duplicates"`
	SlowQueries        []SlowQuery      `json:"slow_queries"`
	NPlusOneCandidates []SignatureGroup `json:"n_plus_one_candidates"`
}

// Analyzer batches analysis over a completed profile's queries.
type Analyzer struct {
	slowThreshold time.Duration
}

// New creates an Analyzer. A non-positive threshold falls back to the
// default slow-query threshold.
func New(slowThreshold time.Duration) *Analyzer {
	if slowThreshold <= 0 {
		slowThreshold = constants.DefaultSlowQueryThreshold
	}
	return &Analyzer{slowThreshold: slowThreshold}
}

// nPlusOneMin is the smallest signature-group size reported as a candidate.
const nPlusOneMin = 3

// Analyze computes totals, duplicate groups, slow queries and N+1
// candidates. An empty input yields a zero Analysis, not an error. All
// output lists preserve first-seen order of the original query indices.
func (a *Analyzer) Analyze(queries []Query) Analysis {
	analysis := Analysis{TotalQueries: len(queries)}
	if len(queries) == 0 {
		return analysis
	}

	var total time.Duration
	exact := make(map[string][]int)
	exactOrder := make([]string, 0, len(queries))
	normalized := make(map[string][]int)
	normalizedOrder := make([]string, 0, len(queries))

	for i, q := range queries {
		total += q.Duration

		sql := strings.TrimSpace(q.SQL)
		if _, seen := exact[sql]; !seen {
			exactOrder = append(exactOrder, sql)
		}
		exact[sql] = append(exact[sql], i)

		if q.Duration > a.slowThreshold {
			analysis.SlowQueries = append(analysis.SlowQueries, SlowQuery{
				Index:    i,
				Duration: q.Duration.Seconds(),
				SQL:      truncateSQL(sql, 100),
			})
		}

		sig := Normalize(q.SQL)
		if _, seen := normalized[sig]; !seen {
			normalizedOrder = append(normalizedOrder, sig)
		}
		normalized[sig] = append(normalized[sig], i)
	}

	analysis.TotalTime = total.Seconds()

	for _, sql := range exactOrder {
		indices := exact[sql]
		if len(indices) > 1 {
			analysis.Duplicates = append(analysis.Duplicates, DuplicateGroup{
				SQL:     sql,
				Count:   len(indices),
				Indices: indices,
			})
		}
	}

	for _, sig := range normalizedOrder {
		indices := normalized[sig]
		if len(indices) >= nPlusOneMin {
			analysis.NPlusOneCandidates = append(analysis.NPlusOneCandidates, SignatureGroup{
				NormalizedSQL: sig,
				Count:         len(indices),
				Indices:       indices,
			})
		}
	}

	return analysis
}

func truncateSQL(sql string, max int) string {
	if len(sql) <= max {
		return sql
	}
	return sql[:max] + "..."
}
