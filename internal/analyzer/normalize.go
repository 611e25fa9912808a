// Package analyzer derives structural signatures and per-request analysis
// from captured SQL queries.
package analyzer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/zeebo/xxh3"
)

var (
	// Order matters: strings first so digits inside literals are not
	// rewritten, then placeholders, then bare integers.
	singleQuoteRe = regexp.MustCompile(`'[^']*'`)
	doubleQuoteRe = regexp.MustCompile(`"[^"]*"`)
	namedParamRe  = regexp.MustCompile(`%\([^)]*\)s`)
	ordinalRe     = regexp.MustCompile(`\$\d+`)
	percentRe     = regexp.MustCompile(`%s`)
	integerRe     = regexp.MustCompile(`\b\d+\b`)
	questionRunRe = regexp.MustCompile(`\?+`)
)

// Normalize reduces SQL text to a structural signature: literals and
// parameter placeholders are collapsed so queries that differ only in bound
// values normalize identically. Deterministic and side-effect free.
func Normalize(sql string) string {
	normalized := strings.ToLower(strings.TrimSpace(sql))

	normalized = singleQuoteRe.ReplaceAllString(normalized, "'S'")
	normalized = doubleQuoteRe.ReplaceAllString(normalized, `"S"`)

	// Collapse every placeholder style to '?'.
	normalized = namedParamRe.ReplaceAllString(normalized, "?")
	normalized = ordinalRe.ReplaceAllString(normalized, "?")
	normalized = percentRe.ReplaceAllString(normalized, "?")

	normalized = integerRe.ReplaceAllString(normalized, "N")

	normalized = questionRunRe.ReplaceAllString(normalized, "?")

	return normalized
}

// Fingerprint returns a stable hex hash of the normalized SQL, suitable for
// indexing similar queries in storage.
func Fingerprint(sql string) string {
	return fmt.Sprintf("%016x", xxh3.HashString(Normalize(sql)))
}
