// Package version exposes the build metadata of the profileboard binary.
// Release builds override the variables with -ldflags; source builds
// report "dev".
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version of the profileboard release.
	Version = "dev"

	// GitCommit is the commit the binary was built from.
	GitCommit = "unknown"

	// BuildDate is the build timestamp.
	BuildDate = "unknown"

	// GoVersion is the Go toolchain version used to build.
	GoVersion = runtime.Version()
)

// String renders the full build metadata as a single line.
func String() string {
	return fmt.Sprintf("profileboard %s (commit %s, built %s, %s)", Version, GitCommit, BuildDate, GoVersion)
}
