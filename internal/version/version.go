// Package version holds build metadata injected via ldflags.
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Short returns "version (commit)" for CLI output.
func Short() string {
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
