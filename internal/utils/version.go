package utils

import "fmt"

// Build metadata, injected at release time via -ldflags. The defaults
// identify ad-hoc developer builds.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// GetVersionString returns the one-line build description printed by
// --version.
func GetVersionString() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date)
}
