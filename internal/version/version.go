package version

import (
	"fmt"
)

var (
	// Version is the current version of matrixsync
	// This will be set at build time using -ldflags
	Version = "dev"

	// CommitHash is the git commit hash
	CommitHash = "unknown"

	// BuildDate is the build date
	BuildDate = "unknown"
)

// GetVersionString returns the full version string
func GetVersionString() string {
	return fmt.Sprintf("matrixsync version: %s (commit: %s, built: %s)", Version, CommitHash, BuildDate)
}

// GetShortVersion returns just the version number
func GetShortVersion() string {
	return Version
}
