// Package version carries build metadata stamped in with -ldflags -X.
package version

import "fmt"

var (
	// Version is the release tag
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for -version.
func String() string {
	return fmt.Sprintf("roomba %s (%s, built %s)", Version, GitSHA, BuildTime)
}
