// Package version holds build identification, overridden at link time with
// -ldflags "-X github.com/ferryman-dev/ferryman/internal/version.Version=...".
package version

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)
