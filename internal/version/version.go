package version

import (
	"fmt"
	"runtime"
)

// Product is the name reported to the artifact store.
const Product = "agent-updater"

var (
	// Version is the semantic version of the build. It can be overridden via ldflags.
	Version = "0.1.0"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full returns a human-readable version string with commit and build time.
func Full() string {
	return fmt.Sprintf("version: %s, commit: %s, built at: %s, %s/%s",
		Version, Commit, BuildTime, runtime.GOOS, runtime.GOARCH)
}

// UserAgent returns the User-Agent header sent with store requests.
func UserAgent() string {
	return fmt.Sprintf("%s/%s (%s; %s)", Product, Version, runtime.GOOS, runtime.GOARCH)
}
