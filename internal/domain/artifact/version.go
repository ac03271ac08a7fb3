package artifact

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/oshokin/agent-updater/internal/logger"
)

// VersionParseError reports a version string that is not a semantic version.
type VersionParseError struct {
	// Version is the offending input as found in the manifest.
	Version string
	// Err is the underlying parser error.
	Err error
}

// Error implements error.
func (e *VersionParseError) Error() string {
	return fmt.Sprintf("parse version %q: %v", e.Version, e.Err)
}

// Unwrap returns the parser error.
func (e *VersionParseError) Unwrap() error {
	return e.Err
}

// ParseVersion strips one optional leading "v" and parses a strict semantic version.
func ParseVersion(version string) (*semver.Version, error) {
	parsed, err := semver.StrictNewVersion(strings.TrimPrefix(version, "v"))
	if err != nil {
		return nil, &VersionParseError{Version: version, Err: err}
	}

	return parsed, nil
}

// IsRemoteNewer reports whether the remote entry carries a strictly greater version.
func IsRemoteNewer(ctx context.Context, name string, local, remote *Artifact) (bool, error) {
	localVersion, err := ParseVersion(local.Version)
	if err != nil {
		return false, err
	}

	remoteVersion, err := ParseVersion(remote.Version)
	if err != nil {
		return false, err
	}

	if !remoteVersion.GreaterThan(localVersion) {
		return false, nil
	}

	logger.InfoKV(ctx, "Upgrade available",
		"artifact", name, "local", local.Version, "remote", remote.Version)

	return true, nil
}
