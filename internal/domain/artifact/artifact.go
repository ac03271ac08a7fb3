package artifact

import (
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// SupervisorService is the service value marking the process supervisor itself.
// Such artifacts trigger a supervisor configuration reload instead of a restart.
const SupervisorService = "supervisord"

// sha512HexLength is the length of a hex encoded SHA-512 digest.
const sha512HexLength = 128

var (
	// errNoFilename is returned for entries without an archive name.
	errNoFilename = errors.New("filename is empty")
	// errBadFilename is returned for archive names containing path elements.
	errBadFilename = errors.New("filename must be a bare file name")
	// errBadDigest is returned when the sha512 field is not a lowercase hex digest.
	errBadDigest = errors.New("sha512 must be 128 lowercase hex characters")
	// errBadName is returned for artifact names that are not a bare path element.
	errBadName = errors.New("artifact name must be a bare path element")
	// errNoDestination is returned for entries without an install path.
	errNoDestination = errors.New("destination is empty")
)

// Artifact is one manifest entry.
type Artifact struct {
	// Filename is the archive name at the remote store and on local disk.
	Filename string `json:"filename"`
	// SHA512 is the lowercase hex digest of the compressed archive.
	SHA512 string `json:"sha512"`
	// Version is a semantic version, optionally prefixed with "v".
	Version string `json:"version"`
	// Destination is where the decompressed payload is installed.
	Destination string `json:"destination"`
	// Service names the supervisor program restarted around the install,
	// or SupervisorService to reload the supervisor itself.
	Service string `json:"service,omitempty"`
	// Lockfile guards the artifact's live files during the update.
	Lockfile string `json:"lockfile,omitempty"`
}

// Clone returns a copy of the artifact.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// Equal reports whether both entries describe the same artifact.
func (a *Artifact) Equal(other *Artifact) bool {
	if a == nil || other == nil {
		return a == other
	}

	return *a == *other
}

// HasService reports whether the artifact is bound to a supervised service.
func (a *Artifact) HasService() bool {
	return a.Service != ""
}

// IsSupervisor reports whether the artifact is the supervisor itself.
func (a *Artifact) IsSupervisor() bool {
	return a.Service == SupervisorService
}

// Validate checks the fields required to download and install the artifact.
func (a *Artifact) Validate() error {
	switch {
	case a.Filename == "":
		return errNoFilename
	case strings.ContainsAny(a.Filename, `/\`) || a.Filename == "." || a.Filename == "..":
		return fmt.Errorf("%q: %w", a.Filename, errBadFilename)
	case a.Destination == "":
		return errNoDestination
	}

	if len(a.SHA512) != sha512HexLength || strings.ToLower(a.SHA512) != a.SHA512 {
		return errBadDigest
	}

	if _, err := hex.DecodeString(a.SHA512); err != nil {
		return fmt.Errorf("%w: %w", errBadDigest, err)
	}

	return nil
}

// Manifest maps artifact names to their entries.
type Manifest map[string]*Artifact

// Names returns the artifact names in their deterministic enumeration order.
func (m Manifest) Names() []string {
	return slices.Sorted(maps.Keys(m))
}

// ValidateName checks that an artifact name is usable as a single path element.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%q: %w", name, errBadName)
	}

	return nil
}
