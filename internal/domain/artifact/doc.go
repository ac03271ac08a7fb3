// Package artifact contains the manifest model shared by every updater component.
//
// An Artifact is one independently versioned unit (binary, config bundle)
// published by the store; a Manifest maps artifact names to their entries.
// The package also decides whether a remote entry is newer than the local one.
package artifact
