// Package install verifies downloaded archives and swaps their payload into place.
//
// Archives are checked against the manifest SHA-512 digest, decompressed with
// the codec implied by their file extension and written next to the target
// before being renamed over it.
package install
