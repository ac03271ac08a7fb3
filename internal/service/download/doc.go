// Package download fetches artifacts from the store as a sequence of ranged
// requests.
//
// Chunks are requested strictly in order and appended to a single archive
// file. A failing chunk is retried with exponential backoff until it succeeds
// or the context is cancelled, so a flaky store costs at most one chunk of
// repeated transfer.
package download
