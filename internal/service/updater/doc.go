// Package updater reconciles the locally installed artifacts against the
// remote manifest.
//
// Every cycle fetches the remote manifest, runs one update task per artifact
// concurrently and persists the resulting local manifest in a single write.
// Tasks never touch the aggregate manifest: each returns an Outcome and the
// loop builds the new manifest from the collected outcomes.
package updater
