// Package version exposes build metadata of the agent-updater binaries.
//
// Version, Commit and BuildTime are injected with -ldflags -X at build time.
// Full is printed by the version subcommand and UserAgent identifies the
// updater to the artifact store.
package version
