// Package config defines the updater settings and provides helpers to load,
// validate and save them in YAML format.
//
// Settings cover the artifact store location, the reconciliation interval,
// download retry backoff bounds and the local paths the daemon works with.
package config
