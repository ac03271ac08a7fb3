// Package supervisor controls the process supervisor that runs the managed services.
//
// The updater stops a service before its files are replaced and starts it
// again afterwards. When the supervisor itself is updated, its configuration
// is re-read instead, because it cannot be asked to restart itself.
package supervisor
