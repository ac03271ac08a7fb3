// Package lock implements the install lock: a non-blocking, advisory,
// exclusive file lock guarding a service's live files while they are replaced.
//
// The lock is cooperative. It only protects against processes that take the
// same lock on the same path before touching the guarded files.
package lock
