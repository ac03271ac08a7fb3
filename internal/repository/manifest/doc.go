// Package manifest implements persistence for the local artifact manifest.
//
// The FileRepository stores the manifest as JSON on disk and replaces the
// file as a whole on every save, so a crash never leaves a half-written
// manifest behind.
package manifest
