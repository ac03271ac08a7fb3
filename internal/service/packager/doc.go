// Package packager produces the artifacts published to the store.
//
// A plan file lists the payloads to ship. Each payload is compressed into
// {name}-{version}{ext}, hashed with SHA-512 and recorded in artifacts.json
// next to the archives.
package packager
