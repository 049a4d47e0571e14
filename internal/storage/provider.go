// Package storage gives the backends atomic file access inside the directory
// that holds a project's store.
package storage

import "time"

// Info describes one file under the root.
type Info struct {
	Path     string
	Checksum string
	Size     int64
	ModTime  time.Time
}

// Provider is the file access the backends and the mapping bridge rely on.
type Provider interface {
	// Root returns the absolute directory every path is relative to.
	Root() string
	// Stat returns metadata and the content checksum of path.
	Stat(path string) (Info, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically replaces path with content.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath, replacing newPath.
	Move(oldPath, newPath string) error
	// Abs resolves path to an absolute path under the root.
	Abs(path string) (string, error)
}
