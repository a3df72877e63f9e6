// Package storage defines the source tree abstraction: listing and reading
// Markdown documents and writing build output.
package storage

import "time"

// Document is the listing entry of one source document.
type Document struct {
	// Path is relative to the root and uses forward slashes.
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for source tree operations.
type Provider interface {
	// List returns every document under dir matching one of include and none
	// of exclude (doublestar patterns relative to the root), sorted by path.
	List(dir string, include, exclude []string) ([]Document, error)
	// Read returns the raw bytes of the file at path (relative to root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to root).
	Write(path string, content []byte) error
}

// DefaultInclude matches every Markdown document.
var DefaultInclude = []string{"**/*.md"}
