package provider

import (
	"context"
	"io"
	"time"
)

// FileInfo represents the standard metadata for a file or a directory.
type FileInfo interface {
	Name() string
	Size() int64
	IsDir() bool
	ModTime() time.Time
}

// Provider is the filesystem surface the transfer engine works against.
// Paths are native paths; implementations must be safe for concurrent use
// by several jobs.
type Provider interface {
	// Stat returns the FileInfo for the given path.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// List returns the contents of the given directory, sorted by name.
	List(ctx context.Context, path string) ([]FileInfo, error)

	// OpenRead opens a file for streaming reads.
	OpenRead(ctx context.Context, path string) (io.ReadCloser, error)

	// OpenWrite opens a file for streaming writes, truncating any existing
	// content. Metadata, if non-nil, is applied when the writer is closed.
	OpenWrite(ctx context.Context, path string, metadata FileInfo) (io.WriteCloser, error)

	// Mkdir creates a directory and any missing parents.
	Mkdir(ctx context.Context, path string) error

	// Remove deletes a file or a directory tree.
	Remove(ctx context.Context, path string) error

	// Rename moves oldpath to newpath within one volume.
	Rename(ctx context.Context, oldpath, newpath string) error

	// SetMetadata applies timestamps and permission bits (and ownership when
	// the provider is configured to) from metadata onto path.
	SetMetadata(ctx context.Context, path string, metadata FileInfo) error

	// MakeWritable clears the read-only bits of path so that it can be
	// replaced, removed, or have its timestamps changed.
	MakeWritable(ctx context.Context, path string) error

	// SameVolume reports whether a rename between the two paths can be
	// performed atomically.
	SameVolume(a, b string) bool
}
