package port

import (
	"io"
	"time"
)

// DiskUsage represents disk usage statistics
type DiskUsage struct {
	Total   uint64  // Total disk space in bytes
	Used    uint64  // Used disk space in bytes
	Free    uint64  // Free disk space in bytes
	UsedPct float64 // Used percentage (0-100)
}

// TempFile is an open temporary download file
type TempFile interface {
	io.Writer
	Sync() error
	Close() error
}

// FileSystem defines the mirror-root filesystem operations.
// Every path it accepts must lie under RootDir.
type FileSystem interface {
	// RootDir returns the absolute mirror root
	RootDir() string

	// EnsureRoot creates the mirror root if needed
	EnsureRoot() error

	// Resolve validates a subpath and returns its absolute destination
	Resolve(subpath string) (string, error)

	// TempPath returns the temporary sibling used while downloading dest
	TempPath(dest string) string

	// Stat returns the size of path and whether it exists
	Stat(path string) (int64, bool, error)

	// OpenTemp opens the temp file for dest, creating parent directories.
	// With resume it appends and returns the existing size, otherwise it truncates.
	OpenTemp(dest string, resume bool) (TempFile, int64, error)

	// Commit atomically renames the temp file of dest into place
	Commit(dest string) error

	// DiscardTemp removes the temp file of dest if present
	DiscardTemp(dest string) error

	// CheckSpace returns an error if needed bytes do not fit on the disk
	CheckSpace(needed int64) error

	// GetDiskUsage returns disk usage statistics
	GetDiskUsage() (*DiskUsage, error)

	// CleanOldTempFiles removes temp files older than the specified duration
	// Returns the number of files deleted
	CleanOldTempFiles(olderThan time.Duration) (int, error)

	// CleanEmptyDirs removes empty directories below the root
	CleanEmptyDirs() error
}
