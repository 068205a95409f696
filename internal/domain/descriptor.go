package domain

// FileDescriptor identifies one remote file to fetch and its expected integrity metadata.
// It is produced by the planner and never modified afterwards.
type FileDescriptor struct {
	// Remote is an absolute URL or a path relative to the configured base URL
	Remote string

	// Subpath is the destination relative to the mirror root
	Subpath string

	// ExpectedSize is the size in bytes, 0 when unknown
	ExpectedSize int64

	// Digest is the expected checksum, nil when none was published
	Digest *ExpectedDigest
}

// HasDigest reports whether the descriptor carries its own digest
func (d FileDescriptor) HasDigest() bool {
	return d.Digest != nil && !d.Digest.IsZero()
}
