package vo

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrTraversal matches every *PathError
	ErrTraversal    = errors.New("path traversal")
	ErrRelativeRoot = errors.New("mirror root must be an absolute path")
)

// PathError is returned for a subpath that could escape the mirror root
type PathError struct {
	Path   string
	Reason string
}

// Error returns the error message
func (e *PathError) Error() string {
	return fmt.Sprintf("path traversal: %q: %s", e.Path, e.Reason)
}

// Is makes errors.Is(err, ErrTraversal) true for any PathError
func (e *PathError) Is(target error) bool {
	return target == ErrTraversal
}

// Subpath is a validated path relative to the mirror root.
// The zero value is the root itself.
type Subpath struct {
	parts []string
}

// NewSubpath validates raw. Backslashes count as separators, empty and "."
// components are dropped. It never touches the filesystem.
func NewSubpath(raw string) (Subpath, error) {
	if strings.IndexByte(raw, 0) >= 0 {
		return Subpath{}, &PathError{Path: raw, Reason: "contains null byte"}
	}

	normalized := strings.ReplaceAll(raw, `\`, "/")
	if strings.HasPrefix(normalized, "/") {
		return Subpath{}, &PathError{Path: raw, Reason: "absolute path"}
	}
	if hasDrivePrefix(normalized) || filepath.VolumeName(raw) != "" {
		return Subpath{}, &PathError{Path: raw, Reason: "drive or volume prefix"}
	}

	var parts []string
	for _, comp := range strings.Split(normalized, "/") {
		switch comp {
		case "", ".":
			continue
		case "..":
			return Subpath{}, &PathError{Path: raw, Reason: "parent directory component"}
		}
		parts = append(parts, comp)
	}

	return Subpath{parts: parts}, nil
}

// MustSubpath creates a Subpath, panicking if invalid.
// Use only with constant input.
func MustSubpath(raw string) Subpath {
	s, err := NewSubpath(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the slash-separated form
func (s Subpath) String() string {
	return strings.Join(s.parts, "/")
}

// IsRoot reports whether the subpath resolves to the root itself
func (s Subpath) IsRoot() bool {
	return len(s.parts) == 0
}

// Under joins the subpath onto root
func (s Subpath) Under(root string) string {
	return filepath.Join(append([]string{root}, s.parts...)...)
}

// Resolve validates raw and joins it onto the absolute root
func Resolve(root, raw string) (string, error) {
	if !filepath.IsAbs(root) {
		return "", fmt.Errorf("%w: %q", ErrRelativeRoot, root)
	}
	s, err := NewSubpath(raw)
	if err != nil {
		return "", err
	}
	return s.Under(root), nil
}

// IsWithin reports whether path equals root or is a descendant of it
func IsWithin(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func hasDrivePrefix(s string) bool {
	if len(s) < 2 || s[1] != ':' {
		return false
	}
	c := s[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
