// Package checksum parses checksum manifests and verifies files against them.
package checksum

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/N283T/pdb-sync-sub001/internal/domain"
)

// ErrMalformedEntry matches every *MalformedEntryError
var ErrMalformedEntry = errors.New("malformed manifest entry")

// ErrDuplicatePath is returned by Parse under DuplicateReject
var ErrDuplicatePath = errors.New("duplicate manifest path")

// MalformedEntryError reports the first bad line of a manifest
type MalformedEntryError struct {
	Line   int
	Reason string
}

// Error returns the error message
func (e *MalformedEntryError) Error() string {
	return fmt.Sprintf("malformed manifest entry at line %d: %s", e.Line, e.Reason)
}

// Is makes errors.Is(err, ErrMalformedEntry) true
func (e *MalformedEntryError) Is(target error) bool {
	return target == ErrMalformedEntry
}

// DuplicatePolicy decides which entry wins when a path repeats
type DuplicatePolicy string

const (
	DuplicateLastWins  DuplicatePolicy = "last-wins"
	DuplicateFirstWins DuplicatePolicy = "first-wins"
	DuplicateReject    DuplicatePolicy = "reject"
)

// ParseDuplicatePolicy parses a policy name. Empty means last-wins.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return DuplicateLastWins, nil
	case DuplicateLastWins, DuplicateFirstWins, DuplicateReject:
		return p, nil
	default:
		return "", fmt.Errorf("%w: duplicate policy %q", domain.ErrInvalidInput, s)
	}
}

// ParseOptions configures manifest parsing
type ParseOptions struct {
	// Algorithm of every digest. Empty detects it from the first entry.
	Algorithm domain.Algorithm
	// Duplicates decides which entry wins for a repeated path
	Duplicates DuplicatePolicy
}

// Duplicate records a path that appeared more than once
type Duplicate struct {
	Path  string
	Lines []int
}

// Manifest maps normalized paths to expected digests. Immutable after Parse.
type Manifest struct {
	algorithm  domain.Algorithm
	entries    map[string]string
	Duplicates []Duplicate
}

// Algorithm returns the digest algorithm of the manifest
func (m *Manifest) Algorithm() domain.Algorithm {
	return m.algorithm
}

// Len returns the number of distinct paths
func (m *Manifest) Len() int {
	return len(m.entries)
}

// Lookup returns the expected digest for path. The path is normalized the
// same way manifest entries are.
func (m *Manifest) Lookup(path string) (domain.ExpectedDigest, bool) {
	if m == nil {
		return domain.ExpectedDigest{}, false
	}
	hex, ok := m.entries[NormalizePath(path)]
	if !ok {
		return domain.ExpectedDigest{}, false
	}
	return domain.ExpectedDigest{Algorithm: m.algorithm, Hex: hex}, true
}

// Paths returns every path sorted
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.entries))
	for p := range m.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// WriteTo serializes the manifest sorted by path in "<hex>  <path>" form
func (m *Manifest) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var total int64
	for _, p := range m.Paths() {
		n, err := fmt.Fprintf(bw, "%s  %s\n", m.entries[p], p)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, bw.Flush()
}

// NormalizePath converts backslashes, strips leading "./" and trailing whitespace
func NormalizePath(p string) string {
	p = strings.TrimRight(p, " \t\r\n")
	p = strings.ReplaceAll(p, `\`, "/")
	for strings.HasPrefix(p, "./") {
		p = strings.TrimLeft(p[2:], "/")
	}
	return p
}

// Parse reads a manifest. The first malformed line fails the whole parse.
func Parse(r io.Reader, opts ParseOptions) (*Manifest, error) {
	policy := opts.Duplicates
	if policy == "" {
		policy = DuplicateLastWins
	}

	m := &Manifest{
		algorithm: opts.Algorithm,
		entries:   make(map[string]string),
	}
	firstLine := make(map[string]int)
	dupIndex := make(map[string]int)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}

		hexDigest, path, err := splitEntry(line)
		if err != nil {
			return nil, &MalformedEntryError{Line: lineNo, Reason: err.Error()}
		}

		if m.algorithm == "" {
			a, ok := domain.AlgorithmForHexLen(len(hexDigest))
			if !ok {
				return nil, &MalformedEntryError{Line: lineNo, Reason: fmt.Sprintf("cannot detect algorithm from digest length %d", len(hexDigest))}
			}
			m.algorithm = a
		}
		if !domain.IsHexDigest(hexDigest, m.algorithm) {
			return nil, &MalformedEntryError{Line: lineNo, Reason: fmt.Sprintf("%q is not a %s digest", hexDigest, m.algorithm)}
		}
		hexDigest = strings.ToLower(hexDigest)

		if first, seen := firstLine[path]; seen {
			if policy == DuplicateReject {
				return nil, fmt.Errorf("%w: %q at lines %d and %d", ErrDuplicatePath, path, first, lineNo)
			}
			if i, ok := dupIndex[path]; ok {
				m.Duplicates[i].Lines = append(m.Duplicates[i].Lines, lineNo)
			} else {
				dupIndex[path] = len(m.Duplicates)
				m.Duplicates = append(m.Duplicates, Duplicate{Path: path, Lines: []int{first, lineNo}})
			}
			if policy == DuplicateFirstWins {
				continue
			}
		} else {
			firstLine[path] = lineNo
		}
		m.entries[path] = hexDigest
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	return m, nil
}

// splitEntry splits "<hex>  <path>", "<hex> *<path>" or "<hex> <path>"
func splitEntry(line string) (string, string, error) {
	hexDigest, rest, ok := strings.Cut(line, " ")
	if !ok || hexDigest == "" {
		return "", "", errors.New("expected \"<digest>  <path>\"")
	}
	switch {
	case strings.HasPrefix(rest, " "), strings.HasPrefix(rest, "*"):
		rest = rest[1:]
	}
	path := NormalizePath(rest)
	if path == "" {
		return "", "", errors.New("missing path")
	}
	return hexDigest, path, nil
}
