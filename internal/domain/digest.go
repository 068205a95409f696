package domain

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// Algorithm names a digest algorithm
type Algorithm string

// Supported digest algorithms
const (
	AlgorithmMD5    Algorithm = "md5"
	AlgorithmSHA1   Algorithm = "sha1"
	AlgorithmSHA256 Algorithm = "sha256"
	AlgorithmSHA512 Algorithm = "sha512"
)

// ParseAlgorithm parses an algorithm name, case-insensitive
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	if a.HexLen() == 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
	return a, nil
}

// AlgorithmForHexLen returns the algorithm whose hex digest has length n
func AlgorithmForHexLen(n int) (Algorithm, bool) {
	for _, a := range []Algorithm{AlgorithmMD5, AlgorithmSHA1, AlgorithmSHA256, AlgorithmSHA512} {
		if a.HexLen() == n {
			return a, true
		}
	}
	return "", false
}

// HexLen returns the length of the hex-encoded digest, or 0 if unknown
func (a Algorithm) HexLen() int {
	switch a {
	case AlgorithmMD5:
		return md5.Size * 2
	case AlgorithmSHA1:
		return sha1.Size * 2
	case AlgorithmSHA256:
		return sha256.Size * 2
	case AlgorithmSHA512:
		return sha512.Size * 2
	default:
		return 0
	}
}

// New returns a fresh hash for the algorithm
func (a Algorithm) New() (hash.Hash, error) {
	switch a {
	case AlgorithmMD5:
		return md5.New(), nil
	case AlgorithmSHA1:
		return sha1.New(), nil
	case AlgorithmSHA256:
		return sha256.New(), nil
	case AlgorithmSHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, string(a))
	}
}

// ExpectedDigest is an algorithm-tagged hex digest
type ExpectedDigest struct {
	Algorithm Algorithm
	Hex       string
}

// NewExpectedDigest validates hexDigest for algorithm a.
// The stored hex is lowercase.
func NewExpectedDigest(a Algorithm, hexDigest string) (ExpectedDigest, error) {
	if a.HexLen() == 0 {
		return ExpectedDigest{}, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, string(a))
	}
	if !IsHexDigest(hexDigest, a) {
		return ExpectedDigest{}, fmt.Errorf("%w: %q is not a %s digest", ErrInvalidDigest, hexDigest, a)
	}
	return ExpectedDigest{Algorithm: a, Hex: strings.ToLower(hexDigest)}, nil
}

// ParseDigest parses "algo:hex" or a bare hex digest.
// A bare digest uses fallback, or is detected from its length when fallback is empty.
func ParseDigest(s string, fallback Algorithm) (ExpectedDigest, error) {
	s = strings.TrimSpace(s)
	if algo, hexPart, ok := strings.Cut(s, ":"); ok {
		a, err := ParseAlgorithm(algo)
		if err != nil {
			return ExpectedDigest{}, err
		}
		return NewExpectedDigest(a, hexPart)
	}
	if fallback == "" {
		a, ok := AlgorithmForHexLen(len(s))
		if !ok {
			return ExpectedDigest{}, fmt.Errorf("%w: cannot detect algorithm of %q", ErrInvalidDigest, s)
		}
		fallback = a
	}
	return NewExpectedDigest(fallback, s)
}

// String returns "algo:hex"
func (d ExpectedDigest) String() string {
	return string(d.Algorithm) + ":" + d.Hex
}

// IsZero reports whether the digest is unset
func (d ExpectedDigest) IsZero() bool {
	return d.Hex == ""
}

// IsHexDigest reports whether s is valid hex of the length required by a
func IsHexDigest(s string, a Algorithm) bool {
	if len(s) != a.HexLen() || len(s) == 0 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
