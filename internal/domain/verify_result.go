package domain

import "fmt"

// VerifyKind tags a VerifyResult
type VerifyKind int

// Verification verdicts
const (
	VerifyMatch VerifyKind = iota
	VerifyMismatch
	VerifyMissing
	VerifyUnverified
)

// String returns the verdict name
func (k VerifyKind) String() string {
	switch k {
	case VerifyMatch:
		return "match"
	case VerifyMismatch:
		return "mismatch"
	case VerifyMissing:
		return "missing"
	case VerifyUnverified:
		return "unverified"
	default:
		return "unknown"
	}
}

// VerifyResult is the verdict for one file in one pass
type VerifyResult struct {
	Kind     VerifyKind
	Expected string
	Actual   string
	Reason   string
}

// Match creates a matching verdict
func Match(expected string) VerifyResult {
	return VerifyResult{Kind: VerifyMatch, Expected: expected, Actual: expected}
}

// Mismatch creates a mismatch verdict carrying both digests
func Mismatch(expected, actual string) VerifyResult {
	return VerifyResult{Kind: VerifyMismatch, Expected: expected, Actual: actual}
}

// Missing creates a verdict for an absent or empty file
func Missing(expected string) VerifyResult {
	return VerifyResult{Kind: VerifyMissing, Expected: expected}
}

// Unverified creates a verdict for a file that could not be checked
func Unverified(reason string) VerifyResult {
	return VerifyResult{Kind: VerifyUnverified, Reason: reason}
}

// OK reports whether the digest matched
func (r VerifyResult) OK() bool {
	return r.Kind == VerifyMatch
}

// String returns a short description
func (r VerifyResult) String() string {
	switch r.Kind {
	case VerifyMismatch:
		return fmt.Sprintf("mismatch (expected %s, got %s)", r.Expected, r.Actual)
	case VerifyMissing:
		return fmt.Sprintf("missing (expected %s)", r.Expected)
	case VerifyUnverified:
		return "unverified: " + r.Reason
	default:
		return r.Kind.String()
	}
}
