package domain

import (
	"sort"
	"time"
)

// FileState is the per-file state of a sync pass
type FileState string

// File states. Verified and Failed are terminal.
const (
	StatePending      FileState = "pending"
	StateResolving    FileState = "resolving"
	StateTransferring FileState = "transferring"
	StateVerifying    FileState = "verifying"
	StateVerified     FileState = "verified"
	StateFailed       FileState = "failed"
)

// IsTerminal reports whether no further transition is possible
func (s FileState) IsTerminal() bool {
	return s == StateVerified || s == StateFailed
}

// FileResult is the terminal record for one descriptor
type FileResult struct {
	Subpath     string
	Destination string
	State       FileState
	Outcome     TransferOutcome
	Verify      VerifyResult
	Attempts    int
	Err         error
	Duration    time.Duration
}

// Totals aggregates a pass
type Totals struct {
	Attempted        int
	BytesTransferred int64
	VerifiedOK       int
	Failed           int
	Skipped          int
	Resumed          int
}

// SyncReport aggregates the results of one pass.
// The orchestrator builds it and hands it to the caller once the pass ends.
type SyncReport struct {
	PassID      string
	Engine      EngineType
	StartedAt   time.Time
	FinishedAt  time.Time
	Files       map[string]FileResult
	Abandoned   []string
	Aborted     bool
	AbortReason error
	Totals      Totals
}

// NewSyncReport creates an empty report
func NewSyncReport(passID string, engine EngineType) *SyncReport {
	return &SyncReport{
		PassID:    passID,
		Engine:    engine,
		StartedAt: time.Now(),
		Files:     make(map[string]FileResult),
	}
}

// Record adds a terminal file result and updates the totals
func (r *SyncReport) Record(res FileResult) {
	r.Files[res.Subpath] = res
	r.Totals.Attempted++

	switch res.Outcome.Kind {
	case OutcomeCompleted:
		r.Totals.BytesTransferred += res.Outcome.BytesWritten
		if res.Outcome.Resumed {
			r.Totals.Resumed++
		}
	case OutcomeSkipped:
		r.Totals.Skipped++
	}

	switch res.State {
	case StateVerified:
		r.Totals.VerifiedOK++
	case StateFailed:
		r.Totals.Failed++
	}
}

// Abandon records subpaths that were never dispatched
func (r *SyncReport) Abandon(subpaths ...string) {
	r.Abandoned = append(r.Abandoned, subpaths...)
}

// Abort marks the pass as aborted. The first reason wins.
func (r *SyncReport) Abort(reason error) {
	if r.Aborted {
		return
	}
	r.Aborted = true
	r.AbortReason = reason
}

// Finish stamps the end time and sorts abandoned subpaths
func (r *SyncReport) Finish() {
	r.FinishedAt = time.Now()
	sort.Strings(r.Abandoned)
}

// OK reports whether every attempted file verified and the pass ran to completion
func (r *SyncReport) OK() bool {
	return r.Totals.Failed == 0 && !r.Aborted
}

// Entries returns the file results sorted by subpath
func (r *SyncReport) Entries() []FileResult {
	entries := make([]FileResult, 0, len(r.Files))
	for _, res := range r.Files {
		entries = append(entries, res)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Subpath < entries[j].Subpath
	})
	return entries
}

// FailedSubpaths returns the sorted subpaths that ended in StateFailed
func (r *SyncReport) FailedSubpaths() []string {
	var out []string
	for _, res := range r.Entries() {
		if res.State == StateFailed {
			out = append(out, res.Subpath)
		}
	}
	return out
}

// Duration returns the wall time of the pass
func (r *SyncReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
