package event

import (
	"time"

	"github.com/N283T/pdb-sync-sub001/internal/domain"
)

// Event names
const (
	NamePassStarted      = "pass.started"
	NamePassFinished     = "pass.finished"
	NameFileStateChanged = "file.state_changed"
	NameTransferProgress = "file.transfer_progress"
	NameTransferRetry    = "file.transfer_retry"
	NameFileFinished     = "file.finished"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	// EventName returns the name of the event
	EventName() string
	// OccurredAt returns when the event occurred
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	Timestamp time.Time
}

// OccurredAt returns when the event occurred
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

func now() BaseEvent {
	return BaseEvent{Timestamp: time.Now()}
}

// PassStarted is raised before the first descriptor is dispatched
type PassStarted struct {
	BaseEvent
	PassID  string
	Engine  domain.EngineType
	Files   int
	Workers int
}

// EventName returns the event name
func (e PassStarted) EventName() string { return NamePassStarted }

// NewPassStarted creates a new PassStarted event
func NewPassStarted(passID string, engine domain.EngineType, files, workers int) PassStarted {
	return PassStarted{BaseEvent: now(), PassID: passID, Engine: engine, Files: files, Workers: workers}
}

// PassFinished is raised once the report is complete
type PassFinished struct {
	BaseEvent
	PassID    string
	Totals    domain.Totals
	Abandoned int
	Aborted   bool
	Duration  time.Duration
}

// EventName returns the event name
func (e PassFinished) EventName() string { return NamePassFinished }

// NewPassFinished creates a new PassFinished event from a finished report
func NewPassFinished(r *domain.SyncReport) PassFinished {
	return PassFinished{
		BaseEvent: now(),
		PassID:    r.PassID,
		Totals:    r.Totals,
		Abandoned: len(r.Abandoned),
		Aborted:   r.Aborted,
		Duration:  r.Duration(),
	}
}

// FileStateChanged is raised on every per-file state transition
type FileStateChanged struct {
	BaseEvent
	Subpath string
	From    domain.FileState
	To      domain.FileState
}

// EventName returns the event name
func (e FileStateChanged) EventName() string { return NameFileStateChanged }

// NewFileStateChanged creates a new FileStateChanged event
func NewFileStateChanged(subpath string, from, to domain.FileState) FileStateChanged {
	return FileStateChanged{BaseEvent: now(), Subpath: subpath, From: from, To: to}
}

// TransferProgress reports bytes on disk for an in-flight transfer.
// Total is 0 when the size is unknown.
type TransferProgress struct {
	BaseEvent
	Subpath string
	Bytes   int64
	Total   int64
}

// EventName returns the event name
func (e TransferProgress) EventName() string { return NameTransferProgress }

// NewTransferProgress creates a new TransferProgress event
func NewTransferProgress(subpath string, bytes, total int64) TransferProgress {
	return TransferProgress{BaseEvent: now(), Subpath: subpath, Bytes: bytes, Total: total}
}

// TransferRetry is raised before a retryable failure is retried
type TransferRetry struct {
	BaseEvent
	Subpath string
	Attempt int
	Delay   time.Duration
	Err     error
}

// EventName returns the event name
func (e TransferRetry) EventName() string { return NameTransferRetry }

// NewTransferRetry creates a new TransferRetry event
func NewTransferRetry(subpath string, attempt int, delay time.Duration, err error) TransferRetry {
	return TransferRetry{BaseEvent: now(), Subpath: subpath, Attempt: attempt, Delay: delay, Err: err}
}

// FileFinished carries the terminal result for one file
type FileFinished struct {
	BaseEvent
	Result domain.FileResult
}

// EventName returns the event name
func (e FileFinished) EventName() string { return NameFileFinished }

// NewFileFinished creates a new FileFinished event
func NewFileFinished(res domain.FileResult) FileFinished {
	return FileFinished{BaseEvent: now(), Result: res}
}
