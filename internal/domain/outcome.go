package domain

// OutcomeKind tags a TransferOutcome
type OutcomeKind int

// Outcome kinds
const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeSkipped
	OutcomeFailed
)

// String returns the outcome name
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TransferOutcome is the result of one transfer attempt.
// Only the fields belonging to Kind are meaningful.
type TransferOutcome struct {
	Kind OutcomeKind

	// Completed
	BytesWritten int64
	Resumed      bool
	ResumedFrom  int64

	// Skipped
	Reason string

	// Failed
	Err *TransferError
}

// Completed creates a completed outcome
func Completed(bytesWritten int64) TransferOutcome {
	return TransferOutcome{Kind: OutcomeCompleted, BytesWritten: bytesWritten}
}

// CompletedResumed creates a completed outcome for a resumed transfer
func CompletedResumed(bytesWritten, resumedFrom int64) TransferOutcome {
	return TransferOutcome{
		Kind:         OutcomeCompleted,
		BytesWritten: bytesWritten,
		Resumed:      true,
		ResumedFrom:  resumedFrom,
	}
}

// Skipped creates a skipped outcome
func Skipped(reason string) TransferOutcome {
	return TransferOutcome{Kind: OutcomeSkipped, Reason: reason}
}

// Failed creates a failed outcome
func Failed(err *TransferError) TransferOutcome {
	return TransferOutcome{Kind: OutcomeFailed, Err: err}
}

// Succeeded reports whether the destination now holds the file
func (o TransferOutcome) Succeeded() bool {
	return o.Kind == OutcomeCompleted || o.Kind == OutcomeSkipped
}
