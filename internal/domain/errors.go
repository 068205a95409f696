package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Common domain errors
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnknownEngine      = errors.New("unknown engine type")
	ErrUnknownAlgorithm   = errors.New("unknown digest algorithm")
	ErrInvalidDigest      = errors.New("invalid digest")
	ErrPassAborted        = errors.New("sync pass aborted")
	ErrEngineUnavailable  = errors.New("download engine unavailable")
	ErrInsufficientSpace  = errors.New("insufficient space")
	ErrShortBody          = errors.New("response body shorter than expected size")
	ErrRangeNotSatisfied  = errors.New("range not satisfiable")
	ErrDestinationMissing = errors.New("destination missing or empty")
	ErrVerifyFailed       = errors.New("verification failed")
)

// FailureCause classifies why a transfer failed.
type FailureCause int

const (
	CauseNetwork FailureCause = iota
	CauseHTTPStatus
	CauseDiskWrite
	CauseEngineUnavailable
	CauseProcessExit
	CauseCanceled
	CauseInvalidDestination
)

// String returns the cause name
func (c FailureCause) String() string {
	switch c {
	case CauseNetwork:
		return "network_error"
	case CauseHTTPStatus:
		return "http_status"
	case CauseDiskWrite:
		return "disk_write"
	case CauseEngineUnavailable:
		return "engine_unavailable"
	case CauseProcessExit:
		return "process_exit"
	case CauseCanceled:
		return "canceled"
	case CauseInvalidDestination:
		return "invalid_destination"
	default:
		return fmt.Sprintf("cause(%d)", int(c))
	}
}

// TransferError describes a failed transfer attempt.
// StatusCode is set for CauseHTTPStatus, ExitCode for CauseProcessExit.
type TransferError struct {
	Cause      FailureCause
	StatusCode int
	ExitCode   int
	Err        error
}

// Error returns the error message
func (e *TransferError) Error() string {
	var prefix string
	switch e.Cause {
	case CauseHTTPStatus:
		prefix = fmt.Sprintf("%s %d", e.Cause, e.StatusCode)
	case CauseProcessExit:
		prefix = fmt.Sprintf("%s %d", e.Cause, e.ExitCode)
	default:
		prefix = e.Cause.String()
	}
	if e.Err != nil {
		return prefix + ": " + e.Err.Error()
	}
	return prefix
}

// Unwrap returns the underlying error
func (e *TransferError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
func (e *TransferError) Retryable() bool {
	switch e.Cause {
	case CauseNetwork, CauseProcessExit:
		return true
	case CauseHTTPStatus:
		return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

// Fatal reports whether the failure must abort the remaining pass.
func (e *TransferError) Fatal() bool {
	return e.Cause == CauseDiskWrite || e.Cause == CauseEngineUnavailable
}

// NewNetworkError wraps err as a network failure
func NewNetworkError(err error) *TransferError {
	return &TransferError{Cause: CauseNetwork, Err: err}
}

// NewHTTPStatusError creates an HTTP status failure
func NewHTTPStatusError(code int) *TransferError {
	return &TransferError{
		Cause:      CauseHTTPStatus,
		StatusCode: code,
		Err:        errors.New(http.StatusText(code)),
	}
}

// NewDiskWriteError wraps err as a disk failure
func NewDiskWriteError(err error) *TransferError {
	return &TransferError{Cause: CauseDiskWrite, Err: err}
}

// NewEngineUnavailableError wraps err as an unavailable engine
func NewEngineUnavailableError(err error) *TransferError {
	if err == nil {
		err = ErrEngineUnavailable
	} else {
		err = fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}
	return &TransferError{Cause: CauseEngineUnavailable, Err: err}
}

// NewProcessExitError creates an external process failure
func NewProcessExitError(code int, err error) *TransferError {
	return &TransferError{Cause: CauseProcessExit, ExitCode: code, Err: err}
}

// NewInvalidDestinationError wraps a destination the mirror cannot hold,
// such as the root itself or an existing directory. It fails only that file.
func NewInvalidDestinationError(err error) *TransferError {
	return &TransferError{Cause: CauseInvalidDestination, Err: err}
}

// NewCanceledError wraps a context error
func NewCanceledError(err error) *TransferError {
	return &TransferError{Cause: CauseCanceled, Err: err}
}

// AsTransferError extracts a TransferError from err
func AsTransferError(err error) (*TransferError, bool) {
	var te *TransferError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsRetryable returns true if the error should be retried
func IsRetryable(err error) bool {
	te, ok := AsTransferError(err)
	return ok && te.Retryable()
}

// IsFatal returns true if the error aborts the pass
func IsFatal(err error) bool {
	te, ok := AsTransferError(err)
	return ok && te.Fatal()
}
