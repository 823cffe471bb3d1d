package errors

import (
	"errors"
	"fmt"
)

var (
	ErrModelFileNotFound = errors.New("model file not found")
	ErrDuplicateSource   = errors.New("model file with the same source already exists")

	// ErrCancelled marks a download stopped by a cancel request. It is
	// expected control flow, not a failure.
	ErrCancelled = errors.New("download cancelled")
)

// ProbeError wraps a failed size probe. Probe failures are not terminal:
// the record stays in the downloading state and the probe is retried when
// the event is delivered again.
type ProbeError struct {
	Err error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("size probe failed: %v", e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// TransferError wraps a driver failure during transfer. Transfer failures
// are terminal and written back as an error state.
type TransferError struct {
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed: %v", e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
