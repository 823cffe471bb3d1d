// Package cancel provides the cancellation signal shared between the
// scheduler and a download task. It is the only state that crosses that
// boundary; everything else moves by value.
package cancel

import "sync/atomic"

const (
	idle int32 = iota
	requested
	acknowledged
)

// Flag is a tri-state cancellation signal: idle, requested, acknowledged.
// Set and Acknowledge are idempotent and safe to call concurrently.
type Flag struct {
	v atomic.Int32
}

// Set requests cancellation. Calling it again is a no-op.
func (f *Flag) Set() {
	f.v.CompareAndSwap(idle, requested)
}

// IsSet reports whether cancellation has been requested.
func (f *Flag) IsSet() bool {
	return f.v.Load() != idle
}

// Acknowledge records that the download task observed the request.
func (f *Flag) Acknowledge() {
	f.v.CompareAndSwap(requested, acknowledged)
}

// Acknowledged reports whether the task acknowledged the request.
func (f *Flag) Acknowledged() bool {
	return f.v.Load() == acknowledged
}
