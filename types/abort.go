package types

import (
	"context"
	"sync/atomic"
)

// AbortSignal is a one-shot observable trip flag, threaded through every
// suspending operation in the core. Once tripped it stays tripped; tripping
// is idempotent and safe to call from any goroutine.
type AbortSignal struct {
	tripped atomic.Bool
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewAbortSignal creates a fresh, untripped signal bound to parent.
func NewAbortSignal(parent context.Context) *AbortSignal {
	ctx, cancel := context.WithCancel(parent)
	return &AbortSignal{done: make(chan struct{}), ctx: ctx, cancel: cancel}
}

// Trip marks the signal tripped. Safe to call multiple times or
// concurrently; only the first call has any effect.
func (a *AbortSignal) Trip() {
	if a.tripped.CompareAndSwap(false, true) {
		close(a.done)
		a.cancel()
	}
}

// Tripped reports whether Trip has been called.
func (a *AbortSignal) Tripped() bool {
	return a.tripped.Load()
}

// Done returns a channel closed when the signal trips.
func (a *AbortSignal) Done() <-chan struct{} {
	return a.done
}

// Context returns a context.Context cancelled when the signal trips, for
// passing directly to database/sql, net/http, and SDK calls.
func (a *AbortSignal) Context() context.Context {
	return a.ctx
}
