package matcher

import "sync/atomic"

// CancelFlag is a cooperative cancellation signal. The pipeline polls it
// between steps and between batches; a batch already running is allowed to
// finish.
type CancelFlag struct {
	state atomic.Int32 // 0 = running, 1 = cancelled
}

// Cancel raises the flag. Returns true only for the call that raised it.
func (f *CancelFlag) Cancel() bool {
	return f.state.CompareAndSwap(0, 1)
}

// Cancelled reports whether the flag is raised
func (f *CancelFlag) Cancelled() bool {
	return f.state.Load() == 1
}
