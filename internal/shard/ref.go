package shard

import (
	"errors"
	"sync/atomic"
)

// ErrShardClosing is returned by Acquire once a shard has begun closing; no
// new operation may start against it past that point.
var ErrShardClosing = errors.New("shard: closing, cannot acquire")

// Ref is a scoped handle on a Shard held for the duration of a single write.
// Acquiring a Ref increments the shard's in-flight operation counter;
// Release decrements it and is safe to call more than once (only the first
// call has effect), matching the idempotent-release pattern a write
// coordination path needs when success and failure branches both defer a
// release of the same handle.
type Ref struct {
	shard    *Shard
	released atomic.Bool
}

// Release returns the reference, allowing the shard to proceed with closing
// once every outstanding Ref has been released. Calling Release more than
// once is a no-op.
func (r *Ref) Release() {
	if r.released.CompareAndSwap(false, true) {
		atomic.AddInt32(&r.shard.opCount, -1)
	}
}

// Shard returns the underlying shard this reference guards.
func (r *Ref) Shard() *Shard {
	return r.shard
}

// Acquire takes a scoped reference on the shard, incrementing its in-flight
// operation counter so BeginClose cannot complete while a write is running.
// Acquire fails once the shard has begun closing.
func (s *Shard) Acquire() (*Ref, error) {
	if s.closing.Load() {
		return nil, ErrShardClosing
	}
	atomic.AddInt32(&s.opCount, 1)
	// Re-check after incrementing: a close that started concurrently with
	// this Acquire may have already observed opCount == 0 and proceeded.
	if s.closing.Load() {
		atomic.AddInt32(&s.opCount, -1)
		return nil, ErrShardClosing
	}
	return &Ref{shard: s}, nil
}

// BeginClose marks the shard as closing, rejecting any further Acquire
// calls, and reports whether it is immediately safe to close (no
// outstanding references). The caller is expected to poll OpCount until it
// reaches zero if this returns false.
func (s *Shard) BeginClose() (safe bool) {
	s.closing.Store(true)
	return atomic.LoadInt32(&s.opCount) == 0
}

// OpCount returns the number of currently outstanding Refs.
func (s *Shard) OpCount() int32 {
	return atomic.LoadInt32(&s.opCount)
}

// CancelClose reverts a BeginClose that was not followed through, allowing
// new Acquire calls again.
func (s *Shard) CancelClose() {
	s.closing.Store(false)
}
