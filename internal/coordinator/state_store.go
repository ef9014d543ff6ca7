package coordinator

import (
	"context"
	"sync"

	"github.com/quorumkv/torua/internal/cluster"
)

// StateStore is the coordinator's authoritative holder of cluster.ClusterState.
// It is the write side of the observer pattern backing cluster.Observer: every
// mutation goes through Update, which bumps Version and wakes any goroutine
// blocked in WaitForChange.
//
// The wake mechanism is the standard "closed channel as broadcast" idiom: a
// channel is closed (never sent on) when state changes, so every waiter
// selecting on it wakes simultaneously, then re-reads the state and the
// store hands out a fresh channel for the next change.
type StateStore struct {
	mu      sync.RWMutex
	state   cluster.ClusterState
	changed chan struct{}
}

// NewStateStore creates a store seeded with an initial state at version 0.
func NewStateStore(initial cluster.ClusterState) *StateStore {
	return &StateStore{
		state:   initial,
		changed: make(chan struct{}),
	}
}

// Current returns the latest cluster state without blocking.
func (s *StateStore) Current() cluster.ClusterState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Update applies fn to a mutable copy of the current state, increments
// Version, and wakes every goroutine blocked in WaitForChange. fn must not
// retain the pointer it's given beyond the call.
func (s *StateStore) Update(fn func(*cluster.ClusterState)) cluster.ClusterState {
	s.mu.Lock()
	fn(&s.state)
	s.state.Version++
	ch := s.changed
	s.changed = make(chan struct{})
	newState := s.state
	s.mu.Unlock()

	close(ch)
	return newState
}

// WaitForChange blocks until the store's version exceeds knownVersion or ctx
// is done. The second return value is false when ctx ended the wait with no
// change observed.
func (s *StateStore) WaitForChange(ctx context.Context, knownVersion uint64) (cluster.ClusterState, bool) {
	for {
		s.mu.RLock()
		state := s.state
		ch := s.changed
		s.mu.RUnlock()

		if state.Version > knownVersion {
			return state, true
		}

		select {
		case <-ch:
			continue
		case <-ctx.Done():
			return state, false
		}
	}
}
