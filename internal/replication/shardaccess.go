package replication

import (
	"fmt"
	"sync"

	"github.com/quorumkv/torua/internal/shard"
)

// LocalShards is the ShardAccess implementation backing a node process's
// own in-memory shard map, creating shards on demand exactly as Torua's
// node handlers already do for the raw /shard/ path.
type LocalShards struct {
	mu     sync.RWMutex
	shards map[int]*shard.Shard
}

// NewLocalShards creates an empty shard-access table.
func NewLocalShards() *LocalShards {
	return &LocalShards{shards: make(map[int]*shard.Shard)}
}

// Acquire returns a reference to shardID, creating it (as a primary-capable
// shard; its role is a property of the routing table, not the local
// struct) if this is the first access.
func (l *LocalShards) Acquire(shardID int) (*shard.Ref, error) {
	l.mu.RLock()
	s, ok := l.shards[shardID]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		s, ok = l.shards[shardID]
		if !ok {
			s = shard.NewShard(shardID, true)
			l.shards[shardID] = s
		}
		l.mu.Unlock()
	}

	ref, err := s.Acquire()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShardNotAvailable, err)
	}
	return ref, nil
}

// Get returns the shard for shardID without acquiring a reference, or nil
// if it does not exist yet. Used by read-only endpoints (/info, /shard/*
// stats) that don't participate in the write-coordination lifecycle.
func (l *LocalShards) Get(shardID int) *shard.Shard {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.shards[shardID]
}

// All returns every locally held shard, in no particular order.
func (l *LocalShards) All() []*shard.Shard {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*shard.Shard, 0, len(l.shards))
	for _, s := range l.shards {
		out = append(out, s)
	}
	return out
}
