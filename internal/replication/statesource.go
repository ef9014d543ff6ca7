package replication

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quorumkv/torua/internal/cluster"
)

// ClusterStateSource is the StateSource a node process runs: it holds the
// most recently observed cluster.ClusterState and refreshes it in the
// background by long-polling the coordinator, so ReroutePhase reads a
// cached snapshot instead of making a network call on every request.
type ClusterStateSource struct {
	coordinatorAddr string

	mu    sync.RWMutex
	state cluster.ClusterState
}

// NewClusterStateSource seeds a state source with an initial snapshot
// (typically fetched once synchronously at startup) and the coordinator
// address used for subsequent long-poll refreshes and per-operation
// observers.
func NewClusterStateSource(coordinatorAddr string, initial cluster.ClusterState) *ClusterStateSource {
	return &ClusterStateSource{coordinatorAddr: coordinatorAddr, state: initial}
}

// Current returns the most recently cached cluster state.
func (c *ClusterStateSource) Current() cluster.ClusterState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Observer returns a fresh, unbounded Observer seeded with the current
// cached state — used by AsyncReplicaAction-equivalent retries, which wait
// for the next change with no timeout.
func (c *ClusterStateSource) Observer() *cluster.Observer {
	return cluster.NewObserver(c.coordinatorAddr, c.Current(), 0)
}

// Run long-polls the coordinator for cluster-state changes and updates the
// cached snapshot until ctx is done. Intended to run for the lifetime of
// the node process in its own goroutine.
func (c *ClusterStateSource) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		known := c.Current().Version
		obs := cluster.NewObserver(c.coordinatorAddr, c.Current(), 0)
		state, closed, _ := obs.WaitForChange(ctx, known)
		if closed {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("cluster state source: coordinator unreachable, retrying", "coordinator", c.coordinatorAddr)
			time.Sleep(time.Second)
			continue
		}
		c.mu.Lock()
		c.state = state
		c.mu.Unlock()
	}
}
