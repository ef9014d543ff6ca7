package replication

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quorumkv/torua/internal/cluster"
	"github.com/quorumkv/torua/internal/shard"
)

// ReplicationPhase fans a replica request out to every assigned non-primary
// copy of a shard, active or not (including relocation targets; unassigned
// copies are counted but not dispatched), tallies successes and ignorable
// failures, and delivers the single terminal reply. It owns the reply
// callback and the shard reference from construction onward: PrimaryPhase
// must not touch either after calling Start. See spec.md §4.3.
type ReplicationPhase struct {
	localNodeID         string
	state               StateSource
	transport           Transport
	failureReporter     ShardFailureReporter
	shardFailureTimeout time.Duration

	index      string
	shardID    int
	replicaReq ReplicaRequest
	primary    Response
	ref        *shard.Ref
	reply      func(Response, error)

	totalShards int
	success     atomic.Int32
	pending     atomic.Int32
	finished    atomic.Bool

	mu       sync.Mutex
	failures []ShardFailure
}

// NewReplicationPhase constructs a phase ready to Start. primary is the
// action-specific response PrimaryPhase produced; ReplicationPhase embeds
// it, unmodified, into its own freshly built terminal Response rather than
// mutating primary.Shards in place (spec.md §9's WriteResult aliasing note).
func NewReplicationPhase(
	localNodeID string,
	state StateSource,
	transport Transport,
	failureReporter ShardFailureReporter,
	shardFailureTimeout time.Duration,
	index string,
	shardID int,
	replicaReq ReplicaRequest,
	primary Response,
	ref *shard.Ref,
	reply func(Response, error),
) *ReplicationPhase {
	return &ReplicationPhase{
		localNodeID:         localNodeID,
		state:               state,
		transport:           transport,
		failureReporter:     failureReporter,
		shardFailureTimeout: shardFailureTimeout,
		index:               index,
		shardID:             shardID,
		replicaReq:          replicaReq,
		primary:             primary,
		ref:                 ref,
		reply:               reply,
	}
}

// replicaTarget is one node a replica op must be dispatched to.
type replicaTarget struct {
	nodeID string
}

// Start takes a fresh cluster-state snapshot, enumerates replica and
// relocation targets, dispatches to each (fire-and-forget; they complete in
// arbitrary order), and replies once every target has either answered or
// been accounted as failed.
func (r *ReplicationPhase) Start(ctx context.Context) {
	state := r.state.Current()
	table, _ := state.Routing.Shard(r.index, r.shardID)
	meta := state.Indices[r.index]
	shouldReplicate := meta.ShouldExecuteReplication()

	var targets []replicaTarget
	ignored := 0

	for _, copy := range table.Iterator() {
		if copy.Primary {
			// The local primary already ran PrimaryPhase; it is never its
			// own replica target.
			continue
		}
		if !shouldReplicate {
			ignored++
			continue
		}
		if copy.Unassigned {
			ignored++
			continue
		}
		if copy.NodeID != r.localNodeID {
			targets = append(targets, replicaTarget{nodeID: copy.NodeID})
		}
		if copy.Relocating && copy.RelocatingNodeID != "" && copy.RelocatingNodeID != r.localNodeID {
			targets = append(targets, replicaTarget{nodeID: copy.RelocatingNodeID})
		}
	}

	r.totalShards = 1 + len(targets) + ignored
	r.success.Store(1)
	r.pending.Store(int32(len(targets)))

	if len(targets) == 0 {
		r.finish()
		return
	}

	for _, t := range targets {
		go r.dispatchReplica(ctx, state, t.nodeID)
	}
}

// dispatchReplica sends the replica request to nodeID and accounts for the
// outcome. Each path ends by decrementing pending exactly once.
func (r *ReplicationPhase) dispatchReplica(ctx context.Context, state cluster.ClusterState, nodeID string) {
	node, ok := state.Node(nodeID)
	if !ok {
		r.recordFailure(nodeID, nil)
		r.decrementPending()
		return
	}

	err := r.transport.Send(ctx, node, "write/replica", &r.replicaReq, nil)
	if err == nil {
		r.success.Add(1)
		r.decrementPending()
		return
	}

	if IgnoreReplica(err) {
		// Shard-not-available or version-conflict: the replica is already
		// current or on its way up. Not recorded, no shard-fail report.
		r.decrementPending()
		return
	}

	r.recordFailure(nodeID, err)
	r.reportShardFailure(nodeID, err)
	r.decrementPending()
}

// recordFailure appends a ShardFailure for nodeID. cause may be nil (a node
// absent from the snapshot entirely has no transport error to report).
func (r *ReplicationPhase) recordFailure(nodeID string, cause error) {
	f := ShardFailure{
		Index:   r.index,
		ShardID: r.shardID,
		NodeID:  nodeID,
		Status:  statusOf(cause),
		Primary: false,
	}
	if cause != nil {
		f.Cause = cause.Error()
	} else {
		f.Cause = "node not present in observed cluster state"
	}
	r.mu.Lock()
	r.failures = append(r.failures, f)
	r.mu.Unlock()
}

// reportShardFailure asynchronously asks the cluster-state authority to
// record nodeID's copy of this shard as failed. The replica is already
// accounted as failed locally by the time this is called; whatever the
// reporter's own outcome is (success, no master, transport failure) never
// changes that — it is purely a best-effort forwarding of the fact.
func (r *ReplicationPhase) reportShardFailure(nodeID string, cause error) {
	if r.failureReporter == nil {
		return
	}
	go func() {
		reportCtx, cancel := context.WithTimeout(context.Background(), r.shardFailureTimeout)
		defer cancel()
		if err := r.failureReporter.ReportFailure(reportCtx, r.shardID, nodeID, "replica op failed", cause, r.shardFailureTimeout); err != nil {
			slog.Warn("replication: shard-failed report did not complete", "shard", r.shardID, "node", nodeID, "error", err)
		}
	}()
}

func (r *ReplicationPhase) decrementPending() {
	if r.pending.Add(-1) == 0 {
		r.finish()
	}
}

// finish composes the terminal ShardInfo, releases the shard reference, and
// delivers the single reply. Guarded by finished so it runs exactly once
// even if every replica callback races to zero pending simultaneously.
func (r *ReplicationPhase) finish() {
	if !r.finished.CompareAndSwap(false, true) {
		slog.Warn("replication: duplicate terminal attempt suppressed", "index", r.index, "shard", r.shardID)
		return
	}

	r.ref.Release()

	r.mu.Lock()
	failures := append([]ShardFailure(nil), r.failures...)
	r.mu.Unlock()

	resp := r.primary
	resp.Shards = ShardInfo{
		Total:      r.totalShards,
		Successful: int(r.success.Load()),
		Failures:   failures,
	}
	r.reply(resp, nil)
}

// statusOf extracts the HTTP-status-like code from err for ShardFailure.Status,
// defaulting to 500 when err carries none.
func statusOf(err error) int {
	if err == nil {
		return 0
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 500
}
