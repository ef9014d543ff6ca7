package replication

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/quorumkv/torua/internal/cluster"
)

// levelConflict is a custom slog level below Debug, standing in for the
// original's "trace" level: a version-conflict primary failure is routine
// enough (a concurrent writer won the race) that it shouldn't compete with
// genuine debug output. Any other primary failure logs at the ordinary
// Debug level. slog has no built-in trace level, so this is the idiomatic
// way to get one more rung below it.
const levelConflict = slog.LevelDebug - 4

// MappingSyncer synchronously refreshes a node's view of an index's
// metadata from the cluster-state authority, the Go realization of
// update_mapping_on_master_synchronously. PrimaryPhase calls it when the
// shard id it was handed no longer matches what the action would resolve
// against the freshest state, standing in for a dynamic mapping update
// produced by parsing the write.
type MappingSyncer interface {
	SyncMapping(ctx context.Context, index string) (cluster.ClusterState, error)
}

// PrimaryPhase runs a write's primary operation on the node holding the
// shard's primary copy, admits it against the request's write-consistency
// level, and on success hands the channel and shard reference off to a
// ReplicationPhase. See spec.md §4.2.
type PrimaryPhase struct {
	localNodeID         string
	state               StateSource
	action              Action
	shards              ShardAccess
	transport           Transport
	failureReporter     ShardFailureReporter
	shardFailureTimeout time.Duration
	clusterDefault      WriteConsistencyLevel
	mappingSyncer       MappingSyncer

	req   *Request
	reply func(Response, error)

	handedOff atomic.Bool
}

// NewPrimaryPhase constructs a phase ready to Run. req must already carry a
// resolved shard id (ReroutePhase's job); reply is invoked exactly once,
// either directly by this phase (on admission or op failure) or indirectly
// by the ReplicationPhase it hands off to on success.
func NewPrimaryPhase(
	localNodeID string,
	state StateSource,
	action Action,
	shards ShardAccess,
	transport Transport,
	failureReporter ShardFailureReporter,
	shardFailureTimeout time.Duration,
	clusterDefault WriteConsistencyLevel,
	mappingSyncer MappingSyncer,
	req *Request,
	reply func(Response, error),
) *PrimaryPhase {
	return &PrimaryPhase{
		localNodeID:         localNodeID,
		state:               state,
		action:              action,
		shards:              shards,
		transport:           transport,
		failureReporter:     failureReporter,
		shardFailureTimeout: shardFailureTimeout,
		clusterDefault:      clusterDefault,
		mappingSyncer:       mappingSyncer,
		req:                 req,
		reply:               reply,
	}
}

// Run executes the phase to completion (a terminal reply) or a successful
// hand-off to ReplicationPhase. It is meant to run on its own goroutine,
// the Go stand-in for "the action's executor".
func (p *PrimaryPhase) Run(ctx context.Context) {
	shardID, ok := p.req.ShardID()
	if !ok {
		p.finishFailed(fmt.Errorf("%w: primary phase entered without a resolved shard id", ErrUnavailableShards))
		return
	}

	state := p.state.Current()

	if err := p.syncStaleMapping(ctx, &state, shardID); err != nil {
		p.finishFailed(err)
		return
	}

	table, ok := state.Routing.Shard(p.req.Index, shardID)
	if !ok {
		p.finishFailed(fmt.Errorf("%w: index %s shard %d routing missing at primary", ErrUnavailableShards, p.req.Index, shardID))
		return
	}

	required := RequiredActive(ResolveConsistency(p.req.Consistency, p.clusterDefault), table.Size())
	active := len(table.ActiveShards())
	if active < required {
		p.finishFailed(fmt.Errorf("%w: only %d of %d required active copies for shard %d", ErrUnavailableShards, active, required, shardID))
		return
	}

	ref, err := p.shards.Acquire(shardID)
	if err != nil {
		p.finishFailed(err)
		return
	}

	resp, replicaReq, err := p.action.ExecutePrimary(ref, p.req)
	if err != nil {
		if IsConflict(err) {
			slog.Log(ctx, levelConflict, "primary op failed on conflict", "index", p.req.Index, "shard", shardID, "error", err)
		} else {
			slog.Debug("primary op failed", "index", p.req.Index, "shard", shardID, "error", err)
		}
		ref.Release()
		p.finishFailed(err)
		return
	}

	rp := NewReplicationPhase(
		p.localNodeID,
		p.state,
		p.transport,
		p.failureReporter,
		p.shardFailureTimeout,
		p.req.Index,
		shardID,
		replicaReq,
		resp,
		ref,
		p.reply,
	)

	if !p.handedOff.CompareAndSwap(false, true) {
		panic("replication: primary phase handed off twice")
	}
	rp.Start(ctx)
}

// syncStaleMapping re-resolves req's shard id against state and, if it no
// longer matches the id ReroutePhase stamped, synchronously asks
// mappingSyncer to refresh state and re-checks once more. A persistent
// mismatch after the refresh raises ErrRetryOnPrimary so ReroutePhase
// restarts the whole operation against current routing, exactly as spec.md
// §4.2 describes for a dynamic mapping update that is "still" produced
// after syncing with the master.
func (p *PrimaryPhase) syncStaleMapping(ctx context.Context, state *cluster.ClusterState, shardID int) error {
	resolved, err := p.action.ResolveShardID(*state, p.req)
	if err != nil || resolved == shardID {
		return nil
	}
	if p.mappingSyncer == nil {
		return fmt.Errorf("%w: shard mapping stale for index %s", ErrRetryOnPrimary, p.req.Index)
	}

	fresh, err := p.mappingSyncer.SyncMapping(ctx, p.req.Index)
	if err != nil {
		return fmt.Errorf("replication: sync mapping: %w", err)
	}
	*state = fresh

	resolved, err = p.action.ResolveShardID(fresh, p.req)
	if err != nil || resolved != shardID {
		return fmt.Errorf("%w: shard mapping for index %s still stale after sync", ErrRetryOnPrimary, p.req.Index)
	}
	return nil
}

// finishFailed delivers a terminal failure directly, without ever handing
// off to ReplicationPhase. Safe to call at most meaningfully once; a second
// call after hand-off is a programming error.
func (p *PrimaryPhase) finishFailed(err error) {
	if p.handedOff.CompareAndSwap(false, true) {
		p.reply(Response{}, err)
		return
	}
	slog.Warn("primary: duplicate terminal attempt suppressed", "index", p.req.Index, "error", err)
}
