// Package replication implements the primary-replica write coordination
// core: ReroutePhase resolves the target shard and dispatches to its
// primary (locally or remotely, retrying on transient cluster-state
// problems); PrimaryPhase runs the write on the primary under a
// write-consistency admission check; ReplicationPhase fans the resulting
// replica op out to every active copy, tallies successes and ignorable
// failures, and replies to the caller exactly once.
package replication

import (
	"context"
	"time"

	"github.com/quorumkv/torua/internal/cluster"
	"github.com/quorumkv/torua/internal/shard"
)

// Action bundles the three hooks a concrete write action must supply: how
// to resolve a request to a concrete shard id, how to execute the op on the
// primary, and how to apply the derived ReplicaRequest on a replica.
// Torua has exactly one Action implementation (internal/replication/kvaction.go),
// but the phases depend only on this interface so they carry no
// storage-specific logic.
type Action interface {
	// ResolveShardID computes the concrete shard id for req against state.
	// Called at most once per request, from ReroutePhase.
	ResolveShardID(state cluster.ClusterState, req *Request) (int, error)

	// ExecutePrimary runs the write against the shard ref's underlying
	// shard, returning the caller-facing result and the request to forward
	// to replicas. The shard ref is held by the caller (PrimaryPhase); this
	// method must not release it.
	ExecutePrimary(ref *shard.Ref, req *Request) (Response, ReplicaRequest, error)

	// ExecuteReplica applies a replica request to the shard ref's
	// underlying shard. The shard id in req is authoritative; this method
	// must not re-resolve routing.
	ExecuteReplica(ref *shard.Ref, req *ReplicaRequest) error
}

// StateSource is the cluster-state provider a phase consults: a
// non-blocking current snapshot, and an Observer for awaiting the next
// change.
type StateSource interface {
	Current() cluster.ClusterState
	Observer() *cluster.Observer
}

// Transport sends a request to a node's registered HTTP action and decodes
// its JSON reply into out. action is one of "write", "write/primary", or
// "write/replica" (SPEC_FULL §6's three registered endpoints).
type Transport interface {
	Send(ctx context.Context, node cluster.NodeInfo, action string, body, out any) error
}

// ShardAccess acquires a scoped reference on a local shard, the Go
// realization of "increment_operation_counter".
type ShardAccess interface {
	Acquire(shardID int) (*shard.Ref, error)
}

// ShardFailureReporter asks the coordinator to record a replica as failed
// for the given shard, the Go realization of the shard-failed master RPC.
// It always resolves to "replica failed" locally regardless of its own
// outcome — ReplicationPhase never blocks the client reply on it.
type ShardFailureReporter interface {
	ReportFailure(ctx context.Context, shardID int, nodeID, reason string, cause error, timeout time.Duration) error
}
