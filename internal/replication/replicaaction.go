package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quorumkv/torua/internal/shard"
)

// ReplicaAction is the replica-side counterpart of PrimaryPhase: it applies
// a ReplicaRequest to the local shard, the Go realization of spec.md §4.5's
// AsyncReplicaAction. The shard id on req is authoritative; ReplicaAction
// never consults routing.
type ReplicaAction struct {
	shards ShardAccess
	action Action
	state  StateSource
}

// NewReplicaAction constructs the replica-apply helper a node's
// "write/replica" transport handler delegates to.
func NewReplicaAction(shards ShardAccess, action Action, state StateSource) *ReplicaAction {
	return &ReplicaAction{shards: shards, action: action, state: state}
}

// Apply runs the replica op, retrying indefinitely (bounded only by ctx) on
// ErrRetryOnReplica by awaiting the next cluster-state change before
// re-running — spec.md's deliberate choice that a stuck replica retry beats
// incorrectly failing the copy. Any other non-ignorable error best-effort
// marks the local shard failed before returning; Apply always returns the
// final error to the caller, which accounts for it on the coordinator side
// (a replica never sends a structured failure, only success or this error).
func (a *ReplicaAction) Apply(ctx context.Context, req *ReplicaRequest) error {
	for {
		ref, err := a.shards.Acquire(req.ShardID)
		if err != nil {
			return err
		}

		err = a.action.ExecuteReplica(ref, req)
		ref.Release()
		if err == nil {
			return nil
		}

		if errors.Is(err, ErrRetryOnReplica) {
			obs := a.state.Observer()
			known := obs.State().Version
			_, closed, _ := obs.WaitForChange(ctx, known)
			if closed {
				return fmt.Errorf("%w: cluster state source closed during replica retry", ErrNodeClosed)
			}
			continue
		}

		if !IgnoreReplica(err) {
			a.failLocalShard(ref, err)
		}
		return err
	}
}

// failLocalShard best-effort marks the underlying shard failed so it stops
// being considered a healthy copy locally, standing in for
// shard.fail_shard(reason, cause). It never returns an error: the caller
// always propagates the original op failure regardless of this outcome.
func (a *ReplicaAction) failLocalShard(ref *shard.Ref, cause error) {
	s := ref.Shard()
	slog.Warn("replica: marking local shard failed", "shard", s.ID, "error", cause)
	s.SetState(shard.ShardStateDeleted)
}
