package replication

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/quorumkv/torua/internal/cluster"
	"github.com/quorumkv/torua/internal/shard"
)

// DefaultIndex is the single index name Torua's key-value store uses.
// Torua has no multi-index support; every write targets this index.
const DefaultIndex = "kv"

// KVAction is Torua's single Action: a key-value put/delete against the
// shard's in-memory store.
//
// ResolveShardID hashes a key to a shard id with the same FNV-1a-mod-N
// scheme coordinator.ShardRegistry uses to build the routing table, reading
// N from the cluster state's index metadata rather than holding its own
// registry handle — a node process has no ShardRegistry of its own, only
// the coordinator does.
type KVAction struct {
	mu sync.Mutex
	// versions tracks the next version to stamp per shard, standing in for
	// the translog-backed version sequence the original assigns per shard.
	// A real engine would persist this; Torua's in-memory store does not
	// survive restarts anyway, so an in-memory counter is consistent with
	// the rest of its durability story (see DESIGN.md).
	versions map[int]*int64
}

// NewKVAction constructs the KV write action.
func NewKVAction() *KVAction {
	return &KVAction{versions: make(map[int]*int64)}
}

// ResolveShardID hashes the op's key to its owning shard via the same
// FNV-1a scheme the coordinator's registry and routing table use.
func (a *KVAction) ResolveShardID(state cluster.ClusterState, req *Request) (int, error) {
	meta, ok := state.Indices[req.Index]
	if !ok || meta.NumberOfShards <= 0 {
		return 0, fmt.Errorf("%w: no shard count known for index %s", ErrUnavailableShards, req.Index)
	}
	h := fnv.New32a()
	h.Write([]byte(req.Op.Key))
	return int(h.Sum32()) % meta.NumberOfShards, nil
}

// nextVersion returns a monotonically increasing version for shardID,
// creating its counter on first use.
func (a *KVAction) nextVersion(shardID int) int64 {
	a.mu.Lock()
	ctr, ok := a.versions[shardID]
	if !ok {
		var zero int64
		ctr = &zero
		a.versions[shardID] = ctr
	}
	a.mu.Unlock()
	return atomic.AddInt64(ctr, 1)
}

// ExecutePrimary applies req.Op to the shard ref's underlying store,
// stamping the resulting version so replicas apply the identical value
// deterministically.
func (a *KVAction) ExecutePrimary(ref *shard.Ref, req *Request) (Response, ReplicaRequest, error) {
	shardID, _ := req.ShardID()
	version := a.nextVersion(shardID)

	s := ref.Shard()
	var created bool
	if req.Op.Delete {
		if err := s.Delete(req.Op.Key); err != nil {
			return Response{}, ReplicaRequest{}, fmt.Errorf("kv primary delete: %w", err)
		}
	} else {
		_, err := s.Get(req.Op.Key)
		created = err != nil
		if err := s.Put(req.Op.Key, req.Op.Value); err != nil {
			return Response{}, ReplicaRequest{}, fmt.Errorf("kv primary put: %w", err)
		}
	}

	op := req.Op
	op.Version = version
	replicaReq := ReplicaRequest{
		Index:   req.Index,
		ShardID: shardID,
		Op:      op,
		Version: version,
	}
	resp := Response{Result: WriteResult{Created: created, Version: version}}
	return resp, replicaReq, nil
}

// ExecuteReplica applies a ReplicaRequest's op to the shard ref's
// underlying store. The shard id carried on req is authoritative; this
// method never consults routing.
func (a *KVAction) ExecuteReplica(ref *shard.Ref, req *ReplicaRequest) error {
	s := ref.Shard()
	if req.Op.Delete {
		if err := s.Delete(req.Op.Key); err != nil {
			return fmt.Errorf("kv replica delete: %w", err)
		}
		return nil
	}
	if err := s.Put(req.Op.Key, req.Op.Value); err != nil {
		return fmt.Errorf("kv replica put: %w", err)
	}
	return nil
}
