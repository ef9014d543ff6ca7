// Package coordinator implements the orchestration layer for Torua's distributed storage system.
// See doc.go for complete package documentation.
package coordinator

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/quorumkv/torua/internal/cluster"
)

// ShardAssignment represents one copy of a shard placed on a node: the
// primary, a replica, or a replica mid-relocation to another node.
//
// The assignment model enforces:
//   - Every shard has at most one primary copy at any time
//   - Zero or more replica copies, each on a distinct node
//   - Assignments change under AssignShard/AssignReplica/FailNode/Relocate,
//     never by mutating a value returned to a caller
//
// Thread Safety: ShardAssignment values are returned as copies; mutating a
// returned value never affects registry state.
type ShardAssignment struct {
	ShardID   int    // The shard this is a copy of.
	NodeID    string // The node currently holding this copy.
	IsPrimary bool   // Primary handles writes; replicas receive the fan-out.

	// Relocating is true while this copy is being moved to RelocatingNodeID.
	// Per spec.md, a relocating copy is addressed on BOTH the source and
	// destination node until the move completes.
	Relocating       bool
	RelocatingNodeID string
}

// ShardRegistry is the coordinator's authoritative record of shard-to-node
// placement: which node holds the primary for each shard, which nodes hold
// replicas, and which copies are mid-relocation. It is the source registry
// from which cluster.RoutingTable snapshots are built for nodes to consume.
//
// Concurrency model:
//   - Read operations (GetAssignment, GetAllAssignments, BuildRoutingTable)
//     take an RLock and return copies.
//   - Write operations (AssignShard, AssignReplica, FailNode, Relocate)
//     take an exclusive Lock.
//   - No lock is held during any network I/O; the registry never calls out.
type ShardRegistry struct {
	mu sync.RWMutex
	// copies maps shard id to its current set of copies, in the order they
	// were assigned (the primary is not necessarily first; callers must not
	// rely on order beyond what ShardRoutingTable.Iterator documents as
	// unordered).
	copies map[int][]*ShardAssignment

	numShards    int
	replicaCount int
}

// NewShardRegistry creates a registry for numShards shards with no replicas
// configured (replicaCount defaults to 0, matching the teacher's original
// primary-only behavior). Use NewShardRegistryWithReplicas to configure a
// replication factor at construction time.
func NewShardRegistry(numShards int) *ShardRegistry {
	return NewShardRegistryWithReplicas(numShards, 0)
}

// NewShardRegistryWithReplicas creates a registry for numShards shards, each
// targeting replicaCount replica copies in addition to its primary.
// replicaCount is advisory: RebalanceShards uses it to decide how many
// replica copies to hand out per shard, but AssignShard/AssignReplica accept
// any placement a caller explicitly requests.
func NewShardRegistryWithReplicas(numShards, replicaCount int) *ShardRegistry {
	return &ShardRegistry{
		copies:       make(map[int][]*ShardAssignment),
		numShards:    numShards,
		replicaCount: replicaCount,
	}
}

func (r *ShardRegistry) validateShardID(shardID int) error {
	if shardID < 0 || shardID >= r.numShards {
		return fmt.Errorf("invalid shard ID %d, must be in range [0, %d)", shardID, r.numShards)
	}
	return nil
}

// AssignShard assigns a shard copy to a node. When isPrimary is true, any
// other copy of the same shard currently marked primary is demoted to
// replica first, preserving the "at most one primary" invariant. Assigning
// to a node that already holds a copy of this shard overwrites that copy in
// place (role change, e.g. promoting an existing replica).
func (r *ShardRegistry) AssignShard(shardID int, nodeID string, isPrimary bool) error {
	if err := r.validateShardID(shardID); err != nil {
		return err
	}
	if nodeID == "" {
		return errors.New("node ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	copies := r.copies[shardID]
	if isPrimary {
		for _, c := range copies {
			c.IsPrimary = false
		}
	}
	for _, c := range copies {
		if c.NodeID == nodeID {
			c.IsPrimary = isPrimary
			c.Relocating = false
			c.RelocatingNodeID = ""
			return nil
		}
	}
	r.copies[shardID] = append(copies, &ShardAssignment{
		ShardID:   shardID,
		NodeID:    nodeID,
		IsPrimary: isPrimary,
	})
	return nil
}

// AssignReplica is AssignShard(shardID, nodeID, false); a named convenience
// for the common "add a replica" call site.
func (r *ShardRegistry) AssignReplica(shardID int, nodeID string) error {
	return r.AssignShard(shardID, nodeID, false)
}

// Relocate marks the copy of shardID on fromNodeID as relocating to
// toNodeID. Both nodes are addressed by ReplicationPhase until the move
// completes (FinishRelocation moves the copy to toNodeID outright).
func (r *ShardRegistry) Relocate(shardID int, fromNodeID, toNodeID string) error {
	if err := r.validateShardID(shardID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.copies[shardID] {
		if c.NodeID == fromNodeID {
			c.Relocating = true
			c.RelocatingNodeID = toNodeID
			return nil
		}
	}
	return fmt.Errorf("shard %d has no copy on node %s to relocate", shardID, fromNodeID)
}

// FinishRelocation completes a relocation started by Relocate: the copy
// moves onto the target node and is no longer marked relocating.
func (r *ShardRegistry) FinishRelocation(shardID int, fromNodeID string) error {
	if err := r.validateShardID(shardID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.copies[shardID] {
		if c.NodeID == fromNodeID && c.Relocating {
			c.NodeID = c.RelocatingNodeID
			c.Relocating = false
			c.RelocatingNodeID = ""
			return nil
		}
	}
	return fmt.Errorf("shard %d has no relocation in progress from node %s", shardID, fromNodeID)
}

// RemoveShard clears all copies of a shard, making it fully unassigned.
func (r *ShardRegistry) RemoveShard(shardID int) error {
	if err := r.validateShardID(shardID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.copies, shardID)
	return nil
}

// FailNode removes every copy held by nodeID across all shards. For any
// shard where the failed node held the primary, the first remaining replica
// (if any) is promoted to primary — a simple, order-stable failover that
// favors availability over any particular replica-selection policy.
//
// Returns the IDs of shards whose copy set changed, so the caller (the
// health monitor's onUnhealthy callback) can bump the cluster state
// version exactly once for the whole batch of changes.
func (r *ShardRegistry) FailNode(nodeID string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var affected []int
	for shardID, copies := range r.copies {
		kept := copies[:0]
		hadPrimary := false
		for _, c := range copies {
			if c.NodeID == nodeID {
				if c.IsPrimary {
					hadPrimary = true
				}
				continue
			}
			kept = append(kept, c)
		}
		if len(kept) == len(copies) {
			continue
		}
		if hadPrimary && len(kept) > 0 {
			kept[0].IsPrimary = true
		}
		r.copies[shardID] = kept
		affected = append(affected, shardID)
	}
	sort.Ints(affected)
	return affected
}

// FailShardCopy removes a single shard copy reported failed by
// ReplicationPhase's shard-failed RPC — just that (shardID, nodeID) pair,
// unlike FailNode which clears every shard a node holds. If the failed copy
// was the primary, the first remaining copy (if any) is promoted, the same
// order-stable failover FailNode uses. Reports whether the registry
// actually changed (false if nodeID held no copy of shardID), so callers
// only bump the cluster-state version on a real change.
func (r *ShardRegistry) FailShardCopy(shardID int, nodeID string) (bool, error) {
	if err := r.validateShardID(shardID); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	copies := r.copies[shardID]
	kept := copies[:0]
	found := false
	hadPrimary := false
	for _, c := range copies {
		if c.NodeID == nodeID {
			found = true
			if c.IsPrimary {
				hadPrimary = true
			}
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return false, nil
	}
	if hadPrimary && len(kept) > 0 {
		kept[0].IsPrimary = true
	}
	r.copies[shardID] = kept
	return true, nil
}

// GetAssignment returns a copy of the primary assignment for shardID, or
// nil if the shard has no primary (unassigned, or mid-failover with no
// replica to promote).
func (r *ShardRegistry) GetAssignment(shardID int) *ShardAssignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.copies[shardID] {
		if c.IsPrimary {
			cp := *c
			return &cp
		}
	}
	return nil
}

// GetCopies returns copies of every assignment (primary and replica) for a
// shard, in no particular order.
func (r *ShardRegistry) GetCopies(shardID int) []*ShardAssignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ShardAssignment, 0, len(r.copies[shardID]))
	for _, c := range r.copies[shardID] {
		cp := *c
		out = append(out, &cp)
	}
	return out
}

// GetAllAssignments returns a copy of every assignment across every shard
// (primary and replica), in no particular order.
func (r *ShardRegistry) GetAllAssignments() []*ShardAssignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ShardAssignment, 0)
	for _, copies := range r.copies {
		for _, c := range copies {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out
}

// GetShardForKey determines which shard owns a given key via FNV-1a hashing.
func (r *ShardRegistry) GetShardForKey(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32()) % r.numShards
}

// GetNodeForKey returns the node currently holding the primary for the
// shard that owns key.
func (r *ShardRegistry) GetNodeForKey(key string) (string, error) {
	shardID := r.GetShardForKey(key)
	assignment := r.GetAssignment(shardID)
	if assignment == nil {
		return "", fmt.Errorf("shard %d is not assigned to any node", shardID)
	}
	return assignment.NodeID, nil
}

// GetNodeShards returns every shard ID for which nodeID holds any copy
// (primary or replica).
func (r *ShardRegistry) GetNodeShards(nodeID string) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var shards []int
	for shardID, copies := range r.copies {
		for _, c := range copies {
			if c.NodeID == nodeID {
				shards = append(shards, shardID)
				break
			}
		}
	}
	sort.Ints(shards)
	return shards
}

// NumShards returns the total number of shards in the cluster.
func (r *ShardRegistry) NumShards() int {
	return r.numShards
}

// RebalanceShards redistributes every shard's primary across nodes in
// round-robin order, then hands each shard up to replicaCount replicas on
// the following nodes in the ring (wrapping around, skipping the primary's
// node). It is intentionally simple: it does not account for existing data
// placement or minimize movement, matching the teacher's original
// round-robin primary assignment, generalized to also place replicas.
func (r *ShardRegistry) RebalanceShards(nodes []string) error {
	if len(nodes) == 0 {
		return errors.New("cannot rebalance with no nodes")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for shardID := 0; shardID < r.numShards; shardID++ {
		primaryIdx := shardID % len(nodes)
		copies := []*ShardAssignment{{
			ShardID:   shardID,
			NodeID:    nodes[primaryIdx],
			IsPrimary: true,
		}}
		for i := 1; i <= r.replicaCount && i < len(nodes); i++ {
			replicaIdx := (primaryIdx + i) % len(nodes)
			copies = append(copies, &ShardAssignment{
				ShardID:   shardID,
				NodeID:    nodes[replicaIdx],
				IsPrimary: false,
			})
		}
		r.copies[shardID] = copies
	}
	return nil
}

// BuildRoutingTable renders the registry's current placement into a
// cluster.RoutingTable snapshot for index, the wire format nodes consume via
// ClusterState. isActive reports whether a node should be considered active
// for a copy (typically backed by the health monitor); a copy on a node
// isActive reports false for is rendered Unassigned so ReroutePhase and
// ReplicationPhase treat it exactly like a genuinely missing copy.
func (r *ShardRegistry) BuildRoutingTable(index string, isActive func(nodeID string) bool) cluster.RoutingTable {
	r.mu.RLock()
	defer r.mu.RUnlock()

	indexTable := make(cluster.IndexRoutingTable, len(r.copies))
	for shardID, copies := range r.copies {
		routings := make([]cluster.ShardRouting, 0, len(copies))
		for _, c := range copies {
			active := isActive == nil || isActive(c.NodeID)
			routings = append(routings, cluster.ShardRouting{
				NodeID:           c.NodeID,
				RelocatingNodeID: c.RelocatingNodeID,
				Primary:          c.IsPrimary,
				Active:           active,
				Unassigned:       c.NodeID == "" || !active,
				Relocating:       c.Relocating,
			})
		}
		indexTable[shardID] = cluster.ShardRoutingTable{ShardID: shardID, Copies: routings}
	}
	return cluster.RoutingTable{index: indexTable}
}
