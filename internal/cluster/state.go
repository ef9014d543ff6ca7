package cluster

// ShardRouting is a single shard copy's placement record: which node holds
// it, whether it is the primary or a replica, and whether it is in the
// middle of being relocated to another node.
//
// A ShardRouting is a value snapshot taken from the coordinator at a given
// cluster-state Version; it is never mutated in place once observed.
type ShardRouting struct {
	NodeID           string `json:"node_id"`
	RelocatingNodeID string `json:"relocating_node_id,omitempty"`
	Primary          bool   `json:"primary"`
	Active           bool   `json:"active"`
	Unassigned       bool   `json:"unassigned"`
	Relocating       bool   `json:"relocating"`
}

// ShardRoutingTable is the set of copies (primary + replicas) for a single
// shard of a single index.
type ShardRoutingTable struct {
	ShardID int            `json:"shard_id"`
	Copies  []ShardRouting `json:"copies"`
}

// Size returns the total number of copies configured for the shard,
// regardless of whether they are currently active.
func (t ShardRoutingTable) Size() int {
	return len(t.Copies)
}

// ActiveShards returns the subset of copies currently marked active.
func (t ShardRoutingTable) ActiveShards() []ShardRouting {
	active := make([]ShardRouting, 0, len(t.Copies))
	for _, c := range t.Copies {
		if c.Active {
			active = append(active, c)
		}
	}
	return active
}

// Primary returns the primary copy, or nil if none is currently assigned.
func (t ShardRoutingTable) Primary() *ShardRouting {
	for i := range t.Copies {
		if t.Copies[i].Primary {
			return &t.Copies[i]
		}
	}
	return nil
}

// Iterator returns the copies in an unspecified (implementation-defined)
// order, matching the "unordered iterator" semantics of spec.md's
// IndexShardRoutingTable. Callers must not depend on ordering.
func (t ShardRoutingTable) Iterator() []ShardRouting {
	return t.Copies
}

// IndexRoutingTable maps shard id to its routing table, for one index.
type IndexRoutingTable map[int]ShardRoutingTable

// RoutingTable maps index name to its per-shard routing tables.
type RoutingTable map[string]IndexRoutingTable

// Shard looks up the routing table for a single shard of an index. The
// second return value is false if the index or shard is not present.
func (rt RoutingTable) Shard(index string, shardID int) (ShardRoutingTable, bool) {
	idx, ok := rt[index]
	if !ok {
		return ShardRoutingTable{}, false
	}
	table, ok := idx[shardID]
	return table, ok
}

// ClusterBlock is a named, optionally-retryable restriction on write traffic.
// A retryable block is transient (e.g. "cluster is recovering") and should
// be waited out; a non-retryable block is terminal for the request (e.g.
// "index is read-only").
type ClusterBlock struct {
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
}

// BlockSet holds the write blocks in effect for the whole cluster and for
// individual indices.
type BlockSet struct {
	Global  []ClusterBlock          `json:"global,omitempty"`
	Indices map[string]ClusterBlock `json:"indices,omitempty"`
}

// GlobalWriteBlock returns the first global write block in effect, or nil.
func (b BlockSet) GlobalWriteBlock() *ClusterBlock {
	if len(b.Global) == 0 {
		return nil
	}
	blk := b.Global[0]
	return &blk
}

// IndexWriteBlock returns the write block in effect for the given index, or
// nil if the index has none.
func (b BlockSet) IndexWriteBlock(index string) *ClusterBlock {
	if b.Indices == nil {
		return nil
	}
	if blk, ok := b.Indices[index]; ok {
		return &blk
	}
	return nil
}

// IndexMetadata carries the per-index settings ReplicationPhase needs to
// decide whether an index uses shadow replicas (spec.md's
// should_execute_replication predicate).
type IndexMetadata struct {
	Name            string `json:"name"`
	ShadowReplicas  bool   `json:"shadow_replicas"`
	NumberOfShards  int    `json:"number_of_shards"`
	NumberOfReplica int    `json:"number_of_replicas"`
}

// ShouldExecuteReplication reports whether replica copies of this index
// should receive the replicated write. Shadow-replica indices share storage
// with the primary and skip the replica fan-out entirely.
func (m IndexMetadata) ShouldExecuteReplication() bool {
	return !m.ShadowReplicas
}

// ClusterState is an immutable, versioned snapshot of cluster membership,
// routing, blocks, and index metadata, exactly as spec.md's "Observed
// ClusterState" describes it: potentially stale by the time a phase acts on
// it, refreshed by taking a fresh snapshot at the start of each phase/retry
// rather than re-reading shared mutable state mid-step.
type ClusterState struct {
	Version uint64                   `json:"version"`
	Nodes   map[string]NodeInfo      `json:"nodes"`
	Routing RoutingTable             `json:"routing"`
	Blocks  BlockSet                 `json:"blocks"`
	Indices map[string]IndexMetadata `json:"indices"`
}

// NodeExists reports whether a node id is present in this snapshot — used
// by ReroutePhase and ReplicationPhase to detect a primary or replica
// assigned to a node that has since disappeared from the cluster.
func (s ClusterState) NodeExists(id string) bool {
	_, ok := s.Nodes[id]
	return ok
}

// Node returns the NodeInfo for an id present in this snapshot.
func (s ClusterState) Node(id string) (NodeInfo, bool) {
	n, ok := s.Nodes[id]
	return n, ok
}
