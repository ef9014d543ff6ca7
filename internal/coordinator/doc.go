// Package coordinator implements the orchestration layer for Torua's distributed
// storage system, managing cluster topology, shard distribution, request routing,
// and maintaining system-wide consistency through centralized coordination.
//
// # Overview
//
// The coordinator serves as the control plane for the Torua cluster, making
// global decisions about data placement, node membership, and query routing.
// It maintains authoritative state about which nodes host which shards and
// ensures this information is propagated throughout the cluster.
//
// # Architecture
//
// The coordinator implements several key subsystems:
//
//	┌─────────────────────────────────────┐
//	│         COORDINATOR                  │
//	├─────────────────────────────────────┤
//	│                                     │
//	│  ┌──────────────────────────────┐  │
//	│  │   Shard Registry              │  │
//	│  │   - Node → Shard mappings     │  │
//	│  │   - Shard → Node mappings     │  │
//	│  │   - Replication tracking      │  │
//	│  └──────────────────────────────┘  │
//	│                                     │
//	│  ┌──────────────────────────────┐  │
//	│  │   Health Monitor              │  │
//	│  │   - Periodic /health probes   │  │
//	│  │   - Failure detection         │  │
//	│  └──────────────────────────────┘  │
//	│                                     │
//	│  ┌──────────────────────────────┐  │
//	│  │   State Store                 │  │
//	│  │   - Versioned cluster state   │  │
//	│  │   - Wakes long-poll watchers  │  │
//	│  └──────────────────────────────┘  │
//	│                                     │
//	└─────────────────────────────────────┘
//
// # Core Components
//
// ShardRegistry: Central registry of shard assignments
//   - Maps each shard to its copies: at most one primary plus replicas
//   - Handles failover (FailNode, FailShardCopy) and relocation
//   - Renders routing tables for the published cluster state
//   - Guarded by one sync.RWMutex; reads return copies
//
// HealthMonitor: Tracks node liveness
//   - Probes each node's /health endpoint every interval
//   - Marks a node unhealthy after 3 consecutive failures and invokes the
//     callback set with SetOnUnhealthy
//
// StateStore: Holds the versioned cluster state
//   - Update bumps the version and wakes every WaitForChange caller
//   - Backs the coordinator's /cluster/state and /cluster/watch endpoints
//
// Node registration, key routing and broadcasts are HTTP handlers in
// cmd/coordinator, not types in this package.
//
// # Shard Distribution Strategy
//
// Keys map to shards by hashing modulo the shard count (no hash ring):
//
//	shard = FNV-1a-32(key) mod ShardCount
//
// GetShardForKey computes this, and replication.KVAction uses the same
// formula on the nodes. The shard count is fixed when the registry is
// created.
//
// Placement of shards on nodes:
//   - When a node registers, cmd/coordinator gives every unassigned shard a
//     primary, round-robin over the registered nodes, unless the optional
//     topology file pins it; replicas are placed only by the topology file
//     or an explicit assignment
//   - RebalanceShards reassigns every shard round-robin over a node list,
//     with up to replicaCount replicas on the following nodes; it does not
//     minimize data movement
//   - FailNode removes a failed node's copies and promotes the first
//     remaining copy of each shard whose primary it held
//
// # Request Routing Protocol
//
// cmd/coordinator routes /data/{key} requests in three steps:
//
// 1. Key Resolution:
//   - Hash the key to determine target shard
//   - Look up the node holding that shard's primary
//   - Answer 503 if the shard has no primary or the node is not registered
//
// 2. Request Forwarding:
//   - Forward GET, PUT or DELETE to /shard/{id}/store/{key} on that node
//   - Each forwarded request has a 5s timeout
//
// 3. Response Handling:
//   - Relay the node's status code (and, for GET and PUT, its body)
//   - Answer 502 if the node cannot be reached; the request is not
//     retried and no replica is tried
//
// Writes sent to the coordinator's /write endpoint go through the
// replication engine (internal/replication) on a node instead.
//
// # Concurrency and Synchronization
//
// The coordinator handles concurrency through:
//
// Lock Granularity:
//   - ShardRegistry, HealthMonitor and StateStore each guard their state
//     with one sync.RWMutex
//   - Read-write locks for registry access
//
// Goroutine Patterns:
//   - One health monitor goroutine probes the nodes one after another
//   - StateStore wakes waiters by closing a channel on every Update
//   - Context cancellation for request timeouts
//
// Consistency Guarantees:
//   - Linearizable reads from registry
//   - Eventually consistent broadcast propagation
//   - At-least-once delivery for state updates
//
// # Failure Scenarios and Recovery
//
// The coordinator handles various failure modes:
//
// Node Failures:
//   - Detection: Health check timeouts (3 strikes)
//   - Impact: The failed node's shard copies are removed from the registry
//   - Recovery: A remaining replica is promoted to primary; a shard with
//     no other copy stays unassigned
//
// Network Partitions:
//   - Detection: Partial health check failures
//   - Impact: Split-brain scenarios possible
//   - Recovery: Quorum-based decision making (future)
//   - Mitigation: Prefer availability over consistency
//
// Coordinator Failures:
//   - Detection: Client connection failures
//   - Impact: No new nodes can register
//   - Recovery: Manual restart required (current)
//   - Future: Standby coordinators with failover
//
// # Performance Characteristics
//
// Operation complexities:
//   - Node registration: O(s) where s = shards to assign
//   - Shard lookup: O(1) average, O(n) worst case
//   - Health check round: O(n) with n nodes (sequential)
//   - Broadcast: O(n*m) where m = message size
//   - Key routing: O(1) hash, then a scan of the shard's copies
//
// Scalability limits:
//   - Nodes: ~1000 (limited by broadcast overhead)
//   - Shards: ~10000 (limited by memory usage)
//   - Requests/sec: ~50000 (limited by routing CPU)
//   - Typical latency: <5ms for routing decision
//
// # Configuration
//
// Environment variables read by cmd/coordinator:
//
//	SHARD_COUNT:           4     // Total shards in cluster
//	REPLICA_COUNT:         1     // Replicas per shard for RebalanceShards and index metadata
//	HEALTH_CHECK_INTERVAL: 5s    // Frequency of health probes
//
// Fixed values: each health probe times out after 2s, a node is marked
// unhealthy after 3 consecutive failed probes, and /broadcast gives up after
// 4s.
//
// # Usage Example
//
//	// Creating a registry and placing shards
//	registry := NewShardRegistryWithReplicas(4, 1)
//	if err := registry.RebalanceShards([]string{"node-1", "node-2"}); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Routing a key to the node holding its shard's primary
//	shardID := registry.GetShardForKey("user:123")
//	nodeID, err := registry.GetNodeForKey("user:123")
//
//	// Publishing the placement to nodes
//	store := NewStateStore(cluster.ClusterState{})
//	store.Update(func(cs *cluster.ClusterState) {
//	    cs.Routing = registry.BuildRoutingTable("kv", nil)
//	})
//
// # Monitoring and Observability
//
// The coordinator exposes no metrics. Its state can be read from the
// /nodes, /shards and /cluster/state endpoints, and health transitions and
// shard failovers are logged through log/slog.
//
// # Limitations and Future Work
//
// Current limitations:
//   - Single coordinator (SPOF)
//   - No automatic shard rebalancing
//   - No transaction coordination
//   - Limited to single datacenter
//
// Roadmap:
//   - Implement Raft for coordinator HA
//   - Add automatic shard rebalancing
//   - Implement 2PC for transactions
//   - Add cross-region support
//
// # See Also
//
// Related packages:
//   - internal/cluster: Core cluster types and communication
//   - internal/shard: Individual shard implementation
//   - cmd/coordinator: Coordinator server implementation
package coordinator
