package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"slices"

	"github.com/quorumkv/torua/internal/cluster"
	"github.com/quorumkv/torua/internal/config"
	"github.com/quorumkv/torua/internal/coordinator"
	"github.com/quorumkv/torua/internal/replication"
)

const (
	healthStatusUnknown   = "unknown"
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

func main() {
	addr := getenv("COORDINATOR_ADDR", ":8080")
	srv := newServer()

	mux := http.NewServeMux()
	mux.HandleFunc("/register", srv.handleRegister)
	mux.HandleFunc("/nodes", srv.handleListNodes)
	mux.HandleFunc("/broadcast", srv.handleBroadcast)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	// Data routing endpoints
	mux.HandleFunc("/data/", srv.handleData)
	// Shard management endpoints
	mux.HandleFunc("/shards", srv.handleShards)
	mux.HandleFunc("/shards/assign", srv.handleShardAssign)
	// Write-coordination entrypoint: a client submits a key-value write here
	// and the coordinator dispatches it through the replication engine,
	// exactly as a node's own /write would, against whichever node can
	// accept the dispatch.
	mux.HandleFunc("/write", srv.handleWrite)
	// Cluster-state authority endpoints every node's ClusterStateSource and
	// ShardFailureReporter/MappingSyncer talk to.
	mux.HandleFunc("/cluster/state", srv.handleClusterState)
	mux.HandleFunc("/cluster/watch", srv.handleClusterWatch)
	mux.HandleFunc("/shard/failed", srv.handleShardFailed)

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("coordinator listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("listen failed", "err", err)
			os.Exit(1)
		}
	}()

	healthCtx, healthCancel := context.WithCancel(context.Background())
	go srv.health.Start(healthCtx, srv.nodeSnapshot)
	go srv.periodicRebuild(healthCtx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	healthCancel()
	srv.health.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	slog.Info("coordinator stopped")
}

type server struct {
	mu       sync.RWMutex
	nodes    []cluster.NodeInfo
	registry *coordinator.ShardRegistry

	cfg        config.CoordinatorConfig
	topology   *config.Topology
	stateStore *coordinator.StateStore
	health     *coordinator.HealthMonitor
	transport  replication.Transport
}

func newServer() *server {
	cfg := config.CoordinatorConfig{
		ShardCount:          config.GetenvInt("SHARD_COUNT", 4),
		ReplicaCount:        config.GetenvInt("REPLICA_COUNT", 1),
		HealthCheckInterval: config.GetenvDuration("HEALTH_CHECK_INTERVAL", 5*time.Second),
	}

	topology, err := config.LoadTopologyFile(getenv("TOPOLOGY_FILE", ""))
	if err != nil {
		slog.Warn("ignoring unreadable topology file", "err", err)
		topology = nil
	}

	srv := &server{
		topology: topology,
		registry: coordinator.NewShardRegistryWithReplicas(cfg.ShardCount, cfg.ReplicaCount),
		cfg:      cfg,
		stateStore: coordinator.NewStateStore(cluster.ClusterState{
			Indices: map[string]cluster.IndexMetadata{
				replication.DefaultIndex: {
					Name:            replication.DefaultIndex,
					NumberOfShards:  cfg.ShardCount,
					NumberOfReplica: cfg.ReplicaCount,
				},
			},
		}),
		health:    coordinator.NewHealthMonitor(cfg.HealthCheckInterval),
		transport: replication.NewHTTPTransport(),
	}
	srv.health.SetOnUnhealthy(srv.markNodeUnhealthy)
	return srv
}

// nodeSnapshot returns a copy of the currently registered nodes, the
// nodeProvider callback the health monitor polls on its own schedule.
func (s *server) nodeSnapshot() []cluster.NodeInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]cluster.NodeInfo(nil), s.nodes...)
}

// periodicRebuild keeps the published cluster state's routing table in sync
// with the health monitor's own clock, so a node recovering between writes
// is reflected even without an intervening registration or shard-failure
// event.
func (s *server) periodicRebuild(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.rebuildState()
		}
	}
}

// markNodeUnhealthy is the health monitor's onUnhealthy callback: it flags
// the node in the roster, fails over every shard copy it held, and
// publishes the resulting cluster state.
func (s *server) markNodeUnhealthy(nodeID string) {
	s.mu.Lock()
	for i := range s.nodes {
		if s.nodes[i].ID == nodeID {
			s.nodes[i].HealthStatus = healthStatusUnhealthy
			break
		}
	}
	s.mu.Unlock()

	if affected := s.registry.FailNode(nodeID); len(affected) > 0 {
		slog.Warn("coordinator: failed over shards from unhealthy node", "node", nodeID, "shards", affected)
	}
	s.rebuildState()
}

// rebuildState recomputes the published cluster state's routing table from
// the registry's current shard placement and the health monitor's verdicts,
// then publishes it via the state store, waking any node long-polling
// /cluster/watch.
func (s *server) rebuildState() {
	s.mu.RLock()
	nodesCopy := append([]cluster.NodeInfo(nil), s.nodes...)
	s.mu.RUnlock()

	nodesMap := make(map[string]cluster.NodeInfo, len(nodesCopy))
	for _, n := range nodesCopy {
		nodesMap[n.ID] = n
	}

	isActive := func(nodeID string) bool {
		h := s.health.GetNodeHealth(nodeID)
		return h == nil || h.Status != healthStatusUnhealthy
	}
	table := s.registry.BuildRoutingTable(replication.DefaultIndex, isActive)

	s.stateStore.Update(func(cs *cluster.ClusterState) {
		cs.Nodes = nodesMap
		cs.Routing = table
		if cs.Indices == nil {
			cs.Indices = make(map[string]cluster.IndexMetadata)
		}
		cs.Indices[replication.DefaultIndex] = cluster.IndexMetadata{
			Name:            replication.DefaultIndex,
			NumberOfShards:  s.registry.NumShards(),
			NumberOfReplica: s.cfg.ReplicaCount,
		}
	})
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Node.ID == "" || req.Node.Addr == "" {
		http.Error(w, "missing id/addr", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	idx := slices.IndexFunc(s.nodes, func(n cluster.NodeInfo) bool { return n.ID == req.Node.ID })
	if idx >= 0 {
		req.Node.HealthStatus = s.nodes[idx].HealthStatus
		s.nodes[idx] = req.Node
	} else {
		req.Node.HealthStatus = healthStatusUnknown
		s.nodes = append(s.nodes, req.Node)
		// Auto-assign shards to new nodes (simple round-robin for now)
		s.autoAssignShards()
	}
	s.mu.Unlock()

	s.rebuildState()
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_ = json.NewEncoder(w).Encode(struct {
		Nodes []cluster.NodeInfo `json:"nodes"`
	}{Nodes: s.nodes})
}

func (s *server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req cluster.BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Path == "" || req.Path[0] != '/' {
		http.Error(w, "path must start with '/'", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	targets := append([]cluster.NodeInfo(nil), s.nodes...)
	s.mu.RUnlock()

	type result struct {
		NodeID string `json:"node_id"`
		Err    string `json:"err,omitempty"`
	}
	out := make([]result, 0, len(targets))

	ctx, cancel := context.WithTimeout(r.Context(), 4*time.Second)
	defer cancel()

	for _, n := range targets {
		url := n.Addr + req.Path
		err := cluster.PostJSON(ctx, url, req.Payload, nil)
		res := result{NodeID: n.ID}
		if err != nil {
			res.Err = err.Error()
		}
		out = append(out, res)
	}

	_ = json.NewEncoder(w).Encode(struct {
		SentTo  int      `json:"sent_to"`
		Results []result `json:"results"`
	}{SentTo: len(targets), Results: out})
}

// handleData routes data operations to the appropriate shard/node
func (s *server) handleData(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodPut, http.MethodDelete:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Extract key from path: /data/{key}
	var key string
	if len(r.URL.Path) > len("/data/") {
		key = r.URL.Path[len("/data/"):]
	}
	if key == "" {
		http.Error(w, "key required", http.StatusBadRequest)
		return
	}

	// Find which node owns this key
	nodeID, err := s.registry.GetNodeForKey(key)
	if err != nil {
		http.Error(w, fmt.Sprintf("no node assigned for key: %v", err), http.StatusServiceUnavailable)
		return
	}

	// Find the node's address
	s.mu.RLock()
	var nodeAddr string
	for _, node := range s.nodes {
		if node.ID == nodeID {
			nodeAddr = node.Addr
			break
		}
	}
	s.mu.RUnlock()

	if nodeAddr == "" {
		http.Error(w, fmt.Sprintf("node %s not found", nodeID), http.StatusServiceUnavailable)
		return
	}

	// Determine which shard owns this key
	shardID := s.registry.GetShardForKey(key)

	// Forward the request to the node's shard
	targetURL := fmt.Sprintf("%s/shard/%d/store/%s", nodeAddr, shardID, key)

	switch r.Method {
	case http.MethodGet:
		s.forwardGet(targetURL, w, r)
	case http.MethodPut:
		s.forwardPut(targetURL, w, r)
	case http.MethodDelete:
		s.forwardDelete(targetURL, w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// forwardGet forwards a GET request to a node
func (s *server) forwardGet(targetURL string, w http.ResponseWriter, r *http.Request) {
	if targetURL == "" {
		http.Error(w, "no node available for key", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		http.Error(w, "failed to create request", http.StatusInternalServerError)
		return
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to forward request: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	// Copy response back to client
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// forwardPut forwards a PUT request to a node
func (s *server) forwardPut(targetURL string, w http.ResponseWriter, r *http.Request) {
	if targetURL == "" {
		http.Error(w, "no node available for key", http.StatusServiceUnavailable)
		return
	}

	// Read body
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, targetURL, bytes.NewReader(body))
	if err != nil {
		http.Error(w, "failed to create request", http.StatusInternalServerError)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to forward request: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	// Copy response back to client
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// forwardDelete forwards a DELETE request to a node
func (s *server) forwardDelete(targetURL string, w http.ResponseWriter, r *http.Request) {
	if targetURL == "" {
		http.Error(w, "no node available for key", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, targetURL, nil)
	if err != nil {
		http.Error(w, "failed to create request", http.StatusInternalServerError)
		return
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to forward request: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	// Copy response back to client
	w.WriteHeader(resp.StatusCode)
}

// handleShards returns current shard assignments
func (s *server) handleShards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	assignments := s.registry.GetAllAssignments()

	response := struct {
		Shards    []*coordinator.ShardAssignment `json:"shards"`
		NumShards int                            `json:"num_shards"`
	}{
		Shards:    assignments,
		NumShards: s.registry.NumShards(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleShardAssign manually assigns a shard to a node (admin operation)
func (s *server) handleShardAssign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ShardID   int    `json:"shard_id"`
		NodeID    string `json:"node_id"`
		IsPrimary bool   `json:"is_primary"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	known := slices.ContainsFunc(s.nodes, func(n cluster.NodeInfo) bool { return n.ID == req.NodeID })
	s.mu.RUnlock()
	if !known {
		http.Error(w, fmt.Sprintf("node %q is not registered", req.NodeID), http.StatusBadRequest)
		return
	}

	if err := s.registry.AssignShard(req.ShardID, req.NodeID, req.IsPrimary); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.rebuildState()

	w.WriteHeader(http.StatusOK)
}

// handleWrite is the coordinator's client-facing write entrypoint: it
// resolves a dispatch target for the key (preferring the node that already
// holds its primary) and hands the request to the replication engine's
// outer action on that node, exactly as if the client had called the
// node's own /write directly.
func (s *server) handleWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var wire struct {
		Key         string `json:"key"`
		Value       []byte `json:"value,omitempty"`
		Delete      bool   `json:"delete,omitempty"`
		Consistency string `json:"consistency,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if wire.Key == "" {
		http.Error(w, "key required", http.StatusBadRequest)
		return
	}

	consistency, err := replication.ParseWriteConsistencyLevel(wire.Consistency)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	node, ok := s.dispatchTarget(wire.Key)
	if !ok {
		http.Error(w, "no node available to accept write", http.StatusServiceUnavailable)
		return
	}

	req := replication.NewRequest(replication.DefaultIndex, 15*time.Second, consistency, replication.WriteOp{
		Key: wire.Key, Value: wire.Value, Delete: wire.Delete,
	})

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	var resp replication.Response
	if err := s.transport.Send(ctx, node, "write", req, &resp); err != nil {
		http.Error(w, err.Error(), replication.StatusForError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// dispatchTarget picks a node to receive a write's outer dispatch: the node
// currently holding the key's shard primary if known, otherwise any
// registered node (ReroutePhase will still route it correctly; the pick
// here only decides which node's goroutine runs the reroute).
func (s *server) dispatchTarget(key string) (cluster.NodeInfo, bool) {
	if nodeID, err := s.registry.GetNodeForKey(key); err == nil {
		s.mu.RLock()
		for _, n := range s.nodes {
			if n.ID == nodeID {
				s.mu.RUnlock()
				return n, true
			}
		}
		s.mu.RUnlock()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.nodes) == 0 {
		return cluster.NodeInfo{}, false
	}
	return s.nodes[0], true
}

// handleClusterState serves the coordinator's current cluster state in one
// synchronous round trip, used by a node's bootstrap fetch and its
// HTTPMappingSyncer.
func (s *server) handleClusterState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.stateStore.Current())
}

// handleClusterWatch implements the long-poll contract cluster.Observer
// speaks: it blocks until the state store's version exceeds since, or
// timeout_ms elapses, then reports the current state and whether it
// actually changed.
func (s *server) handleClusterWatch(w http.ResponseWriter, r *http.Request) {
	since, _ := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)
	timeoutMs, err := strconv.Atoi(r.URL.Query().Get("timeout_ms"))
	if err != nil || timeoutMs <= 0 {
		timeoutMs = 25000
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	state, changed := s.stateStore.WaitForChange(ctx, since)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		State   cluster.ClusterState `json:"state"`
		Changed bool                 `json:"changed"`
	}{State: state, Changed: changed})
}

// handleShardFailed records a replica copy as failed, the coordinator side
// of the shard-failed RPC a node's HTTPShardFailureReporter calls.
func (s *server) handleShardFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ShardID int    `json:"shard_id"`
		NodeID  string `json:"node_id"`
		Reason  string `json:"reason"`
		Cause   string `json:"cause,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	changed, err := s.registry.FailShardCopy(req.ShardID, req.NodeID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if changed {
		slog.Warn("coordinator: shard copy failed", "shard", req.ShardID, "node", req.NodeID, "reason", req.Reason, "cause", req.Cause)
		s.rebuildState()
	}
	w.WriteHeader(http.StatusNoContent)
}

// autoAssignShards assigns unassigned shards to registered nodes. A shard
// named in the topology file is pinned to its configured primary/replica
// node IDs as soon as those nodes have registered; anything the topology
// doesn't cover (or covers with nodes that haven't shown up yet) falls
// back to round-robin, so a partial or absent topology never blocks
// cluster bring-up.
func (s *server) autoAssignShards() {
	if len(s.nodes) == 0 {
		return
	}

	registered := make(map[string]bool, len(s.nodes))
	for _, n := range s.nodes {
		registered[n.ID] = true
	}

	// Get all current assignments
	assignments := s.registry.GetAllAssignments()
	assignedShards := make(map[int]bool)
	for _, a := range assignments {
		assignedShards[a.ShardID] = true
	}

	pinned := make(map[int]config.ShardPlacement)
	if s.topology != nil {
		for _, p := range s.topology.Shards {
			pinned[p.ID] = p
		}
	}

	// Assign any unassigned shards
	nodeIndex := 0
	for shardID := 0; shardID < s.registry.NumShards(); shardID++ {
		if assignedShards[shardID] {
			continue
		}
		if placement, ok := pinned[shardID]; ok && registered[placement.Primary] {
			s.registry.AssignShard(shardID, placement.Primary, true)
			slog.Info("pinned shard from topology", "shard", shardID, "node", placement.Primary)
			for _, r := range placement.Replicas {
				if registered[r] {
					s.registry.AssignReplica(shardID, r)
					slog.Info("pinned replica from topology", "shard", shardID, "node", r)
				}
			}
			continue
		}
		nodeID := s.nodes[nodeIndex].ID
		s.registry.AssignShard(shardID, nodeID, true)
		slog.Info("auto-assigned shard", "shard", shardID, "node", nodeID)
		nodeIndex = (nodeIndex + 1) % len(s.nodes)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
