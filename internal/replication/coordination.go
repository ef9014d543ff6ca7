package replication

import (
	"context"
	"net/http"
	"time"

	"github.com/quorumkv/torua/internal/cluster"
)

// HTTPShardFailureReporter reports a failed replica copy to the coordinator
// over HTTP, the Go realization of spec.md's shard_failed(shard, index_uuid,
// reason, cause, timeout, listener) master RPC.
type HTTPShardFailureReporter struct {
	coordinatorAddr string
	client          *http.Client
}

// NewHTTPShardFailureReporter constructs a reporter against coordinatorAddr
// (a base URL such as "http://coordinator:8080").
func NewHTTPShardFailureReporter(coordinatorAddr string) *HTTPShardFailureReporter {
	return &HTTPShardFailureReporter{coordinatorAddr: coordinatorAddr, client: &http.Client{}}
}

type shardFailedRequest struct {
	ShardID int    `json:"shard_id"`
	NodeID  string `json:"node_id"`
	Reason  string `json:"reason"`
	Cause   string `json:"cause,omitempty"`
}

// ReportFailure posts the failure to the coordinator's /shard/failed
// endpoint, bounded by timeout. Its own outcome (success, coordinator
// unreachable, or timeout) never changes the caller's local accounting —
// ReplicationPhase has already recorded the replica as failed by the time
// this runs.
func (h *HTTPShardFailureReporter) ReportFailure(ctx context.Context, shardID int, nodeID, reason string, cause error, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body := shardFailedRequest{ShardID: shardID, NodeID: nodeID, Reason: reason}
	if cause != nil {
		body.Cause = cause.Error()
	}
	return cluster.PostJSON(ctx, h.coordinatorAddr+"/shard/failed", body, nil)
}

// HTTPMappingSyncer synchronously fetches the coordinator's current cluster
// state, the Go realization of update_mapping_on_master_synchronously: a
// blocking round trip that refreshes this node's view rather than waiting
// for the next background long-poll tick.
type HTTPMappingSyncer struct {
	coordinatorAddr string
}

// NewHTTPMappingSyncer constructs a syncer against coordinatorAddr.
func NewHTTPMappingSyncer(coordinatorAddr string) *HTTPMappingSyncer {
	return &HTTPMappingSyncer{coordinatorAddr: coordinatorAddr}
}

// SyncMapping fetches the coordinator's current cluster state. index is
// unused beyond documenting intent: Torua's coordinator hands out the whole
// cluster state in one call rather than a per-index mapping fragment.
func (h *HTTPMappingSyncer) SyncMapping(ctx context.Context, index string) (cluster.ClusterState, error) {
	return cluster.FetchState(ctx, h.coordinatorAddr)
}
