package replication

import (
	"errors"
	"fmt"
)

// Sentinel errors classify every failure the replication engine produces.
// Callers use errors.Is against these rather than inspecting concrete
// types, and RetryPrimary/IgnoreReplica/IsConflict build on them to
// implement the failure taxonomy.
var (
	// ErrRetryOnPrimary is the explicit marker a primary operation raises
	// when the write must be retried from ReroutePhase (e.g. a key falling
	// outside the node's believed shard count even after a topology
	// refresh).
	ErrRetryOnPrimary = errors.New("replication: retry on primary")
	// ErrRetryOnReplica tells AsyncReplicaAction-equivalent code to await
	// the next cluster-state change and re-run, rather than fail the copy.
	ErrRetryOnReplica = errors.New("replication: retry on replica")
	// ErrShardNotAvailable covers the "shard not available" family: the
	// shard is missing, closing, or not yet ready on the target node.
	ErrShardNotAvailable = errors.New("replication: shard not available")
	// ErrNodeClosed signals the remote node (or the local cluster-state
	// observer) has gone away.
	ErrNodeClosed = errors.New("replication: node closed")
	// ErrConnect covers transport-level connection failures.
	ErrConnect = errors.New("replication: connect failure")
	// ErrVersionConflict means a replica already advanced past the version
	// being applied; the replica is current, not behind.
	ErrVersionConflict = errors.New("replication: version conflict")
	// ErrUnavailableShards covers routing-table states ReroutePhase must
	// retry: missing index/shard routing, no active primary, insufficient
	// active copies for the requested consistency level.
	ErrUnavailableShards = errors.New("replication: unavailable shards")
	// ErrNonRetryableBlock is a terminal cluster or index write block.
	ErrNonRetryableBlock = errors.New("replication: non-retryable write block")
)

// StatusError carries an HTTP-status-like code alongside a cause, used to
// populate ShardFailure.Status and to drive the conflict-vs-other logging
// split in PrimaryPhase.
type StatusError struct {
	Status int
	Cause  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %v", e.Status, e.Cause)
}

func (e *StatusError) Unwrap() error {
	return e.Cause
}

// StatusConflict is the REST-style status used to mark version-conflict
// class failures, matching the original's CONFLICT classification used to
// choose trace- versus debug-level logging on primary op failure.
const StatusConflict = 409

// RetryPrimary reports whether err should cause ReroutePhase to retry a
// primary dispatch: the explicit RetryOnPrimary marker, or the
// shard-not-available family (the primary may simply not have come up on
// the target node yet).
func RetryPrimary(err error) bool {
	return errors.Is(err, ErrRetryOnPrimary) || errors.Is(err, ErrShardNotAvailable)
}

// IgnoreReplica reports whether a replica operation failure should be
// silently dropped rather than recorded in ShardInfo: the shard-not-available
// family, or a version conflict (the replica already advanced).
func IgnoreReplica(err error) bool {
	return errors.Is(err, ErrShardNotAvailable) || errors.Is(err, ErrVersionConflict)
}

// IsConflict reports whether err represents a version-conflict-class
// failure, used to choose the lower-verbosity logging path for primary op
// failures.
func IsConflict(err error) bool {
	if errors.Is(err, ErrVersionConflict) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == StatusConflict
	}
	return false
}

// StatusForError maps a replication error to the HTTP status a node's or
// coordinator's outer handler should answer with. classifyStatus turns 503,
// 409, 410 and 412 back into ErrShardNotAvailable, ErrVersionConflict,
// ErrNodeClosed and ErrRetryOnPrimary, so a peer recovers those sentinels.
// The mapping is not a full inverse: ErrUnavailableShards comes back as
// ErrShardNotAvailable, ErrNonRetryableBlock as ErrVersionConflict, and
// ErrConnect (502) and anything else as a plain remote error.
func StatusForError(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	switch {
	case errors.Is(err, ErrShardNotAvailable), errors.Is(err, ErrUnavailableShards):
		return 503
	case errors.Is(err, ErrVersionConflict):
		return 409
	case errors.Is(err, ErrNodeClosed):
		return 410
	case errors.Is(err, ErrRetryOnPrimary):
		return 412
	case errors.Is(err, ErrConnect):
		return 502
	case errors.Is(err, ErrNonRetryableBlock):
		return 409
	default:
		return 500
	}
}
