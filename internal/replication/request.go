package replication

import (
	"encoding/json"
	"time"
)

// WriteOp is the payload a write carries through all three phases: a
// key-value mutation against Torua's storage backend. Delete distinguishes
// a deletion from a put of an empty value; Version is stamped by the
// primary after it applies the op, so replicas apply the exact same
// version deterministically (see PrimaryPhase).
type WriteOp struct {
	Key     string `json:"key"`
	Value   []byte `json:"value,omitempty"`
	Delete  bool   `json:"delete,omitempty"`
	Version int64  `json:"version,omitempty"`
}

// WriteResult is the action-specific half of a Response: what the primary
// op actually did.
type WriteResult struct {
	Created bool  `json:"created"`
	Version int64 `json:"version"`
}

// Request is the outer/primary-action payload: an index name, an optional
// concrete shard id, a timeout bounding ReroutePhase retries, a caller-chosen
// write-consistency level, and the op to apply.
//
// ShardID is set exactly once, by ReroutePhase after routing resolution;
// SetShardID panics on a second call, the Go analogue of the source's
// assertion that the field is immutable once stamped.
type Request struct {
	Index       string                `json:"index"`
	Timeout     time.Duration         `json:"timeout"`
	Consistency WriteConsistencyLevel `json:"consistency"`
	Op          WriteOp               `json:"op"`

	shardID    int
	shardIDSet bool
}

// NewRequest constructs a Request with no shard id assigned yet.
func NewRequest(index string, timeout time.Duration, consistency WriteConsistencyLevel, op WriteOp) *Request {
	return &Request{Index: index, Timeout: timeout, Consistency: consistency, Op: op}
}

// SetShardID stamps the concrete shard id this request resolved to. It may
// be called at most once per request; a second call panics.
func (r *Request) SetShardID(id int) {
	if r.shardIDSet {
		panic("replication: Request shard id already set")
	}
	r.shardID = id
	r.shardIDSet = true
}

// ShardID returns the concrete shard id and whether it has been set yet.
func (r *Request) ShardID() (int, bool) {
	return r.shardID, r.shardIDSet
}

// MarshalJSON and UnmarshalJSON round-trip the unexported shard-id fields
// so Request survives the HTTP+JSON transport between ReroutePhase and a
// remote node's primary/outer handler.
type requestWire struct {
	Index       string                `json:"index"`
	ShardID     *int                  `json:"shard_id,omitempty"`
	Timeout     time.Duration         `json:"timeout"`
	Consistency WriteConsistencyLevel `json:"consistency"`
	Op          WriteOp               `json:"op"`
}

func (r *Request) MarshalJSON() ([]byte, error) {
	w := requestWire{Index: r.Index, Timeout: r.Timeout, Consistency: r.Consistency, Op: r.Op}
	if r.shardIDSet {
		id := r.shardID
		w.ShardID = &id
	}
	return json.Marshal(w)
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var w requestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.Index = w.Index
	r.Timeout = w.Timeout
	r.Consistency = w.Consistency
	r.Op = w.Op
	if w.ShardID != nil {
		r.shardID = *w.ShardID
		r.shardIDSet = true
	}
	return nil
}

// ReplicaRequest is derived from the primary's result: the concrete shard
// id (authoritative — a replica must not re-resolve routing) and the
// version-stamped op to apply deterministically.
type ReplicaRequest struct {
	Index   string  `json:"index"`
	ShardID int     `json:"shard_id"`
	Op      WriteOp `json:"op"`
	Version int64   `json:"version"`
}
