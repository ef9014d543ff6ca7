package replication

import (
	"context"
	"sync"
	"time"

	"github.com/quorumkv/torua/internal/cluster"
	"github.com/quorumkv/torua/internal/shard"
)

// fakeStateSource is a StateSource backed by a fixed (or swappable) snapshot.
// Observer() returns an unbounded cluster.Observer seeded from the current
// snapshot, mirroring ClusterStateSource.Observer(), so ReroutePhase's
// WithTimeout(...) call has a real (if address-less) Observer to bound.
type fakeStateSource struct {
	mu    sync.Mutex
	state cluster.ClusterState
}

func newFakeStateSource(s cluster.ClusterState) *fakeStateSource {
	return &fakeStateSource{state: s}
}

func (f *fakeStateSource) Current() cluster.ClusterState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeStateSource) set(s cluster.ClusterState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fakeStateSource) Observer() *cluster.Observer {
	return cluster.NewObserver("", f.Current(), 0)
}

// fakeAction lets tests control shard resolution and op execution without
// routing through KVAction's hashing.
type fakeAction struct {
	resolveShardID func(state cluster.ClusterState, req *Request) (int, error)
	executePrimary func(ref *shard.Ref, req *Request) (Response, ReplicaRequest, error)
	executeReplica func(ref *shard.Ref, req *ReplicaRequest) error
}

func (a *fakeAction) ResolveShardID(state cluster.ClusterState, req *Request) (int, error) {
	return a.resolveShardID(state, req)
}

func (a *fakeAction) ExecutePrimary(ref *shard.Ref, req *Request) (Response, ReplicaRequest, error) {
	return a.executePrimary(ref, req)
}

func (a *fakeAction) ExecuteReplica(ref *shard.Ref, req *ReplicaRequest) error {
	return a.executeReplica(ref, req)
}

// fakeTransport records every Send call and answers from a caller-supplied
// function.
type fakeTransport struct {
	mu    sync.Mutex
	calls []fakeTransportCall
	send  func(ctx context.Context, node cluster.NodeInfo, action string, body, out any) error
}

type fakeTransportCall struct {
	node   cluster.NodeInfo
	action string
	body   any
}

func (t *fakeTransport) Send(ctx context.Context, node cluster.NodeInfo, action string, body, out any) error {
	t.mu.Lock()
	t.calls = append(t.calls, fakeTransportCall{node: node, action: action, body: body})
	t.mu.Unlock()
	if t.send == nil {
		return nil
	}
	return t.send(ctx, node, action, body, out)
}

func (t *fakeTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// fakeFailureReporter records ReportFailure calls.
type fakeFailureReporter struct {
	mu    sync.Mutex
	calls []fakeFailureReport
	err   error
}

type fakeFailureReport struct {
	shardID int
	nodeID  string
	reason  string
	cause   error
}

func (r *fakeFailureReporter) ReportFailure(ctx context.Context, shardID int, nodeID, reason string, cause error, timeout time.Duration) error {
	r.mu.Lock()
	r.calls = append(r.calls, fakeFailureReport{shardID: shardID, nodeID: nodeID, reason: reason, cause: cause})
	r.mu.Unlock()
	return r.err
}

func (r *fakeFailureReporter) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
