package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/quorumkv/torua/internal/cluster"
)

// ReroutePhase resolves the target shard for a Request and dispatches it to
// the node hosting its primary, retrying on transient cluster-state
// problems until the request's timeout is exhausted (plus one final
// attempt after the observer times out).
type ReroutePhase struct {
	localNodeID string
	state       StateSource
	transport   Transport
	action      Action
	req         *Request
	reply       func(Response, error)

	finished atomic.Bool
}

// NewReroutePhase constructs a phase ready to Run. reply is invoked exactly
// once, with either a successful Response or a terminal error.
func NewReroutePhase(localNodeID string, state StateSource, transport Transport, action Action, req *Request, reply func(Response, error)) *ReroutePhase {
	return &ReroutePhase{
		localNodeID: localNodeID,
		state:       state,
		transport:   transport,
		action:      action,
		req:         req,
		reply:       reply,
	}
}

// Run executes the phase, starting with the state source's current
// snapshot, to completion or the first suspension point.
func (p *ReroutePhase) Run(ctx context.Context) {
	// p.state.Observer() carries the real coordinator address but no
	// deadline (it's built for the unbounded replica-retry case); bound it
	// to this phase's own request timeout before using it for retries.
	obs := p.state.Observer().WithTimeout(p.req.Timeout)
	p.attempt(ctx, obs)
}

func (p *ReroutePhase) attempt(ctx context.Context, obs *cluster.Observer) {
	state := p.state.Current()

	if blk := state.Blocks.GlobalWriteBlock(); blk != nil {
		if blk.Retryable {
			p.retry(ctx, obs, fmt.Errorf("global write block: %s", blk.Reason))
			return
		}
		p.finishFailed(fmt.Errorf("global write block: %s: %w", blk.Reason, ErrNonRetryableBlock))
		return
	}

	index := p.req.Index

	if blk := state.Blocks.IndexWriteBlock(index); blk != nil {
		if blk.Retryable {
			p.retry(ctx, obs, fmt.Errorf("index write block on %s: %s", index, blk.Reason))
			return
		}
		p.finishFailed(fmt.Errorf("index write block on %s: %s: %w", index, blk.Reason, ErrNonRetryableBlock))
		return
	}

	if _, ok := p.req.ShardID(); !ok {
		shardID, err := p.action.ResolveShardID(state, p.req)
		if err != nil {
			p.finishFailed(err)
			return
		}
		p.req.SetShardID(shardID)
	}
	shardID, _ := p.req.ShardID()

	table, ok := state.Routing.Shard(index, shardID)
	if !ok {
		p.retry(ctx, obs, fmt.Errorf("%w: index %s shard %d routing missing", ErrUnavailableShards, index, shardID))
		return
	}
	primary := table.Primary()
	if primary == nil || !primary.Active || !state.NodeExists(primary.NodeID) {
		p.retry(ctx, obs, fmt.Errorf("%w: primary shard is not active", ErrUnavailableShards))
		return
	}

	node, _ := state.Node(primary.NodeID)
	isLocal := primary.NodeID == p.localNodeID
	action := "write"
	if isLocal {
		action = "write/primary"
	}

	var resp Response
	err := p.transport.Send(ctx, node, action, p.req, &resp)
	if err == nil {
		p.finishSuccess(resp)
		return
	}

	if errors.Is(err, ErrConnect) || errors.Is(err, ErrNodeClosed) || (isLocal && RetryPrimary(err)) {
		p.retry(ctx, obs, err)
		return
	}
	p.finishFailed(err)
}

// retry awaits the next cluster-state change bounded by the phase's
// observer deadline, then re-enters attempt. On the observer's own
// deadline elapsing, it runs exactly one final attempt; the observer's
// IsTimedOut then guarantees the *next* retry call is terminal.
func (p *ReroutePhase) retry(ctx context.Context, obs *cluster.Observer, cause error) {
	if obs.IsTimedOut() {
		p.finishFailed(fmt.Errorf("%w (after final retry attempt): %v", ErrUnavailableShards, cause))
		return
	}

	knownVersion := obs.State().Version
	_, closed, timedOut := obs.WaitForChange(ctx, knownVersion)
	if closed {
		p.finishFailed(fmt.Errorf("%w: %v", ErrNodeClosed, cause))
		return
	}
	if timedOut {
		slog.Debug("reroute: observer deadline elapsed, running final attempt", "index", p.req.Index)
	}
	p.attempt(ctx, obs)
}

func (p *ReroutePhase) finishSuccess(resp Response) {
	if p.finished.CompareAndSwap(false, true) {
		p.reply(resp, nil)
		return
	}
	slog.Warn("reroute: duplicate terminal attempt suppressed (success)", "index", p.req.Index)
}

func (p *ReroutePhase) finishFailed(err error) {
	if p.finished.CompareAndSwap(false, true) {
		p.reply(Response{}, err)
		return
	}
	slog.Warn("reroute: duplicate terminal attempt suppressed (failure)", "index", p.req.Index, "error", err)
}
