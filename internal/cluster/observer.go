package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// maxWatchRound bounds a single long-poll round against the coordinator's
// /cluster/watch endpoint. An Observer with no overall deadline (the
// replica-retry case, where spec.md deliberately passes no timeout) still
// polls in rounds of this length so it can notice context cancellation
// promptly instead of blocking forever inside one HTTP call.
const maxWatchRound = 25 * time.Second

var errWatchRoundTimedOut = errors.New("cluster: watch round timed out with no change")

// watchResponse is the wire shape of the coordinator's /cluster/watch reply.
type watchResponse struct {
	State   ClusterState `json:"state"`
	Changed bool         `json:"changed"`
}

// Observer implements the client side of spec.md's ClusterStateObserver:
// "waits for the next cluster-state change or a timeout". It is constructed
// fresh for each ReroutePhase or AsyncReplicaAction attempt and is not
// reused across requests, matching the original's one-observer-per-operation
// lifetime.
//
// A zero requestTimeout means "no deadline" — used by replica retries, where
// spec.md explicitly chooses to wait indefinitely rather than risk
// incorrectly failing a replica copy.
type Observer struct {
	coordinatorAddr string
	httpClient      *http.Client

	deadline time.Time // zero means no deadline
	timedOut atomic.Bool

	mu   sync.RWMutex
	last ClusterState
}

// NewObserver creates an Observer bounded by requestTimeout (<=0 for no
// deadline), seeded with the last cluster state the caller has observed.
func NewObserver(coordinatorAddr string, seed ClusterState, requestTimeout time.Duration) *Observer {
	o := &Observer{
		coordinatorAddr: coordinatorAddr,
		httpClient:      &http.Client{},
		last:            seed,
	}
	if requestTimeout > 0 {
		o.deadline = time.Now().Add(requestTimeout)
	}
	return o
}

// WithTimeout returns a fresh Observer addressed at the same coordinator and
// seeded with the same last-known state, bounded by requestTimeout instead
// of this observer's own deadline. Used by callers that get an unbounded
// Observer from a StateSource (e.g. ReroutePhase from StateSource.Observer())
// but need a per-request deadline of their own.
func (o *Observer) WithTimeout(requestTimeout time.Duration) *Observer {
	return NewObserver(o.coordinatorAddr, o.State(), requestTimeout)
}

// IsTimedOut reports whether a prior WaitForChange call already exhausted
// this observer's deadline. Once true it stays true: spec.md requires that
// "the next retry after [a timeout] is a terminal failure" — ReroutePhase
// checks this before scheduling one last attempt.
func (o *Observer) IsTimedOut() bool {
	return o.timedOut.Load()
}

// State returns the last cluster state this observer has seen, without
// making a network call.
func (o *Observer) State() ClusterState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.last
}

func (o *Observer) setState(s ClusterState) {
	o.mu.Lock()
	o.last = s
	o.mu.Unlock()
}

// WaitForChange blocks until the coordinator reports a cluster state with a
// version newer than knownVersion, the observer's deadline elapses, or ctx
// is cancelled. It returns exactly one of: a new state, closed=true (the
// coordinator is unreachable or ctx was cancelled — the distributed
// analogue of spec.md's onClusterServiceClose), or timedOut=true (the
// observer's own deadline, not a single long-poll round, elapsed).
func (o *Observer) WaitForChange(ctx context.Context, knownVersion uint64) (state ClusterState, closed bool, timedOut bool) {
	for {
		if !o.deadline.IsZero() && !time.Now().Before(o.deadline) {
			o.timedOut.Store(true)
			return o.State(), false, true
		}

		roundCtx, cancel := o.roundContext(ctx)
		resp, err := o.watchOnce(roundCtx, knownVersion)
		cancel()

		if err == nil {
			o.setState(resp.State)
			return resp.State, false, false
		}
		if errors.Is(err, errWatchRoundTimedOut) {
			continue
		}
		if ctx.Err() != nil {
			return o.State(), true, false
		}
		// Any other failure (connection refused, coordinator down) is
		// treated as the service having gone away — the caller finishes as
		// failed rather than spinning against an unreachable authority.
		return o.State(), true, false
	}
}

// roundContext derives a context for a single long-poll round, bounded by
// both the observer's overall deadline (if any) and maxWatchRound.
func (o *Observer) roundContext(parent context.Context) (context.Context, context.CancelFunc) {
	round := maxWatchRound
	if !o.deadline.IsZero() {
		if remaining := time.Until(o.deadline); remaining < round {
			round = remaining
		}
	}
	return context.WithTimeout(parent, round)
}

func (o *Observer) watchOnce(ctx context.Context, knownVersion uint64) (watchResponse, error) {
	u := fmt.Sprintf("%s/cluster/watch?since=%d&timeout_ms=%d",
		o.coordinatorAddr, knownVersion, maxWatchRound.Milliseconds())
	var out watchResponse
	if err := getJSONWith(ctx, o.httpClient, u, &out); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return watchResponse{}, errWatchRoundTimedOut
		}
		return watchResponse{}, err
	}
	if !out.Changed {
		return watchResponse{}, errWatchRoundTimedOut
	}
	return out, nil
}

// getJSONWith is GetJSON with an explicit client, so Observer can use a
// client with no blanket timeout (long-polls manage their own deadlines via
// context) while cluster.GetJSON keeps the package's default 5s client for
// ordinary request/reply calls.
func getJSONWith(ctx context.Context, client *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", rawURL, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// validateCoordinatorAddr is a small guard used by callers constructing an
// Observer from user-supplied configuration.
func validateCoordinatorAddr(addr string) error {
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid coordinator address %q", addr)
	}
	return nil
}
