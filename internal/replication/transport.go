package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/quorumkv/torua/internal/cluster"
)

// HTTPTransport is the Transport implementation used between Torua nodes:
// every dispatch, including a "local" primary dispatch, goes through the
// target node's registered HTTP handler, matching the original's "still
// routes through a same-machine handler so thread-pool scheduling is
// consistent" — Torua's equivalent consistency is that the handler's
// admission/logging path runs identically regardless of where the caller
// sits.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates a transport with no blanket timeout; callers
// bound calls via ctx, matching cluster.Observer's long-poll convention.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{client: &http.Client{}}
}

// Send POSTs body as JSON to node.Addr + "/" + action and decodes the JSON
// reply into out. A non-2xx response is classified into the replication
// sentinel errors so phase-level retry logic can act on it without
// inspecting raw status codes.
func (t *HTTPTransport) Send(ctx context.Context, node cluster.NodeInfo, action string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("replication: marshal request: %w", err)
	}

	url := node.Addr + "/" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("replication: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var wire struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&wire)
		return classifyStatus(resp.StatusCode, wire.Error)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// classifyStatus maps an HTTP status code from a peer node's handler back
// into the sentinel error taxonomy so callers can use errors.Is uniformly
// whether the failure originated locally or over the wire.
func classifyStatus(status int, cause string) error {
	var base error
	switch status {
	case http.StatusServiceUnavailable:
		base = ErrShardNotAvailable
	case http.StatusConflict:
		base = ErrVersionConflict
	case http.StatusGone:
		base = ErrNodeClosed
	case http.StatusPreconditionFailed:
		base = ErrRetryOnPrimary
	default:
		base = fmt.Errorf("replication: remote error (status %d)", status)
	}
	if cause == "" {
		return &StatusError{Status: status, Cause: base}
	}
	return &StatusError{Status: status, Cause: fmt.Errorf("%w: %s", base, cause)}
}
