package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Retry and backoff tuning, in the style of
// IvanObreshkov-aubg-cos-senior-project/internal/raft/server/transport.go:
// a short per-attempt timeout and a small bounded number of retries for
// RequestVote (an election that fails just times out and restarts at a
// new term). AppendEntries gets a single attempt per call: the leader
// already fires a fresh replicateLog call every heartbeat tick, so a dead
// peer is retried at that cadence instead of piling up in-flight retry
// goroutines against it inside one call, matching the teacher's
// retry-once-per-heartbeat approach.
const (
	requestVoteMaxAttempts   = 3
	appendEntriesMaxAttempts = 1

	retryBackoffBase = 10 * time.Millisecond
	maxRetryBackoff  = 100 * time.Millisecond
)

// HTTPClient is the Sender used by production nodes: RAFT RPCs are
// framed as JSON POST bodies against a peer's raft HTTP listener,
// matching raft-server/client.go's own peer-to-peer transport.
type HTTPClient struct {
	httpClient *http.Client
	rpcTimeout time.Duration
}

// NewHTTPClient builds a client whose per-attempt timeout is rpcTimeout.
// The teacher's own client used a single fixed 100ms timeout; here it is
// a parameter so it can be derived from the configured heartbeat
// interval instead of hardcoded.
func NewHTTPClient(rpcTimeout time.Duration) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: rpcTimeout},
		rpcTimeout: rpcTimeout,
	}
}

func (c *HTTPClient) SendRequestVote(ctx context.Context, peerAddr string, req *RequestVoteRequest) (*RequestVoteResponse, error) {
	var resp RequestVoteResponse
	err := c.doWithRetry(ctx, peerAddr, "/raft/request_vote", req, &resp, requestVoteMaxAttempts)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) SendAppendEntries(ctx context.Context, peerAddr string, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	var resp AppendEntriesResponse
	err := c.doWithRetry(ctx, peerAddr, "/raft/append_entries", req, &resp, appendEntriesMaxAttempts)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) doWithRetry(ctx context.Context, peerAddr, path string, body, out interface{}, maxAttempts int) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	url := fmt.Sprintf("http://%s%s", peerAddr, path)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("call to %s cancelled: %w", peerAddr, ctx.Err())
		default:
		}

		lastErr = c.doOnce(ctx, url, data, out)
		if lastErr == nil {
			return nil
		}

		if attempt < maxAttempts-1 {
			backoff := retryBackoffBase * time.Duration(attempt+1)
			if backoff > maxRetryBackoff {
				backoff = maxRetryBackoff
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("call to %s cancelled: %w", peerAddr, ctx.Err())
			case <-time.After(backoff):
			}
		}
	}

	log.Printf("[transport] %s failed after %d attempts: %v", url, maxAttempts, lastErr)
	return fmt.Errorf("%s failed after %d attempts: %w", url, maxAttempts, lastErr)
}

func (c *HTTPClient) doOnce(ctx context.Context, url string, body []byte, out interface{}) error {
	rpcCtx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(rpcCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
