package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/A00N/distr-systems-d-chat/internal/raft"
	"github.com/A00N/distr-systems-d-chat/internal/statemachine"
	"github.com/A00N/distr-systems-d-chat/internal/transport"
	"github.com/stretchr/testify/require"
)

// testNode wires one raft.Node behind a real httptest server exposing
// both the RAFT-internal endpoints and the public HTTP front on the same
// mux, the way cmd/raftchatd/main.go wires a single listener when
// raftAddress == httpAddress.
type testNode struct {
	node *raft.Node
	http *httptest.Server
}

func startTestCluster(t *testing.T, n int) []*testNode {
	t.Helper()

	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("n%d", i)
	}

	// Servers must exist before Peer addresses are known, and Peer
	// addresses must exist before nodes are built, so start plain HTTP
	// test servers first and fill in their mux once every address is
	// known.
	servers := make([]*httptest.Server, n)
	muxes := make([]*http.ServeMux, n)
	for i := range ids {
		muxes[i] = http.NewServeMux()
		servers[i] = httptest.NewServer(muxes[i])
	}

	peers := make([]raft.Peer, n)
	httpAddrs := make(map[string]string, n)
	for i, id := range ids {
		addr := strings.TrimPrefix(servers[i].URL, "http://")
		peers[i] = raft.Peer{ID: id, Address: addr}
		httpAddrs[id] = addr
	}

	timing := raft.Timing{
		ElectionTimeoutMin: 40 * time.Millisecond,
		ElectionTimeoutMax: 80 * time.Millisecond,
		HeartbeatInterval:  15 * time.Millisecond,
		RPCTimeout:         50 * time.Millisecond,
	}

	nodes := make([]*testNode, n)
	for i, id := range ids {
		sender := transport.NewHTTPClient(timing.RPCTimeout)
		sm := statemachine.New(id)

		node, err := raft.NewNode(raft.Config{
			ID:     id,
			Peers:  peers,
			Timing: timing,
			SM:     sm,
			Sender: sender,
		})
		require.NoError(t, err)

		transport.NewHandler(node).RegisterHandlers(muxes[i])
		New(node, sm, httpAddrs).RegisterHandlers(muxes[i])

		node.Start()
		nodes[i] = &testNode{node: node, http: servers[i]}
	}

	return nodes
}

func stopTestCluster(nodes []*testNode) {
	for _, n := range nodes {
		n.node.Shutdown()
		n.http.Close()
	}
}

func waitForLeader(t *testing.T, nodes []*testNode, timeout time.Duration) *testNode {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, n := range nodes {
			if isLeader, _ := n.node.IsLeader(); isLeader {
				return n
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no leader elected within timeout")
	return nil
}

func TestHTTPFront_HealthAlwaysOK(t *testing.T) {
	nodes := startTestCluster(t, 1)
	defer stopTestCluster(nodes)

	resp, err := http.Get(nodes[0].http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPFront_ChatOnLeaderSucceedsAndAppearsInMessages(t *testing.T) {
	nodes := startTestCluster(t, 3)
	defer stopTestCluster(nodes)

	leader := waitForLeader(t, nodes, 2*time.Second)

	body := `{"type":"chat","user":"alice","text":"hello","room":"general"}`
	resp, err := http.Post(leader.http.URL+"/chat", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var accepted struct {
		Status string `json:"status"`
		Index  uint64 `json:"index"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	require.Equal(t, "ok", accepted.Status)
	require.Equal(t, uint64(1), accepted.Index)

	deadline := time.Now().Add(2 * time.Second)
	var found bool
	for time.Now().Before(deadline) && !found {
		msgResp, err := http.Get(leader.http.URL + "/messages")
		require.NoError(t, err)
		data, _ := io.ReadAll(msgResp.Body)
		msgResp.Body.Close()
		if strings.Contains(string(data), "hello") {
			found = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, found, "expected the committed chat message to appear in GET /messages")
}

func TestHTTPFront_ChatOnFollowerRedirectsToLeader(t *testing.T) {
	nodes := startTestCluster(t, 3)
	defer stopTestCluster(nodes)

	leader := waitForLeader(t, nodes, 2*time.Second)

	var follower *testNode
	for _, n := range nodes {
		if n != leader {
			follower = n
			break
		}
	}
	require.NotNil(t, follower)

	// give the follower time to learn who the leader is
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, known := follower.node.IsLeader(); known == leader.node.ID() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Post(follower.http.URL+"/chat", "application/json", strings.NewReader(`{"type":"chat"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	location := resp.Header.Get("Location")
	require.Contains(t, location, leader.http.URL[len("http://"):])
}
