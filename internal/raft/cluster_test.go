package raft

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/A00N/distr-systems-d-chat/internal/statemachine"
	"github.com/A00N/distr-systems-d-chat/internal/transport"
)

// mockSender routes RPCs directly to an in-process node keyed by address
// instead of going over a socket, in the spirit of
// raft-server/server_elections_test.go's mockRaftClient. A node can be
// cut off from the mock network to simulate a partition.
type mockSender struct {
	mu        sync.RWMutex
	nodes     map[string]transport.Receiver
	unreachable map[string]bool
}

func newMockSender() *mockSender {
	return &mockSender{
		nodes:       make(map[string]transport.Receiver),
		unreachable: make(map[string]bool),
	}
}

func (m *mockSender) register(addr string, receiver transport.Receiver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[addr] = receiver
}

func (m *mockSender) setUnreachable(addr string, unreachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable[addr] = unreachable
}

func (m *mockSender) SendRequestVote(ctx context.Context, addr string, req *transport.RequestVoteRequest) (*transport.RequestVoteResponse, error) {
	receiver, err := m.lookup(addr)
	if err != nil {
		return nil, err
	}
	return receiver.HandleRequestVote(req), nil
}

func (m *mockSender) SendAppendEntries(ctx context.Context, addr string, req *transport.AppendEntriesRequest) (*transport.AppendEntriesResponse, error) {
	receiver, err := m.lookup(addr)
	if err != nil {
		return nil, err
	}
	return receiver.HandleAppendEntries(req), nil
}

func (m *mockSender) lookup(addr string) (transport.Receiver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unreachable[addr] {
		return nil, fmt.Errorf("peer %s unreachable", addr)
	}
	receiver, ok := m.nodes[addr]
	if !ok {
		return nil, fmt.Errorf("peer %s not registered", addr)
	}
	return receiver, nil
}

// testCluster wires n in-memory nodes together over a shared mockSender.
type testCluster struct {
	nodes  map[string]*Node
	sender *mockSender
}

func newTestCluster(n int) *testCluster {
	sender := newMockSender()
	peers := make([]Peer, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("n%d", i)
		peers[i] = Peer{ID: id, Address: id}
	}

	timing := Timing{
		ElectionTimeoutMin: 30 * time.Millisecond,
		ElectionTimeoutMax: 60 * time.Millisecond,
		HeartbeatInterval:  10 * time.Millisecond,
		RPCTimeout:         20 * time.Millisecond,
	}

	nodes := make(map[string]*Node, n)
	for _, p := range peers {
		node, err := NewNode(Config{
			ID:     p.ID,
			Peers:  peers,
			Timing: timing,
			SM:     statemachine.New(p.ID),
			Sender: sender,
		})
		if err != nil {
			panic(err)
		}
		nodes[p.ID] = node
		sender.register(p.ID, node)
	}

	return &testCluster{nodes: nodes, sender: sender}
}

func (c *testCluster) startAll() {
	for _, n := range c.nodes {
		n.Start()
	}
}

func (c *testCluster) shutdownAll() {
	for _, n := range c.nodes {
		n.Shutdown()
	}
}

func (c *testCluster) leader() *Node {
	for _, n := range c.nodes {
		if isLeader, _ := n.IsLeader(); isLeader {
			return n
		}
	}
	return nil
}

func (c *testCluster) waitForLeader(timeout time.Duration) *Node {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if l := c.leader(); l != nil {
			return l
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

func (c *testCluster) waitForCondition(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
