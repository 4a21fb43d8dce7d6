// Package raft implements the consensus core described in the design:
// leader election, log replication and commit-index advancement, kept
// behind a single mutex and driven by a select loop, in the shape of
// raft-server/server.go generalized from a fixed three-node, uint32-ID
// cluster to an arbitrary string-ID cluster with pluggable transport and
// storage.
package raft

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/A00N/distr-systems-d-chat/internal/statemachine"
	"github.com/A00N/distr-systems-d-chat/internal/storage"
	"github.com/A00N/distr-systems-d-chat/internal/transport"
)

// Node is one member of the RAFT cluster. All fields below the mutex are
// read and written only while holding mu, and no method sends an RPC or
// otherwise blocks on the network while holding it — the pattern
// raft-server/server.go and raft-server/server_elections.go follow
// throughout (release the lock, send, re-acquire to apply the result).
type Node struct {
	id     string
	peers  []Peer
	timing Timing

	mu sync.RWMutex

	persistent persistentState
	volatile   volatileState
	leader     leaderState
	role       Role
	leaderID   string // best known current leader, "" if unknown
	log        *Log

	sm      *statemachine.ChatStateMachine
	store   storage.Store
	sender  transport.Sender
	metrics MetricsCollector

	electionTimer   *time.Timer
	heartbeatTicker *time.Ticker

	shutdownCh chan struct{}
	wg         sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// Config bundles a Node's fixed construction-time dependencies.
type Config struct {
	ID      string
	Peers   []Peer
	Timing  Timing
	SM      *statemachine.ChatStateMachine
	Store   storage.Store // nil for a purely in-memory node
	Sender  transport.Sender
	Metrics MetricsCollector // nil to use noopMetrics
}

// NewNode constructs a Node in the Follower role, restoring persistent
// state from cfg.Store if one is configured.
func NewNode(cfg Config) (*Node, error) {
	n := &Node{
		id:         cfg.ID,
		peers:      cfg.Peers,
		timing:     cfg.Timing,
		role:       Follower,
		log:        NewLog(),
		sm:         cfg.SM,
		store:      cfg.Store,
		sender:     cfg.Sender,
		metrics:    cfg.Metrics,
		shutdownCh: make(chan struct{}),
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	if n.metrics == nil {
		n.metrics = noopMetrics{}
	}

	if n.store != nil {
		term, votedFor, entries, err := n.store.Load()
		if err != nil {
			return nil, fmt.Errorf("load persisted state: %w", err)
		}
		n.persistent.currentTerm = term
		n.persistent.votedFor = votedFor
		if len(entries) > 0 {
			logEntries := make([]transport.LogEntry, len(entries))
			for i, e := range entries {
				logEntries[i] = transport.LogEntry{Index: e.Index, Term: e.Term, Command: e.Command}
			}
			n.log.Append(logEntries...)
		}
	}

	return n, nil
}

// ID returns this node's identifier.
func (n *Node) ID() string { return n.id }

// Start resets the election timer and enters the main select loop in a
// background goroutine, matching raft-server/server.go's Start.
func (n *Node) Start() {
	n.resetElectionTimer()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case <-n.shutdownCh:
				return
			case <-n.electionTimer.C:
				n.startElection()
			}
		}
	}()
}

// Shutdown stops all background goroutines and timers and closes the
// store, if any.
func (n *Node) Shutdown() {
	close(n.shutdownCh)
	n.cancel()

	n.mu.Lock()
	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}
	if n.heartbeatTicker != nil {
		n.heartbeatTicker.Stop()
	}
	n.mu.Unlock()

	n.wg.Wait()

	if n.store != nil {
		if err := n.store.Close(); err != nil {
			log.Printf("[raft %s] error closing store: %v", n.id, err)
		}
	}
}

// Status returns a point-in-time snapshot for GET /status.
func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return Status{
		NodeID:      n.id,
		Term:        n.persistent.currentTerm,
		Role:        n.role.String(),
		LeaderID:    n.leaderID,
		CommitIndex: n.volatile.commitIndex,
		LastApplied: n.volatile.lastApplied,
	}
}

// IsLeader reports whether this node currently believes itself leader,
// and the leader it knows about otherwise (possibly "" if none is known
// yet, e.g. mid-election).
func (n *Node) IsLeader() (isLeader bool, knownLeaderID string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.role == Leader, n.leaderID
}

// PeerAddress resolves a peer ID to its raft address. The HTTP front
// does not use it for redirects: it builds the Location header from its
// own map of peer HTTP addresses.
func (n *Node) PeerAddress(id string) (string, bool) {
	for _, p := range n.peers {
		if p.ID == id {
			return p.Address, true
		}
	}
	return "", false
}

// resetElectionTimer draws a fresh randomized timeout in
// [ElectionTimeoutMin, ElectionTimeoutMax) so that split votes among
// simultaneously-timed-out followers are unlikely, per
// raft-server/server_elections.go's resetElectionTimer.
func (n *Node) resetElectionTimer() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resetElectionTimerLocked()
}

func (n *Node) resetElectionTimerLocked() {
	span := int64(n.timing.ElectionTimeoutMax - n.timing.ElectionTimeoutMin)
	if span <= 0 {
		span = 1
	}
	timeout := n.timing.ElectionTimeoutMin + time.Duration(rand.Int63n(span))

	if n.electionTimer == nil {
		n.electionTimer = time.NewTimer(timeout)
		return
	}
	// Reuse the one timer: the loop in Start waits on this timer's
	// channel, so a replacement timer would never be observed there.
	if !n.electionTimer.Stop() {
		select {
		case <-n.electionTimer.C:
		default:
		}
	}
	n.electionTimer.Reset(timeout)
}

// persistStateLocked durably records currentTerm/votedFor if a store is
// configured. Callers must hold n.mu.
func (n *Node) persistStateLocked() {
	if n.store == nil {
		return
	}
	if err := n.store.SaveTermAndVote(n.persistent.currentTerm, n.persistent.votedFor); err != nil {
		log.Printf("[raft %s] persist term/vote failed: %v", n.id, err)
	}
}
