package raft

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/A00N/distr-systems-d-chat/internal/transport"
)

// startElection converts this node to Candidate, votes for itself, and
// fans out RequestVote RPCs to every peer, matching
// raft-server/server_elections.go's startElection. Each RPC runs in its
// own goroutine; the mutex is never held across the network call.
func (n *Node) startElection() {
	n.mu.Lock()

	n.role = Candidate
	n.persistent.currentTerm++
	currentTerm := n.persistent.currentTerm
	n.persistent.votedFor = n.id
	n.leaderID = ""
	n.persistStateLocked()

	lastLogIndex := n.log.LastIndex()
	lastLogTerm := n.log.LastTerm()

	n.mu.Unlock()

	log.Printf("[raft %s] starting election for term %d", n.id, currentTerm)
	n.metrics.RecordElectionStarted()
	n.resetElectionTimer()

	votes := 1 // vote for self
	var voteMu sync.Mutex
	becameLeader := false

	majority := len(n.peers)/2 + 1
	if votes >= majority {
		// single-node cluster: no peer to wait on, win immediately.
		becameLeader = true
		n.becomeLeader(currentTerm)
	}

	for _, peer := range n.peers {
		if peer.ID == n.id {
			continue
		}

		go func(peer Peer) {
			req := &transport.RequestVoteRequest{
				Term:         currentTerm,
				CandidateID:  n.id,
				LastLogIndex: lastLogIndex,
				LastLogTerm:  lastLogTerm,
			}

			ctx, cancel := context.WithTimeout(n.ctx, n.timing.RPCTimeout)
			defer cancel()

			n.metrics.RecordRequestVote()
			resp, err := n.sender.SendRequestVote(ctx, peer.Address, req)
			if err != nil {
				return // unreachable peer, ignore
			}

			n.mu.Lock()
			if resp.Term > n.persistent.currentTerm {
				n.stepDownLocked(resp.Term)
				n.mu.Unlock()
				return
			}
			stillCandidate := n.role == Candidate && n.persistent.currentTerm == currentTerm
			n.mu.Unlock()

			if !stillCandidate || !resp.VoteGranted {
				return
			}

			voteMu.Lock()
			votes++
			majority := len(n.peers)/2 + 1
			if votes >= majority && !becameLeader {
				becameLeader = true
				n.becomeLeader(currentTerm)
			}
			voteMu.Unlock()
		}(peer)
	}
}

// becomeLeader transitions to Leader if the node is still a candidate in
// electedTerm, initializes leader state, and starts the heartbeat
// ticker. Matches raft-server/server_elections.go's becomeLeader.
func (n *Node) becomeLeader(electedTerm uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.role != Candidate || n.persistent.currentTerm != electedTerm {
		return
	}

	n.role = Leader
	n.leaderID = n.id
	n.leader = newLeaderState()

	lastLogIndex := n.log.LastIndex()
	for _, peer := range n.peers {
		if peer.ID != n.id {
			n.leader.nextIndex[peer.ID] = lastLogIndex + 1
			n.leader.matchIndex[peer.ID] = 0
		}
	}

	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}

	log.Printf("[raft %s] became leader for term %d", n.id, electedTerm)
	n.metrics.RecordBecameLeader()

	n.heartbeatTicker = time.NewTicker(n.timing.HeartbeatInterval)
	n.wg.Add(1)
	go n.sendHeartbeats()
}

// HandleRequestVote implements transport.Receiver. It grants a vote only
// if the candidate's term is current-or-newer, this node has not already
// voted for someone else this term, and the candidate's log is at least
// as up to date as this node's own — the RAFT thesis §5.4.1 rule,
// unchanged from raft-server/server_handler.go's HandleRequestVote.
func (n *Node) HandleRequestVote(req *transport.RequestVoteRequest) *transport.RequestVoteResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	resp := &transport.RequestVoteResponse{Term: n.persistent.currentTerm}

	if req.Term < n.persistent.currentTerm {
		return resp
	}

	if req.Term > n.persistent.currentTerm {
		n.stepDownLocked(req.Term)
	}
	resp.Term = n.persistent.currentTerm

	if n.persistent.votedFor != "" && n.persistent.votedFor != req.CandidateID {
		return resp
	}

	lastLogIndex := n.log.LastIndex()
	lastLogTerm := n.log.LastTerm()

	logUpToDate := req.LastLogTerm > lastLogTerm ||
		(req.LastLogTerm == lastLogTerm && req.LastLogIndex >= lastLogIndex)

	if !logUpToDate {
		return resp
	}

	n.persistent.votedFor = req.CandidateID
	n.persistStateLocked()
	n.resetElectionTimerLocked()
	resp.VoteGranted = true
	return resp
}

// stepDownLocked adopts a higher term seen from a peer and reverts to
// Follower. Callers must hold n.mu.
func (n *Node) stepDownLocked(term uint64) {
	n.persistent.currentTerm = term
	n.persistent.votedFor = ""
	n.role = Follower
	n.leaderID = ""
	n.persistStateLocked()

	if n.heartbeatTicker != nil {
		n.heartbeatTicker.Stop()
		n.heartbeatTicker = nil
	}
	n.resetElectionTimerLocked()
}
