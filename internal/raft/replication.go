package raft

import (
	"context"
	"log"

	"github.com/A00N/distr-systems-d-chat/internal/storage"
	"github.com/A00N/distr-systems-d-chat/internal/transport"
)

// sendHeartbeats runs for as long as this node is leader, firing an
// AppendEntries round (heartbeat or real replication, the follower can't
// tell the difference) at every peer once per heartbeat tick. Matches
// raft-server/server.go's sendHeartbeats.
func (n *Node) sendHeartbeats() {
	defer n.wg.Done()

	for {
		n.mu.RLock()
		ticker := n.heartbeatTicker
		n.mu.RUnlock()
		if ticker == nil {
			return
		}

		select {
		case <-n.shutdownCh:
			return
		case <-ticker.C:
			n.mu.RLock()
			isLeader := n.role == Leader
			peers := append([]Peer(nil), n.peers...)
			n.mu.RUnlock()
			if !isLeader {
				return
			}

			n.metrics.RecordHeartbeat()
			for _, peer := range peers {
				if peer.ID == n.id {
					continue
				}
				go n.replicateLog(peer)
			}
		}
	}
}

// replicateLog sends one AppendEntries RPC to peer carrying whatever the
// leader believes the peer is missing, and applies the reply. Matches
// raft-server/server.go's replicateLog, plus the conflicting-term backup
// hint from the design notes.
func (n *Node) replicateLog(peer Peer) {
	n.mu.RLock()
	if n.role != Leader {
		n.mu.RUnlock()
		return
	}

	currentTerm := n.persistent.currentTerm
	nextIndex := n.leader.nextIndex[peer.ID]
	if nextIndex == 0 {
		nextIndex = 1
	}
	prevLogIndex := nextIndex - 1
	prevLogTerm := n.log.TermAt(prevLogIndex)
	entries := n.log.Range(nextIndex)
	leaderCommit := n.volatile.commitIndex
	n.mu.RUnlock()

	req := &transport.AppendEntriesRequest{
		Term:         currentTerm,
		LeaderID:     n.id,
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  prevLogTerm,
		Entries:      entries,
		LeaderCommit: leaderCommit,
	}

	ctx, cancel := context.WithCancel(n.ctx)
	defer cancel()
	n.metrics.RecordAppendEntries()
	resp, err := n.sender.SendAppendEntries(ctx, peer.Address, req)
	if err != nil {
		return // unreachable peer, next heartbeat tries again
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if resp.Term > n.persistent.currentTerm {
		n.stepDownLocked(resp.Term)
		return
	}
	if n.role != Leader || n.persistent.currentTerm != currentTerm {
		return // stale reply from a round we're no longer running
	}

	if !resp.Success {
		switch {
		case resp.ConflictTerm == 0:
			n.leader.nextIndex[peer.ID] = resp.ConflictIndex
		default:
			// The leader has ConflictTerm itself: skip past its own last
			// entry of that term. Otherwise it never had that term at all
			// (e.g. the follower is a deposed ex-leader with an uncommitted
			// tail from a term the current leader never entered), so back up
			// to exactly what the follower reported rather than guessing —
			// firstIndexOfTerm would silently return lastIndex+1 here and
			// leave nextIndex stuck, never truncating the divergent suffix.
			if lastOfTerm, ok := n.log.lastIndexOfTerm(resp.ConflictTerm); ok {
				n.leader.nextIndex[peer.ID] = lastOfTerm + 1
			} else {
				n.leader.nextIndex[peer.ID] = resp.ConflictIndex
			}
		}
		if n.leader.nextIndex[peer.ID] < 1 {
			n.leader.nextIndex[peer.ID] = 1
		}
		return
	}

	if len(entries) > 0 {
		last := entries[len(entries)-1]
		n.leader.matchIndex[peer.ID] = last.Index
		n.leader.nextIndex[peer.ID] = last.Index + 1
	}

	n.updateCommitIndexLocked()
}

// updateCommitIndexLocked advances commitIndex as far as a majority of
// the cluster (including self) has replicated, restricted to entries
// from the leader's own current term — the RAFT safety rule that
// prevents a leader from committing an older-term entry purely because a
// majority happens to already have it. Matches
// raft-server/server.go's updateCommitIndex. Callers must hold n.mu.
func (n *Node) updateCommitIndexLocked() {
	if n.role != Leader {
		return
	}

	for candidate := n.volatile.commitIndex + 1; ; candidate++ {
		entry, ok := n.log.Get(candidate)
		if !ok {
			break
		}
		if entry.Term != n.persistent.currentTerm {
			continue
		}

		count := 1 // self
		for _, peer := range n.peers {
			if peer.ID != n.id && n.leader.matchIndex[peer.ID] >= candidate {
				count++
			}
		}

		if count < len(n.peers)/2+1 {
			break
		}
		n.volatile.commitIndex = candidate
	}

	n.applyCommittedEntriesLocked()
}

// applyCommittedEntriesLocked feeds every newly committed entry to the
// state machine in order. Callers must hold n.mu.
func (n *Node) applyCommittedEntriesLocked() {
	for n.volatile.lastApplied < n.volatile.commitIndex {
		n.volatile.lastApplied++
		entry, ok := n.log.Get(n.volatile.lastApplied)
		if !ok {
			break
		}
		n.sm.Apply(entry.Index, entry.Term, entry.Command)
	}
}

// HandleAppendEntries implements transport.Receiver. It runs the
// AppendEntries consistency check and log-reconciliation steps from
// raft-server/server_handler.go, generalized with the conflicting-term
// backup hint: on rejection it reports the term of the conflicting entry
// (or 0 if the follower's log is simply too short) and the first index
// of that term, so the leader can back nextIndex up in one round trip.
func (n *Node) HandleAppendEntries(req *transport.AppendEntriesRequest) *transport.AppendEntriesResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	resp := &transport.AppendEntriesResponse{Term: n.persistent.currentTerm}

	if req.Term < n.persistent.currentTerm {
		return resp
	}

	if req.Term > n.persistent.currentTerm {
		n.stepDownLocked(req.Term)
	} else if n.role == Candidate {
		n.role = Follower
	}
	n.leaderID = req.LeaderID
	resp.Term = n.persistent.currentTerm
	n.resetElectionTimerLocked()

	if req.PrevLogIndex > 0 {
		entry, ok := n.log.Get(req.PrevLogIndex)
		if !ok {
			resp.ConflictTerm = 0
			resp.ConflictIndex = n.log.LastIndex() + 1
			return resp
		}
		if entry.Term != req.PrevLogTerm {
			resp.ConflictTerm = entry.Term
			resp.ConflictIndex = n.log.firstIndexOfTerm(entry.Term)
			return resp
		}
	}

	for _, newEntry := range req.Entries {
		existing, ok := n.log.Get(newEntry.Index)
		switch {
		case !ok:
			n.log.Append(newEntry)
		case existing.Term != newEntry.Term:
			n.log.TruncateFrom(newEntry.Index)
			if n.store != nil {
				if err := n.store.TruncateFrom(newEntry.Index); err != nil {
					log.Printf("[raft %s] persist truncate failed: %v", n.id, err)
				}
			}
			n.log.Append(newEntry)
		}
	}
	if len(req.Entries) > 0 && n.store != nil {
		n.persistAppendedLocked(req.Entries)
	}

	if req.LeaderCommit > n.volatile.commitIndex {
		lastNew := req.PrevLogIndex
		if len(req.Entries) > 0 {
			lastNew = req.Entries[len(req.Entries)-1].Index
		}
		if req.LeaderCommit < lastNew {
			n.volatile.commitIndex = req.LeaderCommit
		} else {
			n.volatile.commitIndex = lastNew
		}
		n.applyCommittedEntriesLocked()
	}

	resp.Success = true
	return resp
}

// persistAppendedLocked mirrors newly appended entries to the store.
// Callers must hold n.mu.
func (n *Node) persistAppendedLocked(entries []transport.LogEntry) {
	storeEntries := make([]storage.LogEntry, len(entries))
	for i, e := range entries {
		storeEntries[i] = storage.LogEntry{Index: e.Index, Term: e.Term, Command: e.Command}
	}
	if err := n.store.AppendEntries(storeEntries); err != nil {
		log.Printf("[raft %s] persist appended entries failed: %v", n.id, err)
	}
}
