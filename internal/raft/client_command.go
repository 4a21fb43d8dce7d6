package raft

import (
	"log"

	"github.com/A00N/distr-systems-d-chat/internal/storage"
	"github.com/A00N/distr-systems-d-chat/internal/transport"
)

// SubmitCommand appends cmd to the log if this node is currently leader,
// matching raft-server/server_handler.go's HandleAppendCommand. It does
// not wait for the entry to commit: the HTTP front decides how (or
// whether) to wait before answering the client, per the design's
// handleClientCommand contract.
//
// It returns ok=false with the best-known leaderID (possibly "" during
// an election) when this node cannot accept the write itself.
func (n *Node) SubmitCommand(cmd []byte) (ok bool, leaderID string, index uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.role != Leader {
		return false, n.leaderID, 0
	}

	entry := transport.LogEntry{
		Index:   n.log.LastIndex() + 1,
		Term:    n.persistent.currentTerm,
		Command: cmd,
	}
	n.log.Append(entry)

	if n.store != nil {
		if err := n.store.AppendEntries([]storage.LogEntry{{Index: entry.Index, Term: entry.Term, Command: entry.Command}}); err != nil {
			// The entry is already in the in-memory log and will still be
			// replicated; losing durability here does not lose the write
			// unless this node also crashes before a majority replicates it.
			log.Printf("[raft %s] persist submitted entry failed: %v", n.id, err)
		}
	}

	return true, n.id, entry.Index
}

// CommitIndex returns the current commit index, used by the HTTP front
// to tell whether a just-submitted entry has been committed yet.
func (n *Node) CommitIndex() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.volatile.commitIndex
}
