// Package transport frames RAFT RPCs as JSON over HTTP between nodes'
// internal raft ports, and carries them to and from the consensus core
// through the Sender/Receiver interfaces so neither side needs to know
// about the other's concrete type.
package transport

import "context"

// LogEntry is the wire (and in-memory) shape of one replicated log
// entry. Command is opaque to the transport and consensus layers; only
// the state machine interprets it.
type LogEntry struct {
	Index   uint64 `json:"index"`
	Term    uint64 `json:"term"`
	Command []byte `json:"command"`
}

// AppendEntriesRequest is sent by a leader to replicate log entries and,
// with Entries empty, to send a heartbeat.
type AppendEntriesRequest struct {
	Term         uint64     `json:"term"`
	LeaderID     string     `json:"leaderId"`
	PrevLogIndex uint64     `json:"prevLogIndex"`
	PrevLogTerm  uint64     `json:"prevLogTerm"`
	Entries      []LogEntry `json:"entries"`
	LeaderCommit uint64     `json:"leaderCommit"`
}

// AppendEntriesResponse carries ConflictTerm/ConflictIndex so a leader
// can jump nextIndex back to the right place in one round trip instead
// of decrementing by one entry per rejection.
type AppendEntriesResponse struct {
	Term          uint64 `json:"term"`
	Success       bool   `json:"success"`
	ConflictTerm  uint64 `json:"conflictTerm,omitempty"`
	ConflictIndex uint64 `json:"conflictIndex,omitempty"`
}

// RequestVoteRequest is sent by a candidate to solicit a vote.
type RequestVoteRequest struct {
	Term         uint64 `json:"term"`
	CandidateID  string `json:"candidateId"`
	LastLogIndex uint64 `json:"lastLogIndex"`
	LastLogTerm  uint64 `json:"lastLogTerm"`
}

// RequestVoteResponse reports whether the vote was granted.
type RequestVoteResponse struct {
	Term        uint64 `json:"term"`
	VoteGranted bool   `json:"voteGranted"`
}

// Receiver is implemented by the consensus core. The HTTP handler
// decodes a request off the wire and delegates to these methods without
// knowing anything about terms, logs or elections.
type Receiver interface {
	HandleAppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse
	HandleRequestVote(req *RequestVoteRequest) *RequestVoteResponse
}

// Sender is implemented by the HTTP client. The consensus core calls
// these to talk to peers without knowing anything about HTTP, retries or
// backoff.
type Sender interface {
	SendAppendEntries(ctx context.Context, peerAddr string, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
	SendRequestVote(ctx context.Context, peerAddr string, req *RequestVoteRequest) (*RequestVoteResponse, error)
}
