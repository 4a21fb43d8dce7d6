// Package httpapi is the thin HTTP front described in the design's HTTP
// Front component: GET /health, GET /messages, GET /status and POST
// /chat, all served from a single mux the way raft-server/http_handler.go
// serves its own endpoints alongside the RAFT-internal ones.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/A00N/distr-systems-d-chat/internal/raft"
	"github.com/A00N/distr-systems-d-chat/internal/statemachine"
)

// commitPollInterval and commitWaitTimeout bound how long POST /chat
// waits for a just-submitted entry to be committed before answering. A
// leader that cannot reach a majority within this window is presumed
// stuck (network partition, peers down); the client still gets a 200
// once the entry is appended to the leader's own log — waiting
// only smooths out the common case where commit follows within a
// heartbeat or two.
const (
	commitPollInterval = 5 * time.Millisecond
	commitWaitTimeout  = 500 * time.Millisecond
)

// Server serves the public HTTP API for one node.
type Server struct {
	node *raft.Node
	sm   *statemachine.ChatStateMachine

	// peerHTTPAddr maps every cluster member's node ID (including this
	// node's own) to the host:port a browser or chat client should use
	// to reach it, so a not-leader response can redirect to the right
	// place. RAFT's own peer list only knows raft-internal addresses,
	// which is why this mapping lives here instead of in package raft.
	peerHTTPAddr map[string]string
}

// New builds the HTTP front for node, backed by sm for reads.
func New(node *raft.Node, sm *statemachine.ChatStateMachine, peerHTTPAddr map[string]string) *Server {
	return &Server{node: node, sm: sm, peerHTTPAddr: peerHTTPAddr}
}

// RegisterHandlers mounts the public endpoints on mux.
func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/messages", s.handleMessages)
	mux.HandleFunc("/chat", s.handleChat)
}

// handleHealth always answers 200: it reports process liveness, not
// cluster health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Status())
}

// handleMessages returns the committed chat entries this node knows
// about. It never blocks on RAFT: a follower answers from whatever it
// has applied so far, which may lag the leader briefly.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.sm.SnapshotMessages())
}

// handleChat accepts a client-submitted command. Only the current leader
// can accept a write: everyone else answers 302, with a Location header
// pointing at the known leader when one is known, or without one while
// an election is in progress and no leader has been elected yet.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	cmd, err := statemachine.ParseCommand(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ok, leaderID, index := s.node.SubmitCommand(cmd.MarshalForLog())
	if !ok {
		s.redirectToLeader(w, leaderID)
		return
	}

	s.waitForCommit(index)
	writeJSON(w, http.StatusOK, chatAcceptedResponse{Status: "ok", Index: index})
}

// chatAcceptedResponse is the body returned for an accepted POST /chat.
type chatAcceptedResponse struct {
	Status string `json:"status"`
	Index  uint64 `json:"index"`
}

// redirectToLeader answers 302, with a Location header if and only if
// leaderID is known and this node's config maps it to an http address.
func (s *Server) redirectToLeader(w http.ResponseWriter, leaderID string) {
	if leaderID != "" {
		if addr, ok := s.peerHTTPAddr[leaderID]; ok {
			w.Header().Set("Location", "http://"+addr+"/chat")
		}
	}
	w.WriteHeader(http.StatusFound)
}

// waitForCommit polls CommitIndex briefly so a client that gets a 200
// usually sees its own write reflected in the very next GET /messages,
// without making the leader block indefinitely on a partitioned cluster.
func (s *Server) waitForCommit(index uint64) {
	if index == 0 {
		return
	}
	deadline := time.Now().Add(commitWaitTimeout)
	for time.Now().Before(deadline) {
		if s.node.CommitIndex() >= index {
			return
		}
		time.Sleep(commitPollInterval)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
