package raft

// persistentState holds currentTerm and votedFor, which must survive a
// crash along with the log (kept separately in Node.log). Grounded on
// raft-server/state.go's persistentState, generalized from uint32 IDs to
// string node IDs and uint64 term/index.
type persistentState struct {
	currentTerm uint64
	votedFor    string // "" means not yet voted this term
}

// volatileState is rebuilt from scratch after a crash and never
// persisted.
type volatileState struct {
	commitIndex uint64
	lastApplied uint64
}

// leaderState is only meaningful while role == Leader; it is
// reinitialized every time a node wins an election.
type leaderState struct {
	nextIndex  map[string]uint64
	matchIndex map[string]uint64
}

func newLeaderState() leaderState {
	return leaderState{
		nextIndex:  make(map[string]uint64),
		matchIndex: make(map[string]uint64),
	}
}
