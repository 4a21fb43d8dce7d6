// Package statemachine interprets committed RAFT log entries and keeps
// the chat state: which rooms exist and, per room, their ordered message
// history. It never talks to the network or the log directly — the
// consensus core hands it committed entries strictly in index order.
package statemachine

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

// MaxMessages caps how many committed entries snapshotMessages() retains.
// Once more than MaxMessages entries have been applied, the oldest ones
// fall off the flat view returned to clients. Every node applies commands
// in the same order, so every node trims at the same point and stays in
// agreement without any extra coordination. Grounded on the retention
// policy in original_source/server/state_machine.py.
const MaxMessages = 100

// Entry is one applied log entry, carried with its position so a
// snapshot read can present entries in commit order.
type Entry struct {
	Index   uint64  `json:"index"`
	Term    uint64  `json:"term"`
	Command Command `json:"command"`
}

// entryOnWire is the flattened shape Entry reads and writes: a snapshot
// line looks like the original command payload the client submitted,
// with index/term alongside it, instead of a nested "command" object.
type entryOnWire struct {
	Index uint64 `json:"index"`
	Term  uint64 `json:"term"`
	Type  Kind   `json:"type"`
	User  string `json:"user,omitempty"`
	Text  string `json:"text,omitempty"`
	Room  string `json:"room,omitempty"`
	ID    string `json:"id,omitempty"`
}

// MarshalJSON flattens Entry. When the command carries its original raw
// payload (the normal case: every entry reaches here via ParseCommand),
// that payload is used verbatim with index/term merged in, so fields
// this build of the state machine doesn't know about still reach the
// client unchanged instead of being dropped by re-encoding the typed
// Command fields. Falls back to entryOnWire's typed fields when there is
// no raw payload to merge into (e.g. an Entry built directly in a test).
func (e Entry) MarshalJSON() ([]byte, error) {
	if len(e.Command.Raw) > 0 {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(e.Command.Raw, &fields); err == nil {
			indexBytes, _ := json.Marshal(e.Index)
			termBytes, _ := json.Marshal(e.Term)
			fields["index"] = indexBytes
			fields["term"] = termBytes
			return json.Marshal(fields)
		}
	}

	return json.Marshal(entryOnWire{
		Index: e.Index,
		Term:  e.Term,
		Type:  e.Command.Type,
		User:  e.Command.User,
		Text:  e.Command.Text,
		Room:  e.Command.Room,
		ID:    e.Command.ID,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON, used by loadSnapshot to
// restore entries written in the flattened wire shape.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var w entryOnWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.Index = w.Index
	e.Term = w.Term
	e.Command = Command{
		Type: w.Type,
		User: w.User,
		Text: w.Text,
		Room: w.Room,
		ID:   w.ID,
		Raw:  append(json.RawMessage(nil), data...),
	}
	return nil
}

// ChatStateMachine is the state machine described in spec §4.3: a set of
// rooms plus, per room, an ordered chat history. "general" always exists
// and can never be deleted.
type ChatStateMachine struct {
	mu sync.RWMutex

	nodeID string

	rooms        map[string]struct{}
	roomHistory  map[string][]Entry
	allEntries   []Entry
	trimmedCount uint64

	// snapshotPath, if non-empty, is where the flat entry list is
	// mirrored to disk as newline-delimited JSON after every apply, so a
	// restarted node has something to show before it catches back up
	// through RAFT. It is a convenience only: startup never blocks on it
	// and RAFT replication is always the source of truth.
	snapshotPath string
}

// New creates a chat state machine seeded with the reserved "general"
// room. nodeID is used only to prefix log lines.
func New(nodeID string) *ChatStateMachine {
	return &ChatStateMachine{
		nodeID:      nodeID,
		rooms:       map[string]struct{}{generalRoomName: {}},
		roomHistory: make(map[string][]Entry),
	}
}

// WithSnapshotFile enables best-effort JSONL mirroring of applied entries
// to path. It loads any existing snapshot immediately.
func (sm *ChatStateMachine) WithSnapshotFile(path string) *ChatStateMachine {
	sm.snapshotPath = path
	sm.loadSnapshot()
	return sm
}

// Apply interprets one committed log entry. It must be called with
// strictly increasing index, starting at 1 — the consensus core's apply
// loop guarantees this. Replaying the same prefix from a fresh
// ChatStateMachine always yields the same rooms and history because the
// result depends only on the ordered sequence of commands, never on wall
// clock time or interleaved reads.
func (sm *ChatStateMachine) Apply(index, term uint64, payload []byte) {
	cmd, err := ParseCommand(payload)
	if err != nil {
		log.Printf("[statemachine %s] dropping unparseable entry at index %d: %v", sm.nodeID, index, err)
		return
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	switch cmd.Type {
	case KindRoomAdd:
		sm.rooms[cmd.Room] = struct{}{}
	case KindRoomDelete:
		if cmd.Room != generalRoomName {
			delete(sm.rooms, cmd.Room)
		}
	case KindChat:
		if _, exists := sm.rooms[cmd.Room]; exists {
			entry := Entry{Index: index, Term: term, Command: cmd}
			sm.roomHistory[cmd.Room] = append(sm.roomHistory[cmd.Room], entry)
		}
		// Non-existent room: recorded in allEntries below but not
		// appended to any room's history. See spec §9 Open Questions.
	default:
		// Forward compatibility: unknown command types are no-ops.
	}

	sm.allEntries = append(sm.allEntries, Entry{Index: index, Term: term, Command: cmd})
	sm.trimLocked()
	sm.persistLocked()
}

// trimLocked enforces MaxMessages on the flat view. Callers must hold mu.
func (sm *ChatStateMachine) trimLocked() {
	if len(sm.allEntries) <= MaxMessages {
		return
	}
	overflow := len(sm.allEntries) - MaxMessages
	sm.trimmedCount += uint64(overflow)
	sm.allEntries = append([]Entry(nil), sm.allEntries[overflow:]...)
}

// SnapshotMessages returns a flat, chronological view of all retained
// committed entries, ordered by log index ascending, suitable for
// serving GET /messages. The original command payload is preserved
// unchanged so clients can filter by room and reconcile by id.
func (sm *ChatStateMachine) SnapshotMessages() []Entry {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	out := make([]Entry, len(sm.allEntries))
	copy(out, sm.allEntries)
	return out
}

// Rooms returns the set of currently existing room names.
func (sm *ChatStateMachine) Rooms() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	out := make([]string, 0, len(sm.rooms))
	for room := range sm.rooms {
		out = append(out, room)
	}
	return out
}

// RoomHistory returns the ordered chat history applied for a single
// room. It is empty if the room has never received a chat entry.
func (sm *ChatStateMachine) RoomHistory(room string) []Entry {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	hist := sm.roomHistory[room]
	out := make([]Entry, len(hist))
	copy(out, hist)
	return out
}

// persistLocked mirrors the flat entry list to snapshotPath, if
// configured. Failures are logged and otherwise ignored: this file is a
// warm-start convenience, not the durability mechanism.
func (sm *ChatStateMachine) persistLocked() {
	if sm.snapshotPath == "" {
		return
	}

	tmp := sm.snapshotPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		log.Printf("[statemachine %s] snapshot create failed: %v", sm.nodeID, err)
		return
	}

	enc := json.NewEncoder(f)
	for _, entry := range sm.allEntries {
		if err := enc.Encode(entry); err != nil {
			log.Printf("[statemachine %s] snapshot encode failed: %v", sm.nodeID, err)
			f.Close()
			return
		}
	}

	if err := f.Close(); err != nil {
		log.Printf("[statemachine %s] snapshot close failed: %v", sm.nodeID, err)
		return
	}

	if err := os.Rename(tmp, sm.snapshotPath); err != nil {
		log.Printf("[statemachine %s] snapshot rename failed: %v", sm.nodeID, err)
	}
}

// loadSnapshot restores allEntries (but not rooms/history state — that
// is rebuilt through the normal apply path once RAFT catches the node
// back up) so a restarted node has something to answer GET /messages
// with immediately. It is entirely best-effort.
func (sm *ChatStateMachine) loadSnapshot() {
	f, err := os.Open(sm.snapshotPath)
	if err != nil {
		return
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	var loaded []Entry
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			log.Printf("[statemachine %s] snapshot load stopped early: %v", sm.nodeID, err)
			break
		}
		loaded = append(loaded, e)
	}

	sm.mu.Lock()
	sm.allEntries = loaded
	sm.trimLocked()
	sm.mu.Unlock()
}
