package statemachine

import (
	"encoding/json"
	"fmt"
)

// Kind is the discriminant carried by every command payload.
type Kind string

const (
	KindChat        Kind = "chat"
	KindRoomAdd     Kind = "room_add"
	KindRoomDelete  Kind = "room_delete"
	generalRoomName      = "general"
)

// Command is the application payload replicated verbatim through RAFT.
// Fields not recognized by this node's version still round-trip through
// the log via Raw, so a rolling upgrade never loses data it cannot parse.
type Command struct {
	Type Kind   `json:"type"`
	User string `json:"user,omitempty"`
	Text string `json:"text,omitempty"`
	Room string `json:"room,omitempty"`
	ID   string `json:"id,omitempty"`

	// Raw holds the exact bytes the client submitted, so unknown fields
	// and unknown types are preserved through apply and through
	// snapshotMessages instead of being dropped by re-marshaling.
	Raw json.RawMessage `json:"-"`
}

// ParseCommand decodes a client-submitted command body. It does not
// reject unknown types: the consensus core never inspects the command,
// and the state machine treats unrecognized kinds as no-ops so that
// nodes running different versions can still agree on a log.
func ParseCommand(body []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(body, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	cmd.Raw = append(json.RawMessage(nil), body...)
	return cmd, nil
}

// MarshalForLog returns the bytes stored in the RAFT log for this
// command. Using Raw keeps whatever the client sent, including fields
// this build of the state machine does not know about.
func (c Command) MarshalForLog() []byte {
	if len(c.Raw) > 0 {
		return c.Raw
	}
	b, _ := json.Marshal(c)
	return b
}
