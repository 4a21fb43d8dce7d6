// Package storage implements the optional durable-write hook named in
// the design notes: a Store persists currentTerm, votedFor and the log
// at the three points consensus code must not lose them across a crash.
// A node configured with no Store runs entirely in memory.
package storage

// LogEntry is the on-disk shape of one replicated log entry. It mirrors
// transport.LogEntry, the entry type package raft keeps in memory,
// field-for-field; package raft converts between the two, and storage
// does not import package raft so that raft can import storage without a
// cycle.
type LogEntry struct {
	Index   uint64
	Term    uint64
	Command []byte
}

// Store is the durable-write hook. Implementations must make Save*/Append
// durable (fsync'd) before returning, since the consensus core calls
// these synchronously at the point spec.md §9 requires: before replying
// to a vote, before acknowledging an append, and before truncating a
// conflicting suffix.
type Store interface {
	// SaveTermAndVote persists currentTerm and votedFor. Called whenever
	// either changes.
	SaveTermAndVote(term uint64, votedFor string) error

	// AppendEntries durably stores entries, replacing any stored entry
	// with the same index: callers may re-send entries already stored.
	AppendEntries(entries []LogEntry) error

	// TruncateFrom drops every stored entry with Index >= index.
	TruncateFrom(index uint64) error

	// Load reads back everything persisted so far, for use at startup.
	Load() (term uint64, votedFor string, entries []LogEntry, err error)

	// Close releases any underlying file or database handle.
	Close() error
}
