package raft

import "github.com/A00N/distr-systems-d-chat/internal/transport"

// Log is the replicated log described in the design's Log component:
// append, get, range, truncateFrom, lastIndex and lastTerm, with a
// sentinel entry at index 0 (term 0) so "no previous entry" and "empty
// log" share one representation instead of needing special-cased zero
// checks throughout the consensus code.
type Log struct {
	entries []transport.LogEntry // entries[0] is the sentinel
}

// NewLog returns an empty log containing only the index-0 sentinel.
func NewLog() *Log {
	return &Log{entries: []transport.LogEntry{{Index: 0, Term: 0}}}
}

// Append adds entries to the end of the log.
func (l *Log) Append(entries ...transport.LogEntry) {
	l.entries = append(l.entries, entries...)
}

// Get returns the entry at index and whether it exists.
func (l *Log) Get(index uint64) (transport.LogEntry, bool) {
	if index >= uint64(len(l.entries)) {
		return transport.LogEntry{}, false
	}
	return l.entries[index], true
}

// TermAt returns the term stored at index, or 0 if index is out of range
// (including the sentinel at index 0).
func (l *Log) TermAt(index uint64) uint64 {
	entry, ok := l.Get(index)
	if !ok {
		return 0
	}
	return entry.Term
}

// Range returns entries with index in [from, lastIndex].
func (l *Log) Range(from uint64) []transport.LogEntry {
	if from >= uint64(len(l.entries)) {
		return nil
	}
	out := make([]transport.LogEntry, len(l.entries)-int(from))
	copy(out, l.entries[from:])
	return out
}

// TruncateFrom drops every entry with index >= from.
func (l *Log) TruncateFrom(from uint64) {
	if from >= uint64(len(l.entries)) {
		return
	}
	if from == 0 {
		from = 1
	}
	l.entries = l.entries[:from]
}

// LastIndex returns the index of the last entry (0 if the log is empty
// but for the sentinel).
func (l *Log) LastIndex() uint64 {
	return uint64(len(l.entries) - 1)
}

// LastTerm returns the term of the last entry (0 for an empty log).
func (l *Log) LastTerm() uint64 {
	return l.entries[len(l.entries)-1].Term
}

// firstIndexOfTerm returns the smallest index carrying term, used to
// compute the conflicting-term backup hint.
func (l *Log) firstIndexOfTerm(term uint64) uint64 {
	for i := 1; i < len(l.entries); i++ {
		if l.entries[i].Term == term {
			return uint64(i)
		}
	}
	return l.LastIndex() + 1
}

// lastIndexOfTerm returns the largest index carrying term and true, or
// (0, false) if this log has no entry with that term at all. A leader
// backing nextIndex up from a follower's conflicting-term hint uses this
// to tell "I have that term, skip past my last entry of it" apart from
// "I never had that term, jump straight to the follower's index" —
// conflating the two leaves nextIndex stuck when the follower's
// divergent suffix carries a term the leader never had.
func (l *Log) lastIndexOfTerm(term uint64) (uint64, bool) {
	for i := len(l.entries) - 1; i >= 1; i-- {
		if l.entries[i].Term == term {
			return uint64(i), true
		}
	}
	return 0, false
}
