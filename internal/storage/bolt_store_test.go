package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoltStore_PersistsTermVoteAndLogAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bolt")

	bs, err := OpenBoltStore(path)
	require.NoError(t, err)

	require.NoError(t, bs.SaveTermAndVote(5, "node2"))
	require.NoError(t, bs.AppendEntries([]LogEntry{
		{Index: 1, Term: 1, Command: []byte("a")},
		{Index: 2, Term: 2, Command: []byte("b")},
	}))
	require.NoError(t, bs.Close())

	reopened, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	term, votedFor, entries, err := reopened.Load()
	require.NoError(t, err)
	require.Equal(t, uint64(5), term)
	require.Equal(t, "node2", votedFor)
	require.Len(t, entries, 2)
}

func TestBoltStore_TruncateFromDropsSuffix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bolt")
	bs, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer bs.Close()

	require.NoError(t, bs.AppendEntries([]LogEntry{
		{Index: 1, Term: 1, Command: []byte("a")},
		{Index: 2, Term: 1, Command: []byte("b")},
		{Index: 3, Term: 1, Command: []byte("c")},
	}))
	require.NoError(t, bs.TruncateFrom(2))

	_, _, entries, err := bs.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestBoltStore_TruncateFromDropsEveryKeyInLongerSuffix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bolt")
	bs, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer bs.Close()

	entries := make([]LogEntry, 0, 8)
	for i := uint64(1); i <= 8; i++ {
		entries = append(entries, LogEntry{Index: i, Term: 1, Command: []byte("x")})
	}
	require.NoError(t, bs.AppendEntries(entries))
	require.NoError(t, bs.TruncateFrom(3))

	_, _, remaining, err := bs.Load()
	require.NoError(t, err)
	require.Len(t, remaining, 2, "every key from the truncation point onward must be removed, none skipped")
	for _, e := range remaining {
		require.Less(t, e.Index, uint64(3))
	}
}
