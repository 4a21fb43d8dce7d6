package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStore_PersistsTermVoteAndLogAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.dat")

	fs, err := OpenFileStore(path)
	require.NoError(t, err)

	require.NoError(t, fs.SaveTermAndVote(3, "node1"))
	require.NoError(t, fs.AppendEntries([]LogEntry{
		{Index: 1, Term: 1, Command: []byte(`{"type":"chat"}`)},
		{Index: 2, Term: 2, Command: []byte(`{"type":"room_add","room":"dev"}`)},
	}))
	require.NoError(t, fs.Close())

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	term, votedFor, entries, err := reopened.Load()
	require.NoError(t, err)
	require.Equal(t, uint64(3), term)
	require.Equal(t, "node1", votedFor)
	require.Len(t, entries, 2)
	require.Equal(t, uint64(2), entries[1].Index)
}

func TestFileStore_TruncateFromDropsSuffix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.dat")
	fs, err := OpenFileStore(path)
	require.NoError(t, err)
	defer fs.Close()

	require.NoError(t, fs.AppendEntries([]LogEntry{
		{Index: 1, Term: 1, Command: []byte("a")},
		{Index: 2, Term: 1, Command: []byte("b")},
		{Index: 3, Term: 1, Command: []byte("c")},
	}))
	require.NoError(t, fs.TruncateFrom(2))

	_, _, entries, err := fs.Load()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, uint64(1), entries[0].Index)
}

func TestFileStore_AppendEntriesUpsertsRatherThanDuplicating(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.dat")
	fs, err := OpenFileStore(path)
	require.NoError(t, err)
	defer fs.Close()

	require.NoError(t, fs.AppendEntries([]LogEntry{
		{Index: 1, Term: 1, Command: []byte("a")},
		{Index: 2, Term: 1, Command: []byte("b")},
	}))
	// A follower re-reporting an index it already has (e.g. a heartbeat
	// that carried an entry already present) must overwrite, not duplicate.
	require.NoError(t, fs.AppendEntries([]LogEntry{
		{Index: 2, Term: 1, Command: []byte("b")},
		{Index: 3, Term: 2, Command: []byte("c")},
	}))

	_, _, entries, err := fs.Load()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, uint64(1), entries[0].Index)
	require.Equal(t, uint64(2), entries[1].Index)
	require.Equal(t, uint64(3), entries[2].Index)
}

func TestFileStore_EmptyVotedForRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.dat")
	fs, err := OpenFileStore(path)
	require.NoError(t, err)

	require.NoError(t, fs.SaveTermAndVote(1, ""))
	require.NoError(t, fs.Close())

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	_, votedFor, _, err := reopened.Load()
	require.NoError(t, err)
	require.Equal(t, "", votedFor)
}
