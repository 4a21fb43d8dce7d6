package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"sync"
)

// FileStore is a length-prefixed binary file backing a Store, grounded
// on the teacher's own persist()/restore() pair (raft-server/state.go):
// every mutation rewrites the whole file from a truncate rather than
// appending in place. That is wasteful for a very long log, but it keeps
// the on-disk format trivially consistent, which is what a raft-scale
// chat log needs far more than write throughput.
//
// File layout:
//
//	[0:8]   currentTerm  (uint64 BE)
//	[8:12]  votedFor len (uint32 BE)
//	[..]    votedFor bytes
//	[..:..+8] logLength (uint64 BE)
//	then logLength entries, each:
//	  [0:8]  term    (uint64 BE)
//	  [8:16] index   (uint64 BE)
//	  [16:20] command length (uint32 BE)
//	  [..]    command bytes
type FileStore struct {
	mu       sync.Mutex
	fd       *os.File
	term     uint64
	votedFor string
	entries  []LogEntry
}

// OpenFileStore opens (creating if necessary) a file store at path and
// loads whatever state it already holds.
func OpenFileStore(path string) (*FileStore, error) {
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open file store: %w", err)
	}

	fs := &FileStore{fd: fd}
	if info, statErr := fd.Stat(); statErr == nil && info.Size() > 0 {
		if err := fs.restore(); err != nil {
			fd.Close()
			return nil, fmt.Errorf("restore file store: %w", err)
		}
	}
	return fs, nil
}

func (fs *FileStore) SaveTermAndVote(term uint64, votedFor string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.term = term
	fs.votedFor = votedFor
	return fs.persistLocked()
}

// AppendEntries upserts by index rather than blindly appending: a caller
// may re-report an index the follower already had (e.g. a heartbeat
// replay that didn't actually change the in-memory log), and the file
// must not accumulate duplicate index entries across restarts.
func (fs *FileStore) AppendEntries(entries []LogEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for _, e := range entries {
		replaced := false
		for i, existing := range fs.entries {
			if existing.Index == e.Index {
				fs.entries[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			fs.entries = append(fs.entries, e)
		}
	}
	sort.Slice(fs.entries, func(i, j int) bool { return fs.entries[i].Index < fs.entries[j].Index })
	return fs.persistLocked()
}

func (fs *FileStore) TruncateFrom(index uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	kept := fs.entries[:0:0]
	for _, e := range fs.entries {
		if e.Index >= index {
			break
		}
		kept = append(kept, e)
	}
	fs.entries = kept
	return fs.persistLocked()
}

func (fs *FileStore) Load() (uint64, string, []LogEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	out := make([]LogEntry, len(fs.entries))
	copy(out, fs.entries)
	return fs.term, fs.votedFor, out, nil
}

func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.fd.Close()
}

// persistLocked rewrites the whole file. Callers must hold fs.mu.
func (fs *FileStore) persistLocked() error {
	if err := fs.fd.Truncate(0); err != nil {
		return err
	}
	if _, err := fs.fd.Seek(0, 0); err != nil {
		return err
	}

	votedForBytes := []byte(fs.votedFor)
	header := make([]byte, 8+4+len(votedForBytes)+8)
	binary.BigEndian.PutUint64(header[0:8], fs.term)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(votedForBytes)))
	copy(header[12:12+len(votedForBytes)], votedForBytes)
	binary.BigEndian.PutUint64(header[12+len(votedForBytes):], uint64(len(fs.entries)))

	if _, err := fs.fd.Write(header); err != nil {
		return fmt.Errorf("write file store header: %w", err)
	}

	for i, entry := range fs.entries {
		entryHeader := make([]byte, 20)
		binary.BigEndian.PutUint64(entryHeader[0:8], entry.Term)
		binary.BigEndian.PutUint64(entryHeader[8:16], entry.Index)
		binary.BigEndian.PutUint32(entryHeader[16:20], uint32(len(entry.Command)))

		if _, err := fs.fd.Write(entryHeader); err != nil {
			return fmt.Errorf("write entry %d header: %w", i, err)
		}
		if _, err := fs.fd.Write(entry.Command); err != nil {
			return fmt.Errorf("write entry %d command: %w", i, err)
		}
	}

	return fs.fd.Sync()
}

func (fs *FileStore) restore() error {
	if _, err := fs.fd.Seek(0, 0); err != nil {
		return err
	}

	fixed := make([]byte, 12)
	if _, err := readFull(fs.fd, fixed); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	fs.term = binary.BigEndian.Uint64(fixed[0:8])
	votedForLen := binary.BigEndian.Uint32(fixed[8:12])

	votedForBytes := make([]byte, votedForLen)
	if _, err := readFull(fs.fd, votedForBytes); err != nil {
		return fmt.Errorf("read votedFor: %w", err)
	}
	fs.votedFor = string(votedForBytes)

	logLenBytes := make([]byte, 8)
	if _, err := readFull(fs.fd, logLenBytes); err != nil {
		return fmt.Errorf("read log length: %w", err)
	}
	logLen := binary.BigEndian.Uint64(logLenBytes)

	fs.entries = make([]LogEntry, 0, logLen)
	for i := uint64(0); i < logLen; i++ {
		entryHeader := make([]byte, 20)
		if _, err := readFull(fs.fd, entryHeader); err != nil {
			return fmt.Errorf("read entry %d header: %w", i, err)
		}
		var entry LogEntry
		entry.Term = binary.BigEndian.Uint64(entryHeader[0:8])
		entry.Index = binary.BigEndian.Uint64(entryHeader[8:16])
		cmdLen := binary.BigEndian.Uint32(entryHeader[16:20])

		entry.Command = make([]byte, cmdLen)
		if _, err := readFull(fs.fd, entry.Command); err != nil {
			return fmt.Errorf("read entry %d command: %w", i, err)
		}
		fs.entries = append(fs.entries, entry)
	}

	return nil
}

func readFull(f *os.File, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := f.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
