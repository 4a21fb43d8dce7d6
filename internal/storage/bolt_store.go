package storage

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"
)

// BoltStore is a Store backed by go.etcd.io/bbolt, offered as an
// alternative to FileStore for operators who would rather have a single
// transactional K/V file than the teacher's hand-rolled binary framing.
// It is grounded on the persistence dependency carried by the other
// example repo in the pack (IvanObreshkov-aubg-cos-senior-project's
// go.mod requires bbolt) rather than on the teacher, which has no such
// dependency — see DESIGN.md.
type BoltStore struct {
	db *bbolt.DB
}

var (
	metaBucket = []byte("meta")
	logBucket  = []byte("log")

	metaKeyTerm     = []byte("term")
	metaKeyVotedFor = []byte("votedFor")
)

// OpenBoltStore opens (creating if necessary) a bbolt database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(metaBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(logBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (b *BoltStore) SaveTermAndVote(term uint64, votedFor string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		var termBytes [8]byte
		binary.BigEndian.PutUint64(termBytes[:], term)
		if err := meta.Put(metaKeyTerm, termBytes[:]); err != nil {
			return err
		}
		return meta.Put(metaKeyVotedFor, []byte(votedFor))
	})
}

func (b *BoltStore) AppendEntries(entries []LogEntry) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(logBucket)
		for _, e := range entries {
			key := indexKey(e.Index)
			value, err := encodeEntry(e)
			if err != nil {
				return err
			}
			if err := bucket.Put(key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// TruncateFrom drops every stored entry with index >= index. It deletes
// through the cursor itself rather than bucket.Delete: deleting a key
// from the bucket while a cursor is positioned on it invalidates the
// cursor and can skip the next key, silently leaving part of a
// divergent suffix behind on disk.
func (b *BoltStore) TruncateFrom(index uint64) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(logBucket)
		cursor := bucket.Cursor()
		for k, _ := cursor.Seek(indexKey(index)); k != nil; k, _ = cursor.Next() {
			if err := cursor.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltStore) Load() (uint64, string, []LogEntry, error) {
	var term uint64
	var votedFor string
	var entries []LogEntry

	err := b.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if v := meta.Get(metaKeyTerm); len(v) == 8 {
			term = binary.BigEndian.Uint64(v)
		}
		if v := meta.Get(metaKeyVotedFor); v != nil {
			votedFor = string(v)
		}

		bucket := tx.Bucket(logBucket)
		return bucket.ForEach(func(_, v []byte) error {
			entry, err := decodeEntry(v)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return 0, "", nil, err
	}
	return term, votedFor, entries, nil
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}

func indexKey(index uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], index)
	return key[:]
}

func encodeEntry(e LogEntry) ([]byte, error) {
	buf := make([]byte, 16+len(e.Command))
	binary.BigEndian.PutUint64(buf[0:8], e.Term)
	binary.BigEndian.PutUint64(buf[8:16], e.Index)
	copy(buf[16:], e.Command)
	return buf, nil
}

func decodeEntry(v []byte) (LogEntry, error) {
	if len(v) < 16 {
		return LogEntry{}, fmt.Errorf("bolt store: entry record too short (%d bytes)", len(v))
	}
	return LogEntry{
		Term:    binary.BigEndian.Uint64(v[0:8]),
		Index:   binary.BigEndian.Uint64(v[8:16]),
		Command: append([]byte(nil), v[16:]...),
	}, nil
}
