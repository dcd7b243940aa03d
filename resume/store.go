// Package resume implements the target-side persistent resume store of
// spec.md §3/§5: a durable mapping from (source, relative_path) to a byte
// offset that survives client restarts. The client engine writes it at
// block append and list reconciliation; the STREAM offset it sends comes
// from its in-memory mirror, seeded at startup from the local files'
// sizes, not from a read of this store.
package resume

import (
	"encoding/binary"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	bolt "go.etcd.io/bbolt"
)

// Tombstone marks a key whose path was deleted, per spec.md §3: bbolt
// has no cheap "delete and forget" semantics that also preserve key
// ordering for iteration, so a tombstone is recorded as this sentinel
// value rather than removed.
const Tombstone int64 = -1

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is the interface the client engine programs against, so an
// alternate backend can be substituted without touching §4.6's
// reconciliation logic - it only needs to preserve the tombstone
// convention (§9 Design Notes).
type Store interface {
	Get(source, relPath string) (offset int64, found bool, err error)
	Set(source, relPath string, offset int64) error
	Tombstone(source, relPath string) error
	Close() error
}

var bucketName = []byte("offsets")

// BoltStore is the bbolt-backed Store: one bucket, keys are
// "<source>\x00<relPath>", values are 8-byte big-endian offsets (Tombstone
// for a deleted path).
type BoltStore struct {
	db *bolt.DB
}

func Open(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("resume: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("resume: init bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func key(source, relPath string) []byte {
	return []byte(source + "\x00" + relPath)
}

func (s *BoltStore) Get(source, relPath string) (int64, bool, error) {
	var offset int64
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key(source, relPath))
		if v == nil {
			return nil
		}
		if len(v) != 8 {
			return fmt.Errorf("resume: corrupt value for %s/%s", source, relPath)
		}
		offset = int64(binary.BigEndian.Uint64(v))
		found = true
		return nil
	})
	return offset, found, err
}

func (s *BoltStore) Set(source, relPath string, offset int64) error {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, uint64(offset))
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key(source, relPath), v)
	})
}

func (s *BoltStore) Tombstone(source, relPath string) error {
	return s.Set(source, relPath, Tombstone)
}

func (s *BoltStore) Close() error { return s.db.Close() }

// DumpJSON renders every key currently in the store, keyed by the raw
// store key ("<source>\x00<relPath>"), for the `-v`-gated diagnostic stats dump
// (SPEC_FULL.md §12) - this is the one place a jsoniter-encoded debug blob
// is produced from the resume store, deliberately never fed back into the
// wire protocol.
func (s *BoltStore) DumpJSON() ([]byte, error) {
	out := make(map[string]int64)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.ForEach(func(k, v []byte) error {
			if len(v) != 8 {
				return nil
			}
			out[string(k)] = int64(binary.BigEndian.Uint64(v))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}
