// Package store provides the embedded ordered key-value storage engine.
//
// It wraps bbolt with the capabilities the repository layer depends on:
// named byte-ordered collections, point operations whose insert reports
// whether a prior value existed, batched writes, transactions spanning
// several collections, a process-wide monotonic id counter, and an explicit
// durability flush. Commits do not fsync individually (NoSync); callers
// invoke Sync after a batch of logically related writes.
package store

import (
	"encoding/binary"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	bolt "go.etcd.io/bbolt"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Collection names. Keys in every collection are 8-byte big-endian ids, so
// iteration order is ascending numeric id order.
const (
	Subs     = "subs"
	Unread   = "unread"
	Starred  = "starred"
	Entries  = "entries"
	Taggings = "taggings"
)

// seq holds the monotonic id counter, separate from user data.
const seq = "seq"

var collections = []string{Subs, Unread, Starred, Entries, Taggings, seq}

// Store is a handle to the embedded database. A single Store is shared by
// the repository and all concurrent ingestion tasks; bbolt serializes
// writing transactions internally.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database file at path and ensures all named
// collections exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range collections {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create collections: %w", err)
	}
	db.NoSync = true
	return &Store{db: db}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	if err := s.Sync(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

// Sync is the explicit durability flush: it fsyncs everything committed so
// far, bounding data loss on crash.
func (s *Store) Sync() error {
	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("sync db: %w", err)
	}
	return nil
}

// NextID draws a fresh value from the process-wide monotonic counter.
// Values are never reused, even across restarts.
func (s *Store) NextID() (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		id, err = tx.Bucket([]byte(seq)).NextSequence()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("generate id: %w", err)
	}
	return id, nil
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(tx *Tx) error) error {
	return s.db.View(func(tx *bolt.Tx) error { return fn(&Tx{tx}) })
}

// Update runs fn in a read-write transaction. Writes across any number of
// collections commit together or not at all.
func (s *Store) Update(fn func(tx *Tx) error) error {
	return s.db.Update(func(tx *bolt.Tx) error { return fn(&Tx{tx}) })
}

// Batch is like Update but coalesces concurrent calls into shared commits,
// making runs of small writes cheaper. fn must be idempotent: it may be
// re-run if a sibling in the same batch fails.
func (s *Store) Batch(fn func(tx *Tx) error) error {
	return s.db.Batch(func(tx *bolt.Tx) error { return fn(&Tx{tx}) })
}

// Tx is a transactional view over the named collections.
type Tx struct {
	tx *bolt.Tx
}

// Collection returns a handle to a named collection within the transaction.
func (t *Tx) Collection(name string) *Collection {
	return &Collection{b: t.tx.Bucket([]byte(name))}
}

// Collection is an ordered map from uint64 keys to encoded values.
type Collection struct {
	b *bolt.Bucket
}

// Get decodes the value at key into v. The first return reports whether the
// key was present.
func (c *Collection) Get(key uint64, v any) (bool, error) {
	data := c.b.Get(encodeKey(key))
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode value %d: %w", key, err)
	}
	return true, nil
}

// Insert stores v at key and reports whether a prior value existed there.
func (c *Collection) Insert(key uint64, v any) (existed bool, err error) {
	k := encodeKey(key)
	existed = c.b.Get(k) != nil
	data, err := json.Marshal(v)
	if err != nil {
		return existed, fmt.Errorf("encode value %d: %w", key, err)
	}
	if err := c.b.Put(k, data); err != nil {
		return existed, fmt.Errorf("put %d: %w", key, err)
	}
	return existed, nil
}

// Mark records membership of key in a set-like collection. The stored value
// carries no data.
func (c *Collection) Mark(key uint64) error {
	if err := c.b.Put(encodeKey(key), []byte{1}); err != nil {
		return fmt.Errorf("mark %d: %w", key, err)
	}
	return nil
}

// Delete removes key. Removing an absent key is a no-op.
func (c *Collection) Delete(key uint64) error {
	if err := c.b.Delete(encodeKey(key)); err != nil {
		return fmt.Errorf("delete %d: %w", key, err)
	}
	return nil
}

// Keys returns all keys in ascending order.
func (c *Collection) Keys() ([]uint64, error) {
	var keys []uint64
	cur := c.b.Cursor()
	for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
		keys = append(keys, decodeKey(k))
	}
	return keys, nil
}

// Each calls fn for every key/value pair in ascending key order. Iteration
// stops early when fn returns false.
func (c *Collection) Each(fn func(key uint64, data []byte) (bool, error)) error {
	cur := c.b.Cursor()
	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		cont, err := fn(decodeKey(k), v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// ReverseEach is Each in descending key order. Because entry keys embed the
// publish timestamp in their high bytes, this yields newest-first without a
// secondary sort.
func (c *Collection) ReverseEach(fn func(key uint64, data []byte) (bool, error)) error {
	cur := c.b.Cursor()
	for k, v := cur.Last(); k != nil; k, v = cur.Prev() {
		cont, err := fn(decodeKey(k), v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// Decode unmarshals a raw value yielded by Each or ReverseEach.
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func encodeKey(key uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], key)
	return buf[:]
}

func decodeKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k)
}
