package store

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// KeyCodec converts a typed key to and from its sortable byte encoding.
type KeyCodec[K any] interface {
	EncodeKey(K) []byte
	DecodeKey([]byte) (K, error)
}

// ValueCodec converts a typed value to and from bytes.
type ValueCodec[V any] interface {
	EncodeValue(V) ([]byte, error)
	DecodeValue([]byte) (V, error)
}

// Database is a named typed database over the environment: one bbolt
// bucket, a key codec, and a value codec (spec §4.2: "Database<K, V> typed
// handles parameterized by a key codec and a value codec").
type Database[K any, V any] struct {
	name  []byte
	keys  KeyCodec[K]
	vals  ValueCodec[V]
}

// NewDatabase declares a typed database; the bucket is created lazily on
// first write (EnsureBucket), never by a read transaction.
func NewDatabase[K any, V any](name string, keys KeyCodec[K], vals ValueCodec[V]) *Database[K, V] {
	return &Database[K, V]{name: []byte(name), keys: keys, vals: vals}
}

// EnsureBucket creates the backing bucket if absent. Must run in a write
// transaction; called once per database during environment bootstrap.
func (d *Database[K, V]) EnsureBucket(w *WriteTxn) error {
	_, err := w.tx.CreateBucketIfNotExists(d.name)
	if err != nil {
		return fmt.Errorf("store: create bucket %q: %w", d.name, err)
	}
	return nil
}

func (d *Database[K, V]) bucket(tx *bolt.Tx) *bolt.Bucket {
	return tx.Bucket(d.name)
}

// GetR reads key under a read transaction.
func (d *Database[K, V]) GetR(t *Txn, key K) (V, bool, error) {
	var zero V
	b := d.bucket(t.tx)
	if b == nil {
		return zero, false, nil
	}
	raw := b.Get(d.keys.EncodeKey(key))
	if raw == nil {
		return zero, false, nil
	}
	v, err := d.vals.DecodeValue(raw)
	if err != nil {
		return zero, false, fmt.Errorf("store: decode value in %q: %w", d.name, err)
	}
	return v, true, nil
}

// GetW reads key under a write transaction (sees its own uncommitted writes).
func (d *Database[K, V]) GetW(w *WriteTxn, key K) (V, bool, error) {
	var zero V
	b := d.bucket(w.tx)
	if b == nil {
		return zero, false, nil
	}
	raw := b.Get(d.keys.EncodeKey(key))
	if raw == nil {
		return zero, false, nil
	}
	v, err := d.vals.DecodeValue(raw)
	if err != nil {
		return zero, false, fmt.Errorf("store: decode value in %q: %w", d.name, err)
	}
	return v, true, nil
}

// Put writes key->value, creating the bucket if this is the first write.
func (d *Database[K, V]) Put(w *WriteTxn, key K, value V) error {
	b, err := w.tx.CreateBucketIfNotExists(d.name)
	if err != nil {
		return fmt.Errorf("store: create bucket %q: %w", d.name, err)
	}
	raw, err := d.vals.EncodeValue(value)
	if err != nil {
		return fmt.Errorf("store: encode value in %q: %w", d.name, err)
	}
	return b.Put(d.keys.EncodeKey(key), raw)
}

// Delete removes key. A no-op if the bucket or key is absent.
func (d *Database[K, V]) Delete(w *WriteTxn, key K) error {
	b := d.bucket(w.tx)
	if b == nil {
		return nil
	}
	return b.Delete(d.keys.EncodeKey(key))
}

// Iterate walks every (key, value) pair in ascending key order under a read
// transaction, invoking fn until it returns false or an error.
func (d *Database[K, V]) Iterate(t *Txn, fn func(K, V) (bool, error)) error {
	b := d.bucket(t.tx)
	if b == nil {
		return nil
	}
	c := b.Cursor()
	for rawK, rawV := c.First(); rawK != nil; rawK, rawV = c.Next() {
		key, err := d.keys.DecodeKey(rawK)
		if err != nil {
			return fmt.Errorf("store: decode key in %q: %w", d.name, err)
		}
		val, err := d.vals.DecodeValue(rawV)
		if err != nil {
			return fmt.Errorf("store: decode value in %q: %w", d.name, err)
		}
		cont, err := fn(key, val)
		if err != nil || !cont {
			return err
		}
	}
	return nil
}

// IterateW walks every (key, value) pair in ascending key order under the
// current write transaction, observing its own uncommitted writes. Used
// by the indexer driver's rebuild steps, which read back what earlier
// steps in the same transaction just wrote.
func (d *Database[K, V]) IterateW(w *WriteTxn, fn func(K, V) (bool, error)) error {
	b := d.bucket(w.tx)
	if b == nil {
		return nil
	}
	c := b.Cursor()
	for rawK, rawV := c.First(); rawK != nil; rawK, rawV = c.Next() {
		key, err := d.keys.DecodeKey(rawK)
		if err != nil {
			return fmt.Errorf("store: decode key in %q: %w", d.name, err)
		}
		val, err := d.vals.DecodeValue(rawV)
		if err != nil {
			return fmt.Errorf("store: decode value in %q: %w", d.name, err)
		}
		cont, err := fn(key, val)
		if err != nil || !cont {
			return err
		}
	}
	return nil
}

// IteratePrefixBytes walks every (key, value) pair whose raw key starts
// with prefix, in ascending order. Used by facet walks (filter, sort) and
// by per-word position scans in the ranking rules.
func (d *Database[K, V]) IteratePrefixBytes(t *Txn, prefix []byte, fn func(rawKey []byte, value V) (bool, error)) error {
	b := d.bucket(t.tx)
	if b == nil {
		return nil
	}
	c := b.Cursor()
	for rawK, rawV := c.Seek(prefix); rawK != nil && hasPrefix(rawK, prefix); rawK, rawV = c.Next() {
		val, err := d.vals.DecodeValue(rawV)
		if err != nil {
			return fmt.Errorf("store: decode value in %q: %w", d.name, err)
		}
		cont, err := fn(rawK, val)
		if err != nil || !cont {
			return err
		}
	}
	return nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
