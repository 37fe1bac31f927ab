// Package store provides the single-writer, memory-mapped key-value
// environment the CORE persists all typed databases in (spec §4.2), plus
// the per-embedder vector store. The scheduler's task log lives in
// internal/scheduler.
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	bolt "go.etcd.io/bbolt"
)

// Env is the KV environment: one bbolt file backs every named database
// listed in spec §3. Multiple read transactions may run concurrently; at
// most one write transaction exists at a time, enforced both by bbolt's
// own single-writer semantics and by an OS-level advisory lock so that a
// second process never attempts to open the same environment for writes.
type Env struct {
	db   *bolt.DB
	lock *flock.Flock
	path string
}

// Options configures Open.
type Options struct {
	// MapSize mirrors LMDB/MDBX's map_size knob from spec §4.2. bbolt
	// grows the file on demand and is not given this value; Open fills in
	// DefaultMapSize when it is zero, and nothing compares the file's size
	// against it, so it does not limit how large the environment grows.
	MapSize int64
	// Timeout bounds how long Open waits to acquire the writer lock.
	Timeout time.Duration
}

// DefaultMapSize is used when Options.MapSize is zero.
const DefaultMapSize = 4 << 30 // 4 GiB

// Open opens (creating if absent) the KV environment rooted at path.
func Open(path string, opts Options) (*Env, error) {
	if opts.MapSize <= 0 {
		opts.MapSize = DefaultMapSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create environment directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(timeoutContext(opts.Timeout), 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("store: acquire writer lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("store: environment %s is already open for writing by another process", path)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("store: open environment: %w", err)
	}

	return &Env{db: db, lock: lock, path: path}, nil
}

// Close releases the writer lock and closes the underlying file.
func (e *Env) Close() error {
	closeErr := e.db.Close()
	unlockErr := e.lock.Unlock()
	if closeErr != nil {
		return closeErr
	}
	return unlockErr
}

// Path returns the environment's backing file path.
func (e *Env) Path() string { return e.path }

// Size reports the current on-disk size of the environment file.
func (e *Env) Size() (int64, error) {
	info, err := os.Stat(e.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Backup writes a consistent, point-in-time copy of the entire
// environment to w, taken under a read transaction so it never blocks or
// is blocked by the writer (spec §4.2 "snapshots for concurrent
// readers"). The maintenance package uses this as the byte source for
// both the snapshot and dump task kinds; the interchange format those
// bytes are eventually given on disk is outside this package's concern.
func (e *Env) Backup(w io.Writer) error {
	return e.db.View(func(tx *bolt.Tx) error {
		_, err := tx.WriteTo(w)
		return err
	})
}
