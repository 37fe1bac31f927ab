// Package transform resolves raw user operations into the canonical
// DocumentChange stream the extractors consume (spec §4.6).
package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/searchcore/searchcore/internal/extract"
	"github.com/searchcore/searchcore/internal/fields"
)

// OpKind distinguishes the two shapes a raw user operation can take.
type OpKind int

const (
	OpUpsert OpKind = iota
	OpDelete
)

// Operation is one raw, user-submitted mutation before id resolution and
// dedup. Document holds dotted-path-flattened leaves keyed by field name
// (not yet assigned a field id); ExternalID is set directly for delete
// operations that name a document by id rather than by content.
type Operation struct {
	Kind       OpKind
	Document   map[string]json.RawMessage
	ExternalID string
}

// Config carries the per-index settings the transform needs: which field
// is the primary key, and whether missing keys fall back to a synthetic
// id (spec §4.6: "fallback to legacy synthetic id only if auto-id is
// enabled").
type Config struct {
	PrimaryKey     string
	AutoGenerateID bool
}

// Store is the minimal read surface the transform needs from the index:
// looking up an existing internal id for an external id (to detect
// updates vs. fresh insertions) and the previous stored document (to
// build DocumentChange.Old).
type Store interface {
	InternalID(externalID string) (uint32, bool)
	Document(internalID uint32) (map[uint16]json.RawMessage, bool)
}

// Result is the transform's output: the canonical change stream plus the
// per-record errors it collected. New field names are inserted into the
// fields map directly and are not listed here.
type Result struct {
	Changes []extract.DocumentChange
	Errors  []RecordError
}

// RecordError reports a single bad record without aborting the batch
// (spec §4.6: "invalid external id format -> per-record error surfaced
// in the task").
type RecordError struct {
	Index int
	Err   error
}

// Transformer runs Resolve -> Dedup -> Assign -> Emit over one batch.
type Transformer struct {
	cfg    Config
	fields *fields.Map
	store  Store
	ids    *IDAssigner
}

// NewTransformer builds a Transformer bound to one index's fields map,
// document store, and id assigner.
func NewTransformer(cfg Config, fm *fields.Map, store Store, ids *IDAssigner) *Transformer {
	return &Transformer{cfg: cfg, fields: fm, store: store, ids: ids}
}

// Run executes the full pipeline over a batch of raw operations.
func (t *Transformer) Run(ops []Operation) (Result, error) {
	resolved := make([]resolvedOp, 0, len(ops))
	var errs []RecordError

	for i, op := range ops {
		var flatDoc map[string]json.RawMessage
		if op.Kind == OpUpsert {
			flatDoc = fields.Flatten(op.Document)
		}
		extID, err := t.resolveExternalID(op, flatDoc)
		if err != nil {
			errs = append(errs, RecordError{Index: i, Err: err})
			continue
		}
		resolved = append(resolved, resolvedOp{op: op, externalID: extID, flatDoc: flatDoc})
	}

	deduped := dedup(resolved)

	changes := make([]extract.DocumentChange, 0, len(deduped))
	for _, r := range deduped {
		change, err := t.toChange(r)
		if err != nil {
			errs = append(errs, RecordError{Err: err})
			continue
		}
		changes = append(changes, change)
	}

	return Result{Changes: changes, Errors: errs}, nil
}

type resolvedOp struct {
	op         Operation
	externalID string
	// flatDoc is op.Document with nested objects reduced to dotted-path
	// leaves (nil for OpDelete). Computed once in Run and reused by both
	// resolveExternalID and toChange so a document is only flattened once
	// per batch.
	flatDoc map[string]json.RawMessage
}

// dedup collapses repeated external ids within one batch: the last
// operation wins, except a delete followed by an upsert for the same id
// collapses to an update rather than a fresh insertion (spec §4.6 step
// 2: "delete+add collapses to update").
func dedup(ops []resolvedOp) []resolvedOp {
	order := make([]string, 0, len(ops))
	last := make(map[string]resolvedOp, len(ops))
	for _, r := range ops {
		if _, seen := last[r.externalID]; !seen {
			order = append(order, r.externalID)
		}
		last[r.externalID] = r
	}
	out := make([]resolvedOp, 0, len(order))
	for _, id := range order {
		out = append(out, last[id])
	}
	return out
}

// resolveExternalID implements spec §4.6 step 1: the primary key is
// looked up in flatDoc, the document's dotted-path-flattened form, so a
// "flat or dotted nested path" key (e.g. "meta.id") resolves the same way
// a top-level key does — flattening has already turned it into a plain
// map entry by this point.
func (t *Transformer) resolveExternalID(op Operation, flatDoc map[string]json.RawMessage) (string, error) {
	if op.Kind == OpDelete && op.ExternalID != "" {
		return op.ExternalID, nil
	}

	raw, ok := flatDoc[t.cfg.PrimaryKey]
	if ok {
		id, err := scalarToExternalID(raw)
		if err != nil {
			return "", fmt.Errorf("transform: primary key %q: %w", t.cfg.PrimaryKey, err)
		}
		return id, nil
	}

	if !t.cfg.AutoGenerateID {
		return "", fmt.Errorf("transform: document missing primary key %q", t.cfg.PrimaryKey)
	}
	return syntheticID(flatDoc), nil
}

// scalarToExternalID accepts a string or number leaf as a primary key
// value; any other JSON shape is invalid.
func scalarToExternalID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("empty string primary key")
		}
		return s, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return fmt.Sprintf("%d", int64(f)), nil
	}
	return "", fmt.Errorf("primary key must be a string or integer")
}

// syntheticID derives a deterministic fallback id from the document's
// canonical JSON encoding, so re-submitting byte-identical content
// without a primary key resolves to the same external id.
func syntheticID(doc map[string]json.RawMessage) string {
	canonical, _ := json.Marshal(doc)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:32]
}

// toChange resolves an id (new or existing) and builds the
// DocumentChange the extractors will consume.
func (t *Transformer) toChange(r resolvedOp) (extract.DocumentChange, error) {
	existingID, exists := t.store.InternalID(r.externalID)

	switch {
	case r.op.Kind == OpDelete:
		if !exists {
			return extract.DocumentChange{}, fmt.Errorf("transform: delete of unknown id %q", r.externalID)
		}
		old, _ := t.store.Document(existingID)
		return extract.DocumentChange{Kind: extract.Deletion, InternalID: existingID, ExternalID: r.externalID, Old: old}, nil

	case exists:
		old, _ := t.store.Document(existingID)
		newDoc, err := t.assignFieldIDs(r.flatDoc)
		if err != nil {
			return extract.DocumentChange{}, err
		}
		return extract.DocumentChange{Kind: extract.Update, InternalID: existingID, ExternalID: r.externalID, Old: old, New: newDoc}, nil

	default:
		id, err := t.ids.Assign(r.externalID)
		if err != nil {
			return extract.DocumentChange{}, err
		}
		newDoc, err := t.assignFieldIDs(r.flatDoc)
		if err != nil {
			return extract.DocumentChange{}, err
		}
		return extract.DocumentChange{Kind: extract.Insertion, InternalID: id, ExternalID: r.externalID, New: newDoc}, nil
	}
}

// assignFieldIDs assigns a field id to every leaf of an already-flattened
// document (see fields.Flatten, run once per operation in Run), inserting
// new names into the fields map as needed (spec §4.3 insert is the only
// mutation, performed under the write txn the transform already runs in).
func (t *Transformer) assignFieldIDs(flat map[string]json.RawMessage) (map[uint16]json.RawMessage, error) {
	out := make(map[uint16]json.RawMessage, len(flat))
	for name, raw := range flat {
		id, err := t.fields.Insert(name)
		if err != nil {
			return nil, fmt.Errorf("transform: %w", err)
		}
		out[id] = raw
	}
	return out, nil
}

// IDAssigner hands out internal ids, preferring ids freed by prior
// deletions before growing the monotonic counter (spec §4.6 step 3).
type IDAssigner struct {
	next      uint32
	available *roaring.Bitmap
}

// NewIDAssigner builds an assigner seeded with the freelist bitmap
// persisted in AvailableInternalIDs and the next never-used id.
func NewIDAssigner(next uint32, available *roaring.Bitmap) *IDAssigner {
	if available == nil {
		available = roaring.New()
	}
	return &IDAssigner{next: next, available: available}
}

// Assign returns the next internal id for externalID, preferring the
// freelist. The externalID parameter is unused by the allocation policy
// itself but documents the call site's intent and leaves room for a
// future content-addressed id scheme.
func (a *IDAssigner) Assign(externalID string) (uint32, error) {
	if !a.available.IsEmpty() {
		id := a.available.Minimum()
		a.available.Remove(id)
		return id, nil
	}
	if a.next == 1<<32-1 {
		return 0, fmt.Errorf("transform: internal id space exhausted")
	}
	id := a.next
	a.next++
	return id, nil
}

// NextCounter returns the current monotonic counter value, for
// persisting back to the store after a batch commits.
func (a *IDAssigner) NextCounter() uint32 { return a.next }

// Available returns the remaining freelist, for persisting back to the
// store after a batch commits.
func (a *IDAssigner) Available() *roaring.Bitmap { return a.available }
