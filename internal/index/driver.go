package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/searchcore/searchcore/internal/codec"
	"github.com/searchcore/searchcore/internal/config"
	"github.com/searchcore/searchcore/internal/extract"
	"github.com/searchcore/searchcore/internal/fields"
	"github.com/searchcore/searchcore/internal/fst"
	"github.com/searchcore/searchcore/internal/store"
	"github.com/searchcore/searchcore/internal/tokenize"
	"github.com/searchcore/searchcore/internal/transform"
)

// nextInternalIDKey is the Settings-database key the monotonic internal
// id counter is persisted under between batches.
const nextInternalIDKey = "next_internal_id"

// indexSettingsKey is the Settings-database key the most recently applied
// per-index Settings object (spec §6) is persisted under.
const indexSettingsKey = "index_settings"

// Driver runs one indexing batch end to end inside a single write
// transaction (spec §4.7): transform, parallel extraction, per-database
// merge+apply, FST/prefix/facet rebuild, vector apply, commit. Mirrors
// the mutex-guarded single-writer shape of the teacher's Coordinator,
// generalized from file-watch reconciliation to full batch indexing.
type Driver struct {
	mu       sync.Mutex
	env      *store.Env
	dbs      *store.IndexDatabases
	fields   *fields.Map
	vectors  *store.VectorStore
	tok      *tokenize.Tokenizer
	runner   *extract.Runner
	settings config.Settings
}

// NewDriver builds a Driver bound to one index's environment, databases,
// fields map, and vector store.
func NewDriver(env *store.Env, dbs *store.IndexDatabases, fm *fields.Map, vectors *store.VectorStore, stopWords []string, concurrency int) *Driver {
	return &Driver{
		env:     env,
		dbs:     dbs,
		fields:  fm,
		vectors: vectors,
		tok:     tokenize.New(stopWords),
		runner:  extract.NewRunner(concurrency),
	}
}

// VectorOp is one embedder-scoped vector mutation applied alongside a
// document batch (spec §4.7 step 7).
type VectorOp struct {
	Embedder   string
	InternalID uint32
	Vector     []float32 // nil means "delete"
}

// Batch is everything one call to ApplyBatch needs: the raw user
// operations transform.Run resolves, primary-key configuration, and any
// vector mutations riding along with the same documents.
type Batch struct {
	Config     transform.Config
	Operations []transform.Operation
	Vectors    []VectorOp
}

// BatchResult reports per-record transform errors (spec §4.6: "per-record
// error surfaced in the task") without failing the whole batch.
type BatchResult struct {
	DocumentsChanged int
	RecordErrors     []transform.RecordError
}

// ApplyBatch runs the full pipeline in one write transaction. Any error
// returned aborts the batch; the transaction is rolled back and no
// partial state is committed (spec §4.5: "Errors abort the batch").
func (d *Driver) ApplyBatch(ctx context.Context, batch Batch) (BatchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, err := d.env.WriteTxn()
	if err != nil {
		return BatchResult{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = w.Rollback()
		}
	}()

	if err := d.dbs.EnsureAll(w); err != nil {
		return BatchResult{}, err
	}

	assigner, err := d.loadAssigner(w)
	if err != nil {
		return BatchResult{}, err
	}

	adapter := &storeAdapter{dbs: d.dbs, w: w}
	tr := transform.NewTransformer(batch.Config, d.fields, adapter, assigner)
	result, err := tr.Run(batch.Operations)
	if err != nil {
		return BatchResult{}, err
	}

	// tr.Run mints field ids for any attribute seen for the first time;
	// re-derive metadata now so the wildcard "every field searchable by
	// default" settings (spec §6) covers those new ids before extraction
	// reads them below.
	d.applyFieldMetadata()

	ectx := &extract.Context{Fields: d.fields, Tokenizer: d.tok}
	outputs, err := d.runner.Run(ctx, ectx, result.Changes)
	if err != nil {
		return BatchResult{}, err
	}

	if err := d.applyDocumentRecords(w, result.Changes); err != nil {
		return BatchResult{}, err
	}
	if err := d.applyIDMappings(w, result.Changes); err != nil {
		return BatchResult{}, err
	}
	if err := applyEntries(w, d.dbs.WordDocids, outputs["word_docids"]); err != nil {
		return BatchResult{}, err
	}
	if err := applyEntries(w, d.dbs.ExactWordDocids, outputs["exact_word_docids"]); err != nil {
		return BatchResult{}, err
	}
	if err := applyBytesKeyEntries(w, d.dbs.WordFidDocids, outputs["word_fid_docids"]); err != nil {
		return BatchResult{}, err
	}
	if err := applyBytesKeyEntries(w, d.dbs.WordPositionDocids, outputs["word_position_docids"]); err != nil {
		return BatchResult{}, err
	}
	if err := applyBytesKeyEntries(w, d.dbs.WordPairProximityDocids, outputs["word_pair_proximity_docids"]); err != nil {
		return BatchResult{}, err
	}
	if err := applyBytesKeyEntries(w, d.dbs.FacetNumberDocids, outputs["facet_number_docids"]); err != nil {
		return BatchResult{}, err
	}
	if err := applyBytesKeyEntries(w, d.dbs.FacetStringDocids, outputs["facet_string_docids"]); err != nil {
		return BatchResult{}, err
	}

	if err := d.rebuildWordsFST(w); err != nil {
		return BatchResult{}, err
	}
	if err := d.rebuildPrefixes(w); err != nil {
		return BatchResult{}, err
	}
	if err := d.rebuildFacetLevels(w, codec.FacetKindNumber, d.dbs.FacetNumberDocids); err != nil {
		return BatchResult{}, err
	}
	if err := d.rebuildFacetLevels(w, codec.FacetKindString, d.dbs.FacetStringDocids); err != nil {
		return BatchResult{}, err
	}

	d.applyVectors(batch.Vectors)

	if err := d.saveAssigner(w, assigner); err != nil {
		return BatchResult{}, err
	}

	if err := w.Commit(); err != nil {
		return BatchResult{}, err
	}
	committed = true

	return BatchResult{DocumentsChanged: len(result.Changes), RecordErrors: result.Errors}, nil
}

// ApplySettings applies one per-index Settings object (spec §6
// "Configuration options"): it derives every field's searchable,
// filterable, sortable, distinct, and faceted flags, replaces the
// tokenizer's stop word set, and persists the settings object itself so a
// later process restart (or the search driver) can recover it. Runs in
// its own write transaction, independent of any document batch (spec
// §4.11 allows a settings update to share a dispatch with document
// operations without requiring they share one commit).
//
// An attribute list left empty means "every known field" (the wildcard
// default spec §9's retrieved source uses for an index that has never had
// searchableAttributes/filterableAttributes/sortableAttributes set).
func (d *Driver) ApplySettings(s config.Settings) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, err := d.env.WriteTxn()
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = w.Rollback()
		}
	}()

	if err := d.dbs.EnsureAll(w); err != nil {
		return err
	}

	for _, n := range s.SearchableAttributes {
		if _, err := d.fields.Insert(n); err != nil {
			return err
		}
	}
	for _, n := range s.FilterableAttributes {
		if _, err := d.fields.Insert(n); err != nil {
			return err
		}
	}
	for _, n := range s.SortableAttributes {
		if _, err := d.fields.Insert(n); err != nil {
			return err
		}
	}
	if s.DistinctAttribute != "" {
		if _, err := d.fields.Insert(s.DistinctAttribute); err != nil {
			return err
		}
	}

	d.settings = s
	d.applyFieldMetadata()
	d.tok.SetStopWords(s.StopWords)

	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("index: encode settings: %w", err)
	}
	if err := d.dbs.Settings.Put(w, indexSettingsKey, raw); err != nil {
		return err
	}

	if err := w.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// applyFieldMetadata re-derives every currently-known field's metadata
// from d.settings. Called from ApplySettings, and again from ApplyBatch
// right after transform resolves field ids for the batch, since a
// batch can mint brand new field ids (spec §4.3) that the last settings
// application never saw; the wildcard ("every field searchable/
// filterable/sortable when the corresponding attribute list is empty")
// must cover those too, before extraction reads Metadata below.
func (d *Driver) applyFieldMetadata() {
	s := d.settings
	searchableAll := len(s.SearchableAttributes) == 0
	filterableAll := len(s.FilterableAttributes) == 0
	sortableAll := len(s.SortableAttributes) == 0
	searchable := toAttributeSet(s.SearchableAttributes)
	filterable := toAttributeSet(s.FilterableAttributes)
	sortable := toAttributeSet(s.SortableAttributes)

	for _, nm := range d.fields.WithMetadata() {
		isFilterable := filterableAll || filterable[nm.Name]
		d.fields.SetMetadata(nm.ID, fields.Metadata{
			Searchable: searchableAll || searchable[nm.Name],
			Filterable: isFilterable,
			Sortable:   sortableAll || sortable[nm.Name],
			Distinct:   s.DistinctAttribute != "" && nm.Name == s.DistinctAttribute,
			Displayed:  true,
			Faceted:    isFilterable,
		})
	}
}

// LoadSettings returns the most recently applied Settings object, or the
// zero value if ApplySettings has never run against this index.
func (d *Driver) LoadSettings(txn *store.Txn) (config.Settings, bool, error) {
	return LoadSettings(txn, d.dbs)
}

// LoadSettings reads the persisted per-index Settings object directly
// from dbs, without needing a Driver instance — the search driver reads
// its own index's settings this way, since it holds only the databases
// and fields map a query needs, not the indexing Driver itself.
func LoadSettings(txn *store.Txn, dbs *store.IndexDatabases) (config.Settings, bool, error) {
	raw, ok, err := dbs.Settings.GetR(txn, indexSettingsKey)
	if err != nil || !ok {
		return config.Settings{}, ok, err
	}
	var s config.Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return config.Settings{}, false, fmt.Errorf("index: decode settings: %w", err)
	}
	return s, true, nil
}

func toAttributeSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

// applyVectors is intentionally outside the bbolt write transaction: the
// in-memory HNSW graph has its own mutex and persists via its own
// snapshot file (store.VectorIndex.Save), not through the KV environment
// (spec §4.7 step 7 runs vector apply as its own step, not folded into
// the KV commit).
func (d *Driver) applyVectors(ops []VectorOp) {
	for _, op := range ops {
		idx := d.vectors.Embedder(op.Embedder, store.VectorStoreConfig{Dimensions: len(op.Vector)})
		if op.Vector == nil {
			_ = idx.Delete(op.InternalID)
			continue
		}
		_ = idx.Insert(op.InternalID, op.Vector)
	}
}

func (d *Driver) applyDocumentRecords(w *store.WriteTxn, changes []extract.DocumentChange) error {
	for _, c := range changes {
		if c.Kind == extract.Deletion {
			if err := d.dbs.DocumentRecords.Delete(w, c.InternalID); err != nil {
				return err
			}
			continue
		}
		blob, err := json.Marshal(c.New)
		if err != nil {
			return fmt.Errorf("index: encode document %d: %w", c.InternalID, err)
		}
		if err := d.dbs.DocumentRecords.Put(w, c.InternalID, blob); err != nil {
			return err
		}
	}
	return nil
}

// applyIDMappings keeps the external<->internal id bijection in sync with
// the batch: a fresh insertion or an update both own their external id
// going forward, and a deletion frees it for reuse by a future insertion
// (spec §4.6 step 3). Without this step every later batch referencing an
// id this batch assigned would be misread as a brand-new document.
func (d *Driver) applyIDMappings(w *store.WriteTxn, changes []extract.DocumentChange) error {
	for _, c := range changes {
		if c.Kind == extract.Deletion {
			if err := d.dbs.ExternalToInternal.Delete(w, c.ExternalID); err != nil {
				return err
			}
			if err := d.dbs.InternalToExternal.Delete(w, c.InternalID); err != nil {
				return err
			}
			continue
		}
		if err := d.dbs.ExternalToInternal.Put(w, c.ExternalID, c.InternalID); err != nil {
			return err
		}
		if err := d.dbs.InternalToExternal.Put(w, c.InternalID, c.ExternalID); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) loadAssigner(w *store.WriteTxn) (*transform.IDAssigner, error) {
	var next uint32
	if raw, ok, err := d.dbs.Settings.GetW(w, nextInternalIDKey); err != nil {
		return nil, err
	} else if ok {
		next = decodeU32(raw)
	}
	available, _, err := d.dbs.AvailableInternalIDs.GetW(w, store.FreelistKey)
	if err != nil {
		return nil, err
	}
	if available == nil {
		available = roaring.New()
	}
	return transform.NewIDAssigner(next, available), nil
}

func (d *Driver) saveAssigner(w *store.WriteTxn, assigner *transform.IDAssigner) error {
	if err := d.dbs.Settings.Put(w, nextInternalIDKey, encodeU32(assigner.NextCounter())); err != nil {
		return err
	}
	return d.dbs.AvailableInternalIDs.Put(w, store.FreelistKey, assigner.Available())
}

func encodeU32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func decodeU32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// storeAdapter gives transform.Transformer read access to the in-flight
// write transaction: it sees the batch's own uncommitted writes, which
// is required for dedup against documents the same batch just inserted.
type storeAdapter struct {
	dbs *store.IndexDatabases
	w   *store.WriteTxn
}

func (a *storeAdapter) InternalID(externalID string) (uint32, bool) {
	id, ok, err := a.dbs.ExternalToInternal.GetW(a.w, externalID)
	if err != nil {
		return 0, false
	}
	return id, ok
}

func (a *storeAdapter) Document(internalID uint32) (map[uint16]json.RawMessage, bool) {
	blob, ok, err := a.dbs.DocumentRecords.GetW(a.w, internalID)
	if err != nil || !ok {
		return nil, false
	}
	var doc map[uint16]json.RawMessage
	if err := json.Unmarshal(blob, &doc); err != nil {
		return nil, false
	}
	return doc, true
}

// applyEntries applies string-keyed DelAdd entries (spec §4.7 step 3:
// "load the current bitmap if any, subtract deleted, union added, write
// back; delete the key if the result is empty").
func applyEntries(w *store.WriteTxn, db *store.Database[string, *roaring.Bitmap], entries []extract.Entry) error {
	for _, e := range entries {
		key := string(e.Key)
		current, _, err := db.GetW(w, key)
		if err != nil {
			return err
		}
		result := e.Delta.Apply(current)
		if result == nil {
			if err := db.Delete(w, key); err != nil {
				return err
			}
			continue
		}
		if err := db.Put(w, key, result); err != nil {
			return err
		}
	}
	return nil
}

// applyBytesKeyEntries is applyEntries for the databases keyed by an
// encoded composite ([]byte) rather than a plain string.
func applyBytesKeyEntries(w *store.WriteTxn, db *store.Database[[]byte, *roaring.Bitmap], entries []extract.Entry) error {
	for _, e := range entries {
		current, _, err := db.GetW(w, e.Key)
		if err != nil {
			return err
		}
		result := e.Delta.Apply(current)
		if result == nil {
			if err := db.Delete(w, e.Key); err != nil {
				return err
			}
			continue
		}
		if err := db.Put(w, e.Key, result); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) rebuildWordsFST(w *store.WriteTxn) error {
	var words []string
	err := d.dbs.WordDocids.IterateW(w, func(word string, _ *roaring.Bitmap) (bool, error) {
		words = append(words, word)
		return true, nil
	})
	if err != nil {
		return err
	}
	blob, err := fst.Build(words)
	if err != nil {
		return fmt.Errorf("index: rebuild words_fst: %w", err)
	}
	return d.dbs.WordsFstBytes.Put(w, store.FstSentinelKey, blob)
}
