package store

import "github.com/RoaringBitmap/roaring/v2"

// IndexDatabases bundles the typed database handles that make up one
// index's on-disk footprint (spec §3 "Index... owns a set of typed
// databases"). All handles share the same environment; a commit on
// WriteTxn publishes mutations across every database atomically.
type IndexDatabases struct {
	// DocumentRecords maps internal doc id -> encoded field_id->bytes blob.
	DocumentRecords *Database[uint32, []byte]

	// WordDocids, ExactWordDocids: word -> docids.
	WordDocids      *Database[string, *roaring.Bitmap]
	ExactWordDocids *Database[string, *roaring.Bitmap]

	// WordFidDocids, WordPositionDocids: StrBEU16(word, fid|pos) -> docids.
	WordFidDocids      *Database[[]byte, *roaring.Bitmap]
	WordPositionDocids *Database[[]byte, *roaring.Bitmap]

	// WordPairProximityDocids: U8StrStr(prox, w1, w2) -> docids.
	WordPairProximityDocids *Database[[]byte, *roaring.Bitmap]

	// FacetNumberDocids, FacetStringDocids: FacetGroupKey -> docids. The
	// group's size is implicit: level 0 entries cover one value, level k
	// entries cover FACET_GROUP_SIZE^k values.
	FacetNumberDocids *Database[[]byte, *roaring.Bitmap]
	FacetStringDocids *Database[[]byte, *roaring.Bitmap]

	// PrefixDocids: prefix string -> docids union.
	PrefixDocids *Database[string, *roaring.Bitmap]

	// WordsFstBytes, PrefixFstBytes: single-row databases holding the
	// serialized vellum FST (key is a fixed sentinel, value is the FST's
	// byte representation).
	WordsFstBytes  *Database[string, []byte]
	PrefixFstBytes *Database[string, []byte]

	// ExternalToInternal / InternalToExternal: the document id bijection
	// (spec §3 "kept in an FST map"; stored here as a plain KV mirror for
	// O(1) point lookups, with the FST rebuilt from it for compact range
	// queries — see internal/index's id map rebuild).
	ExternalToInternal *Database[string, uint32]
	InternalToExternal *Database[uint32, string]

	// AvailableInternalIDs: single-row database holding the roaring
	// bitmap freelist of internal ids released by deletions (spec §4.6
	// step 3).
	AvailableInternalIDs *Database[string, *roaring.Bitmap]

	// Settings: small blobs (fields map, ranking rules, embedders...).
	Settings *Database[string, []byte]
}

// FstSentinelKey is the single key every FST-bytes database is stored
// under; these databases are logically scalar cells, not maps.
const FstSentinelKey = "fst"

// FreelistKey is the single key AvailableInternalIDs is stored under.
const FreelistKey = "freelist"

// NewIndexDatabases declares (without creating buckets yet — that happens
// lazily on first Put, or explicitly via EnsureAll) every database an
// index needs.
func NewIndexDatabases() *IndexDatabases {
	return &IndexDatabases{
		DocumentRecords:          NewDatabase[uint32, []byte]("documents", U32Key{}, BytesValue{}),
		WordDocids:               NewDatabase[string, *roaring.Bitmap]("word_docids", StringKey{}, CboRoaringValue{}),
		ExactWordDocids:          NewDatabase[string, *roaring.Bitmap]("exact_word_docids", StringKey{}, CboRoaringValue{}),
		WordFidDocids:            NewDatabase[[]byte, *roaring.Bitmap]("word_fid_docids", BytesKey{}, CboRoaringValue{}),
		WordPositionDocids:       NewDatabase[[]byte, *roaring.Bitmap]("word_position_docids", BytesKey{}, CboRoaringValue{}),
		WordPairProximityDocids:  NewDatabase[[]byte, *roaring.Bitmap]("word_pair_proximity_docids", BytesKey{}, CboRoaringValue{}),
		FacetNumberDocids:        NewDatabase[[]byte, *roaring.Bitmap]("facet_number_docids", BytesKey{}, CboRoaringValue{}),
		FacetStringDocids:        NewDatabase[[]byte, *roaring.Bitmap]("facet_string_docids", BytesKey{}, CboRoaringValue{}),
		PrefixDocids:             NewDatabase[string, *roaring.Bitmap]("prefix_docids", StringKey{}, CboRoaringValue{}),
		WordsFstBytes:            NewDatabase[string, []byte]("words_fst", StringKey{}, BytesValue{}),
		PrefixFstBytes:           NewDatabase[string, []byte]("prefix_fst", StringKey{}, BytesValue{}),
		ExternalToInternal:       NewDatabase[string, uint32]("docid_external_to_internal", StringKey{}, u32Value{}),
		InternalToExternal:       NewDatabase[uint32, string]("docid_internal_to_external", U32Key{}, stringValue{}),
		AvailableInternalIDs:     NewDatabase[string, *roaring.Bitmap]("available_internal_ids", StringKey{}, RoaringValue{}),
		Settings:                 NewDatabase[string, []byte]("settings", StringKey{}, BytesValue{}),
	}
}

// EnsureAll creates every bucket up front so a fresh index has a complete,
// predictable on-disk layout before the first document is indexed.
func (d *IndexDatabases) EnsureAll(w *WriteTxn) error {
	ensurers := []interface{ EnsureBucket(*WriteTxn) error }{
		d.DocumentRecords, d.WordDocids, d.ExactWordDocids, d.WordFidDocids,
		d.WordPositionDocids, d.WordPairProximityDocids, d.FacetNumberDocids,
		d.FacetStringDocids, d.PrefixDocids, d.WordsFstBytes, d.PrefixFstBytes,
		d.ExternalToInternal, d.InternalToExternal, d.AvailableInternalIDs,
		d.Settings,
	}
	for _, e := range ensurers {
		if err := e.EnsureBucket(w); err != nil {
			return err
		}
	}
	return nil
}

type u32Value struct{}

func (u32Value) EncodeValue(v uint32) ([]byte, error) { return U32Key{}.EncodeKey(v), nil }
func (u32Value) DecodeValue(b []byte) (uint32, error) { return U32Key{}.DecodeKey(b) }

type stringValue struct{}

func (stringValue) EncodeValue(v string) ([]byte, error) { return []byte(v), nil }
func (stringValue) DecodeValue(b []byte) (string, error) { return string(b), nil }
