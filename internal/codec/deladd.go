// Package codec defines the bit-exact byte layouts used by the store's
// typed databases: roaring bitmap variants for postings, and sortable key
// encodings for facet and positional databases.
package codec

import "github.com/RoaringBitmap/roaring/v2"

// DelAdd is the value extractors emit for every mutated key: the set of
// docids to remove and the set of docids to add, applied atomically by the
// indexer driver when it merges extractor output into the store.
type DelAdd struct {
	Deleted *roaring.Bitmap
	Added   *roaring.Bitmap
}

// NewDelAdd returns an empty DelAdd ready for incremental population.
func NewDelAdd() DelAdd {
	return DelAdd{Deleted: roaring.New(), Added: roaring.New()}
}

// IsEmpty reports whether neither side carries any docid.
func (d DelAdd) IsEmpty() bool {
	return (d.Deleted == nil || d.Deleted.IsEmpty()) && (d.Added == nil || d.Added.IsEmpty())
}

// Merge folds other into d: later deletions/additions win over earlier ones
// for the same docid, matching the "subtract deleted, union added" apply
// rule of the indexer driver (spec §4.7 step 3).
func (d *DelAdd) Merge(other DelAdd) {
	if d.Deleted == nil {
		d.Deleted = roaring.New()
	}
	if d.Added == nil {
		d.Added = roaring.New()
	}
	if other.Deleted != nil {
		d.Deleted.Or(other.Deleted)
	}
	if other.Added != nil {
		d.Added.Or(other.Added)
		d.Deleted.AndNot(other.Added)
	}
	if other.Deleted != nil {
		d.Added.AndNot(other.Deleted)
	}
}

// Apply computes the new bitmap obtained by subtracting Deleted and
// unioning Added into current (current may be nil, meaning "no prior
// bitmap"). Returns nil when the result is empty, signalling the caller to
// delete the key entirely.
func (d DelAdd) Apply(current *roaring.Bitmap) *roaring.Bitmap {
	result := roaring.New()
	if current != nil {
		result.Or(current)
	}
	if d.Deleted != nil {
		result.AndNot(d.Deleted)
	}
	if d.Added != nil {
		result.Or(d.Added)
	}
	if result.IsEmpty() {
		return nil
	}
	return result
}
