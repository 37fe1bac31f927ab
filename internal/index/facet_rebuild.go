package index

import (
	"bytes"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/searchcore/searchcore/internal/codec"
	"github.com/searchcore/searchcore/internal/store"
)

type facetLeaf struct {
	fieldID uint16
	key     codec.FacetGroupKey
	docids  *roaring.Bitmap
}

// rebuildFacetLevels implements spec §4.7 step 6: level 0 is left as the
// extractors wrote it; every higher level is rebuilt from scratch each
// batch by grouping FacetGroupSize consecutive level-(k) entries per
// field until the remaining count drops below FacetMinLevelSize.
func (d *Driver) rebuildFacetLevels(w *store.WriteTxn, kind codec.FacetKind, db *store.Database[[]byte, *roaring.Bitmap]) error {
	var level0 []facetLeaf
	var stale [][]byte

	err := db.IterateW(w, func(rawKey []byte, docids *roaring.Bitmap) (bool, error) {
		k, err := codec.DecodeFacetGroupKey(rawKey, kind)
		if err != nil {
			return false, err
		}
		if k.Level == 0 {
			level0 = append(level0, facetLeaf{fieldID: k.FieldID, key: k, docids: docids})
		} else {
			stale = append(stale, append([]byte(nil), rawKey...))
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	for _, key := range stale {
		if err := db.Delete(w, key); err != nil {
			return err
		}
	}

	byField := map[uint16][]facetLeaf{}
	for _, leaf := range level0 {
		byField[leaf.fieldID] = append(byField[leaf.fieldID], leaf)
	}

	for fieldID, leaves := range byField {
		sort.Slice(leaves, func(i, j int) bool {
			return bytes.Compare(codec.EncodeFacetGroupKey(leaves[i].key), codec.EncodeFacetGroupKey(leaves[j].key)) < 0
		})
		current := leaves
		level := uint8(1)
		for len(current) >= FacetMinLevelSize {
			var next []facetLeaf
			for i := 0; i < len(current); i += FacetGroupSize {
				end := i + FacetGroupSize
				if end > len(current) {
					end = len(current)
				}
				group := current[i:end]
				union := roaring.New()
				for _, g := range group {
					union.Or(g.docids)
				}
				groupKey := codec.FacetGroupKey{
					FieldID:   fieldID,
					Level:     level,
					Kind:      kind,
					Number:    group[0].key.Number,
					StringVal: group[0].key.StringVal,
				}
				if err := db.Put(w, codec.EncodeFacetGroupKey(groupKey), union); err != nil {
					return err
				}
				next = append(next, facetLeaf{fieldID: fieldID, key: groupKey, docids: union})
			}
			if len(next) == len(current) {
				// Grouping made no progress (group size 1 edge case);
				// stop to avoid an infinite level ladder.
				break
			}
			current = next
			level++
		}
	}
	return nil
}
