package rank

import (
	"encoding/binary"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/searchcore/searchcore/internal/codec"
)

// SortRule orders documents by one or more `field:asc|desc` clauses,
// walking each field's facet tree leaves rather than sorting the
// candidate set by value (spec §4.9 "sort": "MUST use the facet tree...
// without materializing"). Ties within one clause are broken by the
// next clause, recursively.
type SortRule struct{}

func (SortRule) Name() string { return "sort" }

func (r SortRule) Start(ctx *Context, universe *roaring.Bitmap) (State, error) {
	if len(ctx.SortClauses) == 0 {
		return &staticState{buckets: []Bucket{{Candidates: universe, Score: ScoreComponent{Rule: r.Name(), Value: 1}}}}, nil
	}
	buckets, err := partitionBySort(ctx, universe, 0, r.Name())
	if err != nil {
		return nil, err
	}
	return &staticState{buckets: buckets}, nil
}

// partitionBySort splits universe into facet-tree-ordered groups for
// ctx.SortClauses[depth], then recurses into each group for the
// remaining clauses so later clauses break ties left by earlier ones.
func partitionBySort(ctx *Context, universe *roaring.Bitmap, depth int, ruleName string) ([]Bucket, error) {
	if depth >= len(ctx.SortClauses) || universe.IsEmpty() {
		return []Bucket{{Candidates: universe, Score: ScoreComponent{Rule: ruleName, Value: 1}}}, nil
	}
	clause := ctx.SortClauses[depth]

	groups, err := facetLeafGroups(ctx, clause, universe)
	if err != nil {
		return nil, err
	}
	if clause.Descending {
		for i, j := 0, len(groups)-1; i < j; i, j = i+1, j-1 {
			groups[i], groups[j] = groups[j], groups[i]
		}
	}

	var out []Bucket
	total := len(groups)
	for i, g := range groups {
		if g.IsEmpty() {
			continue
		}
		value := 1.0
		if total > 1 {
			value = 1 - float64(i)/float64(total-1)
		}
		if depth+1 >= len(ctx.SortClauses) {
			out = append(out, Bucket{Candidates: g, Score: ScoreComponent{Rule: ruleName, Value: value}})
			continue
		}
		sub, err := partitionBySort(ctx, g, depth+1, ruleName)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	if len(out) == 0 {
		return []Bucket{{Candidates: universe, Score: ScoreComponent{Rule: ruleName, Value: 1}}}, nil
	}
	return out, nil
}

// facetLeafGroups returns, in ascending key order, the intersection of
// universe with each distinct value's level-0 facet group for clause's
// field — the finest granularity of the tree built by the indexer's
// facet level rebuild.
func facetLeafGroups(ctx *Context, clause SortClause, universe *roaring.Bitmap) ([]*roaring.Bitmap, error) {
	db := ctx.DBs.FacetNumberDocids
	if clause.Kind == codec.FacetKindString {
		db = ctx.DBs.FacetStringDocids
	}

	prefix := make([]byte, 3)
	binary.BigEndian.PutUint16(prefix[0:2], clause.FieldID)
	prefix[2] = 0 // level 0

	var keys [][]byte
	groupByKey := map[string]*roaring.Bitmap{}
	err := db.IteratePrefixBytes(ctx.Txn, prefix, func(rawKey []byte, docids *roaring.Bitmap) (bool, error) {
		inter := roaring.And(universe, docids)
		if inter.IsEmpty() {
			return true, nil
		}
		k := append([]byte(nil), rawKey...)
		keys = append(keys, k)
		groupByKey[string(k)] = inter
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(keys, func(i, j int) bool {
		return string(keys[i]) < string(keys[j])
	})

	out := make([]*roaring.Bitmap, 0, len(keys))
	for _, k := range keys {
		out = append(out, groupByKey[string(k)])
	}
	return out, nil
}
