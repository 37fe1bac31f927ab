package filter

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/searchcore/searchcore/internal/codec"
	"github.com/searchcore/searchcore/internal/fields"
	"github.com/searchcore/searchcore/internal/geo"
	"github.com/searchcore/searchcore/internal/store"
)

// GeoLatField and GeoLngField are the reserved, dotted field names a
// document's `_geo` point is flattened into (spec §3 "nested objects are
// flattened to dotted names"), the same convention fields.DottedPath
// already establishes for ordinary nested fields.
const (
	GeoLatField = "_geo.lat"
	GeoLngField = "_geo.lng"
)

// EvalContext is the read-only state Evaluate needs: the fields map to
// resolve names to ids and check filterable/eligibility, the facet trees
// to answer op/IN/TO atoms, and the universe every atom is bounded to.
type EvalContext struct {
	Fields   *fields.Map
	Txn      *store.Txn
	DBs      *store.IndexDatabases
	Universe *roaring.Bitmap
}

// Evaluate parses expr and evaluates it against ctx, returning the
// matching document ids (spec §6 filter grammar).
func Evaluate(ctx *EvalContext, expr string) (*roaring.Bitmap, error) {
	ast, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	return ast.eval(ctx)
}

func (e *orExpr) eval(ctx *EvalContext) (*roaring.Bitmap, error) {
	l, err := e.left.eval(ctx)
	if err != nil {
		return nil, err
	}
	r, err := e.right.eval(ctx)
	if err != nil {
		return nil, err
	}
	return roaring.Or(l, r), nil
}

func (e *andExpr) eval(ctx *EvalContext) (*roaring.Bitmap, error) {
	l, err := e.left.eval(ctx)
	if err != nil {
		return nil, err
	}
	r, err := e.right.eval(ctx)
	if err != nil {
		return nil, err
	}
	return roaring.And(l, r), nil
}

func (e *notExpr) eval(ctx *EvalContext) (*roaring.Bitmap, error) {
	inner, err := e.inner.eval(ctx)
	if err != nil {
		return nil, err
	}
	return roaring.AndNot(ctx.Universe, inner), nil
}

func (e *compareExpr) eval(ctx *EvalContext) (*roaring.Bitmap, error) {
	fieldID, kind, err := resolveFilterable(ctx, e.field)
	if err != nil {
		return nil, err
	}
	out := roaring.New()
	err = walkLeaves(ctx, fieldID, kind, func(leaf codec.FacetGroupKey, docids *roaring.Bitmap) error {
		if matchesCompare(leaf, e.val, e.op) {
			out.Or(docids)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.And(ctx.Universe)
	return out, nil
}

func (e *inExpr) eval(ctx *EvalContext) (*roaring.Bitmap, error) {
	fieldID, kind, err := resolveFilterable(ctx, e.field)
	if err != nil {
		return nil, err
	}
	out := roaring.New()
	err = walkLeaves(ctx, fieldID, kind, func(leaf codec.FacetGroupKey, docids *roaring.Bitmap) error {
		for _, v := range e.values {
			if matchesCompare(leaf, v, "=") {
				out.Or(docids)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.And(ctx.Universe)
	return out, nil
}

func (e *rangeExpr) eval(ctx *EvalContext) (*roaring.Bitmap, error) {
	fieldID, kind, err := resolveFilterable(ctx, e.field)
	if err != nil {
		return nil, err
	}
	out := roaring.New()
	err = walkLeaves(ctx, fieldID, kind, func(leaf codec.FacetGroupKey, docids *roaring.Bitmap) error {
		if matchesCompare(leaf, e.low, ">=") && matchesCompare(leaf, e.high, "<=") {
			out.Or(docids)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.And(ctx.Universe)
	return out, nil
}

func (e *geoRadiusExpr) eval(ctx *EvalContext) (*roaring.Bitmap, error) {
	points, err := geoPointsOf(ctx, ctx.Universe)
	if err != nil {
		return nil, err
	}
	out := roaring.New()
	for doc, p := range points {
		if geo.WithinRadius(p, e.center, e.radiusMeters) {
			out.Add(doc)
		}
	}
	return out, nil
}

func (e *geoBoundingBoxExpr) eval(ctx *EvalContext) (*roaring.Bitmap, error) {
	points, err := geoPointsOf(ctx, ctx.Universe)
	if err != nil {
		return nil, err
	}
	out := roaring.New()
	for doc, p := range points {
		if e.box.Contains(p) {
			out.Add(doc)
		}
	}
	return out, nil
}

// resolveFilterable looks up field's id and reports an error unless the
// field was declared filterable (spec §6: "Only filterable fields may
// appear on the left of op/IN/TO").
func resolveFilterable(ctx *EvalContext, field string) (uint16, codec.FacetKind, error) {
	id, ok := ctx.Fields.ID(field)
	if !ok || !ctx.Fields.Metadata(id).Filterable {
		return 0, 0, fmt.Errorf("filter: field %q is not filterable", field)
	}
	return id, facetKindOf(ctx, id), nil
}

// facetKindOf probes which facet tree actually holds entries for fieldID;
// a field is either numeric or string, never both, so the first non-empty
// tree found wins. Defaults to numeric when the field has no data yet.
func facetKindOf(ctx *EvalContext, fieldID uint16) codec.FacetKind {
	prefix := make([]byte, 3)
	binary.BigEndian.PutUint16(prefix[0:2], fieldID)
	found := false
	_ = ctx.DBs.FacetStringDocids.IteratePrefixBytes(ctx.Txn, prefix, func(_ []byte, _ *roaring.Bitmap) (bool, error) {
		found = true
		return false, nil
	})
	if found {
		return codec.FacetKindString
	}
	return codec.FacetKindNumber
}

// walkLeaves visits every level-0 facet leaf for fieldID, the finest
// granularity of the tree rebuildFacetLevels maintains, the same approach
// the sort rule uses to avoid materializing the whole field (spec §4.9).
func walkLeaves(ctx *EvalContext, fieldID uint16, kind codec.FacetKind, fn func(codec.FacetGroupKey, *roaring.Bitmap) error) error {
	db := ctx.DBs.FacetNumberDocids
	if kind == codec.FacetKindString {
		db = ctx.DBs.FacetStringDocids
	}
	prefix := make([]byte, 3)
	binary.BigEndian.PutUint16(prefix[0:2], fieldID)
	prefix[2] = 0

	return db.IteratePrefixBytes(ctx.Txn, prefix, func(rawKey []byte, docids *roaring.Bitmap) (bool, error) {
		leaf, err := codec.DecodeFacetGroupKey(rawKey, kind)
		if err != nil {
			return false, err
		}
		if err := fn(leaf, docids); err != nil {
			return false, err
		}
		return true, nil
	})
}

func matchesCompare(leaf codec.FacetGroupKey, v value, op string) bool {
	if leaf.Kind == codec.FacetKindString || v.isString {
		return matchesString(leaf.StringVal, v.str, op)
	}
	return matchesNumber(leaf.Number, v.num, op)
}

func matchesNumber(a, b float64, op string) bool {
	switch op {
	case "=":
		return a == b
	case "!=":
		return a != b
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	}
	return false
}

func matchesString(a, b, op string) bool {
	switch op {
	case "=":
		return a == b
	case "!=":
		return a != b
	case "<":
		return strings.Compare(a, b) < 0
	case "<=":
		return strings.Compare(a, b) <= 0
	case ">":
		return strings.Compare(a, b) > 0
	case ">=":
		return strings.Compare(a, b) >= 0
	}
	return false
}

// geoPointsOf resolves the `_geo` point of every document in universe by
// walking the lat and lng fields' level-0 facet leaves, the same
// brute-force-over-leaves approach walkLeaves uses for ordinary filters;
// a dedicated geo R-tree index is future work (tracked in DESIGN.md).
func geoPointsOf(ctx *EvalContext, universe *roaring.Bitmap) (map[uint32]geo.Point, error) {
	lats, err := facetNumberValues(ctx, GeoLatField)
	if err != nil {
		return nil, err
	}
	lngs, err := facetNumberValues(ctx, GeoLngField)
	if err != nil {
		return nil, err
	}

	out := make(map[uint32]geo.Point)
	it := universe.Iterator()
	for it.HasNext() {
		doc := it.Next()
		lat, ok1 := lats[doc]
		lng, ok2 := lngs[doc]
		if ok1 && ok2 {
			out[doc] = geo.Point{Lat: lat, Lng: lng}
		}
	}
	return out, nil
}

func facetNumberValues(ctx *EvalContext, field string) (map[uint32]float64, error) {
	id, ok := ctx.Fields.ID(field)
	if !ok {
		return nil, nil
	}
	out := make(map[uint32]float64)
	err := walkLeaves(ctx, id, codec.FacetKindNumber, func(leaf codec.FacetGroupKey, docids *roaring.Bitmap) error {
		it := docids.Iterator()
		for it.HasNext() {
			out[it.Next()] = leaf.Number
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
