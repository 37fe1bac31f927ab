package extract

import (
	"encoding/json"
	"strconv"

	"github.com/searchcore/searchcore/internal/codec"
)

// FacetNumberDocidsExtractor populates level-0 facet_number_docids
// entries for every filterable field whose value decodes as a JSON
// number.
type FacetNumberDocidsExtractor struct{}

func (FacetNumberDocidsExtractor) Database() string { return "facet_number_docids" }

func (FacetNumberDocidsExtractor) Extract(ctx *Context, changes []DocumentChange) ([]Entry, error) {
	s := newSink()
	for _, c := range changes {
		forEachFilterableNumber(ctx, c.Old, func(fieldID uint16, v float64) {
			s.remove(facetNumberKey(fieldID, v), c.InternalID)
		})
		forEachFilterableNumber(ctx, c.New, func(fieldID uint16, v float64) {
			s.add(facetNumberKey(fieldID, v), c.InternalID)
		})
	}
	return s.sorted(), nil
}

// FacetStringDocidsExtractor populates level-0 facet_string_docids
// entries for every filterable field whose value decodes as a JSON
// string.
type FacetStringDocidsExtractor struct{}

func (FacetStringDocidsExtractor) Database() string { return "facet_string_docids" }

func (FacetStringDocidsExtractor) Extract(ctx *Context, changes []DocumentChange) ([]Entry, error) {
	s := newSink()
	for _, c := range changes {
		forEachFilterableString(ctx, c.Old, func(fieldID uint16, v string) {
			s.remove(facetStringKey(fieldID, v), c.InternalID)
		})
		forEachFilterableString(ctx, c.New, func(fieldID uint16, v string) {
			s.add(facetStringKey(fieldID, v), c.InternalID)
		})
	}
	return s.sorted(), nil
}

func facetNumberKey(fieldID uint16, v float64) []byte {
	return codec.EncodeFacetGroupKey(codec.FacetGroupKey{
		FieldID: fieldID, Level: 0, Kind: codec.FacetKindNumber, Number: v,
	})
}

func facetStringKey(fieldID uint16, v string) []byte {
	return codec.EncodeFacetGroupKey(codec.FacetGroupKey{
		FieldID: fieldID, Level: 0, Kind: codec.FacetKindString, StringVal: v,
	})
}

func forEachFilterableNumber(ctx *Context, doc map[uint16]json.RawMessage, fn func(fieldID uint16, v float64)) {
	for fieldID, raw := range doc {
		if !ctx.Fields.Metadata(fieldID).Filterable {
			continue
		}
		if v, ok := decodeNumber(raw); ok {
			fn(fieldID, v)
		}
	}
}

func forEachFilterableString(ctx *Context, doc map[uint16]json.RawMessage, fn func(fieldID uint16, v string)) {
	for fieldID, raw := range doc {
		if !ctx.Fields.Metadata(fieldID).Filterable {
			continue
		}
		if v, ok := decodeString(raw); ok {
			fn(fieldID, v)
		}
	}
}

func decodeNumber(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	// booleans facet as 0/1 so `price < 10 OR inStock` style filters work
	// against the same numeric tree without a third facet kind.
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func decodeString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return "", false
}

// parseNumericString is exposed for the settings/filter layers that need
// the same "is this a number" test applied to query-string literals.
func parseNumericString(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
