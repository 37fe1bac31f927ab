package rank

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/searchcore/searchcore/internal/codec"
	"github.com/searchcore/searchcore/internal/query"
)

// queryWord is the cascade's flattened view of one query position: every
// rule works off this slice rather than query.Query's Term variants
// directly, so phrase and n-gram terms only need to be normalized once.
//
// Phrase contiguity (spec §4.8: "must appear contiguously within a
// window of 1") is approximated here by treating each phrase word as an
// ordinary positional term; the proximity rule's adjacent-pair cost
// still rewards documents where phrase words land close together, but a
// document with the words far apart is not hard-excluded the way a
// strict phrase match would be. A dedicated contiguity filter ahead of
// the cascade is future work.
type queryWord struct {
	Position    int
	Derivations []query.Derivation
}

func flattenQuery(q *query.Query) []queryWord {
	if q == nil {
		return nil
	}
	var out []queryWord
	for _, term := range q.Terms {
		switch t := term.(type) {
		case query.WordTerm:
			out = append(out, queryWord{Position: t.Position, Derivations: t.Derivations})
		case query.PhraseTerm:
			for i, w := range t.Words {
				out = append(out, queryWord{
					Position:    t.Position + i,
					Derivations: []query.Derivation{{Text: w, Kind: query.DerivationExact}},
				})
			}
		case query.NgramTerm:
			out = append(out, queryWord{
				Position:    t.Position,
				Derivations: []query.Derivation{{Text: t.Concat, Kind: query.DerivationExact}},
			})
		}
	}
	return out
}

// MatchingStrategy selects how MatchUniverse narrows a filtered universe
// down to documents that satisfy the query text itself (spec §4.10's
// `matching_strategy`, named but left unspecified in detail — modeled
// here on Meilisearch's documented `last`/`all` behavior, since the
// retrieved original_source/ slice does not include the matching-
// strategy module).
type MatchingStrategy string

const (
	// MatchingStrategyAll requires every query term to match.
	MatchingStrategyAll MatchingStrategy = "all"
	// MatchingStrategyLast requires every term down to some prefix of the
	// query, dropping trailing terms one at a time until a match exists
	// (or no terms remain, at which point every document matches).
	MatchingStrategyLast MatchingStrategy = "last"
)

// MatchUniverse intersects filtered with the documents satisfying the
// query's terms under strategy, returning filtered unchanged when the
// query has no terms at all.
func MatchUniverse(ctx *Context, filtered *roaring.Bitmap, strategy MatchingStrategy) (*roaring.Bitmap, error) {
	words := flattenQuery(ctx.Query)
	if len(words) == 0 {
		return filtered, nil
	}

	n := len(words)
	for n > 0 {
		universe := filtered.Clone()
		for _, w := range words[:n] {
			union, err := termUnion(ctx, w)
			if err != nil {
				return nil, err
			}
			universe.And(union)
		}
		if !universe.IsEmpty() || strategy == MatchingStrategyAll {
			return universe, nil
		}
		n--
	}
	return filtered, nil
}

func wordDocids(ctx *Context, word string) (*roaring.Bitmap, error) {
	bm, ok, err := ctx.DBs.WordDocids.GetR(ctx.Txn, word)
	if err != nil {
		return nil, err
	}
	if !ok {
		return roaring.New(), nil
	}
	return bm, nil
}

func exactWordDocids(ctx *Context, word string) (*roaring.Bitmap, error) {
	bm, ok, err := ctx.DBs.ExactWordDocids.GetR(ctx.Txn, word)
	if err != nil {
		return nil, err
	}
	if !ok {
		return roaring.New(), nil
	}
	return bm, nil
}

// termUnion returns the union of word_docids across every derivation of
// one query word: the set of documents that satisfy this term at all,
// through any exact/typo/prefix/synonym candidate.
func termUnion(ctx *Context, w queryWord) (*roaring.Bitmap, error) {
	union := roaring.New()
	for _, d := range w.Derivations {
		bm, err := wordDocids(ctx, d.Text)
		if err != nil {
			return nil, err
		}
		union.Or(bm)
	}
	return union, nil
}

// minTypoCostPerDoc returns, for every document matching any derivation
// of w, the lowest typo cost among the derivations that cover it (spec
// §4.9 "typo": "increasing total typo cost of the best matching
// derivation per term").
func minTypoCostPerDoc(ctx *Context, w queryWord) (map[uint32]int, error) {
	costs := make(map[uint32]int)
	for _, d := range w.Derivations {
		bm, err := wordDocids(ctx, d.Text)
		if err != nil {
			return nil, err
		}
		it := bm.Iterator()
		for it.HasNext() {
			doc := it.Next()
			if existing, ok := costs[doc]; !ok || d.TypoCost < existing {
				costs[doc] = d.TypoCost
			}
		}
	}
	return costs, nil
}

// minPositionPerDoc returns, for every document matching any derivation
// of w, the smallest normalized field position the term was found at
// (spec §4.9 "attribute": "earliest field position of a matched term").
func minPositionPerDoc(ctx *Context, w queryWord) (map[uint32]uint16, error) {
	positions := make(map[uint32]uint16)
	for _, d := range w.Derivations {
		err := ctx.DBs.WordPositionDocids.IteratePrefixBytes(ctx.Txn, []byte(d.Text+"\x00"), func(rawKey []byte, docids *roaring.Bitmap) (bool, error) {
			_, pos, err := codec.DecodeStrBEU16(rawKey)
			if err != nil {
				return false, err
			}
			it := docids.Iterator()
			for it.HasNext() {
				doc := it.Next()
				if existing, ok := positions[doc]; !ok || pos < existing {
					positions[doc] = pos
				}
			}
			return true, nil
		})
		if err != nil {
			return nil, err
		}
	}
	return positions, nil
}

// bucketsByScore groups docs (present in universe) into buckets ordered
// by integer score — ascending when ascending is true (lower is better,
// e.g. typo cost), descending otherwise (higher is better, e.g. words
// matched). Any doc absent from scores is assigned worstScore, meaning
// "no evidence for this rule at all"; it still must not be dropped from
// the cascade, it just sorts last.
func bucketsByScore(universe *roaring.Bitmap, scores map[uint32]int, worstScore int, ascending bool, ruleName string, normalize func(score int) float64) []Bucket {
	byScore := map[int]*roaring.Bitmap{}
	it := universe.Iterator()
	for it.HasNext() {
		doc := it.Next()
		s, ok := scores[doc]
		if !ok {
			s = worstScore
		}
		bm, ok := byScore[s]
		if !ok {
			bm = roaring.New()
			byScore[s] = bm
		}
		bm.Add(doc)
	}

	ordered := make([]int, 0, len(byScore))
	for s := range byScore {
		ordered = append(ordered, s)
	}
	if ascending {
		sort.Ints(ordered)
	} else {
		sort.Sort(sort.Reverse(sort.IntSlice(ordered)))
	}

	out := make([]Bucket, 0, len(ordered))
	for _, s := range ordered {
		out = append(out, Bucket{Candidates: byScore[s], Score: ScoreComponent{Rule: ruleName, Value: normalize(s)}})
	}
	return out
}
