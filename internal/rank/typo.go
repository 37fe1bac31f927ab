package rank

import "github.com/RoaringBitmap/roaring/v2"

// maxTypoCostPerTerm bounds the normalization denominator: two typos per
// term is the worst budget spec §4.8 allows.
const maxTypoCostPerTerm = 2

// TypoRule orders documents by increasing total typo cost across the
// best-matching derivation of each query term (spec §4.9 "typo").
type TypoRule struct{}

func (TypoRule) Name() string { return "typo" }

func (r TypoRule) Start(ctx *Context, universe *roaring.Bitmap) (State, error) {
	words := flattenQuery(ctx.Query)
	if len(words) == 0 {
		return &staticState{buckets: []Bucket{{Candidates: universe, Score: ScoreComponent{Rule: r.Name(), Value: 1}}}}, nil
	}

	totalCost := make(map[uint32]int)
	for _, w := range words {
		perDoc, err := minTypoCostPerDoc(ctx, w)
		if err != nil {
			return nil, err
		}
		it := universe.Iterator()
		for it.HasNext() {
			doc := it.Next()
			totalCost[doc] += perDoc[doc] // absent from perDoc means cost 0 for this term
		}
	}

	worst := len(words) * maxTypoCostPerTerm
	buckets := bucketsByScore(universe, totalCost, 0, true, r.Name(), func(score int) float64 {
		if worst == 0 {
			return 1
		}
		return 1 - float64(score)/float64(worst)
	})
	return &staticState{buckets: buckets}, nil
}
