package rank

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/searchcore/searchcore/internal/query"
)

// ExactnessRule orders documents by how many query terms they satisfy
// through an exact (non-typo, non-prefix, non-synonym) match, most
// exact matches first (spec §4.9 "exactness").
type ExactnessRule struct{}

func (ExactnessRule) Name() string { return "exactness" }

func (r ExactnessRule) Start(ctx *Context, universe *roaring.Bitmap) (State, error) {
	words := flattenQuery(ctx.Query)
	if len(words) == 0 {
		return &staticState{buckets: []Bucket{{Candidates: universe, Score: ScoreComponent{Rule: r.Name(), Value: 1}}}}, nil
	}

	exactCount := make(map[uint32]int)
	for _, w := range words {
		matched := roaring.New()
		for _, d := range w.Derivations {
			if d.Kind != query.DerivationExact {
				continue
			}
			bm, err := exactWordDocids(ctx, d.Text)
			if err != nil {
				return nil, err
			}
			matched.Or(bm)
		}
		it := matched.Iterator()
		for it.HasNext() {
			doc := it.Next()
			if universe.Contains(doc) {
				exactCount[doc]++
			}
		}
	}

	total := len(words)
	buckets := bucketsByScore(universe, exactCount, 0, false, r.Name(), func(score int) float64 {
		if total == 0 {
			return 1
		}
		return float64(score) / float64(total)
	})
	return &staticState{buckets: buckets}, nil
}
