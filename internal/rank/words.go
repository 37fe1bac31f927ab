package rank

import "github.com/RoaringBitmap/roaring/v2"

// WordsRule orders documents by how many distinct query terms they
// satisfy, most matched terms first (spec §4.9 "words").
type WordsRule struct{}

func (WordsRule) Name() string { return "words" }

func (r WordsRule) Start(ctx *Context, universe *roaring.Bitmap) (State, error) {
	words := flattenQuery(ctx.Query)
	if len(words) == 0 {
		return &staticState{buckets: []Bucket{{Candidates: universe, Score: ScoreComponent{Rule: r.Name(), Value: 1}}}}, nil
	}

	matchCount := make(map[uint32]int)
	for _, w := range words {
		union, err := termUnion(ctx, w)
		if err != nil {
			return nil, err
		}
		it := union.Iterator()
		for it.HasNext() {
			doc := it.Next()
			if universe.Contains(doc) {
				matchCount[doc]++
			}
		}
	}

	total := len(words)
	buckets := bucketsByScore(universe, matchCount, 0, false, r.Name(), func(score int) float64 {
		if total == 0 {
			return 1
		}
		return float64(score) / float64(total)
	})
	return &staticState{buckets: buckets}, nil
}

// staticState is shared by rules whose full bucket list can be computed
// up front in Start, needing no further per-call state.
type staticState struct {
	buckets []Bucket
	next    int
}

func (s *staticState) Next(ctx *Context) (Bucket, bool, error) {
	if s.next >= len(s.buckets) {
		return Bucket{}, true, nil
	}
	b := s.buckets[s.next]
	s.next++
	return b, false, nil
}
