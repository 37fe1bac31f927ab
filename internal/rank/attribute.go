package rank

import "github.com/RoaringBitmap/roaring/v2"

// AttributeRule orders documents by the earliest normalized field
// position any query term was matched at, favoring matches near the
// start of a searchable field (spec §4.9 "attribute").
type AttributeRule struct{}

func (AttributeRule) Name() string { return "attribute" }

func (r AttributeRule) Start(ctx *Context, universe *roaring.Bitmap) (State, error) {
	words := flattenQuery(ctx.Query)
	if len(words) == 0 {
		return &staticState{buckets: []Bucket{{Candidates: universe, Score: ScoreComponent{Rule: r.Name(), Value: 1}}}}, nil
	}

	best := make(map[uint32]int)
	worst := 0
	for _, w := range words {
		perDoc, err := minPositionPerDoc(ctx, w)
		if err != nil {
			return nil, err
		}
		it := universe.Iterator()
		for it.HasNext() {
			doc := it.Next()
			pos, ok := perDoc[doc]
			if !ok {
				continue
			}
			if existing, ok := best[doc]; !ok || int(pos) < existing {
				best[doc] = int(pos)
			}
			if int(pos) > worst {
				worst = int(pos)
			}
		}
	}

	buckets := bucketsByScore(universe, best, worst+1, true, r.Name(), func(score int) float64 {
		if worst == 0 {
			return 1
		}
		return 1 - float64(score)/float64(worst+1)
	})
	return &staticState{buckets: buckets}, nil
}
