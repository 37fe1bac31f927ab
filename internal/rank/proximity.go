package rank

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/searchcore/searchcore/internal/codec"
)

// ProximityRule orders documents by increasing summed distance between
// adjacent query terms, rewarding documents where the words of a query
// land close together (spec §4.9 "proximity").
type ProximityRule struct{}

func (ProximityRule) Name() string { return "proximity" }

func (r ProximityRule) Start(ctx *Context, universe *roaring.Bitmap) (State, error) {
	words := flattenQuery(ctx.Query)
	if len(words) < 2 {
		return &staticState{buckets: []Bucket{{Candidates: universe, Score: ScoreComponent{Rule: r.Name(), Value: 1}}}}, nil
	}

	totalCost := make(map[uint32]int)
	worst := 0
	for i := 0; i+1 < len(words); i++ {
		if words[i+1].Position-words[i].Position != 1 {
			continue
		}
		worst += maxProximityCost
		perDoc, err := pairProximityPerDoc(ctx, words[i], words[i+1])
		if err != nil {
			return nil, err
		}
		it := universe.Iterator()
		for it.HasNext() {
			doc := it.Next()
			cost, ok := perDoc[doc]
			if !ok {
				cost = maxProximityCost
			}
			totalCost[doc] += cost
		}
	}

	buckets := bucketsByScore(universe, totalCost, worst, true, r.Name(), func(score int) float64 {
		if worst == 0 {
			return 1
		}
		return 1 - float64(score)/float64(worst)
	})
	return &staticState{buckets: buckets}, nil
}

// maxProximityCost is charged for a pair of adjacent terms with no
// recorded posting, i.e. words farther apart than extraction's
// maxProximity or never co-occurring in the same field at all.
const maxProximityCost = 8

// pairProximityPerDoc returns, for each document, the smallest recorded
// distance between any derivation of a and any derivation of b, looking
// up word_pair_proximity_docids across every stored distance bucket
// (extraction writes keys ordered lexicographically by word, spec §3).
func pairProximityPerDoc(ctx *Context, a, b queryWord) (map[uint32]int, error) {
	best := make(map[uint32]int)
	for _, da := range a.Derivations {
		for _, db := range b.Derivations {
			w1, w2 := da.Text, db.Text
			if w2 < w1 {
				w1, w2 = w2, w1
			}
			for dist := uint8(1); dist <= maxProximityCost; dist++ {
				bm, ok, err := ctx.DBs.WordPairProximityDocids.GetR(ctx.Txn, codec.EncodeU8StrStr(dist, w1, w2))
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
				it := bm.Iterator()
				for it.HasNext() {
					doc := it.Next()
					if existing, ok := best[doc]; !ok || int(dist) < existing {
						best[doc] = int(dist)
					}
				}
			}
		}
	}
	return best, nil
}
