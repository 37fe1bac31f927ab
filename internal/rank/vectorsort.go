package rank

import "github.com/RoaringBitmap/roaring/v2"

// VectorSortRule orders documents by descending cosine (or configured
// metric) similarity to the request's query vector, restricted to the
// current universe (spec §4.9 "vector_sort"). It is only inserted into
// the cascade when the request carries a query vector.
type VectorSortRule struct {
	// K bounds how many neighbors are requested from the vector index
	// per Start call; 0 defaults to the universe's cardinality.
	K int
}

func (VectorSortRule) Name() string { return "vector_sort" }

func (r VectorSortRule) Start(ctx *Context, universe *roaring.Bitmap) (State, error) {
	if ctx.QueryVector == nil || ctx.VectorIndex == nil || universe.IsEmpty() {
		return &staticState{buckets: []Bucket{{Candidates: universe, Score: ScoreComponent{Rule: r.Name(), Value: 1}}}}, nil
	}

	k := r.K
	if k <= 0 {
		k = int(universe.GetCardinality())
	}
	matches, err := ctx.VectorIndex.NNSByVector(ctx.QueryVector, k, universe)
	if err != nil {
		return nil, err
	}

	// coder/hnsw's Search is synchronous, so every match is already
	// available by the time Start returns; NonBlockingNext below never
	// actually needs to report "not ready" in this implementation. A
	// true asynchronous vector backend would stage matches as they
	// arrive instead of computing them all up front here.
	matched := roaring.New()
	buckets := make([]Bucket, 0, len(matches)+1)
	for _, m := range matches {
		bm := roaring.New()
		bm.Add(m.DocID)
		matched.Add(m.DocID)
		buckets = append(buckets, Bucket{Candidates: bm, Score: ScoreComponent{Rule: r.Name(), Value: float64(m.Score)}})
	}

	rest := roaring.AndNot(universe, matched)
	if !rest.IsEmpty() {
		buckets = append(buckets, Bucket{Candidates: rest, Score: ScoreComponent{Rule: r.Name(), Value: 0}})
	}
	return &vectorSortState{staticState: staticState{buckets: buckets}}, nil
}

// vectorSortState adds NonBlockingNext to the shared staticState so the
// cascade can interleave vector_sort with slower lexical rules per spec
// §4.9, even though this backend resolves every match synchronously.
type vectorSortState struct {
	staticState
}

func (s *vectorSortState) NonBlockingNext(ctx *Context) (Bucket, bool, bool, error) {
	b, done, err := s.Next(ctx)
	return b, true, done, err
}
