package rank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchcore/searchcore/internal/query"
	"github.com/searchcore/searchcore/internal/store"
)

func TestVectorSortRule_OrdersByDescendingSimilarity(t *testing.T) {
	vi := store.NewVectorIndex(store.VectorStoreConfig{Dimensions: 2, Metric: "cos"})
	require.NoError(t, vi.Insert(1, []float32{1, 0}))
	require.NoError(t, vi.Insert(2, []float32{0, 1}))

	f := newTestFixture(t)
	q := &query.Query{}
	ctx := f.contextFor(q)
	ctx.QueryVector = []float32{1, 0}
	ctx.VectorIndex = vi

	state, err := VectorSortRule{}.Start(ctx, universeOf(1, 2))
	require.NoError(t, err)
	buckets := collectBuckets(t, ctx, state)

	require.GreaterOrEqual(t, len(buckets), 1)
	assert.Contains(t, buckets[0].Candidates.ToArray(), uint32(1))
}

func TestVectorSortRule_NoQueryVectorReturnsFullUniverse(t *testing.T) {
	f := newTestFixture(t)
	q := &query.Query{}
	ctx := f.contextFor(q)

	state, err := VectorSortRule{}.Start(ctx, universeOf(1, 2))
	require.NoError(t, err)
	buckets := collectBuckets(t, ctx, state)

	require.Len(t, buckets, 1)
	assert.ElementsMatch(t, []uint32{1, 2}, buckets[0].Candidates.ToArray())
}

func TestVectorSortRule_NonBlockingNextIsAlwaysReady(t *testing.T) {
	vi := store.NewVectorIndex(store.VectorStoreConfig{Dimensions: 2, Metric: "cos"})
	require.NoError(t, vi.Insert(1, []float32{1, 0}))

	f := newTestFixture(t)
	q := &query.Query{}
	ctx := f.contextFor(q)
	ctx.QueryVector = []float32{1, 0}
	ctx.VectorIndex = vi

	state, err := VectorSortRule{}.Start(ctx, universeOf(1))
	require.NoError(t, err)
	nb, ok := state.(NonBlockingState)
	require.True(t, ok)

	b, ready, done, err := nb.NonBlockingNext(ctx)
	require.NoError(t, err)
	assert.True(t, ready)
	assert.False(t, done)
	assert.ElementsMatch(t, []uint32{1}, b.Candidates.ToArray())
}
