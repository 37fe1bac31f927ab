package rank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchcore/searchcore/internal/query"
)

func wordWithDerivations(text string, position int, derivs ...query.Derivation) query.Term {
	return query.WordTerm{Text: text, Position: position, Derivations: derivs}
}

func TestTypoRule_OrdersByTotalTypoCostAscending(t *testing.T) {
	f := newTestFixture(t)
	f.putWordDocids("shoe", 1)  // exact match, cost 0
	f.putWordDocids("shoo", 2)  // one-typo candidate, cost 1

	q := &query.Query{Terms: []query.Term{wordWithDerivations("shoe", 0,
		query.Derivation{Text: "shoe", Kind: query.DerivationExact, TypoCost: 0},
		query.Derivation{Text: "shoo", Kind: query.DerivationOneTypo, TypoCost: 1},
	)}}
	ctx := f.contextFor(q)

	state, err := TypoRule{}.Start(ctx, universeOf(1, 2))
	require.NoError(t, err)
	buckets := collectBuckets(t, ctx, state)

	require.Len(t, buckets, 2)
	assert.ElementsMatch(t, []uint32{1}, buckets[0].Candidates.ToArray())
	assert.ElementsMatch(t, []uint32{2}, buckets[1].Candidates.ToArray())
	assert.Greater(t, buckets[0].Score.Value, buckets[1].Score.Value)
}

func TestTypoRule_DocMatchingNoDerivationGetsZeroCost(t *testing.T) {
	f := newTestFixture(t)
	f.putWordDocids("shoe", 1)

	q := &query.Query{Terms: []query.Term{wordWithDerivations("shoe", 0,
		query.Derivation{Text: "shoe", Kind: query.DerivationExact, TypoCost: 0},
	)}}
	ctx := f.contextFor(q)

	state, err := TypoRule{}.Start(ctx, universeOf(1, 2))
	require.NoError(t, err)
	buckets := collectBuckets(t, ctx, state)

	require.Len(t, buckets, 1)
	assert.ElementsMatch(t, []uint32{1, 2}, buckets[0].Candidates.ToArray())
}
