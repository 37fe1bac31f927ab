package rank

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchcore/searchcore/internal/query"
)

func TestRunCascade_OrdersHitsByWordsThenTypo(t *testing.T) {
	f := newTestFixture(t)
	f.putWordDocids("red", 1, 2, 3)
	f.putWordDocids("shoe", 2, 3)

	q := &query.Query{Terms: []query.Term{wordOf("red", 0), wordOf("shoe", 1)}}
	ctx := f.contextFor(q)

	result, err := RunCascade(ctx, []Rule{WordsRule{}, TypoRule{}}, universeOf(1, 2, 3), 0, time.Time{})
	require.NoError(t, err)
	require.False(t, result.Degraded)

	var order []uint32
	for _, h := range result.Hits {
		order = append(order, h.DocID)
	}
	require.Len(t, order, 3)
	assert.Contains(t, order[:2], uint32(2))
	assert.Contains(t, order[:2], uint32(3))
	assert.Equal(t, uint32(1), order[2])
}

func TestRunCascade_RespectsLimit(t *testing.T) {
	f := newTestFixture(t)
	f.putWordDocids("red", 1, 2, 3)

	q := &query.Query{Terms: []query.Term{wordOf("red", 0)}}
	ctx := f.contextFor(q)

	result, err := RunCascade(ctx, []Rule{WordsRule{}}, universeOf(1, 2, 3), 2, time.Time{})
	require.NoError(t, err)
	assert.Len(t, result.Hits, 2)
}

func TestRunCascade_PastDeadlineReportsDegraded(t *testing.T) {
	f := newTestFixture(t)
	f.putWordDocids("red", 1, 2)

	q := &query.Query{Terms: []query.Term{wordOf("red", 0)}}
	ctx := f.contextFor(q)

	result, err := RunCascade(ctx, []Rule{WordsRule{}}, universeOf(1, 2), 0, time.Now().Add(-time.Second))
	require.NoError(t, err)
	assert.True(t, result.Degraded)
}

func TestRankingScore_MultipliesAcrossRules(t *testing.T) {
	h := Hit{Scores: []ScoreComponent{{Rule: "words", Value: 0.5}, {Rule: "typo", Value: 0.5}}}
	assert.InDelta(t, 0.25, RankingScore(h), 1e-9)
}

func TestRunCascade_EmptyUniverseYieldsNoHits(t *testing.T) {
	f := newTestFixture(t)
	q := &query.Query{Terms: []query.Term{wordOf("red", 0)}}
	ctx := f.contextFor(q)

	result, err := RunCascade(ctx, []Rule{WordsRule{}}, universeOf(), 0, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, result.Hits)
}
