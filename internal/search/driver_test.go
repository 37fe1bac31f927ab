package search

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchcore/searchcore/internal/codec"
	"github.com/searchcore/searchcore/internal/config"
	"github.com/searchcore/searchcore/internal/fields"
	"github.com/searchcore/searchcore/internal/index"
	"github.com/searchcore/searchcore/internal/query"
	"github.com/searchcore/searchcore/internal/rank"
	"github.com/searchcore/searchcore/internal/store"
	"github.com/searchcore/searchcore/internal/transform"
)

func rawJSON(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func newTestDriver(t *testing.T) (*Driver, *store.Env, *store.IndexDatabases, *fields.Map) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.db")
	env, err := store.Open(path, store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })

	dbs := store.NewIndexDatabases()
	w, err := env.WriteTxn()
	require.NoError(t, err)
	require.NoError(t, dbs.EnsureAll(w))
	require.NoError(t, w.Commit())

	fm := fields.New()
	titleID, err := fm.Insert("title")
	require.NoError(t, err)
	fm.SetMetadata(titleID, fields.Metadata{Searchable: true, Displayed: true})

	vectors := store.NewVectorStore()
	parser := query.NewParser(query.DefaultConfig(), nil)

	return NewDriver(env, dbs, fm, vectors, parser), env, dbs, fm
}

func putTestDocument(t *testing.T, env *store.Env, dbs *store.IndexDatabases, internalID uint32, externalID string, title string) {
	t.Helper()
	w, err := env.WriteTxn()
	require.NoError(t, err)

	titleJSON, err := json.Marshal(title)
	require.NoError(t, err)
	blob, err := json.Marshal(map[uint16]json.RawMessage{0: titleJSON})
	require.NoError(t, err)
	require.NoError(t, dbs.DocumentRecords.Put(w, internalID, blob))
	require.NoError(t, dbs.InternalToExternal.Put(w, internalID, externalID))
	require.NoError(t, dbs.ExternalToInternal.Put(w, externalID, internalID))
	require.NoError(t, w.Commit())
}

func TestDriver_Execute_EmptyQueryReturnsAllDocuments(t *testing.T) {
	d, env, dbs, _ := newTestDriver(t)
	putTestDocument(t, env, dbs, 1, "doc-1", "red shoe")
	putTestDocument(t, env, dbs, 2, "doc-2", "blue sock")

	resp, err := d.Execute(Request{Limit: 10})
	require.NoError(t, err)
	require.False(t, resp.Degraded)
	assert.Len(t, resp.Hits, 2)
	require.NotNil(t, resp.TotalHits)
	assert.Equal(t, 2, *resp.TotalHits)
}

func TestDriver_Execute_DistinctDropsDuplicateValues(t *testing.T) {
	d, env, dbs, fm := newTestDriver(t)
	skuID, err := fm.Insert("sku")
	require.NoError(t, err)
	fm.SetMetadata(skuID, fields.Metadata{Distinct: true, Displayed: true})

	w, err := env.WriteTxn()
	require.NoError(t, err)
	skuJSON, _ := json.Marshal("A1")
	blob1, _ := json.Marshal(map[uint16]json.RawMessage{skuID: skuJSON})
	blob2, _ := json.Marshal(map[uint16]json.RawMessage{skuID: skuJSON})
	require.NoError(t, dbs.DocumentRecords.Put(w, 1, blob1))
	require.NoError(t, dbs.DocumentRecords.Put(w, 2, blob2))
	require.NoError(t, dbs.InternalToExternal.Put(w, 1, "doc-1"))
	require.NoError(t, dbs.InternalToExternal.Put(w, 2, "doc-2"))
	require.NoError(t, w.Commit())

	resp, err := d.Execute(Request{Limit: 10, Distinct: "sku"})
	require.NoError(t, err)
	assert.Len(t, resp.Hits, 1)
}

func TestDriver_Execute_FilterExprNarrowsResults(t *testing.T) {
	d, env, dbs, fm := newTestDriver(t)
	priceID, err := fm.Insert("price")
	require.NoError(t, err)
	fm.SetMetadata(priceID, fields.Metadata{Filterable: true})

	putTestDocument(t, env, dbs, 1, "doc-1", "red shoe")
	putTestDocument(t, env, dbs, 2, "doc-2", "blue sock")

	w, err := env.WriteTxn()
	require.NoError(t, err)
	cheapKey := codec.EncodeFacetGroupKey(codec.FacetGroupKey{FieldID: priceID, Level: 0, Kind: codec.FacetKindNumber, Number: 5})
	pricyKey := codec.EncodeFacetGroupKey(codec.FacetGroupKey{FieldID: priceID, Level: 0, Kind: codec.FacetKindNumber, Number: 50})
	bm1 := roaring.New()
	bm1.Add(1)
	bm2 := roaring.New()
	bm2.Add(2)
	require.NoError(t, dbs.FacetNumberDocids.Put(w, cheapKey, bm1))
	require.NoError(t, dbs.FacetNumberDocids.Put(w, pricyKey, bm2))
	require.NoError(t, w.Commit())

	resp, err := d.Execute(Request{Limit: 10, FilterExpr: "price > 10"})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "doc-2", resp.Hits[0].ExternalID)
}

func TestDriver_CascadeRules_FallsBackToDefaultOrderWhenNoSettingsPersisted(t *testing.T) {
	d, _, _, _ := newTestDriver(t)
	rules := d.cascadeRules(Request{}, nil)
	require.Len(t, rules, len(defaultRankingRules))
	assert.IsType(t, rank.WordsRule{}, rules[0])
	assert.IsType(t, rank.ExactnessRule{}, rules[len(rules)-1])
}

func TestDriver_Execute_HonorsPersistedRankingRulesOrder(t *testing.T) {
	d, env, dbs, fm := newTestDriver(t)

	idxDriver := index.NewDriver(env, dbs, fm, store.NewVectorStore(), nil, 1)
	require.NoError(t, idxDriver.ApplySettings(config.Settings{
		RankingRules: []string{"exactness", "words"},
	}))

	putTestDocument(t, env, dbs, 1, "doc-1", "red shoe")

	resp, err := d.Execute(Request{QueryText: "red", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, resp.Hits, 1)

	settings, ok, err := idxDriver.LoadSettings(mustReadTxn(t, env))
	require.NoError(t, err)
	require.True(t, ok)
	rules := d.cascadeRules(Request{}, settings.RankingRules)
	require.Len(t, rules, 2)
	assert.IsType(t, rank.ExactnessRule{}, rules[0])
	assert.IsType(t, rank.WordsRule{}, rules[1])
}

func mustReadTxn(t *testing.T, env *store.Env) *store.Txn {
	t.Helper()
	txn, err := env.ReadTxn()
	require.NoError(t, err)
	t.Cleanup(func() { _ = txn.Close() })
	return txn
}

func TestDriver_Execute_MaxTotalHitsCapsTotalAndTruncatesPage(t *testing.T) {
	d, env, dbs, fm := newTestDriver(t)
	for i := uint32(1); i <= 5; i++ {
		putTestDocument(t, env, dbs, i, "doc", "x")
	}

	idxDriver := index.NewDriver(env, dbs, fm, store.NewVectorStore(), nil, 1)
	require.NoError(t, idxDriver.ApplySettings(config.Settings{
		Pagination: config.PaginationSettings{MaxTotalHits: 3},
	}))

	resp, err := d.Execute(Request{Limit: 10})
	require.NoError(t, err)
	require.NotNil(t, resp.TotalHits)
	assert.Equal(t, 3, *resp.TotalHits)
	assert.Len(t, resp.Hits, 3)

	resp2, err := d.Execute(Request{Limit: 10, Offset: 3})
	require.NoError(t, err)
	assert.Empty(t, resp2.Hits, "a page starting at or past maxTotalHits must come back empty")
}

func TestDriver_Execute_SettingsUpdateChangesTypoToleranceOnNextSearch(t *testing.T) {
	d, env, dbs, fm := newTestDriver(t)

	idxDriver := index.NewDriver(env, dbs, fm, store.NewVectorStore(), nil, 1)
	require.NoError(t, idxDriver.ApplySettings(config.Settings{
		TypoTolerance: config.TypoToleranceSettings{
			Enabled:             true,
			MinWordSizeForTypos: config.MinWordSizeForTypos{OneTypo: 5, TwoTypos: 9},
		},
	}))

	_, err := idxDriver.ApplyBatch(context.Background(), index.Batch{
		Config: transform.Config{PrimaryKey: "id"},
		Operations: []transform.Operation{
			{Kind: transform.OpUpsert, Document: map[string]json.RawMessage{
				"id": rawJSON("doc-1"), "title": rawJSON("cats"),
			}},
		},
	})
	require.NoError(t, err)

	resp, err := d.Execute(Request{QueryText: "cots", Limit: 10, MatchingStrategy: MatchingStrategyAll})
	require.NoError(t, err)
	assert.Empty(t, resp.Hits, "a 4-letter word must not get typo tolerance until oneTypo is lowered to 4")

	require.NoError(t, idxDriver.ApplySettings(config.Settings{
		TypoTolerance: config.TypoToleranceSettings{
			Enabled:             true,
			MinWordSizeForTypos: config.MinWordSizeForTypos{OneTypo: 4, TwoTypos: 9},
		},
	}))

	resp, err = d.Execute(Request{QueryText: "cots", Limit: 10, MatchingStrategy: MatchingStrategyAll})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1, "lowering oneTypo to 4 must take effect on the very next search")
	assert.Equal(t, "doc-1", resp.Hits[0].ExternalID)
}

func TestDriver_Execute_LimitAndOffsetPaginate(t *testing.T) {
	d, env, dbs, _ := newTestDriver(t)
	for i := uint32(1); i <= 5; i++ {
		putTestDocument(t, env, dbs, i, "doc", "x")
	}

	resp, err := d.Execute(Request{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Hits, 2)
}
