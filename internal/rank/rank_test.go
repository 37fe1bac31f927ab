package rank

import (
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/require"

	"github.com/searchcore/searchcore/internal/codec"
	"github.com/searchcore/searchcore/internal/query"
	"github.com/searchcore/searchcore/internal/store"
)

// testFixture builds an index snapshot for one test: postings are
// written first, then a single read transaction is opened so the rule
// under test sees everything written so far.
type testFixture struct {
	t   *testing.T
	env *store.Env
	dbs *store.IndexDatabases
}

func newTestFixture(t *testing.T) *testFixture {
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

	return &testFixture{t: t, env: env, dbs: dbs}
}

func (f *testFixture) putWordDocids(word string, docs ...uint32) {
	f.t.Helper()
	w, err := f.env.WriteTxn()
	require.NoError(f.t, err)
	bm := roaring.New()
	bm.AddMany(docs)
	require.NoError(f.t, f.dbs.WordDocids.Put(w, word, bm))
	require.NoError(f.t, w.Commit())
}

func (f *testFixture) putPairProximity(dist uint8, w1, w2 string, docs ...uint32) {
	f.t.Helper()
	w, err := f.env.WriteTxn()
	require.NoError(f.t, err)
	bm := roaring.New()
	bm.AddMany(docs)
	require.NoError(f.t, f.dbs.WordPairProximityDocids.Put(w, codec.EncodeU8StrStr(dist, w1, w2), bm))
	require.NoError(f.t, w.Commit())
}

func (f *testFixture) contextFor(q *query.Query) *Context {
	f.t.Helper()
	r, err := f.env.ReadTxn()
	require.NoError(f.t, err)
	f.t.Cleanup(func() { r.Close() })
	return &Context{Query: q, Txn: r, DBs: f.dbs}
}

func wordOf(text string, position int) query.Term {
	return query.WordTerm{
		Text:        text,
		Position:    position,
		Derivations: []query.Derivation{{Text: text, Kind: query.DerivationExact}},
	}
}

func universeOf(docs ...uint32) *roaring.Bitmap {
	bm := roaring.New()
	bm.AddMany(docs)
	return bm
}

func collectBuckets(t *testing.T, ctx *Context, state State) []Bucket {
	t.Helper()
	var out []Bucket
	for {
		b, done, err := state.Next(ctx)
		require.NoError(t, err)
		if done {
			return out
		}
		out = append(out, b)
	}
}
