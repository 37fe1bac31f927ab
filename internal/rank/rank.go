// Package rank implements the pluggable ranking-rule cascade (spec
// §4.9): an ordered sequence of rules, each progressively refining a
// candidate universe into ranked buckets.
package rank

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/searchcore/searchcore/internal/codec"
	"github.com/searchcore/searchcore/internal/query"
	"github.com/searchcore/searchcore/internal/store"
)

// Bucket is a subset of the current universe sharing one score
// contribution, yielded by a rule in decreasing order of relevance
// (spec §4.9: "Bucket = { candidates, score }").
type Bucket struct {
	Candidates *roaring.Bitmap
	Score      ScoreComponent
}

// ScoreComponent is one rule's contribution to a document's final
// ranking score. Value is normalized to [0,1]; higher is better.
type ScoreComponent struct {
	Rule  string
	Value float64
}

// Context is the read-only, per-search state every rule needs: the
// parsed query, any requested sort clauses, an optional query vector,
// the snapshot's database handles, and the reader transaction the
// rules read through.
type Context struct {
	Query       *query.Query
	SortClauses []SortClause
	Txn         *store.Txn
	DBs         *store.IndexDatabases

	// QueryVector and VectorIndex are set only when the request carries
	// a vector query (spec §4.9: "vector_sort is inserted automatically
	// when a vector query is present").
	QueryVector []float32
	VectorIndex *store.VectorIndex
}

// SortClause is one `field:asc|desc` entry of a request's sort grammar
// (spec §6 "Sort grammar"), resolved to the field's facet tree.
type SortClause struct {
	FieldID    uint16
	Kind       codec.FacetKind
	Descending bool
}

// State is one rule's live iterator over buckets of a single parent
// bucket's candidates. Start returns a State scoped to one universe;
// Next is called repeatedly until it reports done.
type State interface {
	// Next returns the next bucket, in decreasing relevance order.
	// done=true means no bucket was returned: iteration is exhausted
	// (the Option<Bucket>::None case of spec §4.9's next_bucket).
	Next(ctx *Context) (bucket Bucket, done bool, err error)
}

// NonBlockingState is the optional variant of State a rule may also
// implement so the cascade can interleave it with slower rules (spec
// §4.9: vector_sort's non_blocking_next_bucket, used to let lexical
// rules make progress while a vector search is still pending).
type NonBlockingState interface {
	State
	// NonBlockingNext returns ready=false if no bucket is available yet
	// without blocking; the caller should retry later. done has the same
	// meaning as State.Next's: no more buckets will ever be produced.
	NonBlockingNext(ctx *Context) (bucket Bucket, ready bool, done bool, err error)
}

// Rule is one cascade stage (spec §4.9: "a rule is an object with
// start/next_bucket/end").
type Rule interface {
	Name() string
	// Start begins iterating buckets over universe, the candidate set
	// inherited from the parent bucket (or the full post-filter universe
	// for the first rule in the cascade).
	Start(ctx *Context, universe *roaring.Bitmap) (State, error)
}

// DefaultOrder is the required rule order named in spec §4.9 before
// any user-configured sort clauses or an implicit vector_sort insertion.
var DefaultOrder = []string{"words", "typo", "proximity", "attribute", "sort", "exactness"}
