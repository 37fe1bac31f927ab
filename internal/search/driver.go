package search

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/searchcore/searchcore/internal/fields"
	"github.com/searchcore/searchcore/internal/filter"
	"github.com/searchcore/searchcore/internal/fst"
	"github.com/searchcore/searchcore/internal/index"
	"github.com/searchcore/searchcore/internal/query"
	"github.com/searchcore/searchcore/internal/rank"
	"github.com/searchcore/searchcore/internal/store"
)

// Driver executes one Request against one index snapshot end to end:
// parse, filter, rank, collect, dedup, threshold (spec §4.10). It holds
// no mutable state of its own; everything per-call lives in the Txn the
// caller provides, so multiple Executes may run concurrently over the
// same snapshot.
type Driver struct {
	env     *store.Env
	dbs     *store.IndexDatabases
	fields  *fields.Map
	vectors *store.VectorStore
	parser  *query.Parser
}

// NewDriver builds a Driver bound to one index's environment, databases,
// fields map, vector store, and query parser configuration.
func NewDriver(env *store.Env, dbs *store.IndexDatabases, fm *fields.Map, vectors *store.VectorStore, parser *query.Parser) *Driver {
	return &Driver{env: env, dbs: dbs, fields: fm, vectors: vectors, parser: parser}
}

// Execute runs req to completion and returns the response page. It opens
// its own read transaction so the result is a consistent point-in-time
// snapshot even if a concurrent indexing batch commits mid-search.
func (d *Driver) Execute(req Request) (Response, error) {
	start := time.Now()

	txn, err := d.env.ReadTxn()
	if err != nil {
		return Response{}, fmt.Errorf("search: open read transaction: %w", err)
	}
	defer txn.Close()

	lex, err := d.loadLexicon(txn)
	if err != nil {
		return Response{}, err
	}

	settings, hasSettings, err := index.LoadSettings(txn, d.dbs)
	if err != nil {
		return Response{}, fmt.Errorf("search: load settings: %w", err)
	}
	if hasSettings {
		// A settings-update task's effect on typo tolerance, synonyms, and
		// prefix search must be visible to the very next search (spec §8
		// S2), not just to searches issued after a process restart — so the
		// parser's config is re-derived from the persisted settings on
		// every Execute rather than fixed at construction time. Before any
		// settings have ever been applied, the parser keeps the defaults it
		// was constructed with.
		d.parser.SetConfig(settings.QueryConfig(), settings.StopWords)
	}

	q, err := d.parser.Parse(req.QueryText, lex)
	if err != nil {
		return Response{}, fmt.Errorf("search: parse query: %w", err)
	}

	ctx := &rank.Context{Query: q, SortClauses: req.Sort, Txn: txn, DBs: d.dbs}
	if len(req.Vector) > 0 {
		ctx.QueryVector = req.Vector
		ctx.VectorIndex = d.vectors.Embedder("default", store.VectorStoreConfig{Dimensions: len(req.Vector)})
	}

	filtered := req.Filter
	switch {
	case filtered != nil:
		// already evaluated by the caller
	case req.FilterExpr != "":
		all, err := d.fullUniverse(txn)
		if err != nil {
			return Response{}, err
		}
		filtered, err = filter.Evaluate(&filter.EvalContext{Fields: d.fields, Txn: txn, DBs: d.dbs, Universe: all}, req.FilterExpr)
		if err != nil {
			return Response{}, fmt.Errorf("search: evaluate filter: %w", err)
		}
	default:
		filtered, err = d.fullUniverse(txn)
		if err != nil {
			return Response{}, err
		}
	}

	strategy := rank.MatchingStrategy(req.MatchingStrategy)
	if strategy == "" {
		strategy = rank.MatchingStrategyLast
	}
	universe, err := rank.MatchUniverse(ctx, filtered, strategy)
	if err != nil {
		return Response{}, fmt.Errorf("search: match query terms: %w", err)
	}

	rules := d.cascadeRules(req, settings.RankingRules)

	offset, limit := req.normalizedOffsetLimit()
	offset, limit = clampToMaxTotalHits(offset, limit, settings.Pagination.MaxTotalHits)
	deadline := time.Time{}
	if req.TimeBudget > 0 {
		deadline = start.Add(req.TimeBudget)
	}

	hits, degraded, err := d.collectPage(ctx, rules, universe, offset, limit, req.Distinct, req.RankingScoreThreshold, deadline)
	if err != nil {
		return Response{}, err
	}

	cardinality := int(universe.GetCardinality())
	if max := settings.Pagination.MaxTotalHits; max > 0 && cardinality > max {
		cardinality = max
	}
	resp := Response{Hits: hits, ProcessingTimeMS: time.Since(start).Milliseconds(), Degraded: degraded}
	if degraded {
		resp.EstimatedTotalHits = &cardinality
	} else {
		resp.TotalHits = &cardinality
	}
	if req.HitsPerPage > 0 {
		page := req.Page
		if page < 1 {
			page = 1
		}
		resp.Page = &page
	}
	return resp, nil
}

// defaultRankingRules is the cascade order spec §4.9 requires when no
// settings-update task has ever run (or the persisted list is empty).
var defaultRankingRules = []string{"words", "typo", "proximity", "attribute", "sort", "exactness"}

// namedRules maps a rankingRules entry (spec §6: "ordered list of rule
// names and asc/desc clauses") to the rank.Rule that implements it.
// asc/desc clauses (e.g. "price:asc") name a fixed per-index tie-break
// sort rather than one of the six named rules; rank has no standing
// per-attribute sort rule distinct from the request's own Sort clauses,
// so such entries are skipped here (see DESIGN.md Open Question notes).
var namedRules = map[string]rank.Rule{
	"words":       rank.WordsRule{},
	"typo":        rank.TypoRule{},
	"proximity":   rank.ProximityRule{},
	"attribute":   rank.AttributeRule{},
	"sort":        rank.SortRule{},
	"exactness":   rank.ExactnessRule{},
	"vectorSort":  rank.VectorSortRule{},
	"vector_sort": rank.VectorSortRule{},
}

// cascadeRules composes the rule order spec §4.9 requires from the
// index's persisted rankingRules setting, inserting vector_sort only when
// the request carries a query vector and the setting didn't already name
// it explicitly (the vector index itself is wired onto rank.Context by
// Execute).
func (d *Driver) cascadeRules(req Request, rankingRules []string) []rank.Rule {
	if len(rankingRules) == 0 {
		rankingRules = defaultRankingRules
	}

	var rules []rank.Rule
	sawVectorSort := false
	for _, name := range rankingRules {
		rule, ok := namedRules[name]
		if !ok {
			continue
		}
		rules = append(rules, rule)
		if name == "vectorSort" || name == "vector_sort" {
			sawVectorSort = true
		}
	}
	if len(req.Vector) > 0 && !sawVectorSort {
		rules = append(rules, rank.VectorSortRule{})
	}
	return rules
}

// clampToMaxTotalHits enforces the index's pagination.maxTotalHits
// setting (spec §6): a page that starts at or beyond the ceiling is
// empty, and a page that would cross it is truncated so offset+limit
// never exceeds max. max <= 0 means no ceiling.
func clampToMaxTotalHits(offset, limit, max int) (int, int) {
	if max <= 0 {
		return offset, limit
	}
	if offset >= max {
		return offset, 0
	}
	if offset+limit > max {
		limit = max - offset
	}
	return offset, limit
}

// collectPage runs the cascade until it has gathered offset+limit
// deduplicated, threshold-passing hits (or the universe/time budget is
// exhausted), widening the cascade's own limit when distinct dedup drops
// candidates so the final page still has limit entries when available.
func (d *Driver) collectPage(ctx *rank.Context, rules []rank.Rule, universe *roaring.Bitmap, offset, limit int, distinct string, threshold float64, deadline time.Time) ([]ResultHit, bool, error) {
	want := offset + limit
	attempt := want
	if attempt <= 0 {
		attempt = limit
	}

	var result rank.CascadeResult
	for tries := 0; tries < 5; tries++ {
		var err error
		result, err = rank.RunCascade(ctx, rules, universe, attempt, deadline)
		if err != nil {
			return nil, false, err
		}

		hits, err := d.materializeHits(ctx, result.Hits, distinct, threshold)
		if err != nil {
			return nil, false, err
		}
		if len(hits) >= want || result.Degraded || len(result.Hits) < attempt {
			if offset < len(hits) {
				hits = hits[offset:]
			} else {
				hits = nil
			}
			if len(hits) > limit {
				hits = hits[:limit]
			}
			return hits, result.Degraded, nil
		}
		attempt *= 2
	}

	hits, err := d.materializeHits(ctx, result.Hits, distinct, threshold)
	if err != nil {
		return nil, false, err
	}
	if offset < len(hits) {
		hits = hits[offset:]
	} else {
		hits = nil
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, result.Degraded, nil
}

// materializeHits resolves each cascade hit to its external id and
// displayed fields, applies distinct dedup (keeping only the first
// document seen per distinct value) and the ranking-score threshold.
// The threshold is applied before the caller learns whether the search
// degraded, per this repository's resolution of spec §11's open question
// on threshold-vs-degraded ordering: a degraded response must still
// respect the threshold rather than exposing sub-threshold matches.
func (d *Driver) materializeHits(ctx *rank.Context, cascadeHits []rank.Hit, distinct string, threshold float64) ([]ResultHit, error) {
	distinctFieldID, hasDistinct := uint16(0), false
	if distinct != "" {
		if id, ok := d.fields.ID(distinct); ok {
			distinctFieldID, hasDistinct = id, true
		}
	}

	seen := map[string]struct{}{}
	out := make([]ResultHit, 0, len(cascadeHits))
	for _, h := range cascadeHits {
		score := rank.RankingScore(h)
		if score < threshold {
			continue
		}

		fieldsBlob, ok, err := ctx.DBs.DocumentRecords.GetR(ctx.Txn, h.DocID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var raw map[uint16]json.RawMessage
		if err := json.Unmarshal(fieldsBlob, &raw); err != nil {
			return nil, fmt.Errorf("search: decode document %d: %w", h.DocID, err)
		}

		if hasDistinct {
			if v, ok := raw[distinctFieldID]; ok {
				key := string(v)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
			}
		}

		external, _, err := ctx.DBs.InternalToExternal.GetR(ctx.Txn, h.DocID)
		if err != nil {
			return nil, err
		}

		named := make(map[string]json.RawMessage, len(raw))
		for fid, v := range raw {
			if md := d.fields.Metadata(fid); !md.Displayed {
				continue
			}
			name, ok := d.fields.Name(fid)
			if !ok {
				name = strconv.Itoa(int(fid))
			}
			named[name] = v
		}

		out = append(out, ResultHit{ExternalID: external, Fields: named, Score: score})
	}
	return out, nil
}

func (d *Driver) fullUniverse(txn *store.Txn) (*roaring.Bitmap, error) {
	universe := roaring.New()
	err := d.dbs.DocumentRecords.Iterate(txn, func(id uint32, _ []byte) (bool, error) {
		universe.Add(id)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return universe, nil
}

func (d *Driver) loadLexicon(txn *store.Txn) (*query.Lexicon, error) {
	words, err := loadFstSet(txn, d.dbs.WordsFstBytes)
	if err != nil {
		return nil, err
	}
	prefixes, err := loadFstSet(txn, d.dbs.PrefixFstBytes)
	if err != nil {
		return nil, err
	}
	return &query.Lexicon{Words: words, Prefixes: prefixes}, nil
}

func loadFstSet(txn *store.Txn, db *store.Database[string, []byte]) (*fst.Set, error) {
	blob, ok, err := db.GetR(txn, store.FstSentinelKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return fst.Load(nil)
	}
	return fst.Load(blob)
}
