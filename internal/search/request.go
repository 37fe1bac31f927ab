package search

import (
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/searchcore/searchcore/internal/rank"
)

// Request is one search call's full set of inputs (spec §4.10): `{query,
// filter, sort, offset, limit, hits_per_page?, page?, vector?, distinct?,
// ranking_score_threshold?, time_budget, matching_strategy}`.
type Request struct {
	QueryText string

	// Filter is the pre-evaluated candidate universe (spec §4.10 step 1
	// "Evaluate filter -> initial bitmap"); nil means "every document".
	// Takes precedence over FilterExpr when both are set.
	Filter *roaring.Bitmap

	// FilterExpr is raw filter grammar text (spec §6); the driver parses
	// and evaluates it when Filter is nil.
	FilterExpr string

	Sort []rank.SortClause

	Offset int
	Limit  int

	// Page and HitsPerPage are an alternative pagination vocabulary that
	// the driver normalizes into Offset/Limit before executing.
	Page        int
	HitsPerPage int

	Vector []float32

	// Distinct names the field whose value must be unique across the
	// returned page (spec §4.10 step 4); empty disables dedup.
	Distinct string

	RankingScoreThreshold float64

	TimeBudget time.Duration

	// MatchingStrategy is "last" (drop trailing optional terms when the
	// strict match set is empty) or "all" (require every term); see
	// MatchingStrategy below.
	MatchingStrategy MatchingStrategy
}

// MatchingStrategy controls how the driver degrades an over-constrained
// query when the strict intersection of all terms is empty.
type MatchingStrategy string

const (
	MatchingStrategyLast MatchingStrategy = "last"
	MatchingStrategyAll  MatchingStrategy = "all"
)

func (r Request) normalizedOffsetLimit() (offset, limit int) {
	if r.HitsPerPage > 0 {
		page := r.Page
		if page < 1 {
			page = 1
		}
		return (page - 1) * r.HitsPerPage, r.HitsPerPage
	}
	limit = r.Limit
	if limit <= 0 {
		limit = 20
	}
	return r.Offset, limit
}
