package rank

import (
	"time"

	"github.com/RoaringBitmap/roaring/v2"
)

// Hit is one collected document together with the per-rule score
// components the cascade accumulated on the path that reached it.
type Hit struct {
	DocID  uint32
	Scores []ScoreComponent
}

// CascadeResult is what RunCascade produces: the ordered hits it
// collected and whether it stopped early because the time budget
// expired before the walk reached every rule's natural end (spec §4.10
// "degraded").
type CascadeResult struct {
	Hits     []Hit
	Degraded bool
}

// RunCascade is the depth-first recursive walker spec §4.9 describes: it
// starts rules[0] on universe, and for every bucket a rule yields,
// recurses into rules[1:] with that bucket's candidates as the new
// universe, carrying the bucket's score forward. When the last rule is
// exhausted for a branch, the branch's remaining candidates are
// collected as hits in ascending document-id order (the cascade's
// deterministic tie-break), until limit hits have been collected or
// deadline passes.
//
// The recursion depth never exceeds len(rules), matching the "small
// constant stack cap" spec §11 calls for; no rule needs its own
// goroutine or channel.
func RunCascade(ctx *Context, rules []Rule, universe *roaring.Bitmap, limit int, deadline time.Time) (CascadeResult, error) {
	w := &cascadeWalk{ctx: ctx, rules: rules, limit: limit, deadline: deadline}
	err := w.step(0, universe, nil)
	return CascadeResult{Hits: w.hits, Degraded: w.degraded}, err
}

type cascadeWalk struct {
	ctx      *Context
	rules    []Rule
	limit    int
	deadline time.Time

	hits     []Hit
	degraded bool
}

func (w *cascadeWalk) full() bool {
	return w.limit > 0 && len(w.hits) >= w.limit
}

func (w *cascadeWalk) pastDeadline() bool {
	return !w.deadline.IsZero() && time.Now().After(w.deadline)
}

// step walks rules[idx:] over universe, appending to w.hits. It returns
// once the branch is exhausted, the result set is full, or the deadline
// has passed; it never returns an error for running out of buckets,
// only for a rule's Start/Next genuinely failing.
func (w *cascadeWalk) step(idx int, universe *roaring.Bitmap, parentScores []ScoreComponent) error {
	if w.full() {
		return nil
	}
	if w.pastDeadline() {
		w.degraded = true
		return nil
	}
	if idx >= len(w.rules) || universe.IsEmpty() {
		w.collectLeaves(universe, parentScores)
		return nil
	}

	rule := w.rules[idx]
	state, err := rule.Start(w.ctx, universe)
	if err != nil {
		return err
	}

	for {
		if w.full() || w.pastDeadline() {
			if w.pastDeadline() {
				w.degraded = true
			}
			return nil
		}
		bucket, done, err := state.Next(w.ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		scores := append(append([]ScoreComponent(nil), parentScores...), bucket.Score)
		if err := w.step(idx+1, bucket.Candidates, scores); err != nil {
			return err
		}
	}
}

func (w *cascadeWalk) collectLeaves(universe *roaring.Bitmap, scores []ScoreComponent) {
	it := universe.Iterator()
	for it.HasNext() {
		if w.full() {
			return
		}
		w.hits = append(w.hits, Hit{DocID: it.Next(), Scores: scores})
	}
}

// RankingScore combines a hit's per-rule score components into the
// final `_rankingScore` spec §4.9 requires: monotonic in each
// component, multiplicative across rules so that no single rule's
// perfect score can outweigh a poor showing on another.
func RankingScore(h Hit) float64 {
	score := 1.0
	for _, c := range h.Scores {
		score *= c.Value
	}
	return score
}
