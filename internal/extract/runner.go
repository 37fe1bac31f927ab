package extract

import (
	"bytes"
	"context"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/searchcore/searchcore/internal/codec"
)

// mergeCacheSize bounds the LRU cache mergeChunks uses to coalesce
// repeated keys across chunk outputs, once every chunk worker has
// finished.
const mergeCacheSize = 4096

// Runner fans a change stream out across a bounded pool of goroutines,
// one per (extractor, chunk) pair, then k-way merges each extractor's
// chunk outputs into one sorted stream.
type Runner struct {
	Extractors  []Extractor
	Concurrency int
}

// NewRunner returns a Runner covering every target database named in
// §3's searchable and filterable databases.
func NewRunner(concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Runner{
		Extractors: []Extractor{
			WordDocidsExtractor{},
			ExactWordDocidsExtractor{},
			WordFidDocidsExtractor{},
			WordPositionDocidsExtractor{},
			WordPairProximityDocidsExtractor{},
			FacetNumberDocidsExtractor{},
			FacetStringDocidsExtractor{},
		},
		Concurrency: concurrency,
	}
}

// Run chunks changes, runs every extractor over every chunk in parallel
// (bounded by Concurrency), and returns one sorted, merged entry stream
// per database name. Errors abort the whole batch (spec §4.5: "Errors
// abort the batch").
func (r *Runner) Run(ctx context.Context, ectx *Context, changes []DocumentChange) (map[string][]Entry, error) {
	chunks := chunk(changes, r.Concurrency)

	type job struct {
		extractorIdx int
		chunkIdx     int
		entries      []Entry
	}
	results := make([][][]Entry, len(r.Extractors))
	for i := range results {
		results[i] = make([][]Entry, len(chunks))
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, r.Concurrency)

	for ei, extractor := range r.Extractors {
		ei, extractor := ei, extractor
		for ci, part := range chunks {
			ci, part := ci, part
			g.Go(func() error {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-gctx.Done():
					return gctx.Err()
				}
				entries, err := extractor.Extract(ectx, part)
				if err != nil {
					return err
				}
				results[ei][ci] = entries
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]Entry, len(r.Extractors))
	for ei, extractor := range r.Extractors {
		out[extractor.Database()] = mergeChunks(results[ei])
	}
	return out, nil
}

// chunk splits changes into at most n roughly-equal, order-preserving
// slices; extractors are pure per-change, so any split is valid.
func chunk(changes []DocumentChange, n int) [][]DocumentChange {
	if n <= 1 || len(changes) <= 1 {
		return [][]DocumentChange{changes}
	}
	size := (len(changes) + n - 1) / n
	var out [][]DocumentChange
	for i := 0; i < len(changes); i += size {
		end := i + size
		if end > len(changes) {
			end = len(changes)
		}
		out = append(out, changes[i:end])
	}
	return out
}

// mergeChunks k-way merges already-sorted per-chunk entry slices,
// coalescing equal keys with DelAdd.Merge via an LRU cache so that hot
// keys (touched repeatedly in nearby chunks) get folded into one entry
// without holding the full key set in memory at once. Keys evicted under
// cache pressure are flushed to the output immediately rather than
// dropped: the indexer driver applies every (key, DelAdd) entry for a
// given key to the store in order, so a key appearing as several
// unmerged entries is still correct, just less compacted.
func mergeChunks(chunks [][]Entry) []Entry {
	var out []Entry
	cache, _ := lru.NewWithEvict[string, codec.DelAdd](mergeCacheSize, func(key string, d codec.DelAdd) {
		out = append(out, Entry{Key: []byte(key), Delta: d})
	})

	for _, part := range chunks {
		for _, e := range part {
			key := string(e.Key)
			if existing, ok := cache.Get(key); ok {
				existing.Merge(e.Delta)
				cache.Add(key, existing)
				continue
			}
			cache.Add(key, e.Delta)
		}
	}
	cache.Purge()

	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out
}
