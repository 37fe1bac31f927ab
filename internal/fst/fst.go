// Package fst wraps blevesearch/vellum's finite state transducer as the
// sorted, compact word and prefix indices the query parser walks (spec
// §3: "words_fst", "prefix_fst").
package fst

import (
	"bytes"
	"errors"
	"sort"

	"github.com/blevesearch/vellum"
)

// Set is an immutable, loaded FST mapping each key to an arbitrary u64
// payload (unused here beyond presence; the postings live in the
// word_docids-family databases keyed by the same bytes).
type Set struct {
	fst *vellum.FST
}

// Build serializes sortedKeys (must already be in strictly increasing
// lexicographic order, as vellum requires) into an FST byte blob.
func Build(sortedKeys []string) ([]byte, error) {
	var buf bytes.Buffer
	builder, err := vellum.New(&buf, nil)
	if err != nil {
		return nil, err
	}
	for i, k := range sortedKeys {
		if i > 0 && k <= sortedKeys[i-1] {
			return nil, errors.New("fst: keys must be strictly increasing")
		}
		if err := builder.Insert([]byte(k), uint64(i)); err != nil {
			return nil, err
		}
	}
	if err := builder.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load reads a previously-built FST blob.
func Load(data []byte) (*Set, error) {
	if len(data) == 0 {
		return &Set{}, nil
	}
	f, err := vellum.Load(data)
	if err != nil {
		return nil, err
	}
	return &Set{fst: f}, nil
}

// Contains reports whether key is present.
func (s *Set) Contains(key string) bool {
	if s == nil || s.fst == nil {
		return false
	}
	_, ok, err := s.fst.Get([]byte(key))
	return err == nil && ok
}

// Len returns the number of keys, or 0 for an empty/nil Set.
func (s *Set) Len() int {
	if s == nil || s.fst == nil {
		return 0
	}
	return int(s.fst.Len())
}

// WithPrefix visits every key starting with prefix, in increasing order,
// stopping early if fn returns false. Implements the §4.1 "StartsWith"
// combinator via vellum's range iterator: the prefix's upper bound is
// the smallest key that is NOT prefixed by it (prefix with its last byte
// incremented, or no upper bound if the prefix is all 0xFF bytes).
func (s *Set) WithPrefix(prefix string, fn func(key string) bool) error {
	if s == nil || s.fst == nil || prefix == "" {
		return nil
	}
	start := []byte(prefix)
	end := prefixUpperBound(start)

	itr, err := s.fst.Iterator(start, end)
	if errors.Is(err, vellum.ErrIteratorDone) {
		return nil
	}
	if err != nil {
		return err
	}
	for err == nil {
		key, _ := itr.Current()
		if !fn(string(key)) {
			break
		}
		err = itr.Next()
	}
	if errors.Is(err, vellum.ErrIteratorDone) {
		return nil
	}
	return err
}

// All visits every key in the set, in increasing order, stopping early if
// fn returns false. Used by typo derivation (query layer), which must
// scan the whole word set for candidates within an edit-distance budget
// since vellum's public API does not expose a Levenshtein automaton.
func (s *Set) All(fn func(key string) bool) error {
	if s == nil || s.fst == nil {
		return nil
	}
	itr, err := s.fst.Iterator(nil, nil)
	if errors.Is(err, vellum.ErrIteratorDone) {
		return nil
	}
	if err != nil {
		return err
	}
	for err == nil {
		key, _ := itr.Current()
		if !fn(string(key)) {
			break
		}
		err = itr.Next()
	}
	if errors.Is(err, vellum.ErrIteratorDone) {
		return nil
	}
	return err
}

// Union visits every key that is prefixed by ANY of prefixes, in
// increasing key order, de-duplicating keys that multiple prefixes
// match (spec §4.1 "Union" combinator, ported from
// fst_utils.rs's Union/StartsWith composition).
func (s *Set) Union(prefixes []string, fn func(key string) bool) error {
	// Walking the prefixes in sorted order keeps the overall key order
	// increasing: a prefix sorting after another either extends it (all
	// its keys were already seen) or starts strictly after all its keys.
	sorted := append([]string(nil), prefixes...)
	sort.Strings(sorted)
	seen := make(map[string]struct{})
	for _, p := range sorted {
		stop := false
		err := s.WithPrefix(p, func(key string) bool {
			if _, dup := seen[key]; dup {
				return true
			}
			seen[key] = struct{}{}
			if !fn(key) {
				stop = true
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}
	return nil
}

// prefixUpperBound returns the smallest byte string that is
// lexicographically greater than every string prefixed by p, or nil
// (meaning "no upper bound") if p consists entirely of 0xFF bytes.
func prefixUpperBound(p []byte) []byte {
	out := make([]byte, len(p))
	copy(out, p)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}
