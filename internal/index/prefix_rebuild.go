package index

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/searchcore/searchcore/internal/fst"
	"github.com/searchcore/searchcore/internal/store"
)

// rebuildPrefixes implements spec §4.7 step 5: for each prefix up to
// MaxPrefixLen whose covered word count meets PrefixCountThreshold,
// union the covered words' docid bitmaps into prefix_docids; prefixes
// that no longer qualify are deleted; prefix_fst is rebuilt from the
// surviving prefix set (forbidding the empty-string prefix per the
// resolved Open Question).
//
// When the index's prefixSearch setting (spec §6) is "disabled", this
// drops every existing prefix instead of rebuilding them, so a query-time
// prefix lookup against prefix_fst/prefix_docids always misses rather
// than serving stale prefix postings left over from before the setting
// changed.
func (d *Driver) rebuildPrefixes(w *store.WriteTxn) error {
	if d.settings.PrefixSearch == prefixSearchDisabled {
		return d.clearPrefixes(w)
	}

	covered := map[string]*roaring.Bitmap{}
	wordCount := map[string]int{}

	err := d.dbs.WordDocids.IterateW(w, func(word string, docids *roaring.Bitmap) (bool, error) {
		for l := 1; l <= MaxPrefixLen && l <= len(word); l++ {
			p := word[:l]
			wordCount[p]++
			bm, ok := covered[p]
			if !ok {
				bm = roaring.New()
				covered[p] = bm
			}
			bm.Or(docids)
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	qualifying := make([]string, 0, len(covered))
	for p, count := range wordCount {
		if p == "" {
			continue
		}
		if count >= PrefixCountThreshold {
			qualifying = append(qualifying, p)
		}
	}
	sort.Strings(qualifying)

	var stale []string
	err = d.dbs.PrefixDocids.IterateW(w, func(p string, _ *roaring.Bitmap) (bool, error) {
		if wordCount[p] < PrefixCountThreshold {
			stale = append(stale, p)
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	for _, p := range stale {
		if err := d.dbs.PrefixDocids.Delete(w, p); err != nil {
			return err
		}
	}

	for _, p := range qualifying {
		if err := d.dbs.PrefixDocids.Put(w, p, covered[p]); err != nil {
			return err
		}
	}

	blob, err := fst.Build(qualifying)
	if err != nil {
		return err
	}
	return d.dbs.PrefixFstBytes.Put(w, store.FstSentinelKey, blob)
}

// prefixSearchDisabled is the config.Settings.PrefixSearch value that
// turns prefix-index maintenance off entirely (spec §6: "indexingTime or
// disabled").
const prefixSearchDisabled = "disabled"

// clearPrefixes removes every existing prefix_docids entry and writes an
// empty prefix_fst, for when prefixSearch has been switched to "disabled".
func (d *Driver) clearPrefixes(w *store.WriteTxn) error {
	var stale []string
	err := d.dbs.PrefixDocids.IterateW(w, func(p string, _ *roaring.Bitmap) (bool, error) {
		stale = append(stale, p)
		return true, nil
	})
	if err != nil {
		return err
	}
	for _, p := range stale {
		if err := d.dbs.PrefixDocids.Delete(w, p); err != nil {
			return err
		}
	}

	blob, err := fst.Build(nil)
	if err != nil {
		return err
	}
	return d.dbs.PrefixFstBytes.Put(w, store.FstSentinelKey, blob)
}
