package index

// Tuning constants for prefix and facet tree maintenance (spec §3, §4.7).
// Values aren't pinned by spec.md or the retrieved original_source/
// slice; chosen to match milli's published defaults where recalled and
// recorded as an open-question decision in DESIGN.md.
const (
	// MaxPrefixLen bounds how long a prefix can be before it stops being
	// worth maintaining a dedicated prefix_docids entry for.
	MaxPrefixLen = 4

	// PrefixCountThreshold is the minimum number of distinct words a
	// prefix must cover before it earns a prefix_docids entry.
	PrefixCountThreshold = 100

	// FacetGroupSize is how many consecutive entries of level k are
	// grouped into one entry of level k+1 in the facet balanced tree.
	FacetGroupSize = 4

	// FacetMinLevelSize is the entry count below which the facet tree
	// stops growing additional levels.
	FacetMinLevelSize = 5
)
