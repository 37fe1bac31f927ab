package query

import (
	"sort"

	"github.com/agnivade/levenshtein"
)

// deriveWord computes every candidate lexical match for a surface token,
// in the fixed priority order exact, typo (ascending cost), synonym,
// optionally prefix (spec §4.8: "Word{derivations}").
//
// Typo candidates are found by scanning the full word set rather than
// walking a Levenshtein automaton over the FST: vellum's public API (see
// internal/fst) does not expose automaton composition, so a derivation
// budget of 1-2 edits is checked against every indexed word instead. This
// is O(vocabulary size) per query term, acceptable for typo derivation
// which runs once per search rather than per document.
func (p *Parser) deriveWord(text string, isLastToken bool, lex *Lexicon) []Derivation {
	cfg := p.config()
	var out []Derivation

	if lex.Words.Contains(text) {
		out = append(out, Derivation{Text: text, Kind: DerivationExact})
	}

	if budget := cfg.typoBudget(text); budget > 0 && lex.Words != nil {
		var typos []Derivation
		_ = lex.Words.All(func(candidate string) bool {
			if candidate == text {
				return true
			}
			if !withinLengthBand(text, candidate, budget) {
				return true
			}
			dist := levenshtein.ComputeDistance(text, candidate)
			if dist == 0 || dist > budget {
				return true
			}
			kind := DerivationOneTypo
			if dist == 2 {
				kind = DerivationTwoTypo
			}
			typos = append(typos, Derivation{Text: candidate, Kind: kind, TypoCost: dist})
			return true
		})
		sort.SliceStable(typos, func(i, j int) bool { return typos[i].TypoCost < typos[j].TypoCost })
		out = append(out, typos...)
	}

	for _, syn := range cfg.Synonyms[text] {
		if lex.Words.Contains(syn) {
			out = append(out, Derivation{Text: syn, Kind: DerivationSynonym})
		}
	}

	if isLastToken && !cfg.PrefixSearchDisabled && lex.Prefixes != nil && lex.Prefixes.Contains(text) {
		_ = lex.Words.WithPrefix(text, func(candidate string) bool {
			if candidate != text {
				out = append(out, Derivation{Text: candidate, Kind: DerivationPrefix})
			}
			return true
		})
	}

	return out
}

// withinLengthBand rejects candidates whose length already puts them
// outside the edit-distance budget, avoiding a full distance computation
// against every vocabulary word.
func withinLengthBand(a, b string, budget int) bool {
	diff := len(a) - len(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= budget
}
