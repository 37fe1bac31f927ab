package query

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchcore/searchcore/internal/fst"
)

func buildLexicon(t *testing.T, words []string, prefixes []string) *Lexicon {
	t.Helper()
	sort.Strings(words)
	sort.Strings(prefixes)

	wblob, err := fst.Build(words)
	require.NoError(t, err)
	wset, err := fst.Load(wblob)
	require.NoError(t, err)

	pblob, err := fst.Build(prefixes)
	require.NoError(t, err)
	pset, err := fst.Load(pblob)
	require.NoError(t, err)

	return &Lexicon{Words: wset, Prefixes: pset}
}

func wordTerms(q *Query) []WordTerm {
	var out []WordTerm
	for _, term := range q.Terms {
		if w, ok := term.(WordTerm); ok {
			out = append(out, w)
		}
	}
	return out
}

func TestParse_SplitsPlainTextIntoWordTerms(t *testing.T) {
	lex := buildLexicon(t, []string{"hello", "world"}, nil)
	p := NewParser(DefaultConfig(), nil)

	q, err := p.Parse("hello world", lex)
	require.NoError(t, err)

	words := wordTerms(q)
	require.Len(t, words, 2)
	assert.Equal(t, "hello", words[0].Text)
	assert.Equal(t, "world", words[1].Text)
	assert.Equal(t, 0, words[0].Position)
	assert.Equal(t, 1, words[1].Position)
}

func TestParse_QuotedSubstringBecomesPhraseTerm(t *testing.T) {
	lex := buildLexicon(t, []string{"quick", "brown", "fox"}, nil)
	p := NewParser(DefaultConfig(), nil)

	q, err := p.Parse(`"quick brown" fox`, lex)
	require.NoError(t, err)

	require.Len(t, q.Terms, 2)
	phrase, ok := q.Terms[0].(PhraseTerm)
	require.True(t, ok)
	assert.Equal(t, []string{"quick", "brown"}, phrase.Words)

	word, ok := q.Terms[1].(WordTerm)
	require.True(t, ok)
	assert.Equal(t, "fox", word.Text)
}

func TestParse_LastTokenGetsPrefixDerivation(t *testing.T) {
	lex := buildLexicon(t, []string{"application", "apple"}, []string{"app"})
	p := NewParser(DefaultConfig(), nil)

	q, err := p.Parse("app", lex)
	require.NoError(t, err)

	words := wordTerms(q)
	require.Len(t, words, 1)

	var prefixMatches []string
	for _, d := range words[0].Derivations {
		if d.Kind == DerivationPrefix {
			prefixMatches = append(prefixMatches, d.Text)
		}
	}
	assert.ElementsMatch(t, []string{"application", "apple"}, prefixMatches)
}

func TestParse_NonLastTokenGetsNoPrefixDerivation(t *testing.T) {
	lex := buildLexicon(t, []string{"application", "apple", "fox"}, []string{"app"})
	p := NewParser(DefaultConfig(), nil)

	q, err := p.Parse("app fox", lex)
	require.NoError(t, err)

	words := wordTerms(q)
	require.Len(t, words, 2)
	for _, d := range words[0].Derivations {
		assert.NotEqual(t, DerivationPrefix, d.Kind)
	}
}

func TestParse_OneTypoWithinBudget(t *testing.T) {
	lex := buildLexicon(t, []string{"zealand"}, nil)
	cfg := DefaultConfig()
	cfg.MinWordSizeOneTypo = 4
	p := NewParser(cfg, nil)

	q, err := p.Parse("zealnd", lex)
	require.NoError(t, err)

	words := wordTerms(q)
	require.Len(t, words, 1)

	var typoMatches []string
	for _, d := range words[0].Derivations {
		if d.Kind == DerivationOneTypo {
			typoMatches = append(typoMatches, d.Text)
		}
	}
	assert.Contains(t, typoMatches, "zealand")
}

func TestParser_SetConfig_TakesEffectOnNextParse(t *testing.T) {
	lex := buildLexicon(t, []string{"cats"}, nil)
	p := NewParser(DefaultConfig(), nil)

	q, err := p.Parse("cots", lex)
	require.NoError(t, err)
	words := wordTerms(q)
	require.Len(t, words, 1)
	for _, d := range words[0].Derivations {
		assert.NotEqual(t, DerivationOneTypo, d.Kind, "default MinWordSizeOneTypo=5 must not yet permit a typo match on a 4-letter word")
	}

	cfg := DefaultConfig()
	cfg.MinWordSizeOneTypo = 4
	p.SetConfig(cfg, nil)

	q, err = p.Parse("cots", lex)
	require.NoError(t, err)
	words = wordTerms(q)
	require.Len(t, words, 1)
	var typoMatches []string
	for _, d := range words[0].Derivations {
		if d.Kind == DerivationOneTypo {
			typoMatches = append(typoMatches, d.Text)
		}
	}
	assert.Contains(t, typoMatches, "cats", "SetConfig must change typo derivation for the very next Parse call")
}

func TestParse_ExactWordsDisablesTypoDerivation(t *testing.T) {
	lex := buildLexicon(t, []string{"zealand"}, nil)
	cfg := DefaultConfig()
	cfg.MinWordSizeOneTypo = 4
	cfg.ExactWords = map[string]struct{}{"zealnd": {}}
	p := NewParser(cfg, nil)

	q, err := p.Parse("zealnd", lex)
	require.NoError(t, err)

	words := wordTerms(q)
	require.Len(t, words, 1)
	for _, d := range words[0].Derivations {
		assert.NotEqual(t, DerivationOneTypo, d.Kind)
		assert.NotEqual(t, DerivationTwoTypo, d.Kind)
	}
}

func TestParse_SynonymDerivationOnlyWhenSynonymIsIndexed(t *testing.T) {
	lex := buildLexicon(t, []string{"err"}, nil)
	cfg := DefaultConfig()
	cfg.Synonyms = map[string][]string{"error": {"err", "exception"}}
	p := NewParser(cfg, nil)

	q, err := p.Parse("error", lex)
	require.NoError(t, err)

	words := wordTerms(q)
	require.Len(t, words, 1)

	var synonymMatches []string
	for _, d := range words[0].Derivations {
		if d.Kind == DerivationSynonym {
			synonymMatches = append(synonymMatches, d.Text)
		}
	}
	assert.Equal(t, []string{"err"}, synonymMatches, "exception is not indexed, so it must not be proposed")
}

func TestParse_NgramMergeWhenConcatenationIsIndexed(t *testing.T) {
	lex := buildLexicon(t, []string{"ice", "cream", "icecream"}, nil)
	p := NewParser(DefaultConfig(), nil)

	q, err := p.Parse("ice cream", lex)
	require.NoError(t, err)

	var ngrams []NgramTerm
	for _, term := range q.Terms {
		if n, ok := term.(NgramTerm); ok {
			ngrams = append(ngrams, n)
		}
	}
	require.Len(t, ngrams, 1)
	assert.Equal(t, "icecream", ngrams[0].Concat)
}

func TestParse_EmptyQueryYieldsNoTerms(t *testing.T) {
	lex := buildLexicon(t, nil, nil)
	p := NewParser(DefaultConfig(), nil)

	q, err := p.Parse("", lex)
	require.NoError(t, err)
	assert.Empty(t, q.Terms)
}
