package query

import (
	"strings"
	"sync"

	"github.com/searchcore/searchcore/internal/tokenize"
)

// maxNgramWords bounds n-gram merging to 2 and 3 adjacent words (spec
// §4.8: "N-gram (2-gram, 3-gram)").
const maxNgramWords = 3

// Parser turns a raw query string into a Query tree. cfg is guarded by mu
// so a settings-update task can call SetConfig while a search already in
// flight against the same index is still reading it.
type Parser struct {
	mu  sync.RWMutex
	cfg Config
	tok *tokenize.Tokenizer
}

// NewParser builds a Parser that tokenizes query text the same way
// documents are tokenized at index time (spec §4.8 builds on the same
// lemma/position stream the indexer produces), so query-time stop words
// and normalization stay consistent with what was indexed.
func NewParser(cfg Config, stopWords []string) *Parser {
	return &Parser{cfg: cfg, tok: tokenize.New(stopWords)}
}

// SetConfig replaces the typo-tolerance, synonym, and prefix-search
// configuration used by every Parse call made after it returns, and
// replaces the tokenizer's stop word set to match (spec §6: a
// settings-update task must take effect on the next search rather than
// require a freshly constructed Parser). stopWords is the index's current
// stopWords setting.
func (p *Parser) SetConfig(cfg Config, stopWords []string) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	p.tok.SetStopWords(stopWords)
}

func (p *Parser) config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// segment is one maximal run of the raw query string that is either
// entirely inside a double-quoted phrase or entirely outside one.
type segment struct {
	text   string
	phrase bool
}

// Parse produces the query tree for raw against lex. An empty or
// all-stop-word query yields a Query with no terms (the search driver
// then resolves to the full universe per spec §4.10 step 1).
func (p *Parser) Parse(raw string, lex *Lexicon) (*Query, error) {
	segments := splitQuotedSegments(raw)

	var terms []Term
	position := 0
	for segIdx, seg := range segments {
		words := p.lemmasOf(seg.text)
		if len(words) == 0 {
			continue
		}

		if seg.phrase {
			terms = append(terms, PhraseTerm{Words: words, Position: position})
			position += len(words)
			continue
		}

		for i, w := range words {
			isLast := i == len(words)-1 && segIdx == len(segments)-1
			terms = append(terms, WordTerm{
				Text:        w,
				Position:    position,
				Derivations: p.deriveWord(w, isLast, lex),
			})
			position++
		}
		terms = append(terms, p.ngramsOf(words, position-len(words), lex)...)
	}

	return &Query{Terms: terms}, nil
}

// lemmasOf tokenizes one segment the same way a document field is
// tokenized, discarding position/field-id information the query tree
// doesn't need (it tracks its own flat position counter across segments).
func (p *Parser) lemmasOf(text string) []string {
	tokens := p.tok.TokenizeText(0, text)
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Lemma
	}
	return out
}

// ngramsOf opportunistically merges 2 and 3 adjacent words into a single
// term when the concatenation itself is an indexed word (spec §4.8:
// "concatenations merged into a single term when useful").
func (p *Parser) ngramsOf(words []string, basePosition int, lex *Lexicon) []Term {
	var out []Term
	for n := 2; n <= maxNgramWords; n++ {
		for i := 0; i+n <= len(words); i++ {
			group := words[i : i+n]
			concat := strings.Join(group, "")
			if lex.Words != nil && lex.Words.Contains(concat) {
				out = append(out, NgramTerm{
					Words:    append([]string(nil), group...),
					Concat:   concat,
					Position: basePosition + i,
				})
			}
		}
	}
	return out
}

// splitQuotedSegments splits raw on top-level double quotes, alternating
// plain and phrase segments; an unterminated trailing quote is treated
// as a phrase running to the end of the string.
func splitQuotedSegments(raw string) []segment {
	var out []segment
	inPhrase := false
	start := 0
	runes := []rune(raw)
	for i, r := range runes {
		if r != '"' {
			continue
		}
		piece := string(runes[start:i])
		if strings.TrimSpace(piece) != "" || inPhrase {
			out = append(out, segment{text: piece, phrase: inPhrase})
		}
		start = i + 1
		inPhrase = !inPhrase
	}
	tail := string(runes[start:])
	if strings.TrimSpace(tail) != "" || inPhrase {
		out = append(out, segment{text: tail, phrase: inPhrase})
	}
	return out
}
