package tokenize

import (
	"encoding/json"
	"sync"
	"unicode"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
)

// MaxWordLength is the byte length above which a token is dropped rather
// than indexed (spec §4.4: "Tokens exceeding MAX_WORD_LENGTH bytes are
// dropped").
const MaxWordLength = 512

// MaxPositionPerAttribute bounds how many normalized positions a single
// field can contribute; the facade stops emitting once reached (spec
// §4.4). normalized_position advances by 1 per word and by 8 across a
// hard-separator crossing, and is stored as part of a u16 word/fid/
// position key elsewhere in the store, so this cap keeps that encoding
// from overflowing.
const MaxPositionPerAttribute = 65535 / 8

// Token is one (field_id, normalized_position, lemma) triple (spec §4.4).
type Token struct {
	FieldID            uint16
	NormalizedPosition uint16
	Lemma              string
}

// Tokenizer turns JSON field values into the triples the extractors
// consume. It owns a stop word set and reuses the code-aware word
// splitter for sub-word boundaries (camelCase, snake_case).
type Tokenizer struct {
	mu        sync.RWMutex
	stopWords map[string]struct{}
	lower     analysis.TokenFilter
}

// New returns a Tokenizer with the given stop word list (case-folded).
func New(stopWords []string) *Tokenizer {
	return &Tokenizer{
		stopWords: BuildStopWordMap(stopWords),
		lower:     lowercase.NewLowerCaseFilter(),
	}
}

// SetStopWords replaces the stop word set, taking effect for every
// tokenization call made after it returns (spec §6 settings key
// `stopWords`: "set of lemmas dropped at index and query time").
func (t *Tokenizer) SetStopWords(stopWords []string) {
	m := BuildStopWordMap(stopWords)
	t.mu.Lock()
	t.stopWords = m
	t.mu.Unlock()
}

// TokenizeValue walks a JSON value (string, number, bool, array, or
// object leaf) and emits the triples for fieldID. Arrays and nested
// objects are expected to have already been flattened to scalar leaves
// by the caller (see internal/fields.DottedPath); TokenizeValue only
// renders the leaf to text and splits it.
func (t *Tokenizer) TokenizeValue(fieldID uint16, value json.RawMessage) []Token {
	text, ok := leafText(value)
	if !ok {
		return nil
	}
	return t.TokenizeText(fieldID, text)
}

// TokenizeText applies word splitting, stop-word filtering, and position
// normalization to raw text for one field. Position tracking mirrors
// milli's field_word_position state machine (original_source/milli/src/
// update/index_documents/extract/searchable/field_word_position.rs
// ~121-125): a single running position advances by 1 between two words
// with no hard separator between them, or by 8 the first time a word
// follows one (crossing field_word_position.rs's `prev_kind` transition
// from separator back to word). Consecutive hard separators collapse
// into that same single +8 jump rather than stacking, since pendingHardSep
// is a flag, not a counter.
func (t *Tokenizer) TokenizeText(fieldID uint16, text string) []Token {
	var out []Token
	pos := 0
	first := true
	pendingHardSep := false

	t.mu.RLock()
	stopWords := t.stopWords
	t.mu.RUnlock()

	for _, sentence := range splitSentences(text) {
		words := tokenRegex.FindAllString(sentence, -1)
		var stream analysis.TokenStream
		for _, word := range words {
			for _, sub := range SplitCodeToken(word) {
				if len(sub) == 0 || len(sub) > MaxWordLength {
					continue
				}
				stream = append(stream, &analysis.Token{Term: []byte(sub)})
			}
		}
		stream = t.lower.Filter(stream)

		for _, tok := range stream {
			lemma := string(tok.Term)
			if _, stop := stopWords[lemma]; stop {
				continue
			}

			switch {
			case first:
				pos = 0
			case pendingHardSep:
				pos += 8
			default:
				pos++
			}
			first = false
			pendingHardSep = false

			if pos > MaxPositionPerAttribute {
				return out
			}
			out = append(out, Token{
				FieldID:            fieldID,
				NormalizedPosition: uint16(pos),
				Lemma:              lemma,
			})
		}
		pendingHardSep = true
	}
	return out
}

// sentenceEnd reports whether r is a hard separator: a character that
// ends a unit of text for position-normalization purposes (spec §4.4:
// "hard separators (e.g. sentence terminators)").
func sentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '\n', '\r':
		return true
	default:
		return false
	}
}

// splitSentences breaks text on hard separators, keeping the pieces in
// order, including empty pieces between consecutive separators; the
// caller sets its pendingHardSep flag once per returned piece boundary
// regardless of whether that piece held any words, so consecutive
// separators still collapse into the single +8 jump applied to the next
// word actually emitted.
func splitSentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if sentenceEnd(r) {
			out = append(out, string(runes[start:i]))
			start = i + 1
		}
	}
	out = append(out, string(runes[start:]))
	return out
}

// leafText renders a JSON scalar leaf to the text the tokenizer
// consumes. Non-scalar values (objects, arrays) are not tokenized
// directly; the transform stage flattens them to dotted leaves first.
func leafText(raw json.RawMessage) (string, bool) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case float64:
		return jsonFloat(val), true
	case bool:
		if val {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}

func jsonFloat(f float64) string {
	buf, _ := json.Marshal(f)
	return string(buf)
}

// Script reports a coarse script classifier for r, used by callers that
// need to decide whether to apply code-aware splitting (Latin scripts)
// or leave a run of characters as a single token (CJK and similar,
// where camelCase/snake_case heuristics do not apply).
func Script(r rune) string {
	switch {
	case unicode.Is(unicode.Han, r):
		return "han"
	case unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
		return "kana"
	case unicode.Is(unicode.Hangul, r):
		return "hangul"
	default:
		return "latin"
	}
}
