package extract

import (
	"encoding/json"

	"github.com/searchcore/searchcore/internal/codec"
	"github.com/searchcore/searchcore/internal/tokenize"
)

// WordDocidsExtractor populates word_docids: for every distinct lemma
// touched by a change, remove the doc from the old side and add it on
// the new side.
type WordDocidsExtractor struct{}

func (WordDocidsExtractor) Database() string { return "word_docids" }

func (WordDocidsExtractor) Extract(ctx *Context, changes []DocumentChange) ([]Entry, error) {
	s := newSink()
	for _, c := range changes {
		forEachSearchableWord(ctx, c.Old, func(t tokenize.Token) {
			s.remove([]byte(t.Lemma), c.InternalID)
		})
		forEachSearchableWord(ctx, c.New, func(t tokenize.Token) {
			s.add([]byte(t.Lemma), c.InternalID)
		})
	}
	return s.sorted(), nil
}

// ExactWordDocidsExtractor populates exact_word_docids: same change
// shape as WordDocidsExtractor, over every searchable field. No
// per-field exactness setting is applied: every extractor receives the
// same Context, so this database holds the same words as word_docids.
type ExactWordDocidsExtractor struct{}

func (ExactWordDocidsExtractor) Database() string { return "exact_word_docids" }

func (ExactWordDocidsExtractor) Extract(ctx *Context, changes []DocumentChange) ([]Entry, error) {
	s := newSink()
	for _, c := range changes {
		forEachSearchableWord(ctx, c.Old, func(t tokenize.Token) {
			s.remove([]byte(t.Lemma), c.InternalID)
		})
		forEachSearchableWord(ctx, c.New, func(t tokenize.Token) {
			s.add([]byte(t.Lemma), c.InternalID)
		})
	}
	return s.sorted(), nil
}

// WordFidDocidsExtractor populates word_fid_docids, keyed by
// StrBEU16(word, field_id).
type WordFidDocidsExtractor struct{}

func (WordFidDocidsExtractor) Database() string { return "word_fid_docids" }

func (WordFidDocidsExtractor) Extract(ctx *Context, changes []DocumentChange) ([]Entry, error) {
	s := newSink()
	for _, c := range changes {
		forEachSearchableWord(ctx, c.Old, func(t tokenize.Token) {
			s.remove(codec.EncodeStrBEU16(t.Lemma, t.FieldID), c.InternalID)
		})
		forEachSearchableWord(ctx, c.New, func(t tokenize.Token) {
			s.add(codec.EncodeStrBEU16(t.Lemma, t.FieldID), c.InternalID)
		})
	}
	return s.sorted(), nil
}

// WordPositionDocidsExtractor populates word_position_docids, keyed by
// StrBEU16(word, normalized_position).
type WordPositionDocidsExtractor struct{}

func (WordPositionDocidsExtractor) Database() string { return "word_position_docids" }

func (WordPositionDocidsExtractor) Extract(ctx *Context, changes []DocumentChange) ([]Entry, error) {
	s := newSink()
	for _, c := range changes {
		forEachSearchableWord(ctx, c.Old, func(t tokenize.Token) {
			s.remove(codec.EncodeStrBEU16(t.Lemma, t.NormalizedPosition), c.InternalID)
		})
		forEachSearchableWord(ctx, c.New, func(t tokenize.Token) {
			s.add(codec.EncodeStrBEU16(t.Lemma, t.NormalizedPosition), c.InternalID)
		})
	}
	return s.sorted(), nil
}

// WordPairProximityDocidsExtractor populates word_pair_proximity_docids:
// for each pair of words within a field whose normalized positions are 1
// to maxProximity apart, key on U8StrStr(distance, w1, w2) with w1/w2
// ordered lexicographically so (a,b) and (b,a) share one entry.
type WordPairProximityDocidsExtractor struct{}

func (WordPairProximityDocidsExtractor) Database() string { return "word_pair_proximity_docids" }

func (WordPairProximityDocidsExtractor) Extract(ctx *Context, changes []DocumentChange) ([]Entry, error) {
	s := newSink()
	for _, c := range changes {
		emitPairs(ctx, c.Old, c.InternalID, s.remove)
		emitPairs(ctx, c.New, c.InternalID, s.add)
	}
	return s.sorted(), nil
}

// maxProximity is the largest distance recorded; pairs further apart are
// not recorded at all (spec §3: "1 <= prox <= 7; hard separators add 8
// to the distance").
const maxProximity = 8

func emitPairs(ctx *Context, doc map[uint16]json.RawMessage, docID uint32, record func(key []byte, docID uint32)) {
	perField := map[uint16][]tokenize.Token{}
	for fieldID, raw := range doc {
		md := ctx.Fields.Metadata(fieldID)
		if !md.Searchable {
			continue
		}
		for _, t := range ctx.Tokenizer.TokenizeValue(fieldID, raw) {
			perField[fieldID] = append(perField[fieldID], tokenize.Token{FieldID: t.FieldID, NormalizedPosition: t.NormalizedPosition, Lemma: t.Lemma})
		}
	}
	for _, tokens := range perField {
		for i := 0; i < len(tokens); i++ {
			for j := i + 1; j < len(tokens); j++ {
				dist := int(tokens[j].NormalizedPosition) - int(tokens[i].NormalizedPosition)
				if dist <= 0 || dist > maxProximity {
					continue
				}
				w1, w2 := tokens[i].Lemma, tokens[j].Lemma
				if w2 < w1 {
					w1, w2 = w2, w1
				}
				record(codec.EncodeU8StrStr(uint8(dist), w1, w2), docID)
			}
		}
	}
}
