package extract

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/searchcore/searchcore/internal/codec"
	"github.com/searchcore/searchcore/internal/fields"
	"github.com/searchcore/searchcore/internal/tokenize"
)

// Entry is one (key, DelAdd) pair emitted by an extractor, keyed by the
// raw bytes the target database stores under.
type Entry struct {
	Key   []byte
	Delta codec.DelAdd
}

// Context carries the shared, read-only state extractors need: the field
// registry (to know which fields are searchable/filterable) and the
// tokenizer facade.
type Context struct {
	Fields    *fields.Map
	Tokenizer *tokenize.Tokenizer
}

// Extractor is a pure function from a slice of changes to sorted (key,
// DelAdd) entries for one target database. It never reads postings back
// from the store (spec §4.5: "never reads postings").
type Extractor interface {
	Database() string
	Extract(ctx *Context, changes []DocumentChange) ([]Entry, error)
}

// sink accumulates entries keyed by their byte key, merging duplicate
// keys via DelAdd.Merge, mirroring the "thread-local sink with an LRU
// cache to merge entries before spilling" shape (spec §4.5). Since a
// single chunk's working set is bounded by one batch, the sink here is
// an unbounded map; the LRU cache sits one level up, in runner.go, where
// chunk outputs are merged across goroutines.
type sink struct {
	entries map[string]codec.DelAdd
}

func newSink() *sink {
	return &sink{entries: make(map[string]codec.DelAdd)}
}

func (s *sink) remove(key []byte, docID uint32) {
	d := s.entries[string(key)]
	if d.Deleted == nil {
		d = codec.NewDelAdd()
	}
	d.Deleted.Add(docID)
	s.entries[string(key)] = d
}

func (s *sink) add(key []byte, docID uint32) {
	d := s.entries[string(key)]
	if d.Added == nil {
		d = codec.NewDelAdd()
	}
	d.Added.Add(docID)
	s.entries[string(key)] = d
}

func (s *sink) sorted() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for k, d := range s.entries {
		out = append(out, Entry{Key: []byte(k), Delta: d})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out
}

// forEachSearchableWord tokenizes every searchable field of a document
// snapshot (old or new side of a change) and invokes fn for every token
// produced.
func forEachSearchableWord(ctx *Context, doc map[uint16]json.RawMessage, fn func(tok tokenize.Token)) {
	for fieldID, raw := range doc {
		md := ctx.Fields.Metadata(fieldID)
		if !md.Searchable {
			continue
		}
		for _, tok := range ctx.Tokenizer.TokenizeValue(fieldID, raw) {
			fn(tok)
		}
	}
}
