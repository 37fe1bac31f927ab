// Package fields implements the bidirectional field name <-> field id
// mapping every index carries (spec §4.3).
package fields

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MaxFieldID is the largest assignable field id (spec §4.3: "fails when
// the 2^16 - 1 limit is reached").
const MaxFieldID = 1<<16 - 1

// Metadata carries the per-field flags derived from index settings
// (spec §3 "Fields map"): searchable, filterable, sortable, distinct,
// displayed, asc/desc sortable, faceted.
type Metadata struct {
	Searchable bool
	Filterable bool
	Sortable   bool
	Distinct   bool
	Displayed  bool
	Faceted    bool
}

// Map is the ordered name<->id bijection for one index. Dotted names
// (`a.b.c`) represent flattened nested JSON paths; each leaf is one entry.
type Map struct {
	mu        sync.RWMutex
	nameToID  map[string]uint16
	idToName  map[uint16]string
	metadata  map[uint16]Metadata
	nextID    uint32 // uint32 so we can detect overflow past MaxFieldID cleanly
}

// New returns an empty FieldsMap.
func New() *Map {
	return &Map{
		nameToID: make(map[string]uint16),
		idToName: make(map[uint16]string),
		metadata: make(map[uint16]Metadata),
	}
}

// Insert assigns (or returns the existing) field id for name. Idempotent:
// calling Insert twice with the same name returns the same id. Must be
// called only from within a write transaction; readers observe the
// snapshot's map (spec §4.3).
func (m *Map) Insert(name string) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.nameToID[name]; ok {
		return id, nil
	}
	if m.nextID > MaxFieldID {
		return 0, fmt.Errorf("fields: field id space exhausted (limit %d)", MaxFieldID)
	}

	id := uint16(m.nextID)
	m.nextID++
	m.nameToID[name] = id
	m.idToName[id] = name
	return id, nil
}

// ID returns the field id for name, if any.
func (m *Map) ID(name string) (uint16, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.nameToID[name]
	return id, ok
}

// Name returns the field name for id, if any.
func (m *Map) Name(id uint16) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.idToName[id]
	return name, ok
}

// SetMetadata replaces the flags associated with a field id.
func (m *Map) SetMetadata(id uint16, md Metadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[id] = md
}

// Metadata returns the flags for id, or the zero value if unset.
func (m *Map) Metadata(id uint16) Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metadata[id]
}

// WithMetadata returns (name, Metadata) pairs for every field, ordered by
// id, exposing the "with_metadata variant" of spec §4.3.
func (m *Map) WithMetadata() []NamedMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]NamedMetadata, 0, len(m.idToName))
	for id, name := range m.idToName {
		out = append(out, NamedMetadata{ID: id, Name: name, Metadata: m.metadata[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NamedMetadata pairs a field's identity with its flags.
type NamedMetadata struct {
	ID       uint16
	Name     string
	Metadata Metadata
}

// Len returns the number of distinct fields registered.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nameToID)
}

// Clone returns a cheap, independent copy suitable for per-transaction use
// (spec "DESIGN NOTES": "Hold per-transaction by value (cheap clone of
// small structs)").
func (m *Map) Clone() *Map {
	m.mu.RLock()
	defer m.mu.RUnlock()

	clone := &Map{
		nameToID: make(map[string]uint16, len(m.nameToID)),
		idToName: make(map[uint16]string, len(m.idToName)),
		metadata: make(map[uint16]Metadata, len(m.metadata)),
		nextID:   m.nextID,
	}
	for k, v := range m.nameToID {
		clone.nameToID[k] = v
	}
	for k, v := range m.idToName {
		clone.idToName[k] = v
	}
	for k, v := range m.metadata {
		clone.metadata[k] = v
	}
	return clone
}

// DottedPath joins path segments the way nested JSON fields are flattened
// into field names (spec §3: "nested objects are flattened to dotted
// names").
func DottedPath(segments ...string) string {
	return strings.Join(segments, ".")
}

// Flatten recursively walks doc, replacing every nested JSON object leaf
// with its own dotted-path entries so each entry in the result is one
// leaf with no further nested object inside it (spec §3: "nested objects
// are flattened to dotted names so each leaf is one entry"; spec §4.6
// step 1 resolves a primary key by "flat or dotted nested path", which
// this makes a plain map lookup once a document has passed through here).
// Arrays are left as a single leaf untouched: the spec only names nested
// *objects* for flattening, and the tokenizer/extractors operate on
// scalar leaves, not per-element array paths.
func Flatten(doc map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(doc))
	flattenInto(out, "", doc)
	return out
}

func flattenInto(out map[string]json.RawMessage, prefix string, doc map[string]json.RawMessage) {
	for name, raw := range doc {
		path := name
		if prefix != "" {
			path = DottedPath(prefix, name)
		}
		nested, ok := asObject(raw)
		if !ok {
			out[path] = raw
			continue
		}
		flattenInto(out, path, nested)
	}
}

// asObject reports whether raw is a JSON object, decoding it into its
// member map when so. Arrays and scalars return ok=false and are left as
// a single leaf by the caller.
func asObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}
