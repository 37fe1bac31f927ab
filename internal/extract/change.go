// Package extract implements the pure, parallel transforms that turn a
// stream of document changes into sorted (key, DelAdd) chunks, one stream
// per target database (spec §4.5).
package extract

import "encoding/json"

// Kind discriminates the three shapes a DocumentChange can take.
type Kind int

const (
	Insertion Kind = iota
	Update
	Deletion
)

// DocumentChange is one entry in the stream extractors consume. Old and
// New map field ids to the raw JSON leaf value stored under that field;
// both are flattened (dotted-path) leaves, never nested objects/arrays.
// Old is nil for Insertion, New is nil for Deletion.
type DocumentChange struct {
	Kind       Kind
	InternalID uint32
	ExternalID string
	Old        map[uint16]json.RawMessage
	New        map[uint16]json.RawMessage
}
