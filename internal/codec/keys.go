package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// FacetKind distinguishes the payload encoding of a facet group key's left
// bound: numeric facets sort as IEEE754 doubles made byte-comparable,
// string facets sort as raw UTF-8 bytes (spec §4.1).
type FacetKind uint8

const (
	FacetKindNumber FacetKind = iota
	FacetKindString
)

// FacetGroupKey is the sortable key `field_id (u16 BE) || level (u8) ||
// left_bound` used by both the numeric and string facet balanced trees
// (spec §3 facet_f64_docids / facet_string_docids, §4.1).
type FacetGroupKey struct {
	FieldID   uint16
	Level     uint8
	Kind      FacetKind
	Number    float64 // valid when Kind == FacetKindNumber
	StringVal string  // valid when Kind == FacetKindString
}

// EncodeFacetGroupKey produces the byte-comparable key. For numbers this
// flips the sign bit (and all bits, for negatives) of the IEEE754 encoding
// so that unsigned big-endian byte order coincides with numeric order.
func EncodeFacetGroupKey(k FacetGroupKey) []byte {
	buf := make([]byte, 0, 2+1+8)
	var fid [2]byte
	binary.BigEndian.PutUint16(fid[:], k.FieldID)
	buf = append(buf, fid[:]...)
	buf = append(buf, k.Level)

	switch k.Kind {
	case FacetKindNumber:
		buf = append(buf, encodeSortableFloat(k.Number)...)
	case FacetKindString:
		buf = append(buf, []byte(k.StringVal)...)
	}
	return buf
}

// DecodeFacetGroupKey parses a key produced by EncodeFacetGroupKey. The
// caller must indicate which Kind the database holds, since the raw bytes
// alone don't disambiguate an 8-byte string payload from a float payload.
func DecodeFacetGroupKey(data []byte, kind FacetKind) (FacetGroupKey, error) {
	if len(data) < 3 {
		return FacetGroupKey{}, fmt.Errorf("codec: facet group key too short: %d bytes", len(data))
	}
	k := FacetGroupKey{
		FieldID: binary.BigEndian.Uint16(data[0:2]),
		Level:   data[2],
		Kind:    kind,
	}
	rest := data[3:]
	switch kind {
	case FacetKindNumber:
		if len(rest) != 8 {
			return FacetGroupKey{}, fmt.Errorf("codec: facet number payload must be 8 bytes, got %d", len(rest))
		}
		k.Number = decodeSortableFloat([8]byte(rest))
	case FacetKindString:
		k.StringVal = string(rest)
	}
	return k, nil
}

// encodeSortableFloat maps f64 to an 8-byte big-endian encoding whose
// unsigned byte order matches float order (standard "flip sign, or flip
// everything for negatives" trick).
func encodeSortableFloat(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], bits)
	return buf[:]
}

func decodeSortableFloat(buf [8]byte) float64 {
	bits := binary.BigEndian.Uint64(buf[:])
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

// EncodeStrBEU16 produces the `utf8_word || 0x00 || u16 BE` key shared by
// word_position_docids (word, pos) and word_fid_docids (word, fid) (spec
// §4.1 "StrBEU16").
func EncodeStrBEU16(word string, n uint16) []byte {
	buf := make([]byte, 0, len(word)+1+2)
	buf = append(buf, []byte(word)...)
	buf = append(buf, 0x00)
	var tail [2]byte
	binary.BigEndian.PutUint16(tail[:], n)
	return append(buf, tail[:]...)
}

// DecodeStrBEU16 splits a StrBEU16 key back into its word and trailing u16.
func DecodeStrBEU16(data []byte) (word string, n uint16, err error) {
	if len(data) < 3 {
		return "", 0, fmt.Errorf("codec: StrBEU16 key too short: %d bytes", len(data))
	}
	sep := bytes.LastIndexByte(data[:len(data)-2], 0x00)
	if sep < 0 {
		return "", 0, fmt.Errorf("codec: StrBEU16 key missing separator")
	}
	word = string(data[:sep])
	n = binary.BigEndian.Uint16(data[len(data)-2:])
	return word, n, nil
}

// EncodeU8StrStr produces the `proximity (u8) || utf8_word1 || 0x00 ||
// utf8_word2` key used by word_pair_proximity_docids (spec §4.1).
func EncodeU8StrStr(proximity uint8, w1, w2 string) []byte {
	buf := make([]byte, 0, 1+len(w1)+1+len(w2))
	buf = append(buf, proximity)
	buf = append(buf, []byte(w1)...)
	buf = append(buf, 0x00)
	buf = append(buf, []byte(w2)...)
	return buf
}

// DecodeU8StrStr splits a U8StrStr key back into proximity, word1, word2.
func DecodeU8StrStr(data []byte) (proximity uint8, w1, w2 string, err error) {
	if len(data) < 2 {
		return 0, "", "", fmt.Errorf("codec: U8StrStr key too short: %d bytes", len(data))
	}
	proximity = data[0]
	rest := data[1:]
	sep := bytes.IndexByte(rest, 0x00)
	if sep < 0 {
		return 0, "", "", fmt.Errorf("codec: U8StrStr key missing separator")
	}
	w1 = string(rest[:sep])
	w2 = string(rest[sep+1:])
	return proximity, w1, w2, nil
}
