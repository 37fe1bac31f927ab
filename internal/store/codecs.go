package store

import (
	"encoding/binary"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/searchcore/searchcore/internal/codec"
)

// U32Key encodes a uint32 internal document id as a 4-byte big-endian key,
// used by the per-document record database.
type U32Key struct{}

func (U32Key) EncodeKey(k uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, k)
	return buf
}

func (U32Key) DecodeKey(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("store: u32 key must be 4 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

// StringKey encodes a string key verbatim (used for words_fst source data
// and settings keys).
type StringKey struct{}

func (StringKey) EncodeKey(k string) []byte        { return []byte(k) }
func (StringKey) DecodeKey(b []byte) (string, error) { return string(b), nil }

// BytesKey passes pre-encoded composite keys (StrBEU16, U8StrStr, facet
// group keys) through unchanged; callers encode with internal/codec before
// calling Put/Get.
type BytesKey struct{}

func (BytesKey) EncodeKey(k []byte) []byte          { return k }
func (BytesKey) DecodeKey(b []byte) ([]byte, error) { return append([]byte(nil), b...), nil }

// RoaringValue stores a *roaring.Bitmap using the plain (non-CBO) codec.
// Used where the caller already merged DelAdd into a final bitmap.
type RoaringValue struct{}

func (RoaringValue) EncodeValue(bm *roaring.Bitmap) ([]byte, error) { return codec.EncodeRoaring(bm) }
func (RoaringValue) DecodeValue(b []byte) (*roaring.Bitmap, error)  { return codec.DecodeRoaring(b) }

// CboRoaringValue stores a *roaring.Bitmap using the CBO codec: the
// default for all word/fid/position/proximity/prefix postings (spec §4.1).
type CboRoaringValue struct{}

func (CboRoaringValue) EncodeValue(bm *roaring.Bitmap) ([]byte, error) {
	return codec.EncodeCboRoaring(bm)
}

func (CboRoaringValue) DecodeValue(b []byte) (*roaring.Bitmap, error) {
	return codec.DecodeCboRoaring(b)
}

// BytesValue passes raw bytes through (document records, settings JSON).
type BytesValue struct{}

func (BytesValue) EncodeValue(b []byte) ([]byte, error) { return b, nil }
func (BytesValue) DecodeValue(b []byte) ([]byte, error) { return append([]byte(nil), b...), nil }
