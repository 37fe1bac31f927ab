package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// CboThreshold is the maximum cardinality at which the "Compact Bitmap
// Optimization" (CBO) codec stores a bitmap as raw little-endian u32s
// instead of paying the standard roaring container header (spec §4.1).
const CboThreshold = 7

// EncodeRoaring writes the standard roaring serialization of bm.
func EncodeRoaring(bm *roaring.Bitmap) ([]byte, error) {
	if bm == nil {
		bm = roaring.New()
	}
	var buf bytes.Buffer
	if _, err := bm.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("codec: encode roaring bitmap: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRoaring reads the standard roaring serialization.
func DecodeRoaring(data []byte) (*roaring.Bitmap, error) {
	bm := roaring.New()
	if len(data) == 0 {
		return bm, nil
	}
	if _, err := bm.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("codec: decode roaring bitmap: %w", err)
	}
	return bm, nil
}

// bitmapSerializesAsRawU32s reports whether bm is small enough for the CBO
// fast path: at most CboThreshold elements, each written as a raw u32.
func bitmapSerializesAsRawU32s(bm *roaring.Bitmap) bool {
	return bm.GetCardinality() <= CboThreshold
}

// bytesAreRawU32s detects the CBO raw-u32 encoding by length divisibility:
// readers MUST check this before attempting the standard roaring decode,
// since the raw form carries no header (spec §4.1).
func bytesAreRawU32s(data []byte) bool {
	return len(data)%4 == 0 && len(data)/4 <= CboThreshold
}

// EncodeCboRoaring writes bm using the CBO variant: raw little-endian u32s
// when the cardinality is small, else the standard roaring format.
func EncodeCboRoaring(bm *roaring.Bitmap) ([]byte, error) {
	if bm == nil {
		bm = roaring.New()
	}
	if bitmapSerializesAsRawU32s(bm) {
		buf := make([]byte, 0, int(bm.GetCardinality())*4)
		it := bm.Iterator()
		for it.HasNext() {
			var tmp [4]byte
			binary.LittleEndian.PutUint32(tmp[:], it.Next())
			buf = append(buf, tmp[:]...)
		}
		return buf, nil
	}
	return EncodeRoaring(bm)
}

// DecodeCboRoaring reads a CBO-encoded bitmap, detecting the header-less
// raw-u32 form by length divisibility and falling back to the standard
// roaring decode otherwise.
func DecodeCboRoaring(data []byte) (*roaring.Bitmap, error) {
	if len(data) == 0 {
		return roaring.New(), nil
	}
	if bytesAreRawU32s(data) {
		bm := roaring.New()
		for i := 0; i+4 <= len(data); i += 4 {
			bm.Add(binary.LittleEndian.Uint32(data[i : i+4]))
		}
		return bm, nil
	}
	return DecodeRoaring(data)
}

// deltaEncodingStatus is the process-wide, set-once switch gating the
// delta-CBO roaring codec (spec §4.1: "guarded by a process-wide flag
// settable exactly once at startup"). Modeled on a OnceLock: the first
// call to Enable or Disable wins, subsequent calls are no-ops.
type deltaEncodingStatus struct {
	once    sync.Once
	enabled bool
}

var deltaEncodingStatusOnce deltaEncodingStatus

// EnableDeltaEncoding turns on the delta-CBO roaring codec for the
// lifetime of the process. Must be called before any document is indexed;
// later calls (including a later DisableDeltaEncoding) are ignored.
func EnableDeltaEncoding() {
	deltaEncodingStatusOnce.once.Do(func() {
		deltaEncodingStatusOnce.enabled = true
	})
}

// DisableDeltaEncoding keeps the delta-CBO roaring codec switched off
// (the default). Exposed for symmetry and explicit tests; like
// EnableDeltaEncoding, only the first call has any effect.
func DisableDeltaEncoding() {
	deltaEncodingStatusOnce.once.Do(func() {})
}

func deltaEncodingDisabled() bool {
	// Before the first Enable/Disable call the feature defaults to off.
	return !deltaEncodingStatusOnce.enabled
}

// deltaMagic marks the start of a delta-encoded payload so readers can
// distinguish it from a plain CBO payload that happens to share a length.
const deltaMagic = 0xDE

// EncodeDeltaCboRoaring writes bm using the delta-CBO variant when the
// process-wide switch is enabled and the raw-u32 fast path does not apply;
// otherwise it falls back to the plain CBO codec (spec §4.1).
func EncodeDeltaCboRoaring(bm *roaring.Bitmap) ([]byte, error) {
	if bm == nil {
		bm = roaring.New()
	}
	if bitmapSerializesAsRawU32s(bm) || deltaEncodingDisabled() {
		return EncodeCboRoaring(bm)
	}

	values := bm.ToArray()
	buf := make([]byte, 0, 1+len(values)*5)
	buf = append(buf, deltaMagic)
	var prev uint32
	for i, v := range values {
		delta := v
		if i > 0 {
			delta = v - prev
		}
		buf = appendUvarint(buf, uint64(delta))
		prev = v
	}
	return buf, nil
}

// DecodeDeltaCboRoaring accepts both the delta-encoded form (magic byte
// present) and the plain CBO form, falling back automatically when the
// magic byte is absent (spec §4.1: "Readers MUST accept both forms").
func DecodeDeltaCboRoaring(data []byte) (*roaring.Bitmap, error) {
	if len(data) == 0 {
		return roaring.New(), nil
	}
	if data[0] != deltaMagic {
		return DecodeCboRoaring(data)
	}

	bm := roaring.New()
	var prev uint64
	rest := data[1:]
	for len(rest) > 0 {
		delta, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, fmt.Errorf("codec: corrupt delta-cbo roaring payload")
		}
		rest = rest[n:]
		prev += delta
		bm.Add(uint32(prev))
	}
	return bm, nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}
