package equihash

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func mustDecodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("decoding %q: %v", s, err)
	}
	return b
}

// Vectors below are the canonical expand/compress pairs used across
// Equihash reference implementations to pin down bit-packing edge
// cases: full-width accumulation, byte_pad > 0, and bit_len values
// that don't divide evenly into bytes.
func expandCompressVectors(t *testing.T) []struct {
	bitLen, bytePad   int
	compact, expanded []byte
} {
	return []struct {
		bitLen, bytePad   int
		compact, expanded []byte
	}{
		{11, 0, mustDecodeHex(t, "ffffffffffffffffffffff"), mustDecodeHex(t, "07ff07ff07ff07ff07ff07ff07ff07ff")},
		{21, 0, mustDecodeHex(t, "aaaaad55556aaaab55555aaaaad55556aaaab55555"), mustDecodeHex(t, "155555155555155555155555155555155555155555155555")},
		{21, 0, mustDecodeHex(t, "000220000a7ffffe00123022b38226ac19bdf23456"), mustDecodeHex(t, "0000440000291fffff0001230045670089ab00cdef123456")},
		{14, 0, mustDecodeHex(t, "cccf333cccf333cccf333cccf333cccf333cccf333cccf333cccf333"), mustDecodeHex(t, "3333333333333333333333333333333333333333333333333333333333333333")},
		{11, 2, mustDecodeHex(t, "ffffffffffffffffffffff"), mustDecodeHex(t, "000007ff000007ff000007ff000007ff000007ff000007ff000007ff000007ff")},
	}
}

func TestExpandArrayVectors(t *testing.T) {
	for i, v := range expandCompressVectors(t) {
		got, err := ExpandArray(v.compact, len(v.expanded), v.bitLen, v.bytePad)
		if err != nil {
			t.Fatalf("vector %d: %v", i, err)
		}
		if !bytes.Equal(got, v.expanded) {
			t.Fatalf("vector %d: got %x, want %x", i, got, v.expanded)
		}
	}
}

func TestCompactArrayVectors(t *testing.T) {
	for i, v := range expandCompressVectors(t) {
		got, err := CompactArray(v.expanded, len(v.compact), v.bitLen, v.bytePad)
		if err != nil {
			t.Fatalf("vector %d: %v", i, err)
		}
		if !bytes.Equal(got, v.compact) {
			t.Fatalf("vector %d: got %x, want %x", i, got, v.compact)
		}
	}
}

func TestExpandCompactRoundTrip(t *testing.T) {
	for i, v := range expandCompressVectors(t) {
		expanded, err := ExpandArray(v.compact, len(v.expanded), v.bitLen, v.bytePad)
		if err != nil {
			t.Fatalf("vector %d: expand: %v", i, err)
		}
		compact, err := CompactArray(expanded, len(v.compact), v.bitLen, v.bytePad)
		if err != nil {
			t.Fatalf("vector %d: compact: %v", i, err)
		}
		if !bytes.Equal(compact, v.compact) {
			t.Fatalf("vector %d: round-trip mismatch, got %x, want %x", i, compact, v.compact)
		}
	}
}

func TestExpandArrayRejectsSmallBitLen(t *testing.T) {
	if _, err := ExpandArray([]byte{0xff}, 1, 7, 0); err == nil {
		t.Fatal("expected error for bit_len < 8")
	}
}

func TestExpandArrayRejectsBadOutLen(t *testing.T) {
	if _, err := ExpandArray([]byte{0xff, 0xff}, 999, 11, 0); err == nil {
		t.Fatal("expected error for mismatched out_len")
	}
}

func TestIndicesFromMinimalRoundTrip(t *testing.T) {
	bitLen := 9 // collision_length(8) + 1
	// Eight 9-bit indices fill exactly 9 bytes; a count whose bits do not
	// fill whole bytes has no exact compact form.
	indices := []int{0, 1, 255, 256, 511, 2, 300, 510}

	compact, err := CompactIndicesToMinimal(indices, bitLen)
	if err != nil {
		t.Fatal(err)
	}
	got, err := GetIndicesFromMinimal(compact, bitLen)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(indices) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(indices))
	}
	for i := range indices {
		if got[i] != indices[i] {
			t.Fatalf("index %d: got %d, want %d", i, got[i], indices[i])
		}
	}
}
