package equihash

import (
	"bytes"
	"sort"
	"testing"
)

// bruteForceSolve runs Wagner's generalized-birthday search over the
// full index domain for small parameters, reusing the same
// collision/xor/union primitives the verifier checks against. It
// exists only to produce a solution that reduceRows and finalCheck
// are guaranteed to accept, for an end-to-end VALID test without a
// pre-mined vector on hand.
func bruteForceSolve(t *testing.T, h *Hasher, p Params) []int {
	t.Helper()

	cl := p.CollisionLength()
	hashLen := p.HashLength()
	domain := 1 << uint(cl+1)

	type row struct {
		hash    []byte
		indices []int
	}

	rows := make([]row, domain)
	for i := 0; i < domain; i++ {
		raw, err := h.RawHash(i)
		if err != nil {
			t.Fatal(err)
		}
		expanded, err := ExpandArray(raw, hashLen, cl, 0)
		if err != nil {
			t.Fatal(err)
		}
		rows[i] = row{hash: expanded, indices: []int{i}}
	}

	for round := 1; round <= p.K; round++ {
		sort.Slice(rows, func(i, j int) bool {
			return bytes.Compare(rows[i].hash, rows[j].hash) < 0
		})

		var next []row
		for i := 0; i < len(rows); {
			j := i + 1
			for j < len(rows) && hasCollision(rows[i].hash, rows[j].hash, round, cl) {
				j++
			}
			for a := i; a < j; a++ {
				for b := a + 1; b < j; b++ {
					lo, hi := rows[a], rows[b]
					if lo.indices[0] > hi.indices[0] {
						lo, hi = hi, lo
					}
					if !distinctIndexSets(lo.indices, hi.indices) {
						continue
					}
					next = append(next, row{
						hash:    xorBytes(lo.hash, hi.hash),
						indices: mergeIndices(lo.indices, hi.indices),
					})
				}
			}
			i = j
		}
		rows = next
	}

	for _, r := range rows {
		if countLeadingZeroBits(r.hash) == 8*hashLen {
			return r.indices
		}
	}
	t.Fatal("brute force search found no solution for the given header/nonce")
	return nil
}

func TestVerifyAcceptsBruteForcedSolution(t *testing.T) {
	p := mustParams(t, 64, 7, "ZcashPoW")

	header := make([]byte, 108)
	for i := range header {
		header[i] = byte(i * 7)
	}
	var nonce [32]byte
	for i := range nonce {
		nonce[i] = byte(i * 3)
	}

	h, err := NewHasher(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Seed(header, nonce); err != nil {
		t.Fatal(err)
	}

	indices := bruteForceSolve(t, h, p)
	if len(indices) != p.SolutionCount() {
		t.Fatalf("solution has %d indices, want %d", len(indices), p.SolutionCount())
	}

	solution, err := CompactIndicesToMinimal(indices, p.CollisionLength()+1)
	if err != nil {
		t.Fatal(err)
	}
	if len(solution) != p.SolutionWidth() {
		t.Fatalf("compacted solution is %d bytes, want %d", len(solution), p.SolutionWidth())
	}

	result := Verify(p, header, nonce[:], solution)
	if !result.Valid {
		t.Fatalf("expected VALID, got INVALID(%q)", result.Reason)
	}
}

func TestVerifyRejectsFlippedBit(t *testing.T) {
	p := mustParams(t, 96, 5, "ZcashPoW")

	header := make([]byte, 108)
	for i := range header {
		header[i] = byte(i * 11)
	}
	var nonce [32]byte
	for i := range nonce {
		nonce[i] = byte(i * 5)
	}

	h, err := NewHasher(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Seed(header, nonce); err != nil {
		t.Fatal(err)
	}

	indices := bruteForceSolve(t, h, p)
	solution, err := CompactIndicesToMinimal(indices, p.CollisionLength()+1)
	if err != nil {
		t.Fatal(err)
	}

	flipped := append([]byte(nil), solution...)
	flipped[0] ^= 0x01

	result := Verify(p, header, nonce[:], flipped)
	if result.Valid {
		t.Fatal("flipping a solution bit should invalidate it")
	}
}
