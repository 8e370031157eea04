package equihash

import "fmt"

// Canonical diagnostic reasons, reproduced byte-for-byte since
// consensus callers and tests match against these strings.
const (
	reasonHeaderTooShort   = "Header must be at least 108 long"
	reasonHeaderNoNonce    = "Header must contain nonce"
	reasonBadCollision     = "Invalid solution: invalid collision length between StepRow"
	reasonBadOrdering      = "Invalid solution: Index tree incorrectly ordered"
	reasonDuplicateIndices = "Invalid solution: duplicate indices"
)

func reasonSolutionLength(got, want int) string {
	return fmt.Sprintf("Invalid solution length: %d (expected %d)", got, want)
}

func reasonBadRoundCount(n int) string {
	return fmt.Sprintf("Invalid solution: incorrect length after end of rounds: %d", n)
}

func reasonBadZeroCount(c int) string {
	return fmt.Sprintf("Invalid solution: incorrect number of zeroes: %d", c)
}

// StepRow is a GBP row carried through the reduction: an expanded
// hash and the ordered, deduplicated set of solution indices that
// produced it.
type StepRow struct {
	Hash    []byte
	Indices []int
}

// buildInitialRows computes one StepRow per solution index: the raw
// per-index hash material, expanded to hash_length bytes at
// collision_length bit width with no byte padding.
func buildInitialRows(h *Hasher, p Params, indices []int) ([]StepRow, error) {
	hashLen := p.HashLength()
	cl := p.CollisionLength()
	rows := make([]StepRow, len(indices))
	for pos, idx := range indices {
		raw, err := h.RawHash(idx)
		if err != nil {
			return nil, err
		}
		expanded, err := ExpandArray(raw, hashLen, cl, 0)
		if err != nil {
			return nil, err
		}
		rows[pos] = StepRow{Hash: expanded, Indices: []int{idx}}
	}
	return rows, nil
}

// hasCollision reports whether bytes [(round-1)*collisionLength/8,
// round*collisionLength/8) of a and b are byte-equal.
func hasCollision(a, b []byte, round, collisionLength int) bool {
	start := (round - 1) * collisionLength / 8
	end := round * collisionLength / 8
	for i := start; i < end; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// distinctIndexSets reports whether a and b share no index.
func distinctIndexSets(a, b []int) bool {
	for _, av := range a {
		for _, bv := range b {
			if av == bv {
				return false
			}
		}
	}
	return true
}

// mergeIndices concatenates two disjoint, already-ordered index sets
// preserving first-a-then-b order.
func mergeIndices(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

// xorBytes returns the element-wise XOR of a and b, which must be the
// same length.
func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// reduceRows runs the k-round collision/XOR/union tree over rows,
// returning a reason string on the first violated invariant.
func reduceRows(rows []StepRow, p Params) ([]StepRow, string) {
	cl := p.CollisionLength()
	for round := 1; round <= p.K; round++ {
		if len(rows)%2 != 0 {
			return nil, reasonBadRoundCount(len(rows))
		}
		merged := make([]StepRow, 0, len(rows)/2)
		for j := 0; j+1 < len(rows); j += 2 {
			a, b := rows[j], rows[j+1]

			if !hasCollision(a.Hash, b.Hash, round, cl) {
				return nil, reasonBadCollision
			}
			if !(a.Indices[0] < b.Indices[0]) {
				return nil, reasonBadOrdering
			}
			if !distinctIndexSets(a.Indices, b.Indices) {
				return nil, reasonDuplicateIndices
			}

			merged = append(merged, StepRow{
				Hash:    xorBytes(a.Hash, b.Hash),
				Indices: mergeIndices(a.Indices, b.Indices),
			})
		}
		rows = merged
	}
	if len(rows) != 1 {
		return nil, reasonBadRoundCount(len(rows))
	}
	return rows, ""
}

// countLeadingZeroBits counts leading zero bits of h, padding every
// byte to a full 8 bits before counting (never strip per-byte leading
// zeros the way a naive toBinaryString-style decode would).
func countLeadingZeroBits(h []byte) int {
	for i, v := range h {
		for bit := 0; bit < 8; bit++ {
			mask := byte(1) << uint(7-bit)
			if v&mask != 0 {
				return i*8 + bit
			}
		}
	}
	return len(h) * 8
}

// finalCheck verifies the single surviving row's hash is entirely
// zero, returning a reason string if not.
func finalCheck(rows []StepRow, p Params) string {
	hashLen := p.HashLength()
	zeros := countLeadingZeroBits(rows[0].Hash)
	if zeros != 8*hashLen {
		return reasonBadZeroCount(zeros)
	}
	return ""
}
