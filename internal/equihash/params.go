// Package equihash implements a verifier for the Equihash proof-of-work
// generalized birthday problem, as used by the Zcash/BTG family of
// parameter sets. It validates a (header, nonce, solution) triple
// against (n, k, person) parameters; it does not search for solutions.
package equihash

import (
	"encoding/binary"
	"fmt"
)

// Params holds the Equihash parameter triple (n, k, person). n is the
// GBP hash width in bits, k is the number of XOR-reduction rounds, and
// person is the 8-byte ASCII domain-separation tag mixed into the
// Blake2b personalization field.
type Params struct {
	N      int
	K      int
	Person [8]byte
}

// NewParams builds a Params from an n/k pair and an 8-byte ASCII
// person string. It does not validate; call Validate for that.
func NewParams(n, k int, person string) (Params, error) {
	var p Params
	if len(person) != 8 {
		return p, fmt.Errorf("person must be exactly 8 bytes, got %d", len(person))
	}
	p.N, p.K = n, k
	copy(p.Person[:], person)
	return p, nil
}

// Validate checks the parameter constraints required by the reduction
// and the bit-packer before any hashing is attempted.
func (p Params) Validate() error {
	if p.N <= 0 || p.K <= 0 {
		return fmt.Errorf("n and k must be positive, got n=%d k=%d", p.N, p.K)
	}
	if p.K >= p.N {
		return fmt.Errorf("k (%d) must be less than n (%d)", p.K, p.N)
	}
	if p.CollisionLength()+1 >= 32 {
		return fmt.Errorf("n/(k+1)+1 must be < 32, got %d", p.CollisionLength()+1)
	}
	cl := p.CollisionLength()
	if cl < 8 || cl > 25 {
		return fmt.Errorf("collision length must be in [8,25], got %d", cl)
	}
	if p.N%8 != 0 {
		return fmt.Errorf("n (%d) must be a multiple of 8", p.N)
	}
	return nil
}

// CollisionLength returns the number of bits that must match between
// sibling rows at each reduction round: n/(k+1).
func (p Params) CollisionLength() int {
	return p.N / (p.K + 1)
}

// HashLength returns the byte width of an expanded step row:
// (k+1) * ceil(collision_length/8).
func (p Params) HashLength() int {
	cl := p.CollisionLength()
	return (p.K + 1) * ((cl + 7) / 8)
}

// IndicesPerHash returns how many GBP indices are packed into a single
// Blake2b digest: 512/n.
func (p Params) IndicesPerHash() int {
	return 512 / p.N
}

// SolutionWidth returns the exact byte length of the compact,
// bit-packed solution: (2^k * (collision_length+1)) / 8.
func (p Params) SolutionWidth() int {
	return (1 << uint(p.K)) * (p.CollisionLength() + 1) / 8
}

// DigestLen returns the Blake2b output length in bytes used to derive
// step rows: floor(512/n) * floor(n/8).
func (p Params) DigestLen() int {
	return (512 / p.N) * (p.N / 8)
}

// SolutionCount returns the number of indices a solution carries: 2^k.
func (p Params) SolutionCount() int {
	return 1 << uint(p.K)
}

// personalization builds the 16-byte Blake2b personalization field:
// the 8-byte person tag followed by n and k as little-endian uint32s.
func (p Params) personalization() [16]byte {
	var out [16]byte
	copy(out[:8], p.Person[:])
	binary.LittleEndian.PutUint32(out[8:12], uint32(p.N))
	binary.LittleEndian.PutUint32(out[12:16], uint32(p.K))
	return out
}
