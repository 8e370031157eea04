package equihash

import (
	"encoding/binary"
	"fmt"

	"github.com/zecpool/equihash-pool/internal/equihash/blake2b"
)

// headerPrefixLen is the number of leading header bytes absorbed
// before the nonce. Bytes [108..140) of a 140-byte header hold the
// embedded nonce.
const (
	headerPrefixLen = 108
	headerWithNonceLen = 140
)

// Hasher is the personalized Blake2b instance seeded with a header
// prefix and nonce, from which per-index GBP rows are derived. It
// caches one digest per index group so that indices sharing a group
// (see Params.IndicesPerHash) are not re-hashed.
type Hasher struct {
	params Params
	seeded *blake2b.Digest
	cache  map[int][]byte
}

// NewHasher constructs the personalized Blake2b base state for p. It
// does not absorb the header yet; call Seed for that.
func NewHasher(p Params) (*Hasher, error) {
	d, err := blake2b.New(p.DigestLen(), p.personalization())
	if err != nil {
		return nil, fmt.Errorf("equihash: building personalized hasher: %w", err)
	}
	return &Hasher{params: p, seeded: d, cache: make(map[int][]byte)}, nil
}

// Seed absorbs the first 108 bytes of header followed by the nonce's
// eight 32-bit words in reverse order, each word read big-endian off
// the wire and re-absorbed little-endian. This word-reversal is
// consensus-relevant and must not be simplified.
func (h *Hasher) Seed(header []byte, nonce [32]byte) error {
	if len(header) < headerPrefixLen {
		return fmt.Errorf("equihash: header too short to seed: %d", len(header))
	}
	if _, err := h.seeded.Write(header[:headerPrefixLen]); err != nil {
		return err
	}
	var word [4]byte
	for i := 7; i >= 0; i-- {
		be := binary.BigEndian.Uint32(nonce[4*i : 4*i+4])
		binary.LittleEndian.PutUint32(word[:], be)
		if _, err := h.seeded.Write(word[:]); err != nil {
			return err
		}
	}
	return nil
}

// groupDigest returns the digest for group g, absorbing g as a
// little-endian uint32 onto a clone of the seeded state. Results are
// cached since every index in the group shares the same digest.
func (h *Hasher) groupDigest(g int) ([]byte, error) {
	if d, ok := h.cache[g]; ok {
		return d, nil
	}
	clone := h.seeded.Clone()
	var gb [4]byte
	binary.LittleEndian.PutUint32(gb[:], uint32(g))
	if _, err := clone.Write(gb[:]); err != nil {
		return nil, err
	}
	digest := clone.Sum(nil)
	h.cache[g] = digest
	return digest, nil
}

// RawHash returns the n/8-byte slice of the group digest for GBP
// index i: the raw, unexpanded hash material for that index.
func (h *Hasher) RawHash(i int) ([]byte, error) {
	ipb := h.params.IndicesPerHash()
	g := i / ipb
	digest, err := h.groupDigest(g)
	if err != nil {
		return nil, err
	}
	bytesPerIndex := h.params.N / 8
	r := i % ipb
	start := r * bytesPerIndex
	return digest[start : start+bytesPerIndex], nil
}

// extractNonce reverses header[108:140) into a 32-byte nonce, as
// described for header-embedded nonces.
func extractNonce(header []byte) ([32]byte, error) {
	var nonce [32]byte
	if len(header) < headerWithNonceLen {
		return nonce, fmt.Errorf("header too short to contain embedded nonce")
	}
	src := header[headerPrefixLen:headerWithNonceLen]
	for i, j := 0, len(src)-1; j >= 0; i, j = i+1, j-1 {
		nonce[i] = src[j]
	}
	return nonce, nil
}
