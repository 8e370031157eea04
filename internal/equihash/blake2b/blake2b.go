// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package blake2b is a BLAKE2b implementation derived from
// golang.org/x/crypto/blake2b with personalization support and a
// configurable digest size, as Equihash's hash expansion step needs
// both: a 16-byte personalization tag per (n, k) parameter set and an
// output width that is not always 32 or 64 bytes.
package blake2b

import (
	"encoding/binary"
	"errors"
	"hash"
)

const (
	// BlockSize is the block size of BLAKE2b in bytes.
	BlockSize = 128
	// Size is the maximum digest size of BLAKE2b in bytes.
	Size = 64
	// PersonSize is the width of the personalization field in bytes.
	PersonSize = 16
)

var iv = [8]uint64{
	0x6a09e667f3bcc908, 0xbb67ae8584caa73b, 0x3c6ef372fe94f82b, 0xa54ff53a5f1d36f1,
	0x510e527fade682d1, 0x9b05688c2b3e6c1f, 0x1f83d9abfb41bd6b, 0x5be0cd19137e2179,
}

// Digest implements hash.Hash and additionally supports cloning,
// which Equihash relies on to seed one hasher per solution index
// from a single header+nonce absorption.
type Digest struct {
	h               [8]uint64
	c               [2]uint64
	sz              int
	block           [BlockSize]byte
	offset          int
	personalization [PersonSize]byte
}

// New returns a hash.Hash computing BLAKE2b with the given digest
// size (1-64 bytes) and 16-byte personalization field. No key or
// salt is supported, matching Equihash's use of Blake2b.
func New(size int, personalization [PersonSize]byte) (*Digest, error) {
	if size < 1 || size > Size {
		return nil, errors.New("blake2b: invalid digest size")
	}
	d := &Digest{sz: size, personalization: personalization}
	d.Reset()
	return d, nil
}

func (d *Digest) BlockSize() int { return BlockSize }
func (d *Digest) Size() int      { return d.sz }

func (d *Digest) Reset() {
	d.h = iv
	d.h[0] ^= uint64(d.sz) | (1 << 16) | (1 << 24)
	d.h[6] ^= binary.LittleEndian.Uint64(d.personalization[:8])
	d.h[7] ^= binary.LittleEndian.Uint64(d.personalization[8:16])
	d.offset, d.c[0], d.c[1] = 0, 0, 0
}

// Clone returns an independent copy of d sharing no state with it.
// Digest has no pointer fields, so a value copy suffices.
func (d *Digest) Clone() *Digest {
	clone := *d
	return &clone
}

func (d *Digest) Write(p []byte) (n int, err error) {
	n = len(p)

	if d.offset > 0 {
		remaining := BlockSize - d.offset
		if n <= remaining {
			d.offset += copy(d.block[d.offset:], p)
			return
		}
		copy(d.block[d.offset:], p[:remaining])
		hashBlocksGeneric(&d.h, &d.c, 0, d.block[:])
		d.offset = 0
		p = p[remaining:]
	}

	if length := len(p); length > BlockSize {
		nn := length &^ (BlockSize - 1)
		if length == nn {
			nn -= BlockSize
		}
		hashBlocksGeneric(&d.h, &d.c, 0, p[:nn])
		p = p[nn:]
	}

	if len(p) > 0 {
		d.offset += copy(d.block[:], p)
	}

	return
}

func (d *Digest) Sum(sum []byte) []byte {
	var hash [Size]byte
	d.finalize(&hash)
	return append(sum, hash[:d.sz]...)
}

func (d *Digest) finalize(hash *[Size]byte) {
	var block [BlockSize]byte
	copy(block[:], d.block[:d.offset])
	remaining := uint64(BlockSize - d.offset)

	c := d.c
	if c[0] < remaining {
		c[1]--
	}
	c[0] -= remaining

	h := d.h
	hashBlocksGeneric(&h, &c, 0xFFFFFFFFFFFFFFFF, block[:])

	for i, v := range h {
		binary.LittleEndian.PutUint64(hash[8*i:], v)
	}
}

var _ hash.Hash = (*Digest)(nil)
