package model

import (
	"encoding/hex"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// HashSize is the size of block ids, tx ids, keys and key images.
const HashSize = 32

// Hash is a 32 byte identifier.
type Hash [HashSize]byte

// ZeroHash is the hash with every byte set to zero.
var ZeroHash Hash

// String returns the hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h equals ZeroHash.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// NewHashFromString decodes a 64 character hex string.
func NewHashFromString(s string) (Hash, error) {
	var h Hash
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return h, errors.Wrapf(err, "invalid hash %q", s)
	}
	if len(decoded) != HashSize {
		return h, errors.Errorf("invalid hash length %d, want %d", len(decoded), HashSize)
	}
	copy(h[:], decoded)
	return h, nil
}

// NewHashFromBytes copies a 32 byte slice into a Hash.
func NewHashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, errors.Errorf("invalid hash length %d, want %d", len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

// Keccak256 returns the legacy (pre-NIST padding) keccak-256 of the
// concatenation of data.
func Keccak256(data ...[]byte) Hash {
	hasher := sha3.NewLegacyKeccak256()
	for _, d := range data {
		hasher.Write(d)
	}
	var h Hash
	hasher.Sum(h[:0])
	return h
}

func hashPair(a, b Hash) Hash {
	return Keccak256(a[:], b[:])
}

// TreeHash returns the merkle root used in block hashing blobs. Leaves that
// don't fit a power of two are paired first, from the tail.
func TreeHash(hashes []Hash) Hash {
	switch len(hashes) {
	case 0:
		return ZeroHash
	case 1:
		return hashes[0]
	case 2:
		return hashPair(hashes[0], hashes[1])
	}

	count := len(hashes)
	width := 1
	for width*2 < count {
		width *= 2
	}

	level := make([]Hash, width)
	untouched := 2*width - count
	copy(level, hashes[:untouched])
	for i, j := untouched, untouched; j < width; i, j = i+2, j+1 {
		level[j] = hashPair(hashes[i], hashes[i+1])
	}
	for width > 2 {
		width /= 2
		for i, j := 0, 0; j < width; i, j = i+2, j+1 {
			level[j] = hashPair(level[i], level[i+1])
		}
	}
	return hashPair(level[0], level[1])
}
