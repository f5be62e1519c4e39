// Package ringct holds the amount commitment helpers the chain store needs.
package ringct

import (
	"encoding/binary"
	"encoding/hex"

	"filippo.io/edwards25519"
	"github.com/ringchain/ringd/domain/chain/model"
)

// generatorHBytes is the second generator H used for amount commitments.
const generatorHBytes = "8b655970153799af2aeadc9ff1add0ea6c7251d54154cfa92c173a0dd39c1f94"

var generatorH = mustDecodePoint(generatorHBytes)

func mustDecodePoint(s string) *edwards25519.Point {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	p, err := new(edwards25519.Point).SetBytes(b)
	if err != nil {
		panic(err)
	}
	return p
}

// ZeroCommit returns the commitment G + amount*H, which hides amount under a
// blinding factor of one. Coinbase outputs of v2 transactions are stored
// with it.
func ZeroCommit(amount uint64) model.Hash {
	var scalarBytes [32]byte
	binary.LittleEndian.PutUint64(scalarBytes[:8], amount)
	scalar, err := edwards25519.NewScalar().SetCanonicalBytes(scalarBytes[:])
	if err != nil {
		// Any value below 2^64 is canonical.
		panic(err)
	}
	amountH := new(edwards25519.Point).ScalarMult(scalar, generatorH)
	commitment := new(edwards25519.Point).Add(edwards25519.NewGeneratorPoint(), amountH)

	var h model.Hash
	copy(h[:], commitment.Bytes())
	return h
}
