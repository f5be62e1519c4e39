package model

import (
	"math/big"
	"math/bits"
)

// Difficulty is an unsigned 128 bit cumulative difficulty.
type Difficulty struct {
	Lo, Hi uint64
}

// DifficultyFromUint64 widens d.
func DifficultyFromUint64(d uint64) Difficulty {
	return Difficulty{Lo: d}
}

// Add returns d+other, saturating at the maximum value.
func (d Difficulty) Add(other Difficulty) Difficulty {
	lo, carry := bits.Add64(d.Lo, other.Lo, 0)
	hi, overflow := bits.Add64(d.Hi, other.Hi, carry)
	if overflow != 0 {
		return Difficulty{Lo: ^uint64(0), Hi: ^uint64(0)}
	}
	return Difficulty{Lo: lo, Hi: hi}
}

// Cmp returns -1, 0 or 1 when d is less than, equal to or greater than other.
func (d Difficulty) Cmp(other Difficulty) int {
	switch {
	case d.Hi < other.Hi:
		return -1
	case d.Hi > other.Hi:
		return 1
	case d.Lo < other.Lo:
		return -1
	case d.Lo > other.Lo:
		return 1
	}
	return 0
}

// IsZero reports whether d is zero.
func (d Difficulty) IsZero() bool {
	return d.Lo == 0 && d.Hi == 0
}

func (d Difficulty) String() string {
	v := new(big.Int).SetUint64(d.Hi)
	v.Lsh(v, 64)
	v.Or(v, new(big.Int).SetUint64(d.Lo))
	return v.String()
}
