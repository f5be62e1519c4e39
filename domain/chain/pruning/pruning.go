// Package pruning implements pruning seeds. A pruned node keeps the full
// data of one stripe out of 2^logStripes, where stripes are consecutive runs
// of StripeSize blocks assigned round-robin, plus every block close to the
// chain tip.
package pruning

import "github.com/pkg/errors"

const (
	// LogStripes is the only stripe count exponent in use.
	LogStripes = 3
	// StripeSize is the number of consecutive blocks in one stripe.
	StripeSize = 4096
	// TipBlocks is how many blocks below the tip are never pruned.
	TipBlocks = 5500
	// MaxBlockHeight is the highest height a block may have.
	MaxBlockHeight = 500000000

	logStripesShift = 7
	logStripesMask  = 0x7
	stripeMask      = 0x7f
)

// Seed is the compressed pruning seed advertised by peers. The zero seed
// means the peer is not pruned.
type Seed uint32

// NotPruned is the seed of a node keeping every block.
const NotPruned Seed = 0

// NewSeed compresses stripe (1-based) and logStripes into a Seed.
func NewSeed(stripe, logStripes uint32) (Seed, error) {
	if logStripes != LogStripes {
		return NotPruned, errors.Errorf("unsupported log stripes %d", logStripes)
	}
	if stripe == 0 || stripe > 1<<logStripes {
		return NotPruned, errors.Errorf("stripe %d out of range for log stripes %d", stripe, logStripes)
	}
	return Seed(logStripes<<logStripesShift | (stripe - 1)), nil
}

// LogStripes returns the stripe count exponent, zero when not pruned.
func (s Seed) LogStripes() uint32 {
	return uint32(s) >> logStripesShift & logStripesMask
}

// Stripe returns the 1-based stripe kept by the seed, zero when not pruned.
func (s Seed) Stripe() uint32 {
	if s == NotPruned {
		return 0
	}
	return uint32(s)&stripeMask + 1
}

// IsPruned reports whether s describes a pruned node.
func (s Seed) IsPruned() bool {
	return s != NotPruned
}

// Validate checks that s is either NotPruned or a seed NewSeed could return.
func (s Seed) Validate() error {
	if s == NotPruned {
		return nil
	}
	if uint32(s)&^(logStripesMask<<logStripesShift|stripeMask) != 0 {
		return errors.Errorf("pruning seed %#x has unknown bits set", uint32(s))
	}
	_, err := NewSeed(s.Stripe(), s.LogStripes())
	return errors.Wrapf(err, "invalid pruning seed %#x", uint32(s))
}

// BlockStripe returns the stripe a block at height belongs to on a chain of
// chainHeight blocks, or zero if the block is within TipBlocks of the tip.
func BlockStripe(height, chainHeight uint64, logStripes uint32) uint32 {
	if height+TipBlocks >= chainHeight {
		return 0
	}
	return uint32(height/StripeSize)&(1<<logStripes-1) + 1
}

// HasFullBlock reports whether a node with seed s keeps the full block at
// height on a chain of chainHeight blocks.
func (s Seed) HasFullBlock(height, chainHeight uint64) bool {
	if !s.IsPruned() {
		return true
	}
	blockStripe := BlockStripe(height, chainHeight, s.LogStripes())
	return blockStripe == 0 || blockStripe == s.Stripe()
}

// NextPrunedBlock returns the lowest height at or above height whose full
// block s does not keep. It returns false if there is none below the tip
// window.
func (s Seed) NextPrunedBlock(height, chainHeight uint64) (uint64, bool) {
	if !s.IsPruned() || height+TipBlocks >= chainHeight {
		return 0, false
	}
	if BlockStripe(height, chainHeight, s.LogStripes()) != s.Stripe() {
		return height, true
	}
	next := (height/StripeSize + 1) * StripeSize
	if next+TipBlocks >= chainHeight {
		return 0, false
	}
	return next, true
}

// NextUnprunedBlock returns the lowest height at or above height whose full
// block s keeps.
func (s Seed) NextUnprunedBlock(height, chainHeight uint64) uint64 {
	if !s.IsPruned() || height+TipBlocks >= chainHeight {
		return height
	}
	logStripes := s.LogStripes()
	seedStripe := s.Stripe()
	blockStripe := BlockStripe(height, chainHeight, logStripes)
	if blockStripe == seedStripe {
		return height
	}

	cycle := (height / StripeSize) >> logStripes
	if seedStripe <= blockStripe {
		cycle++
	}
	next := cycle*(StripeSize<<logStripes) + uint64(seedStripe-1)*StripeSize
	if next+TipBlocks > chainHeight {
		if chainHeight < TipBlocks {
			return 0
		}
		return chainHeight - TipBlocks
	}
	return next
}

// ClientHasBlockInRange reports whether a peer with seed s can serve the
// blocks from start to start+length. The check is made against the maximum
// chain height so the tip window does not apply.
func ClientHasBlockInRange(s Seed, start, length uint64) bool {
	return s.HasFullBlock(start, MaxBlockHeight) && s.HasFullBlock(start+length, MaxBlockHeight)
}
