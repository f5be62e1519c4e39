package verifier

import "github.com/ringchain/ringd/domain/chain/model"

// DifficultyOracle supplies the difficulty a block at a given height must
// meet. Proof of work itself is checked elsewhere.
type DifficultyOracle interface {
	NextDifficulty(height uint64) (model.Difficulty, error)
}

// FixedDifficulty is a DifficultyOracle returning the same difficulty for
// every height. Test networks and fixtures use it.
type FixedDifficulty model.Difficulty

// NextDifficulty implements DifficultyOracle.
func (d FixedDifficulty) NextDifficulty(uint64) (model.Difficulty, error) {
	return model.Difficulty(d), nil
}
