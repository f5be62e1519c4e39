// Package verifier turns downloaded blocks into blocks ready to be stored:
// it checks that a batch extends the chain and derives the values the chain
// store keeps for every block.
package verifier

import (
	"github.com/pkg/errors"
	"github.com/ringchain/ringd/domain/chain/model"
)

// ChainTip is the top of the chain a batch must extend.
type ChainTip struct {
	// Height is the height the next block will have.
	Height               uint64
	TopHash              model.Hash
	CumulativeDifficulty model.Difficulty
}

// Verifier checks batches of blocks against a chain tip.
type Verifier struct {
	oracle DifficultyOracle
}

// New returns a Verifier taking block difficulties from oracle.
func New(oracle DifficultyOracle) *Verifier {
	return &Verifier{oracle: oracle}
}

// VerifyBatch checks that blocks form a chain on top of tip and returns
// them as verified blocks. Nothing is returned if any block fails.
func (v *Verifier) VerifyBatch(tip *ChainTip, blocks []*model.BlockWithTxs) ([]*model.VerifiedBlock, error) {
	verified := make([]*model.VerifiedBlock, 0, len(blocks))
	prevID := tip.TopHash
	cumulativeDifficulty := tip.CumulativeDifficulty
	keyImages := make(map[model.Hash]struct{})

	for i, entry := range blocks {
		height := tip.Height + uint64(i)
		verifiedBlock, err := v.verifyBlock(entry, height, prevID, cumulativeDifficulty, keyImages)
		if err != nil {
			return nil, err
		}
		verified = append(verified, verifiedBlock)
		prevID = verifiedBlock.Hash
		cumulativeDifficulty = verifiedBlock.CumulativeDifficulty
	}
	log.Tracef("Verified %d blocks starting at height %d", len(verified), tip.Height)
	return verified, nil
}

// VerifyGenesis derives the verified form of a genesis block.
func (v *Verifier) VerifyGenesis(genesis *model.Block) (*model.VerifiedBlock, error) {
	return v.verifyBlock(&model.BlockWithTxs{Block: genesis}, 0, model.ZeroHash, model.Difficulty{},
		make(map[model.Hash]struct{}))
}

func (v *Verifier) verifyBlock(entry *model.BlockWithTxs, height uint64, prevID model.Hash,
	prevCumulativeDifficulty model.Difficulty, keyImages map[model.Hash]struct{}) (*model.VerifiedBlock, error) {

	block := entry.Block
	blockHash := block.Hash()
	if block.Header.PrevID != prevID {
		return nil, errors.Wrapf(ErrWrongPrevID, "block %s at height %d builds on %s instead of %s",
			blockHash, height, block.Header.PrevID, prevID)
	}
	claimedHeight, ok := block.Number()
	if !ok {
		return nil, errors.Wrapf(ErrNoCoinbase, "block %s", blockHash)
	}
	if claimedHeight != height {
		return nil, errors.Wrapf(ErrWrongHeight, "block %s claims height %d but is at %d",
			blockHash, claimedHeight, height)
	}
	if len(entry.Txs) != len(block.TxHashes) {
		return nil, errors.Wrapf(ErrTxCountMismatch, "block %s lists %d transactions but %d were given",
			blockHash, len(block.TxHashes), len(entry.Txs))
	}

	weight := uint64(len(block.MinerTx.Blob()))
	var fees uint64
	txs := make([]*model.VerifiedTransaction, 0, len(entry.Txs))
	for i, tx := range entry.Txs {
		txHash := tx.Hash()
		if txHash != block.TxHashes[i] {
			return nil, errors.Wrapf(ErrTxHashMismatch, "block %s transaction %d is %s instead of %s",
				blockHash, i, txHash, block.TxHashes[i])
		}
		if tx.IsCoinbase() {
			return nil, errors.Wrapf(ErrCoinbaseInBody, "block %s transaction %s", blockHash, txHash)
		}
		for _, input := range tx.Inputs {
			if input.Type != model.InputToKey {
				continue
			}
			if _, ok := keyImages[input.KeyImage]; ok {
				return nil, errors.Wrapf(ErrDuplicateKeyImage, "key image %s in transaction %s",
					input.KeyImage, txHash)
			}
			keyImages[input.KeyImage] = struct{}{}
		}
		fee, err := tx.Fee()
		if err != nil {
			return nil, errors.Wrapf(ErrBadFee, "transaction %s: %s", txHash, err)
		}
		txWeight := uint64(len(tx.Blob()))
		weight += txWeight
		fees += fee
		txs = append(txs, &model.VerifiedTransaction{Tx: tx, Hash: txHash, Weight: txWeight, Fee: fee})
	}

	var reward uint64
	for _, output := range block.MinerTx.Outputs {
		reward += output.Amount
	}
	var generatedCoins uint64
	if reward > fees {
		generatedCoins = reward - fees
	}

	difficulty, err := v.oracle.NextDifficulty(height)
	if err != nil {
		return nil, err
	}
	return &model.VerifiedBlock{
		Block:                block,
		Hash:                 blockHash,
		Height:               height,
		GeneratedCoins:       generatedCoins,
		Weight:               weight,
		LongTermWeight:       weight,
		CumulativeDifficulty: prevCumulativeDifficulty.Add(difficulty),
		Txs:                  txs,
	}, nil
}
