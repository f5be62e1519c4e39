package flowcontext

import (
	"github.com/ringchain/ringd/domain/chain/model"
	"github.com/ringchain/ringd/domain/chainstore"
)

// CompactHistory returns the sparse history of our main chain, top first
// and genesis last, and the cumulative difficulty of our top block.
func (f *FlowContext) CompactHistory() (history []model.Hash, cumulativeDifficulty model.Difficulty, err error) {
	err = f.store.View(func(tx *chainstore.StoreTx) error {
		history, cumulativeDifficulty, err = tx.CompactChainHistory()
		return err
	})
	return history, cumulativeDifficulty, err
}

// FindFirstUnknown returns the index of the first of blockIDs that is not
// on our main chain and the height it would have there.
func (f *FlowContext) FindFirstUnknown(blockIDs []model.Hash) (index int, height uint64, found bool, err error) {
	err = f.store.View(func(tx *chainstore.StoreTx) error {
		index, height, found, err = tx.FindFirstUnknown(blockIDs)
		return err
	})
	return index, height, found, err
}

// CumulativeDifficulty returns the cumulative difficulty of our top block.
func (f *FlowContext) CumulativeDifficulty() (model.Difficulty, error) {
	info, err := f.ChainInfo()
	if err != nil {
		return model.Difficulty{}, err
	}
	return info.CumulativeDifficulty, nil
}

// ChainInfo describes the top of our main chain.
type ChainInfo struct {
	// Height is the number of blocks on the chain.
	Height               uint64
	TopHash              model.Hash
	CumulativeDifficulty model.Difficulty
}

// ChainInfo returns the state of the top of our main chain.
func (f *FlowContext) ChainInfo() (*ChainInfo, error) {
	info := &ChainInfo{}
	err := f.store.View(func(tx *chainstore.StoreTx) error {
		top, err := tx.TopBlockHeight()
		if err != nil {
			return err
		}
		blockInfo, err := tx.BlockInfo(top)
		if err != nil {
			return err
		}
		info.Height = top + 1
		info.TopHash = blockInfo.BlockHash
		info.CumulativeDifficulty = blockInfo.CumulativeDifficulty
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}
