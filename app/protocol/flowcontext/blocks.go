package flowcontext

import (
	"github.com/pkg/errors"
	"github.com/ringchain/ringd/app/protocol/blockdownloader"
	"github.com/ringchain/ringd/domain/chain/model"
	"github.com/ringchain/ringd/domain/chainstore"
	"github.com/ringchain/ringd/infrastructure/db/database"
)

// ChainEntry returns up to maxIDs ids of our main chain starting at the
// first block of history we have. history is ordered top first, so the
// entry starts at the highest block we share with the peer.
func (f *FlowContext) ChainEntry(history []model.Hash, maxIDs int) (*blockdownloader.ChainEntry, error) {
	entry := &blockdownloader.ChainEntry{}
	err := f.store.View(func(tx *chainstore.StoreTx) error {
		startHeight, found := uint64(0), false
		for _, blockHash := range history {
			height, err := tx.BlockHeight(blockHash)
			if database.IsNotFoundError(err) {
				continue
			}
			if err != nil {
				return err
			}
			startHeight, found = height, true
			break
		}
		if !found {
			return errors.WithStack(ErrNoCommonBlock)
		}

		chainHeight, err := tx.ChainHeight()
		if err != nil {
			return err
		}
		top, err := tx.BlockInfo(chainHeight - 1)
		if err != nil {
			return err
		}
		entry.StartHeight = startHeight
		entry.CumulativeDifficulty = top.CumulativeDifficulty
		for height := startHeight; height < chainHeight && len(entry.BlockIDs) < maxIDs; height++ {
			blockHash, err := tx.BlockHash(height)
			if err != nil {
				return err
			}
			entry.BlockIDs = append(entry.BlockIDs, blockHash)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Debugf("Built a chain entry of %d ids from height %d", len(entry.BlockIDs), entry.StartHeight)
	return entry, nil
}

// Blocks returns the main chain blocks with the given ids together with
// their transactions. It stops at the first id that is not on our main
// chain.
func (f *FlowContext) Blocks(blockIDs []model.Hash, maxBlocks int) ([]*model.BlockWithTxs, error) {
	if len(blockIDs) > maxBlocks {
		return nil, errors.Wrapf(ErrTooManyObjects, "%d blocks requested, at most %d are served",
			len(blockIDs), maxBlocks)
	}
	blocks := make([]*model.BlockWithTxs, 0, len(blockIDs))
	err := f.store.View(func(tx *chainstore.StoreTx) error {
		for _, blockHash := range blockIDs {
			block, _, err := tx.BlockByHash(blockHash)
			if database.IsNotFoundError(err) {
				return nil
			}
			if err != nil {
				return err
			}
			txs := make([]*model.Transaction, len(block.TxHashes))
			for i, txHash := range block.TxHashes {
				txs[i], err = tx.Tx(txHash)
				if err != nil {
					return err
				}
			}
			blocks = append(blocks, &model.BlockWithTxs{Block: block, Txs: txs})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return blocks, nil
}
