package chainstore

import (
	"github.com/pkg/errors"
	"github.com/ringchain/ringd/domain/chain/model"
	"github.com/ringchain/ringd/infrastructure/db/database"
)

// AddAltBlock stores block on its alternative chain and creates or extends
// the chain's info. Transactions already on the main chain or already
// stored for another alternative block are not stored again.
func (tx *StoreTx) AddAltBlock(block *model.AltBlock) error {
	if block.ChainID == 0 {
		return errors.New("alternative chain ids must be non-zero")
	}
	if block.Height == 0 {
		return errors.New("the genesis block cannot be on an alternative chain")
	}
	height := altBlockHeight{chainID: block.ChainID, height: block.Height}

	err := tx.accessor.Put(hashKey(altBlockHeightsBucket, block.Hash), serializeAltBlockHeight(height))
	if err != nil {
		return err
	}
	err = tx.updateAltChainInfo(height, block.Block.Header.PrevID)
	if err != nil {
		return err
	}

	infoKey := altBlockHeightKey(altBlockInfosBucket, block.ChainID, block.Height)
	exists, err := tx.accessor.Has(infoKey)
	if err != nil {
		return err
	}
	err = tx.accessor.Put(infoKey, serializeAltBlockInfo(&AltBlockInfo{
		BlockHash:            block.Hash,
		PowHash:              block.PowHash,
		Height:               block.Height,
		Weight:               block.Weight,
		LongTermWeight:       block.LongTermWeight,
		CumulativeDifficulty: block.CumulativeDifficulty,
	}))
	if err != nil {
		return err
	}
	if !exists {
		err = tx.addToCount(altBlockInfosCountKey, 1)
		if err != nil {
			return err
		}
	}
	err = tx.accessor.Put(altBlockHeightKey(altBlockBlobsBucket, block.ChainID, block.Height), block.Block.Blob())
	if err != nil {
		return err
	}

	for _, verifiedTx := range block.Txs {
		onMainChain, err := tx.TxExists(verifiedTx.Hash)
		if err != nil {
			return err
		}
		if onMainChain {
			continue
		}
		err = tx.accessor.Put(hashKey(altTransactionInfosBucket, verifiedTx.Hash), serializeAltTransactionInfo(&altTransactionInfo{
			weight: verifiedTx.Weight,
			fee:    verifiedTx.Fee,
			txHash: verifiedTx.Hash,
		}))
		if err != nil {
			return err
		}
		err = tx.accessor.Put(hashKey(altTransactionBlobsBucket, verifiedTx.Hash), verifiedTx.Tx.Blob())
		if err != nil {
			return err
		}
	}
	return nil
}

func (tx *StoreTx) updateAltChainInfo(height altBlockHeight, prevID model.Hash) error {
	infoKey := uint64Key(altChainInfosBucket, uint64(height.chainID))
	infoBytes, err := tx.accessor.Get(infoKey)
	if err == nil {
		info, err := deserializeAltChainInfo(infoBytes)
		if err != nil {
			return err
		}
		if info.ChainHeight < height.height+1 {
			info.ChainHeight = height.height + 1
		}
		return tx.accessor.Put(infoKey, serializeAltChainInfo(info))
	}
	if !database.IsNotFoundError(err) {
		return err
	}

	var parentChain model.ChainID
	parentBytes, err := tx.accessor.Get(hashKey(altBlockHeightsBucket, prevID))
	switch {
	case err == nil:
		parent, err := deserializeAltBlockHeight(parentBytes)
		if err != nil {
			return err
		}
		parentChain = parent.chainID
	case !database.IsNotFoundError(err):
		return err
	}

	return tx.accessor.Put(infoKey, serializeAltChainInfo(&AltChainInfo{
		ParentChain:          parentChain,
		CommonAncestorHeight: height.height - 1,
		ChainHeight:          height.height + 1,
	}))
}

// AltChainInfo returns the info of an alternative chain.
func (tx *StoreTx) AltChainInfo(chainID model.ChainID) (*AltChainInfo, error) {
	infoBytes, err := tx.accessor.Get(uint64Key(altChainInfosBucket, uint64(chainID)))
	if err != nil {
		return nil, errors.Wrapf(err, "alternative chain %d", chainID)
	}
	return deserializeAltChainInfo(infoBytes)
}

// AltBlockInfo returns the metadata of an alternative block.
func (tx *StoreTx) AltBlockInfo(chainID model.ChainID, height uint64) (*AltBlockInfo, error) {
	infoBytes, err := tx.accessor.Get(altBlockHeightKey(altBlockInfosBucket, chainID, height))
	if err != nil {
		return nil, errors.Wrapf(err, "alternative block %d on chain %d", height, chainID)
	}
	return deserializeAltBlockInfo(infoBytes)
}

// AltBlockLocation returns the chain and height an alternative block was
// stored at.
func (tx *StoreTx) AltBlockLocation(blockHash model.Hash) (model.ChainID, uint64, error) {
	heightBytes, err := tx.accessor.Get(hashKey(altBlockHeightsBucket, blockHash))
	if err != nil {
		return 0, 0, errors.Wrapf(err, "alternative block %s", blockHash)
	}
	height, err := deserializeAltBlockHeight(heightBytes)
	return height.chainID, height.height, err
}

// AltBlock rebuilds the alternative block at height on chainID together
// with its transactions, which are looked up among alternative transactions
// first and on the main chain second.
func (tx *StoreTx) AltBlock(chainID model.ChainID, height uint64) (*model.AltBlock, error) {
	info, err := tx.AltBlockInfo(chainID, height)
	if err != nil {
		return nil, err
	}
	blob, err := tx.accessor.Get(altBlockHeightKey(altBlockBlobsBucket, chainID, height))
	if err != nil {
		return nil, err
	}
	block, err := model.DeserializeBlock(blob)
	if err != nil {
		return nil, err
	}

	txs := make([]*model.VerifiedTransaction, 0, len(block.TxHashes))
	for _, txHash := range block.TxHashes {
		verifiedTx, err := tx.altTransaction(txHash)
		if err != nil {
			return nil, err
		}
		txs = append(txs, verifiedTx)
	}
	return &model.AltBlock{
		Block:                block,
		Hash:                 info.BlockHash,
		PowHash:              info.PowHash,
		Height:               info.Height,
		Weight:               info.Weight,
		LongTermWeight:       info.LongTermWeight,
		CumulativeDifficulty: info.CumulativeDifficulty,
		ChainID:              chainID,
		Txs:                  txs,
	}, nil
}

func (tx *StoreTx) altTransaction(txHash model.Hash) (*model.VerifiedTransaction, error) {
	infoBytes, err := tx.accessor.Get(hashKey(altTransactionInfosBucket, txHash))
	if err == nil {
		info, err := deserializeAltTransactionInfo(infoBytes)
		if err != nil {
			return nil, err
		}
		blob, err := tx.accessor.Get(hashKey(altTransactionBlobsBucket, txHash))
		if err != nil {
			return nil, err
		}
		transaction, err := model.DeserializeTransaction(blob)
		if err != nil {
			return nil, err
		}
		return &model.VerifiedTransaction{Tx: transaction, Hash: txHash, Weight: info.weight, Fee: info.fee}, nil
	}
	if !database.IsNotFoundError(err) {
		return nil, err
	}

	transaction, err := tx.Tx(txHash)
	if err != nil {
		return nil, err
	}
	fee, err := transaction.Fee()
	if err != nil {
		return nil, err
	}
	return &model.VerifiedTransaction{
		Tx:     transaction,
		Hash:   txHash,
		Weight: uint64(len(transaction.Blob())),
		Fee:    fee,
	}, nil
}

// NumAltBlocks returns the number of stored alternative blocks.
func (tx *StoreTx) NumAltBlocks() (uint64, error) {
	return tx.count(altBlockInfosCountKey)
}

// FlushAltBlocks deletes every alternative block, chain and transaction.
func (tx *StoreTx) FlushAltBlocks() error {
	for _, bucket := range altTables {
		err := tx.clearBucket(bucket)
		if err != nil {
			return err
		}
	}
	return tx.setCount(altBlockInfosCountKey, 0)
}
