package chainstore

import (
	"fmt"
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/ringchain/ringd/domain/chain/model"
)

// compactHistoryInitialBlocks is the number of consecutive top block ids a
// compact history starts with before the offsets start doubling.
const compactHistoryInitialBlocks = 11

// AddBlock appends block to the main chain. It panics if the block's height
// does not fit in 32 bits or is not the current chain height.
func (tx *StoreTx) AddBlock(block *model.VerifiedBlock) error {
	if block.Height > math.MaxUint32 {
		panic(fmt.Sprintf("block height %d does not fit in 32 bits", block.Height))
	}
	chainHeight, err := tx.ChainHeight()
	if err != nil {
		return err
	}
	if block.Height != chainHeight {
		panic(fmt.Sprintf("cannot add block %s at height %d to a chain of height %d",
			block.Hash, block.Height, chainHeight))
	}
	if len(block.Txs) != len(block.Block.TxHashes) {
		return errors.Errorf("block %s lists %d transactions but %d were given",
			block.Hash, len(block.Block.TxHashes), len(block.Txs))
	}

	outputCount := len(block.Block.MinerTx.Outputs)
	for _, verifiedTx := range block.Txs {
		outputCount += len(verifiedTx.Tx.Outputs)
	}
	rctOutputs, err := tx.newRCTOutputAppender(outputCount)
	if err != nil {
		return err
	}

	minerTx := &block.Block.MinerTx
	minerTxID, err := tx.addTransaction(minerTx, minerTx.Hash(), block.Height, rctOutputs)
	if err != nil {
		return errors.Wrapf(err, "cannot add the miner transaction of block %s", block.Hash)
	}
	for _, verifiedTx := range block.Txs {
		_, err = tx.addTransaction(verifiedTx.Tx, verifiedTx.Hash, block.Height, rctOutputs)
		if err != nil {
			return errors.Wrapf(err, "cannot add a transaction of block %s", block.Hash)
		}
	}
	rctAppended, err := rctOutputs.flush(tx)
	if err != nil {
		return err
	}

	var previous BlockInfo
	if block.Height > 0 {
		previousInfo, err := tx.BlockInfo(block.Height - 1)
		if err != nil {
			return err
		}
		previous = *previousInfo
	}

	cumulativeGeneratedCoins := previous.CumulativeGeneratedCoins + block.GeneratedCoins
	if cumulativeGeneratedCoins < previous.CumulativeGeneratedCoins {
		cumulativeGeneratedCoins = math.MaxUint64
	}
	info := &BlockInfo{
		Timestamp:                block.Block.Header.Timestamp,
		CumulativeGeneratedCoins: cumulativeGeneratedCoins,
		Weight:                   block.Weight,
		CumulativeDifficulty:     block.CumulativeDifficulty,
		BlockHash:                block.Hash,
		// Not saturated: the count is bounded by the number of stored outputs.
		CumulativeRCTOutputs: previous.CumulativeRCTOutputs + rctAppended,
		LongTermWeight:       block.LongTermWeight,
		MinerTxID:            minerTxID,
	}
	err = tx.accessor.Put(uint64Key(blockInfosBucket, block.Height), serializeBlockInfo(info))
	if err != nil {
		return err
	}
	err = tx.addToCount(blockInfosCountKey, 1)
	if err != nil {
		return err
	}
	err = tx.accessor.Put(uint64Key(blockHeaderBlobsBucket, block.Height), block.Block.HeaderBlob())
	if err != nil {
		return err
	}
	err = tx.accessor.Put(uint64Key(blockTxHashesBucket, block.Height), serializeHashes(block.Block.TxHashes))
	if err != nil {
		return err
	}
	err = tx.accessor.Put(hashKey(blockHeightsBucket, block.Hash), serializeUint64(block.Height))
	if err != nil {
		return err
	}

	log.Tracef("Added block %s at height %d", block.Hash, block.Height)
	return nil
}

// PopBlock removes the top block of the main chain and returns its height,
// hash and content. If chainID is non-zero the block is kept as the head of
// that alternative chain. It returns ErrChainEmpty if there is no block.
func (tx *StoreTx) PopBlock(chainID model.ChainID) (uint64, model.Hash, *model.Block, error) {
	chainHeight, err := tx.ChainHeight()
	if err != nil {
		return 0, model.Hash{}, nil, err
	}
	if chainHeight == 0 {
		return 0, model.Hash{}, nil, errors.WithStack(ErrChainEmpty)
	}
	height := chainHeight - 1

	infoBytes, err := tx.take(uint64Key(blockInfosBucket, height))
	if err != nil {
		return 0, model.Hash{}, nil, err
	}
	info, err := deserializeBlockInfo(infoBytes)
	if err != nil {
		return 0, model.Hash{}, nil, err
	}
	err = tx.addToCount(blockInfosCountKey, -1)
	if err != nil {
		return 0, model.Hash{}, nil, err
	}
	err = tx.deleteExisting(hashKey(blockHeightsBucket, info.BlockHash))
	if err != nil {
		return 0, model.Hash{}, nil, err
	}

	headerBlob, err := tx.take(uint64Key(blockHeaderBlobsBucket, height))
	if err != nil {
		return 0, model.Hash{}, nil, err
	}
	header, err := model.DeserializeBlockHeader(headerBlob)
	if err != nil {
		return 0, model.Hash{}, nil, err
	}
	txHashesBytes, err := tx.take(uint64Key(blockTxHashesBucket, height))
	if err != nil {
		return 0, model.Hash{}, nil, err
	}
	txHashes, err := deserializeHashes(txHashesBytes)
	if err != nil {
		return 0, model.Hash{}, nil, err
	}
	minerTx, err := tx.transactionByID(info.MinerTxID)
	if err != nil {
		return 0, model.Hash{}, nil, err
	}
	block := &model.Block{Header: *header, MinerTx: *minerTx, TxHashes: txHashes}

	_, rctRemoved, err := tx.removeTransaction(minerTx.Hash())
	if err != nil {
		return 0, model.Hash{}, nil, err
	}
	txs := make([]*model.VerifiedTransaction, 0, len(txHashes))
	for _, txHash := range txHashes {
		transaction, removed, err := tx.removeTransaction(txHash)
		if err != nil {
			return 0, model.Hash{}, nil, err
		}
		rctRemoved += removed
		fee, err := transaction.Fee()
		if err != nil {
			return 0, model.Hash{}, nil, err
		}
		txs = append(txs, &model.VerifiedTransaction{
			Tx:     transaction,
			Hash:   txHash,
			Weight: uint64(len(transaction.Blob())),
			Fee:    fee,
		})
	}

	if chainID != 0 {
		err = tx.AddAltBlock(&model.AltBlock{
			Block:                block,
			Hash:                 info.BlockHash,
			Height:               height,
			Weight:               info.Weight,
			LongTermWeight:       info.LongTermWeight,
			CumulativeDifficulty: info.CumulativeDifficulty,
			ChainID:              chainID,
			Txs:                  txs,
		})
		if err != nil {
			return 0, model.Hash{}, nil, err
		}
	}

	err = tx.removeRCTOutputs(rctRemoved)
	if err != nil {
		return 0, model.Hash{}, nil, err
	}

	log.Tracef("Popped block %s at height %d", info.BlockHash, height)
	return height, info.BlockHash, block, nil
}

// ChainHeight returns the number of blocks on the main chain.
func (tx *StoreTx) ChainHeight() (uint64, error) {
	return tx.count(blockInfosCountKey)
}

// TopBlockHeight returns the height of the top block, or ErrChainEmpty.
func (tx *StoreTx) TopBlockHeight() (uint64, error) {
	chainHeight, err := tx.ChainHeight()
	if err != nil {
		return 0, err
	}
	if chainHeight == 0 {
		return 0, errors.WithStack(ErrChainEmpty)
	}
	return chainHeight - 1, nil
}

// BlockInfo returns the metadata of the main chain block at height.
func (tx *StoreTx) BlockInfo(height uint64) (*BlockInfo, error) {
	infoBytes, err := tx.accessor.Get(uint64Key(blockInfosBucket, height))
	if err != nil {
		return nil, errors.Wrapf(err, "block info at height %d", height)
	}
	return deserializeBlockInfo(infoBytes)
}

// BlockHash returns the id of the main chain block at height.
func (tx *StoreTx) BlockHash(height uint64) (model.Hash, error) {
	info, err := tx.BlockInfo(height)
	if err != nil {
		return model.Hash{}, err
	}
	return info.BlockHash, nil
}

// BlockHeight returns the height of a main chain block.
func (tx *StoreTx) BlockHeight(blockHash model.Hash) (uint64, error) {
	heightBytes, err := tx.accessor.Get(hashKey(blockHeightsBucket, blockHash))
	if err != nil {
		return 0, errors.Wrapf(err, "block %s", blockHash)
	}
	return deserializeUint64(heightBytes)
}

// BlockExists reports whether blockHash is on the main chain.
func (tx *StoreTx) BlockExists(blockHash model.Hash) (bool, error) {
	return tx.accessor.Has(hashKey(blockHeightsBucket, blockHash))
}

// ExtendedBlockHeader is a header together with the metadata needed by
// difficulty and weight calculations.
type ExtendedBlockHeader struct {
	Version              uint8
	Vote                 uint8
	Timestamp            uint64
	CumulativeDifficulty model.Difficulty
	BlockWeight          uint64
	LongTermWeight       uint64
}

// ExtendedHeader returns the extended header of the block at height.
func (tx *StoreTx) ExtendedHeader(height uint64) (*ExtendedBlockHeader, error) {
	info, err := tx.BlockInfo(height)
	if err != nil {
		return nil, err
	}
	headerBlob, err := tx.accessor.Get(uint64Key(blockHeaderBlobsBucket, height))
	if err != nil {
		return nil, err
	}
	header, err := model.DeserializeBlockHeader(headerBlob)
	if err != nil {
		return nil, err
	}
	return &ExtendedBlockHeader{
		Version:              header.MajorVersion,
		Vote:                 header.MinorVersion,
		Timestamp:            header.Timestamp,
		CumulativeDifficulty: info.CumulativeDifficulty,
		BlockWeight:          info.Weight,
		LongTermWeight:       info.LongTermWeight,
	}, nil
}

// ExtendedHeaderTop returns the extended header of the top block and its height.
func (tx *StoreTx) ExtendedHeaderTop() (*ExtendedBlockHeader, uint64, error) {
	top, err := tx.TopBlockHeight()
	if err != nil {
		return nil, 0, err
	}
	header, err := tx.ExtendedHeader(top)
	return header, top, err
}

// Block rebuilds the main chain block at height.
func (tx *StoreTx) Block(height uint64) (*model.Block, error) {
	info, err := tx.BlockInfo(height)
	if err != nil {
		return nil, err
	}
	headerBlob, err := tx.accessor.Get(uint64Key(blockHeaderBlobsBucket, height))
	if err != nil {
		return nil, err
	}
	header, err := model.DeserializeBlockHeader(headerBlob)
	if err != nil {
		return nil, err
	}
	txHashesBytes, err := tx.accessor.Get(uint64Key(blockTxHashesBucket, height))
	if err != nil {
		return nil, err
	}
	txHashes, err := deserializeHashes(txHashesBytes)
	if err != nil {
		return nil, err
	}
	minerTx, err := tx.transactionByID(info.MinerTxID)
	if err != nil {
		return nil, err
	}
	return &model.Block{Header: *header, MinerTx: *minerTx, TxHashes: txHashes}, nil
}

// BlockByHash rebuilds a main chain block from its id.
func (tx *StoreTx) BlockByHash(blockHash model.Hash) (*model.Block, uint64, error) {
	height, err := tx.BlockHeight(blockHash)
	if err != nil {
		return nil, 0, err
	}
	block, err := tx.Block(height)
	return block, height, err
}

// CompactChainHistory returns a sparse list of main chain block ids, top
// first: the top compactHistoryInitialBlocks+1 blocks, then blocks at
// doubling distances, always ending with genesis. It also returns the
// cumulative difficulty of the top block.
func (tx *StoreTx) CompactChainHistory() ([]model.Hash, model.Difficulty, error) {
	top, err := tx.TopBlockHeight()
	if err != nil {
		return nil, model.Difficulty{}, err
	}
	topInfo, err := tx.BlockInfo(top)
	if err != nil {
		return nil, model.Difficulty{}, err
	}

	var blockIDs []model.Hash
	lastHeight := top
	for i := uint64(0); ; i++ {
		offset := compactHistoryOffset(i)
		if offset > top {
			break
		}
		lastHeight = top - offset
		blockHash, err := tx.BlockHash(lastHeight)
		if err != nil {
			return nil, model.Difficulty{}, err
		}
		blockIDs = append(blockIDs, blockHash)
	}
	if lastHeight != 0 {
		genesisHash, err := tx.BlockHash(0)
		if err != nil {
			return nil, model.Difficulty{}, err
		}
		blockIDs = append(blockIDs, genesisHash)
	}
	return blockIDs, topInfo.CumulativeDifficulty, nil
}

// compactHistoryOffset is the distance from the top of the i'th id of a
// compact history: 0..11, then 11+2, 11+2+4, 11+2+4+8 and so on.
func compactHistoryOffset(i uint64) uint64 {
	if i <= compactHistoryInitialBlocks {
		return i
	}
	shift := i - compactHistoryInitialBlocks
	if shift >= 63 {
		return math.MaxUint64
	}
	return compactHistoryInitialBlocks + (2 << shift) - 2
}

// FindFirstUnknown returns the index in blockIDs of the first block that
// is not on the main chain and the height it would have. blockIDs must be
// ordered by ascending height. It returns false if every block is known.
func (tx *StoreTx) FindFirstUnknown(blockIDs []model.Hash) (int, uint64, bool, error) {
	var searchErr error
	index := sort.Search(len(blockIDs), func(i int) bool {
		exists, err := tx.BlockExists(blockIDs[i])
		if err != nil && searchErr == nil {
			searchErr = err
		}
		return !exists
	})
	if searchErr != nil {
		return 0, 0, false, searchErr
	}
	if index == len(blockIDs) {
		return 0, 0, false, nil
	}
	if index == 0 {
		chainHeight, err := tx.ChainHeight()
		return 0, chainHeight, true, err
	}
	lastKnownHeight, err := tx.BlockHeight(blockIDs[index-1])
	if err != nil {
		return 0, 0, false, err
	}
	return index, lastKnownHeight + 1, true, nil
}

// CumulativeGeneratedCoins returns the coins generated up to and including
// the block at height.
func (tx *StoreTx) CumulativeGeneratedCoins(height uint64) (uint64, error) {
	info, err := tx.BlockInfo(height)
	if err != nil {
		return 0, err
	}
	return info.CumulativeGeneratedCoins, nil
}
