package blockdownloader

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/ringchain/ringd/app/protocol/protocolerrors"
	"github.com/ringchain/ringd/domain/chain/model"
)

// requestFailed turns the error of a request made with reqCtx into a
// download error, classifying expired requests as timeouts.
func requestFailed(reqCtx context.Context, err error, format string, args ...interface{}) error {
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return errors.Wrapf(ErrTimedOut, format, args...)
	}
	return errors.Wrapf(err, format, args...)
}

// requestChainEntryFromPeer asks client for the block ids following
// history and checks the answer's shape.
func requestChainEntryFromPeer(ctx context.Context, client PeerClient, history []model.Hash,
	timeout time.Duration) (*ChainEntry, error) {

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entry, err := client.RequestChainEntry(reqCtx, history)
	if err != nil {
		return nil, requestFailed(reqCtx, err, "chain entry request to %s", client.ID())
	}
	if len(entry.BlockIDs) == 0 || len(entry.BlockIDs) > MaxBlockIDsInChainEntry {
		return nil, protocolerrors.Wrapf(true, ErrPeersResponseWasInvalid,
			"peer %s sent a chain entry with %d ids", client.ID(), len(entry.BlockIDs))
	}
	return entry, nil
}

// requestBatchFromPeer downloads the blocks with ids from client and checks
// they form a chain on top of prevID starting at startHeight.
func requestBatchFromPeer(ctx context.Context, client PeerClient, ids []model.Hash, prevID model.Hash,
	startHeight uint64, timeout time.Duration) (*BlockBatch, error) {

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	blocks, err := client.RequestBlocks(reqCtx, ids)
	if err != nil {
		return nil, requestFailed(reqCtx, err, "block request to %s", client.ID())
	}
	if len(blocks) > len(ids) {
		return nil, protocolerrors.Wrapf(true, ErrPeersResponseWasInvalid,
			"peer %s sent %d blocks when %d were requested", client.ID(), len(blocks), len(ids))
	}
	if len(blocks) != len(ids) {
		return nil, errors.Wrapf(ErrPeerDidNotHaveRequestedData,
			"peer %s sent %d blocks when %d were requested", client.ID(), len(blocks), len(ids))
	}

	batch := &BlockBatch{
		Blocks:      make([]*model.BlockWithTxs, 0, len(blocks)),
		StartHeight: startHeight,
		Peer:        client.ID(),
	}
	for i, entry := range blocks {
		if entry == nil || entry.Block == nil {
			return nil, protocolerrors.Wrapf(true, ErrPeersResponseWasInvalid,
				"peer %s sent an empty block", client.ID())
		}
		block := entry.Block
		expectedHeight := startHeight + uint64(i)
		height, ok := block.Number()
		if !ok || height != expectedHeight {
			return nil, protocolerrors.Wrapf(true, ErrPeersResponseWasInvalid,
				"peer %s sent a block claiming height %d at height %d", client.ID(), height, expectedHeight)
		}
		blockHash := block.Hash()
		if blockHash != ids[i] {
			return nil, protocolerrors.Wrapf(true, ErrPeersResponseWasInvalid,
				"peer %s sent block %s instead of %s", client.ID(), blockHash, ids[i])
		}
		expectedPrevID := prevID
		if i > 0 {
			expectedPrevID = ids[i-1]
		}
		if block.Header.PrevID != expectedPrevID {
			return nil, errors.Wrapf(ErrChainInvalid, "block %s at height %d builds on %s instead of %s",
				blockHash, expectedHeight, block.Header.PrevID, expectedPrevID)
		}

		txs, err := orderTransactions(block, entry.Txs)
		if err != nil {
			return nil, protocolerrors.Wrapf(true, err, "peer %s sent block %s", client.ID(), blockHash)
		}
		batch.Size += len(block.Blob())
		for _, tx := range txs {
			batch.Size += len(tx.Blob())
		}
		batch.Blocks = append(batch.Blocks, &model.BlockWithTxs{Block: block, Txs: txs})
	}
	return batch, nil
}

// orderTransactions returns txs in the order block lists them. Every listed
// transaction must be present exactly once.
func orderTransactions(block *model.Block, txs []*model.Transaction) ([]*model.Transaction, error) {
	if len(txs) != len(block.TxHashes) {
		return nil, errors.Wrapf(ErrPeersResponseWasInvalid, "%d transactions for a block listing %d",
			len(txs), len(block.TxHashes))
	}
	byHash := make(map[model.Hash]*model.Transaction, len(txs))
	for _, tx := range txs {
		byHash[tx.Hash()] = tx
	}
	ordered := make([]*model.Transaction, len(block.TxHashes))
	for i, txHash := range block.TxHashes {
		tx, ok := byHash[txHash]
		if !ok {
			return nil, errors.Wrapf(ErrPeersResponseWasInvalid, "transaction %s is missing", txHash)
		}
		delete(byHash, txHash)
		ordered[i] = tx
	}
	return ordered, nil
}

// initialChainSearch asks peers with more cumulative difficulty than us for
// the blocks following our chain, and builds a chain tracker from the best
// answer.
func initialChainSearch(ctx context.Context, pool ClientPool, chainService ChainService,
	cfg *Config) (*chainTracker, error) {

	history, cumulativeDifficulty, err := chainService.CompactHistory()
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, errors.New("our chain has no blocks")
	}
	ourGenesis := history[len(history)-1]

	clients := pool.BorrowClientsForSync(cumulativeDifficulty)
	if len(clients) == 0 {
		return nil, errors.Wrapf(ErrFailedToFindAChainToFollow,
			"no peer has more cumulative difficulty than %s", cumulativeDifficulty)
	}
	if len(clients) > initialChainRequestsToSend {
		for _, client := range clients[initialChainRequestsToSend:] {
			pool.ReturnClient(client)
		}
		clients = clients[:initialChainRequestsToSend]
	}

	type searchResult struct {
		client PeerClient
		entry  *ChainEntry
		err    error
	}
	results := make(chan searchResult, len(clients))
	for _, client := range clients {
		client := client
		spawn("initialChainSearch-requestChainEntry", func() {
			entry, err := requestChainEntryFromPeer(ctx, client, history, cfg.ChainEntryTimeout)
			results <- searchResult{client: client, entry: entry, err: err}
		})
	}

	var best *searchResult
	for range clients {
		result := <-results
		pool.ReturnClient(result.client)
		if result.err != nil {
			log.Debugf("Peer %s did not send a chain to follow: %s", result.client.ID(), result.err)
			if protocolerrors.ShouldBan(result.err) {
				pool.BanPeer(result.client.ID())
			}
			continue
		}
		if best == nil || best.entry.CumulativeDifficulty.Cmp(result.entry.CumulativeDifficulty) < 0 {
			result := result
			best = &result
		}
	}
	if best == nil {
		return nil, errors.Wrap(ErrFailedToFindAChainToFollow, "no peer sent a chain entry")
	}

	ids := best.entry.BlockIDs
	firstUnknown, expectedHeight, found, err := chainService.FindFirstUnknown(ids)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrapf(ErrFailedToFindAChainToFollow, "we have every block peer %s sent",
			best.client.ID())
	}
	if firstUnknown == 0 {
		pool.BanPeer(best.client.ID())
		return nil, protocolerrors.Wrapf(true, ErrPeerSentNoOverlappingBlocks,
			"the chain entry of peer %s starts at an unknown block", best.client.ID())
	}

	log.Debugf("Following the chain of peer %s from height %d", best.client.ID(), expectedHeight)
	unknownIDs := make([]model.Hash, len(ids)-firstUnknown)
	copy(unknownIDs, ids[firstUnknown:])
	firstEntry := &chainTrackerEntry{ids: unknownIDs, peer: best.client.ID()}
	return newChainTracker(firstEntry, expectedHeight, ourGenesis, ids[firstUnknown-1]), nil
}
