package blockdownloader

import (
	"github.com/pkg/errors"
	"github.com/ringchain/ringd/domain/chain/model"
	"github.com/ringchain/ringd/domain/chain/pruning"
)

// blocksToRetrieve is a run of block ids handed out by the chain tracker,
// together with the download bookkeeping of its batch.
type blocksToRetrieve struct {
	ids         []model.Hash
	prevID      model.Hash
	startHeight uint64

	// peerWhoToldUs sent the chain entry the ids come from. It is banned if
	// the ids turn out not to form a chain.
	peerWhoToldUs PeerID

	requestsSent int
	failures     int

	// failed is set while the batch waits in the failed batches heap.
	failed bool
}

type chainTrackerEntry struct {
	ids  []model.Hash
	peer PeerID
}

// chainTracker holds the block ids known to follow our chain that were not
// handed out for download yet.
type chainTracker struct {
	entries []*chainTrackerEntry

	// firstHeight is the height of the first id not handed out yet.
	firstHeight  uint64
	topSeenHash  model.Hash
	previousHash model.Hash
	ourGenesis   model.Hash
}

func newChainTracker(firstEntry *chainTrackerEntry, firstHeight uint64, ourGenesis,
	previousHash model.Hash) *chainTracker {

	topSeenHash := previousHash
	if len(firstEntry.ids) > 0 {
		topSeenHash = firstEntry.ids[len(firstEntry.ids)-1]
	}
	tracker := &chainTracker{
		firstHeight:  firstHeight,
		topSeenHash:  topSeenHash,
		previousHash: previousHash,
		ourGenesis:   ourGenesis,
	}
	if len(firstEntry.ids) > 0 {
		tracker.entries = append(tracker.entries, firstEntry)
	}
	return tracker
}

// topHeight is the height of the block following the top seen block.
func (ct *chainTracker) topHeight() uint64 {
	height := ct.firstHeight
	for _, entry := range ct.entries {
		height += uint64(len(entry.ids))
	}
	return height
}

// simpleHistory is the history sent with chain entry requests: the top
// seen block, with genesis for peers that do not know it.
func (ct *chainTracker) simpleHistory() []model.Hash {
	return []model.Hash{ct.topSeenHash, ct.ourGenesis}
}

// shouldAskForNextChainEntry reports whether a peer with seed keeps the
// blocks following the top seen block.
func (ct *chainTracker) shouldAskForNextChainEntry(seed pruning.Seed) bool {
	return seed.HasFullBlock(ct.topHeight(), pruning.MaxBlockHeight)
}

// blockRequestsQueued is the number of batches of batchLen blocks the
// tracker can still hand out.
func (ct *chainTracker) blockRequestsQueued(batchLen int) int {
	if batchLen < 1 {
		batchLen = 1
	}
	queued := 0
	for _, entry := range ct.entries {
		queued += (len(entry.ids) + batchLen - 1) / batchLen
	}
	return queued
}

// addEntry appends the ids of entry that follow the top seen block. The
// first id of entry must be the top seen block.
func (ct *chainTracker) addEntry(entry *ChainEntry, peer PeerID) error {
	if len(entry.BlockIDs) <= 1 {
		return errors.WithStack(errNewEntryIsEmpty)
	}
	if entry.BlockIDs[0] != ct.topSeenHash {
		return errors.Wrapf(errNewEntryDoesNotFollowChain, "the entry starts at %s but the top seen block is %s",
			entry.BlockIDs[0], ct.topSeenHash)
	}
	ids := make([]model.Hash, len(entry.BlockIDs)-1)
	copy(ids, entry.BlockIDs[1:])
	ct.entries = append(ct.entries, &chainTrackerEntry{ids: ids, peer: peer})
	ct.topSeenHash = ids[len(ids)-1]
	return nil
}

// blocksToGet hands out up to maxBlocks ids a peer with seed can serve. It
// returns false if the peer cannot serve the next ids.
func (ct *chainTracker) blocksToGet(seed pruning.Seed, maxBlocks int) (*blocksToRetrieve, bool) {
	if len(ct.entries) == 0 || maxBlocks < 1 {
		return nil, false
	}
	if !seed.HasFullBlock(ct.firstHeight, pruning.MaxBlockHeight) {
		return nil, false
	}

	entry := ct.entries[0]
	count := uint64(maxBlocks)
	if uint64(len(entry.ids)) < count {
		count = uint64(len(entry.ids))
	}
	if nextPruned, ok := seed.NextPrunedBlock(ct.firstHeight, pruning.MaxBlockHeight); ok {
		// The block after the batch must also be kept for the peer to be
		// considered able to serve the whole range.
		available := nextPruned - ct.firstHeight - 1
		if available < count {
			count = available
		}
	}
	if count == 0 {
		return nil, false
	}

	ids := entry.ids[:count:count]
	batch := &blocksToRetrieve{
		ids:           ids,
		prevID:        ct.previousHash,
		startHeight:   ct.firstHeight,
		peerWhoToldUs: entry.peer,
	}
	entry.ids = entry.ids[count:]
	if len(entry.ids) == 0 {
		ct.entries = ct.entries[1:]
	}
	ct.firstHeight += count
	ct.previousHash = ids[len(ids)-1]
	return batch, true
}
