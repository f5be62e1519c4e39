package blockdownloader

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/ringchain/ringd/domain/chain/model"
	"github.com/ringchain/ringd/domain/chain/pruning"
	"github.com/ringchain/ringd/domain/chain/testutils"
	"github.com/stretchr/testify/require"
)

func idsForTest(label string, start uint64, count int) []model.Hash {
	ids := make([]model.Hash, count)
	for i := range ids {
		ids[i] = testutils.DeterministicHash(label, start+uint64(i))
	}
	return ids
}

func trackerForTest(firstHeight uint64, count int) (*chainTracker, []model.Hash) {
	ids := idsForTest("tracked", firstHeight, count)
	entryIDs := make([]model.Hash, count)
	copy(entryIDs, ids)
	tracker := newChainTracker(&chainTrackerEntry{ids: entryIDs, peer: "first"}, firstHeight,
		testutils.DeterministicHash("genesis"), testutils.DeterministicHash("previous"))
	return tracker, ids
}

func TestChainTrackerAddEntry(t *testing.T) {
	tracker, ids := trackerForTest(10, 5)
	require.Equal(t, uint64(15), tracker.topHeight())
	require.Equal(t, []model.Hash{ids[4], testutils.DeterministicHash("genesis")}, tracker.simpleHistory())

	err := tracker.addEntry(&ChainEntry{BlockIDs: []model.Hash{ids[4]}}, "second")
	require.True(t, errors.Is(err, errNewEntryIsEmpty))

	err = tracker.addEntry(&ChainEntry{BlockIDs: idsForTest("unrelated", 0, 3)}, "second")
	require.True(t, errors.Is(err, errNewEntryDoesNotFollowChain))
	require.Equal(t, uint64(15), tracker.topHeight())

	next := idsForTest("tracked", 15, 3)
	err = tracker.addEntry(&ChainEntry{StartHeight: 14, BlockIDs: append([]model.Hash{ids[4]}, next...)}, "second")
	require.NoError(t, err)
	require.Equal(t, uint64(18), tracker.topHeight())
	require.Equal(t, next[2], tracker.simpleHistory()[0])
	require.Len(t, tracker.entries, 2)
	require.Equal(t, PeerID("second"), tracker.entries[1].peer)
}

func TestChainTrackerBlocksToGet(t *testing.T) {
	tracker, ids := trackerForTest(10, 5)
	next := idsForTest("tracked", 15, 4)
	require.NoError(t, tracker.addEntry(&ChainEntry{BlockIDs: append([]model.Hash{ids[4]}, next...)}, "second"))
	require.Equal(t, 3, tracker.blockRequestsQueued(2))

	batch, ok := tracker.blocksToGet(pruning.NotPruned, 3)
	require.True(t, ok)
	require.Equal(t, ids[:3], batch.ids)
	require.Equal(t, uint64(10), batch.startHeight)
	require.Equal(t, testutils.DeterministicHash("previous"), batch.prevID)
	require.Equal(t, PeerID("first"), batch.peerWhoToldUs)

	// A batch never spans two entries.
	batch, ok = tracker.blocksToGet(pruning.NotPruned, 3)
	require.True(t, ok)
	require.Equal(t, ids[3:], batch.ids)
	require.Equal(t, uint64(13), batch.startHeight)
	require.Equal(t, ids[2], batch.prevID)

	batch, ok = tracker.blocksToGet(pruning.NotPruned, 10)
	require.True(t, ok)
	require.Equal(t, next, batch.ids)
	require.Equal(t, PeerID("second"), batch.peerWhoToldUs)
	require.Equal(t, uint64(19), tracker.topHeight())

	_, ok = tracker.blocksToGet(pruning.NotPruned, 10)
	require.False(t, ok)
	require.Equal(t, 0, tracker.blockRequestsQueued(2))
}

func TestChainTrackerBlocksToGetPruned(t *testing.T) {
	seed, err := pruning.NewSeed(1, pruning.LogStripes)
	require.NoError(t, err)

	tracker, ids := trackerForTest(4090, 20)
	require.False(t, tracker.shouldAskForNextChainEntry(seed))
	require.True(t, tracker.shouldAskForNextChainEntry(pruning.NotPruned))

	batch, ok := tracker.blocksToGet(seed, 10)
	require.True(t, ok)
	require.Equal(t, ids[:5], batch.ids)
	require.True(t, pruning.ClientHasBlockInRange(seed, batch.startHeight, uint64(len(batch.ids))))

	_, ok = tracker.blocksToGet(seed, 10)
	require.False(t, ok)

	batch, ok = tracker.blocksToGet(pruning.NotPruned, 10)
	require.True(t, ok)
	require.Equal(t, uint64(4095), batch.startHeight)
	require.Equal(t, ids[5:15], batch.ids)
}
