package flowcontext

import (
	"reflect"
	"testing"

	"github.com/pkg/errors"
	"github.com/ringchain/ringd/domain/chain/model"
	"github.com/ringchain/ringd/domain/chain/pruning"
	"github.com/ringchain/ringd/domain/chain/testutils"
	"github.com/ringchain/ringd/domain/chainstore"
	"github.com/ringchain/ringd/infrastructure/db/database/ldb"
)

func setupFlowContextForTest(t *testing.T, blockCount int) (*FlowContext, []*model.VerifiedBlock) {
	db, err := ldb.NewLevelDB(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("NewLevelDB: %s", err)
	}
	t.Cleanup(func() {
		err := db.Close()
		if err != nil {
			t.Fatalf("Close: %s", err)
		}
	})
	store := chainstore.New(db)
	chain := testutils.VerifiedChain(model.ZeroHash, 0, blockCount)
	err = store.Update(func(tx *chainstore.StoreTx) error {
		for _, block := range chain {
			err := tx.AddBlock(block)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AddBlock: %s", err)
	}
	return New(store, pruning.NotPruned), chain
}

func TestChainService(t *testing.T) {
	flowContext, chain := setupFlowContextForTest(t, 20)

	history, cumulativeDifficulty, err := flowContext.CompactHistory()
	if err != nil {
		t.Fatalf("CompactHistory: %s", err)
	}
	if history[0] != chain[19].Hash || history[len(history)-1] != chain[0].Hash {
		t.Fatalf("CompactHistory: history does not run from the top to genesis")
	}
	if cumulativeDifficulty != chain[19].CumulativeDifficulty {
		t.Fatalf("CompactHistory: cumulative difficulty is %s, want %s",
			cumulativeDifficulty, chain[19].CumulativeDifficulty)
	}

	difficulty, err := flowContext.CumulativeDifficulty()
	if err != nil {
		t.Fatalf("CumulativeDifficulty: %s", err)
	}
	if difficulty != chain[19].CumulativeDifficulty {
		t.Fatalf("CumulativeDifficulty: got %s, want %s", difficulty, chain[19].CumulativeDifficulty)
	}

	info, err := flowContext.ChainInfo()
	if err != nil {
		t.Fatalf("ChainInfo: %s", err)
	}
	if info.Height != 20 || info.TopHash != chain[19].Hash {
		t.Fatalf("ChainInfo: unexpected info %+v", info)
	}

	unknown := testutils.DeterministicHash("unknown")
	index, height, found, err := flowContext.FindFirstUnknown([]model.Hash{chain[17].Hash, chain[18].Hash, unknown})
	if err != nil {
		t.Fatalf("FindFirstUnknown: %s", err)
	}
	if !found || index != 2 || height != 19 {
		t.Fatalf("FindFirstUnknown: got index %d and height %d (found %t), want 2 and 19", index, height, found)
	}
}

func TestChainEntry(t *testing.T) {
	flowContext, chain := setupFlowContextForTest(t, 20)
	unknown := testutils.DeterministicHash("unknown")

	entry, err := flowContext.ChainEntry([]model.Hash{unknown, chain[15].Hash, chain[0].Hash}, 100)
	if err != nil {
		t.Fatalf("ChainEntry: %s", err)
	}
	if entry.StartHeight != 15 || len(entry.BlockIDs) != 5 {
		t.Fatalf("ChainEntry: got %d ids from height %d, want 5 from 15", len(entry.BlockIDs), entry.StartHeight)
	}
	for i, blockHash := range entry.BlockIDs {
		if blockHash != chain[15+i].Hash {
			t.Fatalf("ChainEntry: id %d is %s, want %s", i, blockHash, chain[15+i].Hash)
		}
	}
	if entry.CumulativeDifficulty != chain[19].CumulativeDifficulty {
		t.Fatalf("ChainEntry: cumulative difficulty is %s", entry.CumulativeDifficulty)
	}

	entry, err = flowContext.ChainEntry([]model.Hash{chain[0].Hash}, 3)
	if err != nil {
		t.Fatalf("ChainEntry: %s", err)
	}
	if entry.StartHeight != 0 || len(entry.BlockIDs) != 3 {
		t.Fatalf("ChainEntry: got %d ids from height %d, want 3 from 0", len(entry.BlockIDs), entry.StartHeight)
	}

	_, err = flowContext.ChainEntry([]model.Hash{unknown}, 100)
	if !errors.Is(err, ErrNoCommonBlock) {
		t.Fatalf("ChainEntry: expected ErrNoCommonBlock, got %v", err)
	}
}

func TestBlocks(t *testing.T) {
	flowContext, chain := setupFlowContextForTest(t, 5)
	unknown := testutils.DeterministicHash("unknown")

	blocks, err := flowContext.Blocks([]model.Hash{chain[2].Hash, chain[3].Hash, unknown, chain[4].Hash}, 10)
	if err != nil {
		t.Fatalf("Blocks: %s", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("Blocks: got %d blocks, want 2", len(blocks))
	}
	for i, block := range blocks {
		expected := chain[2+i]
		if block.Block.Hash() != expected.Hash {
			t.Fatalf("Blocks: block %d is %s, want %s", i, block.Block.Hash(), expected.Hash)
		}
		if len(block.Txs) != len(expected.Txs) {
			t.Fatalf("Blocks: block %d has %d transactions, want %d", i, len(block.Txs), len(expected.Txs))
		}
		for j, tx := range block.Txs {
			if !reflect.DeepEqual(tx.Blob(), expected.Txs[j].Tx.Blob()) {
				t.Fatalf("Blocks: transaction %d of block %d differs", j, i)
			}
		}
	}

	_, err = flowContext.Blocks([]model.Hash{chain[0].Hash, chain[1].Hash}, 1)
	if !errors.Is(err, ErrTooManyObjects) {
		t.Fatalf("Blocks: expected ErrTooManyObjects, got %v", err)
	}
}

func TestIBDRunning(t *testing.T) {
	flowContext, _ := setupFlowContextForTest(t, 1)
	if !flowContext.TrySetIBDRunning() {
		t.Fatalf("TrySetIBDRunning: expected to succeed")
	}
	if flowContext.TrySetIBDRunning() {
		t.Fatalf("TrySetIBDRunning: expected to fail while running")
	}
	if !flowContext.IsIBDRunning() {
		t.Fatalf("IsIBDRunning: expected true")
	}
	flowContext.UnsetIBDRunning()
	if flowContext.IsIBDRunning() {
		t.Fatalf("IsIBDRunning: expected false")
	}
}
