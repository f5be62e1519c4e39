package chainstore

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/ringchain/ringd/domain/chain/model"
	"github.com/ringchain/ringd/domain/chain/testutils"
	"github.com/ringchain/ringd/infrastructure/db/database"
)

func TestPopBlockToAltChain(t *testing.T) {
	testName := "TestPopBlockToAltChain"
	store, teardownFunc := prepareStoreForTest(t, testName)
	defer teardownFunc()

	chain := testutils.VerifiedChain(model.ZeroHash, 0, 4)
	addBlocksForTest(t, testName, store, chain)
	const chainID = model.ChainID(7)

	err := store.Update(func(tx *StoreTx) error {
		for i := 0; i < 2; i++ {
			_, _, _, err := tx.PopBlock(chainID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("%s: PopBlock unexpectedly failed: %s", testName, err)
	}

	err = store.View(func(tx *StoreTx) error {
		for _, height := range []uint64{2, 3} {
			altBlock, err := tx.AltBlock(chainID, height)
			if err != nil {
				return err
			}
			expected := chain[height]
			if altBlock.Hash != expected.Hash || altBlock.Block.Hash() != expected.Hash {
				return errors.Errorf("alt block at %d is not the popped block", height)
			}
			if !altBlock.PowHash.IsZero() {
				return errors.Errorf("alt block at %d kept a pow hash", height)
			}
			if altBlock.CumulativeDifficulty != expected.CumulativeDifficulty {
				return errors.Errorf("alt block at %d has the wrong cumulative difficulty", height)
			}
			if len(altBlock.Txs) != 1 || altBlock.Txs[0].Hash != expected.Txs[0].Hash {
				return errors.Errorf("alt block at %d lost its transactions", height)
			}
			onMainChain, err := tx.TxExists(expected.Txs[0].Hash)
			if err != nil {
				return err
			}
			if onMainChain {
				return errors.Errorf("transaction of popped block %d is still on the main chain", height)
			}
		}

		info, err := tx.AltChainInfo(chainID)
		if err != nil {
			return err
		}
		// Block 3 was popped first, so the chain was created by it and
		// extended when block 2 joined.
		expectedInfo := AltChainInfo{ParentChain: 0, CommonAncestorHeight: 2, ChainHeight: 4}
		if *info != expectedInfo {
			return errors.Errorf("alt chain info is %+v, want %+v", *info, expectedInfo)
		}

		location, height, err := tx.AltBlockLocation(chain[3].Hash)
		if err != nil {
			return err
		}
		if location != chainID || height != 3 {
			return errors.Errorf("block 3 is located at chain %d height %d", location, height)
		}
		count, err := tx.NumAltBlocks()
		if err != nil {
			return err
		}
		if count != 2 {
			return errors.Errorf("%d alt blocks stored, want 2", count)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("%s: %s", testName, err)
	}

	err = store.Update(func(tx *StoreTx) error {
		return tx.FlushAltBlocks()
	})
	if err != nil {
		t.Fatalf("%s: FlushAltBlocks unexpectedly failed: %s", testName, err)
	}
	err = store.View(func(tx *StoreTx) error {
		_, err := tx.AltBlock(chainID, 3)
		if !database.IsNotFoundError(err) {
			return errors.Errorf("AltBlock after flush returned %v", err)
		}
		_, err = tx.AltChainInfo(chainID)
		if !database.IsNotFoundError(err) {
			return errors.Errorf("AltChainInfo after flush returned %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("%s: %s", testName, err)
	}
}
