package app

import (
	"strings"
	"testing"

	"github.com/ringchain/ringd/domain/chain/model"
	"github.com/ringchain/ringd/domain/chain/params"
	"github.com/ringchain/ringd/domain/chain/testutils"
	"github.com/ringchain/ringd/domain/chainstore"
	"github.com/ringchain/ringd/domain/verifier"
	"github.com/ringchain/ringd/infrastructure/db/database/ldb"
)

func storeForTest(t *testing.T) *chainstore.Store {
	db, err := ldb.NewLevelDB(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("NewLevelDB unexpectedly failed: %s", err)
	}
	t.Cleanup(func() {
		err := db.Close()
		if err != nil {
			t.Errorf("Close unexpectedly failed: %s", err)
		}
	})
	return chainstore.New(db)
}

func chainForTest(t *testing.T, store *chainstore.Store) (height uint64, genesisHash model.Hash) {
	err := store.View(func(tx *chainstore.StoreTx) error {
		var err error
		height, err = tx.ChainHeight()
		if err != nil || height == 0 {
			return err
		}
		genesisHash, err = tx.BlockHash(0)
		return err
	})
	if err != nil {
		t.Fatalf("reading the chain unexpectedly failed: %s", err)
	}
	return height, genesisHash
}

func TestInitGenesis(t *testing.T) {
	store := storeForTest(t)
	blockVerifier := verifier.New(verifier.FixedDifficulty(model.DifficultyFromUint64(1)))

	for i := 0; i < 2; i++ {
		err := initGenesis(store, &params.StagenetParams, blockVerifier)
		if err != nil {
			t.Fatalf("initGenesis #%d unexpectedly failed: %s", i, err)
		}
		height, genesisHash := chainForTest(t, store)
		if height != 1 {
			t.Fatalf("initGenesis #%d: got chain height %d, want 1", i, height)
		}
		if genesisHash != params.StagenetParams.GenesisHash() {
			t.Fatalf("initGenesis #%d: got genesis %s, want %s", i, genesisHash, params.StagenetParams.GenesisHash())
		}
	}

	err := initGenesis(store, &params.MainnetParams, blockVerifier)
	if err == nil {
		t.Fatalf("initGenesis unexpectedly accepted a stagenet database for mainnet")
	}
	if !strings.Contains(err.Error(), "mainnet genesis") {
		t.Errorf("unexpected error: %s", err)
	}
}

func TestInitGenesisForeignChain(t *testing.T) {
	store := storeForTest(t)
	blockVerifier := verifier.New(verifier.FixedDifficulty(model.DifficultyFromUint64(1)))

	foreignGenesis := testutils.VerifiedChain(model.ZeroHash, 0, 1)[0]
	err := store.Update(func(tx *chainstore.StoreTx) error {
		return tx.AddBlock(foreignGenesis)
	})
	if err != nil {
		t.Fatalf("AddBlock unexpectedly failed: %s", err)
	}

	err = initGenesis(store, &params.TestnetParams, blockVerifier)
	if err == nil {
		t.Fatalf("initGenesis unexpectedly accepted a foreign chain")
	}
	height, _ := chainForTest(t, store)
	if height != 1 {
		t.Errorf("initGenesis changed the chain height to %d", height)
	}
}
