package app

import (
	"github.com/pkg/errors"
	"github.com/ringchain/ringd/domain/chain/params"
	"github.com/ringchain/ringd/domain/chainstore"
	"github.com/ringchain/ringd/domain/verifier"
)

// initGenesis adds the network's genesis block to an empty chain, and
// checks that a non-empty chain starts with it.
func initGenesis(store *chainstore.Store, netParams *params.Params, blockVerifier *verifier.Verifier) error {
	genesis, err := netParams.GenesisBlock()
	if err != nil {
		return err
	}
	genesisHash := genesis.Hash()

	return store.Update(func(tx *chainstore.StoreTx) error {
		chainHeight, err := tx.ChainHeight()
		if err != nil {
			return err
		}
		if chainHeight > 0 {
			storedGenesisHash, err := tx.BlockHash(0)
			if err != nil {
				return err
			}
			if storedGenesisHash != genesisHash {
				return errors.Errorf("the database starts with block %s, which is not the %s genesis %s",
					storedGenesisHash, netParams.Name, genesisHash)
			}
			log.Infof("Chain loaded with %d blocks", chainHeight)
			return nil
		}

		verifiedGenesis, err := blockVerifier.VerifyGenesis(genesis)
		if err != nil {
			return errors.Wrapf(err, "%s genesis", netParams.Name)
		}
		log.Infof("Adding the %s genesis block %s", netParams.Name, genesisHash)
		return tx.AddBlock(verifiedGenesis)
	})
}
