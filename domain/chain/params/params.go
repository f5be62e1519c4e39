package params

import (
	"encoding/hex"

	"github.com/pkg/errors"
	"github.com/ringchain/ringd/domain/chain/model"
)

// genesisMinerTxBlob is the coinbase shared by every network's genesis block.
const genesisMinerTxBlob = "013c01ff0001ffffffffffff03029b2e4c0281c0b02e7c53291a94d1d0cbff8883f8024f5142ee494ffbbd08807121017767aafcde9be00dcfd098715ebcf7f410daebc582fda69d24a28e9d0bc890d1"

// Params describes one network.
type Params struct {
	Name         string
	DefaultPort  string
	GenesisNonce uint32
}

// MainnetParams are the parameters of the main network.
var MainnetParams = Params{
	Name:         "mainnet",
	DefaultPort:  "18080",
	GenesisNonce: 10000,
}

// TestnetParams are the parameters of the test network.
var TestnetParams = Params{
	Name:         "testnet",
	DefaultPort:  "28080",
	GenesisNonce: 10001,
}

// StagenetParams are the parameters of the staging network.
var StagenetParams = Params{
	Name:         "stagenet",
	DefaultPort:  "38080",
	GenesisNonce: 10002,
}

// GenesisBlock builds the network's genesis block.
func (p *Params) GenesisBlock() (*model.Block, error) {
	minerTxBlob, err := hex.DecodeString(genesisMinerTxBlob)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	minerTx, err := model.DeserializeTransaction(minerTxBlob)
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode the genesis miner transaction")
	}
	return &model.Block{
		Header: model.BlockHeader{
			MajorVersion: 1,
			MinorVersion: 0,
			Nonce:        p.GenesisNonce,
		},
		MinerTx: *minerTx,
	}, nil
}

// GenesisHash returns the id of the network's genesis block.
func (p *Params) GenesisHash() model.Hash {
	genesis, err := p.GenesisBlock()
	if err != nil {
		panic(err)
	}
	return genesis.Hash()
}
