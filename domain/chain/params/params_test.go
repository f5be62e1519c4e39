package params

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/ringchain/ringd/domain/chain/model"
)

func TestMainnetGenesisHash(t *testing.T) {
	want := "418015bb9ae982a1975da7d79277c2705727a56894ba0fb246adaabb1f4632e3"
	got := MainnetParams.GenesisHash()
	if got.String() != want {
		t.Fatalf("TestMainnetGenesisHash: got %s, want %s", got, want)
	}
}

func TestGenesisBlockRoundTrip(t *testing.T) {
	genesis, err := MainnetParams.GenesisBlock()
	if err != nil {
		t.Fatalf("TestGenesisBlockRoundTrip: GenesisBlock unexpectedly failed: %s", err)
	}
	minerTxBlob, _ := hex.DecodeString(genesisMinerTxBlob)
	if !bytes.Equal(genesis.MinerTx.Blob(), minerTxBlob) {
		t.Fatalf("TestGenesisBlockRoundTrip: miner tx reserializes differently")
	}

	decoded, err := model.DeserializeBlock(genesis.Blob())
	if err != nil {
		t.Fatalf("TestGenesisBlockRoundTrip: DeserializeBlock unexpectedly failed: %s", err)
	}
	if decoded.Hash() != genesis.Hash() {
		t.Fatalf("TestGenesisBlockRoundTrip: hash changed after decoding")
	}
	height, ok := decoded.Number()
	if !ok || height != 0 {
		t.Fatalf("TestGenesisBlockRoundTrip: Number returned (%d, %t)", height, ok)
	}
}
