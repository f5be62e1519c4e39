// Package testutils builds deterministic blocks and transactions for tests.
package testutils

import (
	"encoding/binary"

	"github.com/ringchain/ringd/domain/chain/model"
)

// DeterministicHash derives a hash from a label and a list of numbers.
func DeterministicHash(label string, values ...uint64) model.Hash {
	data := []byte(label)
	for _, v := range values {
		data = binary.LittleEndian.AppendUint64(data, v)
	}
	return model.Keccak256(data)
}

// MinerTx returns a coinbase transaction for height paying amount to a
// single output. Version 2 coinbases carry a null RingCT signature.
func MinerTx(version, height, amount uint64) *model.Transaction {
	return &model.Transaction{
		Version:    version,
		UnlockTime: height + 60,
		Inputs:     []model.TxInput{{Type: model.InputGen, Height: height}},
		Outputs: []model.TxOutput{{
			Amount: amount,
			Type:   model.OutputToKey,
			Key:    DeterministicHash("miner output", height, version),
		}},
		Extra: []byte{0x01},
	}
}

// PreRCTTx returns a version 1 transaction spending one key input per key
// image with the given visible output amounts.
func PreRCTTx(seed uint64, keyImages []model.Hash, amounts []uint64) *model.Transaction {
	tx := &model.Transaction{Version: 1, Extra: []byte{0x02, byte(seed)}}
	var inputAmount uint64
	for _, amount := range amounts {
		inputAmount += amount
	}
	for i, keyImage := range keyImages {
		amount := uint64(0)
		if i == 0 {
			amount = inputAmount + 1000
		}
		tx.Inputs = append(tx.Inputs, model.TxInput{
			Type:       model.InputToKey,
			Amount:     amount,
			KeyOffsets: []uint64{seed, 1},
			KeyImage:   keyImage,
		})
		signatures := make([]byte, 2*64)
		for j := range signatures {
			signatures[j] = byte(seed) ^ byte(j)
		}
		tx.Prunable = append(tx.Prunable, signatures...)
	}
	for i, amount := range amounts {
		tx.Outputs = append(tx.Outputs, model.TxOutput{
			Amount: amount,
			Type:   model.OutputToKey,
			Key:    DeterministicHash("pre-rct output", seed, uint64(i)),
		})
	}
	return tx
}

// RCTTx returns a version 2 transaction with a bulletproof-plus signature,
// one key input per key image and outputCount hidden-amount outputs.
func RCTTx(seed uint64, keyImages []model.Hash, outputCount int, fee uint64) *model.Transaction {
	tx := &model.Transaction{
		Version: 2,
		Extra:   []byte{0x02, byte(seed)},
		RingCT:  model.RingCTBase{Type: model.RCTTypeBulletproofPlus, Fee: fee},
	}
	for _, keyImage := range keyImages {
		tx.Inputs = append(tx.Inputs, model.TxInput{
			Type:       model.InputToKey,
			KeyOffsets: []uint64{seed, 3, 7},
			KeyImage:   keyImage,
		})
	}
	for i := 0; i < outputCount; i++ {
		tx.Outputs = append(tx.Outputs, model.TxOutput{
			Type:    model.OutputToTaggedKey,
			Key:     DeterministicHash("rct output", seed, uint64(i)),
			ViewTag: byte(i),
		})
		tx.RingCT.EcdhInfo = append(tx.RingCT.EcdhInfo, binary.LittleEndian.AppendUint64(nil, seed+uint64(i)))
		tx.RingCT.OutPk = append(tx.RingCT.OutPk, DeterministicHash("commitment", seed, uint64(i)))
	}
	prunable := DeterministicHash("prunable", seed)
	tx.Prunable = prunable[:]
	return tx
}

// Block assembles a block on top of prevID.
func Block(prevID model.Hash, height uint64, minerTx *model.Transaction, txs []*model.Transaction) *model.Block {
	block := &model.Block{
		Header: model.BlockHeader{
			MajorVersion: 16,
			MinorVersion: 16,
			Timestamp:    1600000000 + height*120,
			PrevID:       prevID,
			Nonce:        uint32(height),
		},
		MinerTx: *minerTx,
	}
	for _, tx := range txs {
		block.TxHashes = append(block.TxHashes, tx.Hash())
	}
	return block
}

// BlockWithTxs is a block together with its non-miner transactions.
type BlockWithTxs = model.BlockWithTxs

// Chain builds count consecutive blocks starting at startHeight on top of
// prevID. Every block carries one RingCT transaction; key images are unique
// across the chain.
func Chain(prevID model.Hash, startHeight uint64, count int) []BlockWithTxs {
	blocks := make([]BlockWithTxs, 0, count)
	for i := 0; i < count; i++ {
		height := startHeight + uint64(i)
		tx := RCTTx(height, []model.Hash{DeterministicHash("key image", height)}, 2, 30000)
		block := Block(prevID, height, MinerTx(2, height, 600000000000), []*model.Transaction{tx})
		blocks = append(blocks, BlockWithTxs{Block: block, Txs: []*model.Transaction{tx}})
		prevID = block.Hash()
	}
	return blocks
}

// VerifiedBlock derives the values a verifier would attach to entry.
func VerifiedBlock(entry BlockWithTxs, cumulativeDifficulty model.Difficulty) *model.VerifiedBlock {
	block := entry.Block
	height, _ := block.Number()
	verified := &model.VerifiedBlock{
		Block:                block,
		Hash:                 block.Hash(),
		Height:               height,
		CumulativeDifficulty: cumulativeDifficulty,
		Weight:               uint64(len(block.MinerTx.Blob())),
	}

	var fees uint64
	for _, tx := range entry.Txs {
		fee, err := tx.Fee()
		if err != nil {
			panic(err)
		}
		fees += fee
		weight := uint64(len(tx.Blob()))
		verified.Weight += weight
		verified.Txs = append(verified.Txs, &model.VerifiedTransaction{
			Tx:     tx,
			Hash:   tx.Hash(),
			Weight: weight,
			Fee:    fee,
		})
	}
	verified.LongTermWeight = verified.Weight

	var reward uint64
	for _, output := range block.MinerTx.Outputs {
		reward += output.Amount
	}
	if reward > fees {
		verified.GeneratedCoins = reward - fees
	}
	return verified
}

// VerifiedChain is Chain with every block verified at difficulty one.
func VerifiedChain(prevID model.Hash, startHeight uint64, count int) []*model.VerifiedBlock {
	chain := Chain(prevID, startHeight, count)
	verified := make([]*model.VerifiedBlock, len(chain))
	for i, entry := range chain {
		verified[i] = VerifiedBlock(entry, model.DifficultyFromUint64(startHeight+uint64(i)+1))
	}
	return verified
}
