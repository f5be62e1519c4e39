package model

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// BlockHeader is the fixed part of a block.
type BlockHeader struct {
	MajorVersion uint8
	MinorVersion uint8
	Timestamp    uint64
	PrevID       Hash
	Nonce        uint32
}

// Block is a header, the miner transaction and the ids of the block's
// other transactions.
type Block struct {
	Header   BlockHeader
	MinerTx  Transaction
	TxHashes []Hash
}

// Serialize appends the header encoding to b.
func (h *BlockHeader) Serialize(b []byte) []byte {
	b = AppendVarint(b, uint64(h.MajorVersion))
	b = AppendVarint(b, uint64(h.MinorVersion))
	b = AppendVarint(b, h.Timestamp)
	b = append(b, h.PrevID[:]...)
	return binary.LittleEndian.AppendUint32(b, h.Nonce)
}

// HeaderBlob returns the serialized header.
func (b *Block) HeaderBlob() []byte {
	return b.Header.Serialize(nil)
}

// Blob returns the serialized block.
func (b *Block) Blob() []byte {
	blob := b.Header.Serialize(nil)
	blob = append(blob, b.MinerTx.Blob()...)
	blob = AppendVarint(blob, uint64(len(b.TxHashes)))
	for _, txHash := range b.TxHashes {
		blob = append(blob, txHash[:]...)
	}
	return blob
}

// HashingBlob is the data proof-of-work and the block id commit to.
func (b *Block) HashingBlob() []byte {
	hashes := make([]Hash, 0, len(b.TxHashes)+1)
	hashes = append(hashes, b.MinerTx.Hash())
	hashes = append(hashes, b.TxHashes...)
	root := TreeHash(hashes)

	blob := b.Header.Serialize(nil)
	blob = append(blob, root[:]...)
	return AppendVarint(blob, uint64(len(hashes)))
}

// Hash returns the block id.
func (b *Block) Hash() Hash {
	hashingBlob := b.HashingBlob()
	return Keccak256(AppendVarint(nil, uint64(len(hashingBlob))), hashingBlob)
}

// Number returns the height the miner transaction claims, or false if the
// miner transaction is not a coinbase.
func (b *Block) Number() (uint64, bool) {
	if !b.MinerTx.IsCoinbase() {
		return 0, false
	}
	return b.MinerTx.Inputs[0].Height, true
}

// DeserializeBlock decodes a block blob.
func DeserializeBlock(blob []byte) (*Block, error) {
	r := newBlobReader(blob)
	header, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	minerTx, err := readTransaction(r, false)
	if err != nil {
		return nil, errors.Wrap(err, "miner transaction")
	}
	if minerTx.Version >= 2 && minerTx.RingCT.Type != RCTTypeNull {
		return nil, malformedf("miner transaction has ringct type %d", minerTx.RingCT.Type)
	}
	if minerTx.Version == 1 {
		for _, input := range minerTx.Inputs {
			if input.Type != InputGen {
				return nil, malformedf("miner transaction spends a key input")
			}
		}
	}

	txCount, err := r.readCount("transaction hash")
	if err != nil {
		return nil, err
	}
	block := &Block{Header: header, MinerTx: *minerTx, TxHashes: make([]Hash, 0, preallocation(txCount))}
	for i := uint64(0); i < txCount; i++ {
		txHash, err := r.readHash("transaction hash")
		if err != nil {
			return nil, err
		}
		block.TxHashes = append(block.TxHashes, txHash)
	}
	if r.Len() != 0 {
		return nil, malformedf("%d trailing bytes after block", r.Len())
	}
	return block, nil
}

// DeserializeBlockHeader decodes a header blob.
func DeserializeBlockHeader(blob []byte) (*BlockHeader, error) {
	r := newBlobReader(blob)
	header, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, malformedf("%d trailing bytes after block header", r.Len())
	}
	return &header, nil
}

func readHeader(r *blobReader) (BlockHeader, error) {
	var header BlockHeader
	major, err := r.readVarint("major version")
	if err != nil {
		return header, err
	}
	minor, err := r.readVarint("minor version")
	if err != nil {
		return header, err
	}
	if major > 0xff || minor > 0xff {
		return header, malformedf("block version %d.%d out of range", major, minor)
	}
	header.MajorVersion, header.MinorVersion = uint8(major), uint8(minor)
	header.Timestamp, err = r.readVarint("timestamp")
	if err != nil {
		return header, err
	}
	header.PrevID, err = r.readHash("previous block id")
	if err != nil {
		return header, err
	}
	nonce, err := r.readBytes("nonce", 4)
	if err != nil {
		return header, err
	}
	header.Nonce = binary.LittleEndian.Uint32(nonce)
	return header, nil
}
