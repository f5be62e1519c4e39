package chainstore

import (
	"github.com/pkg/errors"
	"github.com/ringchain/ringd/domain/chain/model"
	"google.golang.org/protobuf/encoding/protowire"
)

// Records are stored in protobuf wire format. Unknown fields are skipped
// when decoding so records can gain fields without a migration.

// BlockInfo is the per-height metadata of a main chain block.
type BlockInfo struct {
	Timestamp                uint64
	CumulativeGeneratedCoins uint64
	Weight                   uint64
	CumulativeDifficulty     model.Difficulty
	BlockHash                model.Hash
	CumulativeRCTOutputs     uint64
	LongTermWeight           uint64
	MinerTxID                uint64
}

// Output is a stored transaction output. Commitment is only set for
// outputs in the RingCT keyspace.
type Output struct {
	Key        model.Hash
	Height     uint64
	UnlockTime uint64
	TxID       uint64
	TxHash     model.Hash
	LocalIndex uint64
	Commitment model.Hash
}

type altBlockHeight struct {
	chainID model.ChainID
	height  uint64
}

// AltBlockInfo is the metadata of a block stored on an alternative chain.
type AltBlockInfo struct {
	BlockHash            model.Hash
	PowHash              model.Hash
	Height               uint64
	Weight               uint64
	LongTermWeight       uint64
	CumulativeDifficulty model.Difficulty
}

// AltChainInfo describes an alternative chain. ParentChain is zero when
// the chain branches off the main chain.
type AltChainInfo struct {
	ParentChain          model.ChainID
	CommonAncestorHeight uint64
	ChainHeight          uint64
}

type altTransactionInfo struct {
	weight uint64
	fee    uint64
	txHash model.Hash
}

func appendUint64Field(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

type fieldValue struct {
	number protowire.Number
	varint uint64
	bytes  []byte
}

func (f fieldValue) hash() (model.Hash, error) {
	return model.NewHashFromBytes(f.bytes)
}

func decodeRecord(data []byte, record string, visit func(field fieldValue) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "cannot decode %s tag", record)
		}
		data = data[n:]

		field := fieldValue{number: num}
		switch typ {
		case protowire.VarintType:
			field.varint, n = protowire.ConsumeVarint(data)
		case protowire.BytesType:
			field.bytes, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n >= 0 {
				data = data[n:]
				continue
			}
		}
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "cannot decode %s field %d", record, num)
		}
		data = data[n:]

		err := visit(field)
		if err != nil {
			return errors.Wrapf(err, "cannot decode %s field %d", record, num)
		}
	}
	return nil
}

func serializeBlockInfo(info *BlockInfo) []byte {
	b := appendUint64Field(nil, 1, info.Timestamp)
	b = appendUint64Field(b, 2, info.CumulativeGeneratedCoins)
	b = appendUint64Field(b, 3, info.Weight)
	b = appendUint64Field(b, 4, info.CumulativeDifficulty.Lo)
	b = appendUint64Field(b, 5, info.CumulativeDifficulty.Hi)
	b = appendBytesField(b, 6, info.BlockHash[:])
	b = appendUint64Field(b, 7, info.CumulativeRCTOutputs)
	b = appendUint64Field(b, 8, info.LongTermWeight)
	return appendUint64Field(b, 9, info.MinerTxID)
}

func deserializeBlockInfo(data []byte) (*BlockInfo, error) {
	info := &BlockInfo{}
	err := decodeRecord(data, "block info", func(f fieldValue) (err error) {
		switch f.number {
		case 1:
			info.Timestamp = f.varint
		case 2:
			info.CumulativeGeneratedCoins = f.varint
		case 3:
			info.Weight = f.varint
		case 4:
			info.CumulativeDifficulty.Lo = f.varint
		case 5:
			info.CumulativeDifficulty.Hi = f.varint
		case 6:
			info.BlockHash, err = f.hash()
		case 7:
			info.CumulativeRCTOutputs = f.varint
		case 8:
			info.LongTermWeight = f.varint
		case 9:
			info.MinerTxID = f.varint
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func serializeOutput(output *Output) []byte {
	b := appendBytesField(nil, 1, output.Key[:])
	b = appendUint64Field(b, 2, output.Height)
	b = appendUint64Field(b, 3, output.UnlockTime)
	b = appendUint64Field(b, 4, output.TxID)
	b = appendBytesField(b, 5, output.TxHash[:])
	b = appendUint64Field(b, 6, output.LocalIndex)
	if !output.Commitment.IsZero() {
		b = appendBytesField(b, 7, output.Commitment[:])
	}
	return b
}

func deserializeOutput(data []byte) (*Output, error) {
	output := &Output{}
	err := decodeRecord(data, "output", func(f fieldValue) (err error) {
		switch f.number {
		case 1:
			output.Key, err = f.hash()
		case 2:
			output.Height = f.varint
		case 3:
			output.UnlockTime = f.varint
		case 4:
			output.TxID = f.varint
		case 5:
			output.TxHash, err = f.hash()
		case 6:
			output.LocalIndex = f.varint
		case 7:
			output.Commitment, err = f.hash()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return output, nil
}

func serializeOutputIndices(indices []uint64) []byte {
	var b []byte
	for _, index := range indices {
		b = protowire.AppendVarint(b, index)
	}
	return b
}

func deserializeOutputIndices(data []byte) ([]uint64, error) {
	var indices []uint64
	for len(data) > 0 {
		index, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "cannot decode output indices")
		}
		indices = append(indices, index)
		data = data[n:]
	}
	return indices, nil
}

func serializeHashes(hashes []model.Hash) []byte {
	b := make([]byte, 0, len(hashes)*model.HashSize)
	for _, hash := range hashes {
		b = append(b, hash[:]...)
	}
	return b
}

func deserializeHashes(data []byte) ([]model.Hash, error) {
	if len(data)%model.HashSize != 0 {
		return nil, errors.Errorf("hash list length %d is not a multiple of %d", len(data), model.HashSize)
	}
	hashes := make([]model.Hash, len(data)/model.HashSize)
	for i := range hashes {
		copy(hashes[i][:], data[i*model.HashSize:])
	}
	return hashes, nil
}

func serializeAltBlockHeight(h altBlockHeight) []byte {
	b := appendUint64Field(nil, 1, uint64(h.chainID))
	return appendUint64Field(b, 2, h.height)
}

func deserializeAltBlockHeight(data []byte) (altBlockHeight, error) {
	var h altBlockHeight
	err := decodeRecord(data, "alt block height", func(f fieldValue) error {
		switch f.number {
		case 1:
			h.chainID = model.ChainID(f.varint)
		case 2:
			h.height = f.varint
		}
		return nil
	})
	return h, err
}

func serializeAltBlockInfo(info *AltBlockInfo) []byte {
	b := appendBytesField(nil, 1, info.BlockHash[:])
	b = appendBytesField(b, 2, info.PowHash[:])
	b = appendUint64Field(b, 3, info.Height)
	b = appendUint64Field(b, 4, info.Weight)
	b = appendUint64Field(b, 5, info.LongTermWeight)
	b = appendUint64Field(b, 6, info.CumulativeDifficulty.Lo)
	return appendUint64Field(b, 7, info.CumulativeDifficulty.Hi)
}

func deserializeAltBlockInfo(data []byte) (*AltBlockInfo, error) {
	info := &AltBlockInfo{}
	err := decodeRecord(data, "alt block info", func(f fieldValue) (err error) {
		switch f.number {
		case 1:
			info.BlockHash, err = f.hash()
		case 2:
			info.PowHash, err = f.hash()
		case 3:
			info.Height = f.varint
		case 4:
			info.Weight = f.varint
		case 5:
			info.LongTermWeight = f.varint
		case 6:
			info.CumulativeDifficulty.Lo = f.varint
		case 7:
			info.CumulativeDifficulty.Hi = f.varint
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func serializeAltChainInfo(info *AltChainInfo) []byte {
	b := appendUint64Field(nil, 1, uint64(info.ParentChain))
	b = appendUint64Field(b, 2, info.CommonAncestorHeight)
	return appendUint64Field(b, 3, info.ChainHeight)
}

func deserializeAltChainInfo(data []byte) (*AltChainInfo, error) {
	info := &AltChainInfo{}
	err := decodeRecord(data, "alt chain info", func(f fieldValue) error {
		switch f.number {
		case 1:
			info.ParentChain = model.ChainID(f.varint)
		case 2:
			info.CommonAncestorHeight = f.varint
		case 3:
			info.ChainHeight = f.varint
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func serializeAltTransactionInfo(info *altTransactionInfo) []byte {
	b := appendUint64Field(nil, 1, info.weight)
	b = appendUint64Field(b, 2, info.fee)
	return appendBytesField(b, 3, info.txHash[:])
}

func deserializeAltTransactionInfo(data []byte) (*altTransactionInfo, error) {
	info := &altTransactionInfo{}
	err := decodeRecord(data, "alt transaction info", func(f fieldValue) (err error) {
		switch f.number {
		case 1:
			info.weight = f.varint
		case 2:
			info.fee = f.varint
		case 3:
			info.txHash, err = f.hash()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}
