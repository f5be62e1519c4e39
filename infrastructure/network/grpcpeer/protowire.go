package grpcpeer

import (
	"github.com/pkg/errors"
	"github.com/ringchain/ringd/domain/chain/model"
	"google.golang.org/protobuf/encoding/protowire"
)

// Messages are encoded in protobuf wire format without generated code.

const codecName = "ringwire"

type wireMessage interface {
	marshal() []byte
	unmarshal(data []byte) error
}

// codec is the grpc codec for wireMessages.
type codec struct{}

func (codec) Marshal(v interface{}) ([]byte, error) {
	message, ok := v.(wireMessage)
	if !ok {
		return nil, errors.Errorf("cannot marshal %T", v)
	}
	return message.marshal(), nil
}

func (codec) Unmarshal(data []byte, v interface{}) error {
	message, ok := v.(wireMessage)
	if !ok {
		return errors.Errorf("cannot unmarshal into %T", v)
	}
	return message.unmarshal(data)
}

func (codec) Name() string {
	return codecName
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendHashesField(b []byte, num protowire.Number, hashes []model.Hash) []byte {
	for _, hash := range hashes {
		b = appendBytesField(b, num, hash[:])
	}
	return b
}

type field struct {
	number protowire.Number
	varint uint64
	bytes  []byte
}

// consumeFields calls visit for every varint and bytes field of data.
// Fields of other types are skipped.
func consumeFields(data []byte, message string, visit func(f *field) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "cannot decode %s", message)
		}
		data = data[n:]

		f := &field{number: num}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(data)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "cannot decode %s field %d", message, num)
			}
			data = data[n:]
			continue
		}
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "cannot decode %s field %d", message, num)
		}
		data = data[n:]

		err := visit(f)
		if err != nil {
			return errors.Wrapf(err, "cannot decode %s field %d", message, num)
		}
	}
	return nil
}

func (f *field) appendHash(hashes []model.Hash) ([]model.Hash, error) {
	hash, err := model.NewHashFromBytes(f.bytes)
	if err != nil {
		return nil, err
	}
	return append(hashes, hash), nil
}

func cloneBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}

type getInfoRequest struct{}

func (*getInfoRequest) marshal() []byte { return nil }

func (*getInfoRequest) unmarshal(data []byte) error {
	return consumeFields(data, "GetInfoRequest", func(*field) error { return nil })
}

type getInfoResponse struct {
	height               uint64
	topHash              model.Hash
	cumulativeDifficulty model.Difficulty
	pruningSeed          uint32
}

func (m *getInfoResponse) marshal() []byte {
	b := appendVarintField(nil, 1, m.height)
	b = appendBytesField(b, 2, m.topHash[:])
	b = appendVarintField(b, 3, m.cumulativeDifficulty.Lo)
	b = appendVarintField(b, 4, m.cumulativeDifficulty.Hi)
	return appendVarintField(b, 5, uint64(m.pruningSeed))
}

func (m *getInfoResponse) unmarshal(data []byte) error {
	return consumeFields(data, "GetInfoResponse", func(f *field) (err error) {
		switch f.number {
		case 1:
			m.height = f.varint
		case 2:
			m.topHash, err = model.NewHashFromBytes(f.bytes)
		case 3:
			m.cumulativeDifficulty.Lo = f.varint
		case 4:
			m.cumulativeDifficulty.Hi = f.varint
		case 5:
			if f.varint > 1<<32-1 {
				return errors.Errorf("pruning seed %d overflows", f.varint)
			}
			m.pruningSeed = uint32(f.varint)
		}
		return err
	})
}

type getChainRequest struct {
	history []model.Hash
}

func (m *getChainRequest) marshal() []byte {
	return appendHashesField(nil, 1, m.history)
}

func (m *getChainRequest) unmarshal(data []byte) error {
	return consumeFields(data, "GetChainRequest", func(f *field) (err error) {
		if f.number == 1 {
			m.history, err = f.appendHash(m.history)
		}
		return err
	})
}

type getChainResponse struct {
	startHeight          uint64
	blockIDs             []model.Hash
	cumulativeDifficulty model.Difficulty
}

func (m *getChainResponse) marshal() []byte {
	b := appendVarintField(nil, 1, m.startHeight)
	b = appendHashesField(b, 2, m.blockIDs)
	b = appendVarintField(b, 3, m.cumulativeDifficulty.Lo)
	return appendVarintField(b, 4, m.cumulativeDifficulty.Hi)
}

func (m *getChainResponse) unmarshal(data []byte) error {
	return consumeFields(data, "GetChainResponse", func(f *field) (err error) {
		switch f.number {
		case 1:
			m.startHeight = f.varint
		case 2:
			m.blockIDs, err = f.appendHash(m.blockIDs)
		case 3:
			m.cumulativeDifficulty.Lo = f.varint
		case 4:
			m.cumulativeDifficulty.Hi = f.varint
		}
		return err
	})
}

type getObjectsRequest struct {
	blockIDs []model.Hash
}

func (m *getObjectsRequest) marshal() []byte {
	return appendHashesField(nil, 1, m.blockIDs)
}

func (m *getObjectsRequest) unmarshal(data []byte) error {
	return consumeFields(data, "GetObjectsRequest", func(f *field) (err error) {
		if f.number == 1 {
			m.blockIDs, err = f.appendHash(m.blockIDs)
		}
		return err
	})
}

// blockBlobs is a serialized block and its serialized transactions.
type blockBlobs struct {
	block []byte
	txs   [][]byte
}

func (m *blockBlobs) marshal() []byte {
	b := appendBytesField(nil, 1, m.block)
	for _, tx := range m.txs {
		b = appendBytesField(b, 2, tx)
	}
	return b
}

func (m *blockBlobs) unmarshal(data []byte) error {
	return consumeFields(data, "BlockBlobs", func(f *field) error {
		switch f.number {
		case 1:
			m.block = cloneBytes(f.bytes)
		case 2:
			m.txs = append(m.txs, cloneBytes(f.bytes))
		}
		return nil
	})
}

type getObjectsResponse struct {
	blocks []*blockBlobs
}

func (m *getObjectsResponse) marshal() []byte {
	var b []byte
	for _, block := range m.blocks {
		b = appendBytesField(b, 1, block.marshal())
	}
	return b
}

func (m *getObjectsResponse) unmarshal(data []byte) error {
	return consumeFields(data, "GetObjectsResponse", func(f *field) error {
		if f.number != 1 {
			return nil
		}
		block := &blockBlobs{}
		err := block.unmarshal(f.bytes)
		if err != nil {
			return err
		}
		m.blocks = append(m.blocks, block)
		return nil
	})
}
