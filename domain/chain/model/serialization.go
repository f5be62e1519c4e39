package model

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Values inside consensus blobs are little-endian base-128 varints, the same
// encoding as encoding/binary's Uvarint.

// maxAllocation bounds slice preallocation driven by untrusted counts.
const maxAllocation = 1 << 16

type blobReader struct {
	*bytes.Reader
}

func newBlobReader(blob []byte) *blobReader {
	return &blobReader{Reader: bytes.NewReader(blob)}
}

func (r *blobReader) readVarint(field string) (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, malformedf("cannot read %s: %s", field, err)
	}
	return v, nil
}

func (r *blobReader) readByte(field string) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, malformedf("cannot read %s: %s", field, err)
	}
	return b, nil
}

func (r *blobReader) readHash(field string) (Hash, error) {
	var h Hash
	_, err := io.ReadFull(r, h[:])
	if err != nil {
		return h, malformedf("cannot read %s: %s", field, err)
	}
	return h, nil
}

func (r *blobReader) readBytes(field string, n uint64) ([]byte, error) {
	if n > uint64(r.Len()) {
		return nil, malformedf("%s needs %d bytes, only %d left", field, n, r.Len())
	}
	b := make([]byte, n)
	_, err := io.ReadFull(r, b)
	if err != nil {
		return nil, malformedf("cannot read %s: %s", field, err)
	}
	return b, nil
}

func (r *blobReader) readCount(field string) (uint64, error) {
	n, err := r.readVarint(field)
	if err != nil {
		return 0, err
	}
	if n > uint64(r.Len()) {
		return 0, malformedf("%s count %d exceeds remaining %d bytes", field, n, r.Len())
	}
	return n, nil
}

func (r *blobReader) rest() []byte {
	b := make([]byte, r.Len())
	_, _ = io.ReadFull(r, b)
	return b
}

func preallocation(n uint64) int {
	if n > maxAllocation {
		return maxAllocation
	}
	return int(n)
}

// AppendVarint appends v in consensus varint encoding.
func AppendVarint(b []byte, v uint64) []byte {
	return binary.AppendUvarint(b, v)
}
