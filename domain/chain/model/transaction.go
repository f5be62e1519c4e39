package model

import (
	"github.com/pkg/errors"
)

// InputType tags the variant of a TxInput.
type InputType byte

// Input variants as tagged on the wire.
const (
	InputToKey InputType = 0x02
	InputGen   InputType = 0xff
)

// OutputType tags the variant of a TxOutput.
type OutputType byte

// Output variants as tagged on the wire.
const (
	OutputToKey       OutputType = 0x02
	OutputToTaggedKey OutputType = 0x03
)

// RingCT signature types.
const (
	RCTTypeNull            byte = 0
	RCTTypeFull            byte = 1
	RCTTypeSimple          byte = 2
	RCTTypeBulletproof     byte = 3
	RCTTypeBulletproof2    byte = 4
	RCTTypeCLSAG           byte = 5
	RCTTypeBulletproofPlus byte = 6
)

// ringSignatureSize is the size of one v1 ring member signature (c, r).
const ringSignatureSize = 64

// TxInput is either a coinbase input carrying the block height or a key
// input spending ring members and revealing a key image.
type TxInput struct {
	Type InputType

	// Height is set for InputGen.
	Height uint64

	// Amount, KeyOffsets and KeyImage are set for InputToKey.
	Amount     uint64
	KeyOffsets []uint64
	KeyImage   Hash
}

// TxOutput is a one-time key with a visible amount, or amount zero for
// outputs whose amount is hidden behind a commitment.
type TxOutput struct {
	Amount  uint64
	Type    OutputType
	Key     Hash
	ViewTag byte
}

// RingCTBase is the prunable-independent part of a v2 signature.
type RingCTBase struct {
	Type       byte
	Fee        uint64
	PseudoOuts []Hash
	// EcdhInfo holds one encrypted amount record per output: 8 bytes for
	// the compact types, 64 bytes otherwise.
	EcdhInfo [][]byte
	// OutPk holds one amount commitment per output.
	OutPk []Hash
}

// Transaction is a decoded transaction. The prunable part is kept opaque.
type Transaction struct {
	Version    uint64
	UnlockTime uint64
	Inputs     []TxInput
	Outputs    []TxOutput
	Extra      []byte
	RingCT     RingCTBase
	Prunable   []byte
}

// IsCoinbase reports whether tx has a single InputGen input.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].Type == InputGen
}

// PrefixBlob serializes the transaction prefix.
func (tx *Transaction) PrefixBlob() []byte {
	b := AppendVarint(nil, tx.Version)
	b = AppendVarint(b, tx.UnlockTime)
	b = AppendVarint(b, uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		b = append(b, byte(in.Type))
		switch in.Type {
		case InputGen:
			b = AppendVarint(b, in.Height)
		case InputToKey:
			b = AppendVarint(b, in.Amount)
			b = AppendVarint(b, uint64(len(in.KeyOffsets)))
			for _, offset := range in.KeyOffsets {
				b = AppendVarint(b, offset)
			}
			b = append(b, in.KeyImage[:]...)
		}
	}
	b = AppendVarint(b, uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		b = AppendVarint(b, out.Amount)
		b = append(b, byte(out.Type))
		b = append(b, out.Key[:]...)
		if out.Type == OutputToTaggedKey {
			b = append(b, out.ViewTag)
		}
	}
	b = AppendVarint(b, uint64(len(tx.Extra)))
	return append(b, tx.Extra...)
}

// RingCTBaseBlob serializes the RingCT base. It is empty for v1.
func (tx *Transaction) RingCTBaseBlob() []byte {
	if tx.Version < 2 {
		return nil
	}
	base := tx.RingCT
	b := []byte{base.Type}
	if base.Type == RCTTypeNull {
		return b
	}
	b = AppendVarint(b, base.Fee)
	for _, pseudoOut := range base.PseudoOuts {
		b = append(b, pseudoOut[:]...)
	}
	for _, info := range base.EcdhInfo {
		b = append(b, info...)
	}
	for _, pk := range base.OutPk {
		b = append(b, pk[:]...)
	}
	return b
}

// PrunedBlob is the part of the transaction kept by pruned nodes.
func (tx *Transaction) PrunedBlob() []byte {
	return append(tx.PrefixBlob(), tx.RingCTBaseBlob()...)
}

// PrunableBlob is the signature data dropped by pruned nodes.
func (tx *Transaction) PrunableBlob() []byte {
	return tx.Prunable
}

// Blob is the full serialized transaction.
func (tx *Transaction) Blob() []byte {
	return append(tx.PrunedBlob(), tx.Prunable...)
}

// PrunableHash commits to the prunable data of a v2 transaction. It is the
// zero hash when there is no RingCT signature.
func (tx *Transaction) PrunableHash() Hash {
	if tx.Version < 2 || tx.RingCT.Type == RCTTypeNull {
		return ZeroHash
	}
	return Keccak256(tx.Prunable)
}

// Hash returns the transaction id.
func (tx *Transaction) Hash() Hash {
	if tx.Version < 2 {
		return Keccak256(tx.Blob())
	}
	prefixHash := Keccak256(tx.PrefixBlob())
	baseHash := Keccak256(tx.RingCTBaseBlob())
	prunableHash := tx.PrunableHash()
	return Keccak256(prefixHash[:], baseHash[:], prunableHash[:])
}

// Fee returns the fee paid by tx. Coinbase transactions pay no fee.
func (tx *Transaction) Fee() (uint64, error) {
	if tx.IsCoinbase() {
		return 0, nil
	}
	if tx.Version >= 2 {
		return tx.RingCT.Fee, nil
	}
	var in, out uint64
	for _, input := range tx.Inputs {
		in += input.Amount
	}
	for _, output := range tx.Outputs {
		out += output.Amount
	}
	if out > in {
		return 0, errors.Errorf("transaction %s spends %d but creates %d", tx.Hash(), in, out)
	}
	return in - out, nil
}

// DeserializeTransaction decodes a standalone transaction blob.
func DeserializeTransaction(blob []byte) (*Transaction, error) {
	r := newBlobReader(blob)
	tx, err := readTransaction(r, true)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, malformedf("%d trailing bytes after transaction", r.Len())
	}
	return tx, nil
}

// DeserializePrunedTransaction decodes a pruned blob together with its
// prunable blob, which may be empty if it was pruned away.
func DeserializePrunedTransaction(pruned, prunable []byte) (*Transaction, error) {
	r := newBlobReader(pruned)
	tx, err := readTransaction(r, false)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, malformedf("%d trailing bytes after pruned transaction", r.Len())
	}
	tx.Prunable = append([]byte(nil), prunable...)
	return tx, nil
}

// readTransaction decodes a transaction from r. When withPrunable is set
// the prunable part is read too: its length is implied by the inputs for v1
// and it extends to the end of r for v2 signatures.
func readTransaction(r *blobReader, withPrunable bool) (*Transaction, error) {
	tx := &Transaction{}
	var err error
	tx.Version, err = r.readVarint("version")
	if err != nil {
		return nil, err
	}
	if tx.Version != 1 && tx.Version != 2 {
		return nil, malformedf("unsupported transaction version %d", tx.Version)
	}
	tx.UnlockTime, err = r.readVarint("unlock time")
	if err != nil {
		return nil, err
	}

	inputCount, err := r.readCount("input")
	if err != nil {
		return nil, err
	}
	tx.Inputs = make([]TxInput, 0, preallocation(inputCount))
	for i := uint64(0); i < inputCount; i++ {
		input, err := readInput(r)
		if err != nil {
			return nil, errors.Wrapf(err, "input %d", i)
		}
		tx.Inputs = append(tx.Inputs, input)
	}

	outputCount, err := r.readCount("output")
	if err != nil {
		return nil, err
	}
	tx.Outputs = make([]TxOutput, 0, preallocation(outputCount))
	for i := uint64(0); i < outputCount; i++ {
		output, err := readOutput(r)
		if err != nil {
			return nil, errors.Wrapf(err, "output %d", i)
		}
		tx.Outputs = append(tx.Outputs, output)
	}

	extraLength, err := r.readVarint("extra length")
	if err != nil {
		return nil, err
	}
	tx.Extra, err = r.readBytes("extra", extraLength)
	if err != nil {
		return nil, err
	}

	if tx.Version == 1 {
		if !withPrunable {
			return tx, nil
		}
		signatureLength := uint64(0)
		for _, input := range tx.Inputs {
			if input.Type == InputToKey {
				signatureLength += uint64(len(input.KeyOffsets)) * ringSignatureSize
			}
		}
		tx.Prunable, err = r.readBytes("ring signatures", signatureLength)
		if err != nil {
			return nil, err
		}
		return tx, nil
	}

	tx.RingCT, err = readRingCTBase(r, len(tx.Inputs), len(tx.Outputs))
	if err != nil {
		return nil, err
	}
	if withPrunable && tx.RingCT.Type != RCTTypeNull {
		tx.Prunable = r.rest()
	}
	return tx, nil
}

func readInput(r *blobReader) (TxInput, error) {
	tag, err := r.readByte("input type")
	if err != nil {
		return TxInput{}, err
	}
	input := TxInput{Type: InputType(tag)}
	switch input.Type {
	case InputGen:
		input.Height, err = r.readVarint("height")
		return input, err
	case InputToKey:
		input.Amount, err = r.readVarint("amount")
		if err != nil {
			return input, err
		}
		offsetCount, err := r.readCount("key offset")
		if err != nil {
			return input, err
		}
		input.KeyOffsets = make([]uint64, 0, preallocation(offsetCount))
		for i := uint64(0); i < offsetCount; i++ {
			offset, err := r.readVarint("key offset")
			if err != nil {
				return input, err
			}
			input.KeyOffsets = append(input.KeyOffsets, offset)
		}
		input.KeyImage, err = r.readHash("key image")
		return input, err
	}
	return input, malformedf("unsupported input type %#x", tag)
}

func readOutput(r *blobReader) (TxOutput, error) {
	var output TxOutput
	var err error
	output.Amount, err = r.readVarint("amount")
	if err != nil {
		return output, err
	}
	tag, err := r.readByte("output type")
	if err != nil {
		return output, err
	}
	output.Type = OutputType(tag)
	if output.Type != OutputToKey && output.Type != OutputToTaggedKey {
		return output, malformedf("unsupported output type %#x", tag)
	}
	output.Key, err = r.readHash("output key")
	if err != nil {
		return output, err
	}
	if output.Type == OutputToTaggedKey {
		output.ViewTag, err = r.readByte("view tag")
	}
	return output, err
}

func readRingCTBase(r *blobReader, inputCount, outputCount int) (RingCTBase, error) {
	var base RingCTBase
	var err error
	base.Type, err = r.readByte("ringct type")
	if err != nil {
		return base, err
	}
	if base.Type == RCTTypeNull {
		return base, nil
	}
	if base.Type > RCTTypeBulletproofPlus {
		return base, malformedf("unsupported ringct type %d", base.Type)
	}
	base.Fee, err = r.readVarint("fee")
	if err != nil {
		return base, err
	}
	if base.Type == RCTTypeSimple {
		base.PseudoOuts = make([]Hash, inputCount)
		for i := range base.PseudoOuts {
			base.PseudoOuts[i], err = r.readHash("pseudo output")
			if err != nil {
				return base, err
			}
		}
	}
	ecdhSize := uint64(64)
	if base.Type >= RCTTypeBulletproof2 {
		ecdhSize = 8
	}
	base.EcdhInfo = make([][]byte, outputCount)
	for i := range base.EcdhInfo {
		base.EcdhInfo[i], err = r.readBytes("ecdh info", ecdhSize)
		if err != nil {
			return base, err
		}
	}
	base.OutPk = make([]Hash, outputCount)
	for i := range base.OutPk {
		base.OutPk[i], err = r.readHash("output commitment")
		if err != nil {
			return base, err
		}
	}
	return base, nil
}
