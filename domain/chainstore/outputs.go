package chainstore

import (
	"github.com/pkg/errors"
	"github.com/ringchain/ringd/domain/chain/model"
	"github.com/ringchain/ringd/domain/chain/ringct"
)

// rctOutputAppender assigns global indices to the RingCT outputs of one
// block and writes them in a single pass once the block is processed.
type rctOutputAppender struct {
	nextIndex uint64
	pending   []*Output
}

func (tx *StoreTx) newRCTOutputAppender(capacity int) (*rctOutputAppender, error) {
	cursor, err := tx.count(rctOutputCursorKey)
	if err != nil {
		return nil, err
	}
	return &rctOutputAppender{nextIndex: cursor, pending: make([]*Output, 0, capacity)}, nil
}

func (a *rctOutputAppender) add(output *Output) uint64 {
	a.pending = append(a.pending, output)
	return a.nextIndex + uint64(len(a.pending)) - 1
}

func (a *rctOutputAppender) flush(tx *StoreTx) (uint64, error) {
	for i, output := range a.pending {
		err := tx.accessor.Put(uint64Key(rctOutputsBucket, a.nextIndex+uint64(i)), serializeOutput(output))
		if err != nil {
			return 0, err
		}
	}
	appended := uint64(len(a.pending))
	err := tx.setCount(rctOutputCursorKey, a.nextIndex+appended)
	if err != nil {
		return 0, err
	}
	a.nextIndex += appended
	a.pending = a.pending[:0]
	return appended, nil
}

// addPreRCTOutput appends output to the keyspace of amount and returns its
// per-amount index.
func (tx *StoreTx) addPreRCTOutput(amount uint64, output *Output) (uint64, error) {
	numOutputs, err := tx.numPreRCTOutputs(amount)
	if err != nil {
		return 0, err
	}
	err = tx.accessor.Put(uint64Key(preRCTAmountBucket(amount), numOutputs), serializeOutput(output))
	if err != nil {
		return 0, err
	}
	return numOutputs, nil
}

func (tx *StoreTx) removePreRCTOutput(amount, amountIndex uint64) error {
	err := tx.deleteExisting(uint64Key(preRCTAmountBucket(amount), amountIndex))
	return errors.Wrapf(err, "output %d of amount %d", amountIndex, amount)
}

func (tx *StoreTx) removeRCTOutputs(count uint64) error {
	cursor, err := tx.count(rctOutputCursorKey)
	if err != nil {
		return err
	}
	if count > cursor {
		return errors.Errorf("cannot remove %d RingCT outputs out of %d", count, cursor)
	}
	return tx.setCount(rctOutputCursorKey, cursor-count)
}

// numPreRCTOutputs is one past the last per-amount index of amount.
func (tx *StoreTx) numPreRCTOutputs(amount uint64) (uint64, error) {
	cursor, err := tx.accessor.Cursor(preRCTAmountBucket(amount))
	if err != nil {
		return 0, err
	}
	defer cursor.Close()

	if !cursor.Last() {
		return 0, nil
	}
	key, err := cursor.Key()
	if err != nil {
		return 0, err
	}
	lastIndex, err := deserializeUint64(key.Suffix())
	if err != nil {
		return 0, err
	}
	return lastIndex + 1, nil
}

// NumOutputs returns the number of outputs of amount. Amount zero counts
// the RingCT outputs.
func (tx *StoreTx) NumOutputs(amount uint64) (uint64, error) {
	if amount == 0 {
		return tx.NumRCTOutputs()
	}
	return tx.numPreRCTOutputs(amount)
}

// NumRCTOutputs returns the number of RingCT outputs, which is also the
// global index the next one will get.
func (tx *StoreTx) NumRCTOutputs() (uint64, error) {
	return tx.count(rctOutputCursorKey)
}

// PreRCTOutput returns the amountIndex'th output of amount.
func (tx *StoreTx) PreRCTOutput(amount, amountIndex uint64) (*Output, error) {
	outputBytes, err := tx.accessor.Get(uint64Key(preRCTAmountBucket(amount), amountIndex))
	if err != nil {
		return nil, errors.Wrapf(err, "output %d of amount %d", amountIndex, amount)
	}
	return deserializeOutput(outputBytes)
}

// RCTOutput returns the RingCT output with the given global index.
func (tx *StoreTx) RCTOutput(index uint64) (*Output, error) {
	outputBytes, err := tx.accessor.Get(uint64Key(rctOutputsBucket, index))
	if err != nil {
		return nil, errors.Wrapf(err, "RingCT output %d", index)
	}
	return deserializeOutput(outputBytes)
}

// OutputOnChain is an output as needed to verify a ring member.
type OutputOnChain struct {
	Height     uint64
	UnlockTime uint64
	Key        model.Hash
	Commitment model.Hash
	TxHash     model.Hash
}

// OutputOnChain returns the output with the given amount and index. For a
// non-zero amount the commitment is derived from the visible amount.
func (tx *StoreTx) OutputOnChain(amount, index uint64) (*OutputOnChain, error) {
	var output *Output
	var err error
	if amount == 0 {
		output, err = tx.RCTOutput(index)
	} else {
		output, err = tx.PreRCTOutput(amount, index)
	}
	if err != nil {
		return nil, err
	}
	onChain := &OutputOnChain{
		Height:     output.Height,
		UnlockTime: output.UnlockTime,
		Key:        output.Key,
		Commitment: output.Commitment,
		TxHash:     output.TxHash,
	}
	if amount != 0 {
		onChain.Commitment = ringct.ZeroCommit(amount)
	}
	return onChain, nil
}

func (tx *StoreTx) addKeyImage(keyImage model.Hash) error {
	key := hashKey(keyImagesBucket, keyImage)
	exists, err := tx.accessor.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return errors.Wrapf(ErrAlreadyExists, "key image %s", keyImage)
	}
	return tx.accessor.Put(key, keyImageMarker)
}

func (tx *StoreTx) removeKeyImage(keyImage model.Hash) error {
	return errors.Wrapf(tx.deleteExisting(hashKey(keyImagesBucket, keyImage)), "key image %s", keyImage)
}

// KeyImageExists reports whether keyImage was spent on the main chain.
func (tx *StoreTx) KeyImageExists(keyImage model.Hash) (bool, error) {
	return tx.accessor.Has(hashKey(keyImagesBucket, keyImage))
}
