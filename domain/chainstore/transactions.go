package chainstore

import (
	"github.com/pkg/errors"
	"github.com/ringchain/ringd/domain/chain/model"
	"github.com/ringchain/ringd/domain/chain/ringct"
	"github.com/ringchain/ringd/infrastructure/db/database"
)

// outputAmount is the amount an output is indexed under. Outputs of v2
// coinbases carry a visible amount but live in the RingCT keyspace.
func outputAmount(transaction *model.Transaction, output *model.TxOutput) uint64 {
	if transaction.Version >= 2 && transaction.IsCoinbase() {
		return 0
	}
	return output.Amount
}

// addTransaction stores transaction under the next tx id and indexes its
// key images and outputs. RingCT outputs are queued on rctOutputs.
func (tx *StoreTx) addTransaction(transaction *model.Transaction, txHash model.Hash, height uint64,
	rctOutputs *rctOutputAppender) (uint64, error) {

	txIDKey := hashKey(txIDsBucket, txHash)
	exists, err := tx.accessor.Has(txIDKey)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, errors.Wrapf(ErrAlreadyExists, "transaction %s", txHash)
	}

	txID, err := tx.count(txIDsCountKey)
	if err != nil {
		return 0, err
	}
	err = tx.accessor.Put(txIDKey, serializeUint64(txID))
	if err != nil {
		return 0, err
	}
	err = tx.addToCount(txIDsCountKey, 1)
	if err != nil {
		return 0, err
	}
	err = tx.accessor.Put(uint64Key(txHeightsBucket, txID), serializeUint64(height))
	if err != nil {
		return 0, err
	}
	if transaction.UnlockTime != 0 {
		err = tx.accessor.Put(uint64Key(txUnlockTimesBucket, txID), serializeUint64(transaction.UnlockTime))
		if err != nil {
			return 0, err
		}
	}
	err = tx.accessor.Put(uint64Key(prunedTxBlobsBucket, txID), transaction.PrunedBlob())
	if err != nil {
		return 0, err
	}
	err = tx.accessor.Put(uint64Key(prunableTxBlobsBucket, txID), transaction.PrunableBlob())
	if err != nil {
		return 0, err
	}
	if transaction.Version >= 2 {
		prunableHash := transaction.PrunableHash()
		err = tx.accessor.Put(uint64Key(prunableHashesBucket, txID), prunableHash[:])
		if err != nil {
			return 0, err
		}
	}

	for _, input := range transaction.Inputs {
		if input.Type != model.InputToKey {
			continue
		}
		err = tx.addKeyImage(input.KeyImage)
		if err != nil {
			return 0, err
		}
	}

	isCoinbase := transaction.IsCoinbase()
	indices := make([]uint64, len(transaction.Outputs))
	for i := range transaction.Outputs {
		output := &transaction.Outputs[i]
		record := &Output{
			Key:        output.Key,
			Height:     height,
			UnlockTime: transaction.UnlockTime,
			TxID:       txID,
			TxHash:     txHash,
			LocalIndex: uint64(i),
		}

		amount := outputAmount(transaction, output)
		if amount != 0 {
			indices[i], err = tx.addPreRCTOutput(amount, record)
			if err != nil {
				return 0, err
			}
			continue
		}

		switch {
		case isCoinbase:
			record.Commitment = ringct.ZeroCommit(output.Amount)
		case i < len(transaction.RingCT.OutPk):
			record.Commitment = transaction.RingCT.OutPk[i]
		default:
			return 0, errors.Errorf("transaction %s output %d has no amount and no commitment", txHash, i)
		}
		indices[i] = rctOutputs.add(record)
	}

	err = tx.accessor.Put(uint64Key(txOutputsBucket, txID), serializeOutputIndices(indices))
	if err != nil {
		return 0, err
	}
	return txID, nil
}

// removeTransaction deletes everything addTransaction wrote for txHash and
// returns the transaction together with the number of RingCT outputs it
// had. The RingCT output cursor is left to the caller.
func (tx *StoreTx) removeTransaction(txHash model.Hash) (*model.Transaction, uint64, error) {
	txIDBytes, err := tx.take(hashKey(txIDsBucket, txHash))
	if err != nil {
		return nil, 0, errors.Wrapf(err, "transaction %s", txHash)
	}
	txID, err := deserializeUint64(txIDBytes)
	if err != nil {
		return nil, 0, err
	}
	err = tx.addToCount(txIDsCountKey, -1)
	if err != nil {
		return nil, 0, err
	}

	transaction, err := tx.transactionByID(txID)
	if err != nil {
		return nil, 0, err
	}
	for _, bucket := range []*database.Bucket{txHeightsBucket, prunedTxBlobsBucket, prunableTxBlobsBucket} {
		err = tx.deleteExisting(uint64Key(bucket, txID))
		if err != nil {
			return nil, 0, err
		}
	}
	if transaction.UnlockTime != 0 {
		err = tx.deleteExisting(uint64Key(txUnlockTimesBucket, txID))
		if err != nil {
			return nil, 0, err
		}
	}
	if transaction.Version >= 2 {
		err = tx.deleteExisting(uint64Key(prunableHashesBucket, txID))
		if err != nil {
			return nil, 0, err
		}
	}

	for _, input := range transaction.Inputs {
		if input.Type != model.InputToKey {
			continue
		}
		err = tx.removeKeyImage(input.KeyImage)
		if err != nil {
			return nil, 0, err
		}
	}

	indicesBytes, err := tx.take(uint64Key(txOutputsBucket, txID))
	if err != nil {
		return nil, 0, err
	}
	indices, err := deserializeOutputIndices(indicesBytes)
	if err != nil {
		return nil, 0, err
	}
	if len(indices) != len(transaction.Outputs) {
		return nil, 0, errors.Errorf("transaction %s has %d outputs but %d indices",
			txHash, len(transaction.Outputs), len(indices))
	}

	rctRemoved := uint64(0)
	for i := range transaction.Outputs {
		amount := outputAmount(transaction, &transaction.Outputs[i])
		if amount != 0 {
			err = tx.removePreRCTOutput(amount, indices[i])
		} else {
			err = tx.deleteExisting(uint64Key(rctOutputsBucket, indices[i]))
			rctRemoved++
		}
		if err != nil {
			return nil, 0, err
		}
	}
	return transaction, rctRemoved, nil
}

func (tx *StoreTx) transactionByID(txID uint64) (*model.Transaction, error) {
	pruned, err := tx.accessor.Get(uint64Key(prunedTxBlobsBucket, txID))
	if err != nil {
		return nil, errors.Wrapf(err, "pruned blob of transaction %d", txID)
	}
	prunable, err := tx.accessor.Get(uint64Key(prunableTxBlobsBucket, txID))
	if err != nil {
		return nil, errors.Wrapf(err, "prunable blob of transaction %d", txID)
	}
	return model.DeserializePrunedTransaction(pruned, prunable)
}

// TxFromID returns the transaction with the given numeric id.
func (tx *StoreTx) TxFromID(txID uint64) (*model.Transaction, error) {
	return tx.transactionByID(txID)
}

// TxID returns the numeric id of the transaction with the given hash.
func (tx *StoreTx) TxID(txHash model.Hash) (uint64, error) {
	txIDBytes, err := tx.accessor.Get(hashKey(txIDsBucket, txHash))
	if err != nil {
		return 0, errors.Wrapf(err, "transaction %s", txHash)
	}
	return deserializeUint64(txIDBytes)
}

// Tx returns the transaction with the given hash.
func (tx *StoreTx) Tx(txHash model.Hash) (*model.Transaction, error) {
	txID, err := tx.TxID(txHash)
	if err != nil {
		return nil, err
	}
	return tx.transactionByID(txID)
}

// TxExists reports whether a transaction is on the main chain.
func (tx *StoreTx) TxExists(txHash model.Hash) (bool, error) {
	return tx.accessor.Has(hashKey(txIDsBucket, txHash))
}

// TxHeight returns the height of the block containing the transaction.
func (tx *StoreTx) TxHeight(txID uint64) (uint64, error) {
	heightBytes, err := tx.accessor.Get(uint64Key(txHeightsBucket, txID))
	if err != nil {
		return 0, err
	}
	return deserializeUint64(heightBytes)
}

// TxOutputIndices returns the output index of every output of a
// transaction: the per-amount index for visible amounts and the global
// index for RingCT outputs.
func (tx *StoreTx) TxOutputIndices(txID uint64) ([]uint64, error) {
	indicesBytes, err := tx.accessor.Get(uint64Key(txOutputsBucket, txID))
	if err != nil {
		return nil, err
	}
	return deserializeOutputIndices(indicesBytes)
}

// NumTxs returns the number of transactions on the main chain.
func (tx *StoreTx) NumTxs() (uint64, error) {
	return tx.count(txIDsCountKey)
}
