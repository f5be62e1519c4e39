package chainstore

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/ringchain/ringd/domain/chain/model"
	"github.com/ringchain/ringd/infrastructure/db/database"
)

var rootBucket = database.MakeBucket([]byte("chain"))

var (
	blockInfosBucket       = rootBucket.Bucket([]byte("block-infos"))
	blockHeightsBucket     = rootBucket.Bucket([]byte("block-heights"))
	blockHeaderBlobsBucket = rootBucket.Bucket([]byte("block-header-blobs"))
	blockTxHashesBucket    = rootBucket.Bucket([]byte("block-tx-hashes"))

	txIDsBucket           = rootBucket.Bucket([]byte("tx-ids"))
	txHeightsBucket       = rootBucket.Bucket([]byte("tx-heights"))
	txUnlockTimesBucket   = rootBucket.Bucket([]byte("tx-unlock-times"))
	prunedTxBlobsBucket   = rootBucket.Bucket([]byte("pruned-tx-blobs"))
	prunableTxBlobsBucket = rootBucket.Bucket([]byte("prunable-tx-blobs"))
	prunableHashesBucket  = rootBucket.Bucket([]byte("prunable-hashes"))
	txOutputsBucket       = rootBucket.Bucket([]byte("tx-outputs"))

	// preRCTOutputsBucket holds one sub-bucket per amount, keyed by the
	// per-amount index.
	preRCTOutputsBucket = rootBucket.Bucket([]byte("pre-rct-outputs"))
	rctOutputsBucket    = rootBucket.Bucket([]byte("rct-outputs"))
	keyImagesBucket     = rootBucket.Bucket([]byte("key-images"))

	altBlockHeightsBucket     = rootBucket.Bucket([]byte("alt-block-heights"))
	altBlockInfosBucket       = rootBucket.Bucket([]byte("alt-block-infos"))
	altBlockBlobsBucket       = rootBucket.Bucket([]byte("alt-block-blobs"))
	altChainInfosBucket       = rootBucket.Bucket([]byte("alt-chain-infos"))
	altTransactionBlobsBucket = rootBucket.Bucket([]byte("alt-transaction-blobs"))
	altTransactionInfosBucket = rootBucket.Bucket([]byte("alt-transaction-infos"))

	countsBucket = rootBucket.Bucket([]byte("counts"))
)

var (
	blockInfosCountKey    = countsBucket.Key([]byte("block-infos"))
	txIDsCountKey         = countsBucket.Key([]byte("tx-ids"))
	rctOutputCursorKey    = countsBucket.Key([]byte("rct-output-cursor"))
	altBlockInfosCountKey = countsBucket.Key([]byte("alt-block-infos"))
)

var altTables = []*database.Bucket{
	altBlockHeightsBucket,
	altBlockInfosBucket,
	altBlockBlobsBucket,
	altChainInfosBucket,
	altTransactionBlobsBucket,
	altTransactionInfosBucket,
}

// keyImageMarker is the value stored for every spent key image.
var keyImageMarker = []byte{1}

func uint64Key(bucket *database.Bucket, v uint64) *database.Key {
	return bucket.Key(serializeUint64(v))
}

func hashKey(bucket *database.Bucket, hash model.Hash) *database.Key {
	return bucket.Key(hash[:])
}

func preRCTAmountBucket(amount uint64) *database.Bucket {
	return preRCTOutputsBucket.Bucket(serializeUint64(amount))
}

func altBlockHeightKey(bucket *database.Bucket, chainID model.ChainID, height uint64) *database.Key {
	suffix := make([]byte, 16)
	binary.BigEndian.PutUint64(suffix[:8], uint64(chainID))
	binary.BigEndian.PutUint64(suffix[8:], height)
	return bucket.Key(suffix)
}

// serializeUint64 encodes v big-endian so keys sort numerically.
func serializeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func deserializeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, errors.Errorf("invalid uint64 length %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func (tx *StoreTx) count(key *database.Key) (uint64, error) {
	countBytes, err := tx.accessor.Get(key)
	if database.IsNotFoundError(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return deserializeUint64(countBytes)
}

// setCount stores count under key. A zero count is stored as a missing
// key so an emptied table leaves nothing behind.
func (tx *StoreTx) setCount(key *database.Key, count uint64) error {
	if count == 0 {
		return tx.accessor.Delete(key)
	}
	return tx.accessor.Put(key, serializeUint64(count))
}

func (tx *StoreTx) addToCount(key *database.Key, delta int64) error {
	count, err := tx.count(key)
	if err != nil {
		return err
	}
	if delta < 0 && uint64(-delta) > count {
		return errors.Errorf("count %s would drop below zero", key)
	}
	return tx.setCount(key, uint64(int64(count)+delta))
}

// take reads key and deletes it.
func (tx *StoreTx) take(key *database.Key) ([]byte, error) {
	value, err := tx.accessor.Get(key)
	if err != nil {
		return nil, err
	}
	return value, tx.accessor.Delete(key)
}

// deleteExisting deletes key and fails if it was missing.
func (tx *StoreTx) deleteExisting(key *database.Key) error {
	exists, err := tx.accessor.Has(key)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Wrapf(database.ErrNotFound, "key %s not found", key)
	}
	return tx.accessor.Delete(key)
}

func (tx *StoreTx) clearBucket(bucket *database.Bucket) error {
	cursor, err := tx.accessor.Cursor(bucket)
	if err != nil {
		return err
	}
	var keys []*database.Key
	for ok := cursor.First(); ok; ok = cursor.Next() {
		key, err := cursor.Key()
		if err != nil {
			cursor.Close()
			return err
		}
		keys = append(keys, key)
	}
	err = cursor.Close()
	if err != nil {
		return err
	}
	for _, key := range keys {
		err = tx.accessor.Delete(key)
		if err != nil {
			return err
		}
	}
	return nil
}
