package ldb

import (
	"github.com/pkg/errors"
	"github.com/ringchain/ringd/infrastructure/db/database"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// readWriteTransaction wraps a goleveldb transaction. goleveldb applies
// writes to a private memdb and merges it into the database on Commit, so
// reads observe the transaction's own writes.
type readWriteTransaction struct {
	ldbTx    *leveldb.Transaction
	isClosed bool
}

// Begin implements database.Database.
func (db *LevelDB) Begin() (database.Transaction, error) {
	ldbTx, err := db.ldb.OpenTransaction()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &readWriteTransaction{ldbTx: ldbTx}, nil
}

func (tx *readWriteTransaction) Commit() error {
	if tx.isClosed {
		return errors.New("cannot commit a closed transaction")
	}
	tx.isClosed = true
	return errors.WithStack(tx.ldbTx.Commit())
}

func (tx *readWriteTransaction) Rollback() error {
	if tx.isClosed {
		return errors.New("cannot rollback a closed transaction")
	}
	tx.isClosed = true
	tx.ldbTx.Discard()
	return nil
}

func (tx *readWriteTransaction) RollbackUnlessClosed() error {
	if tx.isClosed {
		return nil
	}
	return tx.Rollback()
}

func (tx *readWriteTransaction) Put(key *database.Key, value []byte) error {
	if tx.isClosed {
		return errors.New("cannot put into a closed transaction")
	}
	return errors.WithStack(tx.ldbTx.Put(key.Bytes(), value, nil))
}

func (tx *readWriteTransaction) Get(key *database.Key) ([]byte, error) {
	if tx.isClosed {
		return nil, errors.New("cannot get from a closed transaction")
	}
	data, err := tx.ldbTx.Get(key.Bytes(), nil)
	if err != nil {
		return nil, translateGetError(key, err)
	}
	return data, nil
}

func (tx *readWriteTransaction) Has(key *database.Key) (bool, error) {
	if tx.isClosed {
		return false, errors.New("cannot has from a closed transaction")
	}
	exists, err := tx.ldbTx.Has(key.Bytes(), nil)
	return exists, errors.WithStack(err)
}

func (tx *readWriteTransaction) Delete(key *database.Key) error {
	if tx.isClosed {
		return errors.New("cannot delete from a closed transaction")
	}
	return errors.WithStack(tx.ldbTx.Delete(key.Bytes(), nil))
}

func (tx *readWriteTransaction) Cursor(bucket *database.Bucket) (database.Cursor, error) {
	if tx.isClosed {
		return nil, errors.New("cannot open a cursor from a closed transaction")
	}
	return newCursor(tx.ldbTx.NewIterator(util.BytesPrefix(bucket.Path()), nil), bucket), nil
}

// readOnlyTransaction reads from a leveldb snapshot.
type readOnlyTransaction struct {
	snapshot *leveldb.Snapshot
	isClosed bool
}

// BeginReadOnly implements database.Database.
func (db *LevelDB) BeginReadOnly() (database.Transaction, error) {
	snapshot, err := db.ldb.GetSnapshot()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &readOnlyTransaction{snapshot: snapshot}, nil
}

func (tx *readOnlyTransaction) Commit() error {
	return tx.Rollback()
}

func (tx *readOnlyTransaction) Rollback() error {
	if tx.isClosed {
		return errors.New("cannot rollback a closed transaction")
	}
	tx.isClosed = true
	tx.snapshot.Release()
	return nil
}

func (tx *readOnlyTransaction) RollbackUnlessClosed() error {
	if tx.isClosed {
		return nil
	}
	return tx.Rollback()
}

func (tx *readOnlyTransaction) Put(*database.Key, []byte) error {
	return errors.WithStack(database.ErrReadOnly)
}

func (tx *readOnlyTransaction) Delete(*database.Key) error {
	return errors.WithStack(database.ErrReadOnly)
}

func (tx *readOnlyTransaction) Get(key *database.Key) ([]byte, error) {
	if tx.isClosed {
		return nil, errors.New("cannot get from a closed transaction")
	}
	data, err := tx.snapshot.Get(key.Bytes(), nil)
	if err != nil {
		return nil, translateGetError(key, err)
	}
	return data, nil
}

func (tx *readOnlyTransaction) Has(key *database.Key) (bool, error) {
	if tx.isClosed {
		return false, errors.New("cannot has from a closed transaction")
	}
	exists, err := tx.snapshot.Has(key.Bytes(), nil)
	return exists, errors.WithStack(err)
}

func (tx *readOnlyTransaction) Cursor(bucket *database.Bucket) (database.Cursor, error) {
	if tx.isClosed {
		return nil, errors.New("cannot open a cursor from a closed transaction")
	}
	return newCursor(tx.snapshot.NewIterator(util.BytesPrefix(bucket.Path()), nil), bucket), nil
}
