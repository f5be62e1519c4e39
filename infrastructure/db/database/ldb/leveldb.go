package ldb

import (
	"github.com/pkg/errors"
	"github.com/ringchain/ringd/infrastructure/db/database"
	"github.com/syndtr/goleveldb/leveldb"
	ldbErrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB implements database.Database on top of goleveldb.
type LevelDB struct {
	ldb *leveldb.DB
}

// NewLevelDB opens or creates a leveldb database at path, recovering it
// first if its files are corrupted.
func NewLevelDB(path string, cacheSizeMiB int) (*LevelDB, error) {
	ldb, err := leveldb.OpenFile(path, Options(cacheSizeMiB))

	if _, corrupted := err.(*ldbErrors.ErrCorrupted); corrupted {
		log.Warnf("LevelDB corruption detected for path %s: %s", path, err)
		ldb, err = leveldb.RecoverFile(path, nil)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		log.Warnf("LevelDB recovered from corruption for path %s", path)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return &LevelDB{ldb: ldb}, nil
}

// Compact compacts the whole key range.
func (db *LevelDB) Compact() error {
	return errors.WithStack(db.ldb.CompactRange(util.Range{Start: nil, Limit: nil}))
}

// Close closes the database.
func (db *LevelDB) Close() error {
	return errors.WithStack(db.ldb.Close())
}

// Put implements database.DataAccessor.
func (db *LevelDB) Put(key *database.Key, value []byte) error {
	return errors.WithStack(db.ldb.Put(key.Bytes(), value, nil))
}

// Get implements database.DataAccessor.
func (db *LevelDB) Get(key *database.Key) ([]byte, error) {
	data, err := db.ldb.Get(key.Bytes(), nil)
	if err != nil {
		return nil, translateGetError(key, err)
	}
	return data, nil
}

// Has implements database.DataAccessor.
func (db *LevelDB) Has(key *database.Key) (bool, error) {
	exists, err := db.ldb.Has(key.Bytes(), nil)
	return exists, errors.WithStack(err)
}

// Delete implements database.DataAccessor.
func (db *LevelDB) Delete(key *database.Key) error {
	return errors.WithStack(db.ldb.Delete(key.Bytes(), nil))
}

// Cursor implements database.DataAccessor.
func (db *LevelDB) Cursor(bucket *database.Bucket) (database.Cursor, error) {
	return newCursor(db.ldb.NewIterator(util.BytesPrefix(bucket.Path()), nil), bucket), nil
}

func translateGetError(key *database.Key, err error) error {
	if errors.Is(err, leveldb.ErrNotFound) {
		return errors.Wrapf(database.ErrNotFound, "key %s not found", key)
	}
	return errors.WithStack(err)
}
