package ldb

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/ringchain/ringd/infrastructure/db/database"
	"github.com/syndtr/goleveldb/leveldb/iterator"
)

// LevelDBCursor is a thin wrapper around a prefix-bounded leveldb iterator.
type LevelDBCursor struct {
	ldbIterator iterator.Iterator
	bucket      *database.Bucket
	isClosed    bool
}

func newCursor(ldbIterator iterator.Iterator, bucket *database.Bucket) *LevelDBCursor {
	return &LevelDBCursor{ldbIterator: ldbIterator, bucket: bucket}
}

// Next implements database.Cursor.
func (c *LevelDBCursor) Next() bool {
	if c.isClosed {
		panic("cannot call next on a closed cursor")
	}
	return c.ldbIterator.Next()
}

// Prev implements database.Cursor.
func (c *LevelDBCursor) Prev() bool {
	if c.isClosed {
		panic("cannot call prev on a closed cursor")
	}
	return c.ldbIterator.Prev()
}

// First implements database.Cursor.
func (c *LevelDBCursor) First() bool {
	if c.isClosed {
		panic("cannot call first on a closed cursor")
	}
	return c.ldbIterator.First()
}

// Last implements database.Cursor.
func (c *LevelDBCursor) Last() bool {
	if c.isClosed {
		panic("cannot call last on a closed cursor")
	}
	return c.ldbIterator.Last()
}

// Seek implements database.Cursor.
func (c *LevelDBCursor) Seek(key *database.Key) error {
	if c.isClosed {
		return errors.New("cannot seek a closed cursor")
	}
	if !bytes.HasPrefix(key.Bytes(), c.bucket.Path()) {
		return errors.Errorf("key %s is not in the cursor's bucket", key)
	}
	if !c.ldbIterator.Seek(key.Bytes()) {
		return errors.Wrapf(database.ErrNotFound, "no key at or after %s", key)
	}
	return nil
}

// Key implements database.Cursor. The returned key does not alias the
// iterator's buffers.
func (c *LevelDBCursor) Key() (*database.Key, error) {
	if c.isClosed {
		return nil, errors.New("cannot get the key of a closed cursor")
	}
	if !c.ldbIterator.Valid() {
		return nil, errors.Wrapf(database.ErrNotFound, "cannot get the key of an exhausted cursor")
	}
	fullKey := c.ldbIterator.Key()
	prefixLength := len(c.bucket.Path())
	suffix := make([]byte, len(fullKey)-prefixLength)
	copy(suffix, fullKey[prefixLength:])
	return c.bucket.Key(suffix), nil
}

// Value implements database.Cursor.
func (c *LevelDBCursor) Value() ([]byte, error) {
	if c.isClosed {
		return nil, errors.New("cannot get the value of a closed cursor")
	}
	if !c.ldbIterator.Valid() {
		return nil, errors.Wrapf(database.ErrNotFound, "cannot get the value of an exhausted cursor")
	}
	value := c.ldbIterator.Value()
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)
	return valueCopy, nil
}

// Close implements database.Cursor.
func (c *LevelDBCursor) Close() error {
	if c.isClosed {
		return errors.New("cannot close an already closed cursor")
	}
	c.isClosed = true
	c.ldbIterator.Release()
	return nil
}
