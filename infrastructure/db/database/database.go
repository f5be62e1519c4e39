package database

// DataAccessor is the read/write surface shared by a database and its
// transactions.
type DataAccessor interface {
	// Put sets the value for key, overwriting any previous value.
	Put(key *Key, value []byte) error

	// Get returns the value for key, or an error satisfying
	// IsNotFoundError if it does not exist.
	Get(key *Key) ([]byte, error)

	// Has reports whether key exists.
	Has(key *Key) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key *Key) error

	// Cursor opens a cursor over every key in bucket.
	Cursor(bucket *Bucket) (Cursor, error)
}

// Database is a key-value store with transactional access.
type Database interface {
	DataAccessor

	// Begin opens a read-write transaction. Reads inside the transaction
	// observe its own uncommitted writes. Only one read-write transaction
	// may be open at a time; Begin blocks until the previous one closes.
	Begin() (Transaction, error)

	// BeginReadOnly opens a transaction over a consistent snapshot.
	// Writes through it fail with ErrReadOnly.
	BeginReadOnly() (Transaction, error)

	// Compact compacts the underlying storage.
	Compact() error

	// Close closes the database.
	Close() error
}

// Transaction is a DataAccessor whose writes become visible atomically on
// Commit and are discarded on Rollback.
type Transaction interface {
	DataAccessor

	Commit() error
	Rollback() error

	// RollbackUnlessClosed rolls back the transaction if it was not yet
	// committed or rolled back. It is meant to be deferred right after Begin.
	RollbackUnlessClosed() error
}

// Cursor iterates over the keys of a bucket in ascending byte order.
type Cursor interface {
	// Next moves to the next pair and reports whether it exists.
	Next() bool

	// Prev moves to the previous pair and reports whether it exists.
	Prev() bool

	// First moves to the first pair and reports whether it exists.
	First() bool

	// Last moves to the last pair and reports whether it exists.
	Last() bool

	// Seek moves to the first pair whose key is greater than or equal to
	// key. It returns ErrNotFound if there is none.
	Seek(key *Key) error

	// Key returns the key of the current pair.
	Key() (*Key, error)

	// Value returns the value of the current pair.
	Value() ([]byte, error)

	// Close releases the cursor.
	Close() error
}
