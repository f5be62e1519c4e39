package chainstore

import (
	"github.com/pkg/errors"
	"github.com/ringchain/ringd/infrastructure/db/database"
)

var (
	// ErrAlreadyExists is returned when inserting a transaction or key
	// image that is already stored.
	ErrAlreadyExists = errors.New("already exists")

	// ErrChainEmpty is returned when popping from an empty chain. It
	// satisfies database.IsNotFoundError.
	ErrChainEmpty = errors.Wrap(database.ErrNotFound, "the chain is empty")
)

// Store persists the main chain, its transactions and outputs, and
// alternative chain blocks.
type Store struct {
	db database.Database
}

// New returns a store over db.
func New(db database.Database) *Store {
	return &Store{db: db}
}

// StoreTx exposes the store's operations inside one database transaction.
type StoreTx struct {
	accessor database.DataAccessor
}

// NewStoreTx wraps an open database transaction or any other accessor.
func NewStoreTx(accessor database.DataAccessor) *StoreTx {
	return &StoreTx{accessor: accessor}
}

// Update runs f in a read-write transaction and commits it if f returns
// nil. Nothing f wrote is kept if it fails or panics.
func (s *Store) Update(f func(tx *StoreTx) error) error {
	dbTx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer dbTx.RollbackUnlessClosed()

	err = f(NewStoreTx(dbTx))
	if err != nil {
		return err
	}
	return dbTx.Commit()
}

// View runs f in a read-only transaction over a consistent snapshot.
func (s *Store) View(f func(tx *StoreTx) error) error {
	dbTx, err := s.db.BeginReadOnly()
	if err != nil {
		return err
	}
	defer dbTx.RollbackUnlessClosed()

	return f(NewStoreTx(dbTx))
}
