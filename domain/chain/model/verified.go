package model

// VerifiedTransaction is a transaction that passed verification, with the
// values derived while verifying it.
type VerifiedTransaction struct {
	Tx     *Transaction
	Hash   Hash
	Weight uint64
	Fee    uint64
}

// VerifiedBlock is a block ready to be appended to the main chain. Txs holds
// the non-miner transactions in the order of Block.TxHashes.
type VerifiedBlock struct {
	Block                *Block
	Hash                 Hash
	PowHash              Hash
	Height               uint64
	GeneratedCoins       uint64
	Weight               uint64
	LongTermWeight       uint64
	CumulativeDifficulty Difficulty
	Txs                  []*VerifiedTransaction
}

// ChainID identifies an alternative chain. It is never zero.
type ChainID uint64

// AltBlock is a block stored on an alternative chain.
type AltBlock struct {
	Block                *Block
	Hash                 Hash
	PowHash              Hash
	Height               uint64
	Weight               uint64
	LongTermWeight       uint64
	CumulativeDifficulty Difficulty
	ChainID              ChainID
	Txs                  []*VerifiedTransaction
}

// BlockWithTxs is a block together with its non-miner transactions in the
// order of Block.TxHashes.
type BlockWithTxs struct {
	Block *Block
	Txs   []*Transaction
}
