package blockdownloader

import (
	"context"

	"github.com/ringchain/ringd/domain/chain/model"
	"github.com/ringchain/ringd/domain/chain/pruning"
)

// PeerID identifies a peer.
type PeerID string

// ChainEntry is a run of consecutive block ids a peer claims to have,
// starting at StartHeight, with the cumulative difficulty of its top block.
type ChainEntry struct {
	StartHeight          uint64
	BlockIDs             []model.Hash
	CumulativeDifficulty model.Difficulty
}

// PeerClient is a connection to a peer able to serve chain entries and
// blocks. A client is used by one request at a time.
type PeerClient interface {
	ID() PeerID
	PruningSeed() pruning.Seed
	CumulativeDifficulty() model.Difficulty

	// RequestChainEntry asks for the block ids following the first id in
	// history the peer knows.
	RequestChainEntry(ctx context.Context, history []model.Hash) (*ChainEntry, error)

	// RequestBlocks asks for the blocks with the given ids together with
	// their transactions.
	RequestBlocks(ctx context.Context, ids []model.Hash) ([]*model.BlockWithTxs, error)
}

// ClientPool hands out peer clients for exclusive use.
type ClientPool interface {
	// BorrowClientsForSync checks out every available client whose chain
	// has more cumulative difficulty than minCumulativeDifficulty.
	BorrowClientsForSync(minCumulativeDifficulty model.Difficulty) []PeerClient

	// ReturnClient gives a borrowed client back.
	ReturnClient(client PeerClient)

	// BanPeer bans a peer for misbehaving.
	BanPeer(id PeerID)
}

// ChainService answers questions about our own chain.
type ChainService interface {
	// CompactHistory returns a sparse list of our block ids, top first and
	// genesis last, and the cumulative difficulty of our top block.
	CompactHistory() ([]model.Hash, model.Difficulty, error)

	// FindFirstUnknown returns the index of the first of blockIDs we do not
	// have and the height it would have, or false if we have them all.
	FindFirstUnknown(blockIDs []model.Hash) (int, uint64, bool, error)

	// CumulativeDifficulty returns the cumulative difficulty of our top block.
	CumulativeDifficulty() (model.Difficulty, error)
}

// BlockBatch is a run of consecutive downloaded blocks. Size is the
// serialized size of the blocks and their transactions.
type BlockBatch struct {
	Blocks      []*model.BlockWithTxs
	StartHeight uint64
	Size        int
	Peer        PeerID
}
