package blockdownloader

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/pkg/errors"
	"github.com/ringchain/ringd/domain/chain/model"
	"github.com/ringchain/ringd/domain/chain/pruning"
	"github.com/ringchain/ringd/domain/chain/testutils"
)

var errConnectionResetForTest = errors.New("connection reset by peer")

// networkForTest builds count blocks on top of ourTop, our block at
// startHeight-1.
func networkForTest(ourTop model.Hash, startHeight uint64, count int) []*model.BlockWithTxs {
	chain := testutils.Chain(ourTop, startHeight, count)
	blocks := make([]*model.BlockWithTxs, len(chain))
	for i := range chain {
		entry := chain[i]
		blocks[i] = &entry
	}
	return blocks
}

// fakePeer serves the blocks of a chain that starts on top of our top
// block. A pruned peer only serves the blocks its seed keeps.
type fakePeer struct {
	id          PeerID
	seed        pruning.Seed
	difficulty  model.Difficulty
	maxEntryLen int

	// ids[0] is our top block, at height baseHeight.
	ids        []model.Hash
	baseHeight uint64
	blocks     map[model.Hash]*model.BlockWithTxs
	heights    map[model.Hash]uint64

	// failBatch makes the block requests starting at a height fail.
	failBatch func(startHeight uint64) error

	// stallBatch makes a block request hang until its context ends.
	stallBatch func(startHeight uint64) bool

	lock               sync.Mutex
	chainEntryRequests int
	batchStarts        []uint64
}

func newFakePeer(id PeerID, seed pruning.Seed, difficulty uint64, ourTop model.Hash,
	network []*model.BlockWithTxs) *fakePeer {

	baseHeight := uint64(0)
	if len(network) > 0 {
		height, _ := network[0].Block.Number()
		baseHeight = height - 1
	}
	peer := &fakePeer{
		id:          id,
		seed:        seed,
		difficulty:  model.DifficultyFromUint64(difficulty),
		maxEntryLen: 60,
		ids:         []model.Hash{ourTop},
		baseHeight:  baseHeight,
		blocks:      make(map[model.Hash]*model.BlockWithTxs, len(network)),
		heights:     make(map[model.Hash]uint64, len(network)),
	}
	for i, entry := range network {
		blockHash := entry.Block.Hash()
		peer.ids = append(peer.ids, blockHash)
		peer.blocks[blockHash] = entry
		peer.heights[blockHash] = baseHeight + 1 + uint64(i)
	}
	return peer
}

func (p *fakePeer) ID() PeerID                             { return p.id }
func (p *fakePeer) PruningSeed() pruning.Seed              { return p.seed }
func (p *fakePeer) CumulativeDifficulty() model.Difficulty { return p.difficulty }

func (p *fakePeer) RequestChainEntry(_ context.Context, history []model.Hash) (*ChainEntry, error) {
	p.lock.Lock()
	p.chainEntryRequests++
	p.lock.Unlock()

	for _, known := range history {
		for i, id := range p.ids {
			if id != known {
				continue
			}
			end := min(i+p.maxEntryLen, len(p.ids))
			ids := make([]model.Hash, end-i)
			copy(ids, p.ids[i:end])
			return &ChainEntry{
				StartHeight:          p.baseHeight + uint64(i),
				BlockIDs:             ids,
				CumulativeDifficulty: p.difficulty,
			}, nil
		}
	}
	return nil, errors.New("no block of the history is known")
}

func (p *fakePeer) RequestBlocks(ctx context.Context, ids []model.Hash) ([]*model.BlockWithTxs, error) {
	startHeight := p.heights[ids[0]]
	p.lock.Lock()
	p.batchStarts = append(p.batchStarts, startHeight)
	p.lock.Unlock()

	if p.stallBatch != nil && p.stallBatch(startHeight) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if p.failBatch != nil {
		err := p.failBatch(startHeight)
		if err != nil {
			return nil, err
		}
	}
	blocks := make([]*model.BlockWithTxs, 0, len(ids))
	for _, id := range ids {
		block, ok := p.blocks[id]
		if !ok || !p.seed.HasFullBlock(p.heights[id], pruning.MaxBlockHeight) {
			break
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func (p *fakePeer) requestedBatches() []uint64 {
	p.lock.Lock()
	defer p.lock.Unlock()

	return append([]uint64(nil), p.batchStarts...)
}

func (p *fakePeer) chainEntryRequestCount() int {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.chainEntryRequests
}

// fakeClientPool lends every peer to one borrower at a time.
type fakeClientPool struct {
	lock          sync.Mutex
	peers         []*fakePeer
	borrowed      map[PeerID]bool
	banned        map[PeerID]bool
	doubleReturns int
}

func newFakeClientPool(peers ...*fakePeer) *fakeClientPool {
	return &fakeClientPool{
		peers:    peers,
		borrowed: make(map[PeerID]bool),
		banned:   make(map[PeerID]bool),
	}
}

func (p *fakeClientPool) BorrowClientsForSync(minCumulativeDifficulty model.Difficulty) []PeerClient {
	p.lock.Lock()
	defer p.lock.Unlock()

	var clients []PeerClient
	for _, peer := range p.peers {
		if p.borrowed[peer.id] || p.banned[peer.id] || peer.difficulty.Cmp(minCumulativeDifficulty) <= 0 {
			continue
		}
		p.borrowed[peer.id] = true
		clients = append(clients, peer)
	}
	return clients
}

func (p *fakeClientPool) ReturnClient(client PeerClient) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if !p.borrowed[client.ID()] {
		p.doubleReturns++
	}
	p.borrowed[client.ID()] = false
}

func (p *fakeClientPool) BanPeer(id PeerID) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.banned[id] = true
}

func (p *fakeClientPool) isBanned(id PeerID) bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.banned[id]
}

// allReturned reports whether no client is borrowed and none was returned
// twice.
func (p *fakeClientPool) allReturned() bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	for _, borrowed := range p.borrowed {
		if borrowed {
			return false
		}
	}
	return p.doubleReturns == 0
}

// fakeChainService knows our top block and genesis.
type fakeChainService struct {
	ourTop     model.Hash
	ourGenesis model.Hash
	topHeight  uint64
	difficulty model.Difficulty
}

func newFakeChainService(topHeight uint64) *fakeChainService {
	return &fakeChainService{
		ourTop:     testutils.DeterministicHash("our top", topHeight),
		ourGenesis: testutils.DeterministicHash("our genesis"),
		topHeight:  topHeight,
		difficulty: model.DifficultyFromUint64(100),
	}
}

func (s *fakeChainService) CompactHistory() ([]model.Hash, model.Difficulty, error) {
	return []model.Hash{s.ourTop, s.ourGenesis}, s.difficulty, nil
}

func (s *fakeChainService) heightOf(id model.Hash) (uint64, bool) {
	switch id {
	case s.ourTop:
		return s.topHeight, true
	case s.ourGenesis:
		return 0, true
	}
	return 0, false
}

func (s *fakeChainService) FindFirstUnknown(ids []model.Hash) (int, uint64, bool, error) {
	for i, id := range ids {
		if _, ok := s.heightOf(id); ok {
			continue
		}
		if i == 0 {
			return 0, 0, true, nil
		}
		previousHeight, _ := s.heightOf(ids[i-1])
		return i, previousHeight + 1, true, nil
	}
	return len(ids), 0, false, nil
}

func (s *fakeChainService) CumulativeDifficulty() (model.Difficulty, error) {
	return s.difficulty, nil
}

func configForTest() *Config {
	cfg := DefaultConfig()
	cfg.RequestTimeout = 5 * time.Second
	cfg.ChainEntryTimeout = 5 * time.Second
	cfg.ClientPoolTicker = ticker.NewForce(time.Hour)
	return cfg
}

// forceTicksForTest feeds ticks to cfg's ticker until the returned
// function is called.
func forceTicksForTest(cfg *Config) func() {
	force := cfg.ClientPoolTicker.(*ticker.Force)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case force.Force <- time.Time{}:
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
