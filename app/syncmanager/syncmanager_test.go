package syncmanager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/ringchain/ringd/app/protocol/blockdownloader"
	"github.com/ringchain/ringd/app/protocol/flowcontext"
	"github.com/ringchain/ringd/domain/chain/model"
	"github.com/ringchain/ringd/domain/chain/pruning"
	"github.com/ringchain/ringd/domain/chain/testutils"
	"github.com/ringchain/ringd/domain/chainstore"
	"github.com/ringchain/ringd/domain/verifier"
	"github.com/ringchain/ringd/infrastructure/db/database/ldb"
	"github.com/stretchr/testify/require"
)

func flowContextForTest(t *testing.T, blocks []*model.VerifiedBlock) *flowcontext.FlowContext {
	db, err := ldb.NewLevelDB(t.TempDir(), 8)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	store := chainstore.New(db)
	require.NoError(t, store.Update(func(tx *chainstore.StoreTx) error {
		for _, block := range blocks {
			err := tx.AddBlock(block)
			if err != nil {
				return err
			}
		}
		return nil
	}))
	return flowcontext.New(store, pruning.NotPruned)
}

// storePeer serves the chain of a FlowContext the way a remote node would.
type storePeer struct {
	id     blockdownloader.PeerID
	remote *flowcontext.FlowContext
}

func (p *storePeer) ID() blockdownloader.PeerID { return p.id }
func (p *storePeer) PruningSeed() pruning.Seed  { return pruning.NotPruned }

func (p *storePeer) CumulativeDifficulty() model.Difficulty {
	difficulty, err := p.remote.CumulativeDifficulty()
	if err != nil {
		panic(err)
	}
	return difficulty
}

func (p *storePeer) RequestChainEntry(_ context.Context, history []model.Hash) (*blockdownloader.ChainEntry, error) {
	return p.remote.ChainEntry(history, blockdownloader.MaxBlockIDsInChainEntry)
}

func (p *storePeer) RequestBlocks(_ context.Context, ids []model.Hash) ([]*model.BlockWithTxs, error) {
	return p.remote.Blocks(ids, blockdownloader.MaxBlockBatchLen)
}

type poolForTest struct {
	lock     sync.Mutex
	peers    []*storePeer
	borrowed map[blockdownloader.PeerID]bool
	banned   map[blockdownloader.PeerID]bool
}

func newPoolForTest(peers ...*storePeer) *poolForTest {
	return &poolForTest{
		peers:    peers,
		borrowed: make(map[blockdownloader.PeerID]bool),
		banned:   make(map[blockdownloader.PeerID]bool),
	}
}

func (p *poolForTest) BorrowClientsForSync(minCumulativeDifficulty model.Difficulty) []blockdownloader.PeerClient {
	p.lock.Lock()
	defer p.lock.Unlock()
	var clients []blockdownloader.PeerClient
	for _, peer := range p.peers {
		if p.borrowed[peer.id] || p.banned[peer.id] ||
			peer.CumulativeDifficulty().Cmp(minCumulativeDifficulty) <= 0 {
			continue
		}
		p.borrowed[peer.id] = true
		clients = append(clients, peer)
	}
	return clients
}

func (p *poolForTest) ReturnClient(client blockdownloader.PeerClient) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.borrowed[client.ID()] = false
}

func (p *poolForTest) BanPeer(id blockdownloader.PeerID) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.banned[id] = true
}

func (p *poolForTest) isBanned(id blockdownloader.PeerID) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.banned[id]
}

func configForTest() *Config {
	downloaderConfig := blockdownloader.DefaultConfig()
	downloaderConfig.CheckClientPoolInterval = 5 * time.Millisecond
	downloaderConfig.RequestTimeout = 5 * time.Second
	downloaderConfig.ChainEntryTimeout = 5 * time.Second
	return &Config{
		Downloader:   downloaderConfig,
		RestartDelay: 10 * time.Millisecond,
	}
}

func newSyncManagerForTest(ours *flowcontext.FlowContext, pool blockdownloader.ClientPool) *SyncManager {
	return New(ours, pool, verifier.New(verifier.FixedDifficulty(model.DifficultyFromUint64(1))), configForTest())
}

func requireChain(t *testing.T, flowContext *flowcontext.FlowContext, expected []*model.VerifiedBlock) {
	info, err := flowContext.ChainInfo()
	require.NoError(t, err)
	require.Equal(t, uint64(len(expected)), info.Height)
	require.Equal(t, expected[len(expected)-1].Hash, info.TopHash)
	require.Equal(t, expected[len(expected)-1].CumulativeDifficulty, info.CumulativeDifficulty)

	require.NoError(t, flowContext.Store().View(func(tx *chainstore.StoreTx) error {
		for _, block := range expected {
			blockHash, err := tx.BlockHash(block.Height)
			if err != nil {
				return err
			}
			if blockHash != block.Hash {
				return errors.Errorf("block at height %d is %s instead of %s", block.Height, blockHash, block.Hash)
			}
		}
		return nil
	}))
}

func TestSyncOnce(t *testing.T) {
	network := testutils.VerifiedChain(model.ZeroHash, 0, 150)
	ours := flowContextForTest(t, network[:10])
	pool := newPoolForTest(
		&storePeer{id: "a", remote: flowContextForTest(t, network)},
		&storePeer{id: "b", remote: flowContextForTest(t, network)},
	)
	syncManager := newSyncManagerForTest(ours, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, syncManager.SyncOnce(ctx))
	requireChain(t, ours, network)
	require.False(t, ours.IsIBDRunning())
	require.False(t, pool.isBanned("a"))
	require.False(t, pool.isBanned("b"))

	// Nothing to do once we are at the top.
	require.NoError(t, syncManager.SyncOnce(ctx))
	requireChain(t, ours, network)
}

func TestSyncOnceAlreadyRunning(t *testing.T) {
	network := testutils.VerifiedChain(model.ZeroHash, 0, 5)
	ours := flowContextForTest(t, network)
	syncManager := newSyncManagerForTest(ours, newPoolForTest())

	require.True(t, ours.TrySetIBDRunning())
	err := syncManager.SyncOnce(context.Background())
	require.ErrorIs(t, err, ErrSyncRunning)
	require.True(t, ours.IsIBDRunning())
	ours.UnsetIBDRunning()
}

func TestSyncOnceInvalidBlocks(t *testing.T) {
	valid := testutils.Chain(model.ZeroHash, 0, 15)

	// The block at height 15 carries a second coinbase among its
	// transactions.
	prevID := valid[14].Block.Hash()
	tx := testutils.MinerTx(2, 1000, 5)
	badBlock := testutils.Block(prevID, 15, testutils.MinerTx(2, 15, 600000000000), []*model.Transaction{tx})
	rest := testutils.Chain(badBlock.Hash(), 16, 5)

	var network []*model.VerifiedBlock
	for i, entry := range valid {
		network = append(network, testutils.VerifiedBlock(entry, model.DifficultyFromUint64(uint64(i+1))))
	}
	bad := testutils.VerifiedBlock(testutils.BlockWithTxs{Block: badBlock, Txs: []*model.Transaction{tx}},
		model.DifficultyFromUint64(16))
	network = append(network, bad)
	for i, entry := range rest {
		network = append(network, testutils.VerifiedBlock(entry, model.DifficultyFromUint64(uint64(17+i))))
	}

	ours := flowContextForTest(t, network[:10])
	pool := newPoolForTest(&storePeer{id: "liar", remote: flowContextForTest(t, network)})
	syncManager := newSyncManagerForTest(ours, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	err := syncManager.SyncOnce(ctx)
	require.ErrorIs(t, err, verifier.ErrCoinbaseInBody)
	require.True(t, pool.isBanned("liar"))
	require.False(t, ours.IsIBDRunning())

	// Batches before the invalid one are kept; nothing of the invalid
	// batch is.
	info, err := ours.ChainInfo()
	require.NoError(t, err)
	require.GreaterOrEqual(t, info.Height, uint64(10))
	require.LessOrEqual(t, info.Height, uint64(15))
	requireChain(t, ours, network[:info.Height])
}

func TestRun(t *testing.T) {
	network := testutils.VerifiedChain(model.ZeroHash, 0, 60)
	ours := flowContextForTest(t, network[:1])
	pool := newPoolForTest(&storePeer{id: "a", remote: flowContextForTest(t, network)})
	syncManager := newSyncManagerForTest(ours, pool)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- syncManager.Run(ctx) }()

	require.Eventually(t, func() bool {
		info, err := ours.ChainInfo()
		return err == nil && info.Height == uint64(len(network))
	}, 20*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatalf("Run did not return after its context was cancelled")
	}
	requireChain(t, ours, network)
}
