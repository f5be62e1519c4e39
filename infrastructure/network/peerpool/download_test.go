package peerpool

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/ringchain/ringd/app/protocol/blockdownloader"
	"github.com/ringchain/ringd/app/protocol/flowcontext"
	"github.com/ringchain/ringd/domain/chain/model"
	"github.com/ringchain/ringd/domain/chain/pruning"
	"github.com/ringchain/ringd/domain/chain/testutils"
	"github.com/ringchain/ringd/domain/chainstore"
	"github.com/ringchain/ringd/infrastructure/db/database/ldb"
	"github.com/ringchain/ringd/infrastructure/network/grpcpeer"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/test/bufconn"
)

func storeForTest(t *testing.T, blocks []*model.VerifiedBlock) *chainstore.Store {
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
	return store
}

// serveForTest serves store over an in-memory listener and returns a
// ConnectFunc reaching it for any address.
func serveForTest(t *testing.T, store *chainstore.Store) ConnectFunc {
	listener := bufconn.Listen(1 << 20)
	server := grpcpeer.NewServer(flowcontext.New(store, pruning.NotPruned), nil)
	server.Serve(listener)
	t.Cleanup(func() { require.NoError(t, server.Stop()) })

	return func(address string) (PeerClient, error) {
		return grpcpeer.Connect(address, func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		})
	}
}

func TestDownloadBlocksFromPeerPool(t *testing.T) {
	network := testutils.VerifiedChain(model.ZeroHash, 0, 250)
	connectA := serveForTest(t, storeForTest(t, network))
	connectB := serveForTest(t, storeForTest(t, network))
	ours := flowcontext.New(storeForTest(t, network[:10]), pruning.NotPruned)

	pool := New(&Config{
		Addresses:   []string{"a", "b"},
		BanDuration: time.Hour,
		InfoTimeout: 5 * time.Second,
		Connect: func(address string) (PeerClient, error) {
			if address == "a" {
				return connectA(address)
			}
			return connectB(address)
		},
		RefreshTicker: ticker.NewForce(time.Hour),
	})
	pool.Refresh(context.Background())
	require.Equal(t, 2, pool.ConnectedCount())
	defer pool.Stop()

	cfg := blockdownloader.DefaultConfig()
	cfg.RequestTimeout = 5 * time.Second
	cfg.ChainEntryTimeout = 5 * time.Second
	cfg.ClientPoolTicker = ticker.NewForce(time.Hour)
	force := cfg.ClientPoolTicker.(*ticker.Force)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case force.Force <- time.Time{}:
			case <-done:
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	stream := blockdownloader.DownloadBlocks(ctx, pool, ours, cfg)

	height := uint64(10)
	for {
		batch, err := stream.Next(ctx)
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		require.Equal(t, height, batch.StartHeight)
		for _, block := range batch.Blocks {
			require.Equal(t, network[height].Hash, block.Block.Hash())
			height++
		}
	}
	require.Equal(t, uint64(len(network)), height)

	require.Eventually(t, func() bool {
		return len(pool.BorrowClientsForSync(model.Difficulty{})) == 2
	}, 5*time.Second, 10*time.Millisecond)
	require.False(t, pool.IsBanned("a"))
	require.False(t, pool.IsBanned("b"))
}
