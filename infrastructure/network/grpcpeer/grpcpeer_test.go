package grpcpeer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ringchain/ringd/app/protocol/flowcontext"
	"github.com/ringchain/ringd/domain/chain/model"
	"github.com/ringchain/ringd/domain/chain/pruning"
	"github.com/ringchain/ringd/domain/chain/testutils"
	"github.com/ringchain/ringd/domain/chainstore"
	"github.com/ringchain/ringd/infrastructure/db/database/ldb"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/encoding/protowire"
)

func setupPeerForTest(t *testing.T, blockCount int) (*Client, []*model.VerifiedBlock) {
	db, err := ldb.NewLevelDB(t.TempDir(), 8)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	store := chainstore.New(db)
	chain := testutils.VerifiedChain(model.ZeroHash, 0, blockCount)
	require.NoError(t, store.Update(func(tx *chainstore.StoreTx) error {
		for _, block := range chain {
			err := tx.AddBlock(block)
			if err != nil {
				return err
			}
		}
		return nil
	}))

	listener := bufconn.Listen(1 << 20)
	server := NewServer(flowcontext.New(store, pruning.NotPruned), nil)
	server.Serve(listener)
	t.Cleanup(func() { require.NoError(t, server.Stop()) })

	client, err := Connect("bufnet", func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, client.Close()) })
	return client, chain
}

func TestClientServer(t *testing.T) {
	client, chain := setupPeerForTest(t, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, client.RefreshInfo(ctx))
	require.Equal(t, uint64(10), client.Height())
	require.Equal(t, chain[9].CumulativeDifficulty, client.CumulativeDifficulty())
	require.Equal(t, pruning.NotPruned, client.PruningSeed())
	require.EqualValues(t, "bufnet", client.ID())

	unknown := testutils.DeterministicHash("unknown")
	entry, err := client.RequestChainEntry(ctx, []model.Hash{unknown, chain[5].Hash, chain[0].Hash})
	require.NoError(t, err)
	require.Equal(t, uint64(5), entry.StartHeight)
	require.Equal(t, chain[9].CumulativeDifficulty, entry.CumulativeDifficulty)
	require.Len(t, entry.BlockIDs, 5)
	for i, blockHash := range entry.BlockIDs {
		require.Equal(t, chain[5+i].Hash, blockHash)
	}

	blocks, err := client.RequestBlocks(ctx, entry.BlockIDs[1:4])
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	for i, block := range blocks {
		expected := chain[6+i]
		require.Equal(t, expected.Hash, block.Block.Hash())
		require.Len(t, block.Txs, len(expected.Txs))
		for j, tx := range block.Txs {
			require.Equal(t, expected.Txs[j].Hash, tx.Hash())
		}
	}

	blocks, err = client.RequestBlocks(ctx, []model.Hash{chain[8].Hash, unknown, chain[9].Hash})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
}

func TestClientServerErrors(t *testing.T) {
	client, chain := setupPeerForTest(t, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := client.RequestChainEntry(ctx, []model.Hash{testutils.DeterministicHash("unknown")})
	require.Error(t, err)
	require.Equal(t, codes.NotFound, status.Code(err))

	tooMany := make([]model.Hash, 101)
	for i := range tooMany {
		tooMany[i] = chain[i%3].Hash
	}
	_, err = client.RequestBlocks(ctx, tooMany)
	require.Error(t, err)
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestMessageDecoding(t *testing.T) {
	hash := testutils.DeterministicHash("block")

	// Unknown fields of any type are skipped.
	data := appendVarintField(nil, 1, 42)
	data = protowire.AppendTag(data, 9, protowire.Fixed64Type)
	data = protowire.AppendFixed64(data, 7)
	data = appendBytesField(data, 2, hash[:])
	data = appendBytesField(data, 10, []byte("future field"))
	response := &getChainResponse{}
	require.NoError(t, response.unmarshal(data))
	require.Equal(t, uint64(42), response.startHeight)
	require.Equal(t, []model.Hash{hash}, response.blockIDs)

	request := &getObjectsRequest{}
	require.Error(t, request.unmarshal(appendBytesField(nil, 1, hash[:31])))

	info := &getInfoResponse{}
	require.Error(t, info.unmarshal(appendVarintField(nil, 5, 1<<32)))
	require.Error(t, info.unmarshal([]byte{0x08}))
}
