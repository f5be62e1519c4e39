package grpcpeer

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/go-socks/socks"
	"github.com/pkg/errors"
	"github.com/ringchain/ringd/app/protocol/blockdownloader"
	"github.com/ringchain/ringd/app/protocol/protocolerrors"
	"github.com/ringchain/ringd/domain/chain/model"
	"github.com/ringchain/ringd/domain/chain/pruning"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DialFunc opens the connection to a peer.
type DialFunc func(ctx context.Context, address string) (net.Conn, error)

// ProxyDialer returns a DialFunc connecting through the SOCKS5 proxy at
// proxyAddress.
func ProxyDialer(proxyAddress, username, password string) DialFunc {
	proxy := &socks.Proxy{
		Addr:     proxyAddress,
		Username: username,
		Password: password,
	}
	return func(ctx context.Context, address string) (net.Conn, error) {
		if deadline, ok := ctx.Deadline(); ok {
			return proxy.DialTimeout("tcp", address, time.Until(deadline))
		}
		return proxy.Dial("tcp", address)
	}
}

// Client is a connection to one peer. It implements
// blockdownloader.PeerClient.
type Client struct {
	address    string
	connection *grpc.ClientConn

	infoLock             sync.RWMutex
	height               uint64
	cumulativeDifficulty model.Difficulty
	pruningSeed          pruning.Seed
}

// Connect prepares a client for the peer at address. The connection is
// opened on the first request. A nil dial connects directly.
func Connect(address string, dial DialFunc) (*Client, error) {
	options := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(codec{}),
			grpc.MaxCallRecvMsgSize(MaxMessageSize),
			grpc.MaxCallSendMsgSize(MaxMessageSize)),
	}
	if dial != nil {
		options = append(options, grpc.WithContextDialer(dial))
	}
	connection, err := grpc.NewClient("passthrough:///"+address, options...)
	if err != nil {
		return nil, errors.Wrapf(err, "error connecting to %s", address)
	}
	return &Client{address: address, connection: connection}, nil
}

// Close closes the connection to the peer.
func (c *Client) Close() error {
	return c.connection.Close()
}

// ID returns the peer's address.
func (c *Client) ID() blockdownloader.PeerID {
	return blockdownloader.PeerID(c.address)
}

// PruningSeed returns the seed the peer advertised in its last info.
func (c *Client) PruningSeed() pruning.Seed {
	c.infoLock.RLock()
	defer c.infoLock.RUnlock()
	return c.pruningSeed
}

// CumulativeDifficulty returns the cumulative difficulty the peer
// advertised in its last info.
func (c *Client) CumulativeDifficulty() model.Difficulty {
	c.infoLock.RLock()
	defer c.infoLock.RUnlock()
	return c.cumulativeDifficulty
}

// Height returns the chain height the peer advertised in its last info.
func (c *Client) Height() uint64 {
	c.infoLock.RLock()
	defer c.infoLock.RUnlock()
	return c.height
}

// RefreshInfo asks the peer for the state of its chain.
func (c *Client) RefreshInfo(ctx context.Context) error {
	response := &getInfoResponse{}
	err := c.connection.Invoke(ctx, getInfoMethod, &getInfoRequest{}, response)
	if err != nil {
		return errors.Wrapf(err, "info request to %s", c.address)
	}
	seed := pruning.Seed(response.pruningSeed)
	err = seed.Validate()
	if err != nil {
		return protocolerrors.Wrapf(true, err, "peer %s advertised an invalid pruning seed", c.address)
	}

	c.infoLock.Lock()
	defer c.infoLock.Unlock()
	c.height = response.height
	c.cumulativeDifficulty = response.cumulativeDifficulty
	c.pruningSeed = seed
	return nil
}

// RequestChainEntry asks the peer for the block ids following the first
// block of history it has.
func (c *Client) RequestChainEntry(ctx context.Context, history []model.Hash) (*blockdownloader.ChainEntry, error) {
	response := &getChainResponse{}
	err := c.connection.Invoke(ctx, getChainMethod, &getChainRequest{history: history}, response)
	if err != nil {
		return nil, errors.Wrapf(err, "chain request to %s", c.address)
	}
	return &blockdownloader.ChainEntry{
		StartHeight:          response.startHeight,
		BlockIDs:             response.blockIDs,
		CumulativeDifficulty: response.cumulativeDifficulty,
	}, nil
}

// RequestBlocks asks the peer for the blocks with blockIDs and their
// transactions.
func (c *Client) RequestBlocks(ctx context.Context, blockIDs []model.Hash) ([]*model.BlockWithTxs, error) {
	response := &getObjectsResponse{}
	err := c.connection.Invoke(ctx, getObjectsMethod, &getObjectsRequest{blockIDs: blockIDs}, response)
	if err != nil {
		return nil, errors.Wrapf(err, "block request to %s", c.address)
	}

	blocks := make([]*model.BlockWithTxs, len(response.blocks))
	for i, blobs := range response.blocks {
		block, err := model.DeserializeBlock(blobs.block)
		if err != nil {
			return nil, protocolerrors.Wrapf(true, err, "peer %s sent a malformed block", c.address)
		}
		txs := make([]*model.Transaction, len(blobs.txs))
		for j, txBlob := range blobs.txs {
			txs[j], err = model.DeserializeTransaction(txBlob)
			if err != nil {
				return nil, protocolerrors.Wrapf(true, err, "peer %s sent a malformed transaction", c.address)
			}
		}
		blocks[i] = &model.BlockWithTxs{Block: block, Txs: txs}
	}
	return blocks, nil
}
