package grpcpeer

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/ringchain/ringd/app/protocol/blockdownloader"
	"github.com/ringchain/ringd/app/protocol/flowcontext"
	"github.com/ringchain/ringd/domain/chain/model"
	"github.com/ringchain/ringd/domain/chain/pruning"
	"github.com/ringchain/ringd/util/panics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// MaxMessageSize is the largest message peers send each other.
const MaxMessageSize = 1024 * 1024 * 128

// ChainSource is the chain a server exposes to peers.
type ChainSource interface {
	ChainInfo() (*flowcontext.ChainInfo, error)
	PruningSeed() pruning.Seed
	ChainEntry(history []model.Hash, maxIDs int) (*blockdownloader.ChainEntry, error)
	Blocks(blockIDs []model.Hash, maxBlocks int) ([]*model.BlockWithTxs, error)
}

// Server serves our chain to peers over grpc.
type Server struct {
	source             ChainSource
	listeningAddresses []string
	server             *grpc.Server
}

// NewServer creates a server for source that listens on
// listeningAddresses once started.
func NewServer(source ChainSource, listeningAddresses []string) *Server {
	s := &Server{
		source:             source,
		listeningAddresses: listeningAddresses,
		server: grpc.NewServer(
			grpc.ForceServerCodec(codec{}),
			grpc.MaxRecvMsgSize(MaxMessageSize),
			grpc.MaxSendMsgSize(MaxMessageSize)),
	}
	s.server.RegisterService(&serviceDesc, &p2pServer{source: source})
	return s
}

// Start listens on every listening address.
func (s *Server) Start() error {
	for _, listenAddress := range s.listeningAddresses {
		err := s.listenOn(listenAddress)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) listenOn(listenAddr string) error {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return errors.Wrapf(err, "error listening on %s", listenAddr)
	}
	s.Serve(listener)
	log.Infof("P2P server listening on %s", listenAddr)
	return nil
}

// Serve serves peers connecting through listener until Stop is called.
func (s *Server) Serve(listener net.Listener) {
	spawn("Server.Serve", func() {
		err := s.server.Serve(listener)
		if err != nil {
			panics.Exit(log, fmt.Sprintf("error serving peers on %s: %+v", listener.Addr(), err))
		}
	})
}

// Stop stops the server, dropping open requests if they do not complete
// in time.
func (s *Server) Stop() error {
	const stopTimeout = 2 * time.Second

	stopChan := make(chan interface{})
	go func() {
		s.server.GracefulStop()
		close(stopChan)
	}()

	select {
	case <-stopChan:
	case <-time.After(stopTimeout):
		log.Warnf("Could not gracefully stop the P2P server: timed out after %s", stopTimeout)
		s.server.Stop()
	}
	return nil
}

type p2pServer struct {
	source ChainSource
}

func peerAddress(ctx context.Context) string {
	peerInfo, ok := peer.FromContext(ctx)
	if !ok {
		return "unknown peer"
	}
	return peerInfo.Addr.String()
}

// statusError turns a chain source error into the status sent to peers.
func statusError(err error) error {
	switch {
	case errors.Is(err, flowcontext.ErrNoCommonBlock):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, flowcontext.ErrTooManyObjects):
		return status.Error(codes.InvalidArgument, err.Error())
	}
	log.Errorf("Error serving a peer: %+v", err)
	return status.Error(codes.Internal, "internal error")
}

func (p *p2pServer) getInfo(ctx context.Context, _ *getInfoRequest) (*getInfoResponse, error) {
	info, err := p.source.ChainInfo()
	if err != nil {
		return nil, statusError(err)
	}
	log.Tracef("Sending chain info at height %d to %s", info.Height, peerAddress(ctx))
	return &getInfoResponse{
		height:               info.Height,
		topHash:              info.TopHash,
		cumulativeDifficulty: info.CumulativeDifficulty,
		pruningSeed:          uint32(p.source.PruningSeed()),
	}, nil
}

func (p *p2pServer) getChain(ctx context.Context, request *getChainRequest) (*getChainResponse, error) {
	log.Debugf("Received a chain request with %d history ids from %s", len(request.history), peerAddress(ctx))
	entry, err := p.source.ChainEntry(request.history, blockdownloader.MaxBlockIDsInChainEntry)
	if err != nil {
		return nil, statusError(err)
	}
	return &getChainResponse{
		startHeight:          entry.StartHeight,
		blockIDs:             entry.BlockIDs,
		cumulativeDifficulty: entry.CumulativeDifficulty,
	}, nil
}

func (p *p2pServer) getObjects(ctx context.Context, request *getObjectsRequest) (*getObjectsResponse, error) {
	log.Debugf("Received a request for %d blocks from %s", len(request.blockIDs), peerAddress(ctx))
	blocks, err := p.source.Blocks(request.blockIDs, blockdownloader.MaxBlockBatchLen)
	if err != nil {
		return nil, statusError(err)
	}
	response := &getObjectsResponse{blocks: make([]*blockBlobs, len(blocks))}
	for i, block := range blocks {
		blobs := &blockBlobs{block: block.Block.Blob(), txs: make([][]byte, len(block.Txs))}
		for j, tx := range block.Txs {
			blobs.txs[j] = tx.Blob()
		}
		response.blocks[i] = blobs
	}
	return response, nil
}
