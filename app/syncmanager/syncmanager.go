// Package syncmanager keeps our chain in sync with the peers: it runs the
// block downloader and adds the batches it delivers to the chain store.
package syncmanager

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/ringchain/ringd/app/protocol/blockdownloader"
	"github.com/ringchain/ringd/app/protocol/flowcontext"
	"github.com/ringchain/ringd/domain/chainstore"
	"github.com/ringchain/ringd/domain/verifier"
	"github.com/ringchain/ringd/infrastructure/logger"
)

// ErrSyncRunning is returned by SyncOnce when another sync is in progress.
var ErrSyncRunning = errors.New("a sync is already running")

// ErrBatchDoesNotExtendChain means a delivered batch does not start at the
// top of our chain. This happens when a peer follows a fork below our top.
var ErrBatchDoesNotExtendChain = errors.New("batch does not extend our chain")

// Config holds the sync manager's settings.
type Config struct {
	Downloader *blockdownloader.Config

	// RestartDelay is the wait between two downloads.
	RestartDelay time.Duration
}

// SyncManager downloads blocks from the peers in a ClientPool and adds
// them to our chain.
type SyncManager struct {
	flowContext *flowcontext.FlowContext
	pool        blockdownloader.ClientPool
	verifier    *verifier.Verifier
	cfg         *Config
}

// New returns a SyncManager adding blocks to flowContext's store.
func New(flowContext *flowcontext.FlowContext, pool blockdownloader.ClientPool, verifier *verifier.Verifier,
	cfg *Config) *SyncManager {

	return &SyncManager{
		flowContext: flowContext,
		pool:        pool,
		verifier:    verifier,
		cfg:         cfg,
	}
}

// Run syncs repeatedly until ctx is cancelled. Failed syncs are logged and
// retried after the restart delay.
func (sm *SyncManager) Run(ctx context.Context) error {
	for {
		err := sm.SyncOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case errors.Is(err, blockdownloader.ErrFailedToFindAChainToFollow):
			log.Debugf("Nothing to sync: %s", err)
		case err != nil:
			log.Warnf("Sync failed: %s", err)
		}

		select {
		case <-time.After(sm.cfg.RestartDelay):
		case <-ctx.Done():
			return nil
		}
	}
}

// SyncOnce runs the block downloader once and stores every batch it
// delivers. It returns nil once the downloader reaches the top of the
// network's chain.
func (sm *SyncManager) SyncOnce(ctx context.Context) error {
	if !sm.flowContext.TrySetIBDRunning() {
		return errors.WithStack(ErrSyncRunning)
	}
	defer sm.flowContext.UnsetIBDRunning()

	info, err := sm.flowContext.ChainInfo()
	if err != nil {
		return err
	}
	chainHeight.Set(float64(info.Height))
	log.Debugf("Starting a sync from height %d", info.Height)

	stream := blockdownloader.DownloadBlocks(ctx, sm.pool, sm.flowContext, sm.cfg.Downloader)
	defer stream.Close()

	for {
		batch, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			log.Debugf("Sync finished")
			return nil
		}
		if err != nil {
			return err
		}

		err = sm.addBatch(batch)
		if err != nil {
			var ruleErr verifier.RuleError
			if errors.As(err, &ruleErr) {
				rejectedBatches.Inc()
				log.Warnf("Peer %s sent invalid blocks: %s", batch.Peer, err)
				sm.pool.BanPeer(batch.Peer)
			}
			return err
		}
	}
}

// addBatch verifies batch against the top of our chain and adds its
// blocks. Either every block of the batch is added or none is.
func (sm *SyncManager) addBatch(batch *blockdownloader.BlockBatch) error {
	onEnd := logger.LogAndMeasureExecutionTime(log, "addBatch")
	defer onEnd()

	var newHeight uint64
	err := sm.flowContext.Store().Update(func(tx *chainstore.StoreTx) error {
		tip, err := chainTip(tx)
		if err != nil {
			return err
		}
		if batch.StartHeight != tip.Height {
			return errors.Wrapf(ErrBatchDoesNotExtendChain, "batch from peer %s starts at height %d "+
				"but our chain has %d blocks", batch.Peer, batch.StartHeight, tip.Height)
		}

		blocks, err := sm.verifier.VerifyBatch(tip, batch.Blocks)
		if err != nil {
			return err
		}
		for _, block := range blocks {
			err := tx.AddBlock(block)
			if err != nil {
				return errors.Wrapf(err, "adding block %s at height %d", block.Hash, block.Height)
			}
		}
		newHeight = tip.Height + uint64(len(blocks))
		return nil
	})
	if err != nil {
		return err
	}

	storedBlocks.Add(float64(len(batch.Blocks)))
	chainHeight.Set(float64(newHeight))
	log.Infof("Added %d blocks from peer %s, chain height is %d", len(batch.Blocks), batch.Peer, newHeight)
	return nil
}

func chainTip(tx *chainstore.StoreTx) (*verifier.ChainTip, error) {
	height, err := tx.ChainHeight()
	if err != nil {
		return nil, err
	}
	if height == 0 {
		return &verifier.ChainTip{}, nil
	}
	info, err := tx.BlockInfo(height - 1)
	if err != nil {
		return nil, err
	}
	return &verifier.ChainTip{
		Height:               height,
		TopHash:              info.BlockHash,
		CumulativeDifficulty: info.CumulativeDifficulty,
	}, nil
}
