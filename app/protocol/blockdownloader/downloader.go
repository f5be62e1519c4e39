// Package blockdownloader downloads blocks from many peers at once and
// delivers them in height order.
//
// A download starts by asking peers with more cumulative difficulty than us
// for the blocks following our chain, then keeps every available peer busy
// with chain entry requests and batch requests until the peers stop sending
// new blocks. Batches complete in any order; a reorder queue holds them
// until every lower batch arrived.
package blockdownloader

import (
	"container/heap"
	"context"
	"sort"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/pkg/errors"
	"github.com/ringchain/ringd/app/protocol/protocolerrors"
	"github.com/ringchain/ringd/domain/chain/pruning"
)

type batchResult struct {
	startHeight uint64
	client      PeerClient
	batch       *BlockBatch
	err         error
}

type chainEntryResult struct {
	client PeerClient
	entry  *ChainEntry
	err    error
}

// startHeightHeap is a min-heap of batch start heights.
type startHeightHeap []uint64

func (h startHeightHeap) Len() int           { return len(h) }
func (h startHeightHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h startHeightHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *startHeightHeap) Push(x interface{}) {
	*h = append(*h, x.(uint64))
}

func (h *startHeightHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type blockDownloader struct {
	// parentCtx is the context the download was started with.
	parentCtx    context.Context
	cfg          *Config
	pool         ClientPool
	chainService ChainService
	ticker       ticker.Ticker

	tracker *chainTracker
	queue   *blockQueue

	batchLen          int
	batchLenUpdatedAt uint64
	batchLenUpdated   bool

	emptyChainEntries int

	inFlight      map[uint64]*blocksToRetrieve
	failedBatches startHeightHeap

	// pendingPeers are borrowed clients without work, by pruning seed.
	pendingPeers map[pruning.Seed][]PeerClient

	batchTasks        int
	chainEntryTasks   int
	batchResults      chan *batchResult
	chainEntryResults chan *chainEntryResult
}

// DownloadBlocks starts downloading the blocks following our chain and
// returns the stream they are delivered to in height order. The download
// stops when ctx is cancelled, the stream is closed, the peers stop sending
// new blocks, or a terminal error occurs; callers restart it by calling
// DownloadBlocks again.
func DownloadBlocks(ctx context.Context, pool ClientPool, chainService ChainService, cfg *Config) *BatchStream {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	stream := newBatchStream(ctx, cfg.BufferBytes)

	clientPoolTicker := cfg.ClientPoolTicker
	if clientPoolTicker == nil {
		clientPoolTicker = ticker.New(cfg.CheckClientPoolInterval)
	}
	downloader := &blockDownloader{
		parentCtx:         ctx,
		cfg:               cfg,
		pool:              pool,
		chainService:      chainService,
		ticker:            clientPoolTicker,
		queue:             newBlockQueue(stream),
		batchLen:          max(cfg.InitialBatchLen, 1),
		inFlight:          make(map[uint64]*blocksToRetrieve),
		pendingPeers:      make(map[pruning.Seed][]PeerClient),
		batchResults:      make(chan *batchResult),
		chainEntryResults: make(chan *chainEntryResult),
	}

	spawn("DownloadBlocks", func() {
		err := downloader.start(stream.ctx)
		if err != nil {
			log.Warnf("Block download stopped: %s", err)
		} else {
			log.Infof("Block download reached the top of the network's chain")
		}
		stream.finish(err)
		stream.cancel()
	})
	return stream
}

func (bd *blockDownloader) start(ctx context.Context) error {
	tracker, err := initialChainSearch(ctx, bd.pool, bd.chainService, bd.cfg)
	if err != nil {
		return err
	}
	bd.tracker = tracker

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var queueErr error
	queueDone := make(chan struct{})
	spawn("blockQueue.run", func() {
		queueErr = bd.queue.run()
		close(queueDone)
	})

	err = bd.run(loopCtx, queueDone)
	bd.returnPendingPeers()
	if err != nil {
		cancel()
		bd.queue.stop()
		bd.queue.stream.cancel()
		<-queueDone
		return err
	}

	// Wait for the held batches to be delivered before the stream ends.
	bd.queue.finish()
	cancel()
	<-queueDone
	if queueErr != nil {
		return bd.stopErr()
	}
	return nil
}

// stopErr is the error a download stopped from outside ends with.
func (bd *blockDownloader) stopErr() error {
	if bd.parentCtx.Err() != nil {
		return bd.parentCtx.Err()
	}
	return errors.WithStack(ErrBufferWasClosed)
}

// run hands out work until the top is reached. queueDone is closed if the
// block queue stops delivering.
func (bd *blockDownloader) run(ctx context.Context, queueDone <-chan struct{}) error {
	bd.ticker.Resume()
	defer bd.ticker.Stop()

	err := bd.checkForFreeClients(ctx)
	if err != nil {
		return err
	}
	for {
		if bd.topReached() {
			log.Debugf("No new blocks after %d chain entries, assuming the top was reached",
				bd.emptyChainEntries)
			return nil
		}

		select {
		case <-bd.ticker.Ticks():
			err = bd.checkForFreeClients(ctx)

		case result := <-bd.batchResults:
			bd.batchTasks--
			err = bd.handleBatchResult(ctx, result)

		case result := <-bd.chainEntryResults:
			bd.chainEntryTasks--
			bd.handleChainEntryResult(ctx, result)

		case <-bd.queue.drained:
			// Peers parked while the queue was full may have work now.
			bd.checkPendingPeers(ctx)

		case <-queueDone:
			return bd.stopErr()

		case <-ctx.Done():
			return bd.stopErr()
		}
		if err != nil {
			return err
		}
	}
}

// topReached reports whether the peers stopped sending new block ids and
// every id they sent was downloaded.
func (bd *blockDownloader) topReached() bool {
	return len(bd.inFlight) == 0 &&
		bd.tracker.blockRequestsQueued(bd.batchLen) == 0 &&
		bd.emptyChainEntries >= bd.cfg.EmptyChainEntriesBeforeTopAssumed
}

// checkForFreeClients borrows the clients that can help us sync and gives
// them work.
func (bd *blockDownloader) checkForFreeClients(ctx context.Context) error {
	cumulativeDifficulty, err := bd.chainService.CumulativeDifficulty()
	if err != nil {
		return err
	}
	clients := bd.pool.BorrowClientsForSync(cumulativeDifficulty)
	if len(clients) > 0 {
		log.Debugf("Borrowed %d clients for syncing", len(clients))
	}
	for _, client := range clients {
		bd.addPendingPeer(client)
	}
	bd.checkPendingPeers(ctx)
	return nil
}

func (bd *blockDownloader) addPendingPeer(client PeerClient) {
	seed := client.PruningSeed()
	bd.pendingPeers[seed] = append(bd.pendingPeers[seed], client)
}

func (bd *blockDownloader) returnPendingPeers() {
	for seed, clients := range bd.pendingPeers {
		for _, client := range clients {
			bd.pool.ReturnClient(client)
		}
		delete(bd.pendingPeers, seed)
	}
}

// releaseFailedClient gives a client whose request failed back to the
// pool, banning it first if the failure was its fault.
func (bd *blockDownloader) releaseFailedClient(client PeerClient, err error) {
	if protocolerrors.ShouldBan(err) {
		log.Infof("Banning peer %s: %s", client.ID(), err)
		bd.pool.BanPeer(client.ID())
	}
	bd.pool.ReturnClient(client)
}

// checkPendingPeers gives work to pending peers until, for every pruning
// seed, a peer finds nothing to do.
func (bd *blockDownloader) checkPendingPeers(ctx context.Context) {
	seeds := make([]pruning.Seed, 0, len(bd.pendingPeers))
	for seed := range bd.pendingPeers {
		seeds = append(seeds, seed)
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i] < seeds[j] })

	for _, seed := range seeds {
		clients := bd.pendingPeers[seed]
		for len(clients) > 0 {
			client := clients[len(clients)-1]
			clients = clients[:len(clients)-1]
			if !bd.tryHandleFreeClient(ctx, client) {
				clients = append(clients, client)
				break
			}
		}
		if len(clients) == 0 {
			delete(bd.pendingPeers, seed)
		} else {
			bd.pendingPeers[seed] = clients
		}
	}
}

// tryHandleFreeClient gives client the most useful work it can do and
// reports whether it got any. While the queue is over InProgressQueueBytes
// the only new work is unblocking delivery.
func (bd *blockDownloader) tryHandleFreeClient(ctx context.Context, client PeerClient) bool {
	if bd.retryFailedBatch(ctx, client) {
		return true
	}
	if bd.queueIsFull() {
		return bd.duplicateBlockingBatch(ctx, client)
	}
	return bd.requestChainEntry(ctx, client) ||
		bd.requestFreshBatch(ctx, client)
}

func (bd *blockDownloader) queueIsFull() bool {
	return bd.queue.Size() >= bd.cfg.InProgressQueueBytes
}

func (bd *blockDownloader) retryFailedBatch(ctx context.Context, client PeerClient) bool {
	for bd.failedBatches.Len() > 0 {
		startHeight := bd.failedBatches[0]
		batch, ok := bd.inFlight[startHeight]
		if !ok || !batch.failed {
			// Another request for the batch succeeded after it failed.
			heap.Pop(&bd.failedBatches)
			continue
		}
		if !pruning.ClientHasBlockInRange(client.PruningSeed(), startHeight, uint64(len(batch.ids))) {
			return false
		}
		heap.Pop(&bd.failedBatches)
		batch.failed = false
		batch.requestsSent++
		log.Debugf("Retrying the batch at height %d with peer %s", startHeight, client.ID())
		bd.spawnBatchTask(ctx, client, batch)
		return true
	}
	return false
}

// duplicateBlockingBatch requests the lowest batch in flight again if a
// held batch waits for it.
func (bd *blockDownloader) duplicateBlockingBatch(ctx context.Context, client PeerClient) bool {
	batch, ok := bd.oldestInFlight()
	if !ok || batch.requestsSent >= bd.cfg.MaxBatchRequests {
		return false
	}
	oldestReady, ok := bd.queue.oldestReadyBatch()
	if !ok || oldestReady < batch.startHeight {
		return false
	}
	if !pruning.ClientHasBlockInRange(client.PruningSeed(), batch.startHeight, uint64(len(batch.ids))) {
		return false
	}
	batch.requestsSent++
	log.Debugf("Requesting the batch at height %d again from peer %s to unblock delivery",
		batch.startHeight, client.ID())
	bd.spawnBatchTask(ctx, client, batch)
	return true
}

func (bd *blockDownloader) requestChainEntry(ctx context.Context, client PeerClient) bool {
	if bd.chainEntryTasks >= maxChainEntryTasks ||
		bd.emptyChainEntries > bd.cfg.EmptyChainEntriesBeforeTopAssumed ||
		bd.tracker.blockRequestsQueued(bd.batchLen) >= maxQueuedBlockRequestsForChainEntry ||
		!bd.tracker.shouldAskForNextChainEntry(client.PruningSeed()) {

		return false
	}

	history := bd.tracker.simpleHistory()
	bd.chainEntryTasks++
	spawn("blockDownloader-requestChainEntry", func() {
		entry, err := requestChainEntryFromPeer(ctx, client, history, bd.cfg.ChainEntryTimeout)
		result := &chainEntryResult{client: client, entry: entry, err: err}
		select {
		case bd.chainEntryResults <- result:
		case <-ctx.Done():
			bd.pool.ReturnClient(client)
		}
	})
	return true
}

func (bd *blockDownloader) requestFreshBatch(ctx context.Context, client PeerClient) bool {
	batch, ok := bd.tracker.blocksToGet(client.PruningSeed(), bd.batchLen)
	if !ok {
		return false
	}
	batch.requestsSent = 1
	bd.inFlight[batch.startHeight] = batch
	inFlightBatches.Set(float64(len(bd.inFlight)))
	log.Tracef("Requesting %d blocks at height %d from peer %s", len(batch.ids), batch.startHeight, client.ID())
	bd.spawnBatchTask(ctx, client, batch)
	return true
}

func (bd *blockDownloader) spawnBatchTask(ctx context.Context, client PeerClient, batch *blocksToRetrieve) {
	ids := batch.ids
	prevID := batch.prevID
	startHeight := batch.startHeight

	bd.batchTasks++
	spawn("blockDownloader-requestBatch", func() {
		blockBatch, err := requestBatchFromPeer(ctx, client, ids, prevID, startHeight, bd.cfg.RequestTimeout)
		result := &batchResult{startHeight: startHeight, client: client, batch: blockBatch, err: err}
		select {
		case bd.batchResults <- result:
		case <-ctx.Done():
			bd.pool.ReturnClient(client)
		}
	})
}

func (bd *blockDownloader) oldestInFlight() (*blocksToRetrieve, bool) {
	var oldest *blocksToRetrieve
	for _, batch := range bd.inFlight {
		if oldest == nil || batch.startHeight < oldest.startHeight {
			oldest = batch
		}
	}
	return oldest, oldest != nil
}

func (bd *blockDownloader) handleBatchResult(ctx context.Context, result *batchResult) error {
	if result.err != nil {
		return bd.handleFailedBatch(ctx, result)
	}

	if _, ok := bd.inFlight[result.startHeight]; !ok {
		// Another request for the batch completed first.
		bd.addPendingPeer(result.client)
		bd.checkPendingPeers(ctx)
		return nil
	}
	delete(bd.inFlight, result.startHeight)
	inFlightBatches.Set(float64(len(bd.inFlight)))

	if !bd.batchLenUpdated || result.startHeight > bd.batchLenUpdatedAt {
		bd.batchLen = calculateNextBatchLen(result.batch.Size, len(result.batch.Blocks), bd.cfg.TargetBatchBytes)
		bd.batchLenUpdatedAt = result.startHeight
		bd.batchLenUpdated = true
		batchLength.Set(float64(bd.batchLen))
	}

	oldest, hasInFlight := bd.oldestInFlight()
	var oldestStartHeight uint64
	if hasInFlight {
		oldestStartHeight = oldest.startHeight
	}
	bd.queue.addIncomingBatch(&readyBatch{startHeight: result.startHeight, batch: result.batch},
		oldestStartHeight, hasInFlight)

	bd.addPendingPeer(result.client)
	bd.checkPendingPeers(ctx)
	return nil
}

func (bd *blockDownloader) handleFailedBatch(ctx context.Context, result *batchResult) error {
	if errors.Is(result.err, ErrChainInvalid) {
		failedRequests.WithLabelValues("chain_invalid").Inc()
		if batch, ok := bd.inFlight[result.startHeight]; ok {
			log.Warnf("Banning peer %s for sending an invalid chain", batch.peerWhoToldUs)
			bd.pool.BanPeer(batch.peerWhoToldUs)
		}
		bd.pool.ReturnClient(result.client)
		return result.err
	}

	failedRequests.WithLabelValues("batch").Inc()
	log.Debugf("Downloading the batch at height %d from peer %s failed: %s",
		result.startHeight, result.client.ID(), result.err)
	bd.releaseFailedClient(result.client, result.err)

	batch, ok := bd.inFlight[result.startHeight]
	if ok {
		batch.failures++
		if batch.failures > bd.cfg.MaxDownloadFailures {
			return errors.Wrapf(ErrTooManyFailures, "the batch at height %d failed %d times, last with: %s",
				result.startHeight, batch.failures, result.err)
		}
		if !batch.failed {
			batch.failed = true
			heap.Push(&bd.failedBatches, result.startHeight)
		}
	}
	bd.checkPendingPeers(ctx)
	return nil
}

func (bd *blockDownloader) handleChainEntryResult(ctx context.Context, result *chainEntryResult) {
	if result.err != nil {
		failedRequests.WithLabelValues("chain_entry").Inc()
		log.Debugf("Chain entry request to peer %s failed: %s", result.client.ID(), result.err)
		bd.emptyChainEntries++
		bd.releaseFailedClient(result.client, result.err)
		bd.checkPendingPeers(ctx)
		return
	}

	err := bd.tracker.addEntry(result.entry, result.client.ID())
	if err != nil {
		log.Debugf("Chain entry from peer %s not added: %s", result.client.ID(), err)
		bd.emptyChainEntries++
	} else {
		bd.emptyChainEntries = 0
	}
	bd.addPendingPeer(result.client)
	bd.checkPendingPeers(ctx)
}
