package blockdownloader

import (
	"container/heap"
	"sync"
)

// readyBatch is a downloaded batch waiting for the batches below it.
type readyBatch struct {
	startHeight uint64
	batch       *BlockBatch
}

// readyBatchHeap is a min-heap of ready batches by start height.
type readyBatchHeap []*readyBatch

func (h readyBatchHeap) Len() int           { return len(h) }
func (h readyBatchHeap) Less(i, j int) bool { return h[i].startHeight < h[j].startHeight }
func (h readyBatchHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *readyBatchHeap) Push(x interface{}) {
	*h = append(*h, x.(*readyBatch))
}

func (h *readyBatchHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// blockQueue holds batches that completed out of order and passes them to
// the output stream in ascending height order once no lower batch is in
// flight. Delivery runs in its own goroutine so that a full stream does not
// stop the downloader from handling completions.
type blockQueue struct {
	lock  sync.Mutex
	ready readyBatchHeap

	// size counts held batches and batches being delivered.
	size int

	oldestInFlight uint64
	hasInFlight    bool
	finished       bool

	signal chan struct{}
	quit   chan struct{}
	stream *BatchStream

	// drained receives after a batch left the queue for the stream.
	drained chan struct{}
}

func newBlockQueue(stream *BatchStream) *blockQueue {
	return &blockQueue{
		signal:  make(chan struct{}, 1),
		quit:    make(chan struct{}),
		stream:  stream,
		drained: make(chan struct{}, 1),
	}
}

func (q *blockQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// addIncomingBatch holds batch until every batch below it was delivered.
// oldestInFlight is the lowest start height still being downloaded, if
// hasInFlight is set.
func (q *blockQueue) addIncomingBatch(batch *readyBatch, oldestInFlight uint64, hasInFlight bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	heap.Push(&q.ready, batch)
	q.size += batch.batch.Size
	q.oldestInFlight = oldestInFlight
	q.hasInFlight = hasInFlight
	queueBytes.Set(float64(q.size))
	q.notify()
}

// Size returns the bytes of batches not yet in the output stream.
func (q *blockQueue) Size() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.size
}

// oldestReadyBatch returns the lowest start height among held batches.
func (q *blockQueue) oldestReadyBatch() (uint64, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if len(q.ready) == 0 {
		return 0, false
	}
	return q.ready[0].startHeight, true
}

// finish marks that no more batches will be added. run returns once the
// held batches were delivered.
func (q *blockQueue) finish() {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.finished = true
	q.hasInFlight = false
	q.notify()
}

// stop makes run return without delivering the held batches.
func (q *blockQueue) stop() {
	close(q.quit)
}

func (q *blockQueue) takeDeliverable() (batches []*readyBatch, done bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	for len(q.ready) > 0 && (!q.hasInFlight || q.ready[0].startHeight <= q.oldestInFlight) {
		batches = append(batches, heap.Pop(&q.ready).(*readyBatch))
	}
	return batches, q.finished && len(q.ready) == 0
}

func (q *blockQueue) delivered(batch *readyBatch) {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.size -= batch.batch.Size
	queueBytes.Set(float64(q.size))
	select {
	case q.drained <- struct{}{}:
	default:
	}
}

// run delivers batches to the output stream until finish or stop is
// called, or the stream is closed.
func (q *blockQueue) run() error {
	for {
		batches, done := q.takeDeliverable()
		for _, batch := range batches {
			err := q.stream.send(batch.batch)
			q.delivered(batch)
			if err != nil {
				return err
			}
			deliveredBatches.Inc()
			deliveredBlocks.Add(float64(len(batch.batch.Blocks)))
			log.Tracef("Delivered %d blocks starting at height %d", len(batch.batch.Blocks), batch.startHeight)
		}
		if done {
			return nil
		}
		if len(batches) > 0 {
			continue
		}

		select {
		case <-q.signal:
		case <-q.quit:
			return nil
		}
	}
}
