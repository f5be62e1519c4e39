package blockdownloader

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

type streamItem struct {
	batch  *BlockBatch
	weight int64
}

// BatchStream is the ordered output of a download. The bytes of batches
// waiting in the stream are bounded; the downloader waits for room before
// adding more.
type BatchStream struct {
	lock     sync.Mutex
	items    []streamItem
	finished bool
	err      error

	signal   chan struct{}
	space    *semaphore.Weighted
	capacity int64

	// ctx is cancelled when the consumer closes the stream.
	ctx    context.Context
	cancel context.CancelFunc
}

func newBatchStream(ctx context.Context, capacityBytes int) *BatchStream {
	capacity := int64(max(capacityBytes, 1))
	streamCtx, cancel := context.WithCancel(ctx)
	return &BatchStream{
		signal:   make(chan struct{}, 1),
		space:    semaphore.NewWeighted(capacity),
		capacity: capacity,
		ctx:      streamCtx,
		cancel:   cancel,
	}
}

func (s *BatchStream) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// send waits for room for batch and appends it.
func (s *BatchStream) send(batch *BlockBatch) error {
	weight := min(int64(batch.Size), s.capacity)
	err := s.space.Acquire(s.ctx, weight)
	if err != nil {
		return errors.Wrapf(ErrBufferWasClosed, "cannot send the batch at height %d", batch.StartHeight)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.finished || s.ctx.Err() != nil {
		s.space.Release(weight)
		return errors.Wrapf(ErrBufferWasClosed, "cannot send the batch at height %d", batch.StartHeight)
	}
	s.items = append(s.items, streamItem{batch: batch, weight: weight})
	s.notify()
	return nil
}

// finish ends the stream. Batches already in it are still returned by Next.
func (s *BatchStream) finish(err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.err = err
	s.notify()
}

// Next returns the next batch. Once every batch was returned it returns
// io.EOF if the download reached the top of the network's chain, or the
// error that stopped it.
func (s *BatchStream) Next(ctx context.Context) (*BlockBatch, error) {
	for {
		s.lock.Lock()
		if len(s.items) > 0 {
			item := s.items[0]
			s.items[0] = streamItem{}
			s.items = s.items[1:]
			s.lock.Unlock()
			s.space.Release(item.weight)
			return item.batch, nil
		}
		if s.finished {
			err := s.err
			s.lock.Unlock()
			if err == nil {
				return nil, io.EOF
			}
			return nil, err
		}
		s.lock.Unlock()

		select {
		case <-s.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close tells the downloader the consumer stopped reading. The download
// then ends with ErrBufferWasClosed.
func (s *BatchStream) Close() {
	s.cancel()
}

// closed is done once the consumer closed the stream.
func (s *BatchStream) closed() <-chan struct{} {
	return s.ctx.Done()
}
