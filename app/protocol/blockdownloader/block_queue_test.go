package blockdownloader

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func readyBatchForTest(startHeight uint64, size int) *readyBatch {
	return &readyBatch{
		startHeight: startHeight,
		batch:       &BlockBatch{StartHeight: startHeight, Size: size},
	}
}

func drainStreamForTest(t require.TestingT, stream *BatchStream) ([]*BlockBatch, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var batches []*BlockBatch
	for {
		batch, err := stream.Next(ctx)
		if err != nil {
			require.NotErrorIs(t, err, context.DeadlineExceeded, "the stream did not end")
			return batches, err
		}
		batches = append(batches, batch)
	}
}

func TestBlockQueueDeliversInOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		batchCount := rapid.IntRange(1, 30).Draw(t, "batchCount")
		batchLen := rapid.Uint64Range(1, 10).Draw(t, "batchLen")
		indexes := make([]int, batchCount)
		for i := range indexes {
			indexes[i] = i
		}
		arrival := rapid.Permutation(indexes).Draw(t, "arrival")

		stream := newBatchStream(context.Background(), 1<<30)
		queue := newBlockQueue(stream)
		queueErr := make(chan error, 1)
		go func() { queueErr <- queue.run() }()

		inFlight := make(map[uint64]struct{}, batchCount)
		for i := 0; i < batchCount; i++ {
			inFlight[uint64(i)*batchLen] = struct{}{}
		}
		for _, i := range arrival {
			startHeight := uint64(i) * batchLen
			delete(inFlight, startHeight)
			var oldest uint64
			hasInFlight := false
			for height := range inFlight {
				if !hasInFlight || height < oldest {
					oldest = height
					hasInFlight = true
				}
			}
			queue.addIncomingBatch(readyBatchForTest(startHeight, 1), oldest, hasInFlight)
		}
		queue.finish()
		if err := <-queueErr; err != nil {
			t.Fatalf("run: %s", err)
		}
		if queue.Size() != 0 {
			t.Fatalf("%d bytes left in the queue", queue.Size())
		}
		stream.finish(nil)

		batches, err := drainStreamForTest(t, stream)
		if !errors.Is(err, io.EOF) {
			t.Fatalf("unexpected stream error: %s", err)
		}
		if len(batches) != batchCount {
			t.Fatalf("got %d batches, want %d", len(batches), batchCount)
		}
		for i, batch := range batches {
			if batch.StartHeight != uint64(i)*batchLen {
				t.Fatalf("batch %d starts at %d, want %d", i, batch.StartHeight, uint64(i)*batchLen)
			}
		}
	})
}

func TestBlockQueueHoldsBatchesAboveInFlight(t *testing.T) {
	stream := newBatchStream(context.Background(), 1<<20)
	queue := newBlockQueue(stream)
	queueErr := make(chan error, 1)
	go func() { queueErr <- queue.run() }()

	queue.addIncomingBatch(readyBatchForTest(20, 100), 10, true)
	queue.addIncomingBatch(readyBatchForTest(30, 50), 10, true)
	require.Equal(t, 150, queue.Size())
	oldest, ok := queue.oldestReadyBatch()
	require.True(t, ok)
	require.Equal(t, uint64(20), oldest)

	queue.addIncomingBatch(readyBatchForTest(10, 10), 0, false)
	queue.finish()
	require.NoError(t, <-queueErr)
	require.Equal(t, 0, queue.Size())
	_, ok = queue.oldestReadyBatch()
	require.False(t, ok)

	stream.finish(nil)
	batches, err := drainStreamForTest(t, stream)
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, batches, 3)
	for i, startHeight := range []uint64{10, 20, 30} {
		require.Equal(t, startHeight, batches[i].StartHeight)
	}
}

func TestBlockQueueStop(t *testing.T) {
	stream := newBatchStream(context.Background(), 1<<20)
	queue := newBlockQueue(stream)
	queueErr := make(chan error, 1)
	go func() { queueErr <- queue.run() }()

	queue.addIncomingBatch(readyBatchForTest(20, 100), 10, true)
	queue.stop()
	require.NoError(t, <-queueErr)
	require.Equal(t, 100, queue.Size())
}

func TestBatchStreamBackpressure(t *testing.T) {
	stream := newBatchStream(context.Background(), 10)
	require.NoError(t, stream.send(&BlockBatch{StartHeight: 0, Size: 8}))

	sent := make(chan error, 1)
	go func() { sent <- stream.send(&BlockBatch{StartHeight: 8, Size: 8}) }()
	select {
	case err := <-sent:
		t.Fatalf("send returned %v while the stream was full", err)
	case <-time.After(50 * time.Millisecond):
	}

	batch, err := stream.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(0), batch.StartHeight)
	require.NoError(t, <-sent)

	stream.finish(errors.WithStack(ErrTimedOut))
	batch, err = stream.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(8), batch.StartHeight)
	_, err = stream.Next(context.Background())
	require.ErrorIs(t, err, ErrTimedOut)
}

func TestBatchStreamOversizedBatch(t *testing.T) {
	stream := newBatchStream(context.Background(), 10)
	require.NoError(t, stream.send(&BlockBatch{StartHeight: 0, Size: 1000}))
	batch, err := stream.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1000, batch.Size)
}

func TestBatchStreamClose(t *testing.T) {
	stream := newBatchStream(context.Background(), 10)
	require.NoError(t, stream.send(&BlockBatch{StartHeight: 0, Size: 10}))

	sent := make(chan error, 1)
	go func() { sent <- stream.send(&BlockBatch{StartHeight: 10, Size: 10}) }()
	stream.Close()
	require.ErrorIs(t, <-sent, ErrBufferWasClosed)
	<-stream.closed()
	require.ErrorIs(t, stream.send(&BlockBatch{StartHeight: 20, Size: 1}), ErrBufferWasClosed)
}

func TestBlockQueueSignalsDrained(t *testing.T) {
	stream := newBatchStream(context.Background(), 1<<30)
	queue := newBlockQueue(stream)
	queueErr := make(chan error, 1)
	go func() { queueErr <- queue.run() }()

	queue.addIncomingBatch(readyBatchForTest(0, 5), 0, false)
	select {
	case <-queue.drained:
	case <-time.After(5 * time.Second):
		t.Fatalf("no drained signal after the batch was delivered")
	}
	require.Equal(t, 0, queue.Size())

	queue.finish()
	require.NoError(t, <-queueErr)
}
