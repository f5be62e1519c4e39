package blockdownloader

import (
	"time"

	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// MaxBlockBatchLen is the maximum number of blocks requested from a
	// peer at once.
	MaxBlockBatchLen = 100

	// MaxBlockIDsInChainEntry is the maximum number of block ids a peer
	// may send in one chain entry.
	MaxBlockIDsInChainEntry = 25000

	// initialChainRequestsToSend is the number of peers asked for a chain
	// entry when looking for a chain to follow.
	initialChainRequestsToSend = 3

	// maxChainEntryTasks is the number of chain entry requests kept in
	// flight, so a slow peer does not stall the tracker.
	maxChainEntryTasks = 2

	// maxQueuedBlockRequestsForChainEntry is the number of batches the
	// tracker may still hand out before we stop asking for chain entries.
	maxQueuedBlockRequestsForChainEntry = 500
)

// Config holds the downloader's policy knobs.
type Config struct {
	// BufferBytes bounds the bytes of downloaded batches waiting to be
	// taken from the output stream.
	BufferBytes int

	// InProgressQueueBytes is the amount of held out of order batches above
	// which no fresh batches are requested and the batch blocking delivery
	// is requested again from other peers.
	InProgressQueueBytes int

	// CheckClientPoolInterval is how often the client pool is polled for
	// peers to sync from.
	CheckClientPoolInterval time.Duration

	// TargetBatchBytes is the size batches are adjusted towards.
	TargetBatchBytes int

	// InitialBatchLen is the number of blocks in the first batch.
	InitialBatchLen int

	// MaxDownloadFailures is the number of times one batch may fail before
	// the download is aborted.
	MaxDownloadFailures int

	// EmptyChainEntriesBeforeTopAssumed is the number of consecutive
	// chain entries without new blocks after which the top of the network's
	// chain is assumed to be reached.
	EmptyChainEntriesBeforeTopAssumed int

	// MaxBatchRequests is the number of requests that may be sent for one
	// batch, counting the original one, before it stops being duplicated.
	MaxBatchRequests int

	RequestTimeout    time.Duration
	ChainEntryTimeout time.Duration

	// ClientPoolTicker, if set, replaces the ticker built from
	// CheckClientPoolInterval.
	ClientPoolTicker ticker.Ticker
}

// DefaultConfig returns the default downloader configuration.
func DefaultConfig() *Config {
	return &Config{
		BufferBytes:                       50_000_000,
		InProgressQueueBytes:              50_000_000,
		CheckClientPoolInterval:           30 * time.Second,
		TargetBatchBytes:                  5_000_000,
		InitialBatchLen:                   1,
		MaxDownloadFailures:               5,
		EmptyChainEntriesBeforeTopAssumed: 5,
		MaxBatchRequests:                  2,
		RequestTimeout:                    30 * time.Second,
		ChainEntryTimeout:                 10 * time.Second,
	}
}
