package blockdownloader

import "github.com/pkg/errors"

var (
	// ErrTimedOut is returned when a peer did not answer a request in time.
	ErrTimedOut = errors.New("request timed out")

	// ErrPeerDidNotHaveRequestedData is returned when a peer answered with
	// fewer blocks than requested.
	ErrPeerDidNotHaveRequestedData = errors.New("the peer did not have the requested data")

	// ErrPeersResponseWasInvalid is returned when a peer's answer does not
	// match its request.
	ErrPeersResponseWasInvalid = errors.New("the peer's response was invalid")

	// ErrChainInvalid is returned when downloaded blocks do not form the
	// chain a peer told us about. It aborts the download.
	ErrChainInvalid = errors.New("the chain being followed is invalid")

	// ErrBufferWasClosed is returned when the consumer closed the output
	// stream.
	ErrBufferWasClosed = errors.New("the output stream was closed")

	// ErrFailedToFindAChainToFollow is returned when no peer offered a
	// chain with blocks we do not have.
	ErrFailedToFindAChainToFollow = errors.New("failed to find a chain to follow")

	// ErrPeerSentNoOverlappingBlocks is returned when a peer's chain entry
	// shares no block with our chain.
	ErrPeerSentNoOverlappingBlocks = errors.New("the peer sent no blocks we know")

	// ErrTooManyFailures is returned when one batch failed more than the
	// configured number of times. It is a timeout class failure.
	ErrTooManyFailures = errors.Wrap(ErrTimedOut, "too many failed attempts for one batch")

	errNewEntryIsEmpty            = errors.New("the chain entry has no new blocks")
	errNewEntryDoesNotFollowChain = errors.New("the chain entry does not follow the tracked chain")
)
