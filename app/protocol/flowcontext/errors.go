package flowcontext

import "github.com/pkg/errors"

var (
	// ErrNoCommonBlock is returned when none of a peer's history is on our
	// main chain.
	ErrNoCommonBlock = errors.New("no block of the history is on our chain")

	// ErrTooManyObjects is returned when a peer asks for more blocks than
	// one response may carry.
	ErrTooManyObjects = errors.New("too many objects requested")
)
