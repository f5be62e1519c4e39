package verifier

// These constants identify a specific RuleError.
var (
	// ErrWrongPrevID indicates a block does not build on the block before it.
	ErrWrongPrevID = newRuleError("ErrWrongPrevID")

	// ErrWrongHeight indicates the height claimed by a block's miner
	// transaction is not the block's position in the chain.
	ErrWrongHeight = newRuleError("ErrWrongHeight")

	// ErrNoCoinbase indicates a block's miner transaction has no generation input.
	ErrNoCoinbase = newRuleError("ErrNoCoinbase")

	// ErrTxCountMismatch indicates a different number of transactions was
	// supplied than the block lists.
	ErrTxCountMismatch = newRuleError("ErrTxCountMismatch")

	// ErrTxHashMismatch indicates a supplied transaction is not the one the
	// block lists at its position.
	ErrTxHashMismatch = newRuleError("ErrTxHashMismatch")

	// ErrCoinbaseInBody indicates a coinbase transaction outside the miner
	// transaction slot.
	ErrCoinbaseInBody = newRuleError("ErrCoinbaseInBody")

	// ErrDuplicateKeyImage indicates a key image spent twice within a batch.
	ErrDuplicateKeyImage = newRuleError("ErrDuplicateKeyImage")

	// ErrBadFee indicates a transaction whose fee cannot be computed.
	ErrBadFee = newRuleError("ErrBadFee")
)

// RuleError identifies a rule violation. The caller can use type assertions
// or errors.As to find out whether a failure was due to a rule violation
// and errors.Is to find out which one.
type RuleError struct {
	message string
	inner   error
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	if e.inner != nil {
		return e.message + ": " + e.inner.Error()
	}
	return e.message
}

// Unwrap satisfies the errors.Unwrap interface
func (e RuleError) Unwrap() error {
	return e.inner
}

// Cause satisfies the github.com/pkg/errors.Cause interface
func (e RuleError) Cause() error {
	return e.inner
}

func newRuleError(message string) RuleError {
	return RuleError{message: message, inner: nil}
}
