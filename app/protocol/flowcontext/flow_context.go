// Package flowcontext holds the chain state shared by the block downloader
// and the peer-facing server.
package flowcontext

import (
	"sync/atomic"

	"github.com/ringchain/ringd/domain/chain/pruning"
	"github.com/ringchain/ringd/domain/chainstore"
)

// FlowContext gives the protocol flows access to our chain. It implements
// blockdownloader.ChainService and serves peer requests.
type FlowContext struct {
	store       *chainstore.Store
	pruningSeed pruning.Seed

	isInIBD uint32
}

// New returns a new instance of FlowContext.
func New(store *chainstore.Store, pruningSeed pruning.Seed) *FlowContext {
	return &FlowContext{
		store:       store,
		pruningSeed: pruningSeed,
	}
}

// Store returns the chain store associated to the flow context.
func (f *FlowContext) Store() *chainstore.Store {
	return f.store
}

// PruningSeed returns the pruning seed we advertise.
func (f *FlowContext) PruningSeed() pruning.Seed {
	return f.pruningSeed
}

// IsIBDRunning is true if the node is currently downloading blocks.
func (f *FlowContext) IsIBDRunning() bool {
	return atomic.LoadUint32(&f.isInIBD) != 0
}

// TrySetIBDRunning attempts to set `isInIBD`. Returns false
// if it is already set
func (f *FlowContext) TrySetIBDRunning() bool {
	return atomic.CompareAndSwapUint32(&f.isInIBD, 0, 1)
}

// UnsetIBDRunning unsets isInIBD
func (f *FlowContext) UnsetIBDRunning() {
	succeeded := atomic.CompareAndSwapUint32(&f.isInIBD, 1, 0)
	if !succeeded {
		panic("attempted to unset isInIBD when it was not set to begin with")
	}
}
