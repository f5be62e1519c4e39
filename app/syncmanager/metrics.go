package syncmanager

import "github.com/prometheus/client_golang/prometheus"

var (
	chainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ringd_chain_height",
		Help: "Number of blocks on the main chain",
	})
	storedBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ringd_sync_stored_blocks_total",
		Help: "Number of downloaded blocks added to the chain",
	})
	rejectedBatches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ringd_sync_rejected_batches_total",
		Help: "Number of downloaded batches that failed verification",
	})
)

// Collectors returns the sync manager's metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{chainHeight, storedBlocks, rejectedBatches}
}
