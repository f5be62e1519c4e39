package blockdownloader

import "github.com/prometheus/client_golang/prometheus"

var (
	inFlightBatches = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ringd_downloader_in_flight_batches",
		Help: "Number of batches being downloaded",
	})
	queueBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ringd_downloader_queue_bytes",
		Help: "Bytes of downloaded batches waiting for delivery",
	})
	batchLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ringd_downloader_batch_length",
		Help: "Number of blocks requested in a fresh batch",
	})
	deliveredBatches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ringd_downloader_delivered_batches_total",
		Help: "Number of batches delivered in order",
	})
	deliveredBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ringd_downloader_delivered_blocks_total",
		Help: "Number of blocks delivered in order",
	})
	failedRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ringd_downloader_failed_requests_total",
		Help: "Number of failed peer requests by kind",
	}, []string{"kind"})
)

// Collectors returns the downloader's metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		inFlightBatches,
		queueBytes,
		batchLength,
		deliveredBatches,
		deliveredBlocks,
		failedRequests,
	}
}
