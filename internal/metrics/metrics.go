// Package metrics exposes the gateway's Prometheus collectors: scan
// throughput and latency, invoice recomputation volume, subaddress
// pool occupancy, and publisher backpressure drops.
//
// Grounded on the teacher's metrics/prometheus package, which adapts
// an existing metrics registry into a prometheus.Gatherer; this
// gateway has no such pre-existing registry to adapt, so it registers
// client_golang collectors directly against the Registerer it's given,
// the library's own documented idiom for a component that owns its
// metrics from scratch.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every metric this gateway emits. The zero value is
// not usable; construct one with New.
type Collector struct {
	scansTotal         *prometheus.CounterVec
	scanDuration       prometheus.Histogram
	blocksScanned      prometheus.Counter
	invoicesRecomputed prometheus.Counter
	subaddressPoolSize prometheus.Gauge
	publisherDrops     *prometheus.CounterVec
}

// New builds a Collector and registers its metrics against reg. Panics
// (via reg.MustRegister) if any metric name collides with one already
// registered, same as any other prometheus collector set.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		scansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xmrgateway",
			Name:      "scans_total",
			Help:      "Completed scan ticks, labeled by result.",
		}, []string{"result"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "xmrgateway",
			Name:      "scan_duration_seconds",
			Help:      "Wall-clock duration of a single scan tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		blocksScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xmrgateway",
			Name:      "blocks_scanned_total",
			Help:      "Blocks scanned or rescanned across all ticks, including reorg repairs.",
		}),
		invoicesRecomputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xmrgateway",
			Name:      "invoices_recomputed_total",
			Help:      "Invoices whose state changed during a scan tick, counted before they are persisted and published.",
		}),
		subaddressPoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xmrgateway",
			Name:      "subaddress_pool_size",
			Help:      "Currently unissued, available subaddresses.",
		}),
		publisherDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xmrgateway",
			Name:      "publisher_drops_total",
			Help:      "Invoice updates dropped because a subscriber's buffer was full, labeled by subscription scope.",
		}, []string{"scope"}),
	}

	reg.MustRegister(
		c.scansTotal,
		c.scanDuration,
		c.blocksScanned,
		c.invoicesRecomputed,
		c.subaddressPoolSize,
		c.publisherDrops,
	)
	return c
}

// ObserveScan records the outcome of one scanner tick. Satisfies
// scanner.Metrics.
func (c *Collector) ObserveScan(duration time.Duration, blocksScanned, invoicesRecomputed int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.scansTotal.WithLabelValues(result).Inc()
	c.scanDuration.Observe(duration.Seconds())
	c.blocksScanned.Add(float64(blocksScanned))
	c.invoicesRecomputed.Add(float64(invoicesRecomputed))
}

// SetSubaddressPoolSize records the subaddress cache's current
// available count.
func (c *Collector) SetSubaddressPoolSize(n int) {
	c.subaddressPoolSize.Set(float64(n))
}

// PublisherDrop records one dropped update. Satisfies pubsub.Metrics.
func (c *Collector) PublisherDrop(invoiceScoped bool) {
	scope := "global"
	if invoiceScoped {
		scope = "invoice"
	}
	c.publisherDrops.WithLabelValues(scope).Inc()
}
