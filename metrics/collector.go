// Package metrics exposes a submem.Manager's per-heap memory usage to Prometheus
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vkngwrapper/submem/memutils"
)

// HeapSource is implemented by *submem.Manager
type HeapSource interface {
	HeapStatistics() []memutils.Statistics
	HeapSize(heapIndex int) int
	HeapLimit(heapIndex int) int
}

// Collector is a prometheus.Collector that reads heap statistics from a HeapSource every time
// it is scraped. A Manager is not safe for concurrent use, so scrapes must be serialized with the
// rest of the Manager's callers.
type Collector struct {
	source HeapSource

	blockCount      *prometheus.Desc
	blockBytes      *prometheus.Desc
	allocationCount *prometheus.Desc
	allocationBytes *prometheus.Desc
	heapSize        *prometheus.Desc
	heapLimit       *prometheus.Desc
}

var _ prometheus.Collector = &Collector{}

// NewCollector creates a Collector. namespace prefixes every metric name, and constLabels are
// attached to every sample, which allows several Managers to share a registry.
func NewCollector(namespace string, constLabels prometheus.Labels, source HeapSource) *Collector {
	heapLabels := []string{"heap"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "heap", name), help, heapLabels, constLabels)
	}

	return &Collector{
		source: source,

		blockCount:      desc("blocks", "Number of device memory blocks allocated from the heap"),
		blockBytes:      desc("block_bytes", "Bytes of device memory allocated from the heap as blocks"),
		allocationCount: desc("allocations", "Number of live buffers and images placed in the heap's blocks"),
		allocationBytes: desc("allocation_bytes", "Bytes reserved by live buffers and images in the heap's blocks"),
		heapSize:        desc("size_bytes", "Size of the heap as reported by the device"),
		heapLimit:       desc("limit_bytes", "Configured allocation limit for the heap, 0 if unlimited"),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.blockCount
	ch <- c.blockBytes
	ch <- c.allocationCount
	ch <- c.allocationBytes
	ch <- c.heapSize
	ch <- c.heapLimit
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for heapIndex, stats := range c.source.HeapStatistics() {
		heap := strconv.Itoa(heapIndex)

		ch <- prometheus.MustNewConstMetric(c.blockCount, prometheus.GaugeValue, float64(stats.BlockCount), heap)
		ch <- prometheus.MustNewConstMetric(c.blockBytes, prometheus.GaugeValue, float64(stats.BlockBytes), heap)
		ch <- prometheus.MustNewConstMetric(c.allocationCount, prometheus.GaugeValue, float64(stats.AllocationCount), heap)
		ch <- prometheus.MustNewConstMetric(c.allocationBytes, prometheus.GaugeValue, float64(stats.AllocationBytes), heap)
		ch <- prometheus.MustNewConstMetric(c.heapSize, prometheus.GaugeValue, float64(c.source.HeapSize(heapIndex)), heap)
		ch <- prometheus.MustNewConstMetric(c.heapLimit, prometheus.GaugeValue, float64(c.source.HeapLimit(heapIndex)), heap)
	}
}
