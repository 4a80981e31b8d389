package storage

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ───────────────────────────────────────────────────────────────────────────
// Prometheus metrics
// ───────────────────────────────────────────────────────────────────────────
//
// StatsCollector exports the buffer pool's monotonic counters without the
// engine having to know a registry exists. Register it with
// prometheus.MustRegister(NewStatsCollector(engine)).

var (
	descHits = prometheus.NewDesc(
		"pagedb_buffer_hits_total",
		"Buffer pool cache hits.",
		nil, nil)
	descMisses = prometheus.NewDesc(
		"pagedb_buffer_misses_total",
		"Buffer pool cache misses.",
		nil, nil)
	descEvictions = prometheus.NewDesc(
		"pagedb_buffer_evictions_total",
		"Frames evicted from the buffer pool.",
		nil, nil)
	descFlushes = prometheus.NewDesc(
		"pagedb_buffer_flushes_total",
		"Dirty pages written back to disk.",
		nil, nil)
	descCapacity = prometheus.NewDesc(
		"pagedb_buffer_capacity_frames",
		"Configured buffer pool capacity in frames.",
		nil, nil)
)

// StatsCollector adapts an engine's Stats snapshot to Prometheus.
type StatsCollector struct {
	engine *StorageEngine
}

// NewStatsCollector builds a collector over an open engine.
func NewStatsCollector(engine *StorageEngine) *StatsCollector {
	return &StatsCollector{engine: engine}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descHits
	ch <- descMisses
	ch <- descEvictions
	ch <- descFlushes
	ch <- descCapacity
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.engine.Stats()
	ch <- prometheus.MustNewConstMetric(descHits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(descMisses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(descEvictions, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(descFlushes, prometheus.CounterValue, float64(s.Flushes))
	ch <- prometheus.MustNewConstMetric(descCapacity, prometheus.GaugeValue, float64(c.engine.buffer.Capacity()))
}
