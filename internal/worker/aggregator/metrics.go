// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package aggregator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/juju/rfidagg/internal/publish"
)

const metricsNamespace = "rfidagg_aggregator"

// Collector is a prometheus.Collector that collects metrics about the
// aggregator worker.
type Collector struct {
	flushes       prometheus.Counter
	reads         prometheus.Counter
	evictions     prometheus.Counter
	emissions     *prometheus.CounterVec
	storeSize     prometheus.Gauge
	flushInterval prometheus.Gauge
	flushDuration prometheus.Histogram
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		flushes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "flushes_total",
				Help:      "The number of flush cycles that merged at least one read.",
			},
		),
		reads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "reads_total",
				Help:      "The number of raw reads merged into the tag table.",
			},
		),
		evictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "evictions_total",
				Help:      "The number of tags evicted to stay within capacity.",
			},
		),
		emissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "emissions_total",
				Help:      "The number of publish decisions, by outcome.",
			}, []string{"outcome"},
		),
		storeSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "tags",
				Help:      "The number of tags in the tag table.",
			},
		),
		flushInterval: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "flush_interval_seconds",
				Help:      "The current adaptive flush interval.",
			},
		),
		flushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "flush_duration_seconds",
				Help:      "The time taken to merge and publish a flush cycle.",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.flushes.Describe(ch)
	c.reads.Describe(ch)
	c.evictions.Describe(ch)
	c.emissions.Describe(ch)
	c.storeSize.Describe(ch)
	c.flushInterval.Describe(ch)
	c.flushDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.flushes.Collect(ch)
	c.reads.Collect(ch)
	c.evictions.Collect(ch)
	c.emissions.Collect(ch)
	c.storeSize.Collect(ch)
	c.flushInterval.Collect(ch)
	c.flushDuration.Collect(ch)
}

func (c *Collector) observeFlush(reads, evicted, size int, outcome publish.Outcome, took time.Duration) {
	if c == nil {
		return
	}
	c.flushes.Inc()
	c.reads.Add(float64(reads))
	c.evictions.Add(float64(evicted))
	c.emissions.WithLabelValues(outcome.String()).Inc()
	c.storeSize.Set(float64(size))
	c.flushDuration.Observe(took.Seconds())
}

func (c *Collector) setInterval(d time.Duration) {
	if c == nil {
		return
	}
	c.flushInterval.Set(d.Seconds())
}

func (c *Collector) setStoreSize(size int) {
	if c == nil {
		return
	}
	c.storeSize.Set(float64(size))
}
