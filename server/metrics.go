package server

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ardnew/sdmsc/pkg"
)

const metricsNamespace = "sdmsc"

// Failure reasons recorded by the transfer failure counter.
const (
	reasonAborted  = "aborted"
	reasonInvalid  = "invalid"
	reasonNotReady = "not_ready"
	reasonCard     = "card"
)

// Metrics collects block transfer statistics in a private registry.
type Metrics struct {
	registry    *prometheus.Registry
	blocks      *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	operational prometheus.Gauge
}

// NewMetrics creates and registers the transfer collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "blocks_total",
			Help:      "Logical blocks transferred, by operation.",
		}, []string{"op"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transfer_failures_total",
			Help:      "Block transfers that stopped early, by operation and reason.",
		}, []string{"op", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "transfer_duration_seconds",
			Help:      "Duration of block-range transfers, by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"op"}),
		operational: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "medium_operational",
			Help:      "1 while the card is initialized and has not failed.",
		}),
	}
	m.registry.MustRegister(m.blocks, m.failures, m.duration, m.operational)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// observe records one block-range transfer.
func (m *Metrics) observe(op string, blocks int, start time.Time, err error) {
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.failures.WithLabelValues(op, failureReason(err)).Inc()
		return
	}
	m.blocks.WithLabelValues(op).Add(float64(blocks))
}

func (m *Metrics) setOperational(ok bool) {
	if ok {
		m.operational.Set(1)
	} else {
		m.operational.Set(0)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, pkg.ErrAborted),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return reasonAborted
	case errors.Is(err, pkg.ErrInvalidAddress),
		errors.Is(err, pkg.ErrInvalidParameter):
		return reasonInvalid
	case errors.Is(err, pkg.ErrNotInitialized),
		errors.Is(err, pkg.ErrNoMedium):
		return reasonNotReady
	default:
		return reasonCard
	}
}
