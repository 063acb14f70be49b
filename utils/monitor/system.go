// Package monitor exports process runtime gauges.
package monitor

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Snapshot is one sample of the Go runtime.
type Snapshot struct {
	Goroutines  int
	HeapAlloc   uint64
	HeapObjects uint64
	Sys         uint64
	NumGC       uint32
	LastPause   time.Duration
}

// SystemMonitor samples the runtime on an interval and publishes gauges.
type SystemMonitor struct {
	interval time.Duration
	logger   *zap.Logger
	metrics  struct {
		goroutines  prometheus.Gauge
		heapAlloc   prometheus.Gauge
		heapObjects prometheus.Gauge
		sysBytes    prometheus.Gauge
		gcPause     prometheus.Gauge
	}
}

func NewSystemMonitor(reg prometheus.Registerer, namespace string, interval time.Duration, logger *zap.Logger) *SystemMonitor {
	f := promauto.With(reg)
	m := &SystemMonitor{interval: interval, logger: logger.Named("monitor")}

	m.metrics.goroutines = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "runtime",
		Name:      "goroutines",
		Help:      "Current number of goroutines",
	})
	m.metrics.heapAlloc = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "runtime",
		Name:      "heap_alloc_bytes",
		Help:      "Current heap allocation in bytes",
	})
	m.metrics.heapObjects = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "runtime",
		Name:      "heap_objects",
		Help:      "Current number of heap objects",
	})
	m.metrics.sysBytes = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "runtime",
		Name:      "sys_bytes",
		Help:      "Memory obtained from the OS",
	})
	m.metrics.gcPause = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "runtime",
		Name:      "gc_last_pause_seconds",
		Help:      "Duration of the most recent GC pause",
	})
	return m
}

// Run samples until ctx is cancelled.
func (m *SystemMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Collect()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Collect takes one sample and updates the gauges.
func (m *SystemMonitor) Collect() Snapshot {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	snap := Snapshot{
		Goroutines:  runtime.NumGoroutine(),
		HeapAlloc:   stats.HeapAlloc,
		HeapObjects: stats.HeapObjects,
		Sys:         stats.Sys,
		NumGC:       stats.NumGC,
	}
	if stats.NumGC > 0 {
		snap.LastPause = time.Duration(stats.PauseNs[(stats.NumGC+255)%256])
	}

	m.metrics.goroutines.Set(float64(snap.Goroutines))
	m.metrics.heapAlloc.Set(float64(snap.HeapAlloc))
	m.metrics.heapObjects.Set(float64(snap.HeapObjects))
	m.metrics.sysBytes.Set(float64(snap.Sys))
	m.metrics.gcPause.Set(snap.LastPause.Seconds())

	m.logger.Debug("Runtime sample",
		zap.Int("goroutines", snap.Goroutines),
		zap.Uint64("heap_alloc", snap.HeapAlloc),
		zap.Uint32("num_gc", snap.NumGC),
	)
	return snap
}
