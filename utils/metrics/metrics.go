package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Namespace prefixes every metric the pipeline exports.
const Namespace = "backrunner"

type IngestionMetrics struct {
	Received   prometheus.Counter
	Duplicates prometheus.Counter
	Malformed  prometheus.Counter
	Forwarded  prometheus.Counter
	InFlight   prometheus.Gauge
}

func NewIngestionMetrics(reg prometheus.Registerer, namespace string) *IngestionMetrics {
	f := promauto.With(reg)
	return &IngestionMetrics{
		Received: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "received_total",
			Help:      "Pending transactions received from the feed",
		}),
		Duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "duplicates_total",
			Help:      "Pending transactions dropped as already seen",
		}),
		Malformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "malformed_total",
			Help:      "Feed entries skipped because they could not be read",
		}),
		Forwarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "forwarded_total",
			Help:      "Pending transactions handed to the analyzer",
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "in_flight",
			Help:      "Transactions currently being analyzed",
		}),
	}
}

type AnalyzerMetrics struct {
	Decoded       *prometheus.CounterVec
	Mismatches    prometheus.Counter
	SchemaErrors  prometheus.Counter
	Opportunities prometheus.Counter
	Rejected      *prometheus.CounterVec
}

func NewAnalyzerMetrics(reg prometheus.Registerer, namespace string) *AnalyzerMetrics {
	f := promauto.With(reg)
	return &AnalyzerMetrics{
		Decoded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "decoded_total",
			Help:      "Router swaps decoded by kind",
		}, []string{"kind"}),
		Mismatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "decode_mismatch_total",
			Help:      "Router calls whose payload could not be decoded",
		}),
		SchemaErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "schema_inconsistency_total",
			Help:      "Decodes that contradicted the router registry",
		}),
		Opportunities: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "opportunities_total",
			Help:      "Opportunities that passed the thresholds",
		}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analyzer",
			Name:      "rejected_total",
			Help:      "Simulations rejected by reason",
		}, []string{"reason"}),
	}
}

type SimulatorMetrics struct {
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	Fallbacks   prometheus.Counter
	Unavailable prometheus.Counter
	Candidates  prometheus.Histogram
	Duration    prometheus.Histogram
}

func NewSimulatorMetrics(reg prometheus.Registerer, namespace string) *SimulatorMetrics {
	f := promauto.With(reg)
	return &SimulatorMetrics{
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "cache_hits_total",
			Help:      "Simulations answered from the cache",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "cache_misses_total",
			Help:      "Simulations computed",
		}),
		Fallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "fallbacks_total",
			Help:      "Impact estimates taken from pool reserves instead of the sandbox",
		}),
		Unavailable: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "unavailable_total",
			Help:      "Simulations aborted because state could not be read",
		}),
		Candidates: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "candidates",
			Help:      "Candidate paths scored per simulation",
			Buckets:   prometheus.LinearBuckets(0, 8, 9),
		}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "duration_seconds",
			Help:      "Time spent computing a simulation",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
}

type SchedulerMetrics struct {
	Cycles      prometheus.Counter
	Evaluated   prometheus.Counter
	Discarded   prometheus.Counter
	Dispatched  prometheus.Counter
	Failures    prometheus.Counter
	BreakerOpen prometheus.Gauge
	StoreSize   prometheus.Gauge
	Evicted     prometheus.Counter
}

func NewSchedulerMetrics(reg prometheus.Registerer, namespace string) *SchedulerMetrics {
	f := promauto.With(reg)
	return &SchedulerMetrics{
		Cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Scheduler ticks processed",
		}),
		Evaluated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "evaluated_total",
			Help:      "Opportunities evaluated against the gas price",
		}),
		Discarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "discarded_total",
			Help:      "Opportunities dropped as unprofitable after gas",
		}),
		Dispatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "dispatched_total",
			Help:      "Opportunities handed to the bundle executor",
		}),
		Failures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "failures_total",
			Help:      "Executions that returned an error",
		}),
		BreakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "breaker_open",
			Help:      "1 while the execution circuit breaker is open",
		}),
		StoreSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "opportunities",
			Help:      "Opportunities waiting for the next cycle",
		}),
		Evicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "evicted_total",
			Help:      "Opportunities dropped because the store was full",
		}),
	}
}

type BundleMetrics struct {
	Built          *prometheus.CounterVec
	Stale          prometheus.Counter
	Submitted      prometheus.Counter
	SubmitFailures prometheus.Counter
	SubmitLatency  prometheus.Histogram
	Outcomes       *prometheus.CounterVec
	Tracking       prometheus.Gauge
}

func NewBundleMetrics(reg prometheus.Registerer, namespace string) *BundleMetrics {
	f := promauto.With(reg)
	return &BundleMetrics{
		Built: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "built_total",
			Help:      "Bundles built by shape",
		}, []string{"kind"}),
		Stale: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "stale_target_total",
			Help:      "Bundles rejected locally for their target block",
		}),
		Submitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "submitted_total",
			Help:      "Bundles accepted by the relay",
		}),
		SubmitFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "submit_failures_total",
			Help:      "Bundles the relay rejected or did not acknowledge",
		}),
		SubmitLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "submit_latency_seconds",
			Help:      "Relay round-trip for bundle submission",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "outcomes_total",
			Help:      "Terminal bundle statuses",
		}, []string{"status"}),
		Tracking: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "tracking",
			Help:      "Bundles whose status is still being polled",
		}),
	}
}

// CounterValue reads the current value of c.
func CounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil || m.Counter == nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
