package tracecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	dropReasonInvalid  = "invalid_trace_id"
	dropReasonLate     = "late"
	dropReasonTooLarge = "trace_too_large"
)

var (
	metricTracesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spancache",
		Name:      "traces_created_total",
		Help:      "The total number of traces created.",
	})
	metricLiveTraces = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "spancache",
		Name:      "live_traces",
		Help:      "The current number of traces held in the cache, summed over all stores.",
	})
	metricSpansReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spancache",
		Name:      "spans_received_total",
		Help:      "The total number of spans received.",
	})
	metricSpansDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spancache",
		Name:      "spans_dropped_total",
		Help:      "The total number of spans that were not added to a trace.",
	}, []string{"reason"})
	metricTracesEvictedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spancache",
		Name:      "traces_evicted_total",
		Help:      "The total number of traces evicted from the cache.",
	}, []string{"reason"})
	metricTracesFinalizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spancache",
		Name:      "traces_finalized_total",
		Help:      "The total number of evicted traces handed to the finalizer.",
	})
	metricFinalizeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spancache",
		Name:      "finalize_failures_total",
		Help:      "The total number of finalizer calls that returned an error.",
	})
	metricFinalizeQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "spancache",
		Name:      "finalize_queue_length",
		Help:      "The number of evicted traces waiting for the finalizer.",
	})
)
