package tracecache

import (
	"errors"
	"time"

	"github.com/go-kit/log/level"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/grafana/spancache/pkg/util/log"
)

var (
	ErrEmptyTraceID  = errors.New("span has an empty trace id")
	ErrTraceTooLarge = errors.New("max spans per trace exceeded")
)

// drop logs are per span, keep them from flooding the output
var (
	lateSpanLogLimiter = rate.NewLimiter(rate.Every(10*time.Second), 1)
	tooLargeLogLimiter = rate.NewLimiter(rate.Every(10*time.Second), 1)
)

// Aggregator groups spans by trace ID into the traces of a Store.
//
// A span that races with the eviction of its trace is dropped: the evicted
// trace has already been sealed and handed to the finalizer, and the span is
// counted in spancache_spans_dropped_total{reason="late"}. The next span for
// the same ID starts a new trace.
type Aggregator[T any] struct {
	store            *Store[T]
	maxSpansPerTrace int

	// creation is single flight per trace ID, appends are never serialized here.
	flights singleflight.Group
}

// NewAggregator returns an Aggregator on top of store. maxSpansPerTrace
// limits the spans accepted per trace, zero means no limit.
func NewAggregator[T any](store *Store[T], maxSpansPerTrace int) *Aggregator[T] {
	return &Aggregator[T]{
		store:            store,
		maxSpansPerTrace: maxSpansPerTrace,
	}
}

// AddSpan appends span to the trace with the given ID, creating the trace if
// it is not in the store yet.
func (a *Aggregator[T]) AddSpan(traceID string, span T) error {
	if traceID == "" {
		metricSpansDroppedTotal.WithLabelValues(dropReasonInvalid).Inc()
		return ErrEmptyTraceID
	}
	metricSpansReceivedTotal.Inc()

	tr, ok := a.store.Get(traceID)
	if !ok {
		tr = a.getOrCreate(traceID)
	}

	return a.appendTo(tr, span)
}

func (a *Aggregator[T]) appendTo(tr *Trace[T], span T) error {
	switch err := tr.push(span, a.maxSpansPerTrace); {
	case err == nil:
		return nil
	case errors.Is(err, errTraceSealed):
		metricSpansDroppedTotal.WithLabelValues(dropReasonLate).Inc()
		if lateSpanLogLimiter.Allow() {
			level.Debug(log.Logger).Log("msg", "dropping span for evicted trace", "traceID", tr.ID)
		}
		return nil
	default:
		metricSpansDroppedTotal.WithLabelValues(dropReasonTooLarge).Inc()
		if tooLargeLogLimiter.Allow() {
			level.Warn(log.Logger).Log("msg", "max spans per trace exceeded", "traceID", tr.ID, "max", a.maxSpansPerTrace)
		}
		return err
	}
}

// getOrCreate converges concurrent first arrivals for traceID on one trace.
// InsertIfAbsent re-checks under the store lock, so a trace created between
// the caller's Get and this flight is reused rather than replaced.
func (a *Aggregator[T]) getOrCreate(traceID string) *Trace[T] {
	v, _, _ := a.flights.Do(traceID, func() (interface{}, error) {
		tr, created := a.store.InsertIfAbsent(traceID)
		if created {
			metricTracesCreatedTotal.Inc()
		}
		return tr, nil
	})
	return v.(*Trace[T])
}

func (a *Aggregator[T]) Len() int {
	return a.store.Len()
}
