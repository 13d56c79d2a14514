// Package spancache runs the trace cache as a service: spans are grouped by
// trace ID and every completed trace is handed to a finalizer once.
package spancache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/multierr"

	"github.com/grafana/spancache/pkg/model"
	"github.com/grafana/spancache/pkg/tracecache"
	"github.com/grafana/spancache/pkg/util/log"
)

var ErrNotRunning = errors.New("span cache is not running")

var metricRejectedBatchSpansTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "spancache",
	Name:      "rejected_batch_spans_total",
	Help:      "The total number of spans dropped because their batch held a span without a trace id.",
})

// SpanCache groups incoming spans into traces and finalizes them when they
// expire, when capacity is needed, or when the service stops.
type SpanCache struct {
	services.Service

	cfg   Config
	clock clock.Clock

	store      *tracecache.Store[*model.Span]
	aggregator *tracecache.Aggregator[*model.Span]
	notifier   *tracecache.Notifier[*model.Span]

	sweepTicker *clock.Ticker

	// accepting is false before starting and after stopping began.
	mtx       sync.RWMutex
	accepting bool
}

func New(cfg Config, finalizer tracecache.Finalizer[*model.Span]) (*SpanCache, error) {
	return newSpanCache(cfg, finalizer, clock.New())
}

func newSpanCache(cfg Config, finalizer tracecache.Finalizer[*model.Span], clk clock.Clock) (*SpanCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid span cache config: %w", err)
	}

	notifier, err := tracecache.NewNotifier(finalizer, cfg.FinalizeWorkers, cfg.FinalizeQueueSize)
	if err != nil {
		return nil, err
	}

	store, err := tracecache.NewStore(cfg.MaxTraces, cfg.TraceTTL, clk, notifier.OnEvict)
	if err != nil {
		return nil, err
	}

	s := &SpanCache{
		cfg:        cfg,
		clock:      clk,
		store:      store,
		aggregator: tracecache.NewAggregator(store, cfg.MaxSpansPerTrace),
		notifier:   notifier,
	}
	s.Service = services.NewBasicService(s.starting, s.running, s.stopping)

	return s, nil
}

func (s *SpanCache) starting(ctx context.Context) error {
	if err := services.StartAndAwaitRunning(ctx, s.notifier); err != nil {
		return fmt.Errorf("failed to start finalize workers: %w", err)
	}

	s.sweepTicker = s.clock.Ticker(s.cfg.SweepPeriod)

	s.mtx.Lock()
	s.accepting = true
	s.mtx.Unlock()

	level.Info(log.Logger).Log("msg", "span cache started", "max_traces", s.cfg.MaxTraces, "trace_ttl", s.cfg.TraceTTL)
	return nil
}

func (s *SpanCache) running(ctx context.Context) error {
	for {
		select {
		case <-s.sweepTicker.C:
			if n := s.store.Sweep(); n > 0 {
				level.Debug(log.Logger).Log("msg", "swept expired traces", "traces", n)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// stopping finalizes every trace still in the cache, then waits for the
// finalize workers to drain.
func (s *SpanCache) stopping(_ error) error {
	s.mtx.Lock()
	s.accepting = false
	s.mtx.Unlock()

	s.sweepTicker.Stop()

	n := s.store.Purge()
	level.Info(log.Logger).Log("msg", "span cache stopping, finalizing remaining traces", "traces", n)

	return services.StopAndAwaitTerminated(context.Background(), s.notifier)
}

// AddSpan adds span to its trace.
func (s *SpanCache) AddSpan(span *model.Span) error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if !s.accepting {
		return ErrNotRunning
	}
	return s.aggregator.AddSpan(span.TraceID, span)
}

// AddSpans adds every span and returns the combined errors of the spans that
// were rejected. A batch holding a span without a trace ID is rejected as a
// whole, so a client retrying it does not duplicate the valid spans.
func (s *SpanCache) AddSpans(spans []*model.Span) error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if !s.accepting {
		return ErrNotRunning
	}

	var errs error
	for _, span := range spans {
		if span.TraceID == "" {
			errs = multierr.Append(errs, fmt.Errorf("span %s: %w", span.ID, tracecache.ErrEmptyTraceID))
		}
	}
	if errs != nil {
		metricRejectedBatchSpansTotal.Add(float64(len(spans)))
		return errs
	}

	for _, span := range spans {
		if err := s.aggregator.AddSpan(span.TraceID, span); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("span %s: %w", span.ID, err))
		}
	}
	return errs
}

// Len returns the number of traces currently held.
func (s *SpanCache) Len() int {
	return s.store.Len()
}
