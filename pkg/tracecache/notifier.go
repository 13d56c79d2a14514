package tracecache

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"go.uber.org/atomic"

	"github.com/grafana/spancache/pkg/util/log"
)

// Finalizer consumes evicted traces. It is called exactly once per evicted
// trace and is never retried by the cache.
type Finalizer[T any] interface {
	Finalize(ctx context.Context, tr *EvictedTrace[T]) error
}

// FinalizerFunc adapts a function to the Finalizer interface.
type FinalizerFunc[T any] func(ctx context.Context, tr *EvictedTrace[T]) error

func (f FinalizerFunc[T]) Finalize(ctx context.Context, tr *EvictedTrace[T]) error {
	return f(ctx, tr)
}

// Notifier hands evicted traces to a Finalizer on a pool of workers so the
// store never waits on downstream work.
type Notifier[T any] struct {
	services.Service

	finalizer Finalizer[T]
	workers   int

	// mtx guards queue against being closed while OnEvict is sending.
	mtx     sync.RWMutex
	queue   chan *EvictedTrace[T]
	stopped *atomic.Bool
	wg      sync.WaitGroup
}

func NewNotifier[T any](finalizer Finalizer[T], workers, queueSize int) (*Notifier[T], error) {
	if finalizer == nil {
		return nil, fmt.Errorf("finalizer is required")
	}
	if workers <= 0 {
		return nil, fmt.Errorf("finalize workers must be positive, got %d", workers)
	}
	if queueSize < 0 {
		return nil, fmt.Errorf("finalize queue size must not be negative, got %d", queueSize)
	}

	n := &Notifier[T]{
		finalizer: finalizer,
		workers:   workers,
		queue:     make(chan *EvictedTrace[T], queueSize),
		stopped:   atomic.NewBool(false),
	}
	n.Service = services.NewIdleService(n.starting, n.stopping)

	return n, nil
}

// OnEvict queues tr for the finalizer. It blocks while the queue is full.
// Once the notifier is stopped the finalizer is called inline.
func (n *Notifier[T]) OnEvict(tr *EvictedTrace[T]) {
	n.mtx.RLock()
	if n.stopped.Load() {
		n.mtx.RUnlock()
		n.finalize(tr)
		return
	}

	n.queue <- tr
	metricFinalizeQueueLength.Set(float64(len(n.queue)))
	n.mtx.RUnlock()
}

func (n *Notifier[T]) starting(_ context.Context) error {
	for i := 0; i < n.workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}
	return nil
}

func (n *Notifier[T]) stopping(_ error) error {
	n.mtx.Lock()
	n.stopped.Store(true)
	close(n.queue)
	n.mtx.Unlock()

	// workers drain what is left in the queue before exiting
	n.wg.Wait()
	return nil
}

func (n *Notifier[T]) worker() {
	defer n.wg.Done()

	for tr := range n.queue {
		metricFinalizeQueueLength.Set(float64(len(n.queue)))
		n.finalize(tr)
	}
}

func (n *Notifier[T]) finalize(tr *EvictedTrace[T]) {
	metricTracesFinalizedTotal.Inc()

	if err := n.finalizer.Finalize(context.Background(), tr); err != nil {
		metricFinalizeFailuresTotal.Inc()
		level.Error(log.Logger).Log("msg", "failed to finalize trace", "traceID", tr.ID, "reason", tr.Reason, "spans", len(tr.Spans), "err", err)
	}
}
