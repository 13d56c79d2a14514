package tracecache

import (
	"errors"
	"sync"
	"time"
)

var errTraceSealed = errors.New("trace already evicted")

// Trace accumulates the spans received for one trace ID while it lives in a
// Store. Append is safe for concurrent use.
type Trace[T any] struct {
	ID      string
	created time.Time

	mtx    sync.Mutex
	spans  []T
	sealed bool
}

func newTrace[T any](id string, created time.Time) *Trace[T] {
	return &Trace[T]{
		ID:      id,
		created: created,
	}
}

// Append adds span to the trace. It returns false if the trace has already
// left the store, in which case the span is not recorded.
func (t *Trace[T]) Append(span T) bool {
	return t.push(span, 0) == nil
}

func (t *Trace[T]) push(span T, maxSpans int) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if t.sealed {
		return errTraceSealed
	}
	// Zero means no limit
	if maxSpans > 0 && len(t.spans) >= maxSpans {
		return ErrTraceTooLarge
	}

	t.spans = append(t.spans, span)
	return nil
}

// Spans returns a copy of the spans appended so far.
func (t *Trace[T]) Spans() []T {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	res := make([]T, len(t.spans))
	copy(res, t.spans)
	return res
}

func (t *Trace[T]) Len() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	return len(t.spans)
}

func (t *Trace[T]) Created() time.Time {
	return t.created
}

// seal freezes the trace and hands back its spans. Appends after seal fail.
func (t *Trace[T]) seal() []T {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	t.sealed = true
	return t.spans
}
