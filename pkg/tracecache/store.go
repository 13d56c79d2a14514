package tracecache

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// EvictReason specifies the reason why a trace left the store.
type EvictReason int

const (
	// ReasonExpired specifies that the trace outlived the configured TTL.
	ReasonExpired EvictReason = iota
	// ReasonCapacity specifies that the trace was the least recently used one
	// when room was needed for a new trace.
	ReasonCapacity
	// ReasonShutdown specifies that the store was purged.
	ReasonShutdown
)

func (r EvictReason) String() string {
	switch r {
	case ReasonExpired:
		return "expired"
	case ReasonCapacity:
		return "capacity"
	case ReasonShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// EvictedTrace contains a trace which left the store. The spans are final,
// nothing can be appended to the trace anymore.
type EvictedTrace[T any] struct {
	ID      string
	Reason  EvictReason
	Spans   []T
	Created time.Time
	Evicted time.Time
}

// EvictFunc is called exactly once for every trace leaving the store. It is
// never called with the store lock held, so hooks for the same trace ID are
// not ordered: a new trace for an ID can be created, and even evicted, before
// the hook of the previous trace with that ID has run.
type EvictFunc[T any] func(*EvictedTrace[T])

type entry[T any] struct {
	key     string
	trace   *Trace[T]
	expires time.Time
	elem    *list.Element
}

// Store holds at most maxTraces traces keyed by trace ID. Each trace expires
// ttl after it was inserted. When a new trace needs room, expired traces are
// removed first, then the least recently used one.
type Store[T any] struct {
	maxTraces int
	ttl       time.Duration
	clock     clock.Clock
	onEvict   EvictFunc[T]

	mtx sync.Mutex
	lru *simplelru.LRU[string, *entry[T]]
	// insertion order, oldest first. With a fixed ttl this is also expiry order.
	fifo *list.List
}

func NewStore[T any](maxTraces int, ttl time.Duration, clk clock.Clock, onEvict EvictFunc[T]) (*Store[T], error) {
	if maxTraces <= 0 {
		return nil, fmt.Errorf("max traces must be positive, got %d", maxTraces)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("trace ttl must be positive, got %s", ttl)
	}
	if clk == nil {
		clk = clock.New()
	}

	// the store evicts explicitly before adding, the lru never evicts on its own
	lru, err := simplelru.NewLRU[string, *entry[T]](maxTraces+1, nil)
	if err != nil {
		return nil, err
	}

	return &Store[T]{
		maxTraces: maxTraces,
		ttl:       ttl,
		clock:     clk,
		onEvict:   onEvict,
		lru:       lru,
		fifo:      list.New(),
	}, nil
}

// Get returns the live trace for id. An expired trace is evicted on the spot
// and never returned. A hit marks the trace as recently used.
func (s *Store[T]) Get(id string) (*Trace[T], bool) {
	s.mtx.Lock()

	e, ok := s.lru.Peek(id)
	if !ok {
		s.mtx.Unlock()
		return nil, false
	}

	now := s.clock.Now()
	if !now.Before(e.expires) {
		evicted := s.removeLocked(e, ReasonExpired, now)
		s.mtx.Unlock()
		s.notify(evicted)
		return nil, false
	}

	s.lru.Get(id)
	s.mtx.Unlock()
	return e.trace, true
}

// InsertIfAbsent returns the live trace for id, creating it if there is none.
// The bool is true if the trace was created by this call.
func (s *Store[T]) InsertIfAbsent(id string) (*Trace[T], bool) {
	var evicted []*EvictedTrace[T]

	s.mtx.Lock()
	now := s.clock.Now()

	if e, ok := s.lru.Peek(id); ok {
		if now.Before(e.expires) {
			s.lru.Get(id)
			s.mtx.Unlock()
			return e.trace, false
		}
		evicted = append(evicted, s.removeLocked(e, ReasonExpired, now))
	}

	if s.lru.Len() >= s.maxTraces {
		evicted = append(evicted, s.expireLocked(now)...)
	}
	for s.lru.Len() >= s.maxTraces {
		_, oldest, ok := s.lru.GetOldest()
		if !ok {
			break
		}
		evicted = append(evicted, s.removeLocked(oldest, ReasonCapacity, now))
	}

	e := &entry[T]{
		key:     id,
		trace:   newTrace[T](id, now),
		expires: now.Add(s.ttl),
	}
	e.elem = s.fifo.PushBack(e)
	s.lru.Add(id, e)
	metricLiveTraces.Inc()

	s.mtx.Unlock()
	s.notify(evicted...)

	return e.trace, true
}

// Sweep evicts every expired trace and returns how many were evicted.
func (s *Store[T]) Sweep() int {
	s.mtx.Lock()
	evicted := s.expireLocked(s.clock.Now())
	s.mtx.Unlock()

	s.notify(evicted...)
	return len(evicted)
}

// Purge evicts every trace and returns how many were evicted.
func (s *Store[T]) Purge() int {
	s.mtx.Lock()
	now := s.clock.Now()
	evicted := make([]*EvictedTrace[T], 0, s.lru.Len())
	for s.fifo.Len() > 0 {
		evicted = append(evicted, s.removeLocked(s.fifo.Front().Value.(*entry[T]), ReasonShutdown, now))
	}
	s.mtx.Unlock()

	s.notify(evicted...)
	return len(evicted)
}

func (s *Store[T]) Len() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.lru.Len()
}

func (s *Store[T]) expireLocked(now time.Time) []*EvictedTrace[T] {
	var evicted []*EvictedTrace[T]
	for s.fifo.Len() > 0 {
		e := s.fifo.Front().Value.(*entry[T])
		if now.Before(e.expires) {
			break
		}
		evicted = append(evicted, s.removeLocked(e, ReasonExpired, now))
	}
	return evicted
}

// removeLocked drops e from both indexes and seals its trace. Every trace goes
// through here exactly once.
func (s *Store[T]) removeLocked(e *entry[T], reason EvictReason, now time.Time) *EvictedTrace[T] {
	s.lru.Remove(e.key)
	s.fifo.Remove(e.elem)
	metricLiveTraces.Dec()
	metricTracesEvictedTotal.WithLabelValues(reason.String()).Inc()

	return &EvictedTrace[T]{
		ID:      e.key,
		Reason:  reason,
		Spans:   e.trace.seal(),
		Created: e.trace.created,
		Evicted: now,
	}
}

func (s *Store[T]) notify(evicted ...*EvictedTrace[T]) {
	if s.onEvict == nil {
		return
	}
	for _, ev := range evicted {
		s.onEvict(ev)
	}
}
