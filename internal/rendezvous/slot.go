// Package rendezvous implements a single-slot hand-off between one producer
// and demand-driven consumers.
//
// A consumer registers demand and blocks. The producer takes a Mark before it
// starts an item and hands the finished item over with DeliverSince, which
// only succeeds for demand registered before that mark. Items produced without
// such demand are the producer's to drop, so a consumer never receives an item
// that was started, let alone finished, before it asked. Errors are handed
// over with Deliver to whoever waits.
//
// Consumers are serialized by a gate: "set demand, await slot, clear demand"
// runs as one critical section per consumer, so N concurrent Request calls
// receive N distinct items in arrival order instead of racing on one flag.
package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrProducerGone is returned by Request once the producer has closed the slot.
var ErrProducerGone = errors.New("rendezvous: producer gone")

// Result is the item transported through the slot: a value or the error that
// ended the producer's attempt to make one.
type Result[T any] struct {
	Value T
	Err   error
}

// Slot is a capacity-1 rendezvous point. The zero value is not usable; call New.
type Slot[T any] struct {
	gate *semaphore.Weighted

	mu      sync.Mutex
	waiting bool
	demands uint64 // demand registrations so far
	demand  uint64 // registration number of the current waiter
	ch      chan Result[T]

	done      chan struct{}
	closeOnce sync.Once
	cause     error
}

// New returns an open Slot.
func New[T any]() *Slot[T] {
	return &Slot[T]{
		gate: semaphore.NewWeighted(1),
		ch:   make(chan Result[T], 1),
		done: make(chan struct{}),
	}
}

// HasWaiter reports whether a consumer is blocked waiting for the next item.
func (s *Slot[T]) HasWaiter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting
}

// Mark returns a token covering every demand registered so far.
func (s *Slot[T]) Mark() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.demands
}

// WaitingSince reports whether the current waiter registered its demand
// before mark was taken.
func (s *Slot[T]) WaitingSince(mark uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting && s.demand <= mark
}

// Deliver hands r to the waiting consumer and clears its demand. It returns
// false, without blocking, when nobody is waiting.
//
// Only the producer calls Deliver.
func (s *Slot[T]) Deliver(r Result[T]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.waiting {
		return false
	}
	s.deliverLocked(r)
	return true
}

// DeliverSince is Deliver restricted to a waiter whose demand was registered
// before mark was taken. A later waiter keeps waiting for the next item.
func (s *Slot[T]) DeliverSince(mark uint64, r Result[T]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.waiting || s.demand > mark {
		return false
	}
	s.deliverLocked(r)
	return true
}

func (s *Slot[T]) deliverLocked(r Result[T]) {
	s.waiting = false
	// The channel is empty whenever demand is set, so this never blocks.
	s.ch <- r
}

// Request registers demand and blocks until the producer delivers, the
// producer closes the slot, or ctx is done.
func (s *Slot[T]) Request(ctx context.Context) (T, error) {
	var zero T

	if err := s.gate.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer s.gate.Release(1)

	s.mu.Lock()
	if s.isClosed() {
		s.mu.Unlock()
		return zero, s.goneErr()
	}
	s.demands++
	s.demand = s.demands
	s.waiting = true
	s.mu.Unlock()

	select {
	case r := <-s.ch:
		return r.Value, r.Err

	case <-ctx.Done():
		// Withdraw demand; an item delivered in the meantime is dropped so
		// the next consumer never sees it.
		s.withdraw()
		return zero, ctx.Err()

	case <-s.done:
		if r, ok := s.withdraw(); ok {
			return r.Value, r.Err
		}
		return zero, s.goneErr()
	}
}

// Close marks the producer as gone. Blocked and future Request calls return an
// error wrapping ErrProducerGone and cause. Close is idempotent; the first
// cause wins.
func (s *Slot[T]) Close(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.cause = cause
		close(s.done)
		s.mu.Unlock()
	})
}

// Done is closed once the producer has closed the slot.
func (s *Slot[T]) Done() <-chan struct{} { return s.done }

// withdraw clears demand and drains an item delivered concurrently.
func (s *Slot[T]) withdraw() (Result[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.waiting {
		s.waiting = false
		return Result[T]{}, false
	}
	select {
	case r := <-s.ch:
		return r, true
	default:
		return Result[T]{}, false
	}
}

func (s *Slot[T]) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Slot[T]) goneErr() error {
	s.mu.Lock()
	cause := s.cause
	s.mu.Unlock()

	if cause == nil {
		return ErrProducerGone
	}
	return fmt.Errorf("%w: %w", ErrProducerGone, cause)
}
