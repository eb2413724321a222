package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Errors
var (
	ErrClosed = errors.New("receiver closed")
	ErrEmpty  = errors.New("no pending messages")
	ErrLagged = errors.New("receiver lagged")
)

// LaggedError is returned once by Recv/TryRecv when the receiver fell so far
// behind that the ring overwrote values it had not read yet. The receiver is
// moved to the oldest value still retained.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("receiver lagged: missed %d messages", e.Missed)
}

// Is lets errors.Is(err, ErrLagged) match.
func (e *LaggedError) Is(target error) bool {
	return target == ErrLagged
}

// Channel is a bounded multi-consumer broadcast channel backed by a ring buffer.
// Send never blocks: slow receivers are overtaken and observe a LaggedError.
type Channel[T any] struct {
	mu       sync.RWMutex
	buf      []T
	capacity uint64
	tail     uint64 // absolute position of the next write

	receivers int
	wake      chan struct{} // closed and replaced on every send

	// Stats
	totalSent    uint64
	totalDropped uint64
}

// New creates a new broadcast channel retaining up to capacity values.
func New[T any](capacity int) *Channel[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Channel[T]{
		buf:      make([]T, capacity),
		capacity: uint64(capacity),
		wake:     make(chan struct{}),
	}
}

// Send delivers v to every current receiver and returns how many there were.
// With no receivers the value is discarded.
func (c *Channel[T]) Send(v T) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.receivers == 0 {
		c.totalDropped++
		return 0
	}

	c.buf[c.tail%c.capacity] = v
	c.tail++
	c.totalSent++

	close(c.wake)
	c.wake = make(chan struct{})

	return c.receivers
}

// Subscribe returns a receiver that observes values sent after this call.
func (c *Channel[T]) Subscribe() *Receiver[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.receivers++
	return &Receiver[T]{ch: c, next: c.tail}
}

// ReceiverCount returns the number of open receivers.
func (c *Channel[T]) ReceiverCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.receivers
}

// Stats returns channel statistics.
func (c *Channel[T]) Stats() ChannelStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ChannelStats{
		Capacity:     int(c.capacity),
		Receivers:    c.receivers,
		TotalSent:    c.totalSent,
		TotalDropped: c.totalDropped,
	}
}

// ChannelStats contains channel statistics.
type ChannelStats struct {
	Capacity     int
	Receivers    int
	TotalSent    uint64
	TotalDropped uint64 // sent while nobody was subscribed
}

func (c *Channel[T]) unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receivers--
}

// oldest returns the absolute position of the oldest retained value.
// Must be called with lock held.
func (c *Channel[T]) oldest() uint64 {
	if c.tail > c.capacity {
		return c.tail - c.capacity
	}
	return 0
}

// Receiver reads from a Channel. A Receiver must not be used from more than
// one goroutine at a time.
type Receiver[T any] struct {
	ch     *Channel[T]
	next   uint64 // absolute position of the next value to read
	closed bool
}

// Recv blocks until a value is available, ctx is done, or the receiver is closed.
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	for {
		v, wake, err := r.poll()
		if !errors.Is(err, ErrEmpty) {
			return v, err
		}

		select {
		case <-wake:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryRecv returns the next value without blocking, or ErrEmpty.
func (r *Receiver[T]) TryRecv() (T, error) {
	v, _, err := r.poll()
	return v, err
}

// Len returns the number of values waiting for this receiver, capped at the
// channel capacity.
func (r *Receiver[T]) Len() int {
	if r.closed {
		return 0
	}

	r.ch.mu.RLock()
	defer r.ch.mu.RUnlock()

	next := r.next
	if oldest := r.ch.oldest(); next < oldest {
		next = oldest
	}
	return int(r.ch.tail - next)
}

// Close unsubscribes the receiver. It is safe to call more than once.
func (r *Receiver[T]) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.ch.unsubscribe()
}

// poll reads the next value under the read lock. When nothing is pending it
// returns ErrEmpty together with the channel to wait on.
func (r *Receiver[T]) poll() (T, <-chan struct{}, error) {
	var zero T

	if r.closed {
		return zero, nil, ErrClosed
	}

	c := r.ch
	c.mu.RLock()
	defer c.mu.RUnlock()

	if r.next == c.tail {
		return zero, c.wake, ErrEmpty
	}

	if oldest := c.oldest(); r.next < oldest {
		missed := oldest - r.next
		r.next = oldest
		return zero, nil, &LaggedError{Missed: missed}
	}

	v := c.buf[r.next%c.capacity]
	r.next++
	return v, nil, nil
}
