// Package watch provides a single-slot change signal.
//
// A Sender carries no payload, only a version that moves forward on every
// Notify. Receivers remember the last version they saw, so any number of
// notifications between two checks collapse into one "changed".
package watch

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Changed after the receiver has been closed.
var ErrClosed = errors.New("receiver closed")

// Sender publishes change signals.
type Sender struct {
	mu        sync.RWMutex
	version   uint64
	receivers int
	wake      chan struct{}
}

// NewSender creates a Sender with no receivers.
func NewSender() *Sender {
	return &Sender{wake: make(chan struct{})}
}

// Notify marks the value as changed and wakes every waiting receiver.
// It returns the number of receivers; with none it does nothing.
func (s *Sender) Notify() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.receivers == 0 {
		return 0
	}

	s.version++
	close(s.wake)
	s.wake = make(chan struct{})

	return s.receivers
}

// Subscribe returns a receiver that treats the current version as seen.
func (s *Sender) Subscribe() *Receiver {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.receivers++
	return &Receiver{s: s, seen: s.version}
}

// ReceiverCount returns the number of open receivers.
func (s *Sender) ReceiverCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.receivers
}

// Receiver observes a Sender. A Receiver must not be used from more than one
// goroutine at a time.
type Receiver struct {
	s      *Sender
	seen   uint64
	closed bool
}

// HasChanged reports whether a notification arrived since the last seen version.
func (r *Receiver) HasChanged() bool {
	if r.closed {
		return false
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.version != r.seen
}

// Changed waits for a version newer than the last seen one and marks it seen.
// If a change is already pending it returns immediately.
func (r *Receiver) Changed(ctx context.Context) error {
	for {
		if r.closed {
			return ErrClosed
		}

		r.s.mu.RLock()
		version, wake := r.s.version, r.s.wake
		r.s.mu.RUnlock()

		if version != r.seen {
			r.seen = version
			return nil
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// MarkSeen acknowledges the current version without waiting.
func (r *Receiver) MarkSeen() {
	if r.closed {
		return
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	r.seen = r.s.version
}

// Close unsubscribes the receiver. It is safe to call more than once.
func (r *Receiver) Close() {
	if r.closed {
		return
	}
	r.closed = true

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.receivers--
}
