// Package concurrency provides the message-passing plumbing the actors are
// built on: bounded multi-producer/single-consumer mailboxes and supervised
// goroutines with join handles. Application code never touches raw channels
// or go statements directly.
package concurrency

import (
	"context"
	"errors"
	"sync"

	"github.com/fluxorio/chanrepl/pkg/core/failfast"
)

var (
	// ErrMailboxClosed is returned when sending to a mailbox whose receiver
	// has been closed, or receiving from a closed receiver
	ErrMailboxClosed = errors.New("mailbox is closed")

	// ErrMailboxDisconnected is returned by Receive once every sender has
	// been released and the buffer is drained
	ErrMailboxDisconnected = errors.New("mailbox is disconnected")

	// ErrMailboxFull is returned by TrySend when the buffer has no free slot
	ErrMailboxFull = errors.New("mailbox is full")

	// ErrSenderReleased is returned when using a sender after Release
	ErrSenderReleased = errors.New("sender is released")
)

// mailbox is the state shared by a receiver and all of its senders.
type mailbox[T any] struct {
	ch        chan T
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	senders int
}

// NewMailbox creates a bounded mailbox holding at most capacity unconsumed
// messages. It returns the first sender handle and the single receiver.
// Further senders are obtained with Sender.Clone.
func NewMailbox[T any](capacity int) (*Sender[T], *Receiver[T]) {
	failfast.If(capacity >= 1, "mailbox capacity must be at least 1, got %d", capacity)

	mb := &mailbox[T]{
		ch:      make(chan T, capacity),
		closed:  make(chan struct{}),
		senders: 1,
	}
	return &Sender[T]{mb: mb}, &Receiver[T]{mb: mb}
}

func (mb *mailbox[T]) retain() {
	mb.mu.Lock()
	mb.senders++
	mb.mu.Unlock()
}

// release drops one sender reference. The last release closes the buffer so
// the receiver observes disconnection after draining it.
func (mb *mailbox[T]) release() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.senders--
	if mb.senders == 0 {
		close(mb.ch)
	}
}

func (mb *mailbox[T]) isClosed() bool {
	select {
	case <-mb.closed:
		return true
	default:
		return false
	}
}

// Receiver is the single consuming end of a mailbox.
type Receiver[T any] struct {
	mb *mailbox[T]
}

// Receive blocks until a message is available, every sender is released
// (ErrMailboxDisconnected), the receiver is closed (ErrMailboxClosed) or
// ctx is done.
func (r *Receiver[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	if r.mb.isClosed() {
		return zero, ErrMailboxClosed
	}

	select {
	case msg, ok := <-r.mb.ch:
		if !ok {
			return zero, ErrMailboxDisconnected
		}
		return msg, nil
	case <-r.mb.closed:
		return zero, ErrMailboxClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// TryReceive attempts to receive without blocking.
// Returns (msg, true, nil) if a message was available, (zero, false, nil)
// if the buffer is empty.
func (r *Receiver[T]) TryReceive() (T, bool, error) {
	var zero T
	if r.mb.isClosed() {
		return zero, false, ErrMailboxClosed
	}

	select {
	case msg, ok := <-r.mb.ch:
		if !ok {
			return zero, false, ErrMailboxDisconnected
		}
		return msg, true, nil
	default:
		return zero, false, nil
	}
}

// Close drops the receiving end. Pending and future sends fail with
// ErrMailboxClosed. Buffered messages are discarded.
func (r *Receiver[T]) Close() {
	r.mb.closeOnce.Do(func() {
		close(r.mb.closed)
	})
}

// IsClosed returns true if the receiver is closed
func (r *Receiver[T]) IsClosed() bool {
	return r.mb.isClosed()
}

// Len returns the number of buffered, unconsumed messages
func (r *Receiver[T]) Len() int {
	return len(r.mb.ch)
}

// Cap returns the mailbox capacity
func (r *Receiver[T]) Cap() int {
	return cap(r.mb.ch)
}
