package concurrency

import (
	"context"
	"sync"

	"github.com/fluxorio/chanrepl/pkg/core/failfast"
)

// Sender is one producing handle of a mailbox. Each owner gets its own
// handle via Clone and calls Release when it is done; a handle must not be
// shared between goroutines that may release it concurrently with a send.
type Sender[T any] struct {
	mb *mailbox[T]

	// held for reading during a send so Release never closes the buffer
	// underneath an in-flight send
	mu       sync.RWMutex
	released bool
}

// Send places msg in the mailbox, blocking while the buffer is full.
// It fails with ErrMailboxClosed if the receiver was closed before the
// call. A Send racing a concurrent Close may still return nil; the message
// is then discarded with the rest of the buffer and never received.
func (s *Sender[T]) Send(ctx context.Context, msg T) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.released {
		return ErrSenderReleased
	}
	// closed wins over a free slot; only a concurrent Close can slip past
	if s.mb.isClosed() {
		return ErrMailboxClosed
	}

	select {
	case s.mb.ch <- msg:
		return nil
	case <-s.mb.closed:
		return ErrMailboxClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend places msg in the mailbox without blocking.
// Returns ErrMailboxFull if no slot is free. Close races as for Send.
func (s *Sender[T]) TrySend(msg T) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.released {
		return ErrSenderReleased
	}
	if s.mb.isClosed() {
		return ErrMailboxClosed
	}

	select {
	case s.mb.ch <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Clone returns a new handle to the same mailbox. Cloning a released
// handle is a programming error and panics.
func (s *Sender[T]) Clone() *Sender[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	failfast.If(!s.released, "clone of a released sender")
	s.mb.retain()
	return &Sender[T]{mb: s.mb}
}

// Release drops this handle. It waits for an in-flight Send on the same
// handle to finish. Releasing twice is a no-op.
func (s *Sender[T]) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.mu.Unlock()

	s.mb.release()
}

// IsReleased reports whether Release has been called on this handle
func (s *Sender[T]) IsReleased() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.released
}

// SendWhileReceiving sends msg on s like Send, but while the send is
// blocked it keeps receiving from r and hands each message to onReceive
// on the calling goroutine. It lets an actor that both feeds a peer and
// consumes the peer's replies avoid a cycle where each waits on the other.
// A disconnected or closed r just stops being read.
func SendWhileReceiving[T, U any](ctx context.Context, s *Sender[T], msg T, r *Receiver[U], onReceive func(U)) error {
	failfast.NotNil(r, "receiver")
	failfast.NotNil(onReceive, "onReceive")

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.released {
		return ErrSenderReleased
	}
	if s.mb.isClosed() {
		return ErrMailboxClosed
	}

	// prefer the send when a slot is already free
	select {
	case s.mb.ch <- msg:
		return nil
	default:
	}

	in, closed := r.mb.ch, r.mb.closed
	if r.mb.isClosed() {
		in, closed = nil, nil
	}

	for {
		select {
		case s.mb.ch <- msg:
			return nil
		case <-s.mb.closed:
			return ErrMailboxClosed
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			onReceive(m)
		case <-closed:
			in, closed = nil, nil
		}
	}
}
