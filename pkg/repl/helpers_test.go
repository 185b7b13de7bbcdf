package repl

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxorio/chanrepl/pkg/core"
	"github.com/fluxorio/chanrepl/pkg/core/concurrency"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers and readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testDeps(logs *syncBuffer) Deps {
	return Deps{Logger: core.NewLogger(logs, core.LevelDebug)}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// receive pulls one message or fails the test.
func receive[T any](t *testing.T, rx *concurrency.Receiver[T]) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := rx.Receive(ctx)
	require.NoError(t, err)
	return msg
}

// requireDisconnected asserts the mailbox has no senders left and is drained.
func requireDisconnected[T any](t *testing.T, rx *concurrency.Receiver[T]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := rx.Receive(ctx)
	require.ErrorIs(t, err, concurrency.ErrMailboxDisconnected, "unexpected message %#v", msg)
}

func joinWithin(t *testing.T, h *concurrency.Handle, d time.Duration) error {
	t.Helper()
	select {
	case <-h.Done():
		return h.Join()
	case <-time.After(d):
		t.Fatalf("%s did not terminate within %v", h.Name(), d)
		return nil
	}
}
