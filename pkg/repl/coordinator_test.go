package repl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxorio/chanrepl/pkg/bus"
	"github.com/fluxorio/chanrepl/pkg/core"
	"github.com/fluxorio/chanrepl/pkg/core/concurrency"
	metrics "github.com/fluxorio/chanrepl/pkg/observability/prometheus"
)

// rig wires both mailboxes; the test plays the input actor through mainTx.
type rig struct {
	workerTx *concurrency.Sender[WorkerMessage]
	workerRx *concurrency.Receiver[WorkerMessage]
	mainTx   *concurrency.Sender[MainMessage]
	mainRx   *concurrency.Receiver[MainMessage]

	out  *syncBuffer
	logs *syncBuffer
	deps Deps
}

func newRig() *rig {
	r := &rig{out: &syncBuffer{}, logs: &syncBuffer{}}
	r.workerTx, r.workerRx = concurrency.NewMailbox[WorkerMessage](MailboxCapacity)
	r.mainTx, r.mainRx = concurrency.NewMailbox[MainMessage](MailboxCapacity)
	r.deps = testDeps(r.logs)
	return r
}

func (r *rig) spawnWorker(t *testing.T, task concurrency.Task) *concurrency.Handle {
	return concurrency.Spawn(testContext(t), task, r.deps.Logger)
}

func (r *rig) realWorker(t *testing.T) (*Worker, *concurrency.Handle) {
	w := NewWorker(r.workerRx, r.mainTx.Clone(), r.deps)
	return w, r.spawnWorker(t, w)
}

func (r *rig) run(t *testing.T, joiner *concurrency.Handle) (*Coordinator, <-chan error) {
	c := NewCoordinator(r.mainRx, r.workerTx, joiner, r.out, "> ", r.deps)
	done := make(chan error, 1)
	ctx := testContext(t)
	go func() { done <- c.Run(ctx) }()
	return c, done
}

func (r *rig) input(t *testing.T, msg MainMessage) {
	t.Helper()
	require.NoError(t, r.mainTx.Send(context.Background(), msg))
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop")
		return nil
	}
}

// echoWorker replies to every DoWork and records what it received.
type echoWorker struct {
	inbox  *concurrency.Receiver[WorkerMessage]
	outbox *concurrency.Sender[MainMessage]
	got    []WorkerMessage
}

func (e *echoWorker) Name() string { return "echo-worker" }

func (e *echoWorker) Execute(ctx context.Context) error {
	defer e.outbox.Release()
	defer e.inbox.Close()
	for {
		msg, err := e.inbox.Receive(ctx)
		if err != nil {
			return nil
		}
		e.got = append(e.got, msg)
		switch m := msg.(type) {
		case DoWork:
			if err := e.outbox.Send(ctx, WorkResult{ID: m.ID, Text: "echo " + m.Text}); err != nil {
				return nil
			}
		case QuitWorker:
			return nil
		}
	}
}

// goneWorker exits immediately, like a worker that already failed.
func goneWorker(inbox *concurrency.Receiver[WorkerMessage], outbox *concurrency.Sender[MainMessage]) concurrency.Task {
	return concurrency.NewNamedTask("gone-worker", func(context.Context) error {
		outbox.Release()
		inbox.Close()
		return nil
	})
}

func TestCoordinator_ForwardsAndPrints(t *testing.T) {
	r := newRig()
	w, handle := r.realWorker(t)
	c, done := r.run(t, handle)

	r.input(t, UserInput{Text: "add 2 3"})
	assert.Eventually(t, func() bool {
		return r.out.String() == "> 5\n\n"
	}, 2*time.Second, time.Millisecond)

	r.input(t, UserInput{Text: "ping"})
	r.input(t, Quit{})
	require.NoError(t, waitRun(t, done))

	assert.True(t, handle.Finished(), "worker must be joined before Run returns")
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, "> 5\n\n> ping'd worker thread 1 time\n\n", r.out.String())
	assert.Equal(t, uint64(1), w.Pings())
}

func TestCoordinator_StampsSubmissionIDs(t *testing.T) {
	r := newRig()
	echo := &echoWorker{inbox: r.workerRx, outbox: r.mainTx.Clone()}
	handle := r.spawnWorker(t, echo)
	_, done := r.run(t, handle)

	r.input(t, UserInput{Text: "a"})
	r.input(t, UserInput{Text: "b"})
	r.input(t, Quit{})
	require.NoError(t, waitRun(t, done))

	require.Len(t, echo.got, 3)
	first, ok := echo.got[0].(DoWork)
	require.True(t, ok)
	second, ok := echo.got[1].(DoWork)
	require.True(t, ok)

	assert.Equal(t, "a", first.Text)
	assert.Equal(t, "b", second.Text)
	assert.NotEqual(t, first.ID, second.ID)
	_, err := uuid.Parse(first.ID)
	assert.NoError(t, err)

	// the id never leaks into the printed text
	assert.Equal(t, "> echo a\n\n> echo b\n\n", r.out.String())
}

func TestCoordinator_QuitSendsExactlyOneQuitWorker(t *testing.T) {
	r := newRig()
	echo := &echoWorker{inbox: r.workerRx, outbox: r.mainTx.Clone()}
	handle := r.spawnWorker(t, echo)
	c, done := r.run(t, handle)

	r.input(t, Quit{})
	require.NoError(t, waitRun(t, done))

	assert.Equal(t, []WorkerMessage{QuitWorker{}}, echo.got)
	assert.Equal(t, StateStopped, c.State())
	assert.Empty(t, r.out.String())
	assert.Contains(t, r.logs.String(), "lifecycle running -> shutting_down on quit")
	assert.Contains(t, r.logs.String(), "lifecycle shutting_down -> stopped on worker_joined")
}

func TestCoordinator_InputDisconnected(t *testing.T) {
	r := newRig()
	handle := r.spawnWorker(t, goneWorker(r.workerRx, r.mainTx.Clone()))
	require.NoError(t, joinWithin(t, handle, 2*time.Second))

	c, done := r.run(t, handle)
	r.mainTx.Release()

	err := waitRun(t, done)
	assert.ErrorIs(t, err, ErrInputLost)
	assert.ErrorIs(t, err, concurrency.ErrMailboxDisconnected)
	assert.Equal(t, StateStopped, c.State())
	assert.Contains(t, r.logs.String(), "worker_joined")
}

func TestCoordinator_WorkerLost(t *testing.T) {
	m := metrics.NewMetrics("test")
	r := newRig()
	r.deps.Metrics = m
	handle := r.spawnWorker(t, goneWorker(r.workerRx, r.mainTx.Clone()))
	require.NoError(t, joinWithin(t, handle, 2*time.Second))

	c, done := r.run(t, handle)
	r.input(t, UserInput{Text: "ping"})

	err := waitRun(t, done)
	assert.ErrorIs(t, err, ErrWorkerLost)
	assert.ErrorIs(t, err, concurrency.ErrMailboxClosed)
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SendFailuresTotal.WithLabelValues("main")))

	// the coordinator dropped its receiver, so the input's next send fails
	assert.ErrorIs(t, r.mainTx.Send(context.Background(), Quit{}), concurrency.ErrMailboxClosed)
}

func TestCoordinator_AbandonsWorkerWithoutHandle(t *testing.T) {
	r := newRig()
	c, done := r.run(t, nil)

	r.input(t, Quit{})
	require.NoError(t, waitRun(t, done))

	assert.Equal(t, StateStopped, c.State())
	assert.Contains(t, r.logs.String(), "worker_abandoned")

	// QuitWorker still went out; it sits in the unread slot
	assert.Equal(t, 1, r.workerRx.Len())
}

func TestCoordinator_BurstDoesNotDeadlock(t *testing.T) {
	const n = 200
	m := metrics.NewMetrics("test")
	r := newRig()
	r.deps.Metrics = m
	w, handle := r.realWorker(t)
	_, done := r.run(t, handle)

	go func() {
		ctx := context.Background()
		for i := 0; i < n; i++ {
			if err := r.mainTx.Send(ctx, UserInput{Text: "ping"}); err != nil {
				return
			}
		}
		_ = r.mainTx.Send(ctx, Quit{})
	}()

	require.NoError(t, waitRun(t, done))

	lines := strings.Split(strings.TrimSuffix(r.out.String(), "\n\n"), "\n\n")
	require.Len(t, lines, n, "every submission must be answered before exit")
	assert.Equal(t, "> ping'd worker thread 1 time", lines[0])
	for i := 1; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("> ping'd worker thread %d times", i+1), lines[i])
	}

	assert.Equal(t, uint64(n), w.Pings())
	assert.Equal(t, float64(n), testutil.ToFloat64(m.MessagesTotal.WithLabelValues("main", "user_input")))
	assert.Equal(t, float64(n), testutil.ToFloat64(m.MessagesTotal.WithLabelValues("main", "work_result")))
}

func TestCoordinator_WorkerMailboxHoldsOneMessage(t *testing.T) {
	r := newRig()

	// nobody consumes the worker mailbox
	require.NoError(t, r.workerTx.TrySend(DoWork{Text: "occupied"}))
	_, done := r.run(t, nil)

	r.input(t, UserInput{Text: "blocked"})

	// the coordinator cannot forward, but keeps accepting from its inbox
	// so a reply could still get through
	r.input(t, WorkResult{Text: "late reply"})
	assert.Eventually(t, func() bool {
		return r.out.String() == "> late reply\n\n"
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, r.workerRx.Len())

	msg, err := r.workerRx.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DoWork{Text: "occupied"}, msg)

	msg = receive(t, r.workerRx)
	forwarded, ok := msg.(DoWork)
	require.True(t, ok)
	assert.Equal(t, "blocked", forwarded.Text)

	r.input(t, Quit{})
	require.NoError(t, waitRun(t, done))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []bus.ResultEvent
	err    error
}

func (p *recordingPublisher) Publish(e bus.ResultEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Events() []bus.ResultEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bus.ResultEvent(nil), p.events...)
}

func TestCoordinator_StalledWorkerDoesNotBackpressureInput(t *testing.T) {
	r := newRig()
	// the worker never drains this slot
	require.NoError(t, r.workerTx.TrySend(DoWork{ID: "stuck", Text: "ping"}))

	c := NewCoordinator(r.mainRx, r.workerTx, nil, r.out, "> ", r.deps)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	sendCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	const n = 1000
	for i := 0; i < n; i++ {
		require.NoError(t, r.mainTx.Send(sendCtx, UserInput{Text: "ping"}), "send %d", i)
	}
	require.NoError(t, r.mainTx.Send(sendCtx, Quit{}))

	// main keeps taking input into its backlog while its forward is stuck
	assert.Equal(t, 1, r.workerRx.Len())
	assert.Empty(t, r.out.String())

	cancel()
	err := waitRun(t, done)
	assert.ErrorIs(t, err, ErrWorkerLost)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateStopped, c.State())
	// the backlogged quit reached shutdown and was ignored
	assert.Contains(t, r.logs.String(), "main ignoring repeated quit request")
	assert.NotContains(t, r.logs.String(), "main lifecycle:")
}

func TestLifecycle(t *testing.T) {
	logs := &syncBuffer{}
	sm := newLifecycle(core.NewLogger(logs, core.LevelDebug), nil)
	ctx := context.Background()

	state, err := sm.Fire(ctx, EventWorkerLost, concurrency.ErrMailboxClosed)
	require.NoError(t, err)
	assert.Equal(t, StateShuttingDown, state)

	// repeated quit requests change nothing
	state, err = sm.Fire(ctx, EventQuit, nil)
	require.NoError(t, err)
	assert.Equal(t, StateShuttingDown, state)

	// there is nothing to join without a handle
	_, err = sm.Fire(ctx, EventWorkerJoined, nil)
	assert.Error(t, err)
	assert.Equal(t, StateShuttingDown, sm.CurrentState())

	state, err = sm.Fire(ctx, EventWorkerAbandoned, nil)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, state)
	assert.True(t, sm.IsTerminal())

	state, err = sm.Fire(ctx, EventQuit, nil)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, state)

	out := logs.String()
	assert.Contains(t, out, "main stops routing on worker_lost: mailbox is closed")
	assert.Contains(t, out, "main is shutting down")
	assert.Contains(t, out, "main is not waiting for the worker")
}

func TestLifecycle_JoinRequiresFinishedWorker(t *testing.T) {
	release := make(chan struct{})
	h := concurrency.Spawn(testContext(t), concurrency.NewNamedTask("worker", func(context.Context) error {
		<-release
		return nil
	}), core.NewNopLogger())
	sm := newLifecycle(core.NewNopLogger(), h)
	ctx := context.Background()

	_, err := sm.Fire(ctx, EventQuit, nil)
	require.NoError(t, err)

	_, err = sm.Fire(ctx, EventWorkerJoined, nil)
	assert.Error(t, err, "worker still running")

	close(release)
	require.NoError(t, joinWithin(t, h, 2*time.Second))
	state, err := sm.Fire(ctx, EventWorkerJoined, nil)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, state)
}

func TestCoordinator_PublishesPrintedResults(t *testing.T) {
	pub := &recordingPublisher{}
	r := newRig()
	r.deps.Publisher = pub
	_, handle := r.realWorker(t)
	_, done := r.run(t, handle)

	r.input(t, UserInput{Text: "add 40 2"})
	r.input(t, UserInput{Text: "ping"})
	r.input(t, Quit{})
	require.NoError(t, waitRun(t, done))

	events := pub.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "42", events[0].Text)
	assert.Equal(t, "ping'd worker thread 1 time", events[1].Text)
	assert.NotEmpty(t, events[0].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID)
	assert.False(t, events[0].At.IsZero())
}

func TestCoordinator_PublishFailureIsNotFatal(t *testing.T) {
	pub := &recordingPublisher{err: bus.ErrPublisherClosed}
	r := newRig()
	r.deps.Publisher = pub
	_, handle := r.realWorker(t)
	_, done := r.run(t, handle)

	r.input(t, UserInput{Text: "add 1 1"})
	r.input(t, Quit{})
	require.NoError(t, waitRun(t, done))

	assert.Equal(t, "> 2\n\n", r.out.String())
	assert.Contains(t, r.logs.String(), "could not publish result")
}
