package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fluxorio/chanrepl/pkg/bus"
	"github.com/fluxorio/chanrepl/pkg/core"
	"github.com/fluxorio/chanrepl/pkg/core/concurrency"
	"github.com/fluxorio/chanrepl/pkg/core/failfast"
	"github.com/fluxorio/chanrepl/pkg/fsm"
)

// Coordinator lifecycle states
const (
	StateRunning      fsm.State = "running"
	StateShuttingDown fsm.State = "shutting_down"
	StateStopped      fsm.State = "stopped"
)

// Coordinator lifecycle events
const (
	EventQuit            fsm.Event = "quit"
	EventWorkerLost      fsm.Event = "worker_lost"
	EventInboxClosed     fsm.Event = "inbox_closed"
	EventWorkerJoined    fsm.Event = "worker_joined"
	EventWorkerAbandoned fsm.Event = "worker_abandoned"
)

// ErrWorkerLost is returned by Coordinator.Run when a submission could not
// be forwarded to the worker.
var ErrWorkerLost = errors.New("worker is gone")

// ErrInputLost is returned by Coordinator.Run when the coordinator's
// mailbox failed before a quit request arrived.
var ErrInputLost = errors.New("main mailbox failed before quit")

// Coordinator routes user input to the worker, prints results and drives
// shutdown. It runs on the caller's goroutine.
type Coordinator struct {
	inbox  *concurrency.Receiver[MainMessage]
	worker *concurrency.Sender[WorkerMessage]
	joiner *concurrency.Handle
	out    io.Writer
	prefix string

	// messages read while a forward was blocked, handled before the inbox
	backlog []MainMessage

	lifecycle *fsm.StateMachine
	deps      Deps
}

// NewCoordinator creates a coordinator owning inbox and the worker's
// sender. joiner observes the worker goroutine; it may be nil when there
// is nothing to join.
func NewCoordinator(inbox *concurrency.Receiver[MainMessage], worker *concurrency.Sender[WorkerMessage], joiner *concurrency.Handle, out io.Writer, prefix string, deps Deps) *Coordinator {
	failfast.NotNil(inbox, "coordinator inbox")
	failfast.NotNil(worker, "worker sender")
	failfast.NotNil(out, "output writer")

	deps = deps.withDefaults()
	deps.Logger = deps.Logger.WithFields(map[string]interface{}{"actor": "main"})

	c := &Coordinator{
		inbox:  inbox,
		worker: worker,
		joiner: joiner,
		out:    out,
		prefix: prefix,
		deps:   deps,
	}
	c.lifecycle = newLifecycle(deps.Logger, joiner)
	return c
}

// newLifecycle builds main's state machine. Quit requests that arrive once
// shutdown has begun are ignored.
func newLifecycle(logger core.Logger, joiner *concurrency.Handle) *fsm.StateMachine {
	sm := fsm.New("main", StateRunning)
	sm.Configure(StateRunning).
		Permit(EventQuit, StateShuttingDown).
		Permit(EventWorkerLost, StateShuttingDown).
		Permit(EventInboxClosed, StateShuttingDown).
		OnExit(func(_ context.Context, tc fsm.TransitionContext) error {
			if cause, ok := tc.Data.(error); ok {
				logger.Infof("main stops routing on %s: %v", tc.Event, cause)
				return nil
			}
			logger.Infof("main stops routing on %s", tc.Event)
			return nil
		})
	sm.Configure(StateShuttingDown).
		OnEntry(func(context.Context, fsm.TransitionContext) error {
			logger.Info("main is shutting down")
			return nil
		}).
		PermitIf(EventWorkerJoined, StateStopped, func(context.Context, fsm.TransitionContext) bool {
			return joiner != nil && joiner.Finished()
		}).
		PermitWithAction(EventWorkerAbandoned, StateStopped, func(context.Context, fsm.TransitionContext) error {
			logger.Warn("main is not waiting for the worker, it may still be running")
			return nil
		}).
		Ignore(EventQuit)
	sm.Configure(StateStopped).
		Terminal().
		Ignore(EventQuit)

	sm.OnTransition(func(tc fsm.TransitionContext) {
		logger.Debugf("lifecycle %s -> %s on %s", tc.From, tc.To, tc.Event)
	})
	return sm
}

// State returns the coordinator's lifecycle state
func (c *Coordinator) State() fsm.State {
	return c.lifecycle.CurrentState()
}

// Run routes messages until shutdown, then stops the worker and waits for
// it. It returns nil after a requested quit, ErrWorkerLost or ErrInputLost
// otherwise.
func (c *Coordinator) Run(ctx context.Context) error {
	logger := c.deps.Logger
	defer c.worker.Release()
	defer c.inbox.Close()

	var (
		reason = EventQuit
		cause  error
	)

	for c.State() == StateRunning {
		msg, err := c.next(ctx)
		if err != nil {
			logger.Errorf("main encountered a receive error on its inbox: %v", err)
			reason, cause = EventInboxClosed, err
			c.fire(ctx, reason, err)
			break
		}

		switch m := msg.(type) {
		case WorkResult:
			c.report(m)
		case UserInput:
			if err := c.forward(ctx, m); err != nil {
				c.deps.Metrics.RecordSendFailure("main")
				logger.Errorf("main encountered a send error on the worker mailbox: %v", err)
				reason, cause = EventWorkerLost, err
				c.fire(ctx, reason, err)
			}
		case Quit:
			logger.Info("main got quit request")
			reason = EventQuit
			c.fire(ctx, reason, nil)
		default:
			logger.Warnf("main ignoring unexpected message %T", msg)
		}
	}

	c.shutdown(ctx, reason, cause)

	switch reason {
	case EventWorkerLost:
		return fmt.Errorf("%w: %w", ErrWorkerLost, cause)
	case EventInboxClosed:
		return fmt.Errorf("%w: %w", ErrInputLost, cause)
	}
	return nil
}

// next returns the oldest backlogged message, or receives one.
func (c *Coordinator) next(ctx context.Context) (MainMessage, error) {
	if len(c.backlog) > 0 {
		msg := c.backlog[0]
		c.backlog = c.backlog[1:]
		return msg, nil
	}
	msg, err := c.inbox.Receive(ctx)
	if err != nil {
		return nil, err
	}
	c.deps.Metrics.RecordMessage("main", messageKind(msg))
	return msg, nil
}

// forward stamps a submission id and hands the input to the worker. While
// the worker's slot is full, results are printed as they arrive so the
// worker can always reply; anything else waits in the backlog. The
// backlog is unbounded, so a stalled worker does not hold back input.
func (c *Coordinator) forward(ctx context.Context, in UserInput) error {
	id := core.NewSubmissionID()
	c.deps.Logger.Debugf("forwarding submission %s: %q", id, in.Text)

	return concurrency.SendWhileReceiving(ctx, c.worker, WorkerMessage(DoWork{ID: id, Text: in.Text}), c.inbox,
		func(msg MainMessage) {
			c.deps.Metrics.RecordMessage("main", messageKind(msg))
			if res, ok := msg.(WorkResult); ok {
				c.report(res)
				return
			}
			c.backlog = append(c.backlog, msg)
		})
}

// shutdown keeps draining the inbox while it stops and joins the worker,
// so a worker blocked on replying can still reach its quit message.
func (c *Coordinator) shutdown(ctx context.Context, reason fsm.Event, cause error) {
	logger := c.deps.Logger

	for _, msg := range c.backlog {
		c.handleDuringShutdown(ctx, msg)
	}
	c.backlog = nil

	drainCtx, stopDrain := context.WithCancel(ctx)
	drainer := concurrency.Spawn(drainCtx, concurrency.NewNamedTask("main-drain", c.drain), logger)
	defer func() {
		stopDrain()
		drainer.Join()
	}()

	if reason == EventQuit {
		if err := c.worker.Send(ctx, QuitWorker{}); err != nil {
			c.deps.Metrics.RecordSendFailure("main")
			logger.Errorf("main encountered a send error on the worker mailbox: %v", err)
		}
	}

	if !c.workerReachable(reason, cause) {
		c.fire(ctx, EventWorkerAbandoned, nil)
		return
	}

	if err := c.joiner.Join(); err != nil {
		logger.Errorf("worker erred during exit: %v", err)
	}
	c.fire(ctx, EventWorkerJoined, nil)
}

// workerReachable decides whether joining the worker can complete.
func (c *Coordinator) workerReachable(reason fsm.Event, cause error) bool {
	if c.joiner == nil {
		return false
	}
	if c.joiner.Finished() {
		return true
	}
	switch reason {
	case EventQuit, EventInboxClosed:
		// after a quit handshake, or once every sender (the worker's
		// included) is gone, the worker is on its way out
		return true
	case EventWorkerLost:
		// the worker closes its inbox only when it exits
		return errors.Is(cause, concurrency.ErrMailboxClosed) || errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)
	}
	return false
}

// drain prints results still in flight during shutdown and drops
// everything else. When ctx is done it flushes what is buffered and returns.
func (c *Coordinator) drain(ctx context.Context) error {
	for {
		msg, err := c.inbox.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.flush(ctx)
			}
			return nil
		}
		c.deps.Metrics.RecordMessage("main", messageKind(msg))
		c.handleDuringShutdown(ctx, msg)
	}
}

func (c *Coordinator) flush(ctx context.Context) {
	for {
		msg, ok, err := c.inbox.TryReceive()
		if err != nil || !ok {
			return
		}
		c.deps.Metrics.RecordMessage("main", messageKind(msg))
		c.handleDuringShutdown(ctx, msg)
	}
}

func (c *Coordinator) handleDuringShutdown(ctx context.Context, msg MainMessage) {
	switch m := msg.(type) {
	case WorkResult:
		c.report(m)
	case UserInput:
		c.deps.Logger.Warnf("main dropping input received during shutdown: %q", m.Text)
	case Quit:
		c.deps.Logger.Debug("main ignoring repeated quit request")
		c.fire(ctx, EventQuit, nil)
	}
}

// report prints a result and announces it. A failed announcement is
// only logged.
func (c *Coordinator) report(res WorkResult) {
	fmt.Fprintf(c.out, "%s%s\n\n", c.prefix, res.Text)

	event := bus.ResultEvent{ID: res.ID, Text: res.Text, At: time.Now().UTC()}
	if err := c.deps.Publisher.Publish(event); err != nil {
		c.deps.Logger.Warnf("main could not publish result %s: %v", res.ID, err)
	}
}

func (c *Coordinator) fire(ctx context.Context, event fsm.Event, data any) {
	if _, err := c.lifecycle.Fire(ctx, event, data); err != nil {
		c.deps.Logger.Errorf("main lifecycle: %v", err)
	}
}
