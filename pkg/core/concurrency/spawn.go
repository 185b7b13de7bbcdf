package concurrency

import (
	"context"
	"runtime/debug"

	"github.com/fluxorio/chanrepl/pkg/core/failfast"
)

// Task is a long-running unit of work, typically an actor loop.
type Task interface {
	// Execute runs until the task decides to stop or ctx is done
	Execute(ctx context.Context) error

	// Name returns a human-readable name for the task (for logging)
	Name() string
}

// TaskFunc adapts a function to Task
type TaskFunc func(ctx context.Context) error

// Execute implements Task interface for TaskFunc
func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Name returns a default name for TaskFunc
func (f TaskFunc) Name() string {
	return "TaskFunc"
}

// NamedTask wraps a TaskFunc with a custom name
type NamedTask struct {
	name string
	task TaskFunc
}

// NewNamedTask creates a new NamedTask
func NewNamedTask(name string, task TaskFunc) *NamedTask {
	return &NamedTask{name: name, task: task}
}

// Execute implements Task interface
func (nt *NamedTask) Execute(ctx context.Context) error {
	return nt.task(ctx)
}

// Name returns the task name
func (nt *NamedTask) Name() string {
	return nt.name
}

// Handle observes a spawned task, the way a thread join handle does.
type Handle struct {
	name string
	done chan struct{}
	err  error
}

// Spawn runs task on its own goroutine and returns a handle to join it.
// A panic inside the task is recovered, logged with its stack, and
// reported by Join as an error wrapping failfast.ErrPanic; it never
// propagates to the spawning goroutine. A nil logger logs to stderr.
func Spawn(ctx context.Context, task Task, logger ErrorLogger) *Handle {
	failfast.NotNil(task, "task")
	if logger == nil {
		logger = newDefaultErrorLogger()
	}

	h := &Handle{
		name: task.Name(),
		done: make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		defer func() {
			if r := recover(); r != nil {
				h.err = failfast.AsError(r)
				logger.Errorf("task %s panicked: %v\n%s", h.name, r, debug.Stack())
			}
		}()

		if err := task.Execute(ctx); err != nil {
			h.err = err
			logger.Errorf("task %s failed: %v", h.name, err)
		}
	}()

	return h
}

// Join blocks until the task has returned and reports its error, if any.
func (h *Handle) Join() error {
	<-h.done
	return h.err
}

// Done is closed once the task has returned
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Finished reports whether the task has returned, without blocking
func (h *Handle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Name returns the spawned task's name
func (h *Handle) Name() string {
	return h.name
}
