// Package repl is a read-eval-print loop built from three actors that share
// no memory: an input actor reading lines, a worker actor interpreting
// commands, and a coordinator routing between them. They communicate only
// through two mailboxes of capacity one, so a busy peer applies
// backpressure instead of queueing work.
//
//	input --UserInput/Quit--> main --DoWork/QuitWorker--> worker
//	                            ^-------WorkResult-----------'
package repl

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fluxorio/chanrepl/pkg/bus"
	"github.com/fluxorio/chanrepl/pkg/config"
	"github.com/fluxorio/chanrepl/pkg/core"
	"github.com/fluxorio/chanrepl/pkg/core/concurrency"
	"github.com/fluxorio/chanrepl/pkg/core/failfast"
	metrics "github.com/fluxorio/chanrepl/pkg/observability/prometheus"
)

// MailboxCapacity is the number of unconsumed messages each mailbox holds.
const MailboxCapacity = 1

// Goodbye is the last line printed after shutdown.
const Goodbye = "goodbye!"

// Deps are the ambient services every actor uses. Zero fields get
// defaults: the default logger, no metrics, a no-op tracer and no
// result publishing.
type Deps struct {
	Logger    core.Logger
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
	Publisher bus.Publisher
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = core.NewDefaultLogger()
	}
	if d.Tracer == nil {
		d.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if d.Publisher == nil {
		d.Publisher = bus.NopPublisher{}
	}
	return d
}

// Options configure Run.
type Options struct {
	Input  io.Reader
	Output io.Writer

	SettleDelay  time.Duration
	QuitOnEOF    bool
	ResultPrefix string

	Deps Deps
}

// OptionsFromConfig maps a loaded configuration onto Options. Streams and
// Deps are left for the caller.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		SettleDelay:  cfg.Input.SettleDelay,
		QuitOnEOF:    cfg.Input.QuitOnEOF,
		ResultPrefix: cfg.Output.ResultPrefix,
	}
}

// Run wires the three actors, runs the coordinator on the calling
// goroutine and returns once the worker has been joined or abandoned.
// The input actor is not joined: it may be blocked reading a stream that
// never ends.
func Run(ctx context.Context, opts Options) error {
	failfast.NotNil(opts.Input, "input stream")
	failfast.NotNil(opts.Output, "output stream")

	deps := opts.Deps.withDefaults()
	logger := deps.Logger
	out := &lockedWriter{w: opts.Output}

	logger.Info("main starting up")

	workerTx, workerRx := concurrency.NewMailbox[WorkerMessage](MailboxCapacity)
	mainTx, mainRx := concurrency.NewMailbox[MainMessage](MailboxCapacity)

	// the worker and input each own one main sender; main owns none
	worker := NewWorker(workerRx, mainTx.Clone(), deps)
	input := NewInput(opts.Input, mainTx, out, InputOptions{
		SettleDelay: opts.SettleDelay,
		QuitOnEOF:   opts.QuitOnEOF,
	}, deps)

	workerHandle := concurrency.Spawn(ctx, worker, logger)
	concurrency.Spawn(ctx, input, logger)

	coordinator := NewCoordinator(mainRx, workerTx, workerHandle, out, opts.ResultPrefix, deps)
	err := coordinator.Run(ctx)

	logger.Info("main is exiting")
	fmt.Fprintln(out, Goodbye)
	return err
}

// lockedWriter serializes writes from the input actor's banner and the
// coordinator's results.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}
