package repl

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/chanrepl/pkg/core"
	"github.com/fluxorio/chanrepl/pkg/core/concurrency"
	"github.com/fluxorio/chanrepl/pkg/core/failfast"
)

// Worker interprets commands sent by the coordinator and replies with one
// WorkResult per DoWork. It implements concurrency.Task.
type Worker struct {
	inbox  *concurrency.Receiver[WorkerMessage]
	outbox *concurrency.Sender[MainMessage]

	// pings is private to the worker goroutine
	pings uint64

	deps Deps
}

// NewWorker creates a worker that consumes inbox and owns outbox. The
// worker closes inbox and releases outbox when it exits.
func NewWorker(inbox *concurrency.Receiver[WorkerMessage], outbox *concurrency.Sender[MainMessage], deps Deps) *Worker {
	failfast.NotNil(inbox, "worker inbox")
	failfast.NotNil(outbox, "worker outbox")

	deps = deps.withDefaults()
	deps.Logger = deps.Logger.WithFields(map[string]interface{}{"actor": "worker"})
	return &Worker{inbox: inbox, outbox: outbox, deps: deps}
}

// Name implements concurrency.Task
func (w *Worker) Name() string {
	return "worker"
}

// Execute runs the worker loop until QuitWorker, a closed or disconnected
// inbox, or a failed reply. Failures end the loop but are not returned:
// the worker always terminates normally.
func (w *Worker) Execute(ctx context.Context) error {
	logger := w.deps.Logger
	defer w.outbox.Release()
	defer w.inbox.Close()

	logger.Info("worker starting up")

loop:
	for {
		msg, err := w.inbox.Receive(ctx)
		if err != nil {
			logger.Errorf("worker encountered a receive error on its inbox: %v", err)
			break
		}
		w.deps.Metrics.RecordMessage("worker", messageKind(msg))

		switch m := msg.(type) {
		case DoWork:
			result := w.handle(ctx, m)
			if err := w.outbox.Send(ctx, result); err != nil {
				w.deps.Metrics.RecordSendFailure("worker")
				logger.Errorf("worker encountered a send error on the main mailbox: %v", err)
				break loop
			}
		case QuitWorker:
			logger.Info("worker got quit request")
			break loop
		default:
			logger.Warnf("worker ignoring unexpected message %T", msg)
		}
	}

	logger.Info("worker is exiting")
	return nil
}

// Pings returns how many pings the worker has serviced. Only safe to call
// from the worker goroutine or after it has been joined.
func (w *Worker) Pings() uint64 {
	return w.pings
}

func (w *Worker) handle(ctx context.Context, msg DoWork) WorkResult {
	ctx = core.WithSubmissionID(ctx, msg.ID)
	_, span := w.deps.Tracer.Start(ctx, "chanrepl.work",
		trace.WithAttributes(attribute.String("work.id", msg.ID)))
	defer span.End()

	start := time.Now()
	text, verb, err := w.Perform(msg.Text)
	elapsed := time.Since(start)

	span.SetAttributes(attribute.String("work.verb", verb))
	outcome := "ok"
	if err != nil {
		outcome = "parse_error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse error")
	}
	w.deps.Metrics.RecordWork(verb, outcome, elapsed)
	w.deps.Logger.Debugf("work %s (%s) -> %q", core.SubmissionID(ctx), verb, text)

	return WorkResult{ID: msg.ID, Text: text}
}

// Perform parses raw and carries it out, returning the text to report and
// the verb that ran ("invalid" on a parse failure). A parse failure is
// reported in the text as well as returned.
func (w *Worker) Perform(raw string) (text string, verb string, err error) {
	work, err := ParseWork(raw)
	if err != nil {
		return fmt.Sprintf("worker thread could not parse work: %v", err), "invalid", err
	}

	switch wk := work.(type) {
	case Add:
		// uint32 + uint32 always fits in uint64, so the true sum is reported
		return strconv.FormatUint(uint64(wk.A)+uint64(wk.B), 10), wk.Verb(), nil
	case Ping:
		w.pings++
		w.deps.Metrics.SetPings(w.pings)
		return pingText(w.pings), wk.Verb(), nil
	case Help:
		return HelpText, wk.Verb(), nil
	}
	panic(fmt.Sprintf("unhandled work type %T", work))
}

func pingText(n uint64) string {
	if n == 1 {
		return "ping'd worker thread 1 time"
	}
	return fmt.Sprintf("ping'd worker thread %d times", n)
}
