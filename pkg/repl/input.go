package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fluxorio/chanrepl/pkg/core/concurrency"
	"github.com/fluxorio/chanrepl/pkg/core/failfast"
)

// Banner is printed once the input actor is ready to read.
const Banner = "\nwelcome to the repl"

// quitCommand is the only line the input actor interprets itself.
const quitCommand = "quit"

// InputOptions tune the input actor.
type InputOptions struct {
	// SettleDelay is slept before the banner so startup logs settle.
	SettleDelay time.Duration
	// QuitOnEOF sends Quit at end of stream instead of stopping silently.
	QuitOnEOF bool
}

// Input reads lines from a stream and forwards them to the coordinator.
// It implements concurrency.Task.
type Input struct {
	reader *bufio.Reader
	outbox *concurrency.Sender[MainMessage]
	banner io.Writer
	opts   InputOptions
	deps   Deps
}

// NewInput creates an input actor reading r and owning outbox. The
// banner is written to banner. The actor releases outbox when it exits.
func NewInput(r io.Reader, outbox *concurrency.Sender[MainMessage], banner io.Writer, opts InputOptions, deps Deps) *Input {
	failfast.NotNil(r, "input reader")
	failfast.NotNil(outbox, "input outbox")
	failfast.NotNil(banner, "banner writer")

	deps = deps.withDefaults()
	deps.Logger = deps.Logger.WithFields(map[string]interface{}{"actor": "input"})
	return &Input{
		reader: bufio.NewReader(r),
		outbox: outbox,
		banner: banner,
		opts:   opts,
		deps:   deps,
	}
}

// Name implements concurrency.Task
func (in *Input) Name() string {
	return "input"
}

// Execute reads until quit, end of stream, a read error or a failed send.
// The blocking read itself cannot be interrupted by ctx.
func (in *Input) Execute(ctx context.Context) error {
	logger := in.deps.Logger
	defer in.outbox.Release()

	logger.Info("input starting up")

	if in.opts.SettleDelay > 0 {
		select {
		case <-time.After(in.opts.SettleDelay):
		case <-ctx.Done():
			logger.Info("input is exiting")
			return nil
		}
	}
	fmt.Fprintln(in.banner, Banner)

	for {
		line, err := in.reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Errorf("input encountered a read error: %v", err)
				break
			}
			if line == "" {
				in.endOfStream(ctx)
				break
			}
			// last line without a terminator; EOF is seen on the next read
		}

		text := strings.TrimSpace(line)
		if text == quitCommand {
			logger.Info("input got quit request")
			if err := in.send(ctx, Quit{}); err != nil {
				logger.Errorf("input encountered a send error on the main mailbox: %v", err)
			}
			break
		}

		if err := in.send(ctx, UserInput{Text: text}); err != nil {
			logger.Errorf("input encountered a send error on the main mailbox: %v", err)
			break
		}
	}

	logger.Info("input is exiting")
	return nil
}

func (in *Input) endOfStream(ctx context.Context) {
	logger := in.deps.Logger
	if !in.opts.QuitOnEOF {
		logger.Error("input encountered end of stream")
		return
	}

	logger.Info("input reached end of stream, requesting quit")
	if err := in.send(ctx, Quit{}); err != nil {
		logger.Errorf("input encountered a send error on the main mailbox: %v", err)
	}
}

func (in *Input) send(ctx context.Context, msg MainMessage) error {
	err := in.outbox.Send(ctx, msg)
	if err != nil {
		in.deps.Metrics.RecordSendFailure("input")
	}
	return err
}
