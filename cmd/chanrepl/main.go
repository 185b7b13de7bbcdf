// Command chanrepl runs the message-passing REPL on stdin and stdout.
// Logs go to stderr so they never interleave with results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fluxorio/chanrepl/pkg/bus"
	"github.com/fluxorio/chanrepl/pkg/config"
	"github.com/fluxorio/chanrepl/pkg/core"
	tracing "github.com/fluxorio/chanrepl/pkg/observability/otel"
	metrics "github.com/fluxorio/chanrepl/pkg/observability/prometheus"
	"github.com/fluxorio/chanrepl/pkg/repl"
	"github.com/fluxorio/chanrepl/pkg/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chanrepl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv(config.ConfigPathEnv), "path to a YAML or JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	level, err := core.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := core.NewLogger(os.Stderr, level)
	version := tracing.ModuleVersion()
	logger.Debugf("chanrepl %s", version)

	m := metrics.NewMetrics(cfg.Tracing.ServiceName)
	if cfg.Metrics.ListenAddr != "" {
		srv := web.NewServer(web.DefaultServerConfig(cfg.Metrics.ListenAddr), m.Handler(), logger)
		if err := srv.Start(context.Background()); err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Stop(ctx); err != nil {
				logger.Errorf("metrics server shutdown: %v", err)
			}
		}()
	}

	provider, err := tracing.Initialize(tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Exporter:       cfg.Tracing.Exporter,
		Writer:         os.Stderr,
		Endpoint:       cfg.Tracing.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Errorf("tracer shutdown: %v", err)
		}
	}()

	var publisher bus.Publisher = bus.NopPublisher{}
	if cfg.Events.NATSURL != "" {
		p, err := bus.NewNATSPublisher(bus.NATSConfig{
			URL:     cfg.Events.NATSURL,
			Subject: cfg.Events.Subject,
			Name:    cfg.Tracing.ServiceName,
		})
		if err != nil {
			return err
		}
		publisher = p
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Errorf("result publisher close: %v", err)
		}
	}()

	opts := repl.OptionsFromConfig(cfg)
	opts.Input = os.Stdin
	opts.Output = os.Stdout
	opts.Deps = repl.Deps{
		Logger:    logger,
		Metrics:   m,
		Tracer:    provider.Tracer(),
		Publisher: publisher,
	}

	return repl.Run(context.Background(), opts)
}
