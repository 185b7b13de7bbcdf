// Package web serves the REPL's operational endpoints over fasthttp:
// Prometheus metrics and a liveness probe. It is never on the REPL's
// data path.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/fluxorio/chanrepl/pkg/core"
	"github.com/fluxorio/chanrepl/pkg/core/concurrency"
	"github.com/fluxorio/chanrepl/pkg/core/failfast"
)

const (
	MetricsPath = "/metrics"
	HealthPath  = "/healthz"
)

// ServerConfig configures the fasthttp server
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default configuration listening on addr
func DefaultServerConfig(addr string) ServerConfig {
	return ServerConfig{
		Addr:         addr,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// Server exposes an http.Handler for metrics through fasthttp.
type Server struct {
	server  *fasthttp.Server
	config  ServerConfig
	metrics fasthttp.RequestHandler
	logger  core.Logger

	mu       sync.Mutex
	listener net.Listener
	serving  *concurrency.Handle
}

// NewServer creates a server answering MetricsPath with metrics.
func NewServer(config ServerConfig, metrics http.Handler, logger core.Logger) *Server {
	failfast.NotNil(metrics, "metrics handler")
	if logger == nil {
		logger = core.NewDefaultLogger()
	}

	s := &Server{
		config:  config,
		metrics: fasthttpadaptor.NewFastHTTPHandler(metrics),
		logger:  logger,
		server: &fasthttp.Server{
			ReadTimeout:           config.ReadTimeout,
			WriteTimeout:          config.WriteTimeout,
			NoDefaultServerHeader: true,
		},
	}
	s.server.Handler = s.handleRequest
	return s
}

// Start binds the configured address and serves in the background.
// Bind errors are returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return fmt.Errorf("server already started on %s", s.listener.Addr())
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln
	s.logger.Infof("metrics listening on %s", ln.Addr())

	s.serving = concurrency.Spawn(ctx, concurrency.NewNamedTask("metrics-server", func(context.Context) error {
		return s.server.Serve(ln)
	}), s.logger)
	return nil
}

// Addr returns the bound address, or "" before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down and waits for the serve loop to return.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	serving := s.serving
	s.mu.Unlock()

	if serving == nil {
		return nil
	}
	if err := s.server.ShutdownWithContext(ctx); err != nil {
		return err
	}
	return serving.Join()
}

func (s *Server) handleRequest(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() && !ctx.IsHead() {
		ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
		return
	}

	switch string(ctx.Path()) {
	case MetricsPath:
		s.metrics(ctx)
	case HealthPath:
		ctx.SetContentType("text/plain; charset=utf-8")
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.WriteString("ok\n")
	default:
		ctx.Error("Not Found", fasthttp.StatusNotFound)
	}
}
