// Copyright 2024 by Oliver Sauer
// Use of this source code is governed by a MIT-style license that can be found in the LICENSE file.

// Package greeting is a small HTTP server answering a welcome message, a greeting and a health check.
package greeting

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 5 * time.Second

// ErrBind is returned by Run when a listen address cannot be bound.
var ErrBind = errors.New("failed to bind listener")

// Server serves the greeting routes.
type Server struct {
	config          Config
	router          *chi.Mux
	healthMux       *http.ServeMux
	appServer       *http.Server
	healthServer    *http.Server
	middleware      MiddlewareStack
	runHealthServer bool

	isReady   atomic.Bool
	isLive    atomic.Bool
	isRunning atomic.Bool

	// Server metrics
	totalRequests     atomic.Uint64
	totalResponseTime atomic.Int64
	serverStart       time.Time

	started         chan struct{}
	boundAddr       net.Addr
	boundHealthAddr net.Addr
}

// NewServer creates a Server serving [Routes]. Without options it uses [DefaultConfig].
func NewServer(opts ...ServerOptionFunc) (*Server, error) {
	srv := &Server{
		config:  DefaultConfig(),
		router:  newRouter(Routes()),
		started: make(chan struct{}),
	}
	srv.middleware = DefaultMiddleware(srv)

	for _, opt := range opts {
		if err := opt(srv); err != nil {
			return nil, err
		}
	}

	srv.appServer = &http.Server{
		Addr:         srv.config.Addr(),
		Handler:      srv.router,
		ReadTimeout:  srv.config.ReadTimeout,
		WriteTimeout: srv.config.WriteTimeout,
		IdleTimeout:  srv.config.IdleTimeout,
	}
	return srv, nil
}

// Config returns the configuration the server was built with.
func (srv *Server) Config() Config {
	return srv.config
}

// Handler returns the route table wrapped in the middleware stack.
func (srv *Server) Handler() http.Handler {
	return chainMiddleware(srv.router, srv.middleware)
}

// Use appends middleware. It panics once the server is running.
func (srv *Server) Use(middleware ...MiddlewareFunc) {
	if srv.isRunning.Load() {
		panic("Cannot change middleware after appServer has started.")
	}
	srv.middleware = append(srv.middleware, middleware...)
}

// Started is closed once the listeners are bound.
func (srv *Server) Started() <-chan struct{} {
	return srv.started
}

// Addr returns the bound address of the application listener, or nil before Started.
func (srv *Server) Addr() net.Addr {
	return srv.boundAddr
}

// HealthAddr returns the bound address of the health server, or nil if it is not running.
func (srv *Server) HealthAddr() net.Addr {
	return srv.boundHealthAddr
}

// Run binds the listeners and serves until ctx is cancelled, SIGINT or SIGTERM
// is received, or serving fails. It then shuts down gracefully.
func (srv *Server) Run(ctx context.Context) error {
	if !srv.isRunning.CompareAndSwap(false, true) {
		return errors.New("server is already running")
	}
	srv.serverStart = time.Now()
	srv.appServer.Handler = srv.Handler()

	ln, err := net.Listen("tcp", srv.appServer.Addr)
	if err != nil {
		return fmt.Errorf("%w on %s: %w", ErrBind, srv.appServer.Addr, err)
	}

	var healthLn net.Listener
	if srv.runHealthServer {
		srv.initHealthServer()
		healthLn, err = net.Listen("tcp", srv.healthServer.Addr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("%w on %s: %w", ErrBind, srv.healthServer.Addr, err)
		}
		srv.boundHealthAddr = healthLn.Addr()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 2)
	go serve(srv.appServer, ln, errs)
	if healthLn != nil {
		go serve(srv.healthServer, healthLn, errs)
	}

	srv.boundAddr = ln.Addr()
	srv.isLive.Store(true)
	srv.isReady.Store(true)
	close(srv.started)
	logger.Info("Server started.", "addr", srv.boundAddr.String())

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("received signal to shutdown appServer. Stopping...", "reason", context.Cause(ctx))
	case serveErr = <-errs:
		logger.Error("Server stopped serving.", "error", serveErr)
	}

	srv.isReady.Store(false)
	shutdownErr := srv.shutdown()
	srv.isLive.Store(false)
	srv.logStats()
	return errors.Join(serveErr, shutdownErr)
}

func serve(s *http.Server, ln net.Listener, errs chan<- error) {
	if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs <- err
	}
}

// shutdown drains the application listener before the health server, so /readyz/
// reports unhealthy while requests finish.
func (srv *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.appServer.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown.", "error", err)
		errs = append(errs, err)
	}
	if srv.healthServer != nil {
		if err := srv.healthServer.Shutdown(ctx); err != nil {
			logger.Error("Health server forced to shutdown.", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (srv *Server) logStats() {
	resp := srv.totalResponseTime.Load()
	logger.Info("Server is shut down.",
		"up-time", time.Since(srv.serverStart),
		"µs-in-handlers", resp,
		"total-req", srv.totalRequests.Load())
}

// helper function to initialise the health server
func (srv *Server) initHealthServer() {
	srv.healthMux = http.NewServeMux()
	srv.healthServer = &http.Server{
		Addr:              srv.config.HealthAddr,
		Handler:           srv.healthMux,
		ReadHeaderTimeout: srv.config.ReadTimeout,
	}
	logger.Info("Health server initialised.", "addr", srv.config.HealthAddr)

	srv.healthMux.HandleFunc("/healthz/", srv.healthzHandler)
	srv.healthMux.HandleFunc("/readyz/", srv.readyzHandler)
	srv.healthMux.HandleFunc("/livez/", srv.livezHandler)
}
