package greeting

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"
)

// ServerOptionFunc configures a Server using the functional options pattern.
// Pass options to [NewServer]; an option that rejects its input makes NewServer fail.
//
// Example:
//
//	srv, err := NewServer(
//		WithConfig(cfg),
//		WithHealthServer())
//	if err != nil {
//		log.Fatal(err)
//	}
//	err = srv.Run(ctx)
type ServerOptionFunc func(srv *Server) error

// WithConfig replaces the whole configuration, typically with the result of [LoadConfig].
func WithConfig(config Config) ServerOptionFunc {
	return func(srv *Server) error {
		srv.config = config
		return nil
	}
}

// WithAddr sets the listen address in host:port form. An empty host binds all interfaces.
func WithAddr(addr string) ServerOptionFunc {
	return func(srv *Server) error {
		host, rawPort, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("setting address option: %w", err)
		}
		port, err := parsePort(rawPort)
		if err != nil {
			return fmt.Errorf("setting address option %q: %w", addr, err)
		}
		srv.config.Host = host
		srv.config.Port = port
		return nil
	}
}

// WithLogger replaces the package logger.
func WithLogger(l *slog.Logger) ServerOptionFunc {
	return func(srv *Server) error {
		SetDefaultLogger(l)
		return nil
	}
}

// WithTimeouts overrides the HTTP timeouts. Zero values keep the current setting.
func WithTimeouts(readTimeout, writeTimeout, idleTimeout time.Duration) ServerOptionFunc {
	return func(srv *Server) error {
		if readTimeout != 0 {
			srv.config.ReadTimeout = readTimeout
		}
		if writeTimeout != 0 {
			srv.config.WriteTimeout = writeTimeout
		}
		if idleTimeout != 0 {
			srv.config.IdleTimeout = idleTimeout
		}
		return nil
	}
}

// WithHealthServer enables the health server on a separate port.
func WithHealthServer() ServerOptionFunc {
	return func(srv *Server) error {
		srv.runHealthServer = true
		return nil
	}
}

// WithHealthAddr sets the listen address of the health server.
func WithHealthAddr(addr string) ServerOptionFunc {
	return func(srv *Server) error {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("setting health address option: %w", err)
		}
		srv.config.HealthAddr = addr
		return nil
	}
}

// WithRateLimit limits every client IP to limit requests per second with the given burst.
// The liveness route /health is never limited.
func WithRateLimit(limit rate.Limit, burst int) ServerOptionFunc {
	return func(srv *Server) error {
		if limit <= 0 || burst <= 0 {
			return fmt.Errorf("rate limit %v with burst %d: must be positive", limit, burst)
		}
		srv.middleware = append(srv.middleware, RateLimitMiddleware(limit, burst, healthPath))
		return nil
	}
}

// WithMiddleware appends middleware after the default stack.
func WithMiddleware(middleware ...MiddlewareFunc) ServerOptionFunc {
	return func(srv *Server) error {
		srv.middleware = append(srv.middleware, middleware...)
		return nil
	}
}
