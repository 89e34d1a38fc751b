package greeting

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/osauer/greeting/internal/responsewriter"
)

// MiddlewareFunc wraps an http.Handler and returns a new http.HandlerFunc.
type MiddlewareFunc func(http.Handler) http.HandlerFunc

// MiddlewareStack is an ordered list of middleware. The first entry is the outermost.
type MiddlewareStack []MiddlewareFunc

// DefaultMiddleware returns the stack every server runs: metrics collection,
// request logging and panic recovery.
func DefaultMiddleware(srv *Server) MiddlewareStack {
	return MiddlewareStack{
		TraceMiddleware,
		MetricsMiddleware(srv),
		RequestLoggerMiddleware,
		RecoveryMiddleware,
	}
}

// chainMiddleware helper to apply multiple middlewares to a handler
func chainMiddleware(handler http.Handler, stack MiddlewareStack) http.Handler {
	// reverse order to run first middleware passed first
	for i := len(stack) - 1; i >= 0; i-- {
		handler = stack[i](handler)
	}
	return handler
}

type contextKey string

const traceIDKey contextKey = "traceID"

var requestCounter atomic.Int64

func generateTraceID() string {
	counter := requestCounter.Add(1)
	return fmt.Sprintf("%d-%d", counter, time.Now().UnixNano())
}

// TraceID returns the trace ID assigned to the request by TraceMiddleware, or "".
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// TraceMiddleware tags every request context with a trace ID.
func TraceMiddleware(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), traceIDKey, generateTraceID())
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// MetricsMiddleware counts requests and the time spent in handlers.
func MetricsMiddleware(srv *Server) MiddlewareFunc {
	return func(next http.Handler) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			srv.totalRequests.Add(1)
			start := time.Now()
			next.ServeHTTP(w, r)
			srv.totalResponseTime.Add(time.Since(start).Microseconds())
		}
	}
}

// RequestLoggerMiddleware logs one line per completed request.
func RequestLoggerMiddleware(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := responsewriter.NewRecorder(w)
		ip, _, _ := net.SplitHostPort(r.RemoteAddr)

		start := time.Now()
		next.ServeHTTP(rec, r)
		logger.Info("Request completed",
			"from", ip,
			"method", r.Method,
			"url", r.URL.String(),
			"trace_id", TraceID(r.Context()),
			"status", rec.Status(),
			"bytes", rec.BytesWritten(),
			"duration", time.Since(start))
	}
}

// RecoveryMiddleware turns a handler panic into a 500 response.
func RecoveryMiddleware(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("Panic recovered", "error", err, "url", r.URL.String())
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	}
}

// limiterIdleTTL is how long a client's bucket survives without requests.
const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// clientLimiters holds one token bucket per client IP. Buckets idle for longer
// than ttl are dropped, at most once per ttl.
type clientLimiters struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
	limiters  map[string]*limiterEntry
}

func newClientLimiters(limit rate.Limit, burst int) *clientLimiters {
	return &clientLimiters{
		limit:    limit,
		burst:    burst,
		ttl:      limiterIdleTTL,
		now:      time.Now,
		limiters: make(map[string]*limiterEntry),
	}
}

func (cl *clientLimiters) get(ip string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	now := cl.now()
	if now.Sub(cl.lastSweep) >= cl.ttl {
		cl.sweep(now)
	}
	e, ok := cl.limiters[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		cl.limiters[ip] = e
	}
	e.lastAccess = now
	return e.limiter
}

// sweep must be called with mu held.
func (cl *clientLimiters) sweep(now time.Time) {
	for ip, e := range cl.limiters {
		if now.Sub(e.lastAccess) > cl.ttl {
			delete(cl.limiters, ip)
		}
	}
	cl.lastSweep = now
}

func (cl *clientLimiters) len() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.limiters)
}

// RateLimitMiddleware enforces a token bucket per client IP and answers 429
// once the bucket is empty. Requests for an exempt path are never limited.
func RateLimitMiddleware(limit rate.Limit, burst int, exempt ...string) MiddlewareFunc {
	return rateLimit(newClientLimiters(limit, burst), exempt)
}

func rateLimit(limiters *clientLimiters, exempt []string) MiddlewareFunc {
	skip := make(map[string]bool, len(exempt))
	for _, path := range exempt {
		skip[path] = true
	}
	return func(next http.Handler) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !limiters.get(ip).Allow() {
				w.Header().Set("Retry-After", "1")
				writeErrorResponse(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		}
	}
}
