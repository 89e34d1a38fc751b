package greeting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

// startServer runs srv in the background and waits until it is bound.
func startServer(t *testing.T, srv *Server) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	select {
	case <-srv.Started():
	case err := <-done:
		stop()
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		stop()
		t.Fatalf("server did not start in time")
	}

	return func() error {
		stop()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			return errors.New("server did not stop in time")
		}
	}
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body of %s: %v", url, err)
	}
	return resp.StatusCode, string(body)
}

func TestServerStartStopIntegration(t *testing.T) {
	srv, err := NewServer(WithAddr("127.0.0.1:0"))
	if err != nil {
		t.Fatalf("error creating server: %v", err)
	}
	stop := startServer(t, srv)

	base := "http://" + srv.Addr().String()
	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/", http.StatusOK, "Welcome to Spring Docker App!"},
		{"/greeting?name=Docker", http.StatusOK, "Hello, Docker!"},
		{"/greeting", http.StatusOK, "Hello, World!"},
		{"/health", http.StatusOK, "OK"},
	}
	for _, tt := range tests {
		status, body := get(t, base+tt.path)
		if status != tt.status {
			t.Errorf("%s: expected status %v, got %v", tt.path, tt.status, status)
		}
		if body != tt.body {
			t.Errorf("%s: expected body %q, got %q", tt.path, tt.body, body)
		}
	}
	if status, _ := get(t, base+"/missing"); status != http.StatusNotFound {
		t.Errorf("expected status %v, got %v", http.StatusNotFound, status)
	}

	if err := stop(); err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
	if srv.totalRequests.Load() != 5 {
		t.Errorf("expected 5 requests counted, got %v", srv.totalRequests.Load())
	}
}

func TestServerRunReturnsBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("error reserving port: %v", err)
	}
	defer ln.Close()

	srv, err := NewServer(WithAddr(ln.Addr().String()))
	if err != nil {
		t.Fatalf("error creating server: %v", err)
	}
	err = srv.Run(context.Background())
	if !errors.Is(err, ErrBind) {
		t.Errorf("expected ErrBind, got %v", err)
	}
	select {
	case <-srv.Started():
		t.Errorf("expected Started to stay open after a bind failure")
	default:
	}
}

func TestServerRunTwiceFails(t *testing.T) {
	srv, err := NewServer(WithAddr("127.0.0.1:0"))
	if err != nil {
		t.Fatalf("error creating server: %v", err)
	}
	stop := startServer(t, srv)
	if err := stop(); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
	if err := srv.Run(context.Background()); err == nil {
		t.Errorf("expected an error when running a server twice")
	}
}

func TestHealthServerIntegration(t *testing.T) {
	srv, err := NewServer(
		WithAddr("127.0.0.1:0"),
		WithHealthServer(),
		WithHealthAddr("127.0.0.1:0"),
	)
	if err != nil {
		t.Fatalf("error creating server: %v", err)
	}
	stop := startServer(t, srv)

	base := "http://" + srv.HealthAddr().String()
	for path, want := range map[string]string{
		"/livez/":   "alive",
		"/readyz/":  "ready",
		"/healthz/": "ok",
	} {
		status, body := get(t, base+path)
		if status != http.StatusOK {
			t.Errorf("%s: expected status %v, got %v", path, http.StatusOK, status)
		}
		if body != want {
			t.Errorf("%s: expected body %q, got %q", path, want, body)
		}
	}

	// health endpoints are not part of the application routes
	if status, _ := get(t, "http://"+srv.Addr().String()+"/readyz/"); status != http.StatusNotFound {
		t.Errorf("expected status %v, got %v", http.StatusNotFound, status)
	}

	if err := stop(); err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
	if srv.isReady.Load() || srv.isLive.Load() {
		t.Errorf("expected server to be neither ready nor live after shutdown")
	}
}

func TestRateLimitIntegration(t *testing.T) {
	srv, err := NewServer(
		WithAddr("127.0.0.1:0"),
		WithRateLimit(rate.Every(time.Minute), 2),
	)
	if err != nil {
		t.Fatalf("error creating server: %v", err)
	}
	stop := startServer(t, srv)
	defer stop()

	base := "http://" + srv.Addr().String()
	for i := 0; i < 2; i++ {
		if status, _ := get(t, base+"/greeting"); status != http.StatusOK {
			t.Fatalf("request %d: expected status %v, got %v", i, http.StatusOK, status)
		}
	}
	if status, _ := get(t, base+"/greeting"); status != http.StatusTooManyRequests {
		t.Errorf("expected status %v, got %v", http.StatusTooManyRequests, status)
	}

	// the liveness route keeps answering once the client is limited
	for i := 0; i < 3; i++ {
		status, body := get(t, base+"/health")
		if status != http.StatusOK || body != "OK" {
			t.Errorf("request %d: expected 200 OK on /health, got %v %q", i, status, body)
		}
	}
}

func TestReadyzReportsUnhealthyDuringShutdown(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	hold := func(next http.Handler) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("name") == "slow" {
				close(entered)
				<-release
			}
			next.ServeHTTP(w, r)
		}
	}
	srv, err := NewServer(
		WithAddr("127.0.0.1:0"),
		WithHealthServer(),
		WithHealthAddr("127.0.0.1:0"),
		WithMiddleware(hold),
	)
	if err != nil {
		t.Fatalf("error creating server: %v", err)
	}
	stop := startServer(t, srv)
	readyz := "http://" + srv.HealthAddr().String() + "/readyz/"
	livez := "http://" + srv.HealthAddr().String() + "/livez/"

	if status, _ := get(t, readyz); status != http.StatusOK {
		t.Fatalf("expected status %v before shutdown, got %v", http.StatusOK, status)
	}

	slow := make(chan string, 1)
	go func() {
		resp, err := http.Get("http://" + srv.Addr().String() + "/greeting?name=slow")
		if err != nil {
			slow <- err.Error()
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		slow <- string(body)
	}()
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatalf("slow request never reached the handler")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- stop() }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		status, body := get(t, readyz)
		if status == http.StatusServiceUnavailable {
			if body != "unhealthy" {
				t.Errorf("expected body %q, got %q", "unhealthy", body)
			}
			break
		}
		if time.Now().After(deadline) {
			close(release)
			t.Fatalf("expected /readyz/ to report %v while draining, last got %v", http.StatusServiceUnavailable, status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status, _ := get(t, livez); status != http.StatusOK {
		t.Errorf("expected /livez/ to stay %v while draining, got %v", http.StatusOK, status)
	}

	close(release)
	if body := <-slow; body != "Hello, slow!" {
		t.Errorf("expected in-flight request to complete with %q, got %q", "Hello, slow!", body)
	}
	if err := <-stopped; err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
}

func TestConcurrentGreetingsAreIndependent(t *testing.T) {
	t.Parallel()
	srv, err := NewServer()
	if err != nil {
		t.Fatalf("error creating server: %v", err)
	}
	handler := srv.Handler()

	const n = 64
	var wg sync.WaitGroup
	bodies := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest("GET", fmt.Sprintf("/greeting?name=%d", i), nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			bodies[i] = rec.Body.String()
		}(i)
	}
	wg.Wait()

	for i, body := range bodies {
		if want := fmt.Sprintf("Hello, %d!", i); body != want {
			t.Errorf("request %d: expected body %q, got %q", i, want, body)
		}
	}
	if srv.totalRequests.Load() != n {
		t.Errorf("expected %d requests counted, got %v", n, srv.totalRequests.Load())
	}
}

func TestNewServerUsesConfiguredPort(t *testing.T) {
	t.Parallel()
	config, err := LoadConfigFrom(lookupFrom(map[string]string{"PORT": "8080"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	srv, err := NewServer(WithConfig(config))
	if err != nil {
		t.Fatalf("error creating server: %v", err)
	}
	if srv.appServer.Addr != ":8080" {
		t.Errorf("expected listen address :8080, got %v", srv.appServer.Addr)
	}

	srv, err = NewServer()
	if err != nil {
		t.Fatalf("error creating server: %v", err)
	}
	if srv.appServer.Addr != ":5000" {
		t.Errorf("expected listen address :5000, got %v", srv.appServer.Addr)
	}
}

func TestServerOptionsRejectInvalidInput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		opt  ServerOptionFunc
	}{
		{"addr without port", WithAddr("localhost")},
		{"addr with bad port", WithAddr("127.0.0.1:http")},
		{"addr port out of range", WithAddr(":70000")},
		{"health addr without port", WithHealthAddr("localhost")},
		{"zero rate limit", WithRateLimit(0, 1)},
		{"zero burst", WithRateLimit(1, 0)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewServer(tt.opt); err == nil {
				t.Errorf("expected an error")
			}
		})
	}
}

func TestWithTimeoutsKeepsUnsetValues(t *testing.T) {
	t.Parallel()
	srv, err := NewServer(WithTimeouts(time.Second, 0, 0))
	if err != nil {
		t.Fatalf("error creating server: %v", err)
	}
	if srv.appServer.ReadTimeout != time.Second {
		t.Errorf("expected ReadTimeout %v, got %v", time.Second, srv.appServer.ReadTimeout)
	}
	if srv.appServer.WriteTimeout != defaultWriteTimeout {
		t.Errorf("expected WriteTimeout %v, got %v", defaultWriteTimeout, srv.appServer.WriteTimeout)
	}
	if srv.Config().IdleTimeout != defaultIdleTimeout {
		t.Errorf("expected IdleTimeout %v, got %v", defaultIdleTimeout, srv.Config().IdleTimeout)
	}
}

func TestWithLoggerReplacesPackageLogger(t *testing.T) {
	prev := DefaultLogger()
	defer SetDefaultLogger(prev)

	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := NewServer(WithLogger(l)); err != nil {
		t.Fatalf("error creating server: %v", err)
	}
	if DefaultLogger() != l {
		t.Errorf("expected WithLogger to replace the package logger")
	}
	SetDefaultLogger(nil)
	if DefaultLogger() != slog.Default() {
		t.Errorf("expected a nil logger to restore slog.Default()")
	}
}
