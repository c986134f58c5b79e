package mcp

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/a3tai/mcp-form-assistant/internal/config"
)

// freeAddr returns a loopback address with a port that was free a moment ago.
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func runAsync(ctx context.Context, server *Server) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- server.Run(ctx)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop within timeout")
		return nil
	}
}

// getWithRetry polls url until the listener is up.
func getWithRetry(t *testing.T, ctx context.Context, url string) *http.Response {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			t.Fatalf("bad request: %v", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			return resp
		}
		if time.Now().After(deadline) {
			t.Fatalf("GET %s: %v", url, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestServer_Run_StdioMode_EOF(t *testing.T) {
	server := newTestServer(t, testConfig(t), WithStdio(strings.NewReader(""), io.Discard))

	// Closed input ends the session.
	if err := waitDone(t, runAsync(context.Background(), server.Server)); err != nil {
		t.Logf("Run() returned %v after end of input", err)
	}
}

func TestServer_Run_StdioMode_Canceled(t *testing.T) {
	in, w := io.Pipe()
	defer w.Close()
	server := newTestServer(t, testConfig(t), WithStdio(in, io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, server.Server)

	time.Sleep(50 * time.Millisecond)
	cancel()

	if err := waitDone(t, done); err != nil {
		t.Errorf("Run() error = %v, want nil after cancellation", err)
	}
}

func TestServer_Run_StdioMode_Answers(t *testing.T) {
	in, w := io.Pipe()
	out := &syncBuffer{}
	server := newTestServer(t, testConfig(t), WithStdio(in, out))
	done := runAsync(context.Background(), server.Server)

	go func() {
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")
	}()

	deadline := time.Now().Add(3 * time.Second)
	for !strings.Contains(out.String(), `"id":1`) {
		if time.Now().After(deadline) {
			t.Fatalf("expected a ping response, got %q", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	w.Close()
	waitDone(t, done)
}

func TestServer_Run_ServerMode(t *testing.T) {
	addr := freeAddr(t)
	host, port, _ := net.SplitHostPort(addr)

	cfg := testConfig(t)
	cfg.Mode = config.ModeServer
	cfg.Host = host
	cfg.Port = mustAtoi(t, port)
	server := newTestServer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, server.Server)

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer reqCancel()
	resp := getWithRetry(t, reqCtx, "http://"+addr+"/sse")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /sse status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	// Shutdown must end the open event stream.
	cancel()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run() error = %v, want nil after cancellation", err)
	}
	resp.Body.Close()
}

func TestServer_Run_MetricsListener(t *testing.T) {
	in, w := io.Pipe()
	defer w.Close()

	cfg := testConfig(t)
	cfg.MetricsAddr = freeAddr(t)
	server := newTestServer(t, cfg, WithStdio(in, io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, server.Server)

	resp := getWithRetry(t, context.Background(), "http://"+cfg.MetricsAddr+"/metrics")
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("failed to read metrics: %v", err)
	}
	if !strings.Contains(string(body), "form_assist_manifests_built_total") {
		t.Errorf("metrics output missing form counters:\n%s", body)
	}

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run() error = %v, want nil after cancellation", err)
	}
}

func TestServer_Run_MetricsStopWithStdio(t *testing.T) {
	cfg := testConfig(t)
	cfg.MetricsAddr = freeAddr(t)
	server := newTestServer(t, cfg, WithStdio(strings.NewReader(""), io.Discard))

	// End of input stops the metrics listener as well.
	if err := waitDone(t, runAsync(context.Background(), server.Server)); err != nil {
		t.Logf("Run() returned %v after end of input", err)
	}
}

func TestServer_Run_ListenerError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer l.Close()
	host, port, _ := net.SplitHostPort(l.Addr().String())

	cfg := testConfig(t)
	cfg.Mode = config.ModeServer
	cfg.Host = host
	cfg.Port = mustAtoi(t, port)
	server := newTestServer(t, cfg)

	err = waitDone(t, runAsync(context.Background(), server.Server))
	if err == nil {
		t.Fatal("Run() expected error for an address in use")
	}
	if !strings.Contains(err.Error(), "mcp listener") {
		t.Errorf("Run() error = %v, want listener error", err)
	}
}

func TestServer_Run_MultipleShutdowns(t *testing.T) {
	server := newTestServer(t, testConfig(t), WithStdio(strings.NewReader(""), io.Discard))

	// Test multiple rapid shutdowns
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel() // Cancel immediately

		if err := waitDone(t, runAsync(ctx, server.Server)); err != nil && strings.Contains(err.Error(), "panic") {
			t.Errorf("Run() iteration %d should not panic, got error: %v", i, err)
		}
	}
}

type syncBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	if err != nil {
		t.Fatalf("bad port %q: %v", s, err)
	}
	return n
}
