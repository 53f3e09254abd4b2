package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coxyhq/coxy/internal/config"
	"github.com/coxyhq/coxy/internal/logger"
)

func startApp(t *testing.T, upstreamURL string) *App {
	t.Helper()

	cfg := &config.Config{
		Bind:           "127.0.0.1:0",
		TimeoutSeconds: 0,
		Upstreams:      []config.UpstreamConfig{{URL: upstreamURL, Name: "u1"}},
	}

	application, err := New(time.Now(), cfg, logger.NewDiscardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return application
}

// Scenario: one in-flight streaming client, then shutdown. The listener
// must refuse new connections immediately while the live stream runs to
// its natural end; only then does Stop return.
func TestGracefulShutdownDrainsInflightStream(t *testing.T) {
	firstChunkSent := make(chan struct{})
	finishBackend := make(chan struct{})

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "begin|")
		flusher.Flush()
		close(firstChunkSent)
		select {
		case <-finishBackend:
		case <-r.Context().Done():
			return
		}
		fmt.Fprint(w, "end")
	}))
	defer backend.Close()

	application := startApp(t, backend.URL)
	addr := application.Addr()

	type result struct {
		body string
		err  error
	}
	clientDone := make(chan result, 1)
	go func() {
		resp, err := http.Get("http://" + addr + "/api/generate")
		if err != nil {
			clientDone <- result{err: err}
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		clientDone <- result{body: string(body), err: err}
	}()

	select {
	case <-firstChunkSent:
	case <-time.After(5 * time.Second):
		t.Fatal("stream never started")
	}

	stopDone := make(chan error, 1)
	go func() {
		stopDone <- application.Stop(context.Background())
	}()

	// new connections must be refused at the TCP layer once draining
	refusedDeadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err != nil {
			break
		}
		_ = conn.Close()
		if time.Now().After(refusedDeadline) {
			t.Fatal("listener still accepting connections during drain")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// the in-flight stream is still running, so Stop must not have returned
	select {
	case err := <-stopDone:
		t.Fatalf("Stop returned before the in-flight stream finished: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(finishBackend)

	select {
	case res := <-clientDone:
		if res.err != nil {
			t.Fatalf("client stream failed: %v", res.err)
		}
		if res.body != "begin|end" {
			t.Errorf("stream truncated: %q", res.body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("client never finished")
	}

	select {
	case err := <-stopDone:
		if err != nil {
			t.Errorf("Stop returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop never returned after drain")
	}
}

func TestStartFailsOnUnbindableAddress(t *testing.T) {
	// grab a port so the app cannot
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	cfg := &config.Config{
		Bind:           ln.Addr().String(),
		TimeoutSeconds: 0,
		Upstreams:      []config.UpstreamConfig{{URL: "http://127.0.0.1:11434", Name: "u1"}},
	}

	application, err := New(time.Now(), cfg, logger.NewDiscardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := application.Start(context.Background()); err == nil {
		_ = application.Stop(context.Background())
		t.Fatal("expected bind failure")
	}
}

func TestNewRejectsDuplicateUpstreams(t *testing.T) {
	cfg := &config.Config{
		Bind:           "127.0.0.1:0",
		TimeoutSeconds: 30,
		Upstreams: []config.UpstreamConfig{
			{URL: "http://127.0.0.1:11434", Name: "a"},
			{URL: "http://127.0.0.1:11434", Name: "b"},
		},
	}
	if _, err := New(time.Now(), cfg, logger.NewDiscardLogger()); err == nil {
		t.Fatal("expected duplicate upstream rejection")
	}
}

func TestProxiesEndToEndThroughApp(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "pong")
	}))
	defer backend.Close()

	application := startApp(t, backend.URL)
	defer func() { _ = application.Stop(context.Background()) }()

	resp, err := http.Get("http://" + application.Addr() + "/ping")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "pong" {
		t.Errorf("body %q", body)
	}
}
