package proxy

// The coxy proxy engine. One upstream serves one request at a time, so the
// engine's job per request is: reserve a seat via the selector, forward the
// request bit-for-bit, and stream the response back while watching for
// upstream silence. The Guard created at selection time is the only owner
// of the busy slot and the grade update; it is finished on every exit path
// via the deferred Finish below.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coxyhq/coxy/internal/adapter/registry"
	"github.com/coxyhq/coxy/internal/core/domain"
	"github.com/coxyhq/coxy/internal/core/ports"
	"github.com/coxyhq/coxy/internal/logger"
	"github.com/coxyhq/coxy/pkg/pool"
)

type Engine struct {
	selector      ports.UpstreamSelector
	registry      *registry.Registry
	collector     ports.StatsCollector
	transport     *http.Transport
	configuration *Configuration
	bufferPool    *pool.Pool[*streamBuffer]
	logger        logger.StyledLogger

	draining func() bool
	inflight sync.WaitGroup
}

type streamBuffer struct {
	data []byte
}

func NewEngine(
	selector ports.UpstreamSelector,
	reg *registry.Registry,
	collector ports.StatsCollector,
	configuration *Configuration,
	log logger.StyledLogger,
) *Engine {
	if configuration == nil {
		configuration = DefaultConfiguration()
	}
	bufferSize := configuration.StreamBufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultStreamBufferSize
	}

	// tcp tuning for token streaming: disable nagle so tokens leave as they
	// arrive instead of waiting to fill segments
	transport := &http.Transport{
		MaxIdleConns:        DefaultMaxIdleConns,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		DisableCompression:  DefaultDisableCompression,
		TLSHandshakeTimeout: DefaultTLSHandshakeTimeout,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{
				Timeout:   configuration.ConnectTimeout,
				KeepAlive: DefaultKeepAlive,
			}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				if terr := tcpConn.SetNoDelay(DefaultSetNoDelay); terr != nil {
					log.Warn("failed to set NoDelay", "err", terr)
				}
			}
			return conn, nil
		},
	}

	bufferPool, _ := pool.NewLitePool(func() *streamBuffer {
		return &streamBuffer{data: make([]byte, bufferSize)}
	})

	return &Engine{
		selector:      selector,
		registry:      reg,
		collector:     collector,
		transport:     transport,
		configuration: configuration,
		bufferPool:    bufferPool,
		logger:        log,
		draining:      func() bool { return false },
	}
}

// SetDrainSignal wires the shutdown coordinator's draining state into the
// engine so teardowns during drain classify as ShutdownInterrupted.
func (e *Engine) SetDrainSignal(draining func() bool) {
	if draining != nil {
		e.draining = draining
	}
}

// WaitForInflight blocks until every live guard has run its release
// protocol. The shutdown coordinator calls this after the listener closes.
func (e *Engine) WaitForInflight() {
	e.inflight.Wait()
}

// ProxyRequest proxies one client request through at most one upstream. It
// writes the client response itself (including the 502/503 it generates)
// and returns an error only for request logging.
func (e *Engine) ProxyRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, stats *ports.RequestStats, rlog logger.StyledLogger) (err error) {
	// a bug in the request path must never take the whole proxy down
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("proxy panic recovered after %.1fs: %v", time.Since(stats.StartTime).Seconds(), rec)
			rlog.Error("proxy request panic recovered",
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path)
			if w.Header().Get("Content-Type") == "" {
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}
	}()

	selectionStart := time.Now()
	selected, err := e.selector.Select(ctx)
	stats.SelectionMs = time.Since(selectionStart).Milliseconds()

	if err != nil {
		if errors.Is(err, domain.ErrNoUpstreamAvailable) {
			http.Error(w, "all backends are busy or unregistered, try again shortly", http.StatusServiceUnavailable)
			return domain.NewProxyError(stats.RequestID, "", "", r.Method, r.URL.Path, http.StatusServiceUnavailable,
				time.Since(stats.StartTime), 0, err)
		}
		http.Error(w, "failed to select a backend", http.StatusServiceUnavailable)
		return domain.NewProxyError(stats.RequestID, "", "", r.Method, r.URL.Path, http.StatusServiceUnavailable,
			time.Since(stats.StartTime), 0, err)
	}

	stats.UpstreamName = selected.Name
	if e.collector != nil {
		e.collector.RecordSelection(selected.Key)
	}

	// the guard owns the busy slot from here; the deferred Finish makes
	// release exactly-once on every path out of this function, panics
	// included. The streaming stage records observations into it.
	e.inflight.Add(1)
	guard := newGuard(e.registry, e.collector, rlog, selected.Key, selected.Name, e.inflight.Done)
	defer guard.Finish()

	targetURL, err := e.buildTargetURL(selected.Key, r)
	if err != nil {
		guard.MarkUpstreamError()
		rlog.Error("failed to resolve upstream URL", "error", err, "upstream", selected.Name)
		http.Error(w, "upstream failed before responding", http.StatusBadGateway)
		return domain.NewProxyError(stats.RequestID, selected.Name, selected.Key, r.Method, r.URL.Path, http.StatusBadGateway,
			time.Since(stats.StartTime), 0, err)
	}
	stats.TargetUrl = targetURL

	// tie the outbound leg to the client context so a client disconnect
	// propagates; the extra cancel lets the idle clock abort a wedged read
	upstreamCtx, upstreamCancel := context.WithCancel(ctx)
	defer upstreamCancel()

	proxyReq, err := http.NewRequestWithContext(upstreamCtx, r.Method, targetURL, r.Body)
	if err != nil {
		guard.MarkUpstreamError()
		http.Error(w, "upstream failed before responding", http.StatusBadGateway)
		return domain.NewProxyError(stats.RequestID, selected.Name, targetURL, r.Method, r.URL.Path, http.StatusBadGateway,
			time.Since(stats.StartTime), 0, err)
	}
	proxyReq.ContentLength = r.ContentLength
	copyRequestHeaders(proxyReq, r)

	rlog.InfoWithUpstream("dispatching to", selected.Name, "target", targetURL, "method", r.Method)

	backendStart := time.Now()
	resp, err := e.transport.RoundTrip(proxyReq)
	stats.BackendMs = time.Since(backendStart).Milliseconds()

	if err != nil {
		if ctx.Err() != nil {
			// the client went away while we were still dialling or waiting
			// for headers; that is not the upstream's fault
			if e.draining() {
				guard.MarkShutdownTeardown()
			}
			return domain.NewProxyError(stats.RequestID, selected.Name, targetURL, r.Method, r.URL.Path, 0,
				time.Since(stats.StartTime), 0, ctx.Err())
		}
		guard.MarkUpstreamError()
		http.Error(w, "upstream failed before responding", http.StatusBadGateway)
		return domain.NewProxyError(stats.RequestID, selected.Name, targetURL, r.Method, r.URL.Path, http.StatusBadGateway,
			time.Since(stats.StartTime), 0, err)
	}
	defer resp.Body.Close()

	copyResponseHeaders(w, resp)
	w.WriteHeader(resp.StatusCode)

	streamStart := time.Now()
	stats.FirstDataMs = streamStart.Sub(stats.StartTime).Milliseconds()

	streamErr := e.streamResponse(ctx, upstreamCancel, w, resp.Body, guard, rlog)

	stats.StreamingMs = time.Since(streamStart).Milliseconds()
	stats.TotalBytes = guard.BytesStreamed()
	stats.EndTime = time.Now()
	stats.Latency = stats.EndTime.Sub(stats.StartTime).Milliseconds()

	if streamErr != nil {
		return domain.NewProxyError(stats.RequestID, selected.Name, targetURL, r.Method, r.URL.Path, resp.StatusCode,
			time.Since(stats.StartTime), stats.TotalBytes, streamErr)
	}
	return nil
}

func (e *Engine) buildTargetURL(key string, r *http.Request) (string, error) {
	base, err := url.Parse(key)
	if err != nil {
		return "", fmt.Errorf("invalid upstream URL %q: %w", key, err)
	}
	target := base.ResolveReference(&url.URL{Path: r.URL.Path})
	if r.URL.RawQuery != "" {
		target.RawQuery = r.URL.RawQuery
	}
	return target.String(), nil
}

type readResult struct {
	err error
	n   int
}

// streamResponse copies upstream body bytes to the client as they arrive,
// flushing per chunk, while the idle-silence clock watches the gap between
// reads. Each read runs in its own goroutine racing the clock so a silent
// upstream cannot wedge the request forever. All observations land in the
// guard; classification happens at guard Finish.
func (e *Engine) streamResponse(clientCtx context.Context, abortUpstream context.CancelFunc, w http.ResponseWriter, body io.Reader, guard *Guard, rlog logger.StyledLogger) error {
	buf := e.bufferPool.Get()
	// a read abandoned by the timeout or disconnect paths may still write
	// into this buffer after we return; only recycle it when no read is
	// pending
	readPending := false
	defer func() {
		if !readPending {
			e.bufferPool.Put(buf)
		}
	}()

	flusher, canFlush := w.(http.Flusher)

	idleTimeout := e.configuration.IdleReadTimeout
	var idleTimer *time.Timer
	var idleFired <-chan time.Time
	if idleTimeout > 0 {
		idleTimer = time.NewTimer(idleTimeout)
		defer idleTimer.Stop()
		idleFired = idleTimer.C
	}

	readCh := make(chan readResult, 1)
	readCount := 0

	for {
		// each read gets its own goroutine; the buffered channel means a
		// late result after timeout cannot leak the goroutine once the
		// body is closed by the engine
		readPending = true
		go func() {
			n, err := body.Read(buf.data)
			readCh <- readResult{n: n, err: err}
		}()

		select {
		case <-clientCtx.Done():
			// the client hung up; we observed no upstream fault so the
			// grade must not move. During drain this is a shutdown tear.
			if e.draining() {
				guard.MarkShutdownTeardown()
			}
			rlog.Debug("client disconnected during streaming",
				"total_bytes", guard.BytesStreamed(),
				"read_count", readCount)
			return nil

		case <-idleFired:
			// silence past the idle window counts as an upstream failure;
			// before or after the first byte decides the outcome class
			guard.MarkUpstreamError()
			abortUpstream()
			rlog.Error("idle timeout exceeded between chunks",
				"timeout", idleTimeout,
				"total_bytes", guard.BytesStreamed(),
				"read_count", readCount)
			return fmt.Errorf("backend went silent for %.1fs mid-response", idleTimeout.Seconds())

		case result := <-readCh:
			readPending = false
			if result.n > 0 {
				guard.MarkFirstByte()
				guard.AddBytes(result.n)
				readCount++

				if idleTimer != nil {
					if !idleTimer.Stop() {
						<-idleTimer.C
					}
					idleTimer.Reset(idleTimeout)
				}

				if _, werr := w.Write(buf.data[:result.n]); werr != nil {
					// client-side write failure: the upstream is fine
					if e.draining() {
						guard.MarkShutdownTeardown()
					}
					rlog.Debug("failed to write to client, treating as disconnect", "error", werr)
					return nil
				}
				if canFlush {
					flusher.Flush()
				}
			}

			if result.err != nil {
				if errors.Is(result.err, io.EOF) {
					guard.MarkStreamEnd()
					rlog.Debug("stream ended normally",
						"total_bytes", guard.BytesStreamed(),
						"read_count", readCount)
					return nil
				}
				if clientCtx.Err() != nil {
					// read aborted because the client went away
					if e.draining() {
						guard.MarkShutdownTeardown()
					}
					return nil
				}
				guard.MarkUpstreamError()
				rlog.Error("stream read error",
					"error", result.err,
					"total_bytes", guard.BytesStreamed(),
					"read_count", readCount)
				return fmt.Errorf("backend failed mid-response: %w", result.err)
			}
		}
	}
}
