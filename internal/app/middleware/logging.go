package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coxyhq/coxy/internal/logger"
	"github.com/coxyhq/coxy/internal/util"
)

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
)

// IsInternalRequest reports whether a path targets coxy's own endpoints
// rather than the proxied surface.
func IsInternalRequest(path string) bool {
	return strings.HasPrefix(path, "/internal/")
}

// responseWriter wraps http.ResponseWriter to capture response size and status
type responseWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += int64(size)
	return size, err
}

func (rw *responseWriter) WriteHeader(s int) {
	rw.status = s
	rw.ResponseWriter.WriteHeader(s)
}

// Flush implements http.Flusher. Streaming responses stutter badly if the
// wrapper swallows flushes.
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// RequestLogging assigns each request a short ID and logs its start and
// completion. Internal endpoints only log at debug to keep the proxied
// traffic readable.
func RequestLogging(next http.Handler, log logger.StyledLogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := util.GenerateRequestID()

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		r = r.WithContext(ctx)

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		rlog := log.WithRequestID(requestID)
		internal := IsInternalRequest(r.URL.Path)
		if internal {
			rlog.Debug("request started", "method", r.Method, "path", r.URL.Path, "client_ip", util.GetClientIP(r))
		} else {
			rlog.Info("request started", "method", r.Method, "path", r.URL.Path, "client_ip", util.GetClientIP(r))
		}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		if internal {
			rlog.Debug("request completed", "status", rw.status, "bytes", rw.size, "duration_ms", duration.Milliseconds())
		} else {
			rlog.Info("request completed", "status", rw.status, "bytes", rw.size, "duration_ms", duration.Milliseconds())
		}
	})
}
