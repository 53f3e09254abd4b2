package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoUpstreamAvailable is returned by selection when every registered
// upstream is busy or nothing is registered.
var ErrNoUpstreamAvailable = errors.New("no available servers")

type ProxyError struct {
	Err        error
	RequestID  string
	Upstream   string
	TargetURL  string
	Method     string
	Path       string
	StatusCode int
	Latency    time.Duration
	BytesRead  int64
}

func (e *ProxyError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("proxy request failed [%s] %s %s -> %s: HTTP %d after %v (%d bytes): %v",
			e.RequestID, e.Method, e.Path, e.TargetURL, e.StatusCode, e.Latency, e.BytesRead, e.Err)
	}
	return fmt.Sprintf("proxy request failed [%s] %s %s -> %s: %v after %v (%d bytes)",
		e.RequestID, e.Method, e.Path, e.TargetURL, e.Err, e.Latency, e.BytesRead)
}

func (e *ProxyError) Unwrap() error {
	return e.Err
}

func NewProxyError(requestID, upstream, targetURL, method, path string, statusCode int, latency time.Duration, bytesRead int64, err error) *ProxyError {
	return &ProxyError{
		RequestID:  requestID,
		Upstream:   upstream,
		TargetURL:  targetURL,
		Method:     method,
		Path:       path,
		StatusCode: statusCode,
		Latency:    latency,
		BytesRead:  bytesRead,
		Err:        err,
	}
}

type ConfigValidationError struct {
	Value  interface{}
	Field  string
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s=%v: %s", e.Field, e.Value, e.Reason)
}

type ErrUpstreamNotFound struct {
	Key string
}

func (e *ErrUpstreamNotFound) Error() string {
	return fmt.Sprintf("upstream not found: %s", e.Key)
}
