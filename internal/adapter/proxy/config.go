package proxy

import "time"

const (
	// a backend that does not accept TCP within a second on a LAN is
	// effectively off; failing fast lets the selector move on
	DefaultConnectTimeout = 1 * time.Second

	// gap allowed between two consecutive upstream body bytes; zero
	// disables the idle clock entirely
	DefaultIdleReadTimeout = 30 * time.Second

	DefaultStreamBufferSize = 8 * 1024

	DefaultSetNoDelay         = true
	DefaultDisableCompression = true
	DefaultKeepAlive          = 60 * time.Second

	DefaultMaxIdleConns        = 20
	DefaultMaxIdleConnsPerHost = 5
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
)

// Configuration holds the tunables for the outbound leg of the proxy.
type Configuration struct {
	ConnectTimeout   time.Duration
	IdleReadTimeout  time.Duration
	StreamBufferSize int
}

func DefaultConfiguration() *Configuration {
	return &Configuration{
		ConnectTimeout:   DefaultConnectTimeout,
		IdleReadTimeout:  DefaultIdleReadTimeout,
		StreamBufferSize: DefaultStreamBufferSize,
	}
}
