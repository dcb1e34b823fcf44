package endpoint

import "time"

// Default endpoint geometry.
const (
	DefaultPacketSize = 64
	DefaultDepth      = 2
)

// Config holds endpoint configuration.
type Config struct {
	// PacketSize is the endpoint's maximum packet size in bytes.
	PacketSize int

	// Depth is the number of packets that may be queued between the host
	// and the device.
	Depth int

	// Timeout bounds WaitUntilReady. Zero waits until ready or aborted.
	Timeout time.Duration
}

func defaultConfig() Config {
	return Config{
		PacketSize: DefaultPacketSize,
		Depth:      DefaultDepth,
	}
}

// Option is a functional option for configuring an endpoint.
type Option func(*Config)

// WithPacketSize sets the maximum packet size.
func WithPacketSize(size int) Option {
	return func(c *Config) {
		c.PacketSize = size
	}
}

// WithDepth sets the number of packets buffered between host and device.
func WithDepth(depth int) Option {
	return func(c *Config) {
		if depth > 0 {
			c.Depth = depth
		}
	}
}

// WithTimeout bounds each WaitUntilReady call.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}
