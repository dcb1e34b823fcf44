package sdcard

import "time"

// Config holds the driver configuration.
type Config struct {
	// Settings are applied to the bus at the start of every transaction.
	Settings Settings

	// InitTimeout bounds the whole initialization sequence, measured
	// from the start of Init.
	InitTimeout time.Duration

	// ReadTimeout bounds the wait for a data start token.
	ReadTimeout time.Duration

	// BusyTimeout bounds the wait for the card to release the bus before
	// a command is sent.
	BusyTimeout time.Duration

	// CRC enables CRC7 on every command and CRC16 on data blocks.
	CRC bool
}

func defaultConfig() Config {
	return Config{
		Settings: Settings{
			Frequency: DefaultFrequency,
			Mode:      DefaultMode,
		},
		InitTimeout: DefaultInitTimeout,
		ReadTimeout: DefaultReadTimeout,
		BusyTimeout: DefaultBusyTimeout,
	}
}

// Option is a functional option for configuring the Driver.
type Option func(*Config)

// WithSettings sets the bus clock and mode used for every transaction.
func WithSettings(s Settings) Option {
	return func(c *Config) {
		c.Settings = s
	}
}

// WithInitTimeout sets the bound on card initialization.
func WithInitTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.InitTimeout = timeout
		}
	}
}

// WithReadTimeout sets the bound on the data start token wait.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.ReadTimeout = timeout
		}
	}
}

// WithBusyTimeout sets the bound on the not-busy wait before a command.
func WithBusyTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.BusyTimeout = timeout
		}
	}
}

// WithCRC enables or disables CRC protection of commands and data.
//
// Example:
//
//	card := sdcard.New(bus, sdcard.WithCRC(true))
func WithCRC(enabled bool) Option {
	return func(c *Config) {
		c.CRC = enabled
	}
}
