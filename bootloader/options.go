package bootloader

import (
	"time"

	"github.com/daphtdazz/pybricks-code/logging"
	"github.com/daphtdazz/pybricks-code/protocol"
)

// Config holds the flash session configuration.
type Config struct {
	// Logger receives structured session logs (optional)
	Logger logging.Logger

	// Handlers receive session events in registration order (optional)
	Handlers []EventHandler

	// CommandTimeout bounds the wait for any single command response
	CommandTimeout time.Duration

	// EraseTimeout bounds the wait for the erase acknowledgement, which
	// takes far longer than any other command on large flash parts
	EraseTimeout time.Duration

	// VerifyTimeout bounds the wait for the checksum response
	VerifyTimeout time.Duration

	// ConnectAttempts is how many times to try opening the transport
	ConnectAttempts int

	// ChunkRetries is how many attempts each chunk gets before the
	// session fails with a TransferError
	ChunkRetries int

	// ChunkSize caps the chunk payload size. Zero means use the size
	// negotiated from the transport MTU and the hub's reported maximum.
	ChunkSize int
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Logger:          logging.Nop(),
		CommandTimeout:  5 * time.Second,
		EraseTimeout:    30 * time.Second,
		VerifyTimeout:   10 * time.Second,
		ConnectAttempts: 3,
		ChunkRetries:    3,
	}
}

// Option is a functional option for configuring a Session or Client.
type Option func(*Config)

// WithLogger sets the logger for session and client operations.
//
// Example:
//
//	session := bootloader.NewSession(coord, t, pkg,
//	    bootloader.WithLogger(log.WithName("flash")),
//	)
func WithLogger(logger logging.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithEventHandler appends a handler for session events. Multiple
// handlers are allowed and run in registration order.
func WithEventHandler(handler EventHandler) Option {
	return func(c *Config) {
		if handler != nil {
			c.Handlers = append(c.Handlers, handler)
		}
	}
}

// WithProgressFunc subscribes to just the completion ratio. It is
// shorthand for an event handler that ignores everything but progress.
//
// Example:
//
//	session := bootloader.NewSession(coord, t, pkg,
//	    bootloader.WithProgressFunc(func(ratio float64) {
//	        fmt.Printf("\r%3.0f%%", ratio*100)
//	    }),
//	)
func WithProgressFunc(fn func(ratio float64)) Option {
	if fn == nil {
		return func(*Config) {}
	}
	return WithEventHandler(func(e Event) {
		if e.Kind == EventProgress {
			fn(e.Progress)
		}
	})
}

// WithCommandTimeout sets the per-command response timeout.
func WithCommandTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.CommandTimeout = timeout
		}
	}
}

// WithEraseTimeout sets the erase acknowledgement timeout.
func WithEraseTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.EraseTimeout = timeout
		}
	}
}

// WithVerifyTimeout sets the checksum response timeout.
func WithVerifyTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.VerifyTimeout = timeout
		}
	}
}

// WithConnectAttempts sets how many times the session tries to open the
// transport before failing with a ConnectionError.
func WithConnectAttempts(attempts int) Option {
	return func(c *Config) {
		if attempts >= 1 {
			c.ConnectAttempts = attempts
		}
	}
}

// WithChunkRetries sets how many attempts each chunk gets.
func WithChunkRetries(retries int) Option {
	return func(c *Config) {
		if retries >= 1 {
			c.ChunkRetries = retries
		}
	}
}

// WithChunkSize caps the chunk payload size. The effective size never
// exceeds what the transport MTU and the hub allow; this only lowers it.
//
// Example:
//
//	session := bootloader.NewSession(coord, t, pkg, bootloader.WithChunkSize(14))
func WithChunkSize(size int) Option {
	return func(c *Config) {
		if size > 0 && size <= protocol.MaxChunkDataSize {
			c.ChunkSize = size
		}
	}
}
