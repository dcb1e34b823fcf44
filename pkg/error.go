package pkg

import "errors"

// SD protocol errors. Each is detected locally with a single bounded wait
// and reported upward; none is retried.
var (
	// ErrInitTimeout indicates the card did not reach the idle or ready
	// state within the initialization timeout.
	ErrInitTimeout = errors.New("card initialization timeout")

	// ErrProtocolMismatch indicates an unexpected reply pattern or echo.
	ErrProtocolMismatch = errors.New("protocol mismatch")

	// ErrCommandTimeout indicates no command response arrived within the
	// response polling bound.
	ErrCommandTimeout = errors.New("command response timeout")

	// ErrReadTimeout indicates the data start token did not arrive in time.
	ErrReadTimeout = errors.New("read timeout")

	// ErrReadCorrupt indicates an invalid start token or a data CRC mismatch.
	ErrReadCorrupt = errors.New("read data corrupt")

	// ErrWriteRejected indicates the card did not accept a data block.
	ErrWriteRejected = errors.New("write rejected")
)

// Storage stack errors.
var (
	// ErrBus indicates the underlying bus failed a byte exchange.
	ErrBus = errors.New("bus error")

	// ErrNotInitialized indicates the medium has not been initialized or
	// became unusable after a failed operation.
	ErrNotInitialized = errors.New("medium not initialized")

	// ErrNoMedium indicates the card reported zero capacity.
	ErrNoMedium = errors.New("no usable medium")

	// ErrInvalidAddress indicates a misaligned or out-of-range address.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrAborted indicates the host aborted the transfer.
	ErrAborted = errors.New("transfer aborted")

	// ErrNotReady indicates the host channel did not become ready in time.
	ErrNotReady = errors.New("channel not ready")

	// ErrReadOnly indicates a write to read-only storage.
	ErrReadOnly = errors.New("storage is read-only")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")
)
