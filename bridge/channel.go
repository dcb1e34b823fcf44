package bridge

import (
	"context"
	"io"
)

// Channel is the host-facing byte stream of one bulk endpoint.
//
// Data moves in packets of PacketSize bytes. IsReady reports whether the
// current packet can be read from (OUT) or written to (IN); when it cannot,
// the bridge flushes it and waits for the next one. Aborted reports a host
// reset and is polled after every packet.
type Channel interface {
	io.ByteReader
	io.ByteWriter

	// PacketSize returns the endpoint's native transfer unit. It must
	// divide the sector size.
	PacketSize() int

	// IsReady reports whether the current packet has room or data.
	IsReady() bool

	// WaitUntilReady blocks until the next packet is available. It returns
	// an error if the host aborts, ctx is done, or the endpoint times out.
	WaitUntilReady(ctx context.Context) error

	// FlushInbound releases an exhausted OUT packet.
	FlushInbound()

	// FlushOutbound sends a filled IN packet.
	FlushOutbound()

	// Aborted reports whether the host aborted the current operation.
	Aborted() bool
}
