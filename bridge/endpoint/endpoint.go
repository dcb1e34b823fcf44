package endpoint

import (
	"context"
	"fmt"

	"github.com/ardnew/sdmsc/pkg"
)

// MaxPacketSize is the largest supported packet, one sector.
const MaxPacketSize = 512

func newConfig(opts []Option) (Config, error) {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.PacketSize <= 0 || config.PacketSize > MaxPacketSize {
		return config, fmt.Errorf("%w: packet size %d", pkg.ErrInvalidParameter, config.PacketSize)
	}
	return config, nil
}

// Out is a bulk OUT endpoint carrying data from the host to the device.
//
// The host side calls Send from any goroutine. The device side (ReadByte,
// IsReady, WaitUntilReady, FlushInbound) belongs to a single goroutine,
// the one running the block bridge.
type Out struct {
	config Config
	q      *queue

	// Device side
	packet []byte
	pos    int
	taken  int
}

// NewOut creates an OUT endpoint.
func NewOut(opts ...Option) (*Out, error) {
	config, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	return &Out{
		config: config,
		q:      newQueue(config.Depth),
	}, nil
}

// Send splits data into packets and queues them for the device, waiting
// while the queue is full.
func (e *Out) Send(ctx context.Context, data []byte) error {
	for len(data) > 0 {
		n := min(len(data), e.config.PacketSize)
		packet := append([]byte(nil), data[:n]...)

		err := e.q.wait(ctx, 0, func() bool {
			if e.q.full() {
				return false
			}
			e.q.push(packet)
			return true
		})
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// PacketSize returns the maximum packet size.
func (e *Out) PacketSize() int {
	return e.config.PacketSize
}

// IsReady reports whether the current packet has unread bytes.
func (e *Out) IsReady() bool {
	return e.pos < len(e.packet)
}

// WaitUntilReady waits for the next packet from the host.
func (e *Out) WaitUntilReady(ctx context.Context) error {
	if e.IsReady() {
		return nil
	}
	err := e.q.wait(ctx, e.config.Timeout, func() bool {
		if len(e.q.packets) == 0 {
			return false
		}
		e.packet = e.q.pop()
		e.pos = 0
		return true
	})
	if err != nil {
		pkg.LogDebug(pkg.ComponentChannel, "out endpoint wait ended", "error", err)
		return err
	}
	e.taken++
	return nil
}

// ReadByte reads the next byte of the current packet.
func (e *Out) ReadByte() (byte, error) {
	if !e.IsReady() {
		return 0, pkg.ErrNotReady
	}
	b := e.packet[e.pos]
	e.pos++
	return b, nil
}

// WriteByte is not supported on an OUT endpoint.
func (e *Out) WriteByte(byte) error {
	return pkg.ErrNotSupported
}

// FlushInbound releases the current packet.
func (e *Out) FlushInbound() {
	e.packet = nil
	e.pos = 0
}

// FlushOutbound does nothing on an OUT endpoint.
func (e *Out) FlushOutbound() {}

// Aborted reports whether the host aborted the transfer.
func (e *Out) Aborted() bool {
	return e.q.isAborted()
}

// Abort signals a host reset, waking any waiter on either side.
func (e *Out) Abort() {
	pkg.LogDebug(pkg.ComponentChannel, "out endpoint aborted")
	e.q.abort()
}

// Reset clears the abort flag and discards queued packets.
func (e *Out) Reset() {
	e.q.reset()
	e.FlushInbound()
}

// Pending returns the number of packets queued but not yet taken by the
// device.
func (e *Out) Pending() int {
	return e.q.len()
}

// Taken returns the number of packets the device has taken.
func (e *Out) Taken() int {
	return e.taken
}

// In is a bulk IN endpoint carrying data from the device to the host.
//
// The host side calls Receive or Drain from any goroutine. The device side
// (WriteByte, IsReady, WaitUntilReady, FlushOutbound) belongs to a single
// goroutine.
type In struct {
	config Config
	q      *queue

	// Device side
	buf []byte
	n   int
}

// NewIn creates an IN endpoint.
func NewIn(opts ...Option) (*In, error) {
	config, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	return &In{
		config: config,
		q:      newQueue(config.Depth),
		buf:    make([]byte, config.PacketSize),
	}, nil
}

// Receive waits for the next packet from the device.
func (e *In) Receive(ctx context.Context) ([]byte, error) {
	var packet []byte
	err := e.q.wait(ctx, 0, func() bool {
		if len(e.q.packets) == 0 {
			return false
		}
		packet = e.q.pop()
		return true
	})
	return packet, err
}

// Drain removes and returns every queued packet without waiting.
func (e *In) Drain() [][]byte {
	e.q.mutex.Lock()
	defer e.q.mutex.Unlock()
	packets := e.q.packets
	e.q.packets = nil
	e.q.notify()
	return packets
}

// PacketSize returns the maximum packet size.
func (e *In) PacketSize() int {
	return e.config.PacketSize
}

// IsReady reports whether the packet being filled has room and the host
// queue can take it.
func (e *In) IsReady() bool {
	if e.n >= len(e.buf) {
		return false
	}
	e.q.mutex.Lock()
	defer e.q.mutex.Unlock()
	return !e.q.full()
}

// WaitUntilReady waits until the host has taken enough packets for the
// queue to accept another.
func (e *In) WaitUntilReady(ctx context.Context) error {
	err := e.q.wait(ctx, e.config.Timeout, func() bool { return !e.q.full() })
	if err != nil {
		pkg.LogDebug(pkg.ComponentChannel, "in endpoint wait ended", "error", err)
	}
	return err
}

// WriteByte appends a byte to the packet being filled.
func (e *In) WriteByte(b byte) error {
	if e.n >= len(e.buf) {
		return pkg.ErrNotReady
	}
	e.buf[e.n] = b
	e.n++
	return nil
}

// ReadByte is not supported on an IN endpoint.
func (e *In) ReadByte() (byte, error) {
	return 0, pkg.ErrNotSupported
}

// FlushInbound does nothing on an IN endpoint.
func (e *In) FlushInbound() {}

// FlushOutbound hands the packet being filled to the host. Empty packets
// are not sent.
func (e *In) FlushOutbound() {
	if e.n == 0 {
		return
	}
	packet := append([]byte(nil), e.buf[:e.n]...)
	e.n = 0

	e.q.mutex.Lock()
	defer e.q.mutex.Unlock()
	e.q.push(packet)
}

// Aborted reports whether the host aborted the transfer.
func (e *In) Aborted() bool {
	return e.q.isAborted()
}

// Abort signals a host reset, waking any waiter on either side.
func (e *In) Abort() {
	pkg.LogDebug(pkg.ComponentChannel, "in endpoint aborted")
	e.q.abort()
}

// Reset clears the abort flag, the packet being filled and queued packets.
func (e *In) Reset() {
	e.q.reset()
	e.n = 0
}
