package bridge

import (
	"context"
	"fmt"
	"math"

	"github.com/ardnew/sdmsc/pkg"
	"github.com/ardnew/sdmsc/sdcard"
)

// BlockSize is the size of one logical block, equal to one card sector.
const BlockSize = sdcard.SectorSize

// Bridge serves logical block reads and writes from an SD card, streaming
// each sector between the card and a host channel.
//
// A Bridge owns the card driver and the sector buffer. It is not safe for
// concurrent use; one block operation must complete or abort before the
// next starts.
type Bridge struct {
	bus      sdcard.Bus
	cardOpts []sdcard.Option
	card     *sdcard.Driver
	sector   sdcard.Sector
	blocks   uint32
	luns     uint32
	ready    bool
}

// New creates a bridge for the card on bus. Call Init before any block
// operation.
func New(bus sdcard.Bus, opts ...Option) *Bridge {
	b := &Bridge{
		bus:  bus,
		luns: 1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Init releases the previous card session, creates a fresh card driver,
// initializes the card and caches its block count. It fails if the card does not initialize or reports no
// capacity.
func (b *Bridge) Init(ctx context.Context) error {
	b.ready = false
	b.blocks = 0
	if b.card != nil {
		if err := b.card.Release(); err != nil {
			pkg.LogDebug(pkg.ComponentBridge, "previous card session not released", "error", err)
		}
	}
	b.card = sdcard.New(b.bus, b.cardOpts...)

	if err := b.card.Init(ctx); err != nil {
		return err
	}

	capacity, err := b.card.ReadCapacity()
	if err != nil {
		pkg.LogWarn(pkg.ComponentBridge, "capacity read failed", "error", err)
		return err
	}

	blocks := capacity / BlockSize
	if blocks == 0 {
		return fmt.Errorf("%w: card reports %d bytes", pkg.ErrNoMedium, capacity)
	}
	b.blocks = uint32(min(blocks, math.MaxUint32))
	b.ready = true

	pkg.LogInfo(pkg.ComponentBridge, "medium ready",
		"type", b.card.Type().String(),
		"blocks", b.blocks)

	return nil
}

// IsOperational reports whether the card is usable. It is true after a
// successful Init and false after any sector failure until Init runs
// again. Host aborts do not clear it.
func (b *Bridge) IsOperational() bool {
	return b.ready
}

// BlockCount returns the cached number of logical blocks.
func (b *Bridge) BlockCount() uint32 {
	return b.blocks
}

// LUNBlockCount returns the number of blocks exposed by each logical unit.
func (b *Bridge) LUNBlockCount() uint32 {
	return b.blocks / b.luns
}

// LUNs returns the number of logical units.
func (b *Bridge) LUNs() uint32 {
	return b.luns
}

// BlockSize returns the logical block size in bytes.
func (b *Bridge) BlockSize() uint32 {
	return BlockSize
}

// Card returns the card driver, or nil before Init.
func (b *Bridge) Card() *sdcard.Driver {
	return b.card
}

// WriteBlocks writes count blocks starting at start, pulling each sector
// from ch. A host abort or ctx cancellation stops the operation before the
// sector being received is written. The first failed sector write stops
// the operation and leaves the remaining blocks unwritten.
func (b *Bridge) WriteBlocks(ctx context.Context, ch Channel, start uint32, count uint16) error {
	if err := b.check(ch, start, count); err != nil {
		return err
	}

	pkg.LogDebug(pkg.ComponentBridge, "write blocks", "start", start, "count", count)

	err := b.writeBlocks(ctx, ch, start, count)
	b.finish(ctx, ch, OpWrite, err)
	if !ch.IsReady() && !ch.Aborted() && ctx.Err() == nil {
		ch.FlushInbound()
	}
	return err
}

func (b *Bridge) writeBlocks(ctx context.Context, ch Channel, block uint32, count uint16) error {
	size := ch.PacketSize()

	for ; count > 0; count-- {
		for offset := 0; offset < BlockSize; offset += size {
			if !ch.IsReady() {
				ch.FlushInbound()
				if err := ch.WaitUntilReady(ctx); err != nil {
					return &BlockError{Op: OpWrite, Block: block, Err: err}
				}
			}

			for i := offset; i < offset+size; i++ {
				c, err := ch.ReadByte()
				if err != nil {
					return &BlockError{Op: OpWrite, Block: block, Err: err}
				}
				b.sector[i] = c
			}

			if err := interrupted(ctx, ch); err != nil {
				return &BlockError{Op: OpWrite, Block: block, Err: err}
			}
		}

		if err := b.card.WriteSector(uint64(block)*BlockSize, &b.sector); err != nil {
			b.ready = false
			return &BlockError{Op: OpWrite, Block: block, Err: err}
		}
		block++
	}
	return nil
}

// ReadBlocks reads count blocks starting at start and pushes each sector
// to ch. The first failed sector read stops the operation before any of
// that sector's data is sent.
func (b *Bridge) ReadBlocks(ctx context.Context, ch Channel, start uint32, count uint16) error {
	if err := b.check(ch, start, count); err != nil {
		return err
	}

	pkg.LogDebug(pkg.ComponentBridge, "read blocks", "start", start, "count", count)

	err := b.readBlocks(ctx, ch, start, count)
	b.finish(ctx, ch, OpRead, err)
	if !ch.IsReady() && !ch.Aborted() && ctx.Err() == nil {
		ch.FlushOutbound()
	}
	return err
}

func (b *Bridge) readBlocks(ctx context.Context, ch Channel, block uint32, count uint16) error {
	size := ch.PacketSize()

	for ; count > 0; count-- {
		if err := b.card.ReadSector(uint64(block)*BlockSize, &b.sector); err != nil {
			b.ready = false
			return &BlockError{Op: OpRead, Block: block, Err: err}
		}

		for offset := 0; offset < BlockSize; offset += size {
			if !ch.IsReady() {
				ch.FlushOutbound()
				if err := ch.WaitUntilReady(ctx); err != nil {
					return &BlockError{Op: OpRead, Block: block, Err: err}
				}
			}

			for _, c := range b.sector[offset : offset+size] {
				if err := ch.WriteByte(c); err != nil {
					return &BlockError{Op: OpRead, Block: block, Err: err}
				}
			}

			if err := interrupted(ctx, ch); err != nil {
				return &BlockError{Op: OpRead, Block: block, Err: err}
			}
		}
		block++
	}
	return nil
}

// check validates a block-range request before any transfer starts.
func (b *Bridge) check(ch Channel, start uint32, count uint16) error {
	if !b.ready {
		return pkg.ErrNotInitialized
	}
	size := ch.PacketSize()
	if size <= 0 || BlockSize%size != 0 {
		return fmt.Errorf("%w: packet size %d does not divide %d", pkg.ErrInvalidParameter, size, BlockSize)
	}
	if uint64(start)+uint64(count) > uint64(b.blocks) {
		return fmt.Errorf("%w: blocks %d+%d beyond %d", pkg.ErrInvalidAddress, start, count, b.blocks)
	}
	return nil
}

// finish logs the outcome of a block operation.
func (b *Bridge) finish(ctx context.Context, ch Channel, op string, err error) {
	switch {
	case err == nil:
	case ch.Aborted() || ctx.Err() != nil:
		pkg.LogInfo(pkg.ComponentBridge, op+" aborted", "error", err)
	default:
		pkg.LogWarn(pkg.ComponentBridge, op+" failed",
			"error", err,
			"operational", b.ready)
	}
}

// interrupted reports a host abort or a done context.
func interrupted(ctx context.Context, ch Channel) error {
	if ch.Aborted() {
		return pkg.ErrAborted
	}
	return ctx.Err()
}
