package bridge

import (
	"fmt"
	"sync"

	"github.com/ardnew/sdmsc/pkg"
)

// Storage is the block-level backend contract of a mass-storage class
// driver.
type Storage interface {
	// BlockSize returns the size of a storage block in bytes.
	BlockSize() uint32

	// BlockCount returns the total number of blocks.
	BlockCount() uint64

	// Read reads blocks starting at lba into buf and returns the number
	// of blocks read.
	Read(lba uint64, blocks uint32, buf []byte) (uint32, error)

	// Write writes blocks from buf starting at lba and returns the number
	// of blocks written.
	Write(lba uint64, blocks uint32, buf []byte) (uint32, error)

	// Sync flushes any cached writes to storage.
	Sync() error

	// IsReadOnly reports whether writes are refused.
	IsReadOnly() bool

	// IsRemovable reports whether the medium can be removed.
	IsRemovable() bool

	// IsPresent reports whether the medium is present and usable.
	IsPresent() bool

	// Eject removes the medium from service.
	Eject() error
}

// Disk serves [Storage] from a Bridge, one sector at a time through the
// bridge's sector buffer. Unlike the Bridge, a Disk is safe for concurrent
// use; calls are serialized.
type Disk struct {
	bridge   *Bridge
	mutex    sync.Mutex
	readOnly bool
	ejected  bool
}

// NewDisk creates a Storage backed by b. The bridge must be initialized
// for the disk to report a present medium.
func NewDisk(b *Bridge) *Disk {
	return &Disk{bridge: b}
}

// BlockSize returns the logical block size.
func (d *Disk) BlockSize() uint32 {
	return BlockSize
}

// BlockCount returns the number of blocks of the first logical unit.
func (d *Disk) BlockCount() uint64 {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if !d.present() {
		return 0
	}
	return uint64(d.bridge.LUNBlockCount())
}

// Read reads blocks from the card.
func (d *Disk) Read(lba uint64, blocks uint32, buf []byte) (uint32, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.check(lba, blocks, buf); err != nil {
		return 0, err
	}

	b := d.bridge
	for i := uint32(0); i < blocks; i++ {
		addr := (lba + uint64(i)) * BlockSize
		if err := b.card.ReadSector(addr, &b.sector); err != nil {
			b.ready = false
			return i, &BlockError{Op: OpRead, Block: uint32(lba) + i, Err: err}
		}
		copy(buf[i*BlockSize:], b.sector[:])
	}
	return blocks, nil
}

// Write writes blocks to the card.
func (d *Disk) Write(lba uint64, blocks uint32, buf []byte) (uint32, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.check(lba, blocks, buf); err != nil {
		return 0, err
	}
	if d.readOnly {
		return 0, pkg.ErrReadOnly
	}

	b := d.bridge
	for i := uint32(0); i < blocks; i++ {
		copy(b.sector[:], buf[i*BlockSize:])
		addr := (lba + uint64(i)) * BlockSize
		if err := b.card.WriteSector(addr, &b.sector); err != nil {
			b.ready = false
			return i, &BlockError{Op: OpWrite, Block: uint32(lba) + i, Err: err}
		}
	}
	return blocks, nil
}

// Sync does nothing; every sector write completes on the card before
// Write returns.
func (d *Disk) Sync() error {
	return nil
}

// IsReadOnly reports whether writes are refused.
func (d *Disk) IsReadOnly() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.readOnly
}

// SetReadOnly sets the read-only flag.
func (d *Disk) SetReadOnly(readOnly bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.readOnly = readOnly
}

// IsRemovable returns true; SD cards are removable media.
func (d *Disk) IsRemovable() bool {
	return true
}

// IsPresent reports whether the card is initialized, operational and not
// ejected.
func (d *Disk) IsPresent() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.present()
}

// Eject takes the medium out of service until Load.
func (d *Disk) Eject() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.ejected = true
	pkg.LogInfo(pkg.ComponentBridge, "medium ejected")
	return nil
}

// Load returns an ejected medium to service.
func (d *Disk) Load() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.ejected = false
}

func (d *Disk) present() bool {
	return !d.ejected && d.bridge.IsOperational()
}

func (d *Disk) check(lba uint64, blocks uint32, buf []byte) error {
	if !d.present() {
		return pkg.ErrNoMedium
	}
	if lba+uint64(blocks) > uint64(d.bridge.LUNBlockCount()) {
		return fmt.Errorf("%w: blocks %d+%d beyond %d", pkg.ErrInvalidAddress, lba, blocks, d.bridge.LUNBlockCount())
	}
	if uint64(len(buf)) < uint64(blocks)*BlockSize {
		return pkg.ErrBufferTooSmall
	}
	return nil
}

var _ Storage = (*Disk)(nil)
