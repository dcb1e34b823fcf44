package sdcard

import (
	"fmt"
	"io"
	"math"

	"github.com/ardnew/sdmsc/pkg"
)

// commandArg converts a byte address into a command argument: a sector
// index for block-addressed cards, the byte offset otherwise.
func (d *Driver) commandArg(addr uint64) (uint32, error) {
	if d.cardType == TypeUnknown {
		return 0, pkg.ErrNotInitialized
	}
	if addr%SectorSize != 0 {
		return 0, fmt.Errorf("%w: byte address 0x%X is not sector aligned", pkg.ErrInvalidAddress, addr)
	}
	if d.cardType.IsBlockAddressed() {
		addr /= SectorSize
	}
	if addr > math.MaxUint32 {
		return 0, fmt.Errorf("%w: byte address 0x%X exceeds %s addressing", pkg.ErrInvalidAddress, addr, d.cardType)
	}
	return uint32(addr), nil
}

// ReadSector reads the sector at byte address addr into dst.
func (d *Driver) ReadSector(addr uint64, dst *Sector) error {
	arg, err := d.commandArg(addr)
	if err != nil {
		return err
	}
	defer d.release()

	if err := d.startRead(arg, uint32(addr/SectorSize)); err != nil {
		return err
	}

	if err := d.receive(dst[:]); err != nil {
		d.abandon()
		return err
	}
	d.offset = SectorSize

	if err := d.finishRead(dst[:]); err != nil {
		return err
	}

	pkg.LogDebug(pkg.ComponentCard, "sector read", "addr", addr)
	return nil
}

// WriteSector writes src to the sector at byte address addr.
func (d *Driver) WriteSector(addr uint64, src *Sector) error {
	arg, err := d.commandArg(addr)
	if err != nil {
		return err
	}
	defer d.release()

	status, err := d.command(CmdWriteBlock, arg)
	if err != nil {
		return err
	}
	if status != R1ReadyState {
		return statusError(CmdWriteBlock, status)
	}

	if _, err := d.bus.Transfer(TokenStartBlock); err != nil {
		return busError(err)
	}
	if err := d.bus.Tx(src[:], nil); err != nil {
		return busError(err)
	}

	d.crc[0], d.crc[1] = fillByte, fillByte
	if d.config.CRC {
		crc := CRC16(src[:])
		d.crc[0], d.crc[1] = byte(crc>>8), byte(crc)
	}
	if err := d.bus.Tx(d.crc[:], nil); err != nil {
		return busError(err)
	}

	resp, err := d.bus.Transfer(fillByte)
	if err != nil {
		return busError(err)
	}
	d.status = resp
	if resp&DataResponseMask != DataResponseOK {
		return &CommandError{Cmd: CmdWriteBlock, Status: resp, Err: pkg.ErrWriteRejected}
	}

	pkg.LogDebug(pkg.ComponentCard, "sector written", "addr", addr)
	return nil
}

// ReadData reads len(dst) bytes starting offset bytes into block.
//
// When the read stops short of the end of the sector the data phase stays
// open with select asserted, so a following ReadData on the same block at
// or past the current position continues without a new command. Any other
// operation first discards the rest of the sector and its CRC.
func (d *Driver) ReadData(block uint32, offset uint16, dst []byte) error {
	if int(offset)+len(dst) > SectorSize {
		return fmt.Errorf("%w: %d bytes at offset %d exceed the sector", pkg.ErrInvalidParameter, len(dst), offset)
	}
	if len(dst) == 0 {
		return nil
	}
	defer d.release()

	if d.state == StateIdle || d.block != block || offset < d.offset {
		arg, err := d.commandArg(uint64(block) * SectorSize)
		if err != nil {
			d.readEnd()
			return err
		}
		if err := d.startRead(arg, block); err != nil {
			return err
		}
	}

	if skip := int(offset) - int(d.offset); skip > 0 {
		if err := d.bus.Tx(d.fill[:skip], nil); err != nil {
			d.abandon()
			return busError(err)
		}
		d.offset = offset
	}

	if err := d.receive(dst); err != nil {
		d.abandon()
		return err
	}
	d.offset += uint16(len(dst))

	if d.offset < SectorSize {
		d.state = StatePartialSectorRead
		return nil
	}

	// The CRC covers the whole sector, so a partial capture is not checked
	if err := d.bus.Tx(d.fill[:crcSize], nil); err != nil {
		d.abandon()
		return busError(err)
	}
	d.state = StateIdle
	d.offset = 0
	return nil
}

// DumpSector writes a hex listing of one sector to w, 32 bytes per line.
func (d *Driver) DumpSector(w io.Writer, addr uint64) error {
	var sector Sector
	if err := d.ReadSector(addr, &sector); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "Block: %d\n", addr/SectorSize); err != nil {
		return err
	}
	for i := 0; i < SectorSize; i += 32 {
		line := sector[i : i+32]
		for j, b := range line {
			sep := " "
			if j == len(line)-1 {
				sep = "\n"
			}
			if _, err := fmt.Fprintf(w, "%02X%s", b, sep); err != nil {
				return err
			}
		}
	}
	return nil
}

// startRead issues CMD17 and waits for the start token. On success the
// data phase is open at offset 0.
func (d *Driver) startRead(arg, block uint32) error {
	status, err := d.command(CmdReadSingleBlock, arg)
	if err != nil {
		return err
	}
	if status != R1ReadyState {
		return statusError(CmdReadSingleBlock, status)
	}
	if err := d.waitStartBlock(CmdReadSingleBlock); err != nil {
		return err
	}
	d.state = StateInSector
	d.offset = 0
	d.block = block
	return nil
}

// finishRead consumes the CRC trailer of a fully received block and
// closes the data phase.
func (d *Driver) finishRead(data []byte) error {
	if err := d.receive(d.crc[:]); err != nil {
		d.abandon()
		return err
	}
	d.state = StateIdle
	d.offset = 0

	if d.config.CRC {
		want := CRC16(data)
		got := uint16(d.crc[0])<<8 | uint16(d.crc[1])
		if got != want {
			return fmt.Errorf("%w: data CRC 0x%04X, computed 0x%04X", pkg.ErrReadCorrupt, got, want)
		}
	}
	return nil
}

// abandon drops an open data phase after a bus failure. The caller's
// deferred release ends the transaction.
func (d *Driver) abandon() {
	d.state = StateIdle
	d.offset = 0
}
