package sdcard

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ardnew/sdmsc/pkg"
)

// Driver is a session with one SD card over SPI.
//
// A Driver is not safe for concurrent use. The block bridge owns the
// single instance and issues one operation at a time.
type Driver struct {
	bus    Bus
	config Config

	status   byte          // last R1, token or data response byte
	cardType CardType      // set by Init
	state    TransferState // read data phase tracking
	offset   uint16        // bytes consumed in the open data phase, CRC included
	block    uint32        // block of the open data phase
	selected bool          // bus transaction open

	frame [6]byte
	crc   [crcSize]byte
	fill  [SectorSize + crcSize]byte
}

// New creates a driver for the card on bus. Call Init before any other
// operation.
func New(bus Bus, opts ...Option) *Driver {
	d := &Driver{
		bus:    bus,
		config: defaultConfig(),
	}
	for _, opt := range opts {
		opt(&d.config)
	}
	for i := range d.fill {
		d.fill[i] = fillByte
	}
	return d
}

// Config returns the driver configuration.
func (d *Driver) Config() Config {
	return d.config
}

// Type returns the card type detected by Init.
func (d *Driver) Type() CardType {
	return d.cardType
}

// Status returns the last raw status byte received from the card.
func (d *Driver) Status() byte {
	return d.status
}

// State returns the read data phase state.
func (d *Driver) State() TransferState {
	return d.state
}

// Init runs the SPI mode power-up and initialization sequence and
// classifies the card. The select line is released on return, whether or
// not initialization succeeded.
func (d *Driver) Init(ctx context.Context) (err error) {
	if err := d.Release(); err != nil {
		pkg.LogDebug(pkg.ComponentCard, "open sector not drained before init", "error", err)
	}

	d.cardType = TypeUnknown
	d.state = StateIdle
	d.offset = 0
	d.status = fillByte
	start := time.Now()
	deadline := start.Add(d.config.InitTimeout)

	defer func() {
		d.deselect()
		if err != nil {
			d.cardType = TypeUnknown
			pkg.LogWarn(pkg.ComponentCard, "card initialization failed",
				"status", d.status,
				"error", err)
		}
	}()

	if err := d.powerUp(); err != nil {
		return err
	}

	if err := d.selectCard(); err != nil {
		return err
	}

	// Reset into SPI mode
	for {
		status, err := d.command(CmdGoIdleState, 0)
		if err != nil {
			return err
		}
		if status == R1IdleState {
			break
		}
		if err := d.checkInit(ctx, deadline, CmdGoIdleState); err != nil {
			return err
		}
	}

	// Version 1 cards reject SEND_IF_COND
	status, err := d.command(CmdSendIfCond, ifCondPattern)
	if err != nil {
		return err
	}
	if status&R1IllegalCommand != 0 {
		d.cardType = TypeSD1
	} else {
		var r7 [4]byte
		if err := d.receive(r7[:]); err != nil {
			return err
		}
		d.status = r7[3]
		if r7[3] != ifCondEcho {
			return &CommandError{Cmd: CmdSendIfCond, Status: r7[3], Err: pkg.ErrProtocolMismatch}
		}
		d.cardType = TypeSD2
	}

	var arg uint32
	if d.cardType == TypeSD2 {
		arg = hcsBit
	}
	for {
		status, err := d.appCommand(AcmdSendOpCond, arg)
		if err != nil {
			return err
		}
		if status == R1ReadyState {
			break
		}
		if err := d.checkInit(ctx, deadline, AcmdSendOpCond); err != nil {
			return err
		}
	}

	if d.config.CRC {
		status, err := d.command(CmdCRCOnOff, 1)
		if err != nil {
			return err
		}
		if status != R1ReadyState {
			return statusError(CmdCRCOnOff, status)
		}
	}

	if d.cardType == TypeSD2 {
		status, err := d.command(CmdReadOCR, 0)
		if err != nil {
			return err
		}
		if status != R1ReadyState {
			return statusError(CmdReadOCR, status)
		}
		var ocr [4]byte
		if err := d.receive(ocr[:]); err != nil {
			return err
		}
		if ocr[0]&ocrCCSMask == ocrCCSMask {
			d.cardType = TypeSDHC
		}
	}

	pkg.LogInfo(pkg.ComponentCard, "card initialized",
		"type", d.cardType.String(),
		"elapsed", time.Since(start))

	return nil
}

// Release drains a pending partial sector read and ends any bus
// transaction the driver holds. Call it before discarding a driver that
// may have been left mid-sector by ReadData.
func (d *Driver) Release() error {
	err := d.readEnd()
	d.deselect()
	return err
}

// powerUp clocks the card with select deasserted so it can enter its
// native operating mode.
func (d *Driver) powerUp() error {
	d.bus.Select(false)
	if err := d.bus.Begin(d.config.Settings); err != nil {
		return busError(err)
	}
	defer d.bus.End()

	if err := d.bus.Tx(d.fill[:powerUpBytes], nil); err != nil {
		return busError(err)
	}
	return nil
}

// checkInit reports whether an initialization loop must stop.
func (d *Driver) checkInit(ctx context.Context, deadline time.Time, cmd uint8) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if time.Now().After(deadline) {
		return &CommandError{Cmd: cmd, Status: d.status, Err: pkg.ErrInitTimeout}
	}
	return nil
}

// selectCard asserts select. The bus is configured only when a new
// transaction starts, so repeated calls while selected are cheap.
func (d *Driver) selectCard() error {
	if !d.selected {
		if err := d.bus.Begin(d.config.Settings); err != nil {
			return busError(err)
		}
		d.selected = true
	}
	d.bus.Select(true)
	return nil
}

// deselect releases select and ends the bus transaction.
func (d *Driver) deselect() {
	d.bus.Select(false)
	if d.selected {
		d.selected = false
		d.bus.End()
	}
}

// release ends the transaction unless a partial sector read holds it open.
func (d *Driver) release() {
	if d.state == StatePartialSectorRead {
		return
	}
	d.deselect()
}

// command sends one command frame and returns its R1 status. The returned
// error is non-nil only when the bus itself fails; callers interpret the
// status.
func (d *Driver) command(cmd uint8, arg uint32) (byte, error) {
	if err := d.readEnd(); err != nil {
		return fillByte, err
	}

	if err := d.selectCard(); err != nil {
		return fillByte, err
	}

	if err := d.waitNotBusy(d.config.BusyTimeout); err != nil {
		if !errors.Is(err, pkg.ErrCommandTimeout) {
			return fillByte, err
		}
		pkg.LogDebug(pkg.ComponentCard, "card busy before command", "cmd", cmd)
	}

	d.frame[0] = 0x40 | cmd
	binary.BigEndian.PutUint32(d.frame[1:5], arg)
	d.frame[5] = d.commandCRC(cmd)
	if err := d.bus.Tx(d.frame[:], nil); err != nil {
		return fillByte, busError(err)
	}

	for i := 0; ; i++ {
		b, err := d.bus.Transfer(fillByte)
		if err != nil {
			return fillByte, busError(err)
		}
		d.status = b
		if b&R1NoResponse == 0 || i == r1PollLimit {
			break
		}
	}

	pkg.LogDebug(pkg.ComponentCard, "command",
		"cmd", cmd,
		"arg", arg,
		"status", d.status)

	return d.status, nil
}

// appCommand sends CMD55 followed by cmd and returns the status of cmd.
func (d *Driver) appCommand(cmd uint8, arg uint32) (byte, error) {
	if _, err := d.command(CmdAppCmd, 0); err != nil {
		return fillByte, err
	}
	return d.command(cmd, arg)
}

func (d *Driver) commandCRC(cmd uint8) byte {
	if d.config.CRC {
		return CRC7(d.frame[:5])
	}
	switch cmd {
	case CmdGoIdleState:
		return crcCmd0
	case CmdSendIfCond:
		return crcCmd8
	}
	return crcDummy
}

// waitNotBusy polls until the card releases the data line.
func (d *Driver) waitNotBusy(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		b, err := d.bus.Transfer(fillByte)
		if err != nil {
			return busError(err)
		}
		if b == fillByte {
			return nil
		}
		if time.Now().After(deadline) {
			return pkg.ErrCommandTimeout
		}
	}
}

// waitStartBlock polls for the data start token that precedes a block.
func (d *Driver) waitStartBlock(cmd uint8) error {
	deadline := time.Now().Add(d.config.ReadTimeout)
	for {
		b, err := d.bus.Transfer(fillByte)
		if err != nil {
			return busError(err)
		}
		d.status = b
		if b != fillByte {
			break
		}
		if time.Now().After(deadline) {
			return &CommandError{Cmd: cmd, Status: b, Err: pkg.ErrReadTimeout}
		}
	}
	if d.status != TokenStartBlock {
		return &CommandError{Cmd: cmd, Status: d.status, Err: pkg.ErrReadCorrupt}
	}
	return nil
}

// readEnd drains the rest of an open data phase, CRC included, and ends
// the transaction.
func (d *Driver) readEnd() error {
	if d.state == StateIdle {
		return nil
	}

	remaining := SectorSize + crcSize - int(d.offset)
	d.state = StateIdle
	d.offset = 0
	defer d.deselect()

	if remaining > 0 {
		pkg.LogDebug(pkg.ComponentCard, "draining sector", "block", d.block, "bytes", remaining)
		if err := d.bus.Tx(d.fill[:remaining], nil); err != nil {
			return busError(err)
		}
	}
	return nil
}

// receive clocks len(dst) bytes out of the card.
func (d *Driver) receive(dst []byte) error {
	if err := d.bus.Tx(d.fill[:len(dst)], dst); err != nil {
		return busError(err)
	}
	return nil
}

func busError(err error) error {
	return fmt.Errorf("%w: %w", pkg.ErrBus, err)
}
