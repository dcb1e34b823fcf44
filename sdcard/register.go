package sdcard

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/sdmsc/pkg"
)

// CSD layout constants.
const (
	csdMinLength    = 11         // bytes needed to decode capacity
	sdhcUnit        = 512 * 1024 // SDHC C_SIZE granularity
	sdhcSizeMask    = 0x3F       // C_SIZE bits 21:16 in byte 7
	cidProductStart = 3          // PNM offset
	cidProductEnd   = cidProductStart + 5
)

// ReadCapacity reads the CSD register and returns the card capacity in
// bytes. It returns 0 with an error if the register cannot be read.
func (d *Driver) ReadCapacity() (uint64, error) {
	csd, err := d.ReadCSD()
	if err != nil {
		return 0, err
	}

	capacity := CapacityFromCSD(d.cardType, csd[:])
	pkg.LogDebug(pkg.ComponentCard, "capacity",
		"type", d.cardType.String(),
		"bytes", capacity)

	return capacity, nil
}

// ReadCSD returns the raw 16-byte Card Specific Data register.
func (d *Driver) ReadCSD() ([registerSize]byte, error) {
	var csd [registerSize]byte
	err := d.readRegister(CmdSendCSD, &csd)
	return csd, err
}

// ReadCID reads and decodes the Card Identification register.
func (d *Driver) ReadCID() (CID, error) {
	var raw [registerSize]byte
	if err := d.readRegister(CmdSendCID, &raw); err != nil {
		return CID{}, err
	}
	return ParseCID(raw[:])
}

// readRegister reads a 16-byte register sent as a data block.
func (d *Driver) readRegister(cmd uint8, dst *[registerSize]byte) error {
	if d.cardType == TypeUnknown {
		return pkg.ErrNotInitialized
	}
	defer d.release()

	status, err := d.command(cmd, 0)
	if err != nil {
		return err
	}
	if status != R1ReadyState {
		return statusError(cmd, status)
	}
	if err := d.waitStartBlock(cmd); err != nil {
		return err
	}

	if err := d.receive(dst[:]); err != nil {
		return err
	}
	if err := d.receive(d.crc[:]); err != nil {
		return err
	}

	if d.config.CRC {
		want := CRC16(dst[:])
		got := binary.BigEndian.Uint16(d.crc[:])
		if got != want {
			return &CommandError{Cmd: cmd, Status: d.crc[0], Err: pkg.ErrReadCorrupt}
		}
	}
	return nil
}

// CapacityFromCSD decodes the capacity in bytes from a CSD register. The
// layout is chosen by card type: SDHC cards use the version 2 layout,
// SD1 and SD2 cards the version 1 layout. It returns 0 if csd is too short.
func CapacityFromCSD(t CardType, csd []byte) uint64 {
	if len(csd) < csdMinLength {
		return 0
	}

	if t == TypeSDHC {
		size := uint64(csd[7]&sdhcSizeMask)<<16 | uint64(csd[8])<<8 | uint64(csd[9])
		return (size + 1) * sdhcUnit
	}

	readBlLen := csd[5] & 0x0F
	cSize := uint64(csd[6]&0x03)<<10 | uint64(csd[7])<<2 | uint64(csd[8]>>6)
	cSize++
	cSizeMult := (csd[9]&0x03)<<1 | csd[10]>>7
	return cSize << (cSizeMult + readBlLen + 2)
}

// CID is the decoded Card Identification register.
type CID struct {
	ManufacturerID uint8
	OEMID          string
	ProductName    string
	Revision       uint8 // BCD major.minor
	SerialNumber   uint32
	Year           int
	Month          int
}

// ParseCID decodes a 16-byte CID register.
func ParseCID(raw []byte) (CID, error) {
	if len(raw) < registerSize {
		return CID{}, fmt.Errorf("%w: CID needs %d bytes, got %d", pkg.ErrBufferTooSmall, registerSize, len(raw))
	}
	return CID{
		ManufacturerID: raw[0],
		OEMID:          string(raw[1:3]),
		ProductName:    string(raw[cidProductStart:cidProductEnd]),
		Revision:       raw[8],
		SerialNumber:   binary.BigEndian.Uint32(raw[9:13]),
		Year:           2000 + int(raw[13]&0x0F)<<4 + int(raw[14]>>4),
		Month:          int(raw[14] & 0x0F),
	}, nil
}

// RevisionString formats the product revision as "major.minor".
func (c CID) RevisionString() string {
	return fmt.Sprintf("%d.%d", c.Revision>>4, c.Revision&0x0F)
}
