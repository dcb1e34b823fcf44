package cardsim

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/sdmsc/pkg"
	"github.com/ardnew/sdmsc/sdcard"
)

// CSD version 1 can describe at most 4096 units of up to 2048 sectors.
const (
	csdV1MaxSize  = 4096
	csdV1MinShift = 2
	csdV1MaxShift = 11
	csdV2Unit     = 1024 // sectors per C_SIZE step
	csdV2MaxSize  = 1 << 22
)

// Identity reported in the CID register.
const (
	cidManufacturer = 0x03
	cidOEM          = "SD"
	cidProduct      = "SIM01"
	cidRevision     = 0x10
	cidSerial       = 0xC0FFEE01
	cidYear         = 2024
	cidMonth        = 6
)

// buildCSDv1 encodes a version 1 CSD for a standard capacity card and
// returns the sector count it describes. The size is
// (C_SIZE+1) << (C_SIZE_MULT+2+READ_BL_LEN) bytes, so blocks is rounded
// down to the nearest unit the layout can express.
func buildCSDv1(csd *[16]byte, blocks uint32) (uint32, error) {
	for shift := csdV1MinShift; shift <= csdV1MaxShift; shift++ {
		mult := min(shift-csdV1MinShift, 7)
		readBlLen := 9 + shift - csdV1MinShift - mult
		units := blocks >> shift
		if units == 0 || units > csdV1MaxSize {
			continue
		}
		cSize := units - 1

		*csd = [16]byte{
			0x00,                             // CSD_STRUCTURE 1.0
			0x26,                             // TAAC
			0x00,                             // NSAC
			0x32,                             // TRAN_SPEED 25 MHz
			0x5B,                             // CCC
			0x50 | byte(readBlLen),           // CCC, READ_BL_LEN
			0x80 | byte(cSize>>10)&0x03,      // READ_BL_PARTIAL, C_SIZE
			byte(cSize >> 2),                 // C_SIZE
			byte(cSize&0x03)<<6 | 0x2D,       // C_SIZE, VDD_R_CURR
			0xB4 | byte(mult>>1)&0x03,        // VDD_W_CURR, C_SIZE_MULT
			byte(mult&0x01)<<7 | 0x40 | 0x3F, // C_SIZE_MULT, ERASE_BLK_EN
			0x80,                             // SECTOR_SIZE, WP_GRP_SIZE
			0x12,                             // R2W_FACTOR, WRITE_BL_LEN
			0x40,                             // WRITE_BL_LEN
			0x00,
		}
		csd[15] = sdcard.CRC7(csd[:15])
		return units << shift, nil
	}
	return 0, fmt.Errorf("%w: %d sectors cannot be described by a standard capacity CSD",
		pkg.ErrInvalidParameter, blocks)
}

// buildCSDv2 encodes a version 2 CSD for a high capacity card and returns
// the sector count it describes, a multiple of 512 KiB.
func buildCSDv2(csd *[16]byte, blocks uint32) (uint32, error) {
	units := blocks / csdV2Unit
	if units == 0 || units > csdV2MaxSize {
		return 0, fmt.Errorf("%w: %d sectors cannot be described by a high capacity CSD",
			pkg.ErrInvalidParameter, blocks)
	}
	cSize := units - 1

	*csd = [16]byte{
		0x40, // CSD_STRUCTURE 2.0
		0x0E, // TAAC
		0x00, // NSAC
		0x32, // TRAN_SPEED
		0x5B, // CCC
		0x59, // CCC, READ_BL_LEN 9
		0x00,
		byte(cSize>>16) & 0x3F,
		byte(cSize >> 8),
		byte(cSize),
		0x7F, // ERASE_BLK_EN, SECTOR_SIZE
		0x80,
		0x0A, // R2W_FACTOR, WRITE_BL_LEN
		0x40,
		0x00,
	}
	csd[15] = sdcard.CRC7(csd[:15])
	return units * csdV2Unit, nil
}

func buildCID(cid *[16]byte) {
	cid[0] = cidManufacturer
	copy(cid[1:3], cidOEM)
	copy(cid[3:8], cidProduct)
	cid[8] = cidRevision
	binary.BigEndian.PutUint32(cid[9:13], cidSerial)
	year := cidYear - 2000
	cid[13] = byte(year>>4) & 0x0F
	cid[14] = byte(year&0x0F)<<4 | cidMonth
	cid[15] = sdcard.CRC7(cid[:15])
}
