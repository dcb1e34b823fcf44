package sdcard

import "time"

// SectorSize is the fixed size of one addressable unit of the medium.
const SectorSize = 512

// SD commands used in SPI mode.
const (
	CmdGoIdleState     = 0x00 // CMD0: reset card into SPI mode
	CmdSendIfCond      = 0x08 // CMD8: verify interface operating condition
	CmdSendCSD         = 0x09 // CMD9: read the Card Specific Data register
	CmdSendCID         = 0x0A // CMD10: read the Card Identification register
	CmdReadSingleBlock = 0x11 // CMD17: read one data block
	CmdWriteBlock      = 0x18 // CMD24: write one data block
	CmdAppCmd          = 0x37 // CMD55: next command is application specific
	CmdReadOCR         = 0x3A // CMD58: read the Operation Conditions Register
	CmdCRCOnOff        = 0x3B // CMD59: enable or disable CRC checking
	AcmdSendOpCond     = 0x29 // ACMD41: start initialization, report HCS
)

// R1 response bits.
const (
	R1ReadyState     = 0x00 // card is ready
	R1IdleState      = 0x01 // card is in the idle state
	R1IllegalCommand = 0x04 // command not supported
	R1CRCError       = 0x08 // command CRC check failed
	R1NoResponse     = 0x80 // set on every byte that is not an R1 response
)

// Data tokens.
const (
	TokenStartBlock   = 0xFE // start token for single block read or write
	DataResponseMask  = 0x1F // data response bits carrying the status
	DataResponseOK    = 0x05 // data accepted
	DataResponseCRC   = 0x0B // data rejected, CRC error
	DataResponseWrite = 0x0D // data rejected, write error
)

// Argument and CRC constants.
const (
	ifCondPattern = 0x1AA      // CMD8 argument: 2.7-3.6V, check pattern 0xAA
	ifCondEcho    = 0xAA       // expected last byte of the R7 reply
	hcsBit        = 0x40000000 // ACMD41 host capacity support
	ocrCCSMask    = 0xC0       // OCR power-up status and card capacity status
	crcCmd0       = 0x95       // CRC for CMD0 with argument 0
	crcCmd8       = 0x87       // CRC for CMD8 with argument 0x1AA
	crcDummy      = 0xFF
	fillByte      = 0xFF
)

// Framing limits.
const (
	powerUpBytes = 10   // 80 clocks with select deasserted, minimum is 74
	r1PollLimit  = 0xFF // response polls after the command frame
	registerSize = 16   // CSD and CID size in bytes
	crcSize      = 2    // trailing CRC16 after each data block
)

// Default timeouts.
const (
	DefaultInitTimeout = 2000 * time.Millisecond
	DefaultReadTimeout = 300 * time.Millisecond
	DefaultBusyTimeout = 300 * time.Millisecond
)

// Default bus settings.
const (
	DefaultFrequency = 4000000
	DefaultMode      = 0
)
