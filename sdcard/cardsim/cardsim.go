package cardsim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/afero"

	"github.com/ardnew/sdmsc/pkg"
	"github.com/ardnew/sdmsc/sdcard"
)

// R1 bits only the card side produces.
const (
	r1AddressError = 0x20
	r1ParamError   = 0x40
)

// Data responses sent after a write block. The upper bits are don't-care
// and set the way most cards do.
const (
	dataAccepted    = 0xE5
	dataCRCError    = 0xEB
	dataWriteError  = 0xED
	defaultBusy     = 3
	hcsBit          = 0x40000000
	ocrPowerUp      = 0x80
	ocrCCS          = 0x40
	blockFrameBytes = sdcard.SectorSize + 2
)

type phase uint8

const (
	phaseCommand    phase = iota // collecting command frames
	phaseWriteToken              // CMD24 accepted, waiting for the start token
	phaseWriteData               // receiving a data block and its CRC
)

var (
	errNestedBegin = errors.New("bus transaction already open")
	errTxLength    = errors.New("tx buffers differ in length")
)

// Config describes the simulated card and its fault behavior.
type Config struct {
	// Type selects the protocol profile.
	Type sdcard.CardType

	// Blocks is the capacity in sectors. Zero uses the medium's size. The
	// reported capacity is rounded down to what the CSD layout can encode.
	Blocks uint32

	// ReadyAfter is the number of ACMD41 polls answered with idle before
	// the card reports ready. Negative means never.
	ReadyAfter int

	// NoResponse makes the card ignore CMD0, as if absent.
	NoResponse bool

	// BadEcho corrupts the CMD8 check pattern.
	BadEcho bool

	// RejectWrites answers every data block with a write error.
	RejectWrites bool

	// ReadToken replaces the start token of read data blocks when non-zero.
	ReadToken byte

	// StallReads withholds the start token of read data blocks.
	StallReads bool

	// TokenDelay is the number of idle bytes before a start token.
	TokenDelay int

	// BusyBytes is the number of busy bytes after a write. Zero uses a
	// small default.
	BusyBytes int
}

// Card is a simulated SD card in SPI mode. It implements [sdcard.Bus], so a
// driver can talk to it directly; data lives in an afero file.
type Card struct {
	config Config
	medium afero.File
	blocks uint32
	csd    [16]byte
	cid    [16]byte

	mutex sync.Mutex

	// Bus state
	selected bool
	inTx     bool
	begins   int
	settings sdcard.Settings

	// Protocol state
	frame   [6]byte
	frameN  int
	idle    bool
	appCmd  bool
	crcOn   bool
	opPolls int
	out     []byte
	busy    int

	// Write data phase
	phase     phase
	writeBlk  uint32
	writeBuf  [blockFrameBytes]byte
	writePos  int
	sectorBuf [sdcard.SectorSize]byte

	// Statistics
	written []uint32
	reads   int
}

// New creates a simulated card backed by medium.
func New(medium afero.File, config Config) (*Card, error) {
	if config.Type == sdcard.TypeUnknown {
		return nil, fmt.Errorf("%w: card type required", pkg.ErrInvalidParameter)
	}

	blocks := config.Blocks
	if blocks == 0 {
		info, err := medium.Stat()
		if err != nil {
			return nil, err
		}
		blocks = uint32(info.Size() / sdcard.SectorSize)
	}

	c := &Card{
		config: config,
		medium: medium,
		idle:   true,
		out:    make([]byte, 0, blockFrameBytes+16),
	}

	var err error
	if config.Type == sdcard.TypeSDHC {
		c.blocks, err = buildCSDv2(&c.csd, blocks)
	} else {
		c.blocks, err = buildCSDv1(&c.csd, blocks)
	}
	if err != nil {
		return nil, err
	}
	buildCID(&c.cid)

	pkg.LogDebug(pkg.ComponentSim, "card created",
		"type", config.Type.String(),
		"blocks", c.blocks)

	return c, nil
}

// Open opens an image file on fs as a simulated card.
func Open(fs afero.Fs, path string, config Config) (*Card, error) {
	f, err := fs.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	c, err := New(f, config)
	if err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

// CreateImage creates (or truncates) an image file of the given size.
func CreateImage(fs afero.Fs, path string, blocks uint32) error {
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := f.Truncate(int64(blocks) * sdcard.SectorSize); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Close closes the backing medium.
func (c *Card) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.medium.Close()
}

// Blocks returns the capacity in sectors the card reports.
func (c *Card) Blocks() uint32 {
	return c.blocks
}

// Type returns the simulated card type.
func (c *Card) Type() sdcard.CardType {
	return c.config.Type
}

// CSD returns the card's CSD register.
func (c *Card) CSD() [16]byte {
	return c.csd
}

// Begins returns the number of bus transactions started.
func (c *Card) Begins() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.begins
}

// Settings returns the settings of the most recent transaction.
func (c *Card) Settings() sdcard.Settings {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.settings
}

// Selected reports whether select is asserted.
func (c *Card) Selected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.selected
}

// InTransaction reports whether a bus transaction is open.
func (c *Card) InTransaction() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.inTx
}

// Written returns the blocks written so far, in order.
func (c *Card) Written() []uint32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]uint32(nil), c.written...)
}

// Reads returns the number of data blocks sent.
func (c *Card) Reads() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.reads
}

// Begin implements [sdcard.Bus].
func (c *Card) Begin(s sdcard.Settings) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.inTx {
		return errNestedBegin
	}
	c.inTx = true
	c.begins++
	c.settings = s
	return nil
}

// End implements [sdcard.Bus].
func (c *Card) End() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.inTx = false
}

// Select implements [sdcard.Bus].
func (c *Card) Select(asserted bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.selected && !asserted {
		c.frameN = 0
		if c.phase != phaseCommand {
			pkg.LogDebug(pkg.ComponentSim, "write dropped by deselect", "block", c.writeBlk)
			c.phase = phaseCommand
		}
	}
	c.selected = asserted
}

// Transfer implements [sdcard.Bus].
func (c *Card) Transfer(b byte) (byte, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.exchange(b), nil
}

// Tx implements [sdcard.Bus]. A nil w sends idle bytes.
func (c *Card) Tx(w, r []byte) error {
	if w != nil && r != nil && len(w) != len(r) {
		return errTxLength
	}
	n := len(w)
	if w == nil {
		n = len(r)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	for i := 0; i < n; i++ {
		in := byte(0xFF)
		if w != nil {
			in = w[i]
		}
		out := c.exchange(in)
		if r != nil {
			r[i] = out
		}
	}
	return nil
}

// exchange clocks one byte in each direction.
func (c *Card) exchange(in byte) byte {
	if !c.selected {
		return 0xFF
	}

	switch c.phase {
	case phaseWriteToken:
		out := c.next()
		if in == sdcard.TokenStartBlock {
			c.phase = phaseWriteData
			c.writePos = 0
		}
		return out

	case phaseWriteData:
		c.writeBuf[c.writePos] = in
		c.writePos++
		if c.writePos == len(c.writeBuf) {
			c.phase = phaseCommand
			c.commitWrite()
		}
		return 0xFF
	}

	if c.frameN > 0 {
		c.frame[c.frameN] = in
		c.frameN++
		if c.frameN == len(c.frame) {
			c.frameN = 0
			c.execute()
		}
		return 0xFF
	}

	// Start bit 0, transmission bit 1
	if in&0xC0 == 0x40 {
		c.out = c.out[:0]
		c.frame[0] = in
		c.frameN = 1
		return 0xFF
	}

	return c.next()
}

// next returns the next pending output byte.
func (c *Card) next() byte {
	if len(c.out) > 0 {
		b := c.out[0]
		c.out = c.out[1:]
		return b
	}
	if c.busy > 0 {
		c.busy--
		return 0x00
	}
	return 0xFF
}

// respond queues a response after one byte of command latency.
func (c *Card) respond(data ...byte) {
	c.out = append(c.out[:0], 0xFF)
	c.out = append(c.out, data...)
}

func (c *Card) r1() byte {
	if c.idle {
		return sdcard.R1IdleState
	}
	return sdcard.R1ReadyState
}

// execute runs a complete command frame.
func (c *Card) execute() {
	cmd := c.frame[0] & 0x3F
	arg := binary.BigEndian.Uint32(c.frame[1:5])
	app := c.appCmd
	c.appCmd = false

	// CMD0 and CMD8 are always CRC checked
	checked := c.crcOn || cmd == sdcard.CmdGoIdleState || cmd == sdcard.CmdSendIfCond
	if checked && sdcard.CRC7(c.frame[:5]) != c.frame[5] {
		if cmd == sdcard.CmdGoIdleState && c.config.NoResponse {
			return
		}
		c.respond(c.r1() | sdcard.R1CRCError)
		return
	}

	switch {
	case cmd == sdcard.CmdGoIdleState:
		if c.config.NoResponse {
			return
		}
		c.idle = true
		c.crcOn = false
		c.opPolls = 0
		c.respond(sdcard.R1IdleState)

	case cmd == sdcard.CmdSendIfCond:
		if c.config.Type == sdcard.TypeSD1 {
			c.respond(c.r1() | sdcard.R1IllegalCommand)
			return
		}
		echo := byte(arg)
		if c.config.BadEcho {
			echo = ^echo
		}
		c.respond(c.r1(), 0x00, 0x00, byte(arg>>8)&0x0F, echo)

	case cmd == sdcard.CmdAppCmd:
		c.appCmd = true
		c.respond(c.r1())

	case cmd == sdcard.AcmdSendOpCond && app:
		c.opPolls++
		ready := c.config.ReadyAfter >= 0 && c.opPolls > c.config.ReadyAfter
		if c.config.Type == sdcard.TypeSDHC && arg&hcsBit == 0 {
			ready = false
		}
		if ready {
			c.idle = false
		}
		c.respond(c.r1())

	case cmd == sdcard.CmdReadOCR:
		var ocr0 byte
		if !c.idle {
			ocr0 = ocrPowerUp
			if c.config.Type == sdcard.TypeSDHC {
				ocr0 |= ocrCCS
			}
		}
		c.respond(c.r1(), ocr0, 0xFF, 0x80, 0x00)

	case cmd == sdcard.CmdCRCOnOff:
		c.crcOn = arg&0x01 != 0
		c.respond(c.r1())

	case cmd == sdcard.CmdSendCSD && !c.idle:
		c.respond(sdcard.R1ReadyState)
		c.sendBlock(c.csd[:], false)

	case cmd == sdcard.CmdSendCID && !c.idle:
		c.respond(sdcard.R1ReadyState)
		c.sendBlock(c.cid[:], false)

	case cmd == sdcard.CmdReadSingleBlock && !c.idle:
		block, status := c.decodeAddress(arg)
		c.respond(status)
		if status != sdcard.R1ReadyState {
			return
		}
		c.readBlock(block)

	case cmd == sdcard.CmdWriteBlock && !c.idle:
		block, status := c.decodeAddress(arg)
		c.respond(status)
		if status != sdcard.R1ReadyState {
			return
		}
		c.writeBlk = block
		c.phase = phaseWriteToken

	default:
		c.respond(c.r1() | sdcard.R1IllegalCommand)
	}
}

// decodeAddress converts a command argument to a block number.
func (c *Card) decodeAddress(arg uint32) (uint32, byte) {
	block := arg
	if !c.config.Type.IsBlockAddressed() {
		if arg%sdcard.SectorSize != 0 {
			return 0, r1AddressError
		}
		block = arg / sdcard.SectorSize
	}
	if block >= c.blocks {
		return 0, r1ParamError
	}
	return block, sdcard.R1ReadyState
}

// sendBlock queues a start token, the data and its CRC. Read faults apply
// to sector data only, never to registers.
func (c *Card) sendBlock(data []byte, sector bool) {
	for i := 0; i < c.config.TokenDelay; i++ {
		c.out = append(c.out, 0xFF)
	}
	if sector && c.config.StallReads {
		return
	}
	token := byte(sdcard.TokenStartBlock)
	if sector && c.config.ReadToken != 0 {
		token = c.config.ReadToken
	}
	crc := sdcard.CRC16(data)
	c.out = append(c.out, token)
	c.out = append(c.out, data...)
	c.out = append(c.out, byte(crc>>8), byte(crc))
}

func (c *Card) readBlock(block uint32) {
	buf := c.sectorBuf[:]
	n, err := c.medium.ReadAt(buf, int64(block)*sdcard.SectorSize)
	if err != nil && err != io.EOF {
		pkg.LogWarn(pkg.ComponentSim, "medium read failed", "block", block, "error", err)
		c.out = append(c.out, 0x08) // data error token
		return
	}
	// Sparse images read as zeros past the end of the file
	clear(buf[n:])
	c.reads++
	c.sendBlock(buf, true)
}

func (c *Card) commitWrite() {
	data := c.writeBuf[:sdcard.SectorSize]
	c.busy = c.config.BusyBytes
	if c.busy == 0 {
		c.busy = defaultBusy
	}

	if c.crcOn {
		got := binary.BigEndian.Uint16(c.writeBuf[sdcard.SectorSize:])
		if got != sdcard.CRC16(data) {
			c.out = append(c.out[:0], dataCRCError)
			return
		}
	}
	if c.config.RejectWrites {
		c.out = append(c.out[:0], dataWriteError)
		return
	}
	if _, err := c.medium.WriteAt(data, int64(c.writeBlk)*sdcard.SectorSize); err != nil {
		pkg.LogWarn(pkg.ComponentSim, "medium write failed", "block", c.writeBlk, "error", err)
		c.out = append(c.out[:0], dataWriteError)
		return
	}
	c.written = append(c.written, c.writeBlk)
	c.out = append(c.out[:0], dataAccepted)
}
