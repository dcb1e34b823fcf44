package sdcard_test

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/ardnew/sdmsc/pkg"
	"github.com/ardnew/sdmsc/sdcard"
	"github.com/ardnew/sdmsc/sdcard/cardsim"
)

const (
	sdscBlocks = 64
	sdhcBlocks = 2048
)

// newCard creates a simulated card on an in-memory image.
func newCard(t *testing.T, config cardsim.Config) *cardsim.Card {
	t.Helper()

	blocks := uint32(sdscBlocks)
	if config.Type == sdcard.TypeSDHC {
		blocks = sdhcBlocks
	}

	fs := afero.NewMemMapFs()
	if err := cardsim.CreateImage(fs, "card.img", blocks); err != nil {
		t.Fatalf("CreateImage() error = %v", err)
	}
	card, err := cardsim.Open(fs, "card.img", config)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { card.Close() })
	return card
}

// newDriver creates an initialized driver on a simulated card.
func newDriver(t *testing.T, config cardsim.Config, opts ...sdcard.Option) (*sdcard.Driver, *cardsim.Card) {
	t.Helper()

	card := newCard(t, config)
	drv := sdcard.New(card, opts...)
	if err := drv.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return drv, card
}

func TestInitCardTypes(t *testing.T) {
	tests := []struct {
		name       string
		cardType   sdcard.CardType
		readyAfter int
		crc        bool
	}{
		{"SD1", sdcard.TypeSD1, 0, false},
		{"SD2", sdcard.TypeSD2, 0, false},
		{"SDHC", sdcard.TypeSDHC, 0, false},
		{"SDHC slow", sdcard.TypeSDHC, 25, false},
		{"SD1 CRC", sdcard.TypeSD1, 2, true},
		{"SDHC CRC", sdcard.TypeSDHC, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := newCard(t, cardsim.Config{Type: tt.cardType, ReadyAfter: tt.readyAfter})
			drv := sdcard.New(card, sdcard.WithCRC(tt.crc))

			if err := drv.Init(context.Background()); err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			if drv.Type() != tt.cardType {
				t.Errorf("Type() = %v, want %v", drv.Type(), tt.cardType)
			}
			if card.Selected() {
				t.Error("card still selected after Init")
			}
			if card.InTransaction() {
				t.Error("bus transaction still open after Init")
			}
			if drv.State() != sdcard.StateIdle {
				t.Errorf("State() = %v, want %v", drv.State(), sdcard.StateIdle)
			}
		})
	}
}

func TestInitFailures(t *testing.T) {
	tests := []struct {
		name    string
		config  cardsim.Config
		wantErr error
	}{
		{"no card", cardsim.Config{Type: sdcard.TypeSD2, NoResponse: true}, pkg.ErrInitTimeout},
		{"never ready", cardsim.Config{Type: sdcard.TypeSDHC, ReadyAfter: -1}, pkg.ErrInitTimeout},
		{"bad echo", cardsim.Config{Type: sdcard.TypeSD2, BadEcho: true}, pkg.ErrProtocolMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := newCard(t, tt.config)
			drv := sdcard.New(card, sdcard.WithInitTimeout(50*time.Millisecond))

			start := time.Now()
			err := drv.Init(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Init() error = %v, want %v", err, tt.wantErr)
			}
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("Init() took %v, want it bounded by the init timeout", elapsed)
			}

			var cmdErr *sdcard.CommandError
			if !errors.As(err, &cmdErr) {
				t.Errorf("Init() error %T is not a *CommandError", err)
			}
			if drv.Type() != sdcard.TypeUnknown {
				t.Errorf("Type() = %v, want %v", drv.Type(), sdcard.TypeUnknown)
			}
			if card.Selected() || card.InTransaction() {
				t.Error("card left selected after failed Init")
			}
		})
	}
}

func TestInitCanceled(t *testing.T) {
	card := newCard(t, cardsim.Config{Type: sdcard.TypeSDHC, ReadyAfter: -1})
	drv := sdcard.New(card)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := drv.Init(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Init() error = %v, want context.Canceled", err)
	}
	if card.Selected() {
		t.Error("card left selected after canceled Init")
	}
}

func TestInitBusTransactions(t *testing.T) {
	settings := sdcard.Settings{Frequency: 250000, Mode: 0}
	card := newCard(t, cardsim.Config{Type: sdcard.TypeSD2, ReadyAfter: 10})
	drv := sdcard.New(card, sdcard.WithSettings(settings))

	if err := drv.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	// One transaction for the power-up clocks and one for the command
	// sequence, however many commands it took.
	if got := card.Begins(); got != 2 {
		t.Errorf("Begins() = %d, want 2", got)
	}
	if got := card.Settings(); got != settings {
		t.Errorf("Settings() = %+v, want %+v", got, settings)
	}
}

func TestOperationsBeforeInit(t *testing.T) {
	card := newCard(t, cardsim.Config{Type: sdcard.TypeSD2})
	drv := sdcard.New(card)

	var sector sdcard.Sector
	if err := drv.ReadSector(0, &sector); !errors.Is(err, pkg.ErrNotInitialized) {
		t.Errorf("ReadSector() error = %v, want ErrNotInitialized", err)
	}
	if err := drv.WriteSector(0, &sector); !errors.Is(err, pkg.ErrNotInitialized) {
		t.Errorf("WriteSector() error = %v, want ErrNotInitialized", err)
	}
	if _, err := drv.ReadCapacity(); !errors.Is(err, pkg.ErrNotInitialized) {
		t.Errorf("ReadCapacity() error = %v, want ErrNotInitialized", err)
	}
	if card.Begins() != 0 {
		t.Errorf("Begins() = %d, want no bus traffic", card.Begins())
	}
}

func TestSectorRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var random sdcard.Sector
	rng.Read(random[:])

	var erased sdcard.Sector
	for i := range erased {
		erased[i] = 0xFF
	}

	payloads := []struct {
		name string
		data sdcard.Sector
	}{
		{"zeros", sdcard.Sector{}},
		{"erased", erased},
		{"random", random},
	}

	for _, cardType := range []sdcard.CardType{sdcard.TypeSD1, sdcard.TypeSD2, sdcard.TypeSDHC} {
		for _, crc := range []bool{false, true} {
			for _, p := range payloads {
				name := cardType.String() + "/" + p.name
				if crc {
					name += "/crc"
				}
				t.Run(name, func(t *testing.T) {
					drv, card := newDriver(t, cardsim.Config{Type: cardType}, sdcard.WithCRC(crc))

					addr := uint64(5) * sdcard.SectorSize
					if err := drv.WriteSector(addr, &p.data); err != nil {
						t.Fatalf("WriteSector() error = %v", err)
					}

					var got sdcard.Sector
					if err := drv.ReadSector(addr, &got); err != nil {
						t.Fatalf("ReadSector() error = %v", err)
					}
					if got != p.data {
						t.Error("ReadSector() data differs from written data")
					}

					if written := card.Written(); len(written) != 1 || written[0] != 5 {
						t.Errorf("Written() = %v, want [5]", written)
					}
					if card.Selected() || card.InTransaction() {
						t.Error("card left selected after sector transfer")
					}
				})
			}
		}
	}
}

func TestSectorAddressing(t *testing.T) {
	tests := []struct {
		name    string
		config  cardsim.Config
		addr    uint64
		wantErr error
	}{
		{"misaligned", cardsim.Config{Type: sdcard.TypeSD2}, 100, pkg.ErrInvalidAddress},
		{"SD2 beyond 4 GiB", cardsim.Config{Type: sdcard.TypeSD2}, 1 << 32, pkg.ErrInvalidAddress},
		{"SDHC beyond 4 GiB", cardsim.Config{Type: sdcard.TypeSDHC}, 1<<32 + sdcard.SectorSize, pkg.ErrProtocolMismatch},
		{"SD2 out of range", cardsim.Config{Type: sdcard.TypeSD2}, sdscBlocks * sdcard.SectorSize, pkg.ErrProtocolMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv, card := newDriver(t, tt.config)
			begins := card.Begins()

			var sector sdcard.Sector
			err := drv.ReadSector(tt.addr, &sector)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ReadSector() error = %v, want %v", err, tt.wantErr)
			}
			if errors.Is(tt.wantErr, pkg.ErrInvalidAddress) && card.Begins() != begins {
				t.Error("invalid address reached the bus")
			}
			if card.Selected() {
				t.Error("card left selected after failed read")
			}
		})
	}
}

func TestWriteRejected(t *testing.T) {
	drv, card := newDriver(t, cardsim.Config{Type: sdcard.TypeSDHC, RejectWrites: true})

	var sector sdcard.Sector
	err := drv.WriteSector(0, &sector)
	if !errors.Is(err, pkg.ErrWriteRejected) {
		t.Fatalf("WriteSector() error = %v, want ErrWriteRejected", err)
	}

	var cmdErr *sdcard.CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("WriteSector() error %T is not a *CommandError", err)
	}
	if cmdErr.Status&sdcard.DataResponseMask != sdcard.DataResponseWrite {
		t.Errorf("Status = 0x%02X, want write error response", cmdErr.Status)
	}
	if len(card.Written()) != 0 {
		t.Errorf("Written() = %v, want none", card.Written())
	}

	// The card recovers for the next command
	if err := drv.ReadSector(0, &sector); err != nil {
		t.Errorf("ReadSector() after rejected write error = %v", err)
	}
}

func TestReadTokenFailures(t *testing.T) {
	tests := []struct {
		name    string
		config  cardsim.Config
		wantErr error
	}{
		{"bad token", cardsim.Config{Type: sdcard.TypeSD2, ReadToken: 0x08}, pkg.ErrReadCorrupt},
		{"stalled", cardsim.Config{Type: sdcard.TypeSD2, StallReads: true}, pkg.ErrReadTimeout},
		{"delayed", cardsim.Config{Type: sdcard.TypeSD2, TokenDelay: 40}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := newCard(t, tt.config)
			drv := sdcard.New(card, sdcard.WithReadTimeout(20*time.Millisecond))
			if err := drv.Init(context.Background()); err != nil {
				t.Fatalf("Init() error = %v", err)
			}

			var sector sdcard.Sector
			err := drv.ReadSector(0, &sector)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ReadSector() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ReadSector() error = %v, want %v", err, tt.wantErr)
			}
			if drv.State() != sdcard.StateIdle {
				t.Errorf("State() = %v, want %v", drv.State(), sdcard.StateIdle)
			}
			if card.Selected() {
				t.Error("card left selected after failed read")
			}
		})
	}
}

func TestReadCapacity(t *testing.T) {
	tests := []struct {
		cardType sdcard.CardType
		want     uint64
	}{
		{sdcard.TypeSD1, sdscBlocks * sdcard.SectorSize},
		{sdcard.TypeSD2, sdscBlocks * sdcard.SectorSize},
		{sdcard.TypeSDHC, sdhcBlocks * sdcard.SectorSize},
	}

	for _, tt := range tests {
		t.Run(tt.cardType.String(), func(t *testing.T) {
			drv, card := newDriver(t, cardsim.Config{Type: tt.cardType}, sdcard.WithCRC(true))

			got, err := drv.ReadCapacity()
			if err != nil {
				t.Fatalf("ReadCapacity() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ReadCapacity() = %d, want %d", got, tt.want)
			}
			if got != uint64(card.Blocks())*sdcard.SectorSize {
				t.Errorf("ReadCapacity() = %d, card reports %d blocks", got, card.Blocks())
			}
		})
	}
}

func TestReadCID(t *testing.T) {
	drv, _ := newDriver(t, cardsim.Config{Type: sdcard.TypeSDHC})

	cid, err := drv.ReadCID()
	if err != nil {
		t.Fatalf("ReadCID() error = %v", err)
	}
	if cid.ProductName != "SIM01" {
		t.Errorf("ProductName = %q, want %q", cid.ProductName, "SIM01")
	}
	if cid.Year != 2024 || cid.Month != 6 {
		t.Errorf("date = %d-%02d, want 2024-06", cid.Year, cid.Month)
	}
	if cid.SerialNumber != 0xC0FFEE01 {
		t.Errorf("SerialNumber = 0x%08X, want 0xC0FFEE01", cid.SerialNumber)
	}
}

func TestReadDataPartial(t *testing.T) {
	drv, card := newDriver(t, cardsim.Config{Type: sdcard.TypeSDHC})

	var want sdcard.Sector
	for i := range want {
		want[i] = byte(i * 7)
	}
	if err := drv.WriteSector(3*sdcard.SectorSize, &want); err != nil {
		t.Fatalf("WriteSector() error = %v", err)
	}
	reads := card.Reads()

	// Consecutive chunks of one sector share a single read command
	buf := make([]byte, 64)
	for offset := 0; offset < sdcard.SectorSize; offset += len(buf) {
		if err := drv.ReadData(3, uint16(offset), buf); err != nil {
			t.Fatalf("ReadData(offset %d) error = %v", offset, err)
		}
		if !bytes.Equal(buf, want[offset:offset+len(buf)]) {
			t.Fatalf("ReadData(offset %d) data differs", offset)
		}

		last := offset+len(buf) == sdcard.SectorSize
		wantState := sdcard.StatePartialSectorRead
		if last {
			wantState = sdcard.StateIdle
		}
		if drv.State() != wantState {
			t.Errorf("State() after offset %d = %v, want %v", offset, drv.State(), wantState)
		}
		if card.Selected() == last {
			t.Errorf("Selected() after offset %d = %v, want %v", offset, card.Selected(), !last)
		}
	}
	if got := card.Reads() - reads; got != 1 {
		t.Errorf("read commands = %d, want 1", got)
	}

	// Skipping forward within the open sector does not reissue the command
	if err := drv.ReadData(3, 16, buf[:8]); err != nil {
		t.Fatalf("ReadData() error = %v", err)
	}
	if err := drv.ReadData(3, 100, buf[:8]); err != nil {
		t.Fatalf("ReadData() error = %v", err)
	}
	if !bytes.Equal(buf[:8], want[100:108]) {
		t.Error("ReadData() after skip data differs")
	}
	if got := card.Reads() - reads; got != 2 {
		t.Errorf("read commands = %d, want 2", got)
	}
}

func TestReadDataDrain(t *testing.T) {
	drv, card := newDriver(t, cardsim.Config{Type: sdcard.TypeSD2}, sdcard.WithCRC(true))

	var a, b sdcard.Sector
	for i := range a {
		a[i] = 0xA5
		b[i] = byte(i)
	}
	if err := drv.WriteSector(1*sdcard.SectorSize, &a); err != nil {
		t.Fatalf("WriteSector() error = %v", err)
	}
	if err := drv.WriteSector(2*sdcard.SectorSize, &b); err != nil {
		t.Fatalf("WriteSector() error = %v", err)
	}

	buf := make([]byte, 10)
	if err := drv.ReadData(1, 0, buf); err != nil {
		t.Fatalf("ReadData() error = %v", err)
	}
	if drv.State() != sdcard.StatePartialSectorRead {
		t.Fatalf("State() = %v, want %v", drv.State(), sdcard.StatePartialSectorRead)
	}

	// A different block drains the open sector first
	if err := drv.ReadData(2, 20, buf); err != nil {
		t.Fatalf("ReadData() error = %v", err)
	}
	if !bytes.Equal(buf, b[20:30]) {
		t.Errorf("ReadData() = % X, want % X", buf, b[20:30])
	}

	// So does a whole-sector command
	var got sdcard.Sector
	if err := drv.ReadSector(1*sdcard.SectorSize, &got); err != nil {
		t.Fatalf("ReadSector() error = %v", err)
	}
	if got != a {
		t.Error("ReadSector() after partial read data differs")
	}
	if drv.State() != sdcard.StateIdle || card.Selected() {
		t.Errorf("State() = %v, Selected() = %v, want idle and released", drv.State(), card.Selected())
	}

	// A read going backwards restarts the sector
	if err := drv.ReadData(2, 100, buf[:4]); err != nil {
		t.Fatalf("ReadData() error = %v", err)
	}
	if err := drv.ReadData(2, 0, buf[:4]); err != nil {
		t.Fatalf("ReadData() error = %v", err)
	}
	if !bytes.Equal(buf[:4], b[:4]) {
		t.Errorf("ReadData() = % X, want % X", buf[:4], b[:4])
	}
}

func TestInitAfterPartialRead(t *testing.T) {
	for _, cardType := range []sdcard.CardType{sdcard.TypeSD1, sdcard.TypeSD2, sdcard.TypeSDHC} {
		t.Run(cardType.String(), func(t *testing.T) {
			drv, card := newDriver(t, cardsim.Config{Type: cardType})

			buf := make([]byte, 10)
			if err := drv.ReadData(0, 0, buf); err != nil {
				t.Fatalf("ReadData() error = %v", err)
			}
			if !card.InTransaction() {
				t.Fatal("partial read released the bus")
			}

			if err := drv.Init(context.Background()); err != nil {
				t.Fatalf("Init() after partial read error = %v", err)
			}
			if drv.State() != sdcard.StateIdle || card.Selected() || card.InTransaction() {
				t.Errorf("State() = %v, Selected() = %v, InTransaction() = %v, want idle and released",
					drv.State(), card.Selected(), card.InTransaction())
			}
			if drv.Type() != cardType {
				t.Errorf("Type() = %v, want %v", drv.Type(), cardType)
			}

			var got sdcard.Sector
			if err := drv.ReadSector(0, &got); err != nil {
				t.Errorf("ReadSector() after Init error = %v", err)
			}
		})
	}
}

func TestReleaseDiscardedDriver(t *testing.T) {
	old, card := newDriver(t, cardsim.Config{Type: sdcard.TypeSDHC})

	buf := make([]byte, 10)
	if err := old.ReadData(3, 0, buf); err != nil {
		t.Fatalf("ReadData() error = %v", err)
	}
	if err := old.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if old.State() != sdcard.StateIdle || card.Selected() || card.InTransaction() {
		t.Fatalf("State() = %v, Selected() = %v, InTransaction() = %v after Release",
			old.State(), card.Selected(), card.InTransaction())
	}

	drv := sdcard.New(card)
	if err := drv.Init(context.Background()); err != nil {
		t.Errorf("Init() on a released bus error = %v", err)
	}
}

func TestReadDataRejectedAddressReleases(t *testing.T) {
	drv, card := newDriver(t, cardsim.Config{Type: sdcard.TypeSD2})

	buf := make([]byte, 10)
	if err := drv.ReadData(1, 0, buf); err != nil {
		t.Fatalf("ReadData() error = %v", err)
	}

	// Block 1<<23 starts at byte 1<<32, beyond byte addressing
	if err := drv.ReadData(1<<23, 0, buf); !errors.Is(err, pkg.ErrInvalidAddress) {
		t.Fatalf("ReadData() error = %v, want ErrInvalidAddress", err)
	}
	if drv.State() != sdcard.StateIdle || card.Selected() || card.InTransaction() {
		t.Errorf("State() = %v, Selected() = %v, InTransaction() = %v, want idle and released",
			drv.State(), card.Selected(), card.InTransaction())
	}

	var got sdcard.Sector
	if err := drv.ReadSector(1*sdcard.SectorSize, &got); err != nil {
		t.Errorf("ReadSector() after rejected address error = %v", err)
	}
}

func TestReadDataBounds(t *testing.T) {
	drv, _ := newDriver(t, cardsim.Config{Type: sdcard.TypeSDHC})

	buf := make([]byte, 16)
	if err := drv.ReadData(0, 500, buf); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("ReadData() error = %v, want ErrInvalidParameter", err)
	}
	if err := drv.ReadData(0, 0, nil); err != nil {
		t.Errorf("ReadData(empty) error = %v", err)
	}
}

func TestDumpSector(t *testing.T) {
	drv, _ := newDriver(t, cardsim.Config{Type: sdcard.TypeSD1})

	var sector sdcard.Sector
	sector[0], sector[31], sector[32], sector[511] = 0xDE, 0xAD, 0xBE, 0xEF
	if err := drv.WriteSector(7*sdcard.SectorSize, &sector); err != nil {
		t.Fatalf("WriteSector() error = %v", err)
	}

	var out strings.Builder
	if err := drv.DumpSector(&out, 7*sdcard.SectorSize); err != nil {
		t.Fatalf("DumpSector() error = %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines) != 1+sdcard.SectorSize/32 {
		t.Fatalf("DumpSector() wrote %d lines, want %d", len(lines), 1+sdcard.SectorSize/32)
	}
	if lines[0] != "Block: 7" {
		t.Errorf("header = %q, want %q", lines[0], "Block: 7")
	}
	if !strings.HasPrefix(lines[1], "DE 00") || !strings.HasSuffix(lines[1], "00 AD") {
		t.Errorf("first row = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "BE 00") {
		t.Errorf("second row = %q", lines[2])
	}
	if !strings.HasSuffix(lines[16], "00 EF") {
		t.Errorf("last row = %q", lines[16])
	}
	if got := len(strings.Fields(lines[1])); got != 32 {
		t.Errorf("first row has %d bytes, want 32", got)
	}
}

func TestCommandErrorMessage(t *testing.T) {
	err := &sdcard.CommandError{Cmd: sdcard.CmdReadSingleBlock, Status: 0x05, Err: pkg.ErrReadCorrupt}
	if got, want := err.Error(), "CMD17: status 0x05: read data corrupt"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestParseCardType(t *testing.T) {
	tests := []struct {
		name    string
		want    sdcard.CardType
		wantErr bool
	}{
		{"sd1", sdcard.TypeSD1, false},
		{"SD2", sdcard.TypeSD2, false},
		{"sdhc", sdcard.TypeSDHC, false},
		{"sdxc", sdcard.TypeSDHC, false},
		{"mmc", sdcard.TypeUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sdcard.ParseCardType(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCardType() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseCardType() = %v, want %v", got, tt.want)
			}
		})
	}
}
