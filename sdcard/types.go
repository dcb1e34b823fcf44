package sdcard

import "fmt"

// CardType classifies a card by protocol version and addressing mode.
type CardType uint8

// Card types detected during initialization.
const (
	TypeUnknown CardType = iota // not initialized
	TypeSD1                     // standard capacity, version 1.x
	TypeSD2                     // standard capacity, version 2.0 or later
	TypeSDHC                    // high capacity, sector addressed
)

// String returns a human-readable card type name.
func (t CardType) String() string {
	switch t {
	case TypeSD1:
		return "SD1"
	case TypeSD2:
		return "SD2"
	case TypeSDHC:
		return "SDHC"
	default:
		return "unknown"
	}
}

// IsBlockAddressed reports whether commands address the card by sector
// index rather than byte offset.
func (t CardType) IsBlockAddressed() bool {
	return t == TypeSDHC
}

// ParseCardType converts a name such as "sdhc" or "sd1" to a CardType.
func ParseCardType(name string) (CardType, error) {
	switch name {
	case "sd1", "SD1", "legacy":
		return TypeSD1, nil
	case "sd2", "SD2", "sdsc":
		return TypeSD2, nil
	case "sdhc", "SDHC", "sdxc", "SDXC":
		return TypeSDHC, nil
	}
	return TypeUnknown, fmt.Errorf("unknown card type %q", name)
}

// TransferState tracks whether a data block read is in progress.
type TransferState uint8

// Transfer states.
const (
	StateIdle              TransferState = iota // no data phase open
	StateInSector                               // a read data phase is open
	StatePartialSectorRead                      // data phase open, sector partly consumed
)

// String returns a human-readable state name.
func (s TransferState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInSector:
		return "in-sector"
	case StatePartialSectorRead:
		return "partial-sector-read"
	default:
		return "unknown"
	}
}

// Sector holds one block of card data.
type Sector [SectorSize]byte

// Settings is the bus clock and mode established for each transaction.
type Settings struct {
	Frequency uint32 // SCK frequency in Hz
	Mode      uint8  // SPI mode (CPOL/CPHA), 0-3
}
