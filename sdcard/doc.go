// Package sdcard implements the SD card SPI-mode protocol.
//
// A [Driver] owns the link to one card through a [Bus]: it runs the
// power-up and initialization sequence, classifies the card, derives its
// capacity from the CSD register and reads or writes 512-byte sectors.
//
// # Card Types
//
// Initialization distinguishes three card families:
//
//   - [TypeSD1] - version 1.x cards that reject SEND_IF_COND
//   - [TypeSD2] - version 2.0 standard capacity cards
//   - [TypeSDHC] - high capacity cards, addressed by sector index
//
// Callers always pass byte addresses; the driver converts them to sector
// indexes for SDHC cards.
//
// # Transactions
//
// Every command runs with select asserted and the bus configured by
// [Bus.Begin]. Select is released when the operation returns, on success
// and on failure. Asserting select again while it is held does not
// reconfigure the bus. The one exception to the release rule is
// [Driver.ReadData], which may leave a sector partly read; the next
// command drains it first.
//
// # Usage
//
//	card := sdcard.New(bus)
//	if err := card.Init(ctx); err != nil {
//	    return err
//	}
//	capacity, err := card.ReadCapacity()
//	...
//	var sector sdcard.Sector
//	err = card.ReadSector(0, &sector)
//
// # Errors
//
// Failures wrap the sentinels of package pkg, typically inside a
// [CommandError] carrying the command index and the last status byte.
package sdcard
