package sdcard

import "tinygo.org/x/drivers"

// Bus is the synchronous byte-exchange link to one card.
//
// Transfer and Tx come from [drivers.SPI], so any TinyGo SPI peripheral
// can serve as the data path. Begin and End bracket a transaction in which
// the clock and mode are fixed. Select drives the chip-select line; true
// asserts it (drives it low).
type Bus interface {
	drivers.SPI

	// Begin configures the bus for one transaction.
	Begin(s Settings) error

	// End releases the bus at the end of a transaction.
	End()

	// Select asserts or deasserts the card's chip-select line.
	Select(asserted bool)
}
