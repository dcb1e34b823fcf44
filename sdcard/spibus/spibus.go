// Package spibus adapts a TinyGo SPI peripheral and a chip-select pin to
// the [sdcard.Bus] interface.
//
// TinyGo's machine.SPI satisfies [drivers.SPI] and machine.Pin satisfies
// [Pin]. The configure callback applies the transaction settings to the
// peripheral, typically by calling machine.SPI.Configure:
//
//	bus := spibus.New(machine.SPI0, machine.D10, func(s sdcard.Settings) error {
//		return machine.SPI0.Configure(machine.SPIConfig{
//			Frequency: s.Frequency,
//			Mode:      s.Mode,
//		})
//	})
//	machine.D10.Configure(machine.PinConfig{Mode: machine.PinOutput})
//	card := sdcard.New(bus)
package spibus

import (
	"errors"

	"tinygo.org/x/drivers"

	"github.com/ardnew/sdmsc/pkg"
	"github.com/ardnew/sdmsc/sdcard"
)

// Pin is an output pin driving the active-low chip-select line.
type Pin interface {
	Set(high bool)
}

// ConfigureFunc applies bus settings at the start of a transaction.
type ConfigureFunc func(s sdcard.Settings) error

var errTransactionOpen = errors.New("spi transaction already open")

// Bus implements [sdcard.Bus] over an SPI peripheral.
type Bus struct {
	spi       drivers.SPI
	cs        Pin
	configure ConfigureFunc

	settings sdcard.Settings
	active   bool
}

// New creates a bus on spi with chip select cs. A nil configure leaves the
// peripheral settings untouched.
func New(spi drivers.SPI, cs Pin, configure ConfigureFunc) *Bus {
	cs.Set(true)
	return &Bus{
		spi:       spi,
		cs:        cs,
		configure: configure,
	}
}

// Begin configures the peripheral for one transaction.
func (b *Bus) Begin(s sdcard.Settings) error {
	if b.active {
		return errTransactionOpen
	}
	if b.configure != nil {
		if err := b.configure(s); err != nil {
			pkg.LogWarn(pkg.ComponentBus, "configure failed",
				"frequency", s.Frequency,
				"mode", s.Mode,
				"error", err)
			return err
		}
	}
	b.settings = s
	b.active = true
	return nil
}

// End closes the transaction opened by Begin.
func (b *Bus) End() {
	b.active = false
}

// Select drives chip select. The line is active low.
func (b *Bus) Select(asserted bool) {
	b.cs.Set(!asserted)
}

// Tx exchanges len(w) or len(r) bytes. See [drivers.SPI].
func (b *Bus) Tx(w, r []byte) error {
	return b.spi.Tx(w, r)
}

// Transfer exchanges a single byte.
func (b *Bus) Transfer(w byte) (byte, error) {
	return b.spi.Transfer(w)
}

// Settings returns the settings of the current or most recent transaction.
func (b *Bus) Settings() sdcard.Settings {
	return b.settings
}

var _ sdcard.Bus = (*Bus)(nil)
