// Package cardsim simulates an SD card on the SPI bus.
//
// A [Card] implements [sdcard.Bus] and answers the SPI-mode command set
// the driver uses: CMD0, CMD8, CMD9, CMD10, CMD17, CMD24, CMD55, ACMD41,
// CMD58 and CMD59. Sector data lives in an [afero.File], so a card can be
// backed by a disk image on the host or by an in-memory file in tests.
//
// The card type selects the protocol profile. SD1 cards reject CMD8,
// SD2 cards are byte addressed with a version 1 CSD, and SDHC cards are
// sector addressed, require HCS in ACMD41 and report CCS in the OCR.
//
// Faults are injected through [Config]: a card that never answers CMD0,
// never leaves the idle state, corrupts the CMD8 echo, rejects writes,
// or sends a bad or missing read token.
//
// Usage:
//
//	fs := afero.NewMemMapFs()
//	if err := cardsim.CreateImage(fs, "card.img", 2048); err != nil {
//		return err
//	}
//	card, err := cardsim.Open(fs, "card.img", cardsim.Config{Type: sdcard.TypeSDHC})
//	if err != nil {
//		return err
//	}
//	defer card.Close()
//
//	drv := sdcard.New(card)
//	if err := drv.Init(ctx); err != nil {
//		return err
//	}
package cardsim
