// Command sdimg drives the SD card block stack against a disk image.
//
// The image is served by a simulated SPI-mode SD card, so every command
// exercises the real card driver and block bridge: initialization,
// capacity detection, and sector transfers streamed through bulk endpoint
// packets.
//
// Usage:
//
//	sdimg create card.img --size 32m
//	sdimg info card.img --type sdhc
//	sdimg write card.img --block 100 --in boot.bin
//	sdimg read card.img --block 100 --count 4 --out dump.bin
//	sdimg dump card.img --block 0
//	sdimg export card.img --out card.bin
//	sdimg serve card.img --addr :8080
package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
)

func main() {
	cmd := newRootCommand(afero.NewOsFs())
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
