// Package bridge serves logical block reads and writes from an SD card.
//
// A [Bridge] sits between a mass-storage transport and the SD card driver.
// The transport asks for a range of 512-byte logical blocks; the bridge
// moves each block through its single sector buffer, one card sector at a
// time, and streams the bytes to or from a host [Channel] in the
// channel's own packet size.
//
// # Transfers
//
// WriteBlocks fills the sector buffer from the channel packet by packet
// and writes it to the card once complete. ReadBlocks reads a sector and
// pushes it to the channel packet by packet. Whenever the current packet
// is exhausted (or full) the bridge flushes it and waits for the next.
// Both stop at the first sector failure, leaving the rest of the range
// untransferred, and flush a held packet at the end so the endpoint is
// ready for the next exchange.
//
// A host abort is polled after every packet. On a write it stops the
// operation before the sector being received reaches the card.
//
// # Health
//
// Init must succeed before any block operation. A failed sector read or
// write marks the medium unusable until Init runs again; there is no
// automatic recovery.
//
// # Storage
//
// [Disk] adapts a Bridge to the [Storage] contract used by mass-storage
// class drivers that hand whole buffers to their backend instead of
// streaming through an endpoint.
package bridge
