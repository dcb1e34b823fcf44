// Package endpoint simulates the bulk endpoints of a USB mass-storage
// interface as in-memory packet queues.
//
// [Out] carries host-to-device data for block writes and [In] carries
// device-to-host data for block reads. Both implement bridge.Channel: the
// device side reads or writes one byte at a time within the current
// packet, flushes exhausted packets, and waits for the host when the
// packet is empty or the queue is full. The host side is goroutine-safe
// and may run concurrently with the device side.
//
// Abort models a mass-storage reset. It wakes every waiter with
// [pkg.ErrAborted] and stays raised until Reset.
package endpoint
