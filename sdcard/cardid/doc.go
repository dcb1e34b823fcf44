// Package cardid maps SD card manufacturer IDs to names.
//
// The CID register carries an 8-bit manufacturer ID (MID) and a two
// character OEM/application ID assigned by the SD Association. Neither is
// published as an official list, so the package ships a table of the IDs
// most often seen in the field and can merge more from a text database.
//
// # Usage
//
//	db := cardid.New()
//	db.Load(afero.NewOsFs(), "sdcard.ids")
//	name := db.LookupManufacturer(cid.ManufacturerID)
//
// # Database Format
//
// The format follows the usb.ids layout. Manufacturer lines hold a
// two-digit hex MID and a name; tab-indented lines below one hold an OEM
// ID and a name for that manufacturer:
//
//	# comment
//	03  SanDisk
//		SD  SanDisk OEM
//	1b  Samsung
//		SM  Samsung OEM
//
// Entries read from a file replace built-in entries with the same key.
package cardid
