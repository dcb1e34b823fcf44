package cardid

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/ardnew/sdmsc/pkg"
)

// builtin lists commonly reported manufacturer IDs.
var builtin = map[uint8]string{
	0x01: "Panasonic",
	0x02: "Toshiba",
	0x03: "SanDisk",
	0x1B: "Samsung",
	0x1D: "ADATA",
	0x27: "Phison",
	0x28: "Lexar",
	0x31: "Silicon Power",
	0x41: "Kingston",
	0x74: "Transcend",
	0x76: "Patriot",
	0x82: "Sony",
}

// Database caches manufacturer and OEM names.
type Database struct {
	manufacturers map[uint8]string
	oems          map[uint32]string // (MID<<16)|OEM -> name
	mu            sync.RWMutex
}

// New creates a database holding the built-in manufacturer table.
func New() *Database {
	db := &Database{
		manufacturers: make(map[uint8]string, len(builtin)),
		oems:          make(map[uint32]string),
	}
	for mid, name := range builtin {
		db.manufacturers[mid] = name
	}
	return db
}

// Load merges the first database file found in paths. It returns an error
// wrapping [fs.ErrNotExist] when none of the paths exist.
func (db *Database) Load(fsys afero.Fs, paths ...string) error {
	for _, path := range paths {
		f, err := fsys.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		defer f.Close()

		m, o, err := parse(f)
		if err != nil {
			return err
		}

		db.mu.Lock()
		defer db.mu.Unlock()
		for k, v := range m {
			db.manufacturers[k] = v
		}
		for k, v := range o {
			db.oems[k] = v
		}
		pkg.LogDebug(pkg.ComponentCard, "card ID database loaded",
			"path", path,
			"manufacturers", len(m),
			"oems", len(o))
		return nil
	}
	return &fs.PathError{Op: "load", Path: strings.Join(paths, ","), Err: fs.ErrNotExist}
}

// parse reads the usb.ids-style layout described in the package docs.
// Malformed lines are skipped.
func parse(r io.Reader) (map[uint8]string, map[uint32]string, error) {
	manufacturers := make(map[uint8]string)
	oems := make(map[uint32]string)

	current := -1
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		if line[0] == '\t' {
			// OEM line: "\tXX  Name"
			line = line[1:]
			if current < 0 || len(line) < 4 || line[2] != ' ' {
				continue
			}
			key := uint32(current)<<16 | oemKey(line[:2])
			if name := strings.TrimSpace(line[3:]); name != "" {
				oems[key] = name
			}
			continue
		}

		// Manufacturer line: "hh  Name"
		current = -1
		if len(line) < 4 || line[2] != ' ' {
			continue
		}
		mid, err := strconv.ParseUint(line[:2], 16, 8)
		if err != nil {
			continue
		}
		current = int(mid)
		if name := strings.TrimSpace(line[3:]); name != "" {
			manufacturers[uint8(mid)] = name
		}
	}
	return manufacturers, oems, scanner.Err()
}

func oemKey(oem string) uint32 {
	var k uint32
	for i := 0; i < 2 && i < len(oem); i++ {
		k = k<<8 | uint32(oem[i])
	}
	return k
}

// LookupManufacturer returns the name for mid, or an empty string.
func (db *Database) LookupManufacturer(mid uint8) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.manufacturers[mid]
}

// LookupOEM returns the name for an OEM ID under mid, or an empty string.
func (db *Database) LookupOEM(mid uint8, oem string) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.oems[uint32(mid)<<16|oemKey(oem)]
}

// Describe returns "0xMM (Name)", or just "0xMM" for an unknown ID.
func (db *Database) Describe(mid uint8) string {
	if name := db.LookupManufacturer(mid); name != "" {
		return fmt.Sprintf("0x%02X (%s)", mid, name)
	}
	return fmt.Sprintf("0x%02X", mid)
}

// ManufacturerCount returns the number of known manufacturers.
func (db *Database) ManufacturerCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.manufacturers)
}
