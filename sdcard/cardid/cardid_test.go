package cardid

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/spf13/afero"
)

const testDB = `# test database
03  SanDisk Corp
	SD  SanDisk OEM
	XY  Private label
7e  Example Cards
	EX  Example OEM
zz  not hex
9   short
	QQ  orphaned after bad line
`

func TestBuiltin(t *testing.T) {
	db := New()
	if got := db.LookupManufacturer(0x03); got != "SanDisk" {
		t.Errorf("LookupManufacturer(0x03) = %q", got)
	}
	if got := db.LookupManufacturer(0xEE); got != "" {
		t.Errorf("LookupManufacturer(0xEE) = %q, want empty", got)
	}
	if db.ManufacturerCount() != len(builtin) {
		t.Errorf("ManufacturerCount() = %d, want %d", db.ManufacturerCount(), len(builtin))
	}
}

func TestLoad(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "sdcard.ids", []byte(testDB), 0o644); err != nil {
		t.Fatal(err)
	}

	db := New()
	if err := db.Load(fsys, "missing.ids", "sdcard.ids"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"replaced builtin", db.LookupManufacturer(0x03), "SanDisk Corp"},
		{"new manufacturer", db.LookupManufacturer(0x7E), "Example Cards"},
		{"kept builtin", db.LookupManufacturer(0x1B), "Samsung"},
		{"oem", db.LookupOEM(0x03, "SD"), "SanDisk OEM"},
		{"second oem", db.LookupOEM(0x03, "XY"), "Private label"},
		{"oem under other mid", db.LookupOEM(0x7E, "EX"), "Example OEM"},
		{"oem wrong mid", db.LookupOEM(0x7E, "SD"), ""},
		{"orphaned oem", db.LookupOEM(0x7E, "QQ"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
	if db.ManufacturerCount() != len(builtin)+1 {
		t.Errorf("ManufacturerCount() = %d, want %d", db.ManufacturerCount(), len(builtin)+1)
	}
}

func TestLoadNotFound(t *testing.T) {
	db := New()
	err := db.Load(afero.NewMemMapFs(), "a.ids", "b.ids")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Load() error = %v, want %v", err, fs.ErrNotExist)
	}
	if db.LookupManufacturer(0x03) != "SanDisk" {
		t.Error("failed Load changed the built-in table")
	}
}

func TestDescribe(t *testing.T) {
	db := New()
	tests := []struct {
		mid  uint8
		want string
	}{
		{0x03, "0x03 (SanDisk)"},
		{0x1B, "0x1B (Samsung)"},
		{0xEE, "0xEE"},
		{0x00, "0x00"},
	}
	for _, tt := range tests {
		if got := db.Describe(tt.mid); got != tt.want {
			t.Errorf("Describe(0x%02X) = %q, want %q", tt.mid, got, tt.want)
		}
	}
}
