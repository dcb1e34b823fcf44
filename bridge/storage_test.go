package bridge_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ardnew/sdmsc/bridge"
	"github.com/ardnew/sdmsc/pkg"
	"github.com/ardnew/sdmsc/sdcard"
	"github.com/ardnew/sdmsc/sdcard/cardsim"
)

func TestDiskReadWrite(t *testing.T) {
	b, card := newBridge(t, cardsim.Config{Type: sdcard.TypeSD1})
	disk := bridge.NewDisk(b)

	if disk.BlockSize() != 512 {
		t.Errorf("BlockSize() = %d, want 512", disk.BlockSize())
	}
	if disk.BlockCount() != testBlocks {
		t.Errorf("BlockCount() = %d, want %d", disk.BlockCount(), testBlocks)
	}
	if !disk.IsPresent() || !disk.IsRemovable() || disk.IsReadOnly() {
		t.Error("new disk should be present, removable and writable")
	}

	data := make([]byte, 2*512)
	for i := range data {
		data[i] = byte(i ^ 0x5A)
	}
	n, err := disk.Write(3, 2, data)
	if err != nil || n != 2 {
		t.Fatalf("Write() = %d, %v, want 2, nil", n, err)
	}
	if err := disk.Sync(); err != nil {
		t.Errorf("Sync() error = %v", err)
	}

	got := make([]byte, len(data))
	n, err = disk.Read(3, 2, got)
	if err != nil || n != 2 {
		t.Fatalf("Read() = %d, %v, want 2, nil", n, err)
	}
	if !bytes.Equal(got, data) {
		t.Error("Read() data differs from written data")
	}
	if written := card.Written(); len(written) != 2 || written[0] != 3 || written[1] != 4 {
		t.Errorf("Written() = %v, want [3 4]", written)
	}
}

func TestDiskErrors(t *testing.T) {
	b, _ := newBridge(t, cardsim.Config{Type: sdcard.TypeSD2})
	disk := bridge.NewDisk(b)
	buf := make([]byte, 512)

	if _, err := disk.Read(testBlocks, 1, buf); !errors.Is(err, pkg.ErrInvalidAddress) {
		t.Errorf("Read(past end) error = %v, want ErrInvalidAddress", err)
	}
	if _, err := disk.Read(0, 2, buf); !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("Read(short buffer) error = %v, want ErrBufferTooSmall", err)
	}

	disk.SetReadOnly(true)
	if _, err := disk.Write(0, 1, buf); !errors.Is(err, pkg.ErrReadOnly) {
		t.Errorf("Write(read-only) error = %v, want ErrReadOnly", err)
	}
	disk.SetReadOnly(false)

	if err := disk.Eject(); err != nil {
		t.Fatalf("Eject() error = %v", err)
	}
	if disk.IsPresent() || disk.BlockCount() != 0 {
		t.Error("ejected disk still present")
	}
	if _, err := disk.Read(0, 1, buf); !errors.Is(err, pkg.ErrNoMedium) {
		t.Errorf("Read(ejected) error = %v, want ErrNoMedium", err)
	}

	disk.Load()
	if _, err := disk.Read(0, 1, buf); err != nil {
		t.Errorf("Read() after Load error = %v", err)
	}
}

func TestDiskFailureMarksBridge(t *testing.T) {
	b, _ := newBridge(t, cardsim.Config{Type: sdcard.TypeSD2, RejectWrites: true})
	disk := bridge.NewDisk(b)

	n, err := disk.Write(1, 2, make([]byte, 1024))
	if !errors.Is(err, pkg.ErrWriteRejected) || n != 0 {
		t.Fatalf("Write() = %d, %v, want 0, ErrWriteRejected", n, err)
	}
	if disk.IsPresent() || b.IsOperational() {
		t.Error("medium still present after write failure")
	}

	if err := b.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if !disk.IsPresent() {
		t.Error("medium not present after Init")
	}
}
