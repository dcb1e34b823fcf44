package spibus

import (
	"errors"
	"testing"

	"github.com/ardnew/sdmsc/sdcard"
)

type mockPin struct {
	levels []bool
}

func (p *mockPin) Set(high bool) {
	p.levels = append(p.levels, high)
}

type mockSPI struct {
	sent []byte
	resp byte
}

func (s *mockSPI) Tx(w, r []byte) error {
	n := len(w)
	if w == nil {
		n = len(r)
	}
	for i := 0; i < n; i++ {
		b := byte(0xFF)
		if w != nil {
			b = w[i]
		}
		s.sent = append(s.sent, b)
		if r != nil {
			r[i] = s.resp
		}
	}
	return nil
}

func (s *mockSPI) Transfer(b byte) (byte, error) {
	s.sent = append(s.sent, b)
	return s.resp, nil
}

func TestSelectActiveLow(t *testing.T) {
	pin := &mockPin{}
	bus := New(&mockSPI{}, pin, nil)

	bus.Select(true)
	bus.Select(false)

	want := []bool{true, false, true}
	if len(pin.levels) != len(want) {
		t.Fatalf("pin levels = %v, want %v", pin.levels, want)
	}
	for i := range want {
		if pin.levels[i] != want[i] {
			t.Errorf("level[%d] = %v, want %v", i, pin.levels[i], want[i])
		}
	}
}

func TestBeginConfigures(t *testing.T) {
	var got []sdcard.Settings
	configure := func(s sdcard.Settings) error {
		got = append(got, s)
		return nil
	}
	bus := New(&mockSPI{}, &mockPin{}, configure)

	s := sdcard.Settings{Frequency: 400000, Mode: 0}
	if err := bus.Begin(s); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := bus.Begin(s); !errors.Is(err, errTransactionOpen) {
		t.Errorf("nested Begin() error = %v, want errTransactionOpen", err)
	}
	bus.End()
	if err := bus.Begin(sdcard.Settings{Frequency: 8000000}); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("configure called %d times, want 2", len(got))
	}
	if bus.Settings().Frequency != 8000000 {
		t.Errorf("Settings().Frequency = %d, want 8000000", bus.Settings().Frequency)
	}
}

func TestBeginConfigureError(t *testing.T) {
	errConfig := errors.New("bad mode")
	bus := New(&mockSPI{}, &mockPin{}, func(sdcard.Settings) error { return errConfig })

	if err := bus.Begin(sdcard.Settings{Mode: 7}); !errors.Is(err, errConfig) {
		t.Fatalf("Begin() error = %v, want %v", err, errConfig)
	}
	bus.configure = nil
	if err := bus.Begin(sdcard.Settings{}); err != nil {
		t.Errorf("Begin() after failed configure error = %v", err)
	}
}

func TestTransfer(t *testing.T) {
	spi := &mockSPI{resp: 0x5A}
	bus := New(spi, &mockPin{}, nil)

	got, err := bus.Transfer(0x40)
	if err != nil || got != 0x5A {
		t.Fatalf("Transfer() = 0x%02X, %v, want 0x5A, nil", got, err)
	}

	r := make([]byte, 3)
	if err := bus.Tx(nil, r); err != nil {
		t.Fatalf("Tx() error = %v", err)
	}
	if len(spi.sent) != 4 || spi.sent[0] != 0x40 || spi.sent[3] != 0xFF {
		t.Errorf("sent = % X", spi.sent)
	}
	for i, b := range r {
		if b != 0x5A {
			t.Errorf("r[%d] = 0x%02X, want 0x5A", i, b)
		}
	}
}
