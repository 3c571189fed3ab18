package device

import (
	"path/filepath"
	"testing"
)

func TestMemDeviceZerosOnGrow(t *testing.T) {
	d := NewMemDevice()
	if err := d.SetLen(16); err != nil {
		t.Fatalf("SetLen: %v", err)
	}
	buf, err := d.ReadExact(0, 16)
	if err != nil {
		t.Fatalf("ReadExact: %v", err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d not zero: %d", i, b)
		}
	}
}

func TestMemDeviceWriteReadRoundTrip(t *testing.T) {
	d := NewMemDevice()
	if err := d.SetLen(8); err != nil {
		t.Fatalf("SetLen: %v", err)
	}
	if err := d.Write(2, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := d.ReadExact(0, 8)
	if err != nil {
		t.Fatalf("ReadExact: %v", err)
	}
	want := []byte{0, 0, 1, 2, 3, 0, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %d want %d", i, got[i], want[i])
		}
	}
}

func TestMemDeviceOutOfBounds(t *testing.T) {
	d := NewMemDevice()
	d.SetLen(4)
	if _, err := d.ReadExact(0, 8); err != ErrOutOfBounds {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
	if err := d.Write(2, []byte{1, 2, 3}); err != ErrOutOfBounds {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestFileDeviceTruncateZeros(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dev.bin")
	d, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer d.Close()

	if err := d.SetLen(4096); err != nil {
		t.Fatalf("SetLen: %v", err)
	}
	buf, err := d.ReadExact(1000, 100)
	if err != nil {
		t.Fatalf("ReadExact: %v", err)
	}
	for _, b := range buf {
		if b != 0 {
			t.Fatalf("expected zero bytes in freshly extended region")
		}
	}

	if err := d.Write(0, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := d.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	// Re-open to confirm persistence across a fresh handle.
	d2, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d2.Close()
	got, err := d2.ReadExact(0, 5)
	if err != nil {
		t.Fatalf("ReadExact after reopen: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q want hello", got)
	}
}
