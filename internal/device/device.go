// Package device implements the byte-addressable storage devices that back
// the pager stack: a positioned-file device and an in-memory device.
//
// What: len/set_len/read/read_exact/write/flush/sync over raw bytes.
// How: a thin wrapper over *os.File for the file device, and a growable
// byte slice guarded by a mutex for the memory device.
// Why: the pager stack is storage-agnostic; everything above this layer
// only ever sees the Device interface.
package device

import (
	"errors"
	"io"
	"os"
	"sync"
)

// ErrOutOfBounds is returned when a read or write starts or ends past the
// current device length.
var ErrOutOfBounds = errors.New("device: offset out of bounds")

// Device is a byte-addressable random-access store.
type Device interface {
	// Len returns the current device length in bytes.
	Len() (int64, error)
	// SetLen durably extends or truncates the device. Bytes made newly
	// visible by an extension read back as zero.
	SetLen(n int64) error
	// Read copies up to len(buf) bytes starting at offset into buf and
	// returns the number of bytes actually read.
	Read(offset int64, buf []byte) (int, error)
	// ReadExact reads exactly n bytes starting at offset, or fails.
	ReadExact(offset int64, n int) ([]byte, error)
	// Write writes bytes at offset, extending the device if necessary is
	// NOT performed implicitly — callers must SetLen first.
	Write(offset int64, data []byte) error
	// Flush pushes buffered writes to the OS but does not guarantee they
	// survive a power loss.
	Flush() error
	// Sync guarantees previously flushed writes are durable.
	Sync() error
	// Close releases any underlying resources.
	Close() error
}

// FileDevice is a Device backed by positioned I/O on an *os.File.
type FileDevice struct {
	mu   sync.RWMutex
	file *os.File
	size int64
}

// OpenFile opens or creates a file-backed device at path.
func OpenFile(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileDevice{file: f, size: info.Size()}, nil
}

func (d *FileDevice) Len() (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.size, nil
}

func (d *FileDevice) SetLen(n int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.file.Truncate(n); err != nil {
		return err
	}
	d.size = n
	return nil
}

func (d *FileDevice) Read(offset int64, buf []byte) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if offset < 0 || offset > d.size {
		return 0, ErrOutOfBounds
	}
	n, err := d.file.ReadAt(buf, offset)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

func (d *FileDevice) ReadExact(offset int64, n int) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if offset < 0 || offset+int64(n) > d.size {
		return nil, ErrOutOfBounds
	}
	buf := make([]byte, n)
	if _, err := d.file.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *FileDevice) Write(offset int64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if offset < 0 || offset+int64(len(data)) > d.size {
		return ErrOutOfBounds
	}
	_, err := d.file.WriteAt(data, offset)
	return err
}

func (d *FileDevice) Flush() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return nil
}

func (d *FileDevice) Sync() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.file.Sync()
}

func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}

// MemDevice is an in-memory Device for tests that don't need persistence.
type MemDevice struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemDevice creates an empty in-memory device.
func NewMemDevice() *MemDevice {
	return &MemDevice{}
}

func (d *MemDevice) Len() (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return int64(len(d.data)), nil
}

func (d *MemDevice) SetLen(n int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case n < int64(len(d.data)):
		d.data = d.data[:n]
	case n > int64(len(d.data)):
		grown := make([]byte, n)
		copy(grown, d.data)
		d.data = grown
	}
	return nil
}

func (d *MemDevice) Read(offset int64, buf []byte) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if offset < 0 || offset > int64(len(d.data)) {
		return 0, ErrOutOfBounds
	}
	n := copy(buf, d.data[offset:])
	return n, nil
}

func (d *MemDevice) ReadExact(offset int64, n int) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if offset < 0 || offset+int64(n) > int64(len(d.data)) {
		return nil, ErrOutOfBounds
	}
	buf := make([]byte, n)
	copy(buf, d.data[offset:offset+int64(n)])
	return buf, nil
}

func (d *MemDevice) Write(offset int64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if offset < 0 || offset+int64(len(data)) > int64(len(d.data)) {
		return ErrOutOfBounds
	}
	copy(d.data[offset:], data)
	return nil
}

func (d *MemDevice) Flush() error { return nil }
func (d *MemDevice) Sync() error  { return nil }
func (d *MemDevice) Close() error { return nil }

var (
	_ Device = (*FileDevice)(nil)
	_ Device = (*MemDevice)(nil)
)
