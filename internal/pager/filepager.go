package pager

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/weaverdb/weaverdb/internal/device"
)

// On-disk header layout, per spec §6.
const (
	magicString    = "WEAVERDB"
	headerMagicOff = 0
	headerMagicLen = 8
	headerVerOff   = 8
	headerPageSzOf = 12
	headerCountOff = 16
	headerFreeOff  = 20
	formatVersion  = 1
)

// ErrCorruption is returned when the header's magic number or structure is
// unrecognizable.
type ErrCorruption struct{ Reason string }

func (e *ErrCorruption) Error() string { return "pager: corruption: " + e.Reason }

// FilePager is a device-backed pager implementing the §6 on-disk layout:
// a reserved header page followed by fixed-size pages, with a free list
// threaded through the first 4 bytes of freed pages and persisted via the
// header's free-list-head pointer.
type FilePager struct {
	mu       sync.Mutex
	dev      device.Device
	pageSize int
	count    uint32
	freeHead uint32
	latches  *latchTable
}

// OpenFilePager opens an existing file-backed pager, or creates one (with
// the given page size) if the device is empty.
func OpenFilePager(dev device.Device, pageSize int) (*FilePager, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	length, err := dev.Len()
	if err != nil {
		return nil, err
	}
	fp := &FilePager{dev: dev, pageSize: pageSize, latches: newLatchTable()}
	if length == 0 {
		if err := fp.initHeader(); err != nil {
			return nil, err
		}
		return fp, nil
	}
	if err := fp.readHeader(); err != nil {
		return nil, err
	}
	return fp, nil
}

func (p *FilePager) initHeader() error {
	if err := p.dev.SetLen(int64(p.pageSize)); err != nil {
		return err
	}
	p.count = 0
	p.freeHead = uint32(NoPage)
	return p.writeHeader()
}

func (p *FilePager) writeHeader() error {
	buf := make([]byte, p.pageSize)
	copy(buf[headerMagicOff:headerMagicOff+headerMagicLen], magicString)
	binary.LittleEndian.PutUint32(buf[headerVerOff:], formatVersion)
	binary.LittleEndian.PutUint32(buf[headerPageSzOf:], uint32(p.pageSize))
	binary.LittleEndian.PutUint32(buf[headerCountOff:], p.count)
	binary.LittleEndian.PutUint32(buf[headerFreeOff:], p.freeHead)
	return p.dev.Write(0, buf)
}

func (p *FilePager) readHeader() error {
	buf, err := p.dev.ReadExact(0, p.pageSize)
	if err != nil {
		// Device may have been created with a different page size; try the
		// default header size to discover the real one.
		buf, err = p.dev.ReadExact(0, headerFreeOff+4)
		if err != nil {
			return err
		}
	}
	if string(buf[headerMagicOff:headerMagicOff+headerMagicLen]) != magicString {
		return &ErrCorruption{Reason: "bad magic number"}
	}
	onDiskPageSize := int(binary.LittleEndian.Uint32(buf[headerPageSzOf:]))
	if onDiskPageSize != 0 {
		p.pageSize = onDiskPageSize
	}
	p.count = binary.LittleEndian.Uint32(buf[headerCountOff:])
	p.freeHead = binary.LittleEndian.Uint32(buf[headerFreeOff:])
	return nil
}

func (p *FilePager) offsetOf(id PageID) int64 {
	return int64(p.pageSize) * (int64(id) + 1)
}

func (p *FilePager) PageSize() int { return p.pageSize }

func (p *FilePager) Len() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.count), nil
}

func (p *FilePager) Get(id PageID) (Page, error) {
	latch := p.latches.latch(id)
	latch.RLock()
	defer latch.RUnlock()

	p.mu.Lock()
	count := p.count
	pageSize := p.pageSize
	p.mu.Unlock()
	if uint32(id) >= count {
		return Page{}, ErrNoSuchPage
	}
	buf, err := p.dev.ReadExact(p.offsetOf(id), pageSize)
	if err != nil {
		return Page{}, err
	}
	return Page{ID: id, bytes: buf}, nil
}

func (p *FilePager) GetMut(id PageID) (*PageMut, error) {
	latch := p.latches.latch(id)
	latch.Lock()

	p.mu.Lock()
	count := p.count
	p.mu.Unlock()
	if uint32(id) >= count {
		latch.Unlock()
		return nil, ErrNoSuchPage
	}
	buf, err := p.dev.ReadExact(p.offsetOf(id), p.pageSize)
	if err != nil {
		latch.Unlock()
		return nil, err
	}
	return &PageMut{
		ID:    id,
		bytes: buf,
		release: func(b []byte) error {
			defer latch.Unlock()
			return p.dev.Write(p.offsetOf(id), b)
		},
	}, nil
}

func (p *FilePager) New() (*PageMut, PageID, error) {
	p.mu.Lock()
	var id PageID
	if p.freeHead != uint32(NoPage) {
		id = PageID(p.freeHead)
		hdr, err := p.dev.ReadExact(p.offsetOf(id), 4)
		if err != nil {
			p.mu.Unlock()
			return nil, 0, err
		}
		p.freeHead = binary.LittleEndian.Uint32(hdr)
	} else {
		id = PageID(p.count)
		newLen := p.offsetOf(id) + int64(p.pageSize)
		if err := p.dev.SetLen(newLen); err != nil {
			p.mu.Unlock()
			return nil, 0, err
		}
		p.count++
	}
	if err := p.writeHeader(); err != nil {
		p.mu.Unlock()
		return nil, 0, err
	}
	p.mu.Unlock()

	latch := p.latches.latch(id)
	latch.Lock()
	buf := zeroPage(p.pageSize)
	if err := p.dev.Write(p.offsetOf(id), buf); err != nil {
		latch.Unlock()
		return nil, 0, err
	}
	return &PageMut{
		ID:    id,
		bytes: buf,
		release: func(b []byte) error {
			defer latch.Unlock()
			return p.dev.Write(p.offsetOf(id), b)
		},
	}, id, nil
}

func (p *FilePager) Free(id PageID) error {
	latch := p.latches.latch(id)
	latch.Lock()
	defer latch.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if uint32(id) >= p.count {
		return ErrNoSuchPage
	}
	buf := zeroPage(p.pageSize)
	binary.LittleEndian.PutUint32(buf[:4], p.freeHead)
	if err := p.dev.Write(p.offsetOf(id), buf); err != nil {
		return err
	}
	p.freeHead = uint32(id)
	return p.writeHeader()
}

func (p *FilePager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.dev.Flush(); err != nil {
		return fmt.Errorf("flush on close: %w", err)
	}
	return p.dev.Close()
}

var _ Pager = (*FilePager)(nil)
