package pager

import "sync"

// VecPager is the in-memory baseline pager: pages live in a growable slice
// of page-sized buffers, and freed indices are threaded as a stack.
type VecPager struct {
	mu       sync.RWMutex
	pageSize int
	pages    [][]byte
	alloc    []bool // true if pages[i] is live
	freeTop  []PageID
	latches  *latchTable
	closed   bool
}

// NewVecPager creates an empty in-memory pager with the given page size.
func NewVecPager(pageSize int) *VecPager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &VecPager{pageSize: pageSize, latches: newLatchTable()}
}

func (p *VecPager) PageSize() int { return p.pageSize }

func (p *VecPager) Len() (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, live := range p.alloc {
		if live {
			n++
		}
	}
	return n, nil
}

func (p *VecPager) Get(id PageID) (Page, error) {
	latch := p.latches.latch(id)
	latch.RLock()
	defer latch.RUnlock()

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return Page{}, ErrClosed
	}
	if int(id) >= len(p.pages) || !p.alloc[id] {
		return Page{}, ErrNoSuchPage
	}
	cp := make([]byte, p.pageSize)
	copy(cp, p.pages[id])
	return Page{ID: id, bytes: cp}, nil
}

func (p *VecPager) GetMut(id PageID) (*PageMut, error) {
	latch := p.latches.latch(id)
	latch.Lock()

	p.mu.RLock()
	ok := int(id) < len(p.pages) && p.alloc[id]
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		latch.Unlock()
		return nil, ErrClosed
	}
	if !ok {
		latch.Unlock()
		return nil, ErrNoSuchPage
	}

	return &PageMut{
		ID:    id,
		bytes: p.pages[id],
		release: func(buf []byte) error {
			defer latch.Unlock()
			p.mu.Lock()
			p.pages[id] = buf
			p.mu.Unlock()
			return nil
		},
	}, nil
}

func (p *VecPager) New() (*PageMut, PageID, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, 0, ErrClosed
	}
	var id PageID
	if n := len(p.freeTop); n > 0 {
		id = p.freeTop[n-1]
		p.freeTop = p.freeTop[:n-1]
		p.pages[id] = zeroPage(p.pageSize)
		p.alloc[id] = true
	} else {
		id = PageID(len(p.pages))
		p.pages = append(p.pages, zeroPage(p.pageSize))
		p.alloc = append(p.alloc, true)
	}
	p.mu.Unlock()

	latch := p.latches.latch(id)
	latch.Lock()
	return &PageMut{
		ID:    id,
		bytes: p.pages[id],
		release: func(buf []byte) error {
			defer latch.Unlock()
			p.mu.Lock()
			p.pages[id] = buf
			p.mu.Unlock()
			return nil
		},
	}, id, nil
}

func (p *VecPager) Free(id PageID) error {
	latch := p.latches.latch(id)
	latch.Lock()
	defer latch.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if int(id) >= len(p.pages) || !p.alloc[id] {
		return ErrNoSuchPage
	}
	p.pages[id] = zeroPage(p.pageSize)
	p.alloc[id] = false
	p.freeTop = append(p.freeTop, id)
	return nil
}

func (p *VecPager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

var _ Pager = (*VecPager)(nil)
