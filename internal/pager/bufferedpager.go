package pager

import "sync"

// BufferedPager wraps a lower Pager, batching page writes in a dirty set
// until Flush is called explicitly (or the pager is closed).
type BufferedPager struct {
	mu      sync.Mutex
	lower   Pager
	dirty   map[PageID][]byte
	latches *latchTable
}

// NewBufferedPager wraps lower with write batching.
func NewBufferedPager(lower Pager) *BufferedPager {
	return &BufferedPager{
		lower:   lower,
		dirty:   make(map[PageID][]byte),
		latches: newLatchTable(),
	}
}

func (b *BufferedPager) PageSize() int { return b.lower.PageSize() }
func (b *BufferedPager) Len() (int, error) { return b.lower.Len() }

func (b *BufferedPager) Get(id PageID) (Page, error) {
	latch := b.latches.latch(id)
	latch.RLock()
	defer latch.RUnlock()

	b.mu.Lock()
	buf, ok := b.dirty[id]
	b.mu.Unlock()
	if ok {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		return Page{ID: id, bytes: cp}, nil
	}
	return b.lower.Get(id)
}

func (b *BufferedPager) GetMut(id PageID) (*PageMut, error) {
	latch := b.latches.latch(id)
	latch.Lock()

	b.mu.Lock()
	buf, ok := b.dirty[id]
	b.mu.Unlock()
	if !ok {
		page, err := b.lower.Get(id)
		if err != nil {
			latch.Unlock()
			return nil, err
		}
		buf = append([]byte(nil), page.Bytes()...)
	} else {
		buf = append([]byte(nil), buf...)
	}
	return &PageMut{
		ID:    id,
		bytes: buf,
		release: func(nb []byte) error {
			defer latch.Unlock()
			b.mu.Lock()
			b.dirty[id] = nb
			b.mu.Unlock()
			return nil
		},
	}, nil
}

func (b *BufferedPager) New() (*PageMut, PageID, error) {
	lowerMut, id, err := b.lower.New()
	if err != nil {
		return nil, 0, err
	}
	buf := lowerMut.Bytes()
	if err := lowerMut.Release(); err != nil {
		return nil, 0, err
	}

	latch := b.latches.latch(id)
	latch.Lock()
	return &PageMut{
		ID:    id,
		bytes: append([]byte(nil), buf...),
		release: func(nb []byte) error {
			defer latch.Unlock()
			b.mu.Lock()
			b.dirty[id] = nb
			b.mu.Unlock()
			return nil
		},
	}, id, nil
}

func (b *BufferedPager) Free(id PageID) error {
	latch := b.latches.latch(id)
	latch.Lock()
	defer latch.Unlock()

	b.mu.Lock()
	delete(b.dirty, id)
	b.mu.Unlock()
	b.latches.forget(id)
	return b.lower.Free(id)
}

// Flush writes every dirty page through to the lower pager and clears the
// dirty set.
func (b *BufferedPager) Flush() error {
	b.mu.Lock()
	pending := make(map[PageID][]byte, len(b.dirty))
	for id, buf := range b.dirty {
		pending[id] = buf
	}
	b.mu.Unlock()

	for id, buf := range pending {
		lowerMut, err := b.lower.GetMut(id)
		if err != nil {
			return err
		}
		copy(lowerMut.Bytes(), buf)
		if err := lowerMut.Release(); err != nil {
			return err
		}
		b.mu.Lock()
		if existing, ok := b.dirty[id]; ok && string(existing) == string(buf) {
			delete(b.dirty, id)
		}
		b.mu.Unlock()
	}
	return nil
}

func (b *BufferedPager) Close() error {
	if err := b.Flush(); err != nil {
		return err
	}
	return b.lower.Close()
}

var _ Pager = (*BufferedPager)(nil)
