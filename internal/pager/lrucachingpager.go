package pager

import (
	"container/list"
	"sync"
)

// LruCachingPager wraps a lower Pager with a capacity-bounded cache of
// immutable page copies, keyed by page id. Any mutation (GetMut/New/Free)
// invalidates the cached entry for that page.
type LruCachingPager struct {
	mu       sync.Mutex
	lower    Pager
	capacity int
	entries  map[PageID]*list.Element
	order    *list.List // front = most recently used
}

type lruEntry struct {
	id  PageID
	buf []byte
}

// NewLruCachingPager wraps lower with an LRU cache of the given capacity
// (in pages). A non-positive capacity defaults to 256.
func NewLruCachingPager(lower Pager, capacity int) *LruCachingPager {
	if capacity <= 0 {
		capacity = 256
	}
	return &LruCachingPager{
		lower:    lower,
		capacity: capacity,
		entries:  make(map[PageID]*list.Element),
		order:    list.New(),
	}
}

func (c *LruCachingPager) PageSize() int     { return c.lower.PageSize() }
func (c *LruCachingPager) Len() (int, error) { return c.lower.Len() }

func (c *LruCachingPager) Get(id PageID) (Page, error) {
	c.mu.Lock()
	if el, ok := c.entries[id]; ok {
		c.order.MoveToFront(el)
		buf := el.Value.(*lruEntry).buf
		c.mu.Unlock()
		cp := make([]byte, len(buf))
		copy(cp, buf)
		return Page{ID: id, bytes: cp}, nil
	}
	c.mu.Unlock()

	page, err := c.lower.Get(id)
	if err != nil {
		return Page{}, err
	}
	c.cachePut(id, page.Bytes())
	return page, nil
}

func (c *LruCachingPager) cachePut(id PageID, buf []byte) {
	cp := make([]byte, len(buf))
	copy(cp, buf)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[id]; ok {
		el.Value.(*lruEntry).buf = cp
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&lruEntry{id: id, buf: cp})
	c.entries[id] = el
	for c.order.Len() > c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		old := c.order.Remove(back).(*lruEntry)
		delete(c.entries, old.id)
	}
}

func (c *LruCachingPager) invalidate(id PageID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[id]; ok {
		c.order.Remove(el)
		delete(c.entries, id)
	}
}

func (c *LruCachingPager) GetMut(id PageID) (*PageMut, error) {
	mut, err := c.lower.GetMut(id)
	if err != nil {
		return nil, err
	}
	c.invalidate(id)
	inner := mut.release
	return &PageMut{
		ID:    id,
		bytes: mut.bytes,
		release: func(buf []byte) error {
			if err := inner(buf); err != nil {
				return err
			}
			c.cachePut(id, buf)
			return nil
		},
	}, nil
}

func (c *LruCachingPager) New() (*PageMut, PageID, error) {
	mut, id, err := c.lower.New()
	if err != nil {
		return nil, 0, err
	}
	c.invalidate(id)
	inner := mut.release
	return &PageMut{
		ID:    id,
		bytes: mut.bytes,
		release: func(buf []byte) error {
			if err := inner(buf); err != nil {
				return err
			}
			c.cachePut(id, buf)
			return nil
		},
	}, id, nil
}

func (c *LruCachingPager) Free(id PageID) error {
	c.invalidate(id)
	return c.lower.Free(id)
}

func (c *LruCachingPager) Close() error { return c.lower.Close() }

var _ Pager = (*LruCachingPager)(nil)
