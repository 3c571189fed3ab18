package pager

import (
	"encoding/json"
	"fmt"
	"sync"
)

// VirtualPagerTable multiplexes a single lower Pager into N independent
// virtual pagers keyed by a small identifier, each presenting its own
// contiguous index space starting at 0. The id->lower-page mapping is
// persisted in a reserved metadata page of the lower pager.
type VirtualPagerTable struct {
	mu     sync.Mutex
	lower  Pager
	metaID PageID
	dirs   map[uint32][]PageID // virtual id -> ordered lower page ids (NoPage = freed slot)
	free   map[uint32][]uint32 // virtual id -> reusable virtual indices
}

type pagerMeta struct {
	Dirs map[uint32][]PageID `json:"dirs"`
	Free map[uint32][]uint32 `json:"free"`
}

// OpenVirtualPagerTable opens (or, if the lower pager is empty, creates)
// the virtual pager table backed by lower.
func OpenVirtualPagerTable(lower Pager) (*VirtualPagerTable, error) {
	n, err := lower.Len()
	if err != nil {
		return nil, err
	}
	t := &VirtualPagerTable{
		lower: lower,
		dirs:  make(map[uint32][]PageID),
		free:  make(map[uint32][]uint32),
	}
	if n == 0 {
		mut, id, err := lower.New()
		if err != nil {
			return nil, err
		}
		t.metaID = id
		if err := mut.Release(); err != nil {
			return nil, err
		}
		if err := t.persist(); err != nil {
			return nil, err
		}
		return t, nil
	}
	t.metaID = 0
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *VirtualPagerTable) load() error {
	page, err := t.lower.Get(t.metaID)
	if err != nil {
		return err
	}
	trimmed := trimZero(page.Bytes())
	if len(trimmed) == 0 {
		return nil
	}
	var m pagerMeta
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return &ErrCorruption{Reason: "virtual pager metadata: " + err.Error()}
	}
	if m.Dirs != nil {
		t.dirs = m.Dirs
	}
	if m.Free != nil {
		t.free = m.Free
	}
	return nil
}

func (t *VirtualPagerTable) persist() error {
	buf, err := json.Marshal(pagerMeta{Dirs: t.dirs, Free: t.free})
	if err != nil {
		return err
	}
	if len(buf) > t.lower.PageSize() {
		return fmt.Errorf("pager: virtual pager metadata (%d bytes) exceeds page size %d", len(buf), t.lower.PageSize())
	}
	mut, err := t.lower.GetMut(t.metaID)
	if err != nil {
		return err
	}
	page := mut.Bytes()
	for i := range page {
		page[i] = 0
	}
	copy(page, buf)
	return mut.Release()
}

func trimZero(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return b[:i]
}

// Get returns (creating if necessary) the virtual pager for id.
func (t *VirtualPagerTable) Get(id uint32) (*VirtualPager, error) {
	t.mu.Lock()
	if _, ok := t.dirs[id]; !ok {
		t.dirs[id] = nil
		if err := t.persist(); err != nil {
			t.mu.Unlock()
			return nil, err
		}
	}
	t.mu.Unlock()
	return &VirtualPager{table: t, id: id}, nil
}

// VirtualPager is one tenant's contiguous page index space within a
// VirtualPagerTable.
type VirtualPager struct {
	table *VirtualPagerTable
	id    uint32
}

func (v *VirtualPager) PageSize() int { return v.table.lower.PageSize() }

func (v *VirtualPager) Len() (int, error) {
	v.table.mu.Lock()
	defer v.table.mu.Unlock()
	n := 0
	for _, lid := range v.table.dirs[v.id] {
		if lid != NoPage {
			n++
		}
	}
	return n, nil
}

func (v *VirtualPager) resolve(vidx PageID) (PageID, error) {
	v.table.mu.Lock()
	defer v.table.mu.Unlock()
	dir := v.table.dirs[v.id]
	if int(vidx) >= len(dir) || dir[vidx] == NoPage {
		return 0, ErrNoSuchPage
	}
	return dir[vidx], nil
}

func (v *VirtualPager) Get(vidx PageID) (Page, error) {
	lid, err := v.resolve(vidx)
	if err != nil {
		return Page{}, err
	}
	page, err := v.table.lower.Get(lid)
	if err != nil {
		return Page{}, err
	}
	return Page{ID: vidx, bytes: page.Bytes()}, nil
}

func (v *VirtualPager) GetMut(vidx PageID) (*PageMut, error) {
	lid, err := v.resolve(vidx)
	if err != nil {
		return nil, err
	}
	mut, err := v.table.lower.GetMut(lid)
	if err != nil {
		return nil, err
	}
	return &PageMut{ID: vidx, bytes: mut.Bytes(), release: mut.release}, nil
}

func (v *VirtualPager) New() (*PageMut, PageID, error) {
	mut, lid, err := v.table.lower.New()
	if err != nil {
		return nil, 0, err
	}

	v.table.mu.Lock()
	var vidx PageID
	freeSlots := v.table.free[v.id]
	if n := len(freeSlots); n > 0 {
		vidx = PageID(freeSlots[n-1])
		v.table.free[v.id] = freeSlots[:n-1]
		v.table.dirs[v.id][vidx] = lid
	} else {
		vidx = PageID(len(v.table.dirs[v.id]))
		v.table.dirs[v.id] = append(v.table.dirs[v.id], lid)
	}
	persistErr := v.table.persist()
	v.table.mu.Unlock()
	if persistErr != nil {
		return nil, 0, persistErr
	}

	return &PageMut{ID: vidx, bytes: mut.Bytes(), release: mut.release}, vidx, nil
}

func (v *VirtualPager) Free(vidx PageID) error {
	lid, err := v.resolve(vidx)
	if err != nil {
		return err
	}
	if err := v.table.lower.Free(lid); err != nil {
		return err
	}
	v.table.mu.Lock()
	defer v.table.mu.Unlock()
	v.table.dirs[v.id][vidx] = NoPage
	v.table.free[v.id] = append(v.table.free[v.id], uint32(vidx))
	return v.table.persist()
}

func (v *VirtualPager) Close() error { return nil }

var _ Pager = (*VirtualPager)(nil)
