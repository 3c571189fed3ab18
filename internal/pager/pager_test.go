package pager

import (
	"path/filepath"
	"testing"

	"github.com/weaverdb/weaverdb/internal/device"
)

func allocWriteRead(t *testing.T, p Pager) {
	t.Helper()
	mut, id, err := p.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	buf := mut.Bytes()
	for i := range buf {
		if buf[i] != 0 {
			t.Fatalf("fresh page not zero at %d", i)
		}
	}
	buf[0] = 0xAB
	if err := mut.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	page, err := p.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if page.Bytes()[0] != 0xAB {
		t.Fatalf("got %x want 0xAB", page.Bytes()[0])
	}
}

func TestVecPagerBasics(t *testing.T) {
	p := NewVecPager(256)
	allocWriteRead(t, p)
}

func TestVecPagerFreedPageZeroedOnReuse(t *testing.T) {
	p := NewVecPager(64)
	mut, id, _ := p.New()
	buf := mut.Bytes()
	buf[0] = 0xFF
	mut.Release()

	if err := p.Free(id); err != nil {
		t.Fatalf("Free: %v", err)
	}
	mut2, id2, err := p.New()
	if err != nil {
		t.Fatalf("New after free: %v", err)
	}
	if id2 != id {
		t.Fatalf("expected freed index %d to be reused, got %d", id, id2)
	}
	for i, b := range mut2.Bytes() {
		if b != 0 {
			t.Fatalf("reused page not zero at %d: %d", i, b)
		}
	}
	mut2.Release()
}

func TestVecPagerGetUnallocatedFails(t *testing.T) {
	p := NewVecPager(64)
	if _, err := p.Get(0); err != ErrNoSuchPage {
		t.Fatalf("expected ErrNoSuchPage, got %v", err)
	}
}

func TestFilePagerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.pages")

	dev, err := device.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	fp, err := OpenFilePager(dev, 512)
	if err != nil {
		t.Fatalf("OpenFilePager: %v", err)
	}
	mut, id, err := fp.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	copy(mut.Bytes(), []byte("hello page"))
	mut.Release()
	fp.Close()

	dev2, err := device.OpenFile(path)
	if err != nil {
		t.Fatalf("reopen device: %v", err)
	}
	fp2, err := OpenFilePager(dev2, 512)
	if err != nil {
		t.Fatalf("reopen pager: %v", err)
	}
	defer fp2.Close()
	page, err := fp2.Get(id)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(page.Bytes()[:10]) != "hello page" {
		t.Fatalf("got %q", page.Bytes()[:10])
	}
}

func TestBufferedPagerDefersWrites(t *testing.T) {
	lower := NewVecPager(64)
	bp := NewBufferedPager(lower)

	mut, id, err := bp.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mut.Bytes()[0] = 0x42
	mut.Release()

	// Lower pager should not yet see the write (it was committed as a zero
	// page by New, and the mutation lives in the buffered dirty set).
	lowerPage, _ := lower.Get(id)
	if lowerPage.Bytes()[0] != 0 {
		t.Fatalf("expected lower pager unaffected before Flush")
	}

	if err := bp.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	lowerPage, _ = lower.Get(id)
	if lowerPage.Bytes()[0] != 0x42 {
		t.Fatalf("expected flush to propagate write, got %x", lowerPage.Bytes()[0])
	}
}

func TestLruCachingPagerInvalidatesOnMutation(t *testing.T) {
	lower := NewVecPager(64)
	cp := NewLruCachingPager(lower, 4)

	mut, id, _ := cp.New()
	mut.Bytes()[0] = 1
	mut.Release()

	page, err := cp.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if page.Bytes()[0] != 1 {
		t.Fatalf("got %x", page.Bytes()[0])
	}

	mut2, err := cp.GetMut(id)
	if err != nil {
		t.Fatalf("GetMut: %v", err)
	}
	mut2.Bytes()[0] = 2
	mut2.Release()

	page2, err := cp.Get(id)
	if err != nil {
		t.Fatalf("Get after mutate: %v", err)
	}
	if page2.Bytes()[0] != 2 {
		t.Fatalf("cache not invalidated: got %x want 2", page2.Bytes()[0])
	}
}

func TestLruCachingPagerEvicts(t *testing.T) {
	lower := NewVecPager(64)
	cp := NewLruCachingPager(lower, 2)

	var ids []PageID
	for i := 0; i < 3; i++ {
		mut, id, _ := cp.New()
		mut.Release()
		ids = append(ids, id)
	}
	for _, id := range ids {
		if _, err := cp.Get(id); err != nil {
			t.Fatalf("Get(%d): %v", id, err)
		}
	}
	if cp.order.Len() > 2 {
		t.Fatalf("cache exceeded capacity: %d entries", cp.order.Len())
	}
}

func TestVirtualPagerTableIsolatesTenants(t *testing.T) {
	lower := NewVecPager(128)
	table, err := OpenVirtualPagerTable(lower)
	if err != nil {
		t.Fatalf("OpenVirtualPagerTable: %v", err)
	}

	a, err := table.Get(1)
	if err != nil {
		t.Fatalf("Get(1): %v", err)
	}
	b, err := table.Get(2)
	if err != nil {
		t.Fatalf("Get(2): %v", err)
	}

	mutA, idA, err := a.New()
	if err != nil {
		t.Fatalf("a.New: %v", err)
	}
	mutA.Bytes()[0] = 0xAA
	mutA.Release()

	mutB, idB, err := b.New()
	if err != nil {
		t.Fatalf("b.New: %v", err)
	}
	mutB.Bytes()[0] = 0xBB
	mutB.Release()

	if idA != 0 || idB != 0 {
		t.Fatalf("expected each tenant's own index space to start at 0, got %d and %d", idA, idB)
	}

	pageA, _ := a.Get(idA)
	pageB, _ := b.Get(idB)
	if pageA.Bytes()[0] != 0xAA || pageB.Bytes()[0] != 0xBB {
		t.Fatalf("tenant pages leaked into each other")
	}
}

func TestVirtualPagerTableMappingPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vpt.pages")

	dev, err := device.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	fp, err := OpenFilePager(dev, 512)
	if err != nil {
		t.Fatalf("OpenFilePager: %v", err)
	}
	buffered := NewBufferedPager(fp)
	table, err := OpenVirtualPagerTable(buffered)
	if err != nil {
		t.Fatalf("OpenVirtualPagerTable: %v", err)
	}
	vp, err := table.Get(7)
	if err != nil {
		t.Fatalf("Get(7): %v", err)
	}
	mut, vidx, err := vp.New()
	if err != nil {
		t.Fatalf("vp.New: %v", err)
	}
	copy(mut.Bytes(), []byte("tenant-7"))
	mut.Release()
	buffered.Flush()
	fp.Close()

	dev2, err := device.OpenFile(path)
	if err != nil {
		t.Fatalf("reopen device: %v", err)
	}
	fp2, err := OpenFilePager(dev2, 512)
	if err != nil {
		t.Fatalf("reopen pager: %v", err)
	}
	defer fp2.Close()
	table2, err := OpenVirtualPagerTable(fp2)
	if err != nil {
		t.Fatalf("reopen virtual pager table: %v", err)
	}
	vp2, err := table2.Get(7)
	if err != nil {
		t.Fatalf("Get(7) after reopen: %v", err)
	}
	page, err := vp2.Get(vidx)
	if err != nil {
		t.Fatalf("Get(vidx) after reopen: %v", err)
	}
	if string(page.Bytes()[:8]) != "tenant-7" {
		t.Fatalf("got %q", page.Bytes()[:8])
	}
}
