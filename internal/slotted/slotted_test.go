package slotted

import (
	"bytes"
	"testing"
)

func newLeaf(size int) *Page {
	return Init(make([]byte, size), KindLeaf)
}

func kv(key, value string) Cell {
	return Cell{Kind: CellKeyValue, Key: []byte(key), Value: []byte(value)}
}

func TestInsertKeepsSortedOrder(t *testing.T) {
	p := newLeaf(512)
	for _, k := range []string{"c", "a", "b"} {
		if err := p.Insert(kv(k, "v:"+k), nil); err != nil {
			t.Fatalf("Insert(%s): %v", k, err)
		}
	}
	cells := p.Iter()
	if len(cells) != 3 {
		t.Fatalf("got %d cells", len(cells))
	}
	want := []string{"a", "b", "c"}
	for i, c := range cells {
		if string(c.Key) != want[i] {
			t.Fatalf("cell %d key = %q, want %q", i, c.Key, want[i])
		}
	}
}

func TestInsertOverwriteReplacesValue(t *testing.T) {
	p := newLeaf(512)
	p.Insert(kv("a", "first"), nil)
	p.Insert(kv("a", "second"), nil)
	if p.CellCount() != 1 {
		t.Fatalf("expected overwrite not to grow cell count, got %d", p.CellCount())
	}
	c, _ := p.Get(0)
	if string(c.Value) != "second" {
		t.Fatalf("got %q", c.Value)
	}
}

func TestDeleteRemovesSlot(t *testing.T) {
	p := newLeaf(512)
	p.Insert(kv("a", "1"), nil)
	p.Insert(kv("b", "2"), nil)
	idx, found := p.Find([]byte("a"), nil)
	if !found {
		t.Fatalf("expected to find 'a'")
	}
	if err := p.Delete(idx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if p.CellCount() != 1 {
		t.Fatalf("got %d cells", p.CellCount())
	}
	if _, found := p.Find([]byte("a"), nil); found {
		t.Fatalf("expected 'a' to be gone")
	}
}

func TestCompactReclaimsFragmentation(t *testing.T) {
	p := newLeaf(256)
	p.Insert(kv("a", "xxxxxxxxxx"), nil)
	p.Insert(kv("b", "yyyyyyyyyy"), nil)
	p.Insert(kv("c", "zzzzzzzzzz"), nil)

	idx, _ := p.Find([]byte("b"), nil)
	p.Delete(idx)

	before, afterCompact := p.FreeBytes()
	p.Compact()
	after, _ := p.FreeBytes()
	if after <= before {
		t.Fatalf("expected compaction to increase contiguous free space: before=%d after=%d", before, after)
	}
	if after != afterCompact {
		t.Fatalf("compact produced %d contiguous bytes, predicted %d", after, afterCompact)
	}

	cells := p.Iter()
	if len(cells) != 2 || string(cells[0].Key) != "a" || string(cells[1].Key) != "c" {
		t.Fatalf("compact reordered or lost cells: %+v", cells)
	}
}

func TestInsertOutOfSpaceSignalsSplit(t *testing.T) {
	p := newLeaf(64)
	var err error
	for i := 0; i < 100 && err == nil; i++ {
		err = p.Insert(kv(string(rune('a'+i)), "0123456789"), nil)
	}
	if err != ErrOutOfSpace {
		t.Fatalf("expected ErrOutOfSpace, got %v", err)
	}
}

func TestInsertKeyTooLarge(t *testing.T) {
	p := newLeaf(64)
	big := bytes.Repeat([]byte("x"), 1000)
	if err := p.Insert(Cell{Kind: CellKeyValue, Key: big}, nil); err != ErrKeyTooLarge {
		t.Fatalf("expected ErrKeyTooLarge, got %v", err)
	}
}

func TestKeyPointerCellRoundTrip(t *testing.T) {
	p := Init(make([]byte, 256), KindInternal)
	c := Cell{Kind: CellKeyPointer, Key: []byte("sep"), Child: 42}
	if err := p.Insert(c, nil); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := p.Get(0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Child != 42 || string(got.Key) != "sep" {
		t.Fatalf("got %+v", got)
	}
}

func TestSiblingPointers(t *testing.T) {
	p := newLeaf(256)
	p.SetLeftSibling(3)
	p.SetRightSibling(4)
	if p.LeftSibling() != 3 || p.RightSibling() != 4 {
		t.Fatalf("sibling pointers not round-tripped")
	}
}
