package table

import (
	"errors"
	"fmt"
	"testing"

	"github.com/weaverdb/weaverdb/internal/pager"
)

type fakeTx struct {
	id      int64
	visible map[int64]bool
}

func (f fakeTx) ID() int64 { return f.id }
func (f fakeTx) IsVisible(writerTxID int64) bool {
	if writerTxID == f.id {
		return true
	}
	return f.visible[writerTxID]
}

func allVisible(id int64) fakeTx { return fakeTx{id: id, visible: map[int64]bool{}} }

func usersSchema() Schema {
	return Schema{
		Namespace: "main",
		Name:      "users",
		Columns: []ColumnDef{
			{Name: "id", Type: KindInt, AutoIncrement: true},
			{Name: "email", Type: KindString},
			{Name: "age", Type: KindInt, Nullable: true},
		},
		Indexes: []IndexDef{
			{Name: "primary", Columns: []string{"id"}, Unique: true, Primary: true},
			{Name: "by_email", Columns: []string{"email"}, Unique: true},
		},
		EngineKey: "weaver",
	}
}

func newUsersTable(t *testing.T) *Table {
	t.Helper()
	p := pager.NewVecPager(512)
	tbl, err := Create(usersSchema(), p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tbl
}

func TestInsertAssignsAutoIncrementAndRowID(t *testing.T) {
	tbl := newUsersTable(t)
	tx := allVisible(1)

	r1, err := tbl.Insert(tx, Row{Values: []Value{Null(), String("a@example.com"), Int(30)}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	r2, err := tbl.Insert(tx, Row{Values: []Value{Null(), String("b@example.com"), Int(31)}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if r1.Values[0].Int != 1 || r2.Values[0].Int != 2 {
		t.Fatalf("auto-increment not sequential: %d, %d", r1.Values[0].Int, r2.Values[0].Int)
	}
	if r1.RowID == r2.RowID {
		t.Fatalf("expected distinct row ids")
	}
}

func TestInsertDuplicatePrimaryKeyFails(t *testing.T) {
	tbl := newUsersTable(t)
	tx := allVisible(1)
	tbl.Insert(tx, Row{Values: []Value{Int(1), String("a@example.com"), Null()}})
	_, err := tbl.Insert(tx, Row{Values: []Value{Int(1), String("other@example.com"), Null()}})
	if err != ErrDuplicateKey {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestInsertRejectsValueLongerThanDeclaredMaxLen(t *testing.T) {
	schema := usersSchema()
	schema.Columns[1].MaxLen = 8
	p := pager.NewVecPager(512)
	tbl, err := Create(schema, p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tx := allVisible(1)
	_, err = tbl.Insert(tx, Row{Values: []Value{Int(1), String("way-too-long@example.com"), Null()}})
	if err == nil || !errors.Is(err, ErrValueTooLong) {
		t.Fatalf("expected ErrValueTooLong, got %v", err)
	}
	if _, err := tbl.Insert(tx, Row{Values: []Value{Int(2), String("short"), Null()}}); err != nil {
		t.Fatalf("Insert within bound: %v", err)
	}
}

func TestInsertDuplicateSecondaryUniqueFails(t *testing.T) {
	tbl := newUsersTable(t)
	tx := allVisible(1)
	tbl.Insert(tx, Row{Values: []Value{Int(1), String("dup@example.com"), Null()}})
	_, err := tbl.Insert(tx, Row{Values: []Value{Int(2), String("dup@example.com"), Null()}})
	if err != ErrDuplicateKey {
		t.Fatalf("expected ErrDuplicateKey on unique secondary collision, got %v", err)
	}
}

func TestReadByPrimaryOne(t *testing.T) {
	tbl := newUsersTable(t)
	tx := allVisible(1)
	tbl.Insert(tx, Row{Values: []Value{Int(7), String("x@example.com"), Int(10)}})

	rows, err := tbl.Read(tx, One("primary", Int(7)))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(rows) != 1 || rows[0].Values[1].Str != "x@example.com" {
		t.Fatalf("got %+v", rows)
	}
}

func TestReadBySecondaryIndex(t *testing.T) {
	tbl := newUsersTable(t)
	tx := allVisible(1)
	tbl.Insert(tx, Row{Values: []Value{Int(1), String("a@example.com"), Null()}})
	tbl.Insert(tx, Row{Values: []Value{Int(2), String("b@example.com"), Null()}})

	rows, err := tbl.Read(tx, One("by_email", String("b@example.com")))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(rows) != 1 || rows[0].Values[0].Int != 2 {
		t.Fatalf("got %+v", rows)
	}
}

func TestUpdateChangesSecondaryIndex(t *testing.T) {
	tbl := newUsersTable(t)
	tx := allVisible(1)
	tbl.Insert(tx, Row{Values: []Value{Int(1), String("old@example.com"), Null()}})

	_, err := tbl.Update(tx, Row{Values: []Value{Int(1), String("new@example.com"), Null()}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if rows, _ := tbl.Read(tx, One("by_email", String("old@example.com"))); len(rows) != 0 {
		t.Fatalf("expected old secondary key gone, got %+v", rows)
	}
	rows, err := tbl.Read(tx, One("by_email", String("new@example.com")))
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected new secondary key present: rows=%+v err=%v", rows, err)
	}
}

func TestDeleteHidesRowFromReads(t *testing.T) {
	tbl := newUsersTable(t)
	tx := allVisible(1)
	tbl.Insert(tx, Row{Values: []Value{Int(1), String("a@example.com"), Null()}})

	deleted, err := tbl.Delete(tx, One("primary", Int(1)))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(deleted) != 1 {
		t.Fatalf("expected 1 deleted row, got %d", len(deleted))
	}
	if rows, _ := tbl.Read(tx, All("primary")); len(rows) != 0 {
		t.Fatalf("expected no visible rows after delete, got %+v", rows)
	}
}

func TestReadFiltersInvisibleWriters(t *testing.T) {
	tbl := newUsersTable(t)
	writer := allVisible(5)
	tbl.Insert(writer, Row{Values: []Value{Int(1), String("a@example.com"), Null()}})

	reader := fakeTx{id: 6, visible: map[int64]bool{}} // 5 not in reader's visible set
	rows, err := tbl.Read(reader, All("primary"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected writer 5's row invisible to reader 6, got %+v", rows)
	}

	reader2 := fakeTx{id: 6, visible: map[int64]bool{5: true}}
	rows2, err := tbl.Read(reader2, All("primary"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(rows2) != 1 {
		t.Fatalf("expected writer 5's row visible once published, got %+v", rows2)
	}
}

func TestRangeQueryOrderingAndBounds(t *testing.T) {
	tbl := newUsersTable(t)
	tx := allVisible(1)
	for i := int64(1); i <= 10; i++ {
		tbl.Insert(tx, Row{Values: []Value{Int(i), String(fmt.Sprintf("u%d@example.com", i)), Null()}})
	}

	rows, err := tbl.Read(tx, Range("primary", []Value{Int(3)}, []Value{Int(6)}, true, false))
	if err != nil {
		t.Fatalf("Read range: %v", err)
	}
	var ids []int64
	for _, r := range rows {
		ids = append(ids, r.Values[0].Int)
	}
	want := []int64{3, 4, 5}
	if len(ids) != len(want) {
		t.Fatalf("got %v want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got %v want %v", ids, want)
		}
	}
}

func TestFloatKeyTotalOrder(t *testing.T) {
	vals := []float64{-0.0, 0.0, -1.5, 1.5, 3.14}
	keys := make([][]byte, len(vals))
	for i, f := range vals {
		keys[i] = EncodeKeyValue(nil, Float(f), nil)
	}
	if bytesLess(keys[2], keys[0]) && bytesLess(keys[0], keys[3]) {
		// -1.5 < 0 or -0 < 1.5: either ordering of the signed zeros is fine,
		// the important property is monotonic ordering by numeric value.
	} else {
		t.Fatalf("float key ordering not monotonic for negatives: %v", vals)
	}
	if !bytesLess(keys[3], keys[4]) {
		t.Fatalf("expected 1.5 < 3.14 in encoded key order")
	}
}

func bytesLess(a, b []byte) bool {
	return ByteCompareForTest(a, b) < 0
}

func ByteCompareForTest(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
