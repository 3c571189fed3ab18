package exec

import (
	"context"
	"testing"

	"github.com/weaverdb/weaverdb/internal/pager"
	"github.com/weaverdb/weaverdb/internal/sql/parser"
	"github.com/weaverdb/weaverdb/internal/sql/planner"
	"github.com/weaverdb/weaverdb/internal/table"
)

// fakeIterator replays a fixed row set, for exercising downstream
// iterators without going through internal/table.
type fakeIterator struct {
	schema Schema
	rows   []Row
	pos    int
	closed bool
}

func newFakeIterator(schema Schema, rows []Row) *fakeIterator {
	return &fakeIterator{schema: schema, rows: rows}
}

func (f *fakeIterator) Schema() Schema { return f.schema }

func (f *fakeIterator) Next(ctx context.Context) (Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, false, err
	}
	if f.pos >= len(f.rows) {
		return Row{}, false, nil
	}
	row := f.rows[f.pos]
	f.pos++
	return row, true, nil
}

func (f *fakeIterator) Close() error {
	f.closed = true
	return nil
}

func col(t, n string) Column { return Column{Table: t, Name: n} }

func colRef(t, n string) *parser.ColumnRef { return &parser.ColumnRef{Table: t, Column: n} }

func lit(v table.Value) *parser.Literal { return &parser.Literal{Value: v} }

func usersRows() (Schema, []Row) {
	schema := Schema{col("u", "id"), col("u", "name"), col("u", "age")}
	rows := []Row{
		{Values: []table.Value{table.Int(1), table.String("alice"), table.Int(30)}},
		{Values: []table.Value{table.Int(2), table.String("bob"), table.Int(25)}},
		{Values: []table.Value{table.Int(3), table.String("carol"), table.Null()}},
	}
	return schema, rows
}

// fakeTables and fakeTx let scan.go be exercised against a real
// internal/table.Table without pulling in the whole storage stack.
type fakeTx struct{ id int64 }

func (f fakeTx) ID() int64                      { return f.id }
func (f fakeTx) IsVisible(writerTxID int64) bool { return true }

type fakeTables struct {
	tables map[string]*table.Table
}

func (f *fakeTables) Open(schemaName, tableName string) (*table.Table, bool) {
	t, ok := f.tables[schemaName+"."+tableName]
	return t, ok
}

func usersSchema() table.Schema {
	return table.Schema{
		Namespace: "main",
		Name:      "users",
		Columns: []table.ColumnDef{
			{Name: "id", Type: table.KindInt},
			{Name: "name", Type: table.KindString},
			{Name: "age", Type: table.KindInt, Nullable: true},
		},
		Indexes: []table.IndexDef{
			{Name: "primary", Columns: []string{"id"}, Unique: true, Primary: true},
		},
		EngineKey: "weaver",
	}
}

func newUsersTables(t *testing.T) (*fakeTables, table.Visibility) {
	t.Helper()
	p := pager.NewVecPager(512)
	tbl, err := table.Create(usersSchema(), p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	tx := fakeTx{id: 1}
	rows := []table.Row{
		{Values: []table.Value{table.Int(1), table.String("alice"), table.Int(30)}},
		{Values: []table.Value{table.Int(2), table.String("bob"), table.Int(25)}},
		{Values: []table.Value{table.Int(3), table.String("carol"), table.Null()}},
	}
	for _, r := range rows {
		if _, err := tbl.Insert(tx, r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	return &fakeTables{tables: map[string]*table.Table{"main.users": tbl}}, tx
}

func drainAll(t *testing.T, it Iterator) []Row {
	t.Helper()
	var out []Row
	for {
		row, ok, err := it.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		out = append(out, row)
	}
	if err := it.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return out
}

func TestScanIteratorReadsAllRowsInKeyOrder(t *testing.T) {
	tables, tx := newUsersTables(t)
	node := &planner.TableScan{Schema: "main", Table: "users", Alias: "u"}
	it, err := newScanIterator(node, tables, tx)
	if err != nil {
		t.Fatalf("newScanIterator: %v", err)
	}
	rows := drainAll(t, it)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].Values[0].Int != 1 || rows[2].Values[0].Int != 3 {
		t.Fatalf("rows not in key order: %+v", rows)
	}
}

func TestScanIteratorEqualityCandidateNarrowsToOneRow(t *testing.T) {
	tables, tx := newUsersTables(t)
	node := &planner.TableScan{
		Schema: "main", Table: "users", Alias: "u",
		KeyIndexCandidates: []planner.KeyIndexCandidate{
			{Index: "id", Equality: true, Eq: lit(table.Int(2))},
		},
	}
	it, err := newScanIterator(node, tables, tx)
	if err != nil {
		t.Fatalf("newScanIterator: %v", err)
	}
	rows := drainAll(t, it)
	if len(rows) != 1 || rows[0].Values[1].Str != "bob" {
		t.Fatalf("expected exactly bob, got %+v", rows)
	}
}

func TestScanIteratorRetainsBothRangeBounds(t *testing.T) {
	tables, tx := newUsersTables(t)
	node := &planner.TableScan{
		Schema: "main", Table: "users", Alias: "u",
		KeyIndexCandidates: []planner.KeyIndexCandidate{
			{Index: "id", Lo: lit(table.Int(1)), LoIncl: false},
			{Index: "id", Hi: lit(table.Int(3)), HiIncl: false},
		},
	}
	it, err := newScanIterator(node, tables, tx)
	if err != nil {
		t.Fatalf("newScanIterator: %v", err)
	}
	rows := drainAll(t, it)
	if len(rows) != 1 || rows[0].Values[0].Int != 2 {
		t.Fatalf("expected only id=2 (1 < id < 3), got %+v", rows)
	}
}

func TestScanIteratorFallsBackToFilterForUnindexedColumn(t *testing.T) {
	tables, tx := newUsersTables(t)
	node := &planner.TableScan{
		Schema: "main", Table: "users", Alias: "u",
		KeyIndexCandidates: []planner.KeyIndexCandidate{
			{Index: "name", Equality: true, Eq: lit(table.String("bob"))},
		},
	}
	it, err := newScanIterator(node, tables, tx)
	if err != nil {
		t.Fatalf("newScanIterator: %v", err)
	}
	rows := drainAll(t, it)
	if len(rows) != 1 || rows[0].Values[1].Str != "bob" {
		t.Fatalf("expected exactly bob via residual filter, got %+v", rows)
	}
}

func TestExecBuildUnsupportedNodeErrors(t *testing.T) {
	_, err := build(nil, nil, nil)
	if err == nil {
		t.Fatalf("expected an error for an unsupported node")
	}
}
