package exec

import (
	"testing"

	"github.com/weaverdb/weaverdb/internal/sql/parser"
	"github.com/weaverdb/weaverdb/internal/table"
)

func tv(a, b int64) []table.Value { return []table.Value{table.Int(a), table.Int(b)} }

func TestOrderByIteratorSortsAscendingByDefault(t *testing.T) {
	schema, rows := usersRows()
	keys := []parser.OrderTerm{{Expr: colRef("u", "age")}}
	oi, err := newOrderByIterator(newFakeIterator(schema, rows), keys)
	if err != nil {
		t.Fatalf("newOrderByIterator: %v", err)
	}
	out := drainAll(t, oi)
	// carol's age is NULL and must sort least.
	if out[0].Values[1].Str != "carol" || out[1].Values[1].Str != "bob" || out[2].Values[1].Str != "alice" {
		t.Fatalf("unexpected order: %+v", out)
	}
}

func TestOrderByIteratorDescending(t *testing.T) {
	schema, rows := usersRows()
	keys := []parser.OrderTerm{{Expr: colRef("u", "id"), Descending: true}}
	oi, err := newOrderByIterator(newFakeIterator(schema, rows), keys)
	if err != nil {
		t.Fatalf("newOrderByIterator: %v", err)
	}
	out := drainAll(t, oi)
	if out[0].Values[0].Int != 3 || out[2].Values[0].Int != 1 {
		t.Fatalf("expected descending id order, got %+v", out)
	}
}

func TestOrderByIteratorMultiKeyTieBreak(t *testing.T) {
	schema := Schema{col("t", "a"), col("t", "b")}
	rows := []Row{
		{Values: tv(1, 2)},
		{Values: tv(1, 1)},
		{Values: tv(0, 5)},
	}
	keys := []parser.OrderTerm{{Expr: colRef("t", "a")}, {Expr: colRef("t", "b")}}
	oi, err := newOrderByIterator(newFakeIterator(schema, rows), keys)
	if err != nil {
		t.Fatalf("newOrderByIterator: %v", err)
	}
	out := drainAll(t, oi)
	if out[0].Values[0].Int != 0 {
		t.Fatalf("expected a=0 first, got %+v", out[0])
	}
	if out[1].Values[1].Int != 1 || out[2].Values[1].Int != 2 {
		t.Fatalf("expected a=1 rows ordered by b ascending, got %+v", out[1:])
	}
}
