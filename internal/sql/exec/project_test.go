package exec

import (
	"testing"

	"github.com/weaverdb/weaverdb/internal/sql/planner"
)

func TestProjectIteratorSelectsAndAliasesColumns(t *testing.T) {
	schema, rows := usersRows()
	cols := []planner.ProjectExpr{
		{Expr: colRef("u", "name"), Alias: "who"},
	}
	pi, err := newProjectIterator(newFakeIterator(schema, rows), cols)
	if err != nil {
		t.Fatalf("newProjectIterator: %v", err)
	}
	if len(pi.Schema()) != 1 || pi.Schema()[0].Name != "who" {
		t.Fatalf("expected aliased schema, got %+v", pi.Schema())
	}
	out := drainAll(t, pi)
	if len(out) != 3 || out[0].Values[0].Str != "alice" {
		t.Fatalf("unexpected projected rows: %+v", out)
	}
}

func TestProjectIteratorExpandsBareStar(t *testing.T) {
	schema, rows := usersRows()
	cols := []planner.ProjectExpr{{Star: true}}
	pi, err := newProjectIterator(newFakeIterator(schema, rows), cols)
	if err != nil {
		t.Fatalf("newProjectIterator: %v", err)
	}
	if len(pi.Schema()) != 3 {
		t.Fatalf("expected 3 expanded columns, got %d", len(pi.Schema()))
	}
	out := drainAll(t, pi)
	if len(out[0].Values) != 3 {
		t.Fatalf("expected 3 values per row, got %d", len(out[0].Values))
	}
}

func TestProjectIteratorExpandsQualifiedStar(t *testing.T) {
	schema := Schema{col("u", "id"), col("o", "total")}
	cols := []planner.ProjectExpr{{TableStar: "o"}}
	pi, err := newProjectIterator(newFakeIterator(schema, nil), cols)
	if err != nil {
		t.Fatalf("newProjectIterator: %v", err)
	}
	if len(pi.Schema()) != 1 || pi.Schema()[0].Table != "o" {
		t.Fatalf("expected only o's column, got %+v", pi.Schema())
	}
}
