package exec

import (
	"testing"

	"github.com/weaverdb/weaverdb/internal/sql/parser"
	"github.com/weaverdb/weaverdb/internal/table"
)

func TestFilterIteratorKeepsOnlyMatchingRows(t *testing.T) {
	schema, rows := usersRows()
	pred := &parser.BinaryExpr{Op: parser.OpGt, Left: colRef("u", "age"), Right: lit(table.Int(26))}
	fi := newFilterIterator(newFakeIterator(schema, rows), pred)
	out := drainAll(t, fi)
	if len(out) != 1 || out[0].Values[1].Str != "alice" {
		t.Fatalf("expected only alice, got %+v", out)
	}
}

func TestFilterIteratorTreatsNullPredicateAsFalse(t *testing.T) {
	schema, rows := usersRows()
	// carol's age is NULL; age > 0 evaluates to NULL for her row, which
	// must be excluded rather than kept.
	pred := &parser.BinaryExpr{Op: parser.OpGt, Left: colRef("u", "age"), Right: lit(table.Int(0))}
	fi := newFilterIterator(newFakeIterator(schema, rows), pred)
	out := drainAll(t, fi)
	for _, r := range out {
		if r.Values[1].Str == "carol" {
			t.Fatalf("carol should have been filtered out: %+v", out)
		}
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(out))
	}
}
