package exec

import (
	"context"

	"github.com/weaverdb/weaverdb/internal/sql/parser"
)

// filterIterator implements planner.Filter: evaluates the predicate
// row-by-row, keeping a row only when it evaluates to a non-null true
// (spec §4.9: "NULL in boolean context treated as false for filtering").
type filterIterator struct {
	child     Iterator
	predicate parser.Expr
	en        env
}

func newFilterIterator(child Iterator, predicate parser.Expr) *filterIterator {
	return &filterIterator{child: child, predicate: predicate, en: env{schema: child.Schema()}}
}

func (f *filterIterator) Schema() Schema { return f.child.Schema() }

func (f *filterIterator) Next(ctx context.Context) (Row, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Row{}, false, err
		}
		row, ok, err := f.child.Next(ctx)
		if err != nil || !ok {
			return Row{}, false, err
		}
		result, err := evalExpr(f.predicate, row, f.en)
		if err != nil {
			return Row{}, false, err
		}
		if truthy(result) {
			return row, true, nil
		}
	}
}

func (f *filterIterator) Close() error { return f.child.Close() }
