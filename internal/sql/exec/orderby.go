package exec

import (
	"context"

	"golang.org/x/exp/slices"

	"github.com/weaverdb/weaverdb/internal/sql/parser"
	"github.com/weaverdb/weaverdb/internal/table"
)

// orderByIterator implements planner.OrderBy: buffers the child fully,
// sorts once, then streams (spec §4.9). Keys are compared lexicographically
// left to right; NULLs sort least, matching table.Compare's ordering rule
// rather than three-valued WHERE semantics — ORDER BY is a sort, not a
// predicate.
type orderByIterator struct {
	schema Schema
	rows   []Row
	pos    int
}

func newOrderByIterator(child Iterator, keys []parser.OrderTerm) (*orderByIterator, error) {
	schema := child.Schema()
	en := env{schema: schema}

	rows, err := drain(child)
	if err != nil {
		return nil, err
	}

	keyVals := make([][]table.Value, len(rows))
	for i, row := range rows {
		vals := make([]table.Value, len(keys))
		for j, k := range keys {
			v, err := evalExpr(k.Expr, row, en)
			if err != nil {
				return nil, err
			}
			vals[j] = v
		}
		keyVals[i] = vals
	}

	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(ia, ib int) int {
		for k := range keys {
			cmp := table.Compare(keyVals[ia][k], keyVals[ib][k], table.BinaryCollation)
			if keys[k].Descending {
				cmp = -cmp
			}
			if cmp != 0 {
				return cmp
			}
		}
		return 0
	})

	out := make([]Row, len(rows))
	for i, j := range idx {
		out[i] = rows[j]
	}
	return &orderByIterator{schema: schema, rows: out}, nil
}

func (o *orderByIterator) Schema() Schema { return o.schema }

func (o *orderByIterator) Next(ctx context.Context) (Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, false, err
	}
	if o.pos >= len(o.rows) {
		return Row{}, false, nil
	}
	row := o.rows[o.pos]
	o.pos++
	return row, true, nil
}

func (o *orderByIterator) Close() error {
	o.rows = nil
	return nil
}
