package exec

import (
	"context"

	"github.com/weaverdb/weaverdb/internal/sql/parser"
	"github.com/weaverdb/weaverdb/internal/sql/planner"
	"github.com/weaverdb/weaverdb/internal/table"
)

// joinIterator implements planner.Join (spec §4.9). Both inputs are
// drained up front — table reads are already fully materialized beneath
// internal/table (see scanIterator's doc comment), so nothing is lost by
// building the match set eagerly here; the Iterator interface still only
// hands rows to the caller one at a time via Next.
//
// Hash strategy is implemented for real when the ON clause is a single
// equality between one column from each side: the smaller input builds
// a map, the larger probes it (spec §4.9: "build a map from the smaller
// input's join-key"). Sort-merge and nested-loop both fall back to a
// pairwise predicate evaluation; true sort-merge would require the two
// inputs to already arrive sorted on the join key, which isn't wired
// into the planner's strategy selection yet (documented simplification
// — see DESIGN.md).
type joinIterator struct {
	schema Schema
	rows   []Row
	pos    int
}

func newJoinIterator(node *planner.Join, left, right Iterator) (*joinIterator, error) {
	leftRows, err := drain(left)
	if err != nil {
		return nil, err
	}
	rightRows, err := drain(right)
	if err != nil {
		return nil, err
	}

	leftSchema, rightSchema := left.Schema(), right.Schema()
	combined := append(append(Schema{}, leftSchema...), rightSchema...)
	en := env{schema: combined}
	leftWidth := len(leftSchema)
	rightWidth := len(rightSchema)

	var out []Row
	switch node.Kind {
	case parser.CrossJoin:
		for _, l := range leftRows {
			for _, r := range rightRows {
				out = append(out, concatRows(l, r))
			}
		}
	default:
		if node.Strategy == planner.StrategyHash {
			if li, ri, ok := equiJoinColumns(node.On, leftSchema, rightSchema); ok {
				out = hashJoin(leftRows, rightRows, li, ri, node.Kind, leftWidth, rightWidth)
				break
			}
		}
		out, err = nestedLoopJoin(leftRows, rightRows, node.On, en, node.Kind, leftWidth, rightWidth)
		if err != nil {
			return nil, err
		}
	}
	return &joinIterator{schema: combined, rows: out}, nil
}

func drain(it Iterator) ([]Row, error) {
	var out []Row
	ctx := context.Background()
	for {
		row, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, row)
	}
	return out, it.Close()
}

func concatRows(l, r Row) Row {
	v := make([]table.Value, 0, len(l.Values)+len(r.Values))
	v = append(v, l.Values...)
	v = append(v, r.Values...)
	return Row{Values: v}
}

func nullRow(width int) Row {
	v := make([]table.Value, width)
	for i := range v {
		v[i] = table.Null()
	}
	return Row{Values: v}
}

// equiJoinColumns recognizes `left.col = right.col` (in either operand
// order), returning the column index on each side.
func equiJoinColumns(on parser.Expr, leftSchema, rightSchema Schema) (leftIdx, rightIdx int, ok bool) {
	be, isBinary := on.(*parser.BinaryExpr)
	if !isBinary || be.Op != parser.OpEq {
		return 0, 0, false
	}
	lc, lok := be.Left.(*parser.ColumnRef)
	rc, rok := be.Right.(*parser.ColumnRef)
	if !lok || !rok {
		return 0, 0, false
	}
	if li, found := findColumn(leftSchema, lc); found {
		if ri, found := findColumn(rightSchema, rc); found {
			return li, ri, true
		}
	}
	if li, found := findColumn(leftSchema, rc); found {
		if ri, found := findColumn(rightSchema, lc); found {
			return li, ri, true
		}
	}
	return 0, 0, false
}

func findColumn(schema Schema, ref *parser.ColumnRef) (int, bool) {
	for i, c := range schema {
		if c.Name == ref.Column && (ref.Table == "" || ref.Table == c.Table) {
			return i, true
		}
	}
	return -1, false
}

func hashJoin(leftRows, rightRows []Row, leftIdx, rightIdx int, kind parser.JoinKind, leftWidth, rightWidth int) []Row {
	buildOnRight := len(rightRows) <= len(leftRows)
	var out []Row

	if buildOnRight {
		index := map[string][]int{}
		for i, r := range rightRows {
			if r.Values[rightIdx].IsNull() {
				continue // NULL = anything is never true, so NULL keys never match
			}
			k := hashKey(r.Values[rightIdx])
			index[k] = append(index[k], i)
		}
		matchedRight := make([]bool, len(rightRows))
		for _, l := range leftRows {
			k := hashKey(l.Values[leftIdx])
			matches := index[k]
			if len(matches) == 0 {
				if kind == parser.LeftJoin || kind == parser.FullJoin {
					out = append(out, concatRows(l, nullRow(rightWidth)))
				}
				continue
			}
			for _, ri := range matches {
				matchedRight[ri] = true
				out = append(out, concatRows(l, rightRows[ri]))
			}
		}
		if kind == parser.RightJoin || kind == parser.FullJoin {
			for i, matched := range matchedRight {
				if !matched {
					out = append(out, concatRows(nullRow(leftWidth), rightRows[i]))
				}
			}
		}
		return out
	}

	index := map[string][]int{}
	for i, l := range leftRows {
		if l.Values[leftIdx].IsNull() {
			continue // NULL = anything is never true, so NULL keys never match
		}
		k := hashKey(l.Values[leftIdx])
		index[k] = append(index[k], i)
	}
	matchedLeft := make([]bool, len(leftRows))
	for _, r := range rightRows {
		k := hashKey(r.Values[rightIdx])
		matches := index[k]
		if len(matches) == 0 {
			if kind == parser.RightJoin || kind == parser.FullJoin {
				out = append(out, concatRows(nullRow(leftWidth), r))
			}
			continue
		}
		for _, li := range matches {
			matchedLeft[li] = true
			out = append(out, concatRows(leftRows[li], r))
		}
	}
	if kind == parser.LeftJoin || kind == parser.FullJoin {
		for i, matched := range matchedLeft {
			if !matched {
				out = append(out, concatRows(leftRows[i], nullRow(rightWidth)))
			}
		}
	}
	return out
}

func hashKey(v table.Value) string {
	return string(table.EncodeKeyValue(nil, v, table.BinaryCollation))
}

func nestedLoopJoin(leftRows, rightRows []Row, on parser.Expr, en env, kind parser.JoinKind, leftWidth, rightWidth int) ([]Row, error) {
	var out []Row
	matchedRight := make([]bool, len(rightRows))
	for _, l := range leftRows {
		matchedLeft := false
		for ri, r := range rightRows {
			combined := concatRows(l, r)
			keep := true
			if on != nil {
				v, err := evalExpr(on, combined, en)
				if err != nil {
					return nil, err
				}
				keep = truthy(v)
			}
			if !keep {
				continue
			}
			matchedLeft = true
			matchedRight[ri] = true
			out = append(out, combined)
		}
		if !matchedLeft && (kind == parser.LeftJoin || kind == parser.FullJoin) {
			out = append(out, concatRows(l, nullRow(rightWidth)))
		}
	}
	if kind == parser.RightJoin || kind == parser.FullJoin {
		for i, matched := range matchedRight {
			if !matched {
				out = append(out, concatRows(nullRow(leftWidth), rightRows[i]))
			}
		}
	}
	return out, nil
}

func (j *joinIterator) Schema() Schema { return j.schema }

func (j *joinIterator) Next(ctx context.Context) (Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, false, err
	}
	if j.pos >= len(j.rows) {
		return Row{}, false, nil
	}
	row := j.rows[j.pos]
	j.pos++
	return row, true, nil
}

func (j *joinIterator) Close() error {
	j.rows = nil
	return nil
}
