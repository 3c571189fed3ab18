package exec

import (
	"context"
	"fmt"

	"github.com/weaverdb/weaverdb/internal/sql/parser"
	"github.com/weaverdb/weaverdb/internal/sql/planner"
	"github.com/weaverdb/weaverdb/internal/table"
)

// scanIterator executes planner.TableScan (spec §4.9: "calls
// Table.read(tx, key_index); if multiple candidates, chooses the most
// selective; surfaces rows in key order").
//
// table.Table.Read already returns a fully materialized []Row rather
// than a true streaming cursor (see internal/table's own documented
// simplification), so this iterator's laziness is at the exec-API
// level only: callers still pull one row at a time and can Close early
// without having forced evaluation of downstream nodes, but the
// underlying tree walk has already happened by the time Next is first
// called.
type scanIterator struct {
	schema Schema
	rows   []table.Row
	pos    int
}

func newScanIterator(node *planner.TableScan, tables Tables, v table.Visibility) (*scanIterator, error) {
	tbl, ok := tables.Open(node.Schema, node.Table)
	if !ok {
		return nil, fmt.Errorf("exec: unknown table %s.%s", node.Schema, node.Table)
	}
	sch := tbl.Schema()
	keyIndex, residual, err := chooseKeyIndex(node, sch)
	if err != nil {
		return nil, err
	}
	rows, err := tbl.Read(v, keyIndex)
	if err != nil {
		return nil, err
	}

	outSchema := make(Schema, len(sch.Columns))
	for i, c := range sch.Columns {
		outSchema[i] = Column{Table: node.Alias, Name: c.Name}
	}

	if len(residual) > 0 {
		rows, err = applyResidual(rows, outSchema, residual)
		if err != nil {
			return nil, err
		}
	}
	return &scanIterator{schema: outSchema, rows: rows}, nil
}

// chooseKeyIndex picks the single most selective candidate column (an
// equality first, else a range) to drive the table's key index, and
// returns every other candidate — a candidate on a different column, a
// redundant extra bound on the chosen column, or a candidate whose
// column turns out not to be indexed at all — as a residual predicate
// list the caller must still apply to the rows the index handed back.
// No candidate is ever silently discarded: it is either folded into the
// chosen table.KeyIndex or carried forward as a residual filter.
func chooseKeyIndex(node *planner.TableScan, sch table.Schema) (table.KeyIndex, []*planner.KeyIndexCandidate, error) {
	if len(node.KeyIndexCandidates) == 0 {
		return table.All(""), nil, nil
	}

	type bucket struct {
		indexName string
		cands     []*planner.KeyIndexCandidate
	}
	buckets := map[string]*bucket{}
	var order []string
	var residual []*planner.KeyIndexCandidate

	for i := range node.KeyIndexCandidates {
		c := &node.KeyIndexCandidates[i]
		name, ok := resolveIndexName(sch, c.Index)
		if !ok {
			// Planned in good faith but the table carries no index
			// covering this column: fall back to filtering it out of
			// the rows after a full scan rather than binding it to the
			// primary index's key type.
			residual = append(residual, c)
			continue
		}
		b, exists := buckets[c.Index]
		if !exists {
			b = &bucket{indexName: name}
			buckets[c.Index] = b
			order = append(order, c.Index)
		}
		b.cands = append(b.cands, c)
	}

	if len(order) == 0 {
		return table.All(""), residual, nil
	}

	chosenCol := order[0]
	for _, col := range order {
		for _, c := range buckets[col].cands {
			if c.Equality {
				chosenCol = col
			}
		}
	}
	chosen := buckets[chosenCol]
	for _, col := range order {
		if col != chosenCol {
			residual = append(residual, buckets[col].cands...)
		}
	}

	var eq, lo, hi *planner.KeyIndexCandidate
	for _, c := range chosen.cands {
		switch {
		case c.Equality:
			if eq == nil {
				eq = c
			} else {
				residual = append(residual, c)
			}
		case c.Lo != nil && lo == nil:
			lo = c
		case c.Hi != nil && hi == nil:
			hi = c
		default:
			residual = append(residual, c)
		}
	}

	if eq != nil {
		v, err := literalValue(eq.Eq)
		if err != nil {
			return table.KeyIndex{}, nil, err
		}
		// A range bound alongside an equality on the same column only
		// narrows further; keep it as a residual check instead of
		// dropping it.
		if lo != nil {
			residual = append(residual, lo)
		}
		if hi != nil {
			residual = append(residual, hi)
		}
		return table.One(chosen.indexName, v), residual, nil
	}

	var loVals, hiVals []table.Value
	var loIncl, hiIncl bool
	if lo != nil {
		val, err := literalValue(lo.Lo)
		if err != nil {
			return table.KeyIndex{}, nil, err
		}
		loVals = []table.Value{val}
		loIncl = lo.LoIncl
	}
	if hi != nil {
		val, err := literalValue(hi.Hi)
		if err != nil {
			return table.KeyIndex{}, nil, err
		}
		hiVals = []table.Value{val}
		hiIncl = hi.HiIncl
	}
	return table.Range(chosen.indexName, loVals, hiVals, loIncl, hiIncl), residual, nil
}

// resolveIndexName maps a column name to the index that covers it.
// The bool return reports whether any index (primary or secondary)
// actually covers the column; a false here means the caller must not
// query an index at all for this candidate, since doing so would mean
// probing the primary index with a key of the wrong shape.
func resolveIndexName(sch table.Schema, column string) (string, bool) {
	for _, idx := range sch.Indexes {
		if len(idx.Columns) == 1 && idx.Columns[0] == column {
			if idx.Primary {
				return "", true
			}
			return idx.Name, true
		}
	}
	return "", false
}

// applyResidual filters rows in memory against every candidate that
// couldn't be folded into the table's key index, reusing the same
// expression evaluator the Filter plan node runs (see filter.go) so
// comparison/NULL semantics stay in one place.
func applyResidual(rows []table.Row, sch Schema, residual []*planner.KeyIndexCandidate) ([]table.Row, error) {
	var pred parser.Expr
	for _, c := range residual {
		expr, err := residualExpr(c)
		if err != nil {
			return nil, err
		}
		if pred == nil {
			pred = expr
		} else {
			pred = &parser.BinaryExpr{Op: parser.OpAnd, Left: pred, Right: expr}
		}
	}
	if pred == nil {
		return rows, nil
	}

	en := env{schema: sch}
	out := rows[:0]
	for _, row := range rows {
		result, err := evalExpr(pred, Row{Values: row.Values}, en)
		if err != nil {
			return nil, err
		}
		if truthy(result) {
			out = append(out, row)
		}
	}
	return out, nil
}

func residualExpr(c *planner.KeyIndexCandidate) (parser.Expr, error) {
	col := &parser.ColumnRef{Column: c.Index}
	switch {
	case c.Equality:
		return &parser.BinaryExpr{Op: parser.OpEq, Left: col, Right: c.Eq}, nil
	case c.Lo != nil:
		op := parser.OpGt
		if c.LoIncl {
			op = parser.OpGtEq
		}
		return &parser.BinaryExpr{Op: op, Left: col, Right: c.Lo}, nil
	case c.Hi != nil:
		op := parser.OpLt
		if c.HiIncl {
			op = parser.OpLtEq
		}
		return &parser.BinaryExpr{Op: op, Left: col, Right: c.Hi}, nil
	default:
		return nil, fmt.Errorf("exec: key index candidate on %q has neither an equality nor a range bound", c.Index)
	}
}

func literalValue(e parser.Expr) (table.Value, error) {
	lit, ok := e.(*parser.Literal)
	if !ok {
		return table.Value{}, fmt.Errorf("exec: expected a literal key candidate, got %T", e)
	}
	return lit.Value, nil
}

func (s *scanIterator) Schema() Schema { return s.schema }

func (s *scanIterator) Next(ctx context.Context) (Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, false, err
	}
	if s.pos >= len(s.rows) {
		return Row{}, false, nil
	}
	row := s.rows[s.pos]
	s.pos++
	return Row{Values: row.Values}, true, nil
}

func (s *scanIterator) Close() error {
	s.rows = nil
	return nil
}
