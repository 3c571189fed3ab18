package exec

import (
	"context"

	"github.com/weaverdb/weaverdb/internal/sql/parser"
	"github.com/weaverdb/weaverdb/internal/sql/planner"
	"github.com/weaverdb/weaverdb/internal/table"
)

// projectIterator implements planner.Project: constructs output rows
// from a list of expressions, expanding `*` and `table.*` wildcards
// against the child's schema (spec §4.9).
type projectIterator struct {
	child   Iterator
	en      env
	exprs   []parser.Expr
	schema  Schema
}

func newProjectIterator(child Iterator, cols []planner.ProjectExpr) (*projectIterator, error) {
	childSchema := child.Schema()
	en := env{schema: childSchema}
	p := &projectIterator{child: child, en: en}
	for _, c := range cols {
		if c.Star || c.TableStar != "" {
			p.expandWildcard(c.TableStar)
			continue
		}
		expr := c.Expr
		// An aggregate call (e.g. COUNT(*), AVG(price)) is evaluated by
		// the GroupBy below, not here — evalScalarCall has no notion of
		// running aggregate state. If the child schema already carries a
		// column under this call's name (or its alias), route through
		// that column instead of re-evaluating the call.
		if call, ok := expr.(*parser.FuncCall); ok {
			want := c.Alias
			if want == "" {
				want = call.Name
			}
			if _, found := findColumn(childSchema, &parser.ColumnRef{Column: want}); found {
				expr = &parser.ColumnRef{Column: want}
			}
		}
		p.exprs = append(p.exprs, expr)
		name := c.Alias
		if name == "" {
			name = exprDisplayName(c.Expr)
		}
		p.schema = append(p.schema, Column{Name: name})
	}
	return p, nil
}

// expandWildcard appends every (or every table-matching) column of the
// child schema as both an expression and an output column. tableQualifier
// carries the table-qualifier for a `table.*` column, or is empty for a
// bare `*`.
func (p *projectIterator) expandWildcard(tableQualifier string) {
	for _, col := range p.child.Schema() {
		if tableQualifier != "" && col.Table != tableQualifier {
			continue
		}
		ref := &parser.ColumnRef{Table: col.Table, Column: col.Name}
		p.exprs = append(p.exprs, ref)
		p.schema = append(p.schema, col)
	}
}

func exprDisplayName(e parser.Expr) string {
	switch v := e.(type) {
	case *parser.ColumnRef:
		return v.Column
	case *parser.FuncCall:
		return v.Name
	default:
		return ""
	}
}

func (p *projectIterator) Schema() Schema { return p.schema }

func (p *projectIterator) Next(ctx context.Context) (Row, bool, error) {
	row, ok, err := p.child.Next(ctx)
	if err != nil || !ok {
		return Row{}, false, err
	}
	out := make([]table.Value, len(p.exprs))
	for i, e := range p.exprs {
		v, err := evalExpr(e, row, p.en)
		if err != nil {
			return Row{}, false, err
		}
		out[i] = v
	}
	return Row{Values: out}, true, nil
}

func (p *projectIterator) Close() error { return p.child.Close() }
