package exec

import (
	"context"

	"github.com/weaverdb/weaverdb/internal/sql/parser"
	"github.com/weaverdb/weaverdb/internal/sql/planner"
	"github.com/weaverdb/weaverdb/internal/table"
)

// groupByIterator implements planner.GroupBy (spec §4.9): buffered hash
// aggregation. Streaming-when-sorted is not attempted — the planner
// doesn't yet annotate whether a child is already sorted on the group
// keys, so every GroupBy buffers (documented simplification; streaming
// would need the planner to expose that fact from an OrderBy pushed
// below it).
//
// The aggregate registry (spec §4.8: "minimum: count, min, max, avg") is
// keyed by name directly rather than by (name, argument-type list) since
// every aggregate here accepts any single comparable/numeric argument —
// there's no overload set to disambiguate yet.
type groupByIterator struct {
	schema Schema
	rows   []Row
	pos    int
}

func newGroupByIterator(child Iterator, keys []parser.Expr, aggs []planner.Aggregate) (*groupByIterator, error) {
	childSchema := child.Schema()
	en := env{schema: childSchema}

	type bucket struct {
		keyVals []table.Value
		states  []aggState
	}
	buckets := map[string]*bucket{}
	var order []string

	ctx := context.Background()
	for {
		row, ok, ierr := child.Next(ctx)
		if ierr != nil {
			return nil, ierr
		}
		if !ok {
			break
		}
		keyVals := make([]table.Value, len(keys))
		for i, k := range keys {
			v, err := evalExpr(k, row, en)
			if err != nil {
				return nil, err
			}
			keyVals[i] = v
		}
		k := groupKey(keyVals)
		b, found := buckets[k]
		if !found {
			b = &bucket{keyVals: keyVals, states: make([]aggState, len(aggs))}
			for i, a := range aggs {
				b.states[i] = newAggState(a.Name)
			}
			buckets[k] = b
			order = append(order, k)
		}
		for i, a := range aggs {
			var v table.Value
			if a.Star {
				v = table.Int(1)
			} else if a.Arg != nil {
				var err error
				v, err = evalExpr(a.Arg, row, en)
				if err != nil {
					return nil, err
				}
			}
			b.states[i].add(v)
		}
	}
	if err := child.Close(); err != nil {
		return nil, err
	}

	sch := make(Schema, 0, len(keys)+len(aggs))
	for _, k := range keys {
		if ref, ok := k.(*parser.ColumnRef); ok {
			sch = append(sch, Column{Table: ref.Table, Name: ref.Column})
			continue
		}
		sch = append(sch, Column{Name: exprDisplayName(k)})
	}
	for _, a := range aggs {
		name := a.Alias
		if name == "" {
			name = a.Name
		}
		sch = append(sch, Column{Name: name})
	}

	var out []Row
	for _, k := range order {
		b := buckets[k]
		values := make([]table.Value, 0, len(keys)+len(aggs))
		values = append(values, b.keyVals...)
		for i := range aggs {
			values = append(values, b.states[i].result())
		}
		out = append(out, Row{Values: values})
	}
	return &groupByIterator{schema: sch, rows: out}, nil
}

func groupKey(vals []table.Value) string {
	var buf []byte
	for _, v := range vals {
		buf = table.EncodeKeyValue(buf, v, table.BinaryCollation)
	}
	return string(buf)
}

// aggState accumulates one aggregate's running value.
type aggState interface {
	add(v table.Value)
	result() table.Value
}

func newAggState(name string) aggState {
	switch name {
	case "COUNT":
		return &countState{}
	case "SUM":
		return &sumState{}
	case "AVG":
		return &avgState{}
	case "MIN":
		return &minMaxState{min: true}
	case "MAX":
		return &minMaxState{min: false}
	default:
		return &noopState{}
	}
}

type noopState struct{}

func (*noopState) add(table.Value)     {}
func (*noopState) result() table.Value { return table.Null() }

type countState struct{ n int64 }

func (s *countState) add(v table.Value) {
	if !v.IsNull() {
		s.n++
	}
}
func (s *countState) result() table.Value { return table.Int(s.n) }

type sumState struct {
	sumF    float64
	sumI    int64
	isFloat bool
	anySeen bool
}

func (s *sumState) add(v table.Value) {
	if v.IsNull() {
		return
	}
	s.anySeen = true
	if v.Kind == table.KindFloat {
		s.isFloat = true
		s.sumF += v.Float
		return
	}
	s.sumI += v.Int
}
func (s *sumState) result() table.Value {
	if !s.anySeen {
		return table.Null()
	}
	if s.isFloat {
		return table.Float(s.sumF + float64(s.sumI))
	}
	return table.Int(s.sumI)
}

type avgState struct {
	sum   float64
	count int64
}

func (s *avgState) add(v table.Value) {
	if v.IsNull() {
		return
	}
	s.count++
	if v.Kind == table.KindFloat {
		s.sum += v.Float
	} else {
		s.sum += float64(v.Int)
	}
}
func (s *avgState) result() table.Value {
	if s.count == 0 {
		return table.Null()
	}
	return table.Float(s.sum / float64(s.count))
}

type minMaxState struct {
	min     bool
	have    bool
	current table.Value
}

func (s *minMaxState) add(v table.Value) {
	if v.IsNull() {
		return
	}
	if !s.have {
		s.current = v
		s.have = true
		return
	}
	cmp := table.Compare(v, s.current, table.BinaryCollation)
	if (s.min && cmp < 0) || (!s.min && cmp > 0) {
		s.current = v
	}
}
func (s *minMaxState) result() table.Value {
	if !s.have {
		return table.Null()
	}
	return s.current
}

func (g *groupByIterator) Schema() Schema { return g.schema }

func (g *groupByIterator) Next(ctx context.Context) (Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, false, err
	}
	if g.pos >= len(g.rows) {
		return Row{}, false, nil
	}
	row := g.rows[g.pos]
	g.pos++
	return row, true, nil
}

func (g *groupByIterator) Close() error {
	g.rows = nil
	return nil
}
