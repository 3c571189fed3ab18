// Package planner turns a parser AST into a tree of plan nodes (spec
// §4.8): predicate pushdown across AND boundaries, key_index_candidates
// on scans, and join strategy nomination ordered by a cost table.
//
// Grounded on the teacher's internal/engine/optimizations.go (predicate
// split/pushdown pass over a WHERE clause) and
// original_source's queries/query_cost.rs (Cost{base, row_factor},
// CostTable, get_cost = base * rows^row_factor), ported field for field
// below.
package planner

import (
	"fmt"
	"sort"

	"github.com/weaverdb/weaverdb/internal/sql/parser"
	"github.com/weaverdb/weaverdb/internal/table"
)

// Node is any plan tree node.
type Node interface{ planNode() }

// TableScan reads rows from a single table, optionally narrowed to a
// candidate index range or equality.
type TableScan struct {
	Schema             string
	Table              string
	Alias              string
	KeyIndexCandidates []KeyIndexCandidate
	EstimatedRows       int
}

func (*TableScan) planNode() {}

// KeyIndexCandidate is one index the planner could drive a scan through.
type KeyIndexCandidate struct {
	Index    string
	Equality bool
	Eq       parser.Expr
	Lo, Hi   parser.Expr
	LoIncl   bool
	HiIncl   bool
}

// Filter evaluates a predicate over its child's rows.
type Filter struct {
	Child     Node
	Predicate parser.Expr
}

func (*Filter) planNode() {}

// Project evaluates output expressions over its child's rows.
type Project struct {
	Child       Node
	Expressions []ProjectExpr
}

func (*Project) planNode() {}

// ProjectExpr is one output column: either expr/alias, or a `*`/`table.*`
// wildcard (Expr nil, Star true, TableStar set for the qualified form).
type ProjectExpr struct {
	Expr      parser.Expr
	Alias     string
	Star      bool
	TableStar string
}

// JoinStrategy names a join execution strategy.
type JoinStrategy string

const (
	StrategyHash       JoinStrategy = "hash"
	StrategySortMerge  JoinStrategy = "sort-merge"
	StrategyNestedLoop JoinStrategy = "nested-loop"
)

// Join combines two child plans.
type Join struct {
	Left, Right       Node
	Kind              parser.JoinKind
	On                parser.Expr
	StrategyCandidates []JoinStrategy
	Strategy           JoinStrategy
	EstimatedRows      int
}

func (*Join) planNode() {}

// GroupBy aggregates rows by a set of key expressions.
type GroupBy struct {
	Child      Node
	Keys       []parser.Expr
	Aggregates []Aggregate
}

func (*GroupBy) planNode() {}

// Aggregate is one aggregate function application within a GroupBy/Project.
type Aggregate struct {
	Name  string // "COUNT", "MIN", "MAX", "AVG" or "SUM"
	Arg   parser.Expr
	Star  bool
	Alias string
}

// OrderBy sorts rows by a set of key expressions.
type OrderBy struct {
	Child Node
	Keys  []parser.OrderTerm
}

func (*OrderBy) planNode() {}

// Limit bounds the number of rows past an offset.
type Limit struct {
	Child  Node
	N      int64
	Offset int64
}

func (*Limit) planNode() {}

// Schemas resolves a table name (unqualified by namespace) to its schema,
// for column-reference resolution and size estimation.
type Schemas interface {
	Lookup(table string) (*table.Schema, bool)
	SizeEstimate(tableName string) int
}

// ErrUnresolvedColumn is returned when a column reference cannot be
// matched against the active FROM scope.
type ErrUnresolvedColumn struct{ Column, Table string }

func (e *ErrUnresolvedColumn) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("planner: unresolved column %s.%s", e.Table, e.Column)
	}
	return fmt.Sprintf("planner: unresolved column %s", e.Column)
}

// ErrAmbiguousColumn is returned when an unqualified column reference
// matches more than one table in scope.
type ErrAmbiguousColumn struct{ Column string }

func (e *ErrAmbiguousColumn) Error() string {
	return fmt.Sprintf("planner: ambiguous column %s", e.Column)
}

// scope tracks which tables (by alias-or-name) are visible for column
// resolution at a given point in the FROM clause, built up left to right
// as joins are planned.
type scope struct {
	tables []scopedTable
}

type scopedTable struct {
	name   string // alias if present, else table name
	schema *table.Schema
}

func (s *scope) add(name string, sch *table.Schema) {
	s.tables = append(s.tables, scopedTable{name: name, schema: sch})
}

func (s *scope) resolve(ref *parser.ColumnRef) error {
	if ref.Table != "" {
		for _, t := range s.tables {
			if t.name == ref.Table {
				if t.schema.ColumnIndex(ref.Column) < 0 {
					return &ErrUnresolvedColumn{Column: ref.Column, Table: ref.Table}
				}
				return nil
			}
		}
		return &ErrUnresolvedColumn{Column: ref.Column, Table: ref.Table}
	}
	found := 0
	for _, t := range s.tables {
		if t.schema.ColumnIndex(ref.Column) >= 0 {
			found++
		}
	}
	switch found {
	case 0:
		return &ErrUnresolvedColumn{Column: ref.Column}
	case 1:
		return nil
	default:
		return &ErrAmbiguousColumn{Column: ref.Column}
	}
}

// Plan builds a plan tree for a parsed SELECT statement.
func Plan(stmt *parser.SelectStmt, schemas Schemas, costs *CostTable) (Node, error) {
	if len(stmt.From) == 0 {
		return nil, fmt.Errorf("planner: SELECT without FROM is not supported")
	}

	sc := &scope{}
	var root Node
	for i, item := range stmt.From {
		sch, ok := schemas.Lookup(item.Table.Name)
		if !ok {
			return nil, fmt.Errorf("planner: unknown table %q", item.Table.Name)
		}
		name := item.Table.Alias
		if name == "" {
			name = item.Table.Name
		}
		sc.add(name, sch)
		scan := &TableScan{Schema: sch.Namespace, Table: item.Table.Name, Alias: name,
			EstimatedRows: schemas.SizeEstimate(item.Table.Name)}

		var node Node = scan
		for _, j := range item.Joins {
			rightSch, ok := schemas.Lookup(j.Table.Name)
			if !ok {
				return nil, fmt.Errorf("planner: unknown table %q", j.Table.Name)
			}
			rname := j.Table.Alias
			if rname == "" {
				rname = j.Table.Name
			}
			sc.add(rname, rightSch)
			rightScan := &TableScan{Schema: rightSch.Namespace, Table: j.Table.Name, Alias: rname,
				EstimatedRows: schemas.SizeEstimate(j.Table.Name)}
			node = planJoin(node, rightScan, j, costs, nodeRows(node), rightScan.EstimatedRows)
		}

		if i == 0 {
			root = node
		} else {
			// Multiple comma-separated FROM items combine as an implicit
			// cross join chained left to right.
			root = planJoin(root, node, parser.JoinClause{Kind: parser.CrossJoin}, costs, nodeRows(root), nodeRows(node))
		}
	}

	for _, col := range stmt.Columns {
		if col.Expr != nil {
			if err := resolveExpr(col.Expr, sc); err != nil {
				return nil, err
			}
		}
	}

	if stmt.Where != nil {
		conjuncts := splitConjuncts(stmt.Where)
		root = pushDownPredicates(root, conjuncts, sc)
	}

	if len(stmt.GroupBy) > 0 || hasAggregate(stmt.Columns) {
		aggs, err := collectAggregates(stmt.Columns)
		if err != nil {
			return nil, err
		}
		root = &GroupBy{Child: root, Keys: stmt.GroupBy, Aggregates: aggs}
	}

	root = &Project{Child: root, Expressions: projectExprs(stmt.Columns)}

	if stmt.Having != nil {
		root = &Filter{Child: root, Predicate: stmt.Having}
	}

	if len(stmt.OrderBy) > 0 {
		root = &OrderBy{Child: root, Keys: stmt.OrderBy}
	}

	if stmt.Limit != nil {
		lim := &Limit{Child: root, N: *stmt.Limit}
		if stmt.Offset != nil {
			lim.Offset = *stmt.Offset
		}
		root = lim
	}

	return root, nil
}

func nodeRows(n Node) int {
	switch v := n.(type) {
	case *TableScan:
		return v.EstimatedRows
	case *Join:
		return v.EstimatedRows
	case *Filter:
		return nodeRows(v.Child)
	default:
		return 1
	}
}

func projectExprs(cols []parser.ResultColumn) []ProjectExpr {
	out := make([]ProjectExpr, 0, len(cols))
	for _, c := range cols {
		out = append(out, ProjectExpr{Expr: c.Expr, Alias: c.Alias, Star: c.Star, TableStar: c.TableStar})
	}
	return out
}

func hasAggregate(cols []parser.ResultColumn) bool {
	for _, c := range cols {
		if containsAggregate(c.Expr) {
			return true
		}
	}
	return false
}

func containsAggregate(e parser.Expr) bool {
	switch v := e.(type) {
	case *parser.FuncCall:
		return isAggregateName(v.Name)
	case *parser.BinaryExpr:
		return containsAggregate(v.Left) || containsAggregate(v.Right)
	case *parser.UnaryExpr:
		return containsAggregate(v.Expr)
	default:
		return false
	}
}

func isAggregateName(name string) bool {
	switch name {
	case "COUNT", "MIN", "MAX", "AVG", "SUM":
		return true
	default:
		return false
	}
}

func collectAggregates(cols []parser.ResultColumn) ([]Aggregate, error) {
	var out []Aggregate
	for _, c := range cols {
		call, ok := c.Expr.(*parser.FuncCall)
		if !ok || !isAggregateName(call.Name) {
			continue
		}
		agg := Aggregate{Name: call.Name, Star: call.Star, Alias: c.Alias}
		if len(call.Args) == 1 {
			agg.Arg = call.Args[0]
		} else if len(call.Args) > 1 {
			return nil, fmt.Errorf("planner: aggregate %s takes at most one argument", call.Name)
		}
		out = append(out, agg)
	}
	return out, nil
}

// splitConjuncts flattens a WHERE expression across AND boundaries (spec
// §4.8: "predicates are split across AND boundaries").
func splitConjuncts(e parser.Expr) []parser.Expr {
	if be, ok := e.(*parser.BinaryExpr); ok && be.Op == parser.OpAnd {
		return append(splitConjuncts(be.Left), splitConjuncts(be.Right)...)
	}
	return []parser.Expr{e}
}

// pushDownPredicates turns each conjunct that is an equality or range on
// an indexed column of a single table into a key_index_candidate on that
// table's scan, below any join; every other conjunct, including one that
// references only one side of a join, is ANDed into one Filter placed
// above root.
func pushDownPredicates(root Node, conjuncts []parser.Expr, sc *scope) Node {
	remaining := make([]parser.Expr, 0, len(conjuncts))
	for _, pred := range conjuncts {
		if !pushInto(root, pred, sc) {
			remaining = append(remaining, pred)
		}
	}
	if len(remaining) == 0 {
		return root
	}
	pred := remaining[0]
	for _, r := range remaining[1:] {
		pred = &parser.BinaryExpr{Op: parser.OpAnd, Left: pred, Right: r}
	}
	return &Filter{Child: root, Predicate: pred}
}

// pushInto attempts to attach pred as a key_index_candidate on the
// scan(s) under n that alone satisfy its table references. Returns true
// only if it actually became a candidate there; a predicate touching a
// single table but shaped in a way attachCandidate doesn't recognize
// (OpNotEq, IS NULL, column-vs-column, LIKE, ...), or aimed at a column
// with no index, must stay unconsumed so pushDownPredicates falls it
// through to a Filter instead of silently dropping it.
func pushInto(n Node, pred parser.Expr, sc *scope) bool {
	refs := columnRefs(pred)
	switch v := n.(type) {
	case *TableScan:
		if allRefsMatch(refs, v.Alias) {
			return attachCandidate(v, pred, sc)
		}
		return false
	case *Join:
		if pushInto(v.Left, pred, sc) {
			return true
		}
		if pushInto(v.Right, pred, sc) {
			return true
		}
		return false
	case *Filter:
		return pushInto(v.Child, pred, sc)
	default:
		return false
	}
}

// schemaFor finds the schema registered in sc for the given scan alias.
func schemaFor(sc *scope, alias string) *table.Schema {
	for _, t := range sc.tables {
		if t.name == alias {
			return t.schema
		}
	}
	return nil
}

// columnIndexed reports whether column is covered by some index (primary
// or secondary) on sch — the same single-column coverage test
// internal/sql/exec's resolveIndexName applies when binding a chosen
// candidate to an actual table.KeyIndex.
func columnIndexed(sch *table.Schema, column string) bool {
	if sch == nil {
		return false
	}
	for _, idx := range sch.Indexes {
		if len(idx.Columns) == 1 && idx.Columns[0] == column {
			return true
		}
	}
	return false
}

func allRefsMatch(refs []*parser.ColumnRef, alias string) bool {
	if len(refs) == 0 {
		return false
	}
	for _, r := range refs {
		if r.Table != "" && r.Table != alias {
			return false
		}
	}
	return true
}

func columnRefs(e parser.Expr) []*parser.ColumnRef {
	var out []*parser.ColumnRef
	var walk func(parser.Expr)
	walk = func(e parser.Expr) {
		switch v := e.(type) {
		case *parser.ColumnRef:
			out = append(out, v)
		case *parser.BinaryExpr:
			walk(v.Left)
			walk(v.Right)
		case *parser.UnaryExpr:
			walk(v.Expr)
		case *parser.FuncCall:
			for _, a := range v.Args {
				walk(a)
			}
		}
	}
	walk(e)
	return out
}

// attachCandidate records pred as a key_index_candidate on scan if it is
// an equality or range comparison against a single, actually-indexed
// column, and reports whether it did. Any other shape (OpNotEq, IS
// NULL, column-vs-column, LIKE, ...), or a comparison against a column
// with no covering index, is left untouched and reported as not
// consumed, so the caller keeps it in the remaining set to become a
// Filter rather than silently vanish or get bound to the primary index
// with a mismatched key type.
func attachCandidate(scan *TableScan, pred parser.Expr, sc *scope) bool {
	be, ok := pred.(*parser.BinaryExpr)
	if !ok {
		return false
	}
	col, lit, flipped := splitColumnLiteral(be)
	if col == nil || lit == nil {
		return false
	}
	if !columnIndexed(schemaFor(sc, scan.Alias), col.Column) {
		return false
	}
	op := be.Op
	if flipped {
		op = flipComparison(op)
	}
	switch op {
	case parser.OpEq:
		scan.KeyIndexCandidates = append(scan.KeyIndexCandidates, KeyIndexCandidate{
			Index: col.Column, Equality: true, Eq: lit,
		})
	case parser.OpLt, parser.OpLtEq:
		scan.KeyIndexCandidates = append(scan.KeyIndexCandidates, KeyIndexCandidate{
			Index: col.Column, Hi: lit, HiIncl: op == parser.OpLtEq,
		})
	case parser.OpGt, parser.OpGtEq:
		scan.KeyIndexCandidates = append(scan.KeyIndexCandidates, KeyIndexCandidate{
			Index: col.Column, Lo: lit, LoIncl: op == parser.OpGtEq,
		})
	default:
		return false
	}
	return true
}

func splitColumnLiteral(be *parser.BinaryExpr) (col *parser.ColumnRef, lit *parser.Literal, flipped bool) {
	if c, ok := be.Left.(*parser.ColumnRef); ok {
		if l, ok := be.Right.(*parser.Literal); ok {
			return c, l, false
		}
	}
	if c, ok := be.Right.(*parser.ColumnRef); ok {
		if l, ok := be.Left.(*parser.Literal); ok {
			return c, l, true
		}
	}
	return nil, nil, false
}

func flipComparison(op parser.BinOp) parser.BinOp {
	switch op {
	case parser.OpLt:
		return parser.OpGt
	case parser.OpLtEq:
		return parser.OpGtEq
	case parser.OpGt:
		return parser.OpLt
	case parser.OpGtEq:
		return parser.OpLtEq
	default:
		return op
	}
}

func resolveExpr(e parser.Expr, sc *scope) error {
	switch v := e.(type) {
	case *parser.ColumnRef:
		return sc.resolve(v)
	case *parser.BinaryExpr:
		if err := resolveExpr(v.Left, sc); err != nil {
			return err
		}
		return resolveExpr(v.Right, sc)
	case *parser.UnaryExpr:
		return resolveExpr(v.Expr, sc)
	case *parser.FuncCall:
		for _, a := range v.Args {
			if err := resolveExpr(a, sc); err != nil {
				return err
			}
		}
	}
	return nil
}

// planJoin builds a Join node with strategy candidates ordered by cost
// (spec §4.8: "nominate strategies: hash, sort-merge, nested-loop;
// ordering by the cost table"; ties broken lexicographically by name).
func planJoin(left, right Node, j parser.JoinClause, costs *CostTable, leftRows, rightRows int) *Join {
	rows := estimateJoinRows(leftRows, rightRows, j.On)
	candidates := []JoinStrategy{StrategyHash, StrategySortMerge, StrategyNestedLoop}
	sort.SliceStable(candidates, func(i, k int) bool {
		ci, ck := costs.Cost(string(candidates[i]), rows), costs.Cost(string(candidates[k]), rows)
		if ci != ck {
			return ci < ck
		}
		return candidates[i] < candidates[k]
	})
	return &Join{
		Left: left, Right: right, Kind: j.Kind, On: j.On,
		StrategyCandidates: candidates, Strategy: candidates[0], EstimatedRows: rows,
	}
}

// estimateJoinRows estimates result cardinality as the product of
// input sizes shrunk by a fixed unique-key selectivity factor whenever the
// join has an ON predicate, of any shape (spec §4.8: "joins estimate as the
// product shrunk by unique-key selectivity").
func estimateJoinRows(leftRows, rightRows int, on parser.Expr) int {
	product := leftRows * rightRows
	if on == nil {
		return product
	}
	const uniqueKeySelectivity = 0.1
	est := int(float64(product) * uniqueKeySelectivity)
	if est < 1 {
		est = 1
	}
	return est
}
