package planner

import (
	"testing"

	"github.com/weaverdb/weaverdb/internal/sql/parser"
	"github.com/weaverdb/weaverdb/internal/table"
)

type fakeSchemas struct {
	schemas map[string]*table.Schema
	sizes   map[string]int
}

func (f *fakeSchemas) Lookup(name string) (*table.Schema, bool) {
	s, ok := f.schemas[name]
	return s, ok
}

func (f *fakeSchemas) SizeEstimate(name string) int {
	if n, ok := f.sizes[name]; ok {
		return n
	}
	return 100
}

func usersAndOrders() *fakeSchemas {
	users := &table.Schema{
		Namespace: "public", Name: "users",
		Columns: []table.ColumnDef{
			{Name: "id", Type: table.KindInt},
			{Name: "name", Type: table.KindString},
		},
		Indexes: []table.IndexDef{{Name: "PRIMARY", Columns: []string{"id"}, Primary: true, Unique: true}},
	}
	orders := &table.Schema{
		Namespace: "public", Name: "orders",
		Columns: []table.ColumnDef{
			{Name: "id", Type: table.KindInt},
			{Name: "user_id", Type: table.KindInt},
			{Name: "total", Type: table.KindFloat},
		},
		Indexes: []table.IndexDef{{Name: "PRIMARY", Columns: []string{"id"}, Primary: true, Unique: true}},
	}
	return &fakeSchemas{
		schemas: map[string]*table.Schema{"users": users, "orders": orders},
		sizes:   map[string]int{"users": 1000, "orders": 5000},
	}
}

func mustParseSelect(t *testing.T, src string) *parser.SelectStmt {
	t.Helper()
	stmt, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	sel, ok := stmt.(*parser.SelectStmt)
	if !ok {
		t.Fatalf("expected *parser.SelectStmt, got %T", stmt)
	}
	return sel
}

func TestPlanSimpleScanWithEqualityPushedToCandidate(t *testing.T) {
	sel := mustParseSelect(t, "SELECT id, name FROM users WHERE id = 5")
	root, err := Plan(sel, usersAndOrders(), DefaultCostTable())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	proj, ok := root.(*Project)
	if !ok {
		t.Fatalf("expected root *Project, got %T", root)
	}
	scan, ok := proj.Child.(*TableScan)
	if !ok {
		t.Fatalf("expected *TableScan under Project, got %T", proj.Child)
	}
	if len(scan.KeyIndexCandidates) != 1 || !scan.KeyIndexCandidates[0].Equality {
		t.Fatalf("expected one equality candidate, got %+v", scan.KeyIndexCandidates)
	}
	if scan.KeyIndexCandidates[0].Index != "id" {
		t.Fatalf("expected candidate on id, got %q", scan.KeyIndexCandidates[0].Index)
	}
}

func TestPlanRangePredicateBecomesLoHiCandidate(t *testing.T) {
	sel := mustParseSelect(t, "SELECT id FROM orders WHERE id > 10 AND id <= 100")
	root, err := Plan(sel, usersAndOrders(), DefaultCostTable())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	scan := findScan(t, root)
	if len(scan.KeyIndexCandidates) != 2 {
		t.Fatalf("expected 2 range candidates, got %+v", scan.KeyIndexCandidates)
	}
}

func TestPlanJoinPushesSingleTablePredicatesBelowJoin(t *testing.T) {
	sel := mustParseSelect(t, `SELECT u.name FROM users u JOIN orders o ON u.id = o.user_id
		WHERE u.id = 1 AND o.id > 50`)
	root, err := Plan(sel, usersAndOrders(), DefaultCostTable())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	proj := root.(*Project)
	join, ok := proj.Child.(*Join)
	if !ok {
		t.Fatalf("expected *Join, got %T", proj.Child)
	}
	leftScan, ok := join.Left.(*TableScan)
	if !ok {
		t.Fatalf("expected left *TableScan, got %T", join.Left)
	}
	if len(leftScan.KeyIndexCandidates) != 1 {
		t.Fatalf("expected u.id=1 pushed to left scan, got %+v", leftScan.KeyIndexCandidates)
	}
	rightScan, ok := join.Right.(*TableScan)
	if !ok {
		t.Fatalf("expected right *TableScan, got %T", join.Right)
	}
	if len(rightScan.KeyIndexCandidates) != 1 {
		t.Fatalf("expected o.id>50 pushed to right scan, got %+v", rightScan.KeyIndexCandidates)
	}
}

func TestPlanJoinStrategyOrderingIsDeterministic(t *testing.T) {
	sel := mustParseSelect(t, "SELECT u.name FROM users u JOIN orders o ON u.id = o.user_id")
	root, err := Plan(sel, usersAndOrders(), DefaultCostTable())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	proj := root.(*Project)
	join := proj.Child.(*Join)
	if join.Strategy != StrategyHash {
		t.Fatalf("expected hash join to win by default cost table, got %v", join.Strategy)
	}
	if len(join.StrategyCandidates) != 3 {
		t.Fatalf("expected 3 strategy candidates, got %v", join.StrategyCandidates)
	}
}

func TestPlanGroupByWithAggregates(t *testing.T) {
	sel := mustParseSelect(t, "SELECT user_id, COUNT(*), AVG(total) FROM orders GROUP BY user_id")
	root, err := Plan(sel, usersAndOrders(), DefaultCostTable())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	proj := root.(*Project)
	gb, ok := proj.Child.(*GroupBy)
	if !ok {
		t.Fatalf("expected *GroupBy, got %T", proj.Child)
	}
	if len(gb.Aggregates) != 2 {
		t.Fatalf("expected 2 aggregates, got %+v", gb.Aggregates)
	}
	if gb.Aggregates[0].Name != "COUNT" || !gb.Aggregates[0].Star {
		t.Fatalf("expected COUNT(*), got %+v", gb.Aggregates[0])
	}
}

func TestPlanOrderByAndLimitWrapAtTheTop(t *testing.T) {
	sel := mustParseSelect(t, "SELECT id FROM users ORDER BY id DESC LIMIT 10 OFFSET 5")
	root, err := Plan(sel, usersAndOrders(), DefaultCostTable())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	lim, ok := root.(*Limit)
	if !ok {
		t.Fatalf("expected root *Limit, got %T", root)
	}
	if lim.N != 10 || lim.Offset != 5 {
		t.Fatalf("unexpected limit/offset: %+v", lim)
	}
	if _, ok := lim.Child.(*OrderBy); !ok {
		t.Fatalf("expected *OrderBy under Limit, got %T", lim.Child)
	}
}

func TestPlanUnresolvedColumnFails(t *testing.T) {
	sel := mustParseSelect(t, "SELECT nope FROM users")
	if _, err := Plan(sel, usersAndOrders(), DefaultCostTable()); err == nil {
		t.Fatalf("expected an unresolved-column error")
	}
}

func TestPlanUnknownTableFails(t *testing.T) {
	sel := mustParseSelect(t, "SELECT id FROM nosuch")
	if _, err := Plan(sel, usersAndOrders(), DefaultCostTable()); err == nil {
		t.Fatalf("expected an unknown-table error")
	}
}

func TestCostTableEvalMatchesFormula(t *testing.T) {
	c := Cost{Base: 2.0, RowFactor: 2.0}
	got := c.Eval(10)
	want := 2.0 * 10 * 10
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}

func findScan(t *testing.T, n Node) *TableScan {
	t.Helper()
	switch v := n.(type) {
	case *TableScan:
		return v
	case *Project:
		return findScan(t, v.Child)
	case *Filter:
		return findScan(t, v.Child)
	case *GroupBy:
		return findScan(t, v.Child)
	case *OrderBy:
		return findScan(t, v.Child)
	case *Limit:
		return findScan(t, v.Child)
	default:
		t.Fatalf("no scan found under %T", n)
		return nil
	}
}
