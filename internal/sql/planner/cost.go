package planner

import (
	"math"
	"sync"
)

// Cost is the (base, row_factor) pair of spec §4.8's cost model: a
// strategy's effective cost at a given row count is base * rows^row_factor.
// Ported field-for-field from original_source's Cost{base, row_factor}.
type Cost struct {
	Base      float64
	RowFactor float64
}

// Eval computes base * rows^row_factor.
func (c Cost) Eval(rows int) float64 {
	if rows <= 0 {
		rows = 1
	}
	return c.Base * math.Pow(float64(rows), c.RowFactor)
}

// CostTable maps an operation key (e.g. a join strategy name, or a scan
// kind) to its Cost. Safe for concurrent reads and a rare write through
// Set; internal/core's janitor only reads it, via Snapshot, to rewrite
// weaver.cost.
type CostTable struct {
	mu    sync.RWMutex
	costs map[string]Cost
}

// DefaultCostTable returns the built-in cost table, seeded with relative
// costs that reflect each strategy's asymptotic behavior: hash join is
// linear in rows, sort-merge is log-linear (approximated by a row_factor
// just above 1), nested-loop is quadratic.
func DefaultCostTable() *CostTable {
	return &CostTable{
		costs: map[string]Cost{
			string(StrategyHash):       {Base: 1.0, RowFactor: 1.0},
			string(StrategySortMerge):  {Base: 1.2, RowFactor: 1.05},
			string(StrategyNestedLoop): {Base: 1.0, RowFactor: 2.0},
			"table_scan":               {Base: 1.0, RowFactor: 1.0},
			"index_scan":               {Base: 0.1, RowFactor: 1.0},
		},
	}
}

// Cost evaluates the cost of op at the given row estimate, falling back
// to a conservative linear cost for an unregistered op.
func (t *CostTable) Cost(op string, rows int) float64 {
	t.mu.RLock()
	c, ok := t.costs[op]
	t.mu.RUnlock()
	if !ok {
		c = Cost{Base: 1.0, RowFactor: 1.0}
	}
	return c.Eval(rows)
}

// Set overwrites the cost entry for op.
func (t *CostTable) Set(op string, c Cost) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.costs[op] = c
}

// Snapshot returns a copy of the current table, for persisting to
// weaver.cost.
func (t *CostTable) Snapshot() map[string]Cost {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Cost, len(t.costs))
	for k, v := range t.costs {
		out[k] = v
	}
	return out
}
