// Package exec walks a planner.Node tree into a row iterator (spec
// §4.9). Grounded on the teacher's internal/engine/exec.go row-iterator
// and aggregate-registry idioms, generalized to the planner's node set.
package exec

import (
	"context"
	"fmt"

	"github.com/weaverdb/weaverdb/internal/sql/parser"
	"github.com/weaverdb/weaverdb/internal/sql/planner"
	"github.com/weaverdb/weaverdb/internal/table"
)

// Row is one output tuple: a slice of values positioned per the current
// node's Schema.
type Row struct {
	Values []table.Value
}

// Column names one output position, qualified by the table alias it
// came from (empty for computed/aggregate columns).
type Column struct {
	Table string
	Name  string
}

// Schema is the ordered output column list of a node.
type Schema []Column

// Iterator is a one-directional, non-restartable row stream (spec §9:
// "iterators are lazy and not restartable"). Close releases whatever
// the node holds (table read results, sort buffers); calling Next after
// exhaustion or Close returns (Row{}, false, nil).
type Iterator interface {
	Next(ctx context.Context) (Row, bool, error)
	Schema() Schema
	Close() error
}

// Tables resolves a scan's (schema, table) name to the underlying
// table.Table. The active transaction's Visibility is passed to Exec
// separately.
type Tables interface {
	Open(schemaName, tableName string) (*table.Table, bool)
}

// Exec builds and returns the root iterator for a plan tree.
func Exec(ctx context.Context, root planner.Node, tables Tables, v table.Visibility) (Iterator, error) {
	return build(root, tables, v)
}

func build(n planner.Node, tables Tables, v table.Visibility) (Iterator, error) {
	switch node := n.(type) {
	case *planner.TableScan:
		return newScanIterator(node, tables, v)
	case *planner.Filter:
		child, err := build(node.Child, tables, v)
		if err != nil {
			return nil, err
		}
		return newFilterIterator(child, node.Predicate), nil
	case *planner.Project:
		child, err := build(node.Child, tables, v)
		if err != nil {
			return nil, err
		}
		return newProjectIterator(child, node.Expressions)
	case *planner.Join:
		left, err := build(node.Left, tables, v)
		if err != nil {
			return nil, err
		}
		right, err := build(node.Right, tables, v)
		if err != nil {
			return nil, err
		}
		return newJoinIterator(node, left, right)
	case *planner.GroupBy:
		child, err := build(node.Child, tables, v)
		if err != nil {
			return nil, err
		}
		return newGroupByIterator(child, node.Keys, node.Aggregates)
	case *planner.OrderBy:
		child, err := build(node.Child, tables, v)
		if err != nil {
			return nil, err
		}
		return newOrderByIterator(child, node.Keys)
	case *planner.Limit:
		child, err := build(node.Child, tables, v)
		if err != nil {
			return nil, err
		}
		return newLimitIterator(child, node.N, node.Offset), nil
	default:
		return nil, fmt.Errorf("exec: unsupported plan node %T", n)
	}
}

// env binds column references to positions in a Row for expression
// evaluation, resolving an unqualified reference when it's unambiguous.
type env struct {
	schema Schema
}

func (e env) indexOf(ref *parser.ColumnRef) (int, error) {
	if ref.Table != "" {
		for i, c := range e.schema {
			if c.Table == ref.Table && c.Name == ref.Column {
				return i, nil
			}
		}
		return -1, fmt.Errorf("exec: unresolved column %s.%s", ref.Table, ref.Column)
	}
	found := -1
	for i, c := range e.schema {
		if c.Name == ref.Column {
			if found != -1 {
				return -1, fmt.Errorf("exec: ambiguous column %s", ref.Column)
			}
			found = i
		}
	}
	if found == -1 {
		return -1, fmt.Errorf("exec: unresolved column %s", ref.Column)
	}
	return found, nil
}
