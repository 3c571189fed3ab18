package core

import (
	"fmt"
	"strings"

	"github.com/weaverdb/weaverdb/internal/sql/planner"
)

// explainLines renders a plan tree as indented one-line-per-node text,
// the same shape a teacher-style EXPLAIN produces — no separate
// serialization format, since EXPLAIN's only consumer is a human or a
// client printing the rows of the statement's result set.
func explainLines(n planner.Node, depth int) []string {
	indent := strings.Repeat("  ", depth)
	switch node := n.(type) {
	case *planner.TableScan:
		line := fmt.Sprintf("%sscan %s.%s as %s (est. %d rows)", indent, node.Schema, node.Table, node.Alias, node.EstimatedRows)
		if len(node.KeyIndexCandidates) > 0 {
			line += fmt.Sprintf(" via %s", node.KeyIndexCandidates[0].Index)
		}
		return []string{line}
	case *planner.Filter:
		return append([]string{indent + "filter"}, explainLines(node.Child, depth+1)...)
	case *planner.Project:
		return append([]string{indent + "project"}, explainLines(node.Child, depth+1)...)
	case *planner.Join:
		line := fmt.Sprintf("%sjoin (%s, est. %d rows)", indent, node.Strategy, node.EstimatedRows)
		out := []string{line}
		out = append(out, explainLines(node.Left, depth+1)...)
		out = append(out, explainLines(node.Right, depth+1)...)
		return out
	case *planner.GroupBy:
		return append([]string{indent + "group by"}, explainLines(node.Child, depth+1)...)
	case *planner.OrderBy:
		return append([]string{indent + "order by"}, explainLines(node.Child, depth+1)...)
	case *planner.Limit:
		line := fmt.Sprintf("%slimit %d offset %d", indent, node.N, node.Offset)
		return append([]string{line}, explainLines(node.Child, depth+1)...)
	default:
		return []string{fmt.Sprintf("%s%T", indent, n)}
	}
}
