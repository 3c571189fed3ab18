package exec

import (
	"fmt"

	"github.com/weaverdb/weaverdb/internal/sql/parser"
	"github.com/weaverdb/weaverdb/internal/table"
)

// EvalConst evaluates an expression that references no columns — the
// value-expression grammar that's legal inside INSERT ... VALUES (...).
// Used by internal/core to turn a VALUES row's expressions into table
// values without building a whole iterator pipeline for what is, by
// construction, never more than literals and constant-folded arithmetic.
func EvalConst(e parser.Expr) (table.Value, error) {
	return evalExpr(e, Row{}, env{})
}

// evalExpr evaluates e against row under env, per spec §4.9: "NULL
// compares produce NULL; NULL in boolean context treated as false for
// filtering."
func evalExpr(e parser.Expr, row Row, en env) (table.Value, error) {
	switch v := e.(type) {
	case *parser.Literal:
		return v.Value, nil
	case *parser.ColumnRef:
		idx, err := en.indexOf(v)
		if err != nil {
			return table.Value{}, err
		}
		return row.Values[idx], nil
	case *parser.UnaryExpr:
		return evalUnary(v, row, en)
	case *parser.BinaryExpr:
		return evalBinary(v, row, en)
	case *parser.FuncCall:
		return evalScalarCall(v, row, en)
	default:
		return table.Value{}, fmt.Errorf("exec: unsupported expression %T", e)
	}
}

func evalUnary(v *parser.UnaryExpr, row Row, en env) (table.Value, error) {
	inner, err := evalExpr(v.Expr, row, en)
	if err != nil {
		return table.Value{}, err
	}
	switch v.Op {
	case parser.OpNot:
		if inner.IsNull() {
			return table.Null(), nil
		}
		return table.Bool(!truthy(inner)), nil
	case parser.OpNeg:
		if inner.IsNull() {
			return table.Null(), nil
		}
		switch inner.Kind {
		case table.KindInt:
			return table.Int(-inner.Int), nil
		case table.KindFloat:
			return table.Float(-inner.Float), nil
		default:
			return table.Value{}, fmt.Errorf("exec: cannot negate a %s", inner.Kind)
		}
	default:
		return table.Value{}, fmt.Errorf("exec: unknown unary operator")
	}
}

func truthy(v table.Value) bool {
	if v.IsNull() {
		return false
	}
	if v.Kind == table.KindBool {
		return v.Bool
	}
	return true
}

func evalBinary(v *parser.BinaryExpr, row Row, en env) (table.Value, error) {
	switch v.Op {
	case parser.OpAnd:
		return evalAnd(v, row, en)
	case parser.OpOr:
		return evalOr(v, row, en)
	}
	left, err := evalExpr(v.Left, row, en)
	if err != nil {
		return table.Value{}, err
	}
	right, err := evalExpr(v.Right, row, en)
	if err != nil {
		return table.Value{}, err
	}
	switch v.Op {
	case parser.OpEq, parser.OpNotEq, parser.OpLt, parser.OpLtEq, parser.OpGt, parser.OpGtEq:
		return evalComparison(v.Op, left, right)
	case parser.OpAdd, parser.OpSub, parser.OpMul, parser.OpDiv, parser.OpMod:
		return evalArithmetic(v.Op, left, right)
	default:
		return table.Value{}, fmt.Errorf("exec: unknown binary operator")
	}
}

// evalAnd/evalOr implement SQL three-valued AND/OR without always
// evaluating both sides' nullness eagerly against the full truth table
// (false AND NULL = false, true OR NULL = true).
func evalAnd(v *parser.BinaryExpr, row Row, en env) (table.Value, error) {
	left, err := evalExpr(v.Left, row, en)
	if err != nil {
		return table.Value{}, err
	}
	if !left.IsNull() && !truthy(left) {
		return table.Bool(false), nil
	}
	right, err := evalExpr(v.Right, row, en)
	if err != nil {
		return table.Value{}, err
	}
	if !right.IsNull() && !truthy(right) {
		return table.Bool(false), nil
	}
	if left.IsNull() || right.IsNull() {
		return table.Null(), nil
	}
	return table.Bool(true), nil
}

func evalOr(v *parser.BinaryExpr, row Row, en env) (table.Value, error) {
	left, err := evalExpr(v.Left, row, en)
	if err != nil {
		return table.Value{}, err
	}
	if !left.IsNull() && truthy(left) {
		return table.Bool(true), nil
	}
	right, err := evalExpr(v.Right, row, en)
	if err != nil {
		return table.Value{}, err
	}
	if !right.IsNull() && truthy(right) {
		return table.Bool(true), nil
	}
	if left.IsNull() || right.IsNull() {
		return table.Null(), nil
	}
	return table.Bool(false), nil
}

func evalComparison(op parser.BinOp, a, b table.Value) (table.Value, error) {
	if a.IsNull() || b.IsNull() {
		return table.Null(), nil
	}
	cmp := table.Compare(a, b, table.BinaryCollation)
	switch op {
	case parser.OpEq:
		return table.Bool(cmp == 0), nil
	case parser.OpNotEq:
		return table.Bool(cmp != 0), nil
	case parser.OpLt:
		return table.Bool(cmp < 0), nil
	case parser.OpLtEq:
		return table.Bool(cmp <= 0), nil
	case parser.OpGt:
		return table.Bool(cmp > 0), nil
	case parser.OpGtEq:
		return table.Bool(cmp >= 0), nil
	default:
		return table.Value{}, fmt.Errorf("exec: unknown comparison operator")
	}
}

func evalArithmetic(op parser.BinOp, a, b table.Value) (table.Value, error) {
	if a.IsNull() || b.IsNull() {
		return table.Null(), nil
	}
	af, aIsFloat := numeric(a)
	bf, bIsFloat := numeric(b)
	if aIsFloat || bIsFloat {
		var result float64
		switch op {
		case parser.OpAdd:
			result = af + bf
		case parser.OpSub:
			result = af - bf
		case parser.OpMul:
			result = af * bf
		case parser.OpDiv:
			if bf == 0 {
				return table.Value{}, fmt.Errorf("exec: division by zero")
			}
			result = af / bf
		case parser.OpMod:
			return table.Value{}, fmt.Errorf("exec: modulo requires integer operands")
		}
		return table.Float(result), nil
	}
	ai, bi := int64(af), int64(bf)
	switch op {
	case parser.OpAdd:
		return table.Int(ai + bi), nil
	case parser.OpSub:
		return table.Int(ai - bi), nil
	case parser.OpMul:
		return table.Int(ai * bi), nil
	case parser.OpDiv:
		if bi == 0 {
			return table.Value{}, fmt.Errorf("exec: division by zero")
		}
		return table.Int(ai / bi), nil
	case parser.OpMod:
		if bi == 0 {
			return table.Value{}, fmt.Errorf("exec: division by zero")
		}
		return table.Int(ai % bi), nil
	default:
		return table.Value{}, fmt.Errorf("exec: unknown arithmetic operator")
	}
}

func numeric(v table.Value) (float64, bool) {
	if v.Kind == table.KindFloat {
		return v.Float, true
	}
	return float64(v.Int), false
}

func evalScalarCall(v *parser.FuncCall, row Row, en env) (table.Value, error) {
	return table.Value{}, fmt.Errorf("exec: %s is not a scalar function (use it as an aggregate)", v.Name)
}
