package datalog

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t Term) Op           { return Op{Kind: OpValue, Value: t} }
func unary(k UnaryOpKind) Op    { return Op{Kind: OpUnary, Unary: k} }
func binaryOp(k BinaryOpKind) Op  { return Op{Kind: OpBinary, Binary: k} }
func expr(ops ...Op) Expression { return Expression{Ops: ops} }

func evalExpr(t *testing.T, e Expression, bindings map[Variable]Term, symbols *SymbolTable) Term {
	t.Helper()
	res, err := e.Evaluate(bindings, symbols)
	require.NoError(t, err)
	return res
}

func TestExpressionComparisons(t *testing.T) {
	symbols := NewSymbolTable()

	res := evalExpr(t, expr(value(Integer(1)), value(Integer(2)), binaryOp(BinaryLessThan)), nil, symbols)
	assert.Equal(t, Boolean(true), res)

	res = evalExpr(t, expr(value(Date(100)), value(Date(100)), binaryOp(BinaryGreaterOrEqual)), nil, symbols)
	assert.Equal(t, Boolean(true), res)

	res = evalExpr(t, expr(value(Integer(5)), value(Integer(5)), binaryOp(BinaryNotEqual)), nil, symbols)
	assert.Equal(t, Boolean(false), res)
}

func TestExpressionTypeMismatch(t *testing.T) {
	symbols := NewSymbolTable()

	_, err := expr(value(Integer(1)), value(Boolean(true)), binaryOp(BinaryLessThan)).Evaluate(nil, symbols)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "<", execErr.Op)

	_, err = expr(value(Integer(1)), value(String(0)), binaryOp(BinaryEqual)).Evaluate(nil, symbols)
	require.ErrorAs(t, err, &execErr)
}

func TestExpressionVariableBinding(t *testing.T) {
	symbols := NewSymbolTable()
	bindings := map[Variable]Term{Variable(0): Integer(42)}

	res := evalExpr(t, expr(value(Variable(0)), value(Integer(0)), binaryOp(BinaryGreaterThan)), bindings, symbols)
	assert.Equal(t, Boolean(true), res)

	_, err := expr(value(Variable(9)), value(Integer(0)), binaryOp(BinaryEqual)).Evaluate(bindings, symbols)
	assert.Error(t, err, "unbound variable")
}

func TestExpressionCheckedArithmetic(t *testing.T) {
	symbols := NewSymbolTable()

	res := evalExpr(t, expr(value(Integer(2)), value(Integer(3)), binaryOp(BinaryAdd)), nil, symbols)
	assert.Equal(t, Integer(5), res)

	_, err := expr(value(Integer(math.MaxInt64)), value(Integer(1)), binaryOp(BinaryAdd)).Evaluate(nil, symbols)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)

	_, err = expr(value(Integer(math.MinInt64)), value(Integer(-1)), binaryOp(BinaryMul)).Evaluate(nil, symbols)
	require.ErrorAs(t, err, &execErr)

	_, err = expr(value(Integer(1)), value(Integer(0)), binaryOp(BinaryDiv)).Evaluate(nil, symbols)
	require.ErrorAs(t, err, &execErr)
}

func TestExpressionStringOperators(t *testing.T) {
	symbols := NewSymbolTable()
	hello := symbols.Sym("hello world")
	hell := symbols.Sym("hello")
	world := symbols.Sym("world")

	res := evalExpr(t, expr(value(hello), value(hell), binaryOp(BinaryPrefix)), nil, symbols)
	assert.Equal(t, Boolean(true), res)

	res = evalExpr(t, expr(value(hello), value(world), binaryOp(BinarySuffix)), nil, symbols)
	assert.Equal(t, Boolean(true), res)

	res = evalExpr(t, expr(value(hello), value(world), binaryOp(BinaryContains)), nil, symbols)
	assert.Equal(t, Boolean(true), res)

	pattern := symbols.Sym("^hello.*$")
	res = evalExpr(t, expr(value(hello), value(pattern), binaryOp(BinaryRegex)), nil, symbols)
	assert.Equal(t, Boolean(true), res)

	// Concatenation interns the result
	res = evalExpr(t, expr(value(hell), value(world), binaryOp(BinaryAdd)), nil, symbols)
	s, ok := res.(String)
	require.True(t, ok)
	str, err := symbols.Str(uint64(s))
	require.NoError(t, err)
	assert.Equal(t, "helloworld", str)
}

func TestExpressionSetOperators(t *testing.T) {
	symbols := NewSymbolTable()
	a, _ := NewSet([]Term{Integer(1), Integer(2)})
	b, _ := NewSet([]Term{Integer(2), Integer(3)})
	sub, _ := NewSet([]Term{Integer(2)})

	res := evalExpr(t, expr(value(a), value(Integer(1)), binaryOp(BinaryContains)), nil, symbols)
	assert.Equal(t, Boolean(true), res)

	res = evalExpr(t, expr(value(a), value(sub), binaryOp(BinaryContains)), nil, symbols)
	assert.Equal(t, Boolean(true), res, "set containment of a subset")

	res = evalExpr(t, expr(value(a), value(b), binaryOp(BinaryIntersection)), nil, symbols)
	inter, ok := res.(Set)
	require.True(t, ok)
	assert.Len(t, inter, 1)

	res = evalExpr(t, expr(value(a), value(b), binaryOp(BinaryUnion)), nil, symbols)
	union, ok := res.(Set)
	require.True(t, ok)
	assert.Len(t, union, 3)
}

func TestExpressionBooleanAndLength(t *testing.T) {
	symbols := NewSymbolTable()

	res := evalExpr(t, expr(value(Boolean(true)), unary(UnaryNegate)), nil, symbols)
	assert.Equal(t, Boolean(false), res)

	res = evalExpr(t, expr(value(Boolean(true)), value(Boolean(false)), binaryOp(BinaryOr)), nil, symbols)
	assert.Equal(t, Boolean(true), res)

	res = evalExpr(t, expr(value(Bytes{1, 2, 3}), unary(UnaryLength)), nil, symbols)
	assert.Equal(t, Integer(3), res)

	s := symbols.Sym("abcd")
	res = evalExpr(t, expr(value(s), unary(UnaryLength)), nil, symbols)
	assert.Equal(t, Integer(4), res)
}

func TestExpressionMalformedStack(t *testing.T) {
	symbols := NewSymbolTable()

	_, err := expr(value(Integer(1)), value(Integer(2))).Evaluate(nil, symbols)
	assert.Error(t, err, "two values left on stack")

	_, err = expr(binaryOp(BinaryAdd)).Evaluate(nil, symbols)
	assert.Error(t, err, "empty stack")
}
