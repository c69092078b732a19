package datalog

import (
	"bytes"
	"math"
	"regexp"
	"strings"
)

// UnaryOpKind enumerates the unary operators.
type UnaryOpKind int

const (
	UnaryNegate UnaryOpKind = iota
	UnaryParens
	UnaryLength
)

func (k UnaryOpKind) String() string {
	switch k {
	case UnaryNegate:
		return "!"
	case UnaryParens:
		return "()"
	case UnaryLength:
		return "length"
	}
	return "unknown"
}

// BinaryOpKind enumerates the binary operators.
type BinaryOpKind int

const (
	BinaryLessThan BinaryOpKind = iota
	BinaryGreaterThan
	BinaryLessOrEqual
	BinaryGreaterOrEqual
	BinaryEqual
	BinaryNotEqual
	BinaryContains
	BinaryPrefix
	BinarySuffix
	BinaryRegex
	BinaryAdd
	BinarySub
	BinaryMul
	BinaryDiv
	BinaryAnd
	BinaryOr
	BinaryIntersection
	BinaryUnion
	BinaryBitwiseAnd
	BinaryBitwiseOr
	BinaryBitwiseXor
)

func (k BinaryOpKind) String() string {
	switch k {
	case BinaryLessThan:
		return "<"
	case BinaryGreaterThan:
		return ">"
	case BinaryLessOrEqual:
		return "<="
	case BinaryGreaterOrEqual:
		return ">="
	case BinaryEqual:
		return "=="
	case BinaryNotEqual:
		return "!="
	case BinaryContains:
		return "contains"
	case BinaryPrefix:
		return "starts_with"
	case BinarySuffix:
		return "ends_with"
	case BinaryRegex:
		return "matches"
	case BinaryAdd:
		return "+"
	case BinarySub:
		return "-"
	case BinaryMul:
		return "*"
	case BinaryDiv:
		return "/"
	case BinaryAnd:
		return "&&"
	case BinaryOr:
		return "||"
	case BinaryIntersection:
		return "intersection"
	case BinaryUnion:
		return "union"
	case BinaryBitwiseAnd:
		return "&"
	case BinaryBitwiseOr:
		return "|"
	case BinaryBitwiseXor:
		return "^"
	}
	return "unknown"
}

// Op is one element of an expression's postfix op sequence: either a
// term push or an operator application.
type Op struct {
	// Exactly one of the three is meaningful, selected by Kind.
	Kind   OpKind
	Value  Term
	Unary  UnaryOpKind
	Binary BinaryOpKind
}

// OpKind discriminates Op.
type OpKind int

const (
	OpValue OpKind = iota
	OpUnary
	OpBinary
)

// Expression is a boolean guard in postfix form, matching the wire
// layout. Evaluation runs a small stack machine over ground terms.
type Expression struct {
	Ops []Op
}

const maxExpressionStack = 64

// Evaluate runs the expression under the given variable bindings.
// The symbol table resolves String terms for text operators and
// interns concatenation results.
func (e Expression) Evaluate(bindings map[Variable]Term, symbols *SymbolTable) (Term, error) {
	stack := make([]Term, 0, 8)

	push := func(t Term) error {
		if len(stack) >= maxExpressionStack {
			return executionErrorf("expression", "stack overflow")
		}
		stack = append(stack, t)
		return nil
	}
	pop := func() (Term, error) {
		if len(stack) == 0 {
			return nil, executionErrorf("expression", "empty stack")
		}
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return t, nil
	}

	for _, op := range e.Ops {
		switch op.Kind {
		case OpValue:
			t := op.Value
			if v, ok := t.(Variable); ok {
				bound, ok := bindings[v]
				if !ok {
					return nil, executionErrorf("expression", "unbound variable $%d", uint32(v))
				}
				t = bound
			}
			if err := push(t); err != nil {
				return nil, err
			}
		case OpUnary:
			arg, err := pop()
			if err != nil {
				return nil, err
			}
			res, err := evaluateUnary(op.Unary, arg, symbols)
			if err != nil {
				return nil, err
			}
			if err := push(res); err != nil {
				return nil, err
			}
		case OpBinary:
			right, err := pop()
			if err != nil {
				return nil, err
			}
			left, err := pop()
			if err != nil {
				return nil, err
			}
			res, err := evaluateBinary(op.Binary, left, right, symbols)
			if err != nil {
				return nil, err
			}
			if err := push(res); err != nil {
				return nil, err
			}
		}
	}

	if len(stack) != 1 {
		return nil, executionErrorf("expression", "invalid expression: %d values left on stack", len(stack))
	}
	return stack[0], nil
}

func evaluateUnary(kind UnaryOpKind, arg Term, symbols *SymbolTable) (Term, error) {
	switch kind {
	case UnaryNegate:
		b, ok := arg.(Boolean)
		if !ok {
			return nil, executionErrorf("!", "expected boolean, got %T", arg)
		}
		return Boolean(!b), nil
	case UnaryParens:
		return arg, nil
	case UnaryLength:
		switch v := arg.(type) {
		case String:
			s, err := symbols.Str(uint64(v))
			if err != nil {
				return nil, executionErrorf("length", "%v", err)
			}
			return Integer(len(s)), nil
		case Bytes:
			return Integer(len(v)), nil
		case Set:
			return Integer(len(v)), nil
		case Array:
			return Integer(len(v)), nil
		case Map:
			return Integer(len(v)), nil
		default:
			return nil, executionErrorf("length", "unsupported operand %T", arg)
		}
	}
	return nil, executionErrorf("unary", "unknown operator %d", kind)
}

func evaluateBinary(kind BinaryOpKind, left, right Term, symbols *SymbolTable) (Term, error) {
	op := kind.String()

	switch kind {
	case BinaryLessThan, BinaryGreaterThan, BinaryLessOrEqual, BinaryGreaterOrEqual:
		c, err := compareOrdered(op, left, right)
		if err != nil {
			return nil, err
		}
		switch kind {
		case BinaryLessThan:
			return Boolean(c < 0), nil
		case BinaryGreaterThan:
			return Boolean(c > 0), nil
		case BinaryLessOrEqual:
			return Boolean(c <= 0), nil
		default:
			return Boolean(c >= 0), nil
		}

	case BinaryEqual, BinaryNotEqual:
		if left.Type() != right.Type() {
			return nil, executionErrorf(op, "type mismatch: %T vs %T", left, right)
		}
		eq := left.Equal(right)
		if kind == BinaryNotEqual {
			eq = !eq
		}
		return Boolean(eq), nil

	case BinaryContains:
		return evaluateContains(left, right, symbols)

	case BinaryPrefix, BinarySuffix:
		ls, lok := left.(String)
		rs, rok := right.(String)
		if !lok || !rok {
			return nil, executionErrorf(op, "expected strings, got %T and %T", left, right)
		}
		l, err := symbols.Str(uint64(ls))
		if err != nil {
			return nil, executionErrorf(op, "%v", err)
		}
		r, err := symbols.Str(uint64(rs))
		if err != nil {
			return nil, executionErrorf(op, "%v", err)
		}
		if kind == BinaryPrefix {
			return Boolean(strings.HasPrefix(l, r)), nil
		}
		return Boolean(strings.HasSuffix(l, r)), nil

	case BinaryRegex:
		ls, lok := left.(String)
		rs, rok := right.(String)
		if !lok || !rok {
			return nil, executionErrorf(op, "expected strings, got %T and %T", left, right)
		}
		l, err := symbols.Str(uint64(ls))
		if err != nil {
			return nil, executionErrorf(op, "%v", err)
		}
		pattern, err := symbols.Str(uint64(rs))
		if err != nil {
			return nil, executionErrorf(op, "%v", err)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, executionErrorf(op, "invalid pattern: %v", err)
		}
		return Boolean(re.MatchString(l)), nil

	case BinaryAdd:
		if ls, ok := left.(String); ok {
			rs, ok := right.(String)
			if !ok {
				return nil, executionErrorf(op, "type mismatch: string + %T", right)
			}
			l, err := symbols.Str(uint64(ls))
			if err != nil {
				return nil, executionErrorf(op, "%v", err)
			}
			r, err := symbols.Str(uint64(rs))
			if err != nil {
				return nil, executionErrorf(op, "%v", err)
			}
			return String(symbols.Insert(l + r)), nil
		}
		return checkedArithmetic(op, left, right, func(a, b int64) (int64, bool) {
			c := a + b
			if (b > 0 && c < a) || (b < 0 && c > a) {
				return 0, false
			}
			return c, true
		})

	case BinarySub:
		return checkedArithmetic(op, left, right, func(a, b int64) (int64, bool) {
			c := a - b
			if (b < 0 && c < a) || (b > 0 && c > a) {
				return 0, false
			}
			return c, true
		})

	case BinaryMul:
		return checkedArithmetic(op, left, right, func(a, b int64) (int64, bool) {
			if a == 0 || b == 0 {
				return 0, true
			}
			c := a * b
			if c/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
				return 0, false
			}
			return c, true
		})

	case BinaryDiv:
		return checkedArithmetic(op, left, right, func(a, b int64) (int64, bool) {
			if b == 0 {
				return 0, false
			}
			if a == math.MinInt64 && b == -1 {
				return 0, false
			}
			return a / b, true
		})

	case BinaryAnd, BinaryOr:
		lb, lok := left.(Boolean)
		rb, rok := right.(Boolean)
		if !lok || !rok {
			return nil, executionErrorf(op, "expected booleans, got %T and %T", left, right)
		}
		if kind == BinaryAnd {
			return Boolean(bool(lb) && bool(rb)), nil
		}
		return Boolean(bool(lb) || bool(rb)), nil

	case BinaryIntersection:
		ls, lok := left.(Set)
		rs, rok := right.(Set)
		if !lok || !rok {
			return nil, executionErrorf(op, "expected sets, got %T and %T", left, right)
		}
		return ls.Intersection(rs), nil

	case BinaryUnion:
		ls, lok := left.(Set)
		rs, rok := right.(Set)
		if !lok || !rok {
			return nil, executionErrorf(op, "expected sets, got %T and %T", left, right)
		}
		return ls.Union(rs), nil

	case BinaryBitwiseAnd, BinaryBitwiseOr, BinaryBitwiseXor:
		li, lok := left.(Integer)
		ri, rok := right.(Integer)
		if !lok || !rok {
			return nil, executionErrorf(op, "expected integers, got %T and %T", left, right)
		}
		switch kind {
		case BinaryBitwiseAnd:
			return li & ri, nil
		case BinaryBitwiseOr:
			return li | ri, nil
		default:
			return li ^ ri, nil
		}
	}
	return nil, executionErrorf("binary", "unknown operator %d", kind)
}

// compareOrdered handles <, <=, >, >= over two integers or two dates.
// Any other operand pair, strings included, is an execution error.
func compareOrdered(op string, left, right Term) (int, error) {
	switch l := left.(type) {
	case Integer:
		r, ok := right.(Integer)
		if !ok {
			return 0, executionErrorf(op, "type mismatch: %T vs %T", left, right)
		}
		if l < r {
			return -1, nil
		} else if l > r {
			return 1, nil
		}
		return 0, nil
	case Date:
		r, ok := right.(Date)
		if !ok {
			return 0, executionErrorf(op, "type mismatch: %T vs %T", left, right)
		}
		if l < r {
			return -1, nil
		} else if l > r {
			return 1, nil
		}
		return 0, nil
	}
	return 0, executionErrorf(op, "unsupported operand %T", left)
}

func evaluateContains(left, right Term, symbols *SymbolTable) (Term, error) {
	switch l := left.(type) {
	case Set:
		if rs, ok := right.(Set); ok {
			// set.contains(set) is subset containment
			for _, e := range rs {
				if !l.Contains(e) {
					return Boolean(false), nil
				}
			}
			return Boolean(true), nil
		}
		return Boolean(l.Contains(right)), nil
	case Array:
		return Boolean(l.Contains(right)), nil
	case Map:
		return Boolean(l.ContainsKey(right)), nil
	case String:
		rs, ok := right.(String)
		if !ok {
			return nil, executionErrorf("contains", "type mismatch: string vs %T", right)
		}
		ls, err := symbols.Str(uint64(l))
		if err != nil {
			return nil, executionErrorf("contains", "%v", err)
		}
		r, err := symbols.Str(uint64(rs))
		if err != nil {
			return nil, executionErrorf("contains", "%v", err)
		}
		return Boolean(strings.Contains(ls, r)), nil
	case Bytes:
		rb, ok := right.(Bytes)
		if !ok {
			return nil, executionErrorf("contains", "type mismatch: bytes vs %T", right)
		}
		return Boolean(bytes.Contains(l, rb)), nil
	}
	return nil, executionErrorf("contains", "unsupported operand %T", left)
}

func checkedArithmetic(op string, left, right Term, f func(a, b int64) (int64, bool)) (Term, error) {
	li, lok := left.(Integer)
	ri, rok := right.(Integer)
	if !lok || !rok {
		return nil, executionErrorf(op, "expected integers, got %T and %T", left, right)
	}
	c, ok := f(int64(li), int64(ri))
	if !ok {
		return nil, executionErrorf(op, "integer overflow")
	}
	return Integer(c), nil
}
