package wire

import (
	"github.com/cordon-auth/cordon/datalog"
)

// Conversions between the wire messages and the datalog AST. Both
// directions validate variants so malformed tokens are rejected at
// the codec boundary rather than during evaluation.

// TermToDatalog converts a wire term.
func TermToDatalog(t *Term) (datalog.Term, error) {
	switch {
	case t.Variable != nil:
		return datalog.Variable(*t.Variable), nil
	case t.Integer != nil:
		return datalog.Integer(*t.Integer), nil
	case t.String != nil:
		return datalog.String(*t.String), nil
	case t.Date != nil:
		return datalog.Date(*t.Date), nil
	case t.HasBytes():
		return datalog.Bytes(t.Bytes), nil
	case t.Bool != nil:
		return datalog.Boolean(*t.Bool), nil
	case t.Set != nil:
		elems := make([]datalog.Term, 0, len(t.Set.Set))
		for _, e := range t.Set.Set {
			de, err := TermToDatalog(e)
			if err != nil {
				return nil, err
			}
			elems = append(elems, de)
		}
		return datalog.NewSet(elems)
	case t.Null:
		return datalog.Null{}, nil
	case t.Array != nil:
		elems := make([]datalog.Term, 0, len(t.Array.Array))
		for _, e := range t.Array.Array {
			de, err := TermToDatalog(e)
			if err != nil {
				return nil, err
			}
			elems = append(elems, de)
		}
		return datalog.Array(elems), nil
	case t.Map != nil:
		entries := make([]datalog.MapEntry, 0, len(t.Map.Entries))
		for _, e := range t.Map.Entries {
			k, err := TermToDatalog(e.Key)
			if err != nil {
				return nil, err
			}
			v, err := TermToDatalog(e.Value)
			if err != nil {
				return nil, err
			}
			entries = append(entries, datalog.MapEntry{Key: k, Value: v})
		}
		return datalog.NewMap(entries)
	}
	return nil, errDeserialize("term with no variant set")
}

// TermFromDatalog converts a datalog term.
func TermFromDatalog(t datalog.Term) (*Term, error) {
	switch v := t.(type) {
	case datalog.Variable:
		x := uint32(v)
		return &Term{Variable: &x}, nil
	case datalog.Integer:
		x := int64(v)
		return &Term{Integer: &x}, nil
	case datalog.String:
		x := uint64(v)
		return &Term{String: &x}, nil
	case datalog.Date:
		x := uint64(v)
		return &Term{Date: &x}, nil
	case datalog.Bytes:
		return NewBytesTerm(v), nil
	case datalog.Boolean:
		x := bool(v)
		return &Term{Bool: &x}, nil
	case datalog.Null:
		return &Term{Null: true}, nil
	case datalog.Set:
		set := &TermSet{Set: make([]*Term, 0, len(v))}
		for _, e := range v {
			we, err := TermFromDatalog(e)
			if err != nil {
				return nil, err
			}
			set.Set = append(set.Set, we)
		}
		return &Term{Set: set}, nil
	case datalog.Array:
		arr := &TermArr{Array: make([]*Term, 0, len(v))}
		for _, e := range v {
			we, err := TermFromDatalog(e)
			if err != nil {
				return nil, err
			}
			arr.Array = append(arr.Array, we)
		}
		return &Term{Array: arr}, nil
	case datalog.Map:
		m := &TermMap{Entries: make([]*MapEntry, 0, len(v))}
		for _, e := range v {
			wk, err := TermFromDatalog(e.Key)
			if err != nil {
				return nil, err
			}
			wv, err := TermFromDatalog(e.Value)
			if err != nil {
				return nil, err
			}
			m.Entries = append(m.Entries, &MapEntry{Key: wk, Value: wv})
		}
		return &Term{Map: m}, nil
	}
	return nil, errSerialize("unsupported term type %T", t)
}

// PredicateToDatalog converts a wire predicate.
func PredicateToDatalog(p *Predicate) (datalog.Predicate, error) {
	terms := make([]datalog.Term, 0, len(p.Terms))
	for _, t := range p.Terms {
		dt, err := TermToDatalog(t)
		if err != nil {
			return datalog.Predicate{}, err
		}
		terms = append(terms, dt)
	}
	return datalog.Predicate{Name: p.Name, Terms: terms}, nil
}

// PredicateFromDatalog converts a datalog predicate.
func PredicateFromDatalog(p datalog.Predicate) (*Predicate, error) {
	terms := make([]*Term, 0, len(p.Terms))
	for _, t := range p.Terms {
		wt, err := TermFromDatalog(t)
		if err != nil {
			return nil, err
		}
		terms = append(terms, wt)
	}
	return &Predicate{Name: p.Name, Terms: terms}, nil
}

// FactToDatalog converts a wire fact, rejecting non-ground
// predicates.
func FactToDatalog(f *Fact) (datalog.Fact, error) {
	p, err := PredicateToDatalog(f.Predicate)
	if err != nil {
		return datalog.Fact{}, err
	}
	if !p.IsGround() {
		return datalog.Fact{}, errDeserialize("fact with variables")
	}
	return datalog.Fact{Predicate: p}, nil
}

// FactFromDatalog converts a datalog fact.
func FactFromDatalog(f datalog.Fact) (*Fact, error) {
	p, err := PredicateFromDatalog(f.Predicate)
	if err != nil {
		return nil, err
	}
	return &Fact{Predicate: p}, nil
}

// ExpressionToDatalog converts a wire expression, validating op
// kinds.
func ExpressionToDatalog(e *Expression) (datalog.Expression, error) {
	ops := make([]datalog.Op, 0, len(e.Ops))
	for _, op := range e.Ops {
		switch {
		case op.Value != nil:
			t, err := TermToDatalog(op.Value)
			if err != nil {
				return datalog.Expression{}, err
			}
			ops = append(ops, datalog.Op{Kind: datalog.OpValue, Value: t})
		case op.Unary != nil:
			if op.Unary.Kind < 0 || op.Unary.Kind > int32(datalog.UnaryLength) {
				return datalog.Expression{}, errDeserialize("unknown unary op %d", op.Unary.Kind)
			}
			ops = append(ops, datalog.Op{Kind: datalog.OpUnary, Unary: datalog.UnaryOpKind(op.Unary.Kind)})
		case op.Binary != nil:
			if op.Binary.Kind < 0 || op.Binary.Kind > int32(datalog.BinaryBitwiseXor) {
				return datalog.Expression{}, errDeserialize("unknown binary op %d", op.Binary.Kind)
			}
			ops = append(ops, datalog.Op{Kind: datalog.OpBinary, Binary: datalog.BinaryOpKind(op.Binary.Kind)})
		default:
			return datalog.Expression{}, errDeserialize("op with no variant set")
		}
	}
	return datalog.Expression{Ops: ops}, nil
}

// ExpressionFromDatalog converts a datalog expression.
func ExpressionFromDatalog(e datalog.Expression) (*Expression, error) {
	ops := make([]*Op, 0, len(e.Ops))
	for _, op := range e.Ops {
		switch op.Kind {
		case datalog.OpValue:
			t, err := TermFromDatalog(op.Value)
			if err != nil {
				return nil, err
			}
			ops = append(ops, &Op{Value: t})
		case datalog.OpUnary:
			ops = append(ops, &Op{Unary: &OpUnary{Kind: int32(op.Unary)}})
		case datalog.OpBinary:
			ops = append(ops, &Op{Binary: &OpBinary{Kind: int32(op.Binary)}})
		default:
			return nil, errSerialize("op with unknown kind %d", op.Kind)
		}
	}
	return &Expression{Ops: ops}, nil
}

// ScopeToDatalog converts a wire scope element.
func ScopeToDatalog(s *Scope) (datalog.Scope, error) {
	switch {
	case s.ScopeType != nil:
		switch *s.ScopeType {
		case ScopeTypeAuthority:
			return datalog.Scope{Kind: datalog.ScopeAuthority}, nil
		case ScopeTypePrevious:
			return datalog.Scope{Kind: datalog.ScopePrevious}, nil
		}
		return datalog.Scope{}, errDeserialize("unknown scope type %d", *s.ScopeType)
	case s.PublicKey != nil:
		if *s.PublicKey < 0 {
			return datalog.Scope{}, errDeserialize("negative public key id")
		}
		return datalog.Scope{Kind: datalog.ScopePublicKey, PublicKey: uint64(*s.PublicKey)}, nil
	}
	return datalog.Scope{}, errDeserialize("scope with no variant set")
}

// ScopeFromDatalog converts a datalog scope element.
func ScopeFromDatalog(s datalog.Scope) (*Scope, error) {
	switch s.Kind {
	case datalog.ScopeAuthority:
		t := ScopeTypeAuthority
		return &Scope{ScopeType: &t}, nil
	case datalog.ScopePrevious:
		t := ScopeTypePrevious
		return &Scope{ScopeType: &t}, nil
	case datalog.ScopePublicKey:
		id := int64(s.PublicKey)
		return &Scope{PublicKey: &id}, nil
	}
	return nil, errSerialize("scope with unknown kind %d", s.Kind)
}

// RuleToDatalog converts a wire rule and validates the head-variable
// invariant.
func RuleToDatalog(r *Rule) (datalog.Rule, error) {
	head, err := PredicateToDatalog(r.Head)
	if err != nil {
		return datalog.Rule{}, err
	}
	body := make([]datalog.Predicate, 0, len(r.Body))
	for _, p := range r.Body {
		dp, err := PredicateToDatalog(p)
		if err != nil {
			return datalog.Rule{}, err
		}
		body = append(body, dp)
	}
	exprs := make([]datalog.Expression, 0, len(r.Expressions))
	for _, e := range r.Expressions {
		de, err := ExpressionToDatalog(e)
		if err != nil {
			return datalog.Rule{}, err
		}
		exprs = append(exprs, de)
	}
	scopes := make([]datalog.Scope, 0, len(r.Scope))
	for _, s := range r.Scope {
		ds, err := ScopeToDatalog(s)
		if err != nil {
			return datalog.Rule{}, err
		}
		scopes = append(scopes, ds)
	}
	rule := datalog.Rule{Head: head, Body: body, Expressions: exprs, Scopes: scopes}
	if err := rule.Validate(); err != nil {
		return datalog.Rule{}, errDeserialize("%v", err)
	}
	return rule, nil
}

// RuleFromDatalog converts a datalog rule.
func RuleFromDatalog(r datalog.Rule) (*Rule, error) {
	head, err := PredicateFromDatalog(r.Head)
	if err != nil {
		return nil, err
	}
	out := &Rule{Head: head}
	for _, p := range r.Body {
		wp, err := PredicateFromDatalog(p)
		if err != nil {
			return nil, err
		}
		out.Body = append(out.Body, wp)
	}
	for _, e := range r.Expressions {
		we, err := ExpressionFromDatalog(e)
		if err != nil {
			return nil, err
		}
		out.Expressions = append(out.Expressions, we)
	}
	for _, s := range r.Scopes {
		ws, err := ScopeFromDatalog(s)
		if err != nil {
			return nil, err
		}
		out.Scope = append(out.Scope, ws)
	}
	return out, nil
}

// CheckToDatalog converts a wire check.
func CheckToDatalog(c *Check) (datalog.Check, error) {
	var kind datalog.CheckKind
	switch c.Kind {
	case CheckKindOne:
		kind = datalog.CheckOne
	case CheckKindAll:
		kind = datalog.CheckAll
	default:
		return datalog.Check{}, errDeserialize("unknown check kind %d", c.Kind)
	}
	queries := make([]datalog.Rule, 0, len(c.Queries))
	for _, q := range c.Queries {
		dq, err := RuleToDatalog(q)
		if err != nil {
			return datalog.Check{}, err
		}
		queries = append(queries, dq)
	}
	return datalog.Check{Kind: kind, Queries: queries}, nil
}

// CheckFromDatalog converts a datalog check.
func CheckFromDatalog(c datalog.Check) (*Check, error) {
	out := &Check{}
	switch c.Kind {
	case datalog.CheckOne:
		out.Kind = CheckKindOne
	case datalog.CheckAll:
		out.Kind = CheckKindAll
	default:
		return nil, errSerialize("unknown check kind %d", c.Kind)
	}
	for _, q := range c.Queries {
		wq, err := RuleFromDatalog(q)
		if err != nil {
			return nil, err
		}
		out.Queries = append(out.Queries, wq)
	}
	return out, nil
}
