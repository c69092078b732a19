package token

import (
	"fmt"

	"github.com/cordon-auth/cordon/crypto"
	"github.com/cordon-auth/cordon/datalog"
	"github.com/cordon-auth/cordon/parser"
)

// Conversions between the surface AST (string symbols) and the
// datalog core (interned ids). The forward direction interns through
// the token's symbol and public key tables; the reverse direction
// resolves ids back to strings for printing.

// encodePublicKey produces the tagged serialization interned in the
// public key table: one algorithm byte followed by the key bytes.
func encodePublicKey(pk crypto.PublicKey) []byte {
	out := make([]byte, 0, 34)
	out = append(out, byte(pk.Algorithm()))
	return append(out, pk.Bytes()...)
}

// decodePublicKey reverses encodePublicKey.
func decodePublicKey(data []byte) (crypto.PublicKey, error) {
	if len(data) < 1 {
		return crypto.PublicKey{}, fmt.Errorf("%w: empty key entry", ErrInternal)
	}
	return crypto.NewPublicKey(crypto.Algorithm(data[0]), data[1:])
}

func algorithmFromName(name string) (crypto.Algorithm, error) {
	switch name {
	case "ed25519":
		return crypto.Ed25519, nil
	case "secp256r1":
		return crypto.Secp256r1, nil
	}
	return 0, fmt.Errorf("%w: unknown algorithm %q", ErrLanguageError, name)
}

func termToDatalog(t parser.Term, symbols *datalog.SymbolTable) (datalog.Term, error) {
	switch v := t.(type) {
	case parser.Variable:
		return datalog.Variable(uint32(symbols.Insert(string(v)))), nil
	case parser.Integer:
		return datalog.Integer(v), nil
	case parser.Str:
		return datalog.String(symbols.Insert(string(v))), nil
	case parser.Date:
		return datalog.Date(v), nil
	case parser.Bytes:
		return datalog.Bytes(v), nil
	case parser.Bool:
		return datalog.Boolean(v), nil
	case parser.Null:
		return datalog.Null{}, nil
	case parser.Set:
		elems := make([]datalog.Term, 0, len(v))
		for _, e := range v {
			de, err := termToDatalog(e, symbols)
			if err != nil {
				return nil, err
			}
			elems = append(elems, de)
		}
		set, err := datalog.NewSet(elems)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLanguageError, err)
		}
		return set, nil
	case parser.Array:
		elems := make([]datalog.Term, 0, len(v))
		for _, e := range v {
			de, err := termToDatalog(e, symbols)
			if err != nil {
				return nil, err
			}
			elems = append(elems, de)
		}
		return datalog.Array(elems), nil
	case parser.Map:
		entries := make([]datalog.MapEntry, 0, len(v))
		for _, e := range v {
			k, err := termToDatalog(e.Key, symbols)
			if err != nil {
				return nil, err
			}
			val, err := termToDatalog(e.Value, symbols)
			if err != nil {
				return nil, err
			}
			entries = append(entries, datalog.MapEntry{Key: k, Value: val})
		}
		m, err := datalog.NewMap(entries)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLanguageError, err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: unsupported term %T", ErrConversion, t)
}

func termFromDatalog(t datalog.Term, symbols *datalog.SymbolTable) (parser.Term, error) {
	switch v := t.(type) {
	case datalog.Variable:
		name, err := symbols.Str(uint64(v))
		if err != nil {
			return nil, err
		}
		return parser.Variable(name), nil
	case datalog.Integer:
		return parser.Integer(v), nil
	case datalog.String:
		s, err := symbols.Str(uint64(v))
		if err != nil {
			return nil, err
		}
		return parser.Str(s), nil
	case datalog.Date:
		return parser.Date(v), nil
	case datalog.Bytes:
		return parser.Bytes(v), nil
	case datalog.Boolean:
		return parser.Bool(v), nil
	case datalog.Null:
		return parser.Null{}, nil
	case datalog.Set:
		out := make(parser.Set, 0, len(v))
		for _, e := range v {
			pe, err := termFromDatalog(e, symbols)
			if err != nil {
				return nil, err
			}
			out = append(out, pe)
		}
		return out, nil
	case datalog.Array:
		out := make(parser.Array, 0, len(v))
		for _, e := range v {
			pe, err := termFromDatalog(e, symbols)
			if err != nil {
				return nil, err
			}
			out = append(out, pe)
		}
		return out, nil
	case datalog.Map:
		out := make(parser.Map, 0, len(v))
		for _, e := range v {
			k, err := termFromDatalog(e.Key, symbols)
			if err != nil {
				return nil, err
			}
			val, err := termFromDatalog(e.Value, symbols)
			if err != nil {
				return nil, err
			}
			out = append(out, parser.MapEntry{Key: k, Value: val})
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unsupported term %T", ErrConversion, t)
}

func predicateToDatalog(p parser.Predicate, symbols *datalog.SymbolTable) (datalog.Predicate, error) {
	out := datalog.Predicate{Name: symbols.Insert(p.Name)}
	for _, t := range p.Terms {
		dt, err := termToDatalog(t, symbols)
		if err != nil {
			return datalog.Predicate{}, err
		}
		out.Terms = append(out.Terms, dt)
	}
	return out, nil
}

func predicateFromDatalog(p datalog.Predicate, symbols *datalog.SymbolTable) (parser.Predicate, error) {
	name, err := symbols.Str(p.Name)
	if err != nil {
		return parser.Predicate{}, err
	}
	out := parser.Predicate{Name: name}
	for _, t := range p.Terms {
		pt, err := termFromDatalog(t, symbols)
		if err != nil {
			return parser.Predicate{}, err
		}
		out.Terms = append(out.Terms, pt)
	}
	return out, nil
}

func factToDatalog(f parser.Fact, symbols *datalog.SymbolTable) (datalog.Fact, error) {
	p, err := predicateToDatalog(f.Predicate, symbols)
	if err != nil {
		return datalog.Fact{}, err
	}
	if !p.IsGround() {
		return datalog.Fact{}, fmt.Errorf("%w: facts cannot contain variables", ErrLanguageError)
	}
	return datalog.Fact{Predicate: p}, nil
}

func factFromDatalog(f datalog.Fact, symbols *datalog.SymbolTable) (parser.Fact, error) {
	p, err := predicateFromDatalog(f.Predicate, symbols)
	if err != nil {
		return parser.Fact{}, err
	}
	return parser.Fact{Predicate: p}, nil
}

// exprToOps flattens an expression tree to the postfix op sequence
// the engine and the wire format use.
func exprToOps(e parser.Expr, symbols *datalog.SymbolTable) ([]datalog.Op, error) {
	switch v := e.(type) {
	case parser.ExprTerm:
		t, err := termToDatalog(v.Term, symbols)
		if err != nil {
			return nil, err
		}
		return []datalog.Op{{Kind: datalog.OpValue, Value: t}}, nil
	case parser.ExprUnary:
		ops, err := exprToOps(v.Arg, symbols)
		if err != nil {
			return nil, err
		}
		return append(ops, datalog.Op{Kind: datalog.OpUnary, Unary: datalog.UnaryOpKind(v.Op)}), nil
	case parser.ExprBinary:
		left, err := exprToOps(v.Left, symbols)
		if err != nil {
			return nil, err
		}
		right, err := exprToOps(v.Right, symbols)
		if err != nil {
			return nil, err
		}
		ops := append(left, right...)
		return append(ops, datalog.Op{Kind: datalog.OpBinary, Binary: datalog.BinaryOpKind(v.Op)}), nil
	}
	return nil, fmt.Errorf("%w: unsupported expression %T", ErrConversion, e)
}

// exprFromOps rebuilds an expression tree from postfix ops.
func exprFromOps(ops []datalog.Op, symbols *datalog.SymbolTable) (parser.Expr, error) {
	var stack []parser.Expr
	for _, op := range ops {
		switch op.Kind {
		case datalog.OpValue:
			t, err := termFromDatalog(op.Value, symbols)
			if err != nil {
				return nil, err
			}
			stack = append(stack, parser.ExprTerm{Term: t})
		case datalog.OpUnary:
			if len(stack) < 1 {
				return nil, fmt.Errorf("%w: unary op on empty stack", ErrConversion)
			}
			arg := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			stack = append(stack, parser.ExprUnary{Op: parser.UnaryOp(op.Unary), Arg: arg})
		case datalog.OpBinary:
			if len(stack) < 2 {
				return nil, fmt.Errorf("%w: binary op needs two operands", ErrConversion)
			}
			right := stack[len(stack)-1]
			left := stack[len(stack)-2]
			stack = stack[:len(stack)-2]
			stack = append(stack, parser.ExprBinary{Op: parser.BinaryOp(op.Binary), Left: left, Right: right})
		}
	}
	if len(stack) != 1 {
		return nil, fmt.Errorf("%w: malformed expression", ErrConversion)
	}
	return stack[0], nil
}

func scopeToDatalog(s parser.Scope, keys *datalog.PublicKeyTable) (datalog.Scope, error) {
	switch s.Kind {
	case parser.ScopeAuthority:
		return datalog.Scope{Kind: datalog.ScopeAuthority}, nil
	case parser.ScopePrevious:
		return datalog.Scope{Kind: datalog.ScopePrevious}, nil
	case parser.ScopePublicKey:
		algo, err := algorithmFromName(s.Key.Algorithm)
		if err != nil {
			return datalog.Scope{}, err
		}
		pk, err := crypto.NewPublicKey(algo, s.Key.Bytes)
		if err != nil {
			return datalog.Scope{}, fmt.Errorf("%w: %v", ErrLanguageError, err)
		}
		id := keys.Insert(encodePublicKey(pk))
		return datalog.Scope{Kind: datalog.ScopePublicKey, PublicKey: id}, nil
	}
	return datalog.Scope{}, fmt.Errorf("%w: unknown scope kind %d", ErrConversion, s.Kind)
}

func scopeFromDatalog(s datalog.Scope, keys *datalog.PublicKeyTable) (parser.Scope, error) {
	switch s.Kind {
	case datalog.ScopeAuthority:
		return parser.Scope{Kind: parser.ScopeAuthority}, nil
	case datalog.ScopePrevious:
		return parser.Scope{Kind: parser.ScopePrevious}, nil
	case datalog.ScopePublicKey:
		raw, err := keys.Key(s.PublicKey)
		if err != nil {
			return parser.Scope{}, err
		}
		pk, err := decodePublicKey(raw)
		if err != nil {
			return parser.Scope{}, err
		}
		return parser.Scope{Kind: parser.ScopePublicKey, Key: &parser.PublicKeyRef{
			Algorithm: pk.Algorithm().String(),
			Bytes:     pk.Bytes(),
		}}, nil
	}
	return parser.Scope{}, fmt.Errorf("%w: unknown scope kind %d", ErrConversion, s.Kind)
}

func scopesToDatalog(scopes []parser.Scope, keys *datalog.PublicKeyTable) ([]datalog.Scope, error) {
	out := make([]datalog.Scope, 0, len(scopes))
	for _, s := range scopes {
		ds, err := scopeToDatalog(s, keys)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

func ruleToDatalog(r parser.Rule, symbols *datalog.SymbolTable, keys *datalog.PublicKeyTable) (datalog.Rule, error) {
	head, err := predicateToDatalog(r.Head, symbols)
	if err != nil {
		return datalog.Rule{}, err
	}
	out := datalog.Rule{Head: head}
	for _, p := range r.Body {
		dp, err := predicateToDatalog(p, symbols)
		if err != nil {
			return datalog.Rule{}, err
		}
		out.Body = append(out.Body, dp)
	}
	for _, e := range r.Expressions {
		ops, err := exprToOps(e, symbols)
		if err != nil {
			return datalog.Rule{}, err
		}
		out.Expressions = append(out.Expressions, datalog.Expression{Ops: ops})
	}
	out.Scopes, err = scopesToDatalog(r.Scopes, keys)
	if err != nil {
		return datalog.Rule{}, err
	}
	if err := out.Validate(); err != nil {
		return datalog.Rule{}, fmt.Errorf("%w: %v", ErrLanguageError, err)
	}
	return out, nil
}

func ruleFromDatalog(r datalog.Rule, symbols *datalog.SymbolTable, keys *datalog.PublicKeyTable) (parser.Rule, error) {
	head, err := predicateFromDatalog(r.Head, symbols)
	if err != nil {
		return parser.Rule{}, err
	}
	out := parser.Rule{Head: head}
	for _, p := range r.Body {
		pp, err := predicateFromDatalog(p, symbols)
		if err != nil {
			return parser.Rule{}, err
		}
		out.Body = append(out.Body, pp)
	}
	for _, e := range r.Expressions {
		pe, err := exprFromOps(e.Ops, symbols)
		if err != nil {
			return parser.Rule{}, err
		}
		out.Expressions = append(out.Expressions, pe)
	}
	for _, s := range r.Scopes {
		ps, err := scopeFromDatalog(s, keys)
		if err != nil {
			return parser.Rule{}, err
		}
		out.Scopes = append(out.Scopes, ps)
	}
	return out, nil
}

// queryPredicateName is the synthetic head used for check and policy
// queries; it never appears in the fact store.
const queryPredicateName = "query"

func queryToDatalog(q parser.CheckQuery, symbols *datalog.SymbolTable, keys *datalog.PublicKeyTable) (datalog.Rule, error) {
	rule := parser.Rule{
		Head:        parser.Predicate{Name: queryPredicateName},
		Body:        q.Body,
		Expressions: q.Expressions,
		Scopes:      q.Scopes,
	}
	out := datalog.Rule{}
	head, err := predicateToDatalog(rule.Head, symbols)
	if err != nil {
		return datalog.Rule{}, err
	}
	out.Head = head
	for _, p := range rule.Body {
		dp, err := predicateToDatalog(p, symbols)
		if err != nil {
			return datalog.Rule{}, err
		}
		out.Body = append(out.Body, dp)
	}
	for _, e := range rule.Expressions {
		ops, err := exprToOps(e, symbols)
		if err != nil {
			return datalog.Rule{}, err
		}
		out.Expressions = append(out.Expressions, datalog.Expression{Ops: ops})
	}
	out.Scopes, err = scopesToDatalog(rule.Scopes, keys)
	if err != nil {
		return datalog.Rule{}, err
	}
	return out, nil
}

func queryFromDatalog(r datalog.Rule, symbols *datalog.SymbolTable, keys *datalog.PublicKeyTable) (parser.CheckQuery, error) {
	pr, err := ruleFromDatalog(r, symbols, keys)
	if err != nil {
		return parser.CheckQuery{}, err
	}
	return parser.CheckQuery{Body: pr.Body, Expressions: pr.Expressions, Scopes: pr.Scopes}, nil
}

func checkToDatalog(c parser.Check, symbols *datalog.SymbolTable, keys *datalog.PublicKeyTable) (datalog.Check, error) {
	out := datalog.Check{Kind: datalog.CheckKind(c.Kind)}
	for _, q := range c.Queries {
		dq, err := queryToDatalog(q, symbols, keys)
		if err != nil {
			return datalog.Check{}, err
		}
		out.Queries = append(out.Queries, dq)
	}
	return out, nil
}

func checkFromDatalog(c datalog.Check, symbols *datalog.SymbolTable, keys *datalog.PublicKeyTable) (parser.Check, error) {
	out := parser.Check{Kind: parser.CheckKind(c.Kind)}
	for _, q := range c.Queries {
		pq, err := queryFromDatalog(q, symbols, keys)
		if err != nil {
			return parser.Check{}, err
		}
		out.Queries = append(out.Queries, pq)
	}
	return out, nil
}

func policyToDatalog(p parser.Policy, symbols *datalog.SymbolTable, keys *datalog.PublicKeyTable) (datalog.Policy, error) {
	out := datalog.Policy{Kind: datalog.PolicyKind(p.Kind)}
	for _, q := range p.Queries {
		dq, err := queryToDatalog(q, symbols, keys)
		if err != nil {
			return datalog.Policy{}, err
		}
		out.Queries = append(out.Queries, dq)
	}
	return out, nil
}
