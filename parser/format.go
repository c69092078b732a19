package parser

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// The printer emits the canonical surface form: strings are
// double-quoted with backslash escapes for the quote, the backslash,
// newline, tab and carriage return (the escapes the lexer reads), and
// every other byte is written as is; dates are RFC 3339 UTC; sets are
// sorted. Parsing the printed form of a parser-produced AST yields the
// same AST.

// PrintTerm renders a term in canonical form.
func PrintTerm(t Term) string {
	switch v := t.(type) {
	case Variable:
		return "$" + string(v)
	case Integer:
		return strconv.FormatInt(int64(v), 10)
	case Str:
		return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`, "\r", `\r`).Replace(string(v)) + `"`
	case Date:
		return time.Unix(int64(v), 0).UTC().Format(time.RFC3339)
	case Bytes:
		return "hex:" + hex.EncodeToString(v)
	case Bool:
		if v {
			return "true"
		}
		return "false"
	case Null:
		return "null"
	case Set:
		elems := sortedTerms(v)
		parts := make([]string, len(elems))
		for i, e := range elems {
			parts[i] = PrintTerm(e)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case Array:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = PrintTerm(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case Map:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = PrintTerm(e.Key) + ": " + PrintTerm(e.Value)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return fmt.Sprintf("<unknown term %T>", t)
}

// sortedTerms returns a copy ordered by type rank then value.
func sortedTerms(ts []Term) []Term {
	out := make([]Term, len(ts))
	copy(out, ts)
	sort.SliceStable(out, func(i, j int) bool {
		return surfaceTermCompare(out[i], out[j]) < 0
	})
	return out
}

func termRank(t Term) int {
	switch t.(type) {
	case Variable:
		return 0
	case Integer:
		return 1
	case Str:
		return 2
	case Date:
		return 3
	case Bytes:
		return 4
	case Bool:
		return 5
	case Null:
		return 6
	case Set:
		return 7
	case Array:
		return 8
	case Map:
		return 9
	}
	return 10
}

func surfaceTermCompare(a, b Term) int {
	ra, rb := termRank(a), termRank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case Integer:
		bv := b.(Integer)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case Str:
		return strings.Compare(string(av), string(b.(Str)))
	case Date:
		bv := b.(Date)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case Bool:
		bv := b.(Bool)
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	}
	return strings.Compare(PrintTerm(a), PrintTerm(b))
}

func (p Predicate) String() string {
	parts := make([]string, len(p.Terms))
	for i, t := range p.Terms {
		parts[i] = PrintTerm(t)
	}
	return p.Name + "(" + strings.Join(parts, ", ") + ")"
}

func (f Fact) String() string {
	return f.Predicate.String()
}

var binaryOpText = map[BinaryOp]string{
	BinaryLessThan:       "<",
	BinaryGreaterThan:    ">",
	BinaryLessOrEqual:    "<=",
	BinaryGreaterOrEqual: ">=",
	BinaryEqual:          "==",
	BinaryNotEqual:       "!=",
	BinaryAdd:            "+",
	BinarySub:            "-",
	BinaryMul:            "*",
	BinaryDiv:            "/",
	BinaryAnd:            "&&",
	BinaryOr:             "||",
	BinaryBitwiseAnd:     "&",
	BinaryBitwiseOr:      "|",
	BinaryBitwiseXor:     "^",
}

var binaryOpMethod = map[BinaryOp]string{
	BinaryContains:     "contains",
	BinaryPrefix:       "starts_with",
	BinarySuffix:       "ends_with",
	BinaryRegex:        "matches",
	BinaryUnion:        "union",
	BinaryIntersection: "intersection",
}

// PrintExpr renders an expression tree in canonical form.
func PrintExpr(e Expr) string {
	switch v := e.(type) {
	case ExprTerm:
		return PrintTerm(v.Term)
	case ExprUnary:
		switch v.Op {
		case UnaryNegate:
			return "!" + PrintExpr(v.Arg)
		case UnaryParens:
			return "(" + PrintExpr(v.Arg) + ")"
		case UnaryLength:
			return PrintExpr(v.Arg) + ".length()"
		}
	case ExprBinary:
		if method, ok := binaryOpMethod[v.Op]; ok {
			return PrintExpr(v.Left) + "." + method + "(" + PrintExpr(v.Right) + ")"
		}
		if text, ok := binaryOpText[v.Op]; ok {
			return PrintExpr(v.Left) + " " + text + " " + PrintExpr(v.Right)
		}
	}
	return fmt.Sprintf("<unknown expr %T>", e)
}

func printScopes(scopes []Scope) string {
	if len(scopes) == 0 {
		return ""
	}
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		switch s.Kind {
		case ScopeAuthority:
			parts[i] = "authority"
		case ScopePrevious:
			parts[i] = "previous"
		case ScopePublicKey:
			parts[i] = s.Key.Algorithm + "/" + hex.EncodeToString(s.Key.Bytes)
		}
	}
	return " trusting " + strings.Join(parts, ", ")
}

func printQueryBody(body []Predicate, exprs []Expr, scopes []Scope) string {
	parts := make([]string, 0, len(body)+len(exprs))
	for _, p := range body {
		parts = append(parts, p.String())
	}
	for _, e := range exprs {
		parts = append(parts, PrintExpr(e))
	}
	return strings.Join(parts, ", ") + printScopes(scopes)
}

func (r Rule) String() string {
	return r.Head.String() + " <- " + printQueryBody(r.Body, r.Expressions, r.Scopes)
}

func (q CheckQuery) String() string {
	return printQueryBody(q.Body, q.Expressions, q.Scopes)
}

func (c Check) String() string {
	parts := make([]string, len(c.Queries))
	for i, q := range c.Queries {
		parts[i] = q.String()
	}
	kw := "check if"
	if c.Kind == CheckAll {
		kw = "check all"
	}
	return kw + " " + strings.Join(parts, " or ")
}

func (p Policy) String() string {
	parts := make([]string, len(p.Queries))
	for i, q := range p.Queries {
		parts[i] = q.String()
	}
	kw := "allow if"
	if p.Kind == PolicyDeny {
		kw = "deny if"
	}
	return kw + " " + strings.Join(parts, " or ")
}

// PrintBlock renders a block's full source, one statement per line.
func PrintBlock(b *Block) string {
	var sb strings.Builder
	if len(b.Scopes) > 0 {
		sb.WriteString(strings.TrimPrefix(printScopes(b.Scopes), " "))
		sb.WriteString(";\n")
	}
	for _, f := range b.Facts {
		sb.WriteString(f.String())
		sb.WriteString(";\n")
	}
	for _, r := range b.Rules {
		sb.WriteString(r.String())
		sb.WriteString(";\n")
	}
	for _, c := range b.Checks {
		sb.WriteString(c.String())
		sb.WriteString(";\n")
	}
	return sb.String()
}

// PrintAuthorizer renders an authorizer's source including policies.
func PrintAuthorizer(a *Authorizer) string {
	var sb strings.Builder
	sb.WriteString(PrintBlock(&a.Block))
	for _, p := range a.Policies {
		sb.WriteString(p.String())
		sb.WriteString(";\n")
	}
	return sb.String()
}
