package token

import (
	"fmt"

	"github.com/cordon-auth/cordon/crypto"
	"github.com/cordon-auth/cordon/datalog"
	"github.com/cordon-auth/cordon/parser"
	"github.com/cordon-auth/cordon/wire"
)

// Block is the decoded contents of one token block: its Datalog
// program plus metadata. Term ids refer to the token's accumulated
// symbol table.
type Block struct {
	facts   []datalog.Fact
	rules   []datalog.Rule
	checks  []datalog.Check
	scopes  []datalog.Scope
	context string
	version uint32
	// externalKey is set when the block was signed by a third party.
	externalKey *crypto.PublicKey
}

// Context returns the block's free-form context string.
func (b *Block) Context() string {
	return b.context
}

// Version returns the block's Datalog source version.
func (b *Block) Version() uint32 {
	return b.version
}

// ExternalKey returns the third-party signer key, or nil.
func (b *Block) ExternalKey() *crypto.PublicKey {
	return b.externalKey
}

// blockToWire serializes a block's content together with the symbol
// and key strings it contributes on top of the accumulated tables.
func blockToWire(b *Block, symbolContribution []string, keyContribution [][]byte) (*wire.Block, error) {
	version := b.version
	out := &wire.Block{
		Symbols: symbolContribution,
		Version: &version,
	}
	if b.context != "" {
		ctx := b.context
		out.Context = &ctx
	}
	for _, f := range b.facts {
		wf, err := wire.FactFromDatalog(f)
		if err != nil {
			return nil, err
		}
		out.Facts = append(out.Facts, wf)
	}
	for _, r := range b.rules {
		wr, err := wire.RuleFromDatalog(r)
		if err != nil {
			return nil, err
		}
		out.Rules = append(out.Rules, wr)
	}
	for _, c := range b.checks {
		wc, err := wire.CheckFromDatalog(c)
		if err != nil {
			return nil, err
		}
		out.Checks = append(out.Checks, wc)
	}
	for _, s := range b.scopes {
		ws, err := wire.ScopeFromDatalog(s)
		if err != nil {
			return nil, err
		}
		out.Scope = append(out.Scope, ws)
	}
	for _, raw := range keyContribution {
		pk, err := decodePublicKey(raw)
		if err != nil {
			return nil, err
		}
		out.PublicKeys = append(out.PublicKeys, &wire.PublicKey{
			Algorithm: int32(pk.Algorithm()),
			Key:       pk.Bytes(),
		})
	}
	return out, nil
}

// blockFromWire decodes a block, extending the accumulated symbol
// and key tables with its contributions first so the block's ids
// resolve.
func blockFromWire(wb *wire.Block, symbols *datalog.SymbolTable, keys *datalog.PublicKeyTable) (*Block, error) {
	if err := symbols.Extend(wb.Symbols); err != nil {
		return nil, err
	}
	keyContribution := make([][]byte, 0, len(wb.PublicKeys))
	for _, wk := range wb.PublicKeys {
		pk, err := crypto.NewPublicKey(crypto.Algorithm(wk.Algorithm), wk.Key)
		if err != nil {
			return nil, err
		}
		keyContribution = append(keyContribution, encodePublicKey(pk))
	}
	if err := keys.Extend(keyContribution); err != nil {
		return nil, err
	}

	out := &Block{version: wire.CurrentVersion}
	if wb.Version != nil {
		out.version = *wb.Version
	}
	if wb.Context != nil {
		out.context = *wb.Context
	}
	for _, wf := range wb.Facts {
		f, err := wire.FactToDatalog(wf)
		if err != nil {
			return nil, err
		}
		out.facts = append(out.facts, f)
	}
	for _, wr := range wb.Rules {
		r, err := wire.RuleToDatalog(wr)
		if err != nil {
			return nil, err
		}
		out.rules = append(out.rules, r)
	}
	for _, wc := range wb.Checks {
		c, err := wire.CheckToDatalog(wc)
		if err != nil {
			return nil, err
		}
		out.checks = append(out.checks, c)
	}
	for _, ws := range wb.Scope {
		s, err := wire.ScopeToDatalog(ws)
		if err != nil {
			return nil, err
		}
		out.scopes = append(out.scopes, s)
	}
	if err := validateBlockIDs(out, symbols, keys); err != nil {
		return nil, err
	}
	return out, nil
}

// validateBlockIDs rejects blocks referencing symbols or keys beyond
// the accumulated tables, so dangling ids fail at parse time rather
// than during evaluation.
func validateBlockIDs(b *Block, symbols *datalog.SymbolTable, keys *datalog.PublicKeyTable) error {
	checkPredicate := func(p datalog.Predicate) error {
		if _, err := symbols.Str(p.Name); err != nil {
			return err
		}
		for _, t := range p.Terms {
			if err := checkTermFunc(t, symbols); err != nil {
				return err
			}
		}
		return nil
	}
	checkScopes := func(scopes []datalog.Scope) error {
		for _, s := range scopes {
			if s.Kind == datalog.ScopePublicKey {
				if _, err := keys.Key(s.PublicKey); err != nil {
					return fmt.Errorf("%w: key id %d", ErrUnknownExternalKey, s.PublicKey)
				}
			}
		}
		return nil
	}
	checkRule := func(r datalog.Rule) error {
		if err := checkPredicate(r.Head); err != nil {
			return err
		}
		for _, p := range r.Body {
			if err := checkPredicate(p); err != nil {
				return err
			}
		}
		for _, e := range r.Expressions {
			for _, op := range e.Ops {
				if op.Kind != datalog.OpValue {
					continue
				}
				if err := checkTermFunc(op.Value, symbols); err != nil {
					return err
				}
			}
		}
		return checkScopes(r.Scopes)
	}

	for _, f := range b.facts {
		if err := checkPredicate(f.Predicate); err != nil {
			return err
		}
	}
	for _, r := range b.rules {
		if err := checkRule(r); err != nil {
			return err
		}
	}
	for _, c := range b.checks {
		for _, q := range c.Queries {
			if err := checkRule(q); err != nil {
				return err
			}
		}
	}
	return checkScopes(b.scopes)
}

// checkTermFunc mirrors the inner term validation for nested
// collections.
func checkTermFunc(t datalog.Term, symbols *datalog.SymbolTable) error {
	switch v := t.(type) {
	case datalog.String:
		_, err := symbols.Str(uint64(v))
		return err
	case datalog.Variable:
		_, err := symbols.Str(uint64(v))
		return err
	case datalog.Set:
		for _, e := range v {
			if err := checkTermFunc(e, symbols); err != nil {
				return err
			}
		}
	case datalog.Array:
		for _, e := range v {
			if err := checkTermFunc(e, symbols); err != nil {
				return err
			}
		}
	case datalog.Map:
		for _, e := range v {
			if err := checkTermFunc(e.Key, symbols); err != nil {
				return err
			}
			if err := checkTermFunc(e.Value, symbols); err != nil {
				return err
			}
		}
	}
	return nil
}

// source renders the block back to canonical Datalog text.
func (b *Block) source(symbols *datalog.SymbolTable, keys *datalog.PublicKeyTable) (string, error) {
	pb := &parser.Block{}
	for _, s := range b.scopes {
		ps, err := scopeFromDatalog(s, keys)
		if err != nil {
			return "", err
		}
		pb.Scopes = append(pb.Scopes, ps)
	}
	for _, f := range b.facts {
		pf, err := factFromDatalog(f, symbols)
		if err != nil {
			return "", err
		}
		pb.Facts = append(pb.Facts, pf)
	}
	for _, r := range b.rules {
		pr, err := ruleFromDatalog(r, symbols, keys)
		if err != nil {
			return "", err
		}
		pb.Rules = append(pb.Rules, pr)
	}
	for _, c := range b.checks {
		pc, err := checkFromDatalog(c, symbols, keys)
		if err != nil {
			return "", err
		}
		pb.Checks = append(pb.Checks, pc)
	}
	return parser.PrintBlock(pb), nil
}
