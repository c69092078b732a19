package wire

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Encoding walks each message in fixed field order so equal messages
// always produce equal bytes.

// MarshalBiscuit serializes the top-level token container.
func MarshalBiscuit(b *Biscuit) ([]byte, error) {
	var out []byte
	if b.RootKeyID != nil {
		out = protowire.AppendTag(out, 1, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(*b.RootKeyID))
	}
	if b.Authority != nil {
		sub, err := MarshalSignedBlock(b.Authority)
		if err != nil {
			return nil, err
		}
		out = appendMessage(out, 2, sub)
	}
	for _, block := range b.Blocks {
		sub, err := MarshalSignedBlock(block)
		if err != nil {
			return nil, err
		}
		out = appendMessage(out, 3, sub)
	}
	if b.Proof != nil {
		sub, err := marshalProof(b.Proof)
		if err != nil {
			return nil, err
		}
		out = appendMessage(out, 4, sub)
	}
	return out, nil
}

// MarshalSignedBlock serializes one chain link.
func MarshalSignedBlock(b *SignedBlock) ([]byte, error) {
	var out []byte
	out = appendBytes(out, 1, b.Block)
	if b.NextKey != nil {
		out = appendMessage(out, 2, marshalPublicKey(b.NextKey))
	}
	out = appendBytes(out, 3, b.Signature)
	if b.External != nil {
		out = appendMessage(out, 4, marshalExternalSignature(b.External))
	}
	return out, nil
}

func marshalPublicKey(k *PublicKey) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(k.Algorithm))
	out = appendBytes(out, 2, k.Key)
	return out
}

func marshalExternalSignature(e *ExternalSignature) []byte {
	var out []byte
	out = appendBytes(out, 1, e.Signature)
	if e.PublicKey != nil {
		out = appendMessage(out, 2, marshalPublicKey(e.PublicKey))
	}
	return out
}

func marshalProof(p *Proof) ([]byte, error) {
	var out []byte
	switch {
	case p.NextSecret != nil:
		out = appendBytes(out, 1, p.NextSecret)
	case p.FinalSignature != nil:
		out = appendBytes(out, 2, p.FinalSignature)
	default:
		return nil, errSerialize("proof has neither next secret nor final signature")
	}
	return out, nil
}

// MarshalBlock serializes a block. The result is the byte string the
// block's signature covers.
func MarshalBlock(b *Block) ([]byte, error) {
	var out []byte
	for _, s := range b.Symbols {
		out = appendBytes(out, 1, []byte(s))
	}
	if b.Context != nil {
		out = appendBytes(out, 2, []byte(*b.Context))
	}
	if b.Version != nil {
		out = protowire.AppendTag(out, 3, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(*b.Version))
	}
	for _, f := range b.Facts {
		sub, err := marshalFact(f)
		if err != nil {
			return nil, err
		}
		out = appendMessage(out, 4, sub)
	}
	for _, r := range b.Rules {
		sub, err := marshalRule(r)
		if err != nil {
			return nil, err
		}
		out = appendMessage(out, 5, sub)
	}
	for _, c := range b.Checks {
		sub, err := marshalCheck(c)
		if err != nil {
			return nil, err
		}
		out = appendMessage(out, 6, sub)
	}
	for _, s := range b.Scope {
		sub, err := marshalScope(s)
		if err != nil {
			return nil, err
		}
		out = appendMessage(out, 7, sub)
	}
	for _, k := range b.PublicKeys {
		out = appendMessage(out, 8, marshalPublicKey(k))
	}
	return out, nil
}

func marshalFact(f *Fact) ([]byte, error) {
	var out []byte
	if f.Predicate == nil {
		return nil, errSerialize("fact without predicate")
	}
	sub, err := marshalPredicate(f.Predicate)
	if err != nil {
		return nil, err
	}
	return appendMessage(out, 1, sub), nil
}

func marshalPredicate(p *Predicate) ([]byte, error) {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, p.Name)
	for _, t := range p.Terms {
		sub, err := marshalTerm(t)
		if err != nil {
			return nil, err
		}
		out = appendMessage(out, 2, sub)
	}
	return out, nil
}

func marshalTerm(t *Term) ([]byte, error) {
	var out []byte
	switch {
	case t.Variable != nil:
		out = protowire.AppendTag(out, 1, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(*t.Variable))
	case t.Integer != nil:
		out = protowire.AppendTag(out, 2, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(*t.Integer))
	case t.String != nil:
		out = protowire.AppendTag(out, 3, protowire.VarintType)
		out = protowire.AppendVarint(out, *t.String)
	case t.Date != nil:
		out = protowire.AppendTag(out, 4, protowire.VarintType)
		out = protowire.AppendVarint(out, *t.Date)
	case t.hasBytes:
		out = appendBytes(out, 5, t.Bytes)
	case t.Bool != nil:
		out = protowire.AppendTag(out, 6, protowire.VarintType)
		if *t.Bool {
			out = protowire.AppendVarint(out, 1)
		} else {
			out = protowire.AppendVarint(out, 0)
		}
	case t.Set != nil:
		var sub []byte
		for _, e := range t.Set.Set {
			es, err := marshalTerm(e)
			if err != nil {
				return nil, err
			}
			sub = appendMessage(sub, 1, es)
		}
		out = appendMessage(out, 7, sub)
	case t.Null:
		out = appendMessage(out, 8, nil)
	case t.Array != nil:
		var sub []byte
		for _, e := range t.Array.Array {
			es, err := marshalTerm(e)
			if err != nil {
				return nil, err
			}
			sub = appendMessage(sub, 1, es)
		}
		out = appendMessage(out, 9, sub)
	case t.Map != nil:
		var sub []byte
		for _, e := range t.Map.Entries {
			ks, err := marshalTerm(e.Key)
			if err != nil {
				return nil, err
			}
			vs, err := marshalTerm(e.Value)
			if err != nil {
				return nil, err
			}
			var entry []byte
			entry = appendMessage(entry, 1, ks)
			entry = appendMessage(entry, 2, vs)
			sub = appendMessage(sub, 1, entry)
		}
		out = appendMessage(out, 10, sub)
	default:
		return nil, errSerialize("term with no variant set")
	}
	return out, nil
}

func marshalRule(r *Rule) ([]byte, error) {
	var out []byte
	if r.Head == nil {
		return nil, errSerialize("rule without head")
	}
	sub, err := marshalPredicate(r.Head)
	if err != nil {
		return nil, err
	}
	out = appendMessage(out, 1, sub)
	for _, p := range r.Body {
		sub, err := marshalPredicate(p)
		if err != nil {
			return nil, err
		}
		out = appendMessage(out, 2, sub)
	}
	for _, e := range r.Expressions {
		sub, err := marshalExpression(e)
		if err != nil {
			return nil, err
		}
		out = appendMessage(out, 3, sub)
	}
	for _, s := range r.Scope {
		sub, err := marshalScope(s)
		if err != nil {
			return nil, err
		}
		out = appendMessage(out, 4, sub)
	}
	return out, nil
}

func marshalExpression(e *Expression) ([]byte, error) {
	var out []byte
	for _, op := range e.Ops {
		sub, err := marshalOp(op)
		if err != nil {
			return nil, err
		}
		out = appendMessage(out, 1, sub)
	}
	return out, nil
}

func marshalOp(op *Op) ([]byte, error) {
	var out []byte
	switch {
	case op.Value != nil:
		sub, err := marshalTerm(op.Value)
		if err != nil {
			return nil, err
		}
		out = appendMessage(out, 1, sub)
	case op.Unary != nil:
		var sub []byte
		sub = protowire.AppendTag(sub, 1, protowire.VarintType)
		sub = protowire.AppendVarint(sub, uint64(op.Unary.Kind))
		out = appendMessage(out, 2, sub)
	case op.Binary != nil:
		var sub []byte
		sub = protowire.AppendTag(sub, 1, protowire.VarintType)
		sub = protowire.AppendVarint(sub, uint64(op.Binary.Kind))
		out = appendMessage(out, 3, sub)
	default:
		return nil, errSerialize("op with no variant set")
	}
	return out, nil
}

func marshalCheck(c *Check) ([]byte, error) {
	var out []byte
	for _, q := range c.Queries {
		sub, err := marshalRule(q)
		if err != nil {
			return nil, err
		}
		out = appendMessage(out, 1, sub)
	}
	if c.Kind != CheckKindOne {
		out = protowire.AppendTag(out, 2, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(c.Kind))
	}
	return out, nil
}

func marshalScope(s *Scope) ([]byte, error) {
	var out []byte
	switch {
	case s.ScopeType != nil:
		out = protowire.AppendTag(out, 1, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(*s.ScopeType))
	case s.PublicKey != nil:
		out = protowire.AppendTag(out, 2, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(*s.PublicKey))
	default:
		return nil, errSerialize("scope with no variant set")
	}
	return out, nil
}

func appendBytes(out []byte, num protowire.Number, b []byte) []byte {
	out = protowire.AppendTag(out, num, protowire.BytesType)
	out = protowire.AppendBytes(out, b)
	return out
}

func appendMessage(out []byte, num protowire.Number, sub []byte) []byte {
	out = protowire.AppendTag(out, num, protowire.BytesType)
	out = protowire.AppendBytes(out, sub)
	return out
}
