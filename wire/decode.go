package wire

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Decoding is strict about unknown fields: they are rejected rather
// than skipped. Non-canonical encodings (fields out of order, padded
// varints, a boolean other than 0 or 1, an explicit default check
// kind) are accepted, so a decoded message re-encodes to the same
// bytes only when the input was in the encoder's canonical form.

type decoder struct {
	buf []byte
}

func (d *decoder) done() bool { return len(d.buf) == 0 }

func (d *decoder) field() (protowire.Number, protowire.Type, error) {
	num, typ, n := protowire.ConsumeTag(d.buf)
	if n < 0 {
		return 0, 0, errDeserialize("invalid tag")
	}
	d.buf = d.buf[n:]
	return num, typ, nil
}

func (d *decoder) varint() (uint64, error) {
	v, n := protowire.ConsumeVarint(d.buf)
	if n < 0 {
		return 0, errDeserialize("invalid varint")
	}
	d.buf = d.buf[n:]
	return v, nil
}

func (d *decoder) bytes() ([]byte, error) {
	v, n := protowire.ConsumeBytes(d.buf)
	if n < 0 {
		return nil, errDeserialize("invalid length-delimited field")
	}
	d.buf = d.buf[n:]
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (d *decoder) message() (*decoder, error) {
	v, n := protowire.ConsumeBytes(d.buf)
	if n < 0 {
		return nil, errDeserialize("invalid embedded message")
	}
	d.buf = d.buf[n:]
	return &decoder{buf: v}, nil
}

// UnmarshalBiscuit parses the top-level token container.
func UnmarshalBiscuit(data []byte) (*Biscuit, error) {
	d := &decoder{buf: data}
	out := &Biscuit{}
	for !d.done() {
		num, typ, err := d.field()
		if err != nil {
			return nil, err
		}
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, err := d.varint()
			if err != nil {
				return nil, err
			}
			id := uint32(v)
			out.RootKeyID = &id
		case num == 2 && typ == protowire.BytesType:
			sub, err := d.message()
			if err != nil {
				return nil, err
			}
			out.Authority, err = unmarshalSignedBlock(sub)
			if err != nil {
				return nil, err
			}
		case num == 3 && typ == protowire.BytesType:
			sub, err := d.message()
			if err != nil {
				return nil, err
			}
			block, err := unmarshalSignedBlock(sub)
			if err != nil {
				return nil, err
			}
			out.Blocks = append(out.Blocks, block)
		case num == 4 && typ == protowire.BytesType:
			sub, err := d.message()
			if err != nil {
				return nil, err
			}
			out.Proof, err = unmarshalProof(sub)
			if err != nil {
				return nil, err
			}
		default:
			return nil, errDeserialize("unknown field %d in token", num)
		}
	}
	if out.Authority == nil {
		return nil, errDeserialize("token without authority block")
	}
	if out.Proof == nil {
		return nil, errDeserialize("token without proof")
	}
	return out, nil
}

func unmarshalSignedBlock(d *decoder) (*SignedBlock, error) {
	out := &SignedBlock{}
	for !d.done() {
		num, typ, err := d.field()
		if err != nil {
			return nil, err
		}
		switch {
		case num == 1 && typ == protowire.BytesType:
			out.Block, err = d.bytes()
		case num == 2 && typ == protowire.BytesType:
			var sub *decoder
			sub, err = d.message()
			if err != nil {
				return nil, err
			}
			out.NextKey, err = unmarshalPublicKey(sub)
		case num == 3 && typ == protowire.BytesType:
			out.Signature, err = d.bytes()
		case num == 4 && typ == protowire.BytesType:
			var sub *decoder
			sub, err = d.message()
			if err != nil {
				return nil, err
			}
			out.External, err = unmarshalExternalSignature(sub)
		default:
			return nil, errDeserialize("unknown field %d in signed block", num)
		}
		if err != nil {
			return nil, err
		}
	}
	if out.NextKey == nil {
		return nil, ErrEmptyKeys
	}
	return out, nil
}

func unmarshalPublicKey(d *decoder) (*PublicKey, error) {
	out := &PublicKey{}
	for !d.done() {
		num, typ, err := d.field()
		if err != nil {
			return nil, err
		}
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, err := d.varint()
			if err != nil {
				return nil, err
			}
			out.Algorithm = int32(v)
		case num == 2 && typ == protowire.BytesType:
			out.Key, err = d.bytes()
			if err != nil {
				return nil, err
			}
		default:
			return nil, errDeserialize("unknown field %d in public key", num)
		}
	}
	if out.Key == nil {
		return nil, ErrEmptyKeys
	}
	return out, nil
}

func unmarshalExternalSignature(d *decoder) (*ExternalSignature, error) {
	out := &ExternalSignature{}
	for !d.done() {
		num, typ, err := d.field()
		if err != nil {
			return nil, err
		}
		switch {
		case num == 1 && typ == protowire.BytesType:
			out.Signature, err = d.bytes()
			if err != nil {
				return nil, err
			}
		case num == 2 && typ == protowire.BytesType:
			sub, err := d.message()
			if err != nil {
				return nil, err
			}
			out.PublicKey, err = unmarshalPublicKey(sub)
			if err != nil {
				return nil, err
			}
		default:
			return nil, errDeserialize("unknown field %d in external signature", num)
		}
	}
	return out, nil
}

func unmarshalProof(d *decoder) (*Proof, error) {
	out := &Proof{}
	for !d.done() {
		num, typ, err := d.field()
		if err != nil {
			return nil, err
		}
		switch {
		case num == 1 && typ == protowire.BytesType:
			out.NextSecret, err = d.bytes()
		case num == 2 && typ == protowire.BytesType:
			out.FinalSignature, err = d.bytes()
		default:
			return nil, errDeserialize("unknown field %d in proof", num)
		}
		if err != nil {
			return nil, err
		}
	}
	if (out.NextSecret == nil) == (out.FinalSignature == nil) {
		return nil, errDeserialize("proof must carry exactly one of next secret and final signature")
	}
	return out, nil
}

// UnmarshalBlock parses a block's byte string.
func UnmarshalBlock(data []byte) (*Block, error) {
	d := &decoder{buf: data}
	out := &Block{}
	for !d.done() {
		num, typ, err := d.field()
		if err != nil {
			return nil, errBlock("%v", err)
		}
		switch {
		case num == 1 && typ == protowire.BytesType:
			b, err := d.bytes()
			if err != nil {
				return nil, errBlock("%v", err)
			}
			out.Symbols = append(out.Symbols, string(b))
		case num == 2 && typ == protowire.BytesType:
			b, err := d.bytes()
			if err != nil {
				return nil, errBlock("%v", err)
			}
			s := string(b)
			out.Context = &s
		case num == 3 && typ == protowire.VarintType:
			v, err := d.varint()
			if err != nil {
				return nil, errBlock("%v", err)
			}
			ver := uint32(v)
			out.Version = &ver
		case num == 4 && typ == protowire.BytesType:
			sub, err := d.message()
			if err != nil {
				return nil, errBlock("%v", err)
			}
			f, err := unmarshalFact(sub)
			if err != nil {
				return nil, err
			}
			out.Facts = append(out.Facts, f)
		case num == 5 && typ == protowire.BytesType:
			sub, err := d.message()
			if err != nil {
				return nil, errBlock("%v", err)
			}
			r, err := unmarshalRule(sub)
			if err != nil {
				return nil, err
			}
			out.Rules = append(out.Rules, r)
		case num == 6 && typ == protowire.BytesType:
			sub, err := d.message()
			if err != nil {
				return nil, errBlock("%v", err)
			}
			c, err := unmarshalCheck(sub)
			if err != nil {
				return nil, err
			}
			out.Checks = append(out.Checks, c)
		case num == 7 && typ == protowire.BytesType:
			sub, err := d.message()
			if err != nil {
				return nil, errBlock("%v", err)
			}
			s, err := unmarshalScope(sub)
			if err != nil {
				return nil, err
			}
			out.Scope = append(out.Scope, s)
		case num == 8 && typ == protowire.BytesType:
			sub, err := d.message()
			if err != nil {
				return nil, errBlock("%v", err)
			}
			k, err := unmarshalPublicKey(sub)
			if err != nil {
				return nil, err
			}
			out.PublicKeys = append(out.PublicKeys, k)
		default:
			return nil, errBlock("unknown field %d in block", num)
		}
	}
	if out.Version != nil && (*out.Version < MinVersion || *out.Version > CurrentVersion) {
		return nil, ErrVersion
	}
	return out, nil
}

func unmarshalFact(d *decoder) (*Fact, error) {
	out := &Fact{}
	for !d.done() {
		num, typ, err := d.field()
		if err != nil {
			return nil, err
		}
		if num == 1 && typ == protowire.BytesType {
			sub, err := d.message()
			if err != nil {
				return nil, err
			}
			out.Predicate, err = unmarshalPredicate(sub)
			if err != nil {
				return nil, err
			}
			continue
		}
		return nil, errDeserialize("unknown field %d in fact", num)
	}
	if out.Predicate == nil {
		return nil, errDeserialize("fact without predicate")
	}
	return out, nil
}

func unmarshalPredicate(d *decoder) (*Predicate, error) {
	out := &Predicate{}
	for !d.done() {
		num, typ, err := d.field()
		if err != nil {
			return nil, err
		}
		switch {
		case num == 1 && typ == protowire.VarintType:
			out.Name, err = d.varint()
			if err != nil {
				return nil, err
			}
		case num == 2 && typ == protowire.BytesType:
			sub, err := d.message()
			if err != nil {
				return nil, err
			}
			t, err := unmarshalTerm(sub)
			if err != nil {
				return nil, err
			}
			out.Terms = append(out.Terms, t)
		default:
			return nil, errDeserialize("unknown field %d in predicate", num)
		}
	}
	return out, nil
}

func unmarshalTerm(d *decoder) (*Term, error) {
	out := &Term{}
	variants := 0
	for !d.done() {
		num, typ, err := d.field()
		if err != nil {
			return nil, err
		}
		variants++
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, err := d.varint()
			if err != nil {
				return nil, err
			}
			x := uint32(v)
			out.Variable = &x
		case num == 2 && typ == protowire.VarintType:
			v, err := d.varint()
			if err != nil {
				return nil, err
			}
			x := int64(v)
			out.Integer = &x
		case num == 3 && typ == protowire.VarintType:
			v, err := d.varint()
			if err != nil {
				return nil, err
			}
			out.String = &v
		case num == 4 && typ == protowire.VarintType:
			v, err := d.varint()
			if err != nil {
				return nil, err
			}
			out.Date = &v
		case num == 5 && typ == protowire.BytesType:
			out.Bytes, err = d.bytes()
			if err != nil {
				return nil, err
			}
			out.hasBytes = true
		case num == 6 && typ == protowire.VarintType:
			v, err := d.varint()
			if err != nil {
				return nil, err
			}
			b := v != 0
			out.Bool = &b
		case num == 7 && typ == protowire.BytesType:
			sub, err := d.message()
			if err != nil {
				return nil, err
			}
			set := &TermSet{}
			for !sub.done() {
				n2, t2, err := sub.field()
				if err != nil {
					return nil, err
				}
				if n2 != 1 || t2 != protowire.BytesType {
					return nil, errDeserialize("unknown field %d in term set", n2)
				}
				es, err := sub.message()
				if err != nil {
					return nil, err
				}
				e, err := unmarshalTerm(es)
				if err != nil {
					return nil, err
				}
				set.Set = append(set.Set, e)
			}
			out.Set = set
		case num == 8 && typ == protowire.BytesType:
			sub, err := d.message()
			if err != nil {
				return nil, err
			}
			if !sub.done() {
				return nil, errDeserialize("null term with payload")
			}
			out.Null = true
		case num == 9 && typ == protowire.BytesType:
			sub, err := d.message()
			if err != nil {
				return nil, err
			}
			arr := &TermArr{}
			for !sub.done() {
				n2, t2, err := sub.field()
				if err != nil {
					return nil, err
				}
				if n2 != 1 || t2 != protowire.BytesType {
					return nil, errDeserialize("unknown field %d in term array", n2)
				}
				es, err := sub.message()
				if err != nil {
					return nil, err
				}
				e, err := unmarshalTerm(es)
				if err != nil {
					return nil, err
				}
				arr.Array = append(arr.Array, e)
			}
			out.Array = arr
		case num == 10 && typ == protowire.BytesType:
			sub, err := d.message()
			if err != nil {
				return nil, err
			}
			m := &TermMap{}
			for !sub.done() {
				n2, t2, err := sub.field()
				if err != nil {
					return nil, err
				}
				if n2 != 1 || t2 != protowire.BytesType {
					return nil, errDeserialize("unknown field %d in term map", n2)
				}
				es, err := sub.message()
				if err != nil {
					return nil, err
				}
				entry, err := unmarshalMapEntry(es)
				if err != nil {
					return nil, err
				}
				m.Entries = append(m.Entries, entry)
			}
			out.Map = m
		default:
			return nil, errDeserialize("unknown field %d in term", num)
		}
	}
	if variants != 1 {
		return nil, errDeserialize("term must set exactly one variant, got %d", variants)
	}
	return out, nil
}

func unmarshalMapEntry(d *decoder) (*MapEntry, error) {
	out := &MapEntry{}
	for !d.done() {
		num, typ, err := d.field()
		if err != nil {
			return nil, err
		}
		if typ != protowire.BytesType {
			return nil, errDeserialize("unexpected wire type in map entry")
		}
		sub, err := d.message()
		if err != nil {
			return nil, err
		}
		t, err := unmarshalTerm(sub)
		if err != nil {
			return nil, err
		}
		switch num {
		case 1:
			out.Key = t
		case 2:
			out.Value = t
		default:
			return nil, errDeserialize("unknown field %d in map entry", num)
		}
	}
	if out.Key == nil || out.Value == nil {
		return nil, errDeserialize("map entry missing key or value")
	}
	return out, nil
}

func unmarshalRule(d *decoder) (*Rule, error) {
	out := &Rule{}
	for !d.done() {
		num, typ, err := d.field()
		if err != nil {
			return nil, err
		}
		if typ != protowire.BytesType {
			return nil, errDeserialize("unexpected wire type %d in rule", typ)
		}
		sub, err := d.message()
		if err != nil {
			return nil, err
		}
		switch num {
		case 1:
			out.Head, err = unmarshalPredicate(sub)
		case 2:
			var p *Predicate
			p, err = unmarshalPredicate(sub)
			out.Body = append(out.Body, p)
		case 3:
			var e *Expression
			e, err = unmarshalExpression(sub)
			out.Expressions = append(out.Expressions, e)
		case 4:
			var s *Scope
			s, err = unmarshalScope(sub)
			out.Scope = append(out.Scope, s)
		default:
			return nil, errDeserialize("unknown field %d in rule", num)
		}
		if err != nil {
			return nil, err
		}
	}
	if out.Head == nil {
		return nil, errDeserialize("rule without head")
	}
	return out, nil
}

func unmarshalExpression(d *decoder) (*Expression, error) {
	out := &Expression{}
	for !d.done() {
		num, typ, err := d.field()
		if err != nil {
			return nil, err
		}
		if num != 1 || typ != protowire.BytesType {
			return nil, errDeserialize("unknown field %d in expression", num)
		}
		sub, err := d.message()
		if err != nil {
			return nil, err
		}
		op, err := unmarshalOp(sub)
		if err != nil {
			return nil, err
		}
		out.Ops = append(out.Ops, op)
	}
	return out, nil
}

func unmarshalOp(d *decoder) (*Op, error) {
	out := &Op{}
	variants := 0
	for !d.done() {
		num, typ, err := d.field()
		if err != nil {
			return nil, err
		}
		if typ != protowire.BytesType {
			return nil, errDeserialize("unexpected wire type in op")
		}
		sub, err := d.message()
		if err != nil {
			return nil, err
		}
		variants++
		switch num {
		case 1:
			out.Value, err = unmarshalTerm(sub)
		case 2:
			out.Unary, err = unmarshalOpKind(sub, "unary op")
		case 3:
			var b *OpUnary
			b, err = unmarshalOpKind(sub, "binary op")
			if b != nil {
				out.Binary = &OpBinary{Kind: b.Kind}
			}
		default:
			return nil, errDeserialize("unknown field %d in op", num)
		}
		if err != nil {
			return nil, err
		}
	}
	if variants != 1 {
		return nil, errDeserialize("op must set exactly one variant, got %d", variants)
	}
	return out, nil
}

func unmarshalOpKind(d *decoder, what string) (*OpUnary, error) {
	out := &OpUnary{}
	for !d.done() {
		num, typ, err := d.field()
		if err != nil {
			return nil, err
		}
		if num != 1 || typ != protowire.VarintType {
			return nil, errDeserialize("unknown field %d in %s", num, what)
		}
		v, err := d.varint()
		if err != nil {
			return nil, err
		}
		out.Kind = int32(v)
	}
	return out, nil
}

func unmarshalCheck(d *decoder) (*Check, error) {
	out := &Check{}
	for !d.done() {
		num, typ, err := d.field()
		if err != nil {
			return nil, err
		}
		switch {
		case num == 1 && typ == protowire.BytesType:
			sub, err := d.message()
			if err != nil {
				return nil, err
			}
			q, err := unmarshalRule(sub)
			if err != nil {
				return nil, err
			}
			out.Queries = append(out.Queries, q)
		case num == 2 && typ == protowire.VarintType:
			v, err := d.varint()
			if err != nil {
				return nil, err
			}
			out.Kind = int32(v)
		default:
			return nil, errDeserialize("unknown field %d in check", num)
		}
	}
	if len(out.Queries) == 0 {
		return nil, errDeserialize("check without queries")
	}
	return out, nil
}

func unmarshalScope(d *decoder) (*Scope, error) {
	out := &Scope{}
	variants := 0
	for !d.done() {
		num, typ, err := d.field()
		if err != nil {
			return nil, err
		}
		if typ != protowire.VarintType {
			return nil, errDeserialize("unexpected wire type in scope")
		}
		v, err := d.varint()
		if err != nil {
			return nil, err
		}
		variants++
		switch num {
		case 1:
			x := int32(v)
			out.ScopeType = &x
		case 2:
			x := int64(v)
			out.PublicKey = &x
		default:
			return nil, errDeserialize("unknown field %d in scope", num)
		}
	}
	if variants != 1 {
		return nil, errDeserialize("scope must set exactly one variant, got %d", variants)
	}
	return out, nil
}
