package datalog

import (
	"math"
	"sort"
)

// AuthorizerOrigin is the sentinel block index attributed to facts
// and rules contributed by the authorizer itself.
const AuthorizerOrigin uint64 = math.MaxUint64

// Origin is the set of block indices that justify a fact. Kept as a
// small sorted slice; tokens rarely exceed a handful of blocks.
type Origin []uint64

// NewOrigin builds an origin containing the given block indices.
func NewOrigin(blocks ...uint64) Origin {
	var o Origin
	for _, b := range blocks {
		o = o.Insert(b)
	}
	return o
}

// Insert returns an origin that also contains block.
func (o Origin) Insert(block uint64) Origin {
	i := sort.Search(len(o), func(i int) bool { return o[i] >= block })
	if i < len(o) && o[i] == block {
		return o
	}
	out := make(Origin, 0, len(o)+1)
	out = append(out, o[:i]...)
	out = append(out, block)
	out = append(out, o[i:]...)
	return out
}

// Contains reports whether block is part of the origin.
func (o Origin) Contains(block uint64) bool {
	i := sort.Search(len(o), func(i int) bool { return o[i] >= block })
	return i < len(o) && o[i] == block
}

// Union merges two origins.
func (o Origin) Union(other Origin) Origin {
	out := o
	for _, b := range other {
		out = out.Insert(b)
	}
	return out
}

// Equal reports whether two origins hold the same blocks.
func (o Origin) Equal(other Origin) bool {
	if len(o) != len(other) {
		return false
	}
	for i := range o {
		if o[i] != other[i] {
			return false
		}
	}
	return true
}

// key returns a canonical string form usable as a map key.
func (o Origin) key() string {
	buf := make([]byte, 0, len(o)*8)
	for _, b := range o {
		for s := 56; s >= 0; s -= 8 {
			buf = append(buf, byte(b>>uint(s)))
		}
	}
	return string(buf)
}

// TrustedOrigins is the set of block indices a rule (or check or
// policy query) may read facts from.
type TrustedOrigins struct {
	blocks map[uint64]struct{}
}

// NewTrustedOrigins builds a trust set from explicit block indices.
func NewTrustedOrigins(blocks ...uint64) TrustedOrigins {
	t := TrustedOrigins{blocks: make(map[uint64]struct{}, len(blocks))}
	for _, b := range blocks {
		t.blocks[b] = struct{}{}
	}
	return t
}

// TrustedOriginsFor resolves a rule's scope annotations into a
// concrete trust set. ruleOrigin is the index of the defining block,
// blockCount the number of blocks in the token. With no annotations
// the default applies: authority, self, and the authorizer.
func TrustedOriginsFor(scopes []Scope, ruleOrigin uint64, blockCount uint64, keys *PublicKeyTable, blockExternalKeys map[uint64]uint64) (TrustedOrigins, error) {
	t := TrustedOrigins{blocks: make(map[uint64]struct{})}
	// The defining block and the authorizer always trust themselves.
	t.blocks[ruleOrigin] = struct{}{}
	t.blocks[AuthorizerOrigin] = struct{}{}

	if len(scopes) == 0 {
		t.blocks[0] = struct{}{}
		return t, nil
	}

	for _, s := range scopes {
		switch s.Kind {
		case ScopeAuthority:
			t.blocks[0] = struct{}{}
		case ScopePrevious:
			if ruleOrigin == AuthorizerOrigin {
				for b := uint64(0); b < blockCount; b++ {
					t.blocks[b] = struct{}{}
				}
				continue
			}
			for b := uint64(0); b <= ruleOrigin && b < blockCount; b++ {
				t.blocks[b] = struct{}{}
			}
		case ScopePublicKey:
			if _, err := keys.Key(s.PublicKey); err != nil {
				return TrustedOrigins{}, err
			}
			// Trust every block signed by that external key.
			for block, keyID := range blockExternalKeys {
				if keyID == s.PublicKey {
					t.blocks[block] = struct{}{}
				}
			}
		}
	}
	return t, nil
}

// Trusts reports whether every block in the fact origin is trusted.
func (t TrustedOrigins) Trusts(o Origin) bool {
	for _, b := range o {
		if _, ok := t.blocks[b]; !ok {
			return false
		}
	}
	return true
}

// Blocks returns the trusted block indices in ascending order.
func (t TrustedOrigins) Blocks() []uint64 {
	out := make([]uint64, 0, len(t.blocks))
	for b := range t.blocks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
