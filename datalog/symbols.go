package datalog

import (
	"fmt"
)

// ReservedSymbolOffset is the first id available to user symbols.
// Ids below it belong to the fixed dictionary shared by every token.
const ReservedSymbolOffset = 1024

// defaultSymbols is the fixed dictionary occupying the reserved id
// range. The exact strings and their order are part of the wire
// contract; changing them breaks interoperability with existing
// tokens.
var defaultSymbols = []string{
	"read",
	"write",
	"resource",
	"operation",
	"right",
	"time",
	"role",
	"owner",
	"tenant",
	"namespace",
	"user",
	"team",
	"service",
	"admin",
	"email",
	"group",
	"member",
	"ip_address",
	"client",
	"client_ip",
	"domain",
	"path",
	"version",
	"cluster",
	"node",
	"hostname",
	"nonce",
	"query",
}

// SymbolTable interns the strings used by a token's blocks. Reserved
// ids 0..1023 come from the fixed dictionary; user symbols are
// appended starting at ReservedSymbolOffset, dense and unique.
type SymbolTable struct {
	symbols []string
	index   map[string]uint64
}

// NewSymbolTable returns a table containing only the reserved
// dictionary.
func NewSymbolTable() *SymbolTable {
	t := &SymbolTable{index: make(map[string]uint64, len(defaultSymbols))}
	for i, s := range defaultSymbols {
		t.index[s] = uint64(i)
	}
	return t
}

// Insert returns the id for s, interning it if needed.
func (t *SymbolTable) Insert(s string) uint64 {
	if id, ok := t.index[s]; ok {
		return id
	}
	id := ReservedSymbolOffset + uint64(len(t.symbols))
	t.symbols = append(t.symbols, s)
	t.index[s] = id
	return id
}

// Sym is a convenience wrapper returning the id as a String term.
func (t *SymbolTable) Sym(s string) String {
	return String(t.Insert(s))
}

// Lookup returns the id for s without interning.
func (t *SymbolTable) Lookup(s string) (uint64, bool) {
	id, ok := t.index[s]
	return id, ok
}

// Str resolves an id back to its string.
func (t *SymbolTable) Str(id uint64) (string, error) {
	if id < ReservedSymbolOffset {
		if id < uint64(len(defaultSymbols)) {
			return defaultSymbols[id], nil
		}
		return "", fmt.Errorf("%w: id %d", ErrUnknownSymbol, id)
	}
	idx := id - ReservedSymbolOffset
	if idx >= uint64(len(t.symbols)) {
		return "", fmt.Errorf("%w: id %d", ErrUnknownSymbol, id)
	}
	return t.symbols[idx], nil
}

// Symbols returns the user-interned strings in id order, without the
// reserved dictionary.
func (t *SymbolTable) Symbols() []string {
	out := make([]string, len(t.symbols))
	copy(out, t.symbols)
	return out
}

// Len returns the number of user symbols.
func (t *SymbolTable) Len() int {
	return len(t.symbols)
}

// Extend appends a block's symbol list to the accumulated table.
// Re-declaring an interned string is an overlap and is fatal: the
// per-token id assignment must stay dense and unambiguous.
func (t *SymbolTable) Extend(symbols []string) error {
	for _, s := range symbols {
		if _, ok := t.index[s]; ok {
			return fmt.Errorf("%w: %q", ErrSymbolTableOverlap, s)
		}
		id := ReservedSymbolOffset + uint64(len(t.symbols))
		t.symbols = append(t.symbols, s)
		t.index[s] = id
	}
	return nil
}

// SplitOff returns the user symbols added after the first n, used to
// compute the symbol list a new block contributes.
func (t *SymbolTable) SplitOff(n int) []string {
	if n >= len(t.symbols) {
		return nil
	}
	out := make([]string, len(t.symbols)-n)
	copy(out, t.symbols[n:])
	return out
}

// Clone returns an independent copy of the table.
func (t *SymbolTable) Clone() *SymbolTable {
	c := NewSymbolTable()
	c.symbols = make([]string, len(t.symbols))
	copy(c.symbols, t.symbols)
	for i, s := range c.symbols {
		c.index[s] = ReservedSymbolOffset + uint64(i)
	}
	return c
}

// PublicKeyTable interns the external public keys referenced by
// trusting annotations and third-party block signatures. Keys are
// identified by their serialized form.
type PublicKeyTable struct {
	keys  [][]byte
	index map[string]uint64
}

// NewPublicKeyTable returns an empty table.
func NewPublicKeyTable() *PublicKeyTable {
	return &PublicKeyTable{index: make(map[string]uint64)}
}

// Insert returns the id for the serialized key, interning if needed.
func (t *PublicKeyTable) Insert(key []byte) uint64 {
	if id, ok := t.index[string(key)]; ok {
		return id
	}
	id := uint64(len(t.keys))
	k := make([]byte, len(key))
	copy(k, key)
	t.keys = append(t.keys, k)
	t.index[string(key)] = id
	return id
}

// Lookup returns the id for the serialized key without interning.
func (t *PublicKeyTable) Lookup(key []byte) (uint64, bool) {
	id, ok := t.index[string(key)]
	return id, ok
}

// Key resolves an id back to the serialized key.
func (t *PublicKeyTable) Key(id uint64) ([]byte, error) {
	if id >= uint64(len(t.keys)) {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownPublicKey, id)
	}
	return t.keys[id], nil
}

// Keys returns all interned keys in id order.
func (t *PublicKeyTable) Keys() [][]byte {
	out := make([][]byte, len(t.keys))
	copy(out, t.keys)
	return out
}

// Len returns the number of interned keys.
func (t *PublicKeyTable) Len() int {
	return len(t.keys)
}

// Extend appends a block's public key list to the accumulated table.
// A key already interned under a different id is an overlap.
func (t *PublicKeyTable) Extend(keys [][]byte) error {
	for _, k := range keys {
		if _, ok := t.index[string(k)]; ok {
			return fmt.Errorf("%w: %x", ErrPublicKeyTableOverlap, k)
		}
		t.Insert(k)
	}
	return nil
}

// SplitOff returns the keys added after the first n.
func (t *PublicKeyTable) SplitOff(n int) [][]byte {
	if n >= len(t.keys) {
		return nil
	}
	out := make([][]byte, len(t.keys)-n)
	copy(out, t.keys[n:])
	return out
}

// Clone returns an independent copy of the table.
func (t *PublicKeyTable) Clone() *PublicKeyTable {
	c := NewPublicKeyTable()
	for _, k := range t.keys {
		c.Insert(k)
	}
	return c
}
