// Package wire implements the binary token format: a length-delimited
// protobuf schema encoded and decoded by hand over encoding/protowire.
// Hand-driving the wire layer keeps the serialization canonical:
// fields are emitted in fixed tag order, no unknown fields are ever
// written, and collections keep their sorted order, so a block's byte
// string (the signature input) is deterministic.
package wire

// CurrentVersion is the Datalog source version emitted in new blocks.
const CurrentVersion = 5

// MinVersion is the oldest block version still accepted.
const MinVersion = 3

// Biscuit is the top-level token container.
type Biscuit struct {
	RootKeyID *uint32        // field 1
	Authority *SignedBlock   // field 2
	Blocks    []*SignedBlock // field 3
	Proof     *Proof         // field 4
}

// SignedBlock carries a serialized block with its chain signature.
type SignedBlock struct {
	Block     []byte             // field 1
	NextKey   *PublicKey         // field 2
	Signature []byte             // field 3
	External  *ExternalSignature // field 4
}

// PublicKey is an algorithm-tagged serialized public key.
type PublicKey struct {
	Algorithm int32  // field 1
	Key       []byte // field 2
}

// ExternalSignature is a third-party attestation.
type ExternalSignature struct {
	Signature []byte     // field 1
	PublicKey *PublicKey // field 2
}

// Proof is a oneof: exactly one field is non-nil.
type Proof struct {
	NextSecret     []byte // field 1
	FinalSignature []byte // field 2
}

// Block is the serialized form of one token block.
type Block struct {
	Symbols    []string     // field 1
	Context    *string      // field 2
	Version    *uint32      // field 3
	Facts      []*Fact      // field 4
	Rules      []*Rule      // field 5
	Checks     []*Check     // field 6
	Scope      []*Scope     // field 7
	PublicKeys []*PublicKey // field 8
}

// Fact wraps a ground predicate.
type Fact struct {
	Predicate *Predicate // field 1
}

// Predicate is an interned name with term arguments.
type Predicate struct {
	Name  uint64  // field 1
	Terms []*Term // field 2
}

// Term is a oneof over the term variants; exactly one pointer (or
// the Null flag) is set.
type Term struct {
	Variable *uint32  // field 1
	Integer  *int64   // field 2
	String   *uint64  // field 3
	Date     *uint64  // field 4
	Bytes    []byte   // field 5
	Bool     *bool    // field 6
	Set      *TermSet // field 7
	Null     bool     // field 8, empty message presence
	Array    *TermArr // field 9
	Map      *TermMap // field 10
	hasBytes bool     // distinguishes empty bytes from absent
}

// NewBytesTerm builds a bytes term, preserving presence for empty
// slices.
func NewBytesTerm(b []byte) *Term {
	return &Term{Bytes: b, hasBytes: true}
}

// HasBytes reports whether the bytes variant is set.
func (t *Term) HasBytes() bool { return t.hasBytes }

// TermSet is the set variant payload.
type TermSet struct {
	Set []*Term // field 1
}

// TermArr is the array variant payload.
type TermArr struct {
	Array []*Term // field 1
}

// TermMap is the map variant payload.
type TermMap struct {
	Entries []*MapEntry // field 1
}

// MapEntry is one key/value pair of a map term.
type MapEntry struct {
	Key   *Term // field 1
	Value *Term // field 2
}

// Rule is a head, body patterns, expression guards and scope.
type Rule struct {
	Head        *Predicate    // field 1
	Body        []*Predicate  // field 2
	Expressions []*Expression // field 3
	Scope       []*Scope      // field 4
}

// Expression is a postfix op sequence.
type Expression struct {
	Ops []*Op // field 1
}

// Op is a oneof: a term push, a unary or a binary operator.
type Op struct {
	Value  *Term     // field 1
	Unary  *OpUnary  // field 2
	Binary *OpBinary // field 3
}

// OpUnary carries a unary operator kind.
type OpUnary struct {
	Kind int32 // field 1
}

// OpBinary carries a binary operator kind.
type OpBinary struct {
	Kind int32 // field 1
}

// Check kinds on the wire.
const (
	CheckKindOne int32 = 0
	CheckKindAll int32 = 1
)

// Check is a tagged list of query rules.
type Check struct {
	Queries []*Rule // field 1
	Kind    int32   // field 2
}

// Scope element kinds on the wire.
const (
	ScopeTypeAuthority int32 = 0
	ScopeTypePrevious  int32 = 1
)

// Scope is a oneof: a well-known scope type or an interned public
// key id.
type Scope struct {
	ScopeType *int32 // field 1
	PublicKey *int64 // field 2
}
