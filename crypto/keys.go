// Package crypto provides the signature primitives and the block
// signature chain for cordon tokens. Two schemes are supported,
// Ed25519 and ECDSA over NIST-P256, behind one keypair interface;
// keys carry their algorithm tag so mismatched pairs fail at parse
// time rather than at verification.
package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
)

// Algorithm tags a key with its signature scheme. The numeric values
// are part of the wire format.
type Algorithm int32

const (
	Ed25519   Algorithm = 0
	Secp256r1 Algorithm = 1
)

func (a Algorithm) String() string {
	switch a {
	case Ed25519:
		return "ed25519"
	case Secp256r1:
		return "secp256r1"
	}
	return fmt.Sprintf("algorithm(%d)", int32(a))
}

// Key sizes in serialized form.
const (
	ed25519PublicSize  = 32
	ed25519PrivateSize = 32
	p256PublicSize     = 33 // SEC1 compressed
	p256PrivateSize    = 32
)

// PublicKey is a serialized public key plus its algorithm tag.
type PublicKey struct {
	algorithm Algorithm
	data      []byte
}

// NewPublicKey builds a public key from its serialized form,
// validating size and curve membership.
func NewPublicKey(algorithm Algorithm, data []byte) (PublicKey, error) {
	switch algorithm {
	case Ed25519:
		if len(data) != ed25519PublicSize {
			return PublicKey{}, fmt.Errorf("%w: ed25519 public key must be %d bytes, got %d", ErrInvalidKeySize, ed25519PublicSize, len(data))
		}
	case Secp256r1:
		if len(data) != p256PublicSize {
			return PublicKey{}, fmt.Errorf("%w: secp256r1 public key must be %d bytes, got %d", ErrInvalidKeySize, p256PublicSize, len(data))
		}
		x, y := elliptic.UnmarshalCompressed(elliptic.P256(), data)
		if x == nil || y == nil {
			return PublicKey{}, fmt.Errorf("%w: point is not on the curve", ErrInvalidKey)
		}
	default:
		return PublicKey{}, fmt.Errorf("%w: unknown algorithm %d", ErrInvalidKey, algorithm)
	}
	k := make([]byte, len(data))
	copy(k, data)
	return PublicKey{algorithm: algorithm, data: k}, nil
}

// Algorithm returns the key's scheme tag.
func (p PublicKey) Algorithm() Algorithm {
	return p.algorithm
}

// Bytes returns the serialized key: 32 bytes for Ed25519, 33 bytes
// SEC1 compressed for Secp256r1.
func (p PublicKey) Bytes() []byte {
	out := make([]byte, len(p.data))
	copy(out, p.data)
	return out
}

// Equal reports whether two public keys are the same key.
func (p PublicKey) Equal(other PublicKey) bool {
	return p.algorithm == other.algorithm && bytes.Equal(p.data, other.data)
}

func (p PublicKey) String() string {
	return fmt.Sprintf("%s/%x", p.algorithm, p.data)
}

// Verify checks sig over msg.
func (p PublicKey) Verify(msg, sig []byte) error {
	switch p.algorithm {
	case Ed25519:
		if len(sig) != ed25519.SignatureSize {
			return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignatureSize, ed25519.SignatureSize, len(sig))
		}
		if !ed25519.Verify(ed25519.PublicKey(p.data), msg, sig) {
			return ErrInvalidSignature
		}
		return nil
	case Secp256r1:
		x, y := elliptic.UnmarshalCompressed(elliptic.P256(), p.data)
		if x == nil {
			return fmt.Errorf("%w: point is not on the curve", ErrInvalidKey)
		}
		pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
		digest := sha256.Sum256(msg)
		if !ecdsa.VerifyASN1(pub, digest[:], sig) {
			return ErrInvalidSignature
		}
		return nil
	}
	return fmt.Errorf("%w: unknown algorithm %d", ErrInvalidKey, p.algorithm)
}

// Keypair is a private key with its derived public half. The zero
// value is unusable; construct through Generate or FromPrivateBytes.
type Keypair struct {
	algorithm Algorithm
	ed        ed25519.PrivateKey
	ec        *ecdsa.PrivateKey
	public    PublicKey
}

// Generate creates a keypair. With a 32-byte seed the result is
// deterministic; with a nil seed the platform RNG is used.
func Generate(algorithm Algorithm, seed []byte) (*Keypair, error) {
	if seed == nil {
		seed = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, seed); err != nil {
			return nil, fmt.Errorf("reading random seed: %w", err)
		}
	}
	if len(seed) != 32 {
		return nil, fmt.Errorf("%w: seed must be 32 bytes, got %d", ErrInvalidKeySize, len(seed))
	}
	return FromPrivateBytes(algorithm, seed)
}

// FromPrivateBytes reconstructs a keypair from a serialized private
// key (32 bytes for both schemes).
func FromPrivateBytes(algorithm Algorithm, data []byte) (*Keypair, error) {
	switch algorithm {
	case Ed25519:
		if len(data) != ed25519PrivateSize {
			return nil, fmt.Errorf("%w: ed25519 private key must be %d bytes, got %d", ErrInvalidKeySize, ed25519PrivateSize, len(data))
		}
		priv := ed25519.NewKeyFromSeed(data)
		pub, err := NewPublicKey(Ed25519, priv.Public().(ed25519.PublicKey))
		if err != nil {
			return nil, err
		}
		return &Keypair{algorithm: Ed25519, ed: priv, public: pub}, nil

	case Secp256r1:
		if len(data) != p256PrivateSize {
			return nil, fmt.Errorf("%w: secp256r1 private key must be %d bytes, got %d", ErrInvalidKeySize, p256PrivateSize, len(data))
		}
		curve := elliptic.P256()
		d := new(big.Int).SetBytes(data)
		if d.Sign() == 0 || d.Cmp(curve.Params().N) >= 0 {
			n := new(big.Int).Sub(curve.Params().N, big.NewInt(1))
			d.Mod(d, n)
			d.Add(d, big.NewInt(1))
		}
		if d.Sign() == 0 {
			return nil, fmt.Errorf("%w: zero scalar", ErrInvalidKey)
		}
		priv := &ecdsa.PrivateKey{D: d}
		priv.Curve = curve
		priv.X, priv.Y = curve.ScalarBaseMult(d.Bytes())
		pub, err := NewPublicKey(Secp256r1, elliptic.MarshalCompressed(curve, priv.X, priv.Y))
		if err != nil {
			return nil, err
		}
		return &Keypair{algorithm: Secp256r1, ec: priv, public: pub}, nil
	}
	return nil, fmt.Errorf("%w: unknown algorithm %d", ErrInvalidKey, algorithm)
}

// Algorithm returns the keypair's scheme tag.
func (k *Keypair) Algorithm() Algorithm {
	return k.algorithm
}

// Public returns the public half.
func (k *Keypair) Public() PublicKey {
	return k.public
}

// PrivateBytes serializes the private key to 32 bytes.
func (k *Keypair) PrivateBytes() []byte {
	switch k.algorithm {
	case Ed25519:
		out := make([]byte, ed25519PrivateSize)
		copy(out, k.ed.Seed())
		return out
	case Secp256r1:
		out := make([]byte, p256PrivateSize)
		k.ec.D.FillBytes(out)
		return out
	}
	return nil
}

// Sign signs msg with the private key. Ed25519 signs the raw
// message; ECDSA signs its SHA-256 digest, ASN.1 encoded.
func (k *Keypair) Sign(msg []byte) ([]byte, error) {
	switch k.algorithm {
	case Ed25519:
		return ed25519.Sign(k.ed, msg), nil
	case Secp256r1:
		digest := sha256.Sum256(msg)
		sig, err := ecdsa.SignASN1(rand.Reader, k.ec, digest[:])
		if err != nil {
			return nil, fmt.Errorf("ecdsa signing: %w", err)
		}
		return sig, nil
	}
	return nil, fmt.Errorf("%w: unknown algorithm %d", ErrInvalidKey, k.algorithm)
}

// AlgorithmTag returns the 4-byte little-endian algorithm tag used
// in signature payloads.
func AlgorithmTag(a Algorithm) []byte {
	var out [4]byte
	binary.LittleEndian.PutUint32(out[:], uint32(a))
	return out[:]
}

// SignaturePayload builds the signed byte string for a block:
// block bytes, then the next key's algorithm tag and serialization.
// For third-party blocks the previous key is appended the same way.
func SignaturePayload(blockBytes []byte, nextKey PublicKey, prevKey *PublicKey) []byte {
	out := make([]byte, 0, len(blockBytes)+4+len(nextKey.data)+40)
	out = append(out, blockBytes...)
	out = append(out, AlgorithmTag(nextKey.algorithm)...)
	out = append(out, nextKey.data...)
	if prevKey != nil {
		out = append(out, AlgorithmTag(prevKey.algorithm)...)
		out = append(out, prevKey.data...)
	}
	return out
}
