package crypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

const (
	pemPrivateType = "PRIVATE KEY"
	pemPublicType  = "PUBLIC KEY"
)

// MarshalPrivateKeyPEM exports the private key as a PKCS#8 PEM
// block.
func (k *Keypair) MarshalPrivateKeyPEM() ([]byte, error) {
	var (
		der []byte
		err error
	)
	switch k.algorithm {
	case Ed25519:
		der, err = x509.MarshalPKCS8PrivateKey(k.ed)
	case Secp256r1:
		der, err = x509.MarshalPKCS8PrivateKey(k.ec)
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %d", ErrInvalidKey, k.algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPKCS8, err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPrivateType, Bytes: der}), nil
}

// UnmarshalPrivateKeyPEM imports a PKCS#8 PEM private key. The
// algorithm is inferred from the key material.
func UnmarshalPrivateKeyPEM(data []byte) (*Keypair, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemPrivateType {
		return nil, fmt.Errorf("%w: missing %q PEM block", ErrPKCS8, pemPrivateType)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPKCS8, err)
	}
	switch priv := key.(type) {
	case ed25519.PrivateKey:
		return FromPrivateBytes(Ed25519, priv.Seed())
	case *ecdsa.PrivateKey:
		if priv.Curve != elliptic.P256() {
			return nil, fmt.Errorf("%w: unsupported curve %s", ErrInvalidKey, priv.Curve.Params().Name)
		}
		raw := make([]byte, p256PrivateSize)
		priv.D.FillBytes(raw)
		return FromPrivateBytes(Secp256r1, raw)
	}
	return nil, fmt.Errorf("%w: unsupported key type %T", ErrInvalidKey, key)
}

// MarshalPublicKeyPEM exports the public key as an SPKI PEM block.
func (p PublicKey) MarshalPublicKeyPEM() ([]byte, error) {
	var (
		der []byte
		err error
	)
	switch p.algorithm {
	case Ed25519:
		der, err = x509.MarshalPKIXPublicKey(ed25519.PublicKey(p.data))
	case Secp256r1:
		x, y := elliptic.UnmarshalCompressed(elliptic.P256(), p.data)
		if x == nil {
			return nil, fmt.Errorf("%w: point is not on the curve", ErrInvalidKey)
		}
		der, err = x509.MarshalPKIXPublicKey(&ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y})
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %d", ErrInvalidKey, p.algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPKCS8, err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPublicType, Bytes: der}), nil
}

// UnmarshalPublicKeyPEM imports an SPKI PEM public key.
func UnmarshalPublicKeyPEM(data []byte) (PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemPublicType {
		return PublicKey{}, fmt.Errorf("%w: missing %q PEM block", ErrPKCS8, pemPublicType)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrPKCS8, err)
	}
	switch pub := key.(type) {
	case ed25519.PublicKey:
		return NewPublicKey(Ed25519, pub)
	case *ecdsa.PublicKey:
		if pub.Curve != elliptic.P256() {
			return PublicKey{}, fmt.Errorf("%w: unsupported curve %s", ErrInvalidKey, pub.Curve.Params().Name)
		}
		return NewPublicKey(Secp256r1, elliptic.MarshalCompressed(elliptic.P256(), pub.X, pub.Y))
	}
	return PublicKey{}, fmt.Errorf("%w: unsupported key type %T", ErrInvalidKey, key)
}
