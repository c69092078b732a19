package crypto

import "errors"

var (
	// ErrInvalidKeySize reports a serialized key of the wrong length.
	ErrInvalidKeySize = errors.New("crypto: invalid key size")
	// ErrInvalidSignatureSize reports a signature of the wrong length.
	ErrInvalidSignatureSize = errors.New("crypto: invalid signature size")
	// ErrInvalidKey reports a key that cannot be decoded.
	ErrInvalidKey = errors.New("crypto: invalid key")
	// ErrInvalidSignature reports a signature that does not verify.
	ErrInvalidSignature = errors.New("crypto: invalid signature")
	// ErrInvalidFormat reports a key/signature pair whose algorithm
	// tags do not match.
	ErrInvalidFormat = errors.New("crypto: invalid signature format")
	// ErrSealedSignature reports an invalid seal signature.
	ErrSealedSignature = errors.New("crypto: invalid seal signature")
	// ErrAlreadySealed reports an append on a sealed chain.
	ErrAlreadySealed = errors.New("crypto: token is sealed")
	// ErrPKCS8 reports a PEM/PKCS#8 decoding failure.
	ErrPKCS8 = errors.New("crypto: invalid PKCS#8 data")
)
