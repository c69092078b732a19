package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSeed = []byte("0123456789abcdef0123456789abcdef")

func TestGenerateDeterministicFromSeed(t *testing.T) {
	for _, algo := range []Algorithm{Ed25519, Secp256r1} {
		t.Run(algo.String(), func(t *testing.T) {
			k1, err := Generate(algo, testSeed)
			require.NoError(t, err)
			k2, err := Generate(algo, testSeed)
			require.NoError(t, err)
			assert.Equal(t, k1.Public().Bytes(), k2.Public().Bytes())
			assert.Equal(t, k1.PrivateBytes(), k2.PrivateBytes())
		})
	}
}

func TestGenerateRandom(t *testing.T) {
	k1, err := Generate(Ed25519, nil)
	require.NoError(t, err)
	k2, err := Generate(Ed25519, nil)
	require.NoError(t, err)
	assert.NotEqual(t, k1.Public().Bytes(), k2.Public().Bytes())
}

func TestPublicKeySizes(t *testing.T) {
	ed, err := Generate(Ed25519, testSeed)
	require.NoError(t, err)
	assert.Len(t, ed.Public().Bytes(), 32)

	ec, err := Generate(Secp256r1, testSeed)
	require.NoError(t, err)
	assert.Len(t, ec.Public().Bytes(), 33)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	msg := []byte("attenuation is narrowing")
	for _, algo := range []Algorithm{Ed25519, Secp256r1} {
		t.Run(algo.String(), func(t *testing.T) {
			k, err := Generate(algo, testSeed)
			require.NoError(t, err)
			sig, err := k.Sign(msg)
			require.NoError(t, err)
			require.NoError(t, k.Public().Verify(msg, sig))

			// Tampered message fails
			bad := append([]byte{}, msg...)
			bad[0] ^= 1
			assert.ErrorIs(t, k.Public().Verify(bad, sig), ErrInvalidSignature)
		})
	}
}

func TestPrivateKeyRoundTrip(t *testing.T) {
	for _, algo := range []Algorithm{Ed25519, Secp256r1} {
		k, err := Generate(algo, testSeed)
		require.NoError(t, err)
		restored, err := FromPrivateBytes(algo, k.PrivateBytes())
		require.NoError(t, err)
		assert.True(t, k.Public().Equal(restored.Public()))
	}
}

func TestPublicKeyValidation(t *testing.T) {
	_, err := NewPublicKey(Ed25519, make([]byte, 16))
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = NewPublicKey(Secp256r1, make([]byte, 32))
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	// 33 bytes that are not a curve point
	garbage := make([]byte, 33)
	garbage[0] = 0x02
	for i := 1; i < 33; i++ {
		garbage[i] = 0xFF
	}
	_, err = NewPublicKey(Secp256r1, garbage)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewPublicKey(Algorithm(42), make([]byte, 32))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestAlgorithmTag(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 0}, AlgorithmTag(Ed25519))
	assert.Equal(t, []byte{1, 0, 0, 0}, AlgorithmTag(Secp256r1))
}

func TestSignaturePayloadLayout(t *testing.T) {
	k, err := Generate(Ed25519, testSeed)
	require.NoError(t, err)
	block := []byte("block-bytes")

	payload := SignaturePayload(block, k.Public(), nil)
	want := append([]byte{}, block...)
	want = append(want, 0, 0, 0, 0)
	want = append(want, k.Public().Bytes()...)
	assert.Equal(t, want, payload)

	prev := k.Public()
	payload = SignaturePayload(block, k.Public(), &prev)
	want = append(want, 0, 0, 0, 0)
	want = append(want, prev.Bytes()...)
	assert.Equal(t, want, payload)
}

func TestPEMRoundTrip(t *testing.T) {
	for _, algo := range []Algorithm{Ed25519, Secp256r1} {
		t.Run(algo.String(), func(t *testing.T) {
			k, err := Generate(algo, testSeed)
			require.NoError(t, err)

			privPEM, err := k.MarshalPrivateKeyPEM()
			require.NoError(t, err)
			restored, err := UnmarshalPrivateKeyPEM(privPEM)
			require.NoError(t, err)
			assert.Equal(t, k.PrivateBytes(), restored.PrivateBytes())

			pubPEM, err := k.Public().MarshalPublicKeyPEM()
			require.NoError(t, err)
			pub, err := UnmarshalPublicKeyPEM(pubPEM)
			require.NoError(t, err)
			assert.True(t, k.Public().Equal(pub))
		})
	}
}

func TestPEMGarbage(t *testing.T) {
	_, err := UnmarshalPrivateKeyPEM([]byte("not pem"))
	assert.ErrorIs(t, err, ErrPKCS8)

	_, err = UnmarshalPublicKeyPEM([]byte("-----BEGIN PUBLIC KEY-----\nZ29vZA==\n-----END PUBLIC KEY-----\n"))
	assert.ErrorIs(t, err, ErrPKCS8)
}
