package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewHash(t *testing.T) {
	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(i)
	}

	h, err := NewHash(data)
	require.NoError(t, err)
	require.Equal(t, data, h.Bytes())

	// Mutating the source must not affect the hash
	data[0] = 0xff
	require.Equal(t, byte(0), h[0])
}

func TestNewHashError(t *testing.T) {
	_, err := NewHash(make([]byte, 16))
	require.Error(t, err)
}

func TestMustNewHashPanics(t *testing.T) {
	require.Panics(t, func() { MustNewHash(make([]byte, 16)) })
}

func TestHashBytes(t *testing.T) {
	h := HashBytes([]byte("hello world"))
	require.Equal(t, h, HashBytes([]byte("hello world")))
	require.NotEqual(t, h, HashBytes([]byte("different")))
	require.False(t, h.IsZero())
	require.True(t, Hash{}.IsZero())
}

func TestQualifierRoundTrip(t *testing.T) {
	h := HashBytes([]byte("item"))
	q := Qualifier(h)
	require.NotContains(t, q, "=")

	back, err := ParseQualifier(q)
	require.NoError(t, err)
	require.Equal(t, h, back)

	_, err = ParseQualifier("not base64!")
	require.ErrorIs(t, err, ErrInvalidQualifier)
}

func TestXORHashes(t *testing.T) {
	a := HashBytes([]byte("a"))
	b := HashBytes([]byte("b"))

	require.Equal(t, a, XORHashes([]Hash{a}))
	require.Equal(t, Hash{}, XORHashes([]Hash{a, a}))
	require.Equal(t, XORHashes([]Hash{a, b}), XORHashes([]Hash{b, a}))
}

func TestKeySigVerify(t *testing.T) {
	priv := testKey(1)
	id := HashBytes([]byte("payload"))

	ks := SignID(priv, id)
	require.NoError(t, ks.Verify(id))
	require.ErrorIs(t, ks.Verify(HashBytes([]byte("other"))), ErrInvalidSignature)

	var missing *KeySig
	require.ErrorIs(t, missing.Verify(id), ErrMissingSignature)
}

func TestPublicKeyText(t *testing.T) {
	pk := PublicKeyOf(testKey(2))
	text, err := pk.MarshalText()
	require.NoError(t, err)

	var back PublicKey
	require.NoError(t, back.UnmarshalText(text))
	require.Equal(t, pk, back)
}
