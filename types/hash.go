package types

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// HashSize is the expected size of a hash in bytes
const HashSize = 32

// SignatureSize is the expected size of a signature in bytes
const SignatureSize = ed25519.SignatureSize

// PublicKeySize is the expected size of a public key in bytes
const PublicKeySize = ed25519.PublicKeySize

// Errors
var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMissingSignature = errors.New("missing signature")
	ErrInvalidQualifier = errors.New("invalid qualifier")
)

// Hash is a SHA-512/256 digest. Every identifier in the ledger is a Hash.
type Hash [HashSize]byte

// PublicKey is an ed25519 public key.
type PublicKey [PublicKeySize]byte

// KeySig pairs a signature with the key that produced it.
type KeySig struct {
	PubKey PublicKey
	Sig    []byte
}

// NewHash creates a Hash from bytes, returning error if invalid.
// Use for untrusted input (network, files).
func NewHash(data []byte) (Hash, error) {
	var h Hash
	if len(data) != HashSize {
		return h, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(data))
	}
	copy(h[:], data)
	return h, nil
}

// MustNewHash creates a Hash, panicking if invalid.
// Use only for trusted internal data.
func MustNewHash(data []byte) Hash {
	h, err := NewHash(data)
	if err != nil {
		panic(err)
	}
	return h
}

// HashBytes computes the SHA-512/256 hash of data
func HashBytes(data []byte) Hash {
	return Hash(sha512.Sum512_256(data))
}

// IsZero returns true if every byte of the hash is zero
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Bytes returns a copy of the hash bytes
func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

// String returns hex-encoded hash
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first bytes of the hex encoding, for log lines.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:4])
}

// Less orders hashes by their bytes.
func (h Hash) Less(o Hash) bool {
	return bytes.Compare(h[:], o[:]) < 0
}

// Qualifier returns the network name of an identifier: unpadded URL-safe base64.
func Qualifier(id Hash) string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// ParseQualifier is the inverse of Qualifier.
func ParseQualifier(q string) (Hash, error) {
	raw, err := base64.RawURLEncoding.DecodeString(q)
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %v", ErrInvalidQualifier, err)
	}
	h, err := NewHash(raw)
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %v", ErrInvalidQualifier, err)
	}
	return h, nil
}

// XORHashes folds a list of identifiers with bytewise XOR.
func XORHashes(ids []Hash) Hash {
	var out Hash
	for _, id := range ids {
		for i := range out {
			out[i] ^= id[i]
		}
	}
	return out
}

// NewPublicKey creates a PublicKey from bytes, returning error if invalid.
func NewPublicKey(data []byte) (PublicKey, error) {
	var pk PublicKey
	if len(data) != PublicKeySize {
		return pk, fmt.Errorf("public key must be %d bytes, got %d", PublicKeySize, len(data))
	}
	copy(pk[:], data)
	return pk, nil
}

// MustNewPublicKey creates a PublicKey, panicking if invalid.
func MustNewPublicKey(data []byte) PublicKey {
	pk, err := NewPublicKey(data)
	if err != nil {
		panic(err)
	}
	return pk
}

// PublicKeyOf extracts the public half of an ed25519 private key.
func PublicKeyOf(priv ed25519.PrivateKey) PublicKey {
	return MustNewPublicKey(priv.Public().(ed25519.PublicKey))
}

// IsZero returns true for the all-zero key.
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// String returns the hex-encoded key.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

// Short returns a prefix of the hex encoding, for log lines.
func (pk PublicKey) Short() string {
	return hex.EncodeToString(pk[:4])
}

// Compare orders keys by their bytes.
func (pk PublicKey) Compare(o PublicKey) int {
	return bytes.Compare(pk[:], o[:])
}

// MarshalText encodes the key as hex.
func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

// UnmarshalText decodes a hex key.
func (pk *PublicKey) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	k, err := NewPublicKey(raw)
	if err != nil {
		return err
	}
	*pk = k
	return nil
}

// MarshalText encodes the hash as hex.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText decodes a hex hash.
func (h *Hash) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	v, err := NewHash(raw)
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// SignID signs an identifier.
func SignID(priv ed25519.PrivateKey, id Hash) KeySig {
	return KeySig{
		PubKey: PublicKeyOf(priv),
		Sig:    ed25519.Sign(priv, id[:]),
	}
}

// Verify checks the signature over id.
func (ks *KeySig) Verify(id Hash) error {
	if ks == nil || len(ks.Sig) == 0 {
		return ErrMissingSignature
	}
	if len(ks.Sig) != SignatureSize {
		return fmt.Errorf("%w: signature is %d bytes", ErrInvalidSignature, len(ks.Sig))
	}
	if !ed25519.Verify(ed25519.PublicKey(ks.PubKey[:]), id[:], ks.Sig) {
		return ErrInvalidSignature
	}
	return nil
}

// identityHash hashes a type tag followed by the RLP encoding of v.
// v is always one of the package's fixed identity layouts, so an encoding
// failure is a programming error.
func identityHash(tag uint32, v interface{}) Hash {
	enc, err := rlp.EncodeToBytes(v)
	if err != nil {
		panic(fmt.Sprintf("CONSENSUS CRITICAL: failed to encode identity: %v", err))
	}
	buf := make([]byte, 4, 4+len(enc))
	buf[0] = byte(tag >> 24)
	buf[1] = byte(tag >> 16)
	buf[2] = byte(tag >> 8)
	buf[3] = byte(tag)
	return HashBytes(append(buf, enc...))
}
