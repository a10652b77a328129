package sortition

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/blockberries/ckptberry/types"
)

// Errors
var (
	ErrInvalidProof   = errors.New("invalid vrf proof")
	ErrNoStake        = errors.New("no stake")
	ErrVotesMismatch  = errors.New("votes do not match sample")
	ErrStakeMismatch  = errors.New("stake does not match delegated stake")
	ErrBelowThreshold = errors.New("stake below participation threshold")
)

// alphaDigest hashes the prover input bound to a key.
func alphaDigest(alpha []byte, pk types.PublicKey) types.Hash {
	preimage := fmt.Sprintf(`["%s", "%s"]`, hex.EncodeToString(alpha), hex.EncodeToString(pk[:]))
	return types.HashBytes([]byte(preimage))
}

// Prove evaluates the VRF on alpha.
func Prove(priv ed25519.PrivateKey, alpha []byte) (types.VRFProof, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return types.VRFProof{}, fmt.Errorf("%w: private key is %d bytes", ErrInvalidProof, len(priv))
	}
	h := alphaDigest(alpha, types.PublicKeyOf(priv))
	return types.VRFProof{Hash: h, Sign: ed25519.Sign(priv, h[:])}, nil
}

// ProofToSample decodes an encoded proof and returns its sample without
// checking it.
func ProofToSample(proof []byte) (types.Sample, error) {
	p, err := types.ParseVRFProof(proof)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return p.Sample(), nil
}

// Verify checks an encoded proof for pk on alpha and returns its sample.
func Verify(pk types.PublicKey, proof []byte, alpha []byte) (types.Sample, error) {
	p, err := types.ParseVRFProof(proof)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if alphaDigest(alpha, pk) != p.Hash {
		return 0, fmt.Errorf("%w: proof does not match input", ErrInvalidProof)
	}
	if len(p.Sign) != ed25519.SignatureSize || !ed25519.Verify(ed25519.PublicKey(pk[:]), p.Hash[:], p.Sign) {
		return 0, fmt.Errorf("%w: bad signature", ErrInvalidProof)
	}
	return p.Sample(), nil
}
