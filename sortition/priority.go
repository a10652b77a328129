package sortition

import (
	"crypto/ed25519"
	"fmt"

	"github.com/blockberries/ckptberry/types"
)

// Signer proves and signs for one validator key.
type Signer interface {
	PubKey() types.PublicKey
	ProveVRF(alpha []byte) (types.VRFProof, error)
	SignPriority(p *types.Priority) error
}

// KeySigner is a Signer over a bare key.
type KeySigner struct {
	priv ed25519.PrivateKey
}

// NewKeySigner wraps priv.
func NewKeySigner(priv ed25519.PrivateKey) *KeySigner {
	return &KeySigner{priv: priv}
}

// PubKey implements Signer.
func (k *KeySigner) PubKey() types.PublicKey { return types.PublicKeyOf(k.priv) }

// ProveVRF implements Signer.
func (k *KeySigner) ProveVRF(alpha []byte) (types.VRFProof, error) { return Prove(k.priv, alpha) }

// SignPriority implements Signer.
func (k *KeySigner) SignPriority(p *types.Priority) error {
	p.Sign(k.priv)
	return nil
}

// ComputePriority runs sortition for the signer's key in state and returns
// the signed priority.
func ComputePriority(state types.CreationState, signer Signer, stake types.Amount) (*types.Priority, error) {
	if stake.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrNoStake, signer.PubKey().Short())
	}
	cs := state.CommonString()
	proof, err := signer.ProveVRF(cs[:])
	if err != nil {
		return nil, err
	}
	votes := Votes(proof.Sample(), stake)
	p := types.NewPriority(state, signer.PubKey(), stake, proof.Marshal(), votes)
	if err := signer.SignPriority(p); err != nil {
		return nil, err
	}
	return p, nil
}

// VerifyPriority accepts a received priority when it is signed by its key,
// claims exactly the key's delegated stake, exceeds the participation
// threshold, and carries a valid proof and vote count for its state.
func VerifyPriority(p *types.Priority, delegated, threshold types.Amount) error {
	if err := p.VerifySignature(); err != nil {
		return err
	}
	if !p.Stake.Equal(delegated) {
		return fmt.Errorf("%w: claimed %s, delegated %s", ErrStakeMismatch, p.Stake, delegated)
	}
	if p.Stake.Cmp(threshold) <= 0 {
		return fmt.Errorf("%w: %s <= %s", ErrBelowThreshold, p.Stake, threshold)
	}
	cs := p.State.CommonString()
	sample, err := Verify(p.PubKey, p.Proof, cs[:])
	if err != nil {
		return err
	}
	if !VerifyVotes(sample, p.Stake, p.Votes) {
		return fmt.Errorf("%w: %d votes for sample %d", ErrVotesMismatch, p.Votes, sample)
	}
	return nil
}
