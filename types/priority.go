package types

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"go.uber.org/zap/zapcore"
)

// ErrPriorityTie is returned when two distinct priorities from the same key
// cannot be ordered.
var ErrPriorityTie = errors.New("priorities from the same key cannot be ordered")

// Priority is a validator's sortition result for one round: its stake, the
// VRF proof over the round's common string, and the votes sortition granted.
type Priority struct {
	State     CreationState
	PubKey    PublicKey
	Stake     Amount
	Proof     []byte
	Votes     uint64
	Signature *KeySig

	id Hash
}

type priorityIdentity struct {
	State  CreationState
	PubKey PublicKey
	Stake  Amount
	Proof  []byte
	Votes  uint64
}

// NewPriority builds an unsigned priority.
func NewPriority(state CreationState, pk PublicKey, stake Amount, proof []byte, votes uint64) *Priority {
	p := &Priority{
		State:  state.clone(),
		PubKey: pk,
		Stake:  stake,
		Proof:  append([]byte(nil), proof...),
		Votes:  votes,
	}
	p.id = identityHash(uint32(ItemPriority), priorityIdentity{
		State: p.State, PubKey: p.PubKey, Stake: p.Stake, Proof: p.Proof, Votes: p.Votes,
	})
	return p
}

// ItemType implements Item.
func (p *Priority) ItemType() ItemType { return ItemPriority }

// ID implements Item.
func (p *Priority) ID() Hash { return p.id }

// Qualifier implements Item.
func (p *Priority) Qualifier() string { return Qualifier(p.id) }

// ItemState implements StateItem.
func (p *Priority) ItemState() CreationState { return p.State }

// Sign signs the identifier.
func (p *Priority) Sign(priv ed25519.PrivateKey) {
	ks := SignID(priv, p.id)
	p.Signature = &ks
}

// Signer implements SignedItem.
func (p *Priority) Signer() (PublicKey, bool) { return signerOf(p.Signature) }

// VerifySignature checks the signature and that it was made by PubKey.
func (p *Priority) VerifySignature() error {
	if err := verifySigned(p.Signature, p.id); err != nil {
		return err
	}
	if p.Signature.PubKey != p.PubKey {
		return fmt.Errorf("%w: priority signed by %s, not %s", ErrInvalidSignature, p.Signature.PubKey.Short(), p.PubKey.Short())
	}
	return nil
}

// VRF decodes the proof.
func (p *Priority) VRF() (VRFProof, error) {
	return ParseVRFProof(p.Proof)
}

// IsGreaterThan is a strict total order over priorities of one round: more
// votes wins, then the smaller VRF sample, then the smaller raw VRF hash,
// then the larger public key.
func (p *Priority) IsGreaterThan(o *Priority) (bool, error) {
	if o == nil {
		return true, nil
	}
	if p.id == o.id {
		return false, nil
	}
	if p.Votes != o.Votes {
		return p.Votes > o.Votes, nil
	}
	pv, err := p.VRF()
	if err != nil {
		return false, err
	}
	ov, err := o.VRF()
	if err != nil {
		return false, err
	}
	if mine, theirs := pv.Sample(), ov.Sample(); mine != theirs {
		return mine < theirs, nil
	}
	if c := bytes.Compare(pv.Hash[:], ov.Hash[:]); c != 0 {
		return c < 0, nil
	}
	c := p.PubKey.Compare(o.PubKey)
	if c == 0 {
		return false, fmt.Errorf("%w: %s", ErrPriorityTie, p.PubKey.Short())
	}
	return c > 0, nil
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (p *Priority) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", p.id.Short())
	enc.AddString("pub_key", p.PubKey.Short())
	enc.AddString("stake", p.Stake.String())
	enc.AddUint64("votes", p.Votes)
	return enc.AddObject("state", p.State)
}
