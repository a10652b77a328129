package types

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap/zapcore"
)

// Errors
var (
	ErrInvalidVote        = errors.New("invalid vote")
	ErrVoteConflict       = errors.New("conflicting vote")
	ErrDuplicateVote      = errors.New("duplicate vote")
	ErrUnexpectedVoteType = errors.New("unexpected vote type")
)

// ValidatorVote is one key's vote in one creation state. A nil VotedID is a
// PASS vote.
type ValidatorVote struct {
	State     CreationState
	VotedType ItemType
	VotedID   *Hash
	PubKey    PublicKey
	Signature *KeySig

	id Hash
}

type voteIdentity struct {
	State     CreationState
	VotedType uint32
	VotedID   *Hash `rlp:"nil"`
	PubKey    PublicKey
}

// NewValidatorVote builds an unsigned vote.
func NewValidatorVote(state CreationState, votedType ItemType, votedID *Hash, pk PublicKey) *ValidatorVote {
	v := &ValidatorVote{State: state.clone(), VotedType: votedType, PubKey: pk}
	if votedID != nil {
		id := *votedID
		v.VotedID = &id
	}
	v.id = identityHash(uint32(ItemValidatorVote), voteIdentity{
		State: v.State, VotedType: uint32(v.VotedType), VotedID: v.VotedID, PubKey: v.PubKey,
	})
	return v
}

// ItemType implements Item.
func (v *ValidatorVote) ItemType() ItemType { return ItemValidatorVote }

// ID implements Item.
func (v *ValidatorVote) ID() Hash { return v.id }

// Qualifier implements Item.
func (v *ValidatorVote) Qualifier() string { return Qualifier(v.id) }

// ItemState implements StateItem.
func (v *ValidatorVote) ItemState() CreationState { return v.State }

// IsPass reports a PASS vote.
func (v *ValidatorVote) IsPass() bool { return v.VotedID == nil }

// Sign signs the identifier. The key must be the vote's PubKey.
func (v *ValidatorVote) Sign(priv ed25519.PrivateKey) error {
	if PublicKeyOf(priv) != v.PubKey {
		return fmt.Errorf("%w: signing key is not the voting key", ErrInvalidVote)
	}
	ks := SignID(priv, v.id)
	v.Signature = &ks
	return nil
}

// Signer implements SignedItem.
func (v *ValidatorVote) Signer() (PublicKey, bool) { return signerOf(v.Signature) }

// VerifySignature checks the signature and that the voter signed it.
func (v *ValidatorVote) VerifySignature() error {
	if err := verifySigned(v.Signature, v.id); err != nil {
		return err
	}
	if v.Signature.PubKey != v.PubKey {
		return fmt.Errorf("%w: vote signed by %s, not %s", ErrInvalidSignature, v.Signature.PubKey.Short(), v.PubKey.Short())
	}
	return nil
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (v *ValidatorVote) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", v.id.Short())
	enc.AddString("voter", v.PubKey.Short())
	enc.AddString("type", v.VotedType.String())
	if v.VotedID != nil {
		enc.AddString("voted", v.VotedID.Short())
	} else {
		enc.AddString("voted", "PASS")
	}
	return enc.AddObject("state", v.State)
}

// MajorityVotes announces that the listed votes form a stake majority for
// VotedID (nil for PASS) in State. It is not signed: each vote it lists is.
type MajorityVotes struct {
	State   CreationState
	Votes   []Hash
	VotedID *Hash

	id Hash
}

// NewMajorityVotes builds a majority announcement. The vote list is sorted.
func NewMajorityVotes(state CreationState, votes []Hash, votedID *Hash) *MajorityVotes {
	m := &MajorityVotes{State: state.clone()}
	if len(votes) > 0 {
		m.Votes = append([]Hash(nil), votes...)
		sort.Slice(m.Votes, func(i, j int) bool { return m.Votes[i].Less(m.Votes[j]) })
	}
	if votedID != nil {
		id := *votedID
		m.VotedID = &id
	}
	m.id = identityHash(uint32(ItemMajorityVotes), majorityWire{State: m.State, Votes: m.Votes, VotedID: m.VotedID})
	return m
}

// ItemType implements Item.
func (m *MajorityVotes) ItemType() ItemType { return ItemMajorityVotes }

// ID implements Item.
func (m *MajorityVotes) ID() Hash { return m.id }

// Qualifier implements Item.
func (m *MajorityVotes) Qualifier() string { return Qualifier(m.id) }

// ItemState implements StateItem.
func (m *MajorityVotes) ItemState() CreationState { return m.State }

// IsPass reports a PASS majority.
func (m *MajorityVotes) IsPass() bool { return m.VotedID == nil }
