package types

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Status is the step of a checkpoint creation round.
type Status uint8

const (
	StatusAgreeValidator Status = 1
	StatusAgreeHash      Status = 2
	StatusAgreeContent   Status = 3
	StatusCommitted      Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusAgreeValidator:
		return "AGREE_VALIDATOR"
	case StatusAgreeHash:
		return "AGREE_HASH"
	case StatusAgreeContent:
		return "AGREE_CONTENT"
	case StatusCommitted:
		return "COMMITTED"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// VotedType returns the item type validators vote on in this step.
func (s Status) VotedType() ItemType {
	switch s {
	case StatusAgreeValidator:
		return ItemPriority
	case StatusAgreeHash:
		return ItemCkptHash
	case StatusAgreeContent:
		return ItemCkptData
	default:
		return 0
	}
}

// CreationState identifies one step of one round of checkpoint creation.
// Two validators agree on a state only when every field matches.
type CreationState struct {
	LastCommonString Hash
	Round            uint32
	Status           Status
	ChosenValidator  *PublicKey `rlp:"nil"`
	ContentHash      *Hash      `rlp:"nil"`
}

// NewCreationState returns round 0 of AGREE_VALIDATOR on top of the given
// common string, which is the identifier of the latest checkpoint.
func NewCreationState(lastCommonString Hash) CreationState {
	return CreationState{LastCommonString: lastCommonString, Status: StatusAgreeValidator}
}

// CommonString is the VRF input of the round: the last common string hashed
// Round+1 times.
func (s CreationState) CommonString() Hash {
	cs := s.LastCommonString
	for i := uint32(0); i <= s.Round; i++ {
		cs = HashBytes(cs[:])
	}
	return cs
}

// Equal compares every field.
func (s CreationState) Equal(o CreationState) bool {
	if s.LastCommonString != o.LastCommonString || s.Round != o.Round || s.Status != o.Status {
		return false
	}
	if (s.ChosenValidator == nil) != (o.ChosenValidator == nil) {
		return false
	}
	if s.ChosenValidator != nil && *s.ChosenValidator != *o.ChosenValidator {
		return false
	}
	if (s.ContentHash == nil) != (o.ContentHash == nil) {
		return false
	}
	return s.ContentHash == nil || *s.ContentHash == *o.ContentHash
}

// Key returns a comparable value for use as a map key.
func (s CreationState) Key() StateKey {
	k := StateKey{LastCommonString: s.LastCommonString, Round: s.Round, Status: s.Status}
	if s.ChosenValidator != nil {
		k.ChosenValidator = *s.ChosenValidator
		k.HasValidator = true
	}
	if s.ContentHash != nil {
		k.ContentHash = *s.ContentHash
		k.HasContent = true
	}
	return k
}

// StateKey is the comparable form of a CreationState.
type StateKey struct {
	LastCommonString Hash
	Round            uint32
	Status           Status
	ChosenValidator  PublicKey
	HasValidator     bool
	ContentHash      Hash
	HasContent       bool
}

// IsNewCheckpointRound reports round 0 of AGREE_VALIDATOR.
func (s CreationState) IsNewCheckpointRound() bool {
	return s.Round == 0 && s.Status == StatusAgreeValidator
}

// NextRound returns AGREE_VALIDATOR of the following round. The chosen
// validator and content hash are cleared.
func (s CreationState) NextRound() CreationState {
	return CreationState{LastCommonString: s.LastCommonString, Round: s.Round + 1, Status: StatusAgreeValidator}
}

// WithValidator advances AGREE_VALIDATOR to AGREE_HASH.
func (s CreationState) WithValidator(pk PublicKey) CreationState {
	n := s.clone()
	n.Status = StatusAgreeHash
	n.ChosenValidator = &pk
	n.ContentHash = nil
	return n
}

// WithContentHash advances AGREE_HASH to AGREE_CONTENT.
func (s CreationState) WithContentHash(h Hash) CreationState {
	n := s.clone()
	n.Status = StatusAgreeContent
	n.ContentHash = &h
	return n
}

// Committed marks the state terminal.
func (s CreationState) Committed() CreationState {
	n := s.clone()
	n.Status = StatusCommitted
	return n
}

func (s CreationState) clone() CreationState {
	n := s
	if s.ChosenValidator != nil {
		v := *s.ChosenValidator
		n.ChosenValidator = &v
	}
	if s.ContentHash != nil {
		h := *s.ContentHash
		n.ContentHash = &h
	}
	return n
}

func (s CreationState) String() string {
	cv, ch := "-", "-"
	if s.ChosenValidator != nil {
		cv = s.ChosenValidator.Short()
	}
	if s.ContentHash != nil {
		ch = s.ContentHash.Short()
	}
	return fmt.Sprintf("State{%s r=%d %s val=%s hash=%s}", s.LastCommonString.Short(), s.Round, s.Status, cv, ch)
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s CreationState) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("last_common_string", s.LastCommonString.Short())
	enc.AddUint32("round", s.Round)
	enc.AddString("status", s.Status.String())
	if s.ChosenValidator != nil {
		enc.AddString("chosen_validator", s.ChosenValidator.Short())
	}
	if s.ContentHash != nil {
		enc.AddString("content_hash", s.ContentHash.Short())
	}
	return nil
}
