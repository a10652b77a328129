package privval

import (
	"errors"

	"github.com/blockberries/ckptberry/sortition"
	"github.com/blockberries/ckptberry/types"
)

// Errors
var (
	ErrDoubleSign       = errors.New("double sign attempt")
	ErrRoundRegression  = errors.New("round regression")
	ErrStepRegression   = errors.New("step regression")
	ErrPassIsFinal      = errors.New("already voted PASS in this state")
	ErrUnsupportedItem  = errors.New("item cannot be signed as a proposal")
	ErrInvalidKeyFile   = errors.New("invalid key file")
	ErrInvalidStateFile = errors.New("invalid state file")
)

// PrivValidator signs consensus items for one key.
type PrivValidator interface {
	sortition.Signer

	// SignVote signs vote, refusing a conflicting vote for the same state.
	SignVote(vote *types.ValidatorVote) error

	// SignProposal signs a CkptHash, CkptData or MockCkptData, refusing a
	// different item of the same type for the same state.
	SignProposal(item types.StateItem) error
}

// LastSignState is the last vote signed.
type LastSignState struct {
	State     *types.CreationState `json:"state,omitempty"`
	VotedType types.ItemType       `json:"voted_type,omitempty"`
	VotedID   *types.Hash          `json:"voted_id,omitempty"`
	VoteID    *types.Hash          `json:"vote_id,omitempty"`
	Signature *types.KeySig        `json:"signature,omitempty"`
}

// LastProposal is the last proposal signed.
type LastProposal struct {
	State    *types.CreationState `json:"state,omitempty"`
	ItemType types.ItemType       `json:"item_type,omitempty"`
	ItemID   *types.Hash          `json:"item_id,omitempty"`
}

// CheckVote returns nil when vote may be signed and ErrDoubleSign or a
// regression error otherwise. A vote identical to the last one is allowed.
func (lss *LastSignState) CheckVote(vote *types.ValidatorVote) error {
	if lss.State == nil {
		return nil
	}
	last, next := *lss.State, vote.State
	if last.LastCommonString != next.LastCommonString {
		return nil
	}
	if next.Round < last.Round {
		return ErrRoundRegression
	}
	if next.Round > last.Round {
		return nil
	}
	if next.Status < last.Status {
		return ErrStepRegression
	}
	if !last.Equal(next) {
		return nil
	}

	if lss.VoteID != nil && *lss.VoteID == vote.ID() {
		return nil
	}
	switch {
	case lss.VotedID == nil:
		return ErrPassIsFinal
	case vote.IsPass():
		return nil
	default:
		return ErrDoubleSign
	}
}

// IsSameVote reports whether vote is the last vote signed.
func (lss *LastSignState) IsSameVote(vote *types.ValidatorVote) bool {
	return lss.VoteID != nil && *lss.VoteID == vote.ID()
}

func (lp *LastProposal) check(item types.StateItem) error {
	if lp.State == nil || !lp.State.Equal(item.ItemState()) || lp.ItemType != item.ItemType() {
		return nil
	}
	if lp.ItemID != nil && *lp.ItemID == item.ID() {
		return nil
	}
	return ErrDoubleSign
}
