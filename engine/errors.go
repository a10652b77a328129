package engine

import "errors"

// Consensus errors
var (
	ErrNotStarted         = errors.New("consensus not started")
	ErrAlreadyStarted     = errors.New("consensus already started")
	ErrCreationTimedOut   = errors.New("checkpoint creation timed out")
	ErrIdle               = errors.New("engine idle after creation timeout")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrTwoMajorities      = errors.New("two outcomes hold a majority")
	ErrWrongState         = errors.New("item belongs to another state")
	ErrUnexpectedVoteType = errors.New("vote type does not match the step")
	ErrUnknownItemType    = errors.New("unknown item type")
	ErrNotChosen          = errors.New("item not signed by the chosen validator")
	ErrContentMismatch    = errors.New("content does not match the agreed hash")
	ErrContentMode        = errors.New("content item does not match the content mode")
	ErrNoStakeTable       = errors.New("no stake table")
	ErrOrphanCheckpoint   = errors.New("checkpoint origin is not known")
	ErrForkedCheckpoint   = errors.New("checkpoint extends an older checkpoint")
	ErrRejectedCheckpoint = errors.New("checkpoint does not rebuild from the local DAG")
	ErrWALWrite           = errors.New("WAL write failed")
	ErrWALReplay          = errors.New("WAL replay failed")
	ErrInvalidConfig      = errors.New("invalid consensus config")
)
