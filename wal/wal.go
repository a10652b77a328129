package wal

import (
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/blockberries/ckptberry/types"
)

// Errors
var (
	ErrWALClosed    = errors.New("WAL is closed")
	ErrWALCorrupted = errors.New("WAL is corrupted")
	ErrWALNotFound  = errors.New("WAL file not found")
	ErrUnexpected   = errors.New("unexpected WAL message type")
)

// MessageType identifies the type of WAL message
type MessageType uint8

const (
	MsgTypeUnknown MessageType = iota
	MsgTypeTransition
	MsgTypeVote
	MsgTypeProposal
	MsgTypeCommit
)

func (t MessageType) String() string {
	switch t {
	case MsgTypeTransition:
		return "transition"
	case MsgTypeVote:
		return "vote"
	case MsgTypeProposal:
		return "proposal"
	case MsgTypeCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// Message is one WAL entry. Height is the checkpoint height being created.
type Message struct {
	Type   MessageType
	Height uint64
	Round  uint32
	Data   []byte
}

// Transition is the payload of MsgTypeTransition.
type Transition struct {
	Prev  types.CreationState
	Next  types.CreationState
	Votes uint32
}

// WAL is the write-ahead log used by the engine.
type WAL interface {
	// Write appends msg to the buffer.
	Write(msg *Message) error

	// WriteSync appends msg and syncs it to disk.
	WriteSync(msg *Message) error

	// FlushAndSync flushes and syncs all pending writes
	FlushAndSync() error

	// SearchForCommit returns a Reader positioned after the commit of height,
	// or false when there is none.
	SearchForCommit(height uint64) (Reader, bool, error)

	Start() error
	Stop() error
}

// Reader reads entries in write order.
type Reader interface {
	// Read returns io.EOF after the last entry.
	Read() (*Message, error)
	Close() error
}

func encodeMessage(m *Message) ([]byte, error) {
	return rlp.EncodeToBytes(m)
}

func decodeMessage(data []byte) (*Message, error) {
	m := new(Message)
	if err := rlp.DecodeBytes(data, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWALCorrupted, err)
	}
	return m, nil
}

// NewTransitionMessage logs a state change toward checkpoint height.
func NewTransitionMessage(height uint64, prev, next types.CreationState, votes int) (*Message, error) {
	data, err := rlp.EncodeToBytes(&Transition{Prev: prev, Next: next, Votes: uint32(votes)})
	if err != nil {
		return nil, err
	}
	return &Message{Type: MsgTypeTransition, Height: height, Round: next.Round, Data: data}, nil
}

// NewVoteMessage logs an own vote.
func NewVoteMessage(height uint64, vote *types.ValidatorVote) (*Message, error) {
	data, err := types.EncodeItem(vote)
	if err != nil {
		return nil, err
	}
	return &Message{Type: MsgTypeVote, Height: height, Round: vote.State.Round, Data: data}, nil
}

// NewProposalMessage logs an own proposal.
func NewProposalMessage(height uint64, item types.StateItem) (*Message, error) {
	data, err := types.EncodeItem(item)
	if err != nil {
		return nil, err
	}
	return &Message{Type: MsgTypeProposal, Height: height, Round: item.ItemState().Round, Data: data}, nil
}

// NewCommitMessage marks the end of a checkpoint height.
func NewCommitMessage(ckpt *types.Checkpoint) (*Message, error) {
	data, err := types.EncodeCheckpoint(ckpt)
	if err != nil {
		return nil, err
	}
	return &Message{Type: MsgTypeCommit, Height: ckpt.Height, Data: data}, nil
}

// DecodeTransition decodes a MsgTypeTransition payload.
func DecodeTransition(m *Message) (*Transition, error) {
	if m.Type != MsgTypeTransition {
		return nil, fmt.Errorf("%w: %s", ErrUnexpected, m.Type)
	}
	t := new(Transition)
	if err := rlp.DecodeBytes(m.Data, t); err != nil {
		return nil, fmt.Errorf("%w: transition: %v", ErrWALCorrupted, err)
	}
	return t, nil
}

// DecodeVote decodes a MsgTypeVote payload.
func DecodeVote(m *Message) (*types.ValidatorVote, error) {
	if m.Type != MsgTypeVote {
		return nil, fmt.Errorf("%w: %s", ErrUnexpected, m.Type)
	}
	it, err := types.DecodeItem(m.Data)
	if err != nil {
		return nil, err
	}
	v, ok := it.(*types.ValidatorVote)
	if !ok {
		return nil, fmt.Errorf("%w: vote entry holds %s", ErrWALCorrupted, it.ItemType())
	}
	return v, nil
}

// DecodeProposal decodes a MsgTypeProposal payload.
func DecodeProposal(m *Message) (types.StateItem, error) {
	if m.Type != MsgTypeProposal {
		return nil, fmt.Errorf("%w: %s", ErrUnexpected, m.Type)
	}
	it, err := types.DecodeItem(m.Data)
	if err != nil {
		return nil, err
	}
	si, ok := it.(types.StateItem)
	if !ok {
		return nil, fmt.Errorf("%w: proposal entry holds %s", ErrWALCorrupted, it.ItemType())
	}
	return si, nil
}

// DecodeCommit decodes a MsgTypeCommit payload.
func DecodeCommit(m *Message) (*types.Checkpoint, error) {
	if m.Type != MsgTypeCommit {
		return nil, fmt.Errorf("%w: %s", ErrUnexpected, m.Type)
	}
	return types.DecodeCheckpoint(m.Data)
}

// NopWAL discards everything.
type NopWAL struct{}

func (w *NopWAL) Write(msg *Message) error                            { return nil }
func (w *NopWAL) WriteSync(msg *Message) error                        { return nil }
func (w *NopWAL) FlushAndSync() error                                 { return nil }
func (w *NopWAL) SearchForCommit(height uint64) (Reader, bool, error) { return nil, false, nil }
func (w *NopWAL) Start() error                                        { return nil }
func (w *NopWAL) Stop() error                                         { return nil }

var _ WAL = (*NopWAL)(nil)

// NopReader is an empty reader.
type NopReader struct{}

func (r *NopReader) Read() (*Message, error) { return nil, io.EOF }
func (r *NopReader) Close() error            { return nil }

var _ Reader = (*NopReader)(nil)
