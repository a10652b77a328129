package types

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// NodeKind is the wire discriminant of a DAG node. Kinds double as the tag
// prefixed to a node's identity encoding.
type NodeKind uint32

const (
	KindGenesis     NodeKind = 0xdac0001
	KindTransaction NodeKind = 0xdac0002
	KindAcknowledge NodeKind = 0xdac0003
	KindCheckpoint  NodeKind = 0xdac0004
)

func (k NodeKind) String() string {
	switch k {
	case KindGenesis:
		return "genesis"
	case KindTransaction:
		return "transaction"
	case KindAcknowledge:
		return "acknowledge"
	case KindCheckpoint:
		return "checkpoint"
	default:
		return fmt.Sprintf("kind(%#x)", uint32(k))
	}
}

// Node is a vertex of the ledger DAG.
type Node interface {
	ID() Hash
	Kind() NodeKind
	// Parents are the identifiers the node references and that must be
	// present before the node counts as confirmed.
	Parents() []Hash
}

// Errors
var (
	ErrMalformedItem   = errors.New("malformed item")
	ErrUnknownItemType = errors.New("unknown item type")
)

type envelope struct {
	Type uint32
	Body []byte
}

type genesisWire struct {
	Seed    []byte
	Outputs []outputIdentity
}

type txWire struct {
	Inputs     []inputIdentity
	Outputs    []outputIdentity
	Validator  *PublicKey `rlp:"nil"`
	Signatures []KeySig
}

type ackWire struct {
	TxID      Hash
	PrevAck   *Hash `rlp:"nil"`
	Validator PublicKey
	Signature []byte
}

type checkpointWire struct {
	Origin     Hash
	Height     uint64
	LockTime   uint64
	AckLength  uint32
	UTXOs      []inputIdentity
	Outputs    []outputIdentity
	Stake      []StakeEntry
	NUTXO      uint64
	TotalStake Amount
	TotalCoins Amount
	Miner      PublicKey
}

func fromInputs(ids []inputIdentity) []Wallet {
	if len(ids) == 0 {
		return nil
	}
	out := make([]Wallet, len(ids))
	for i, in := range ids {
		out[i] = Wallet{Origin: in.Origin, Index: in.Index, Owner: in.Owner, Value: in.Value}
	}
	return out
}

func fromOutputs(ids []outputIdentity) []Wallet {
	if len(ids) == 0 {
		return nil
	}
	out := make([]Wallet, len(ids))
	for i, o := range ids {
		out[i] = NewWallet(o.Owner, o.Value)
	}
	return out
}

func nodeBody(n Node) (interface{}, error) {
	switch v := n.(type) {
	case *Genesis:
		return genesisWire{Seed: v.Seed, Outputs: outputIdentities(v.Outputs)}, nil
	case *Transaction:
		return txWire{
			Inputs:     inputIdentities(v.Inputs),
			Outputs:    outputIdentities(v.Outputs),
			Validator:  v.Validator,
			Signatures: v.Signatures,
		}, nil
	case *Acknowledge:
		return ackWire{TxID: v.TxID, PrevAck: v.PrevAck, Validator: v.Validator, Signature: v.Signature}, nil
	case *Checkpoint:
		return checkpointWire{
			Origin:     v.Origin,
			Height:     v.Height,
			LockTime:   v.LockTime,
			AckLength:  v.AckLength,
			UTXOs:      inputIdentities(v.UTXOs),
			Outputs:    outputIdentities(v.Outputs),
			Stake:      v.Stake,
			NUTXO:      v.NUTXO,
			TotalStake: v.TotalStake,
			TotalCoins: v.TotalCoins,
			Miner:      v.Miner,
		}, nil
	default:
		return nil, fmt.Errorf("%w: node %T", ErrUnknownItemType, n)
	}
}

// EncodeNode returns the canonical wire encoding of a node.
func EncodeNode(n Node) ([]byte, error) {
	body, err := nodeBody(n)
	if err != nil {
		return nil, err
	}
	raw, err := rlp.EncodeToBytes(body)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(envelope{Type: uint32(n.Kind()), Body: raw})
}

// DecodeNode parses a node and recomputes its identifier.
func DecodeNode(data []byte) (Node, error) {
	var env envelope
	if err := rlp.DecodeBytes(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}
	switch NodeKind(env.Type) {
	case KindGenesis:
		var w genesisWire
		if err := rlp.DecodeBytes(env.Body, &w); err != nil {
			return nil, fmt.Errorf("%w: genesis: %v", ErrMalformedItem, err)
		}
		return NewGenesis(w.Seed, fromOutputs(w.Outputs)), nil
	case KindTransaction:
		var w txWire
		if err := rlp.DecodeBytes(env.Body, &w); err != nil {
			return nil, fmt.Errorf("%w: transaction: %v", ErrMalformedItem, err)
		}
		tx := NewTransaction(fromInputs(w.Inputs), fromOutputs(w.Outputs), w.Validator)
		if len(w.Signatures) > 0 {
			tx.Signatures = w.Signatures
		}
		return tx, nil
	case KindAcknowledge:
		var w ackWire
		if err := rlp.DecodeBytes(env.Body, &w); err != nil {
			return nil, fmt.Errorf("%w: acknowledge: %v", ErrMalformedItem, err)
		}
		ack := NewAcknowledge(w.TxID, w.PrevAck, w.Validator)
		if len(w.Signature) > 0 {
			ack.Signature = w.Signature
		}
		return ack, nil
	case KindCheckpoint:
		var w checkpointWire
		if err := rlp.DecodeBytes(env.Body, &w); err != nil {
			return nil, fmt.Errorf("%w: checkpoint: %v", ErrMalformedItem, err)
		}
		return checkpointFromWire(w), nil
	default:
		return nil, fmt.Errorf("%w: node kind %#x", ErrUnknownItemType, env.Type)
	}
}

func checkpointFromWire(w checkpointWire) *Checkpoint {
	c := &Checkpoint{
		Origin:     w.Origin,
		Height:     w.Height,
		LockTime:   w.LockTime,
		AckLength:  w.AckLength,
		UTXOs:      fromInputs(w.UTXOs),
		Outputs:    fromOutputs(w.Outputs),
		NUTXO:      w.NUTXO,
		TotalStake: w.TotalStake,
		TotalCoins: w.TotalCoins,
		Miner:      w.Miner,
	}
	if len(w.Stake) > 0 {
		c.Stake = w.Stake
	}
	c.Seal()
	return c
}

// EncodeCheckpoint is EncodeNode for callers that hold a concrete checkpoint.
func EncodeCheckpoint(c *Checkpoint) ([]byte, error) {
	return EncodeNode(c)
}

// DecodeCheckpoint decodes a node and requires it to be a checkpoint.
func DecodeCheckpoint(data []byte) (*Checkpoint, error) {
	n, err := DecodeNode(data)
	if err != nil {
		return nil, err
	}
	c, ok := n.(*Checkpoint)
	if !ok {
		return nil, fmt.Errorf("%w: expected checkpoint, got %s", ErrMalformedItem, n.Kind())
	}
	return c, nil
}
