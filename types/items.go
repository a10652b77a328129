package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// ItemType is the wire discriminant of a consensus item.
type ItemType uint32

const (
	ItemPriority      ItemType = 0xabcce01
	ItemCkptHash      ItemType = 0xabcce04
	ItemValidatorVote ItemType = 0xabcce05
	ItemCkptData      ItemType = 0xabcce06
	ItemMajorityVotes ItemType = 0xabcce07
	ItemMockCkptData  ItemType = 0xabcce08
	ItemCkpt          ItemType = 0xabcce09
)

func (t ItemType) String() string {
	switch t {
	case ItemPriority:
		return "PRIORITY"
	case ItemCkptHash:
		return "CKPT_HASH"
	case ItemValidatorVote:
		return "VALVOTE"
	case ItemCkptData:
		return "CKPT_DATA"
	case ItemMajorityVotes:
		return "MAJVOTES"
	case ItemMockCkptData:
		return "MOCK_CKPT_DATA"
	case ItemCkpt:
		return "CKPT"
	default:
		return fmt.Sprintf("ItemType(%#x)", uint32(t))
	}
}

// Item is anything the consensus layer gossips. The identifier is the hash
// of the type tag and the item's identity fields; the signature is never
// part of it.
type Item interface {
	ItemType() ItemType
	ID() Hash
	Qualifier() string
}

// SignedItem is an item carrying its author's signature over the identifier.
type SignedItem interface {
	Item
	Signer() (PublicKey, bool)
	VerifySignature() error
}

// StateItem is an item that belongs to one creation state.
type StateItem interface {
	Item
	ItemState() CreationState
}

func verifySigned(sig *KeySig, id Hash) error {
	if sig == nil {
		return ErrMissingSignature
	}
	return sig.Verify(id)
}

func signerOf(sig *KeySig) (PublicKey, bool) {
	if sig == nil {
		return PublicKey{}, false
	}
	return sig.PubKey, true
}

type priorityWire struct {
	State     CreationState
	PubKey    PublicKey
	Stake     Amount
	Proof     []byte
	Votes     uint64
	Signature *KeySig `rlp:"nil"`
}

type voteWire struct {
	State     CreationState
	VotedType uint32
	VotedID   *Hash `rlp:"nil"`
	PubKey    PublicKey
	Signature *KeySig `rlp:"nil"`
}

type majorityWire struct {
	State   CreationState
	Votes   []Hash
	VotedID *Hash `rlp:"nil"`
}

type ckptHashWire struct {
	State     CreationState
	CkptID    Hash
	Signature *KeySig `rlp:"nil"`
}

type ckptDataWire struct {
	State      CreationState
	Checkpoint []byte
	Signature  *KeySig `rlp:"nil"`
}

type mockDataWire struct {
	State        CreationState
	Transactions [][]byte
	Signature    *KeySig `rlp:"nil"`
}

type ckptSyncWire struct {
	Checkpoint []byte
}

func itemBody(it Item) (interface{}, error) {
	switch v := it.(type) {
	case *Priority:
		return priorityWire{State: v.State, PubKey: v.PubKey, Stake: v.Stake, Proof: v.Proof, Votes: v.Votes, Signature: v.Signature}, nil
	case *ValidatorVote:
		return voteWire{State: v.State, VotedType: uint32(v.VotedType), VotedID: v.VotedID, PubKey: v.PubKey, Signature: v.Signature}, nil
	case *MajorityVotes:
		return majorityWire{State: v.State, Votes: v.Votes, VotedID: v.VotedID}, nil
	case *CkptHash:
		return ckptHashWire{State: v.State, CkptID: v.CkptID, Signature: v.Signature}, nil
	case *CkptData:
		enc, err := EncodeNode(v.Checkpoint)
		if err != nil {
			return nil, err
		}
		return ckptDataWire{State: v.State, Checkpoint: enc, Signature: v.Signature}, nil
	case *MockCkptData:
		txs := make([][]byte, len(v.Transactions))
		for i, tx := range v.Transactions {
			enc, err := EncodeNode(tx)
			if err != nil {
				return nil, err
			}
			txs[i] = enc
		}
		return mockDataWire{State: v.State, Transactions: txs, Signature: v.Signature}, nil
	case *CkptSync:
		enc, err := EncodeNode(v.Checkpoint)
		if err != nil {
			return nil, err
		}
		return ckptSyncWire{Checkpoint: enc}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownItemType, it)
	}
}

// EncodeItem returns the canonical wire encoding of an item.
func EncodeItem(it Item) ([]byte, error) {
	body, err := itemBody(it)
	if err != nil {
		return nil, err
	}
	raw, err := rlp.EncodeToBytes(body)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(envelope{Type: uint32(it.ItemType()), Body: raw})
}

// DecodeItem parses an item, dispatching on its type tag, and recomputes
// its identifier. Signatures are not verified here.
func DecodeItem(data []byte) (Item, error) {
	var env envelope
	if err := rlp.DecodeBytes(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}
	t := ItemType(env.Type)
	fail := func(err error) (Item, error) {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedItem, t, err)
	}
	switch t {
	case ItemPriority:
		var w priorityWire
		if err := rlp.DecodeBytes(env.Body, &w); err != nil {
			return fail(err)
		}
		p := NewPriority(w.State, w.PubKey, w.Stake, w.Proof, w.Votes)
		p.Signature = w.Signature
		return p, nil
	case ItemValidatorVote:
		var w voteWire
		if err := rlp.DecodeBytes(env.Body, &w); err != nil {
			return fail(err)
		}
		v := NewValidatorVote(w.State, ItemType(w.VotedType), w.VotedID, w.PubKey)
		v.Signature = w.Signature
		return v, nil
	case ItemMajorityVotes:
		var w majorityWire
		if err := rlp.DecodeBytes(env.Body, &w); err != nil {
			return fail(err)
		}
		return NewMajorityVotes(w.State, w.Votes, w.VotedID), nil
	case ItemCkptHash:
		var w ckptHashWire
		if err := rlp.DecodeBytes(env.Body, &w); err != nil {
			return fail(err)
		}
		h := NewCkptHash(w.State, w.CkptID)
		h.Signature = w.Signature
		return h, nil
	case ItemCkptData:
		var w ckptDataWire
		if err := rlp.DecodeBytes(env.Body, &w); err != nil {
			return fail(err)
		}
		c, err := DecodeCheckpoint(w.Checkpoint)
		if err != nil {
			return fail(err)
		}
		d := NewCkptData(w.State, c)
		d.Signature = w.Signature
		return d, nil
	case ItemMockCkptData:
		var w mockDataWire
		if err := rlp.DecodeBytes(env.Body, &w); err != nil {
			return fail(err)
		}
		txs := make([]*Transaction, 0, len(w.Transactions))
		for _, raw := range w.Transactions {
			n, err := DecodeNode(raw)
			if err != nil {
				return fail(err)
			}
			tx, ok := n.(*Transaction)
			if !ok {
				return fail(fmt.Errorf("expected transaction, got %s", n.Kind()))
			}
			txs = append(txs, tx)
		}
		m := NewMockCkptData(w.State, txs)
		m.Signature = w.Signature
		return m, nil
	case ItemCkpt:
		var w ckptSyncWire
		if err := rlp.DecodeBytes(env.Body, &w); err != nil {
			return fail(err)
		}
		c, err := DecodeCheckpoint(w.Checkpoint)
		if err != nil {
			return fail(err)
		}
		return NewCkptSync(c), nil
	default:
		return nil, fmt.Errorf("%w: %#x", ErrUnknownItemType, env.Type)
	}
}
