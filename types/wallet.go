package types

import (
	"bytes"
	"sort"
)

// WalletState is the local spend state of a wallet. It is never part of an
// identity or wire encoding.
type WalletState uint8

const (
	WalletUnspent WalletState = iota
	WalletPending
	WalletSpent
)

func (s WalletState) String() string {
	switch s {
	case WalletUnspent:
		return "UNSPENT"
	case WalletPending:
		return "PENDING"
	case WalletSpent:
		return "SPENT"
	default:
		return "UNKNOWN"
	}
}

// Wallet is a single transaction output. It is identified by the node that
// produced it and its index among that node's outputs.
type Wallet struct {
	Owner  PublicKey
	Value  Amount
	Origin Hash
	Index  uint32
	State  WalletState `rlp:"-"`
}

// WalletRef identifies a wallet.
type WalletRef struct {
	Origin Hash
	Index  uint32
}

// NewWallet returns an output wallet whose origin is assigned later by the
// node that carries it.
func NewWallet(owner PublicKey, value Amount) Wallet {
	return Wallet{Owner: owner, Value: value}
}

// Ref returns the wallet's identity.
func (w Wallet) Ref() WalletRef {
	return WalletRef{Origin: w.Origin, Index: w.Index}
}

// Equal compares origin, index, owner and value. State is ignored.
func (w Wallet) Equal(o Wallet) bool {
	return w.Origin == o.Origin && w.Index == o.Index && w.Owner == o.Owner && w.Value.Equal(o.Value)
}

// Less orders wallets by origin, then index.
func (w Wallet) Less(o Wallet) bool {
	if c := bytes.Compare(w.Origin[:], o.Origin[:]); c != 0 {
		return c < 0
	}
	return w.Index < o.Index
}

// inputIdentity is the part of a spent wallet that a transaction commits to.
type inputIdentity struct {
	Origin Hash
	Index  uint32
	Owner  PublicKey
	Value  Amount
}

// outputIdentity is the part of a produced wallet a node commits to; the
// origin and index are derived from the node itself.
type outputIdentity struct {
	Owner PublicKey
	Value Amount
}

func inputIdentities(ws []Wallet) []inputIdentity {
	out := make([]inputIdentity, len(ws))
	for i, w := range ws {
		out[i] = inputIdentity{Origin: w.Origin, Index: w.Index, Owner: w.Owner, Value: w.Value}
	}
	return out
}

func outputIdentities(ws []Wallet) []outputIdentity {
	out := make([]outputIdentity, len(ws))
	for i, w := range ws {
		out[i] = outputIdentity{Owner: w.Owner, Value: w.Value}
	}
	return out
}

// assignOrigin stamps origin and index onto produced wallets.
func assignOrigin(ws []Wallet, origin Hash) {
	for i := range ws {
		ws[i].Origin = origin
		ws[i].Index = uint32(i)
	}
}

// SumWallets totals the value of ws.
func SumWallets(ws []Wallet) Amount {
	var total Amount
	for _, w := range ws {
		total = total.Add(w.Value)
	}
	return total
}

// SortWallets orders ws in place by origin and index.
func SortWallets(ws []Wallet) {
	sort.Slice(ws, func(i, j int) bool { return ws[i].Less(ws[j]) })
}

// CopyWallets returns a copy of ws.
func CopyWallets(ws []Wallet) []Wallet {
	if ws == nil {
		return nil
	}
	out := make([]Wallet, len(ws))
	copy(out, ws)
	return out
}
