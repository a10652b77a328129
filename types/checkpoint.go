package types

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap/zapcore"
)

// ErrInvalidCheckpoint is returned by ValidateBasic.
var ErrInvalidCheckpoint = errors.New("invalid checkpoint")

// StakeEntry is one row of a checkpoint's stake table.
type StakeEntry struct {
	Owner  PublicKey
	Amount Amount
}

// Base is a node a checkpoint can be built on: a genesis or a checkpoint.
type Base interface {
	Node
	// LiveWallets returns the spendable wallets the node leaves behind.
	LiveWallets() []Wallet
	// BaseHeight is 0 for a genesis.
	BaseHeight() uint64
}

// Checkpoint is a snapshot of the ledger at a height: every live wallet,
// the payouts produced while folding, and the resulting stake table.
type Checkpoint struct {
	Origin     Hash
	Height     uint64
	LockTime   uint64 // unix nanoseconds
	AckLength  uint32
	UTXOs      []Wallet
	Outputs    []Wallet
	Stake      []StakeEntry
	NUTXO      uint64
	TotalStake Amount
	TotalCoins Amount
	Miner      PublicKey

	id Hash
}

type checkpointIdentity struct {
	Origin     Hash
	Height     uint64
	AckLength  uint32
	UTXOs      []inputIdentity
	Outputs    []outputIdentity
	Stake      []StakeEntry
	NUTXO      uint64
	TotalStake Amount
	TotalCoins Amount
	Miner      PublicKey
}

// NewCheckpoint assembles a checkpoint, deriving the counts and totals from
// the given wallets and stake, and seals it.
func NewCheckpoint(origin Hash, height uint64, lockTime time.Time, ackLength uint32,
	utxos, outputs []Wallet, stake []StakeEntry, miner PublicKey) *Checkpoint {
	c := &Checkpoint{
		Origin:    origin,
		Height:    height,
		LockTime:  uint64(lockTime.UnixNano()),
		AckLength: ackLength,
		UTXOs:     CopyWallets(utxos),
		Outputs:   CopyWallets(outputs),
		Stake:     append([]StakeEntry(nil), stake...),
		Miner:     miner,
	}
	SortWallets(c.UTXOs)
	sortStake(c.Stake)
	c.NUTXO = uint64(len(c.UTXOs))
	c.TotalCoins = SumWallets(c.UTXOs).Add(SumWallets(c.Outputs))
	for _, s := range c.Stake {
		c.TotalStake = c.TotalStake.Add(s.Amount)
	}
	c.Seal()
	return c
}

// Seal derives the identifier and stamps it onto the outputs. Lock time is
// deliberately outside the identity so independent builders agree.
func (c *Checkpoint) Seal() {
	c.id = identityHash(uint32(KindCheckpoint), checkpointIdentity{
		Origin:     c.Origin,
		Height:     c.Height,
		AckLength:  c.AckLength,
		UTXOs:      inputIdentities(c.UTXOs),
		Outputs:    outputIdentities(c.Outputs),
		Stake:      c.Stake,
		NUTXO:      c.NUTXO,
		TotalStake: c.TotalStake,
		TotalCoins: c.TotalCoins,
		Miner:      c.Miner,
	})
	assignOrigin(c.Outputs, c.id)
}

// ID implements Node.
func (c *Checkpoint) ID() Hash { return c.id }

// Kind implements Node.
func (c *Checkpoint) Kind() NodeKind { return KindCheckpoint }

// Parents implements Node.
func (c *Checkpoint) Parents() []Hash { return []Hash{c.Origin} }

// LiveWallets implements Base.
func (c *Checkpoint) LiveWallets() []Wallet {
	out := make([]Wallet, 0, len(c.UTXOs)+len(c.Outputs))
	out = append(out, c.UTXOs...)
	return append(out, c.Outputs...)
}

// BaseHeight implements Base.
func (c *Checkpoint) BaseHeight() uint64 { return c.Height }

// LiveWallets implements Base.
func (g *Genesis) LiveWallets() []Wallet { return CopyWallets(g.Outputs) }

// BaseHeight implements Base.
func (g *Genesis) BaseHeight() uint64 { return 0 }

// Created returns the lock time.
func (c *Checkpoint) Created() time.Time {
	return time.Unix(0, int64(c.LockTime)).UTC()
}

// StakeOf returns the stake of pk, zero when absent.
func (c *Checkpoint) StakeOf(pk PublicKey) Amount {
	i := sort.Search(len(c.Stake), func(i int) bool { return c.Stake[i].Owner.Compare(pk) >= 0 })
	if i < len(c.Stake) && c.Stake[i].Owner == pk {
		return c.Stake[i].Amount
	}
	return Amount{}
}

// ValidateBasic checks the internal invariants of a checkpoint.
func (c *Checkpoint) ValidateBasic() error {
	if c.NUTXO != uint64(len(c.UTXOs)) {
		return fmt.Errorf("%w: nutxo %d != %d utxos", ErrInvalidCheckpoint, c.NUTXO, len(c.UTXOs))
	}
	coins := SumWallets(c.UTXOs).Add(SumWallets(c.Outputs))
	if !coins.Equal(c.TotalCoins) {
		return fmt.Errorf("%w: total coins %s != %s", ErrInvalidCheckpoint, c.TotalCoins, coins)
	}
	var stake Amount
	for i, s := range c.Stake {
		if i > 0 && c.Stake[i-1].Owner.Compare(s.Owner) >= 0 {
			return fmt.Errorf("%w: stake table not strictly ordered", ErrInvalidCheckpoint)
		}
		if s.Amount.IsZero() {
			return fmt.Errorf("%w: zero stake entry", ErrInvalidCheckpoint)
		}
		stake = stake.Add(s.Amount)
	}
	if !stake.Equal(c.TotalStake) {
		return fmt.Errorf("%w: total stake %s != %s", ErrInvalidCheckpoint, c.TotalStake, stake)
	}
	for i := 1; i < len(c.UTXOs); i++ {
		if !c.UTXOs[i-1].Less(c.UTXOs[i]) {
			return fmt.Errorf("%w: utxos not strictly ordered", ErrInvalidCheckpoint)
		}
	}
	for _, w := range c.LiveWallets() {
		if w.Value.IsZero() {
			return fmt.Errorf("%w: zero value wallet", ErrInvalidCheckpoint)
		}
	}
	return nil
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (c *Checkpoint) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", c.id.Short())
	enc.AddString("origin", c.Origin.Short())
	enc.AddUint64("height", c.Height)
	enc.AddUint64("nutxo", c.NUTXO)
	enc.AddInt("outputs", len(c.Outputs))
	enc.AddString("total_coins", c.TotalCoins.String())
	enc.AddString("total_stake", c.TotalStake.String())
	enc.AddString("miner", c.Miner.Short())
	return nil
}

// StakeFromWallets aggregates wallet values per owner into an ordered stake
// table, leaving out owners with nothing.
func StakeFromWallets(ws ...[]Wallet) []StakeEntry {
	byOwner := make(map[PublicKey]Amount)
	for _, list := range ws {
		for _, w := range list {
			byOwner[w.Owner] = byOwner[w.Owner].Add(w.Value)
		}
	}
	out := make([]StakeEntry, 0, len(byOwner))
	for owner, amt := range byOwner {
		if amt.IsZero() {
			continue
		}
		out = append(out, StakeEntry{Owner: owner, Amount: amt})
	}
	sortStake(out)
	return out
}

func sortStake(s []StakeEntry) {
	sort.Slice(s, func(i, j int) bool { return s[i].Owner.Compare(s[j].Owner) < 0 })
}
