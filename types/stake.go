package types

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// Errors
var (
	ErrDuplicateStakeOwner = errors.New("duplicate stake owner")
	ErrEmptyStakeTable     = errors.New("empty stake table")
	ErrInvalidStake        = errors.New("invalid stake")
)

// StakeTable is an immutable snapshot of delegated stake, taken when a
// creation round starts. Majorities are computed against it.
type StakeTable struct {
	entries []StakeEntry
	byOwner map[PublicKey]Amount
	total   Amount
}

// NewStakeTable validates and indexes a stake list.
func NewStakeTable(entries []StakeEntry) (*StakeTable, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyStakeTable
	}
	st := &StakeTable{
		entries: append([]StakeEntry(nil), entries...),
		byOwner: make(map[PublicKey]Amount, len(entries)),
	}
	sortStake(st.entries)
	for _, e := range st.entries {
		if e.Amount.IsZero() {
			return nil, fmt.Errorf("%w: zero stake for %s", ErrInvalidStake, e.Owner.Short())
		}
		if _, exists := st.byOwner[e.Owner]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStakeOwner, e.Owner.Short())
		}
		st.byOwner[e.Owner] = e.Amount
		st.total = st.total.Add(e.Amount)
	}
	return st, nil
}

// StakeOf returns the stake of pk, zero for unknown keys.
func (st *StakeTable) StakeOf(pk PublicKey) Amount {
	return st.byOwner[pk]
}

// Has reports whether pk holds stake.
func (st *StakeTable) Has(pk PublicKey) bool {
	_, ok := st.byOwner[pk]
	return ok
}

// Total returns the summed stake.
func (st *StakeTable) Total() Amount {
	return st.total
}

// Size returns the number of stake holders.
func (st *StakeTable) Size() int {
	return len(st.entries)
}

// Owners returns the stake holders in key order.
func (st *StakeTable) Owners() []PublicKey {
	out := make([]PublicKey, len(st.entries))
	for i, e := range st.entries {
		out[i] = e.Owner
	}
	return out
}

// Entries returns a copy of the table.
func (st *StakeTable) Entries() []StakeEntry {
	return append([]StakeEntry(nil), st.entries...)
}

// IsMajority reports support > 2/3 of the total stake. It compares
// 3*support with 2*total so no rounding is involved.
func (st *StakeTable) IsMajority(support Amount) bool {
	return support.MulUint64(3).Cmp(st.total.MulUint64(2)) > 0
}

// TwoThirds returns 2/3 of the total, truncated. Informational only; use
// IsMajority for decisions.
func (st *StakeTable) TwoThirds() Amount {
	doubled := st.total.MulUint64(2)
	var out Amount
	out.v.Div(&doubled.v, uint256.NewInt(3))
	return out
}
