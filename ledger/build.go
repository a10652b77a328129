package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/blockberries/ckptberry/types"
)

// BuildOptions are the network parameters a checkpoint is folded under.
// Every validator must use the same values.
type BuildOptions struct {
	// Fees, when set, must accept a transaction before it is folded.
	Fees types.FeeSchedule
	// Reward is paid to the miner as the last output. Zero pays nothing.
	Reward types.Amount
	// LockTime stamps the checkpoint; zero means now. It is not part of the
	// identifier.
	LockTime time.Time
}

// BuildResult is the outcome of Build.
type BuildResult struct {
	Checkpoint *types.Checkpoint
	// Applied lists the folded transactions in application order.
	Applied []types.Hash
	// Empty is true when nothing was folded.
	Empty bool
}

// Build folds the DAG on top of the genesis or checkpoint prevID.
func Build(tree DAG, prevID types.Hash, height uint64, ackLength uint32,
	miner types.PublicKey, opts BuildOptions) (*BuildResult, error) {
	n, ok := tree.Search(prevID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBase, prevID.Short())
	}
	base, ok := n.(types.Base)
	if !ok {
		return nil, fmt.Errorf("%w: %s is a %s", ErrNotBase, prevID.Short(), n.Kind())
	}
	return BuildFrom(tree, base, height, ackLength, miner, opts)
}

// BuildFrom is Build with the base supplied directly, for callers whose
// base is not in the DAG.
func BuildFrom(tree DAG, base types.Base, height uint64, ackLength uint32,
	miner types.PublicKey, opts BuildOptions) (*BuildResult, error) {
	if height <= base.BaseHeight() {
		return nil, fmt.Errorf("%w: height %d on base height %d", ErrInvalidParams, height, base.BaseHeight())
	}

	f := newFolder(base, miner)
	applied := f.fold(tree, ackLength, opts.Fees)

	var outputs []types.Wallet
	for _, owner := range f.payees() {
		outputs = append(outputs, types.NewWallet(owner, f.fees[owner]))
	}
	if !opts.Reward.IsZero() {
		outputs = append(outputs, types.NewWallet(miner, opts.Reward))
	}
	utxos := f.liveWallets()

	lock := opts.LockTime
	if lock.IsZero() {
		lock = time.Now()
	}
	ckpt := types.NewCheckpoint(base.ID(), height, lock, ackLength, utxos, outputs,
		types.StakeFromWallets(utxos, outputs), miner)

	ids := make([]types.Hash, len(applied))
	for i, tx := range applied {
		ids[i] = tx.ID()
	}
	return &BuildResult{Checkpoint: ckpt, Applied: ids, Empty: len(applied) == 0}, nil
}

// Foldable returns the transactions Build would fold on top of base, in
// application order.
func Foldable(tree DAG, base types.Base, ackLength uint32, fees types.FeeSchedule) []*types.Transaction {
	return newFolder(base, types.PublicKey{}).fold(tree, ackLength, fees)
}

type folder struct {
	live map[types.WalletRef]types.Wallet
	fees map[types.PublicKey]types.Amount
	// receives fees of transactions without a validator key
	miner types.PublicKey
}

func newFolder(base types.Base, miner types.PublicKey) *folder {
	f := &folder{
		live:  make(map[types.WalletRef]types.Wallet),
		fees:  make(map[types.PublicKey]types.Amount),
		miner: miner,
	}
	for _, w := range base.LiveWallets() {
		f.live[w.Ref()] = w
	}
	return f
}

// fold applies candidates in identifier order, pass after pass, until a
// pass applies nothing.
func (f *folder) fold(tree DAG, ackLength uint32, fees types.FeeSchedule) []*types.Transaction {
	var pending []*types.Transaction
	for _, tx := range tree.Transactions() {
		if tree.AckCount(tx.ID()) >= int(ackLength) {
			pending = append(pending, tx)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID().Less(pending[j].ID()) })

	var applied []*types.Transaction
	for progress := true; progress; {
		progress = false
		rest := pending[:0]
		for _, tx := range pending {
			if f.apply(tx, fees) {
				applied = append(applied, tx)
				progress = true
			} else {
				rest = append(rest, tx)
			}
		}
		pending = rest
	}
	return applied
}

// apply folds tx when every input is live with the recorded owner and value.
func (f *folder) apply(tx *types.Transaction, fees types.FeeSchedule) bool {
	if len(tx.Inputs) == 0 {
		return false
	}
	for _, in := range tx.Inputs {
		w, ok := f.live[in.Ref()]
		if !ok || w.Owner != in.Owner || !w.Value.Equal(in.Value) {
			return false
		}
	}
	fee, err := tx.Burned()
	if err != nil {
		return false
	}
	if fees != nil && tx.Validate(fees) != nil {
		return false
	}

	for _, in := range tx.Inputs {
		delete(f.live, in.Ref())
	}
	for _, out := range tx.Outputs {
		f.live[out.Ref()] = out
	}
	if !fee.IsZero() {
		recipient := f.miner
		if tx.Validator != nil {
			recipient = *tx.Validator
		}
		f.fees[recipient] = f.fees[recipient].Add(fee)
	}
	return true
}

func (f *folder) payees() []types.PublicKey {
	out := make([]types.PublicKey, 0, len(f.fees))
	for pk := range f.fees {
		out = append(out, pk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

func (f *folder) liveWallets() []types.Wallet {
	out := make([]types.Wallet, 0, len(f.live))
	for _, w := range f.live {
		out = append(out, w)
	}
	types.SortWallets(out)
	return out
}
