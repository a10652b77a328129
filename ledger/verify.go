package ledger

import (
	"github.com/blockberries/ckptberry/types"
)

// Reason explains a verification result.
type Reason uint8

const (
	ReasonValid Reason = iota
	// ReasonEmpty means the checkpoint would fold nothing.
	ReasonEmpty
	// ReasonPending means transactions the checkpoint depends on are not
	// local yet or lack acknowledgements. Absent ones have been added to the
	// fetch list; verify again later.
	ReasonPending
	ReasonMismatch
	ReasonHeight
	ReasonOrigin
	ReasonMalformed
)

func (r Reason) String() string {
	switch r {
	case ReasonValid:
		return "VALID"
	case ReasonEmpty:
		return "EMPTY"
	case ReasonPending:
		return "PENDING"
	case ReasonMismatch:
		return "MISMATCH"
	case ReasonHeight:
		return "HEIGHT"
	case ReasonOrigin:
		return "ORIGIN"
	case ReasonMalformed:
		return "MALFORMED"
	default:
		return "UNKNOWN"
	}
}

// Permanent reports whether verifying again cannot change the outcome.
func (r Reason) Permanent() bool {
	return r != ReasonValid && r != ReasonPending
}

// Fetcher is told about nodes that must be retrieved from peers.
type Fetcher interface {
	AddTxnToFetchList(id types.Hash)
}

// Verification is the outcome of Verify.
type Verification struct {
	reason  Reason
	missing []types.Hash
	err     error
}

// Result returns whether the checkpoint is acceptable and why.
func (v Verification) Result() (bool, Reason) {
	return v.reason == ReasonValid, v.reason
}

// Missing lists the identifiers passed to the fetcher.
func (v Verification) Missing() []types.Hash { return v.missing }

// Err is the underlying error of a MALFORMED result.
func (v Verification) Err() error { return v.err }

// Verify checks a proposed checkpoint against the accepted one by rebuilding
// it from the local DAG.
func Verify(tree DAG, claimed *types.Checkpoint, svc Service, fetcher Fetcher, opts BuildOptions) Verification {
	if claimed == nil {
		return Verification{reason: ReasonMalformed}
	}
	if err := claimed.ValidateBasic(); err != nil {
		return Verification{reason: ReasonMalformed, err: err}
	}
	if claimed.Height != svc.Height()+1 {
		return Verification{reason: ReasonHeight}
	}
	if claimed.Origin != svc.CheckpointID() {
		return Verification{reason: ReasonOrigin}
	}

	base := svc.Checkpoint()
	live := make(map[types.WalletRef]types.Wallet)
	for _, w := range base.LiveWallets() {
		live[w.Ref()] = w
	}

	var (
		missing    []types.Hash
		underAcked bool
		stack      []types.Hash
	)
	seen := make(map[types.Hash]bool)
	push := func(id types.Hash) {
		if !seen[id] {
			seen[id] = true
			stack = append(stack, id)
		}
	}
	for _, w := range claimed.UTXOs {
		if lw, ok := live[w.Ref()]; ok {
			if !lw.Equal(w) {
				return Verification{reason: ReasonMismatch}
			}
			continue
		}
		if n, ok := tree.Search(w.Origin); ok {
			tx, ok := n.(*types.Transaction)
			if !ok || int(w.Index) >= len(tx.Outputs) || !tx.Outputs[w.Index].Equal(w) {
				return Verification{reason: ReasonMismatch}
			}
		}
		push(w.Origin)
	}

	// Every transaction between the claimed wallets and the base has to be
	// held and acknowledged before the rebuild can reproduce the claim,
	// including intermediates whose outputs were all spent.
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := tree.Search(id)
		if !ok {
			missing = append(missing, id)
			if fetcher != nil {
				fetcher.AddTxnToFetchList(id)
			}
			continue
		}
		tx, ok := n.(*types.Transaction)
		if !ok {
			continue
		}
		if tree.AckCount(id) < int(claimed.AckLength) {
			underAcked = true
		}
		for _, in := range tx.Inputs {
			if _, ok := live[in.Ref()]; !ok {
				push(in.Origin)
			}
		}
	}
	if len(missing) > 0 || underAcked {
		return Verification{reason: ReasonPending, missing: missing}
	}

	res, err := BuildFrom(tree, base, claimed.Height, claimed.AckLength, claimed.Miner, opts)
	if err != nil {
		return Verification{reason: ReasonMalformed, err: err}
	}
	switch {
	case res.Empty:
		return Verification{reason: ReasonEmpty}
	case res.Checkpoint.ID() == claimed.ID():
		return Verification{reason: ReasonValid}
	default:
		return Verification{reason: ReasonMismatch}
	}
}
