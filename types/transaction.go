package types

import (
	"crypto/ed25519"
	"errors"
	"fmt"
)

// Errors
var (
	ErrMalformedTransaction = errors.New("malformed transaction")
	ErrUnbalanced           = errors.New("inputs do not balance outputs plus fee")
	ErrMissingOwnerSig      = errors.New("input owner has not signed")
	ErrInsufficientInputs   = errors.New("inputs cannot cover outputs and fee")
)

// Transaction spends input wallets into output wallets. The optional
// validator key receives the fee when the transaction is folded into a
// checkpoint.
type Transaction struct {
	Inputs     []Wallet
	Outputs    []Wallet
	Validator  *PublicKey
	Signatures []KeySig

	id Hash
}

type txIdentity struct {
	Inputs    []inputIdentity
	Outputs   []outputIdentity
	Validator *PublicKey `rlp:"nil"`
}

// NewTransaction builds a transaction, derives its identifier and stamps the
// identifier onto its outputs.
func NewTransaction(inputs, outputs []Wallet, validator *PublicKey) *Transaction {
	tx := &Transaction{
		Inputs:  CopyWallets(inputs),
		Outputs: CopyWallets(outputs),
	}
	if validator != nil {
		v := *validator
		tx.Validator = &v
	}
	tx.id = identityHash(uint32(KindTransaction), txIdentity{
		Inputs:    inputIdentities(tx.Inputs),
		Outputs:   outputIdentities(tx.Outputs),
		Validator: tx.Validator,
	})
	assignOrigin(tx.Outputs, tx.id)
	return tx
}

// ID implements Node.
func (tx *Transaction) ID() Hash { return tx.id }

// Kind implements Node.
func (tx *Transaction) Kind() NodeKind { return KindTransaction }

// Parents returns the distinct origins of the inputs in input order.
func (tx *Transaction) Parents() []Hash {
	seen := make(map[Hash]bool, len(tx.Inputs))
	parents := make([]Hash, 0, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if !seen[in.Origin] {
			seen[in.Origin] = true
			parents = append(parents, in.Origin)
		}
	}
	return parents
}

// InputSum totals the inputs.
func (tx *Transaction) InputSum() Amount { return SumWallets(tx.Inputs) }

// OutputSum totals the outputs.
func (tx *Transaction) OutputSum() Amount { return SumWallets(tx.Outputs) }

// Burned is what the transaction leaves unassigned, the fee it actually pays.
func (tx *Transaction) Burned() (Amount, error) {
	return tx.InputSum().Sub(tx.OutputSum())
}

// taxedBase applies the anti-laundering rule: an output is taxed when its
// owner contributed no input or less than the output's value. When nothing
// is taxed the transaction only shuffles value between its own owners and
// the whole input is taxed instead.
func taxedBase(inputs, outputs []Wallet) (taxed, inSum, outSum Amount) {
	byOwner := make(map[PublicKey]Amount, len(inputs))
	for _, w := range inputs {
		inSum = inSum.Add(w.Value)
		byOwner[w.Owner] = byOwner[w.Owner].Add(w.Value)
	}
	laundering := true
	for _, w := range outputs {
		outSum = outSum.Add(w.Value)
		contributed, ok := byOwner[w.Owner]
		if !ok || contributed.Cmp(w.Value) < 0 {
			taxed = taxed.Add(w.Value)
			laundering = false
		}
	}
	if laundering {
		taxed = inSum
	}
	return taxed, inSum, outSum
}

// TaxedAmount returns the base the fee is charged on. When every output is
// taxed the fee falls on the full input sum.
func (tx *Transaction) TaxedAmount() Amount {
	taxed, inSum, outSum := taxedBase(tx.Inputs, tx.Outputs)
	if taxed.Equal(outSum) {
		return inSum
	}
	return taxed
}

// Fee returns the fee the schedule expects for this transaction.
func (tx *Transaction) Fee(schedule FeeSchedule) Amount {
	return schedule.Fee(tx.TaxedAmount())
}

// Sign appends a signature over the identifier.
func (tx *Transaction) Sign(priv ed25519.PrivateKey) {
	tx.Signatures = append(tx.Signatures, SignID(priv, tx.id))
}

// ValidateBasic checks structure and balance without signatures.
func (tx *Transaction) ValidateBasic(schedule FeeSchedule) error {
	if len(tx.Inputs) == 0 || len(tx.Outputs) == 0 {
		return fmt.Errorf("%w: needs inputs and outputs", ErrMalformedTransaction)
	}
	refs := make(map[WalletRef]bool, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if in.Value.IsZero() {
			return fmt.Errorf("%w: zero input value", ErrMalformedTransaction)
		}
		if refs[in.Ref()] {
			return fmt.Errorf("%w: input %s/%d spent twice", ErrMalformedTransaction, in.Origin.Short(), in.Index)
		}
		refs[in.Ref()] = true
	}
	for _, out := range tx.Outputs {
		if out.Value.IsZero() {
			return fmt.Errorf("%w: zero output value", ErrMalformedTransaction)
		}
	}
	fee := tx.Fee(schedule)
	if !tx.InputSum().Equal(tx.OutputSum().Add(fee)) {
		return fmt.Errorf("%w: in=%s out=%s fee=%s", ErrUnbalanced, tx.InputSum(), tx.OutputSum(), fee)
	}
	return nil
}

// Validate checks structure, balance and that every input owner signed.
func (tx *Transaction) Validate(schedule FeeSchedule) error {
	if err := tx.ValidateBasic(schedule); err != nil {
		return err
	}
	signed := make(map[PublicKey]bool, len(tx.Signatures))
	for i := range tx.Signatures {
		ks := tx.Signatures[i]
		if err := ks.Verify(tx.id); err != nil {
			return fmt.Errorf("transaction %s: %w", tx.id.Short(), err)
		}
		signed[ks.PubKey] = true
	}
	for _, in := range tx.Inputs {
		if !signed[in.Owner] {
			return fmt.Errorf("%w: %s", ErrMissingOwnerSig, in.Owner.Short())
		}
	}
	return nil
}

// CompleteOutputs appends remainder wallets for the input owners so that the
// inputs balance the payee outputs plus the fee. Owners are refunded starting
// from the last distinct input owner, each up to what they contributed.
func CompleteOutputs(inputs, payees []Wallet, schedule FeeSchedule) ([]Wallet, error) {
	taxed, inSum, outSum := taxedBase(inputs, payees)
	fee := schedule.Fee(taxed)
	remaining, err := inSum.Sub(outSum.Add(fee))
	if err != nil {
		return nil, fmt.Errorf("%w: in=%s out=%s fee=%s", ErrInsufficientInputs, inSum, outSum, fee)
	}

	var owners []PublicKey
	contributed := make(map[PublicKey]Amount)
	for _, w := range inputs {
		if _, ok := contributed[w.Owner]; !ok {
			owners = append(owners, w.Owner)
		}
		contributed[w.Owner] = contributed[w.Owner].Add(w.Value)
	}

	outputs := CopyWallets(payees)
	for i := len(owners) - 1; i >= 0 && !remaining.IsZero(); i-- {
		refund := contributed[owners[i]].Min(remaining)
		outputs = append(outputs, NewWallet(owners[i], refund))
		remaining, _ = remaining.Sub(refund)
	}

	// With no refund and every payee taxed, validation charges the fee on
	// the input sum, which the inputs then no longer cover.
	base, _, finalOut := taxedBase(inputs, outputs)
	if base.Equal(finalOut) {
		base = inSum
	}
	if !inSum.Equal(finalOut.Add(schedule.Fee(base))) {
		return nil, fmt.Errorf("%w: in=%s out=%s fee=%s", ErrInsufficientInputs, inSum, finalOut, schedule.Fee(base))
	}
	return outputs, nil
}
