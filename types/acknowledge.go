package types

import (
	"crypto/ed25519"
)

// Acknowledge is a validator's confirmation of a transaction. It may chain to
// the validator's previous acknowledgement.
type Acknowledge struct {
	TxID      Hash
	PrevAck   *Hash
	Validator PublicKey
	Signature []byte

	id Hash
}

type ackIdentity struct {
	TxID      Hash
	Validator PublicKey
}

// NewAcknowledge builds an acknowledgement. The previous-ack link is not part
// of the identity, so one validator acknowledges a transaction exactly once.
func NewAcknowledge(txID Hash, prev *Hash, validator PublicKey) *Acknowledge {
	ack := &Acknowledge{TxID: txID, Validator: validator}
	if prev != nil {
		p := *prev
		ack.PrevAck = &p
	}
	ack.id = identityHash(uint32(KindAcknowledge), ackIdentity{TxID: txID, Validator: validator})
	return ack
}

// ID implements Node.
func (a *Acknowledge) ID() Hash { return a.id }

// Kind implements Node.
func (a *Acknowledge) Kind() NodeKind { return KindAcknowledge }

// Parents implements Node.
func (a *Acknowledge) Parents() []Hash {
	if a.PrevAck != nil {
		return []Hash{a.TxID, *a.PrevAck}
	}
	return []Hash{a.TxID}
}

// Sign signs the identifier with the validator key.
func (a *Acknowledge) Sign(priv ed25519.PrivateKey) {
	a.Signature = ed25519.Sign(priv, a.id[:])
}

// VerifySignature checks the validator's signature.
func (a *Acknowledge) VerifySignature() error {
	ks := KeySig{PubKey: a.Validator, Sig: a.Signature}
	return ks.Verify(a.id)
}
