package types

import (
	"crypto/ed25519"
)

// CkptHash is the chosen validator's commitment to the identifier of the
// checkpoint it will propose.
type CkptHash struct {
	State     CreationState
	CkptID    Hash
	Signature *KeySig

	id Hash
}

type ckptHashIdentity struct {
	State  CreationState
	CkptID Hash
}

// NewCkptHash builds an unsigned hash proposal.
func NewCkptHash(state CreationState, ckptID Hash) *CkptHash {
	h := &CkptHash{State: state.clone(), CkptID: ckptID}
	h.id = identityHash(uint32(ItemCkptHash), ckptHashIdentity{State: h.State, CkptID: h.CkptID})
	return h
}

// ItemType implements Item.
func (h *CkptHash) ItemType() ItemType { return ItemCkptHash }

// ID implements Item.
func (h *CkptHash) ID() Hash { return h.id }

// Qualifier implements Item.
func (h *CkptHash) Qualifier() string { return Qualifier(h.id) }

// ItemState implements StateItem.
func (h *CkptHash) ItemState() CreationState { return h.State }

// Sign signs the identifier.
func (h *CkptHash) Sign(priv ed25519.PrivateKey) {
	ks := SignID(priv, h.id)
	h.Signature = &ks
}

// Signer implements SignedItem.
func (h *CkptHash) Signer() (PublicKey, bool) { return signerOf(h.Signature) }

// VerifySignature implements SignedItem.
func (h *CkptHash) VerifySignature() error { return verifySigned(h.Signature, h.id) }

// ContentItem is a proposal body voted on in AGREE_CONTENT.
type ContentItem interface {
	SignedItem
	StateItem
	// ContentHash is what the AGREE_HASH step agreed on.
	ContentHash() Hash
}

// CkptData carries the full proposed checkpoint. Its state is the
// AGREE_CONTENT state whose content hash is the checkpoint identifier.
type CkptData struct {
	State      CreationState
	Checkpoint *Checkpoint
	Signature  *KeySig

	id Hash
}

type ckptDataIdentity struct {
	State        CreationState
	CheckpointID Hash
}

// NewCkptData builds an unsigned content proposal.
func NewCkptData(state CreationState, ckpt *Checkpoint) *CkptData {
	d := &CkptData{State: state.clone(), Checkpoint: ckpt}
	d.id = identityHash(uint32(ItemCkptData), ckptDataIdentity{State: d.State, CheckpointID: ckpt.ID()})
	return d
}

// ItemType implements Item.
func (d *CkptData) ItemType() ItemType { return ItemCkptData }

// ID implements Item.
func (d *CkptData) ID() Hash { return d.id }

// Qualifier implements Item.
func (d *CkptData) Qualifier() string { return Qualifier(d.id) }

// ItemState implements StateItem.
func (d *CkptData) ItemState() CreationState { return d.State }

// ContentHash implements ContentItem.
func (d *CkptData) ContentHash() Hash { return d.Checkpoint.ID() }

// Sign signs the identifier.
func (d *CkptData) Sign(priv ed25519.PrivateKey) {
	ks := SignID(priv, d.id)
	d.Signature = &ks
}

// Signer implements SignedItem.
func (d *CkptData) Signer() (PublicKey, bool) { return signerOf(d.Signature) }

// VerifySignature implements SignedItem.
func (d *CkptData) VerifySignature() error { return verifySigned(d.Signature, d.id) }

// MockCkptData proposes a raw list of transactions instead of a checkpoint.
// Its content hash is the XOR of the transaction identifiers. Networks run
// it when they exercise consensus without ledger accounting.
type MockCkptData struct {
	State        CreationState
	Transactions []*Transaction
	Signature    *KeySig

	id Hash
}

type mockDataIdentity struct {
	State CreationState
	TxIDs []Hash
}

// NewMockCkptData builds an unsigned mock proposal.
func NewMockCkptData(state CreationState, txs []*Transaction) *MockCkptData {
	m := &MockCkptData{State: state.clone()}
	if len(txs) > 0 {
		m.Transactions = append([]*Transaction(nil), txs...)
	}
	m.id = identityHash(uint32(ItemMockCkptData), mockDataIdentity{State: m.State, TxIDs: m.TxIDs()})
	return m
}

// TxIDs lists the transaction identifiers in proposal order.
func (m *MockCkptData) TxIDs() []Hash {
	ids := make([]Hash, len(m.Transactions))
	for i, tx := range m.Transactions {
		ids[i] = tx.ID()
	}
	return ids
}

// ItemType implements Item.
func (m *MockCkptData) ItemType() ItemType { return ItemMockCkptData }

// ID implements Item.
func (m *MockCkptData) ID() Hash { return m.id }

// Qualifier implements Item.
func (m *MockCkptData) Qualifier() string { return Qualifier(m.id) }

// ItemState implements StateItem.
func (m *MockCkptData) ItemState() CreationState { return m.State }

// ContentHash implements ContentItem.
func (m *MockCkptData) ContentHash() Hash { return XORHashes(m.TxIDs()) }

// Sign signs the identifier.
func (m *MockCkptData) Sign(priv ed25519.PrivateKey) {
	ks := SignID(priv, m.id)
	m.Signature = &ks
}

// Signer implements SignedItem.
func (m *MockCkptData) Signer() (PublicKey, bool) { return signerOf(m.Signature) }

// VerifySignature implements SignedItem.
func (m *MockCkptData) VerifySignature() error { return verifySigned(m.Signature, m.id) }

// CkptSync carries a finalized checkpoint between peers that are catching up.
// Its identifier is the checkpoint identifier.
type CkptSync struct {
	Checkpoint *Checkpoint
}

// NewCkptSync wraps a checkpoint for synchronization.
func NewCkptSync(c *Checkpoint) *CkptSync { return &CkptSync{Checkpoint: c} }

// ItemType implements Item.
func (s *CkptSync) ItemType() ItemType { return ItemCkpt }

// ID implements Item.
func (s *CkptSync) ID() Hash { return s.Checkpoint.ID() }

// Qualifier implements Item.
func (s *CkptSync) Qualifier() string { return Qualifier(s.Checkpoint.ID()) }
