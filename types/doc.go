// Package types defines the ledger and consensus data structures of ckptberry.
//
// # Ledger Nodes
//
// Genesis: the root of the DAG. Creates the initial wallets; its outputs
// originate from its own identifier.
//
// Transaction: spends input wallets into output wallets. The fee is what the
// inputs leave unassigned and must equal the FeeSchedule's fee on the taxed
// base. An optional validator key receives the fee when the transaction is
// folded into a checkpoint.
//
// Acknowledge: a validator's confirmation of a transaction, optionally
// chained to its previous acknowledgement.
//
// Checkpoint: a snapshot of every live wallet, the payouts produced while
// folding, and the resulting stake table at a height.
//
// # Consensus Items
//
// CreationState names one step of one round. Priority, ValidatorVote,
// MajorityVotes, CkptHash, CkptData, MockCkptData and CkptSync are the items
// exchanged while agreeing on the next checkpoint. Each has a stable wire
// discriminant (ItemType) and an identifier derived from its identity fields;
// signatures cover the identifier and are never part of it.
//
// # Encoding
//
// Identity preimages and wire encodings use RLP. EncodeItem/DecodeItem and
// EncodeNode/DecodeNode wrap bodies in a {type, body} envelope; decoding
// recomputes identifiers so a decoded value equals the original.
//
// # Amounts
//
// Amount is an exact decimal with 14 fractional digits backed by a 256-bit
// integer. Fees are truncated to 10 digits.
//
// # Hashing
//
// Identifiers are SHA-512/256 digests. A Qualifier is the unpadded URL-safe
// base64 form used when requesting items by name.
package types
