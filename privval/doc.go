// Package privval holds a validator's signing key and refuses to sign
// conflicting consensus items.
//
// # Double-Vote Prevention
//
// LastSignState records the creation state, voted type and voted identifier
// of the last vote signed. Before signing a vote the validator checks:
//
//	1. Never sign two different concrete votes for the same state
//	2. A concrete vote may be replaced by PASS, never the other way round
//	3. Never sign for an earlier round or step of the same common string
//	4. Persist the state before the signature is released
//
// Re-signing the identical vote is idempotent. Proposals (CkptHash,
// CkptData, MockCkptData) get the same guard per state and item type.
//
// # Files
//
//	key.json:   {"pub_key": "<hex>", "priv_key": "<base64>"}
//	state.json: the last signed vote and proposal
//
// Both are written to a temporary file and renamed into place.
//
// FilePV implements sortition.Signer, so it also produces VRF proofs and
// signs priorities. Only one FilePV may use a given pair of files.
package privval
