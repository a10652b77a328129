package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
)

// SampleTicks is the resolution of a VRF sample: samples are integers in
// [0, SampleTicks) standing for multiples of 1/SampleTicks.
const SampleTicks = 10000

// Sample is a VRF output reduced to SampleTicks resolution.
type Sample uint16

// Float returns the sample as a fraction in [0,1).
func (s Sample) Float() float64 {
	return float64(s) / SampleTicks
}

// VRFProof is the proof a validator publishes with its priority: the hash of
// the round input and its signature over that hash.
type VRFProof struct {
	Hash Hash
	Sign []byte
}

type vrfProofJSON struct {
	Hash string `json:"hash"`
	Sign string `json:"sign"`
}

// Marshal encodes the proof as a JSON object of hex strings.
func (p VRFProof) Marshal() []byte {
	b, _ := json.Marshal(vrfProofJSON{Hash: hex.EncodeToString(p.Hash[:]), Sign: hex.EncodeToString(p.Sign)})
	return b
}

// ParseVRFProof decodes a proof produced by Marshal.
func ParseVRFProof(data []byte) (VRFProof, error) {
	var raw vrfProofJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return VRFProof{}, fmt.Errorf("%w: vrf proof: %v", ErrMalformedItem, err)
	}
	h, err := hex.DecodeString(raw.Hash)
	if err != nil {
		return VRFProof{}, fmt.Errorf("%w: vrf proof hash: %v", ErrMalformedItem, err)
	}
	hash, err := NewHash(h)
	if err != nil {
		return VRFProof{}, fmt.Errorf("%w: vrf proof hash: %v", ErrMalformedItem, err)
	}
	sig, err := hex.DecodeString(raw.Sign)
	if err != nil {
		return VRFProof{}, fmt.Errorf("%w: vrf proof signature: %v", ErrMalformedItem, err)
	}
	return VRFProof{Hash: hash, Sign: sig}, nil
}

// Sample maps the proof hash, read as a big-endian integer, into
// [0, SampleTicks) by floor(hash * SampleTicks / 2^256).
func (p VRFProof) Sample() Sample {
	v := new(big.Int).SetBytes(p.Hash[:])
	v.Mul(v, big.NewInt(SampleTicks))
	v.Rsh(v, 8*HashSize)
	return Sample(v.Uint64())
}
