package types

import (
	"crypto/ed25519"
	"time"
)

var testFee = ProportionalFee{Rate: MustParseAmount("0.001")}

// testKey returns a deterministic key for index n.
func testKey(n byte) ed25519.PrivateKey {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = n
	seed[31] = 0x5a
	return ed25519.NewKeyFromSeed(seed)
}

func testPub(n byte) PublicKey {
	return PublicKeyOf(testKey(n))
}

func testGenesis(values ...uint64) *Genesis {
	outs := make([]Wallet, len(values))
	for i, v := range values {
		outs[i] = NewWallet(testPub(byte(i+1)), NewAmount(v))
	}
	return NewGenesis([]byte(GenesisSeed), outs)
}

func testCheckpoint(g *Genesis, height uint64, lock time.Time) *Checkpoint {
	live := g.LiveWallets()
	return NewCheckpoint(g.ID(), height, lock, 0, live, nil, StakeFromWallets(live), testPub(1))
}

func testProof(first, last byte) []byte {
	var h Hash
	h[0] = first
	h[HashSize-1] = last
	return VRFProof{Hash: h, Sign: []byte{0x01, 0x02}}.Marshal()
}
