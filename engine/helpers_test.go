package engine

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/ckptberry/types"
)

func testKey(n byte) ed25519.PrivateKey {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = n
	seed[31] = 0x5e
	return ed25519.NewKeyFromSeed(seed)
}

func testPub(n byte) types.PublicKey {
	return types.PublicKeyOf(testKey(n))
}

// testStakes builds a stake table giving key i the i-th amount, keys
// numbered from 1.
func testStakes(t *testing.T, amounts ...uint64) *types.StakeTable {
	t.Helper()
	entries := make([]types.StakeEntry, len(amounts))
	for i, a := range amounts {
		entries[i] = types.StakeEntry{Owner: testPub(byte(i + 1)), Amount: types.NewAmount(a)}
	}
	st, err := types.NewStakeTable(entries)
	require.NoError(t, err)
	return st
}

func testState() types.CreationState {
	return types.NewCreationState(types.HashBytes([]byte("last common string")))
}

func signedVote(t *testing.T, state types.CreationState, votedID *types.Hash, key byte) *types.ValidatorVote {
	t.Helper()
	v := types.NewValidatorVote(state, state.Status.VotedType(), votedID, testPub(key))
	require.NoError(t, v.Sign(testKey(key)))
	return v
}

func hashOf(s string) *types.Hash {
	h := types.HashBytes([]byte(s))
	return &h
}
