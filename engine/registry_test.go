package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/ckptberry/types"
)

func addVotes(t *testing.T, r *VoteRegistry, votes ...*types.ValidatorVote) {
	t.Helper()
	for _, v := range votes {
		added, err := r.Add(v)
		require.NoError(t, err)
		require.True(t, added)
	}
}

func TestRegistryMajority(t *testing.T) {
	state := testState()
	r := NewVoteRegistry(state, testStakes(t, 50, 50, 50))
	target := hashOf("priority")

	addVotes(t, r, signedVote(t, state, target, 1), signedVote(t, state, target, 2))
	m, err := r.Majority()
	require.NoError(t, err)
	require.Nil(t, m, "100 of 150 is exactly two thirds, not more")

	addVotes(t, r, signedVote(t, state, target, 3))
	m, err = r.Majority()
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, *target, *m.VotedID)
	require.True(t, m.Support.Equal(types.NewAmount(150)))
	require.Len(t, m.Votes, 3)
}

func TestRegistryStakeWeighted(t *testing.T) {
	state := testState()
	r := NewVoteRegistry(state, testStakes(t, 70, 20, 10))

	addVotes(t, r, signedVote(t, state, nil, 1))
	m, err := r.Majority()
	require.NoError(t, err)
	require.NotNil(t, m, "70 of 100 is a majority")
	require.True(t, m.IsPass())
}

func TestRegistryMultiVoterCountsAsPass(t *testing.T) {
	state := testState()
	r := NewVoteRegistry(state, testStakes(t, 50, 50, 50))

	a, b := hashOf("a"), hashOf("b")
	addVotes(t, r,
		signedVote(t, state, a, 1),
		signedVote(t, state, b, 1),
	)
	votedID, ok := r.Outcome(testPub(1))
	require.True(t, ok)
	require.Nil(t, votedID)

	addVotes(t, r, signedVote(t, state, nil, 2), signedVote(t, state, nil, 3))
	m, err := r.Majority()
	require.NoError(t, err)
	require.NotNil(t, m)
	require.True(t, m.IsPass())
	// every vote of the double voter backs the PASS outcome
	require.Len(t, m.Votes, 4)
}

func TestRegistryRejects(t *testing.T) {
	state := testState()
	r := NewVoteRegistry(state, testStakes(t, 50, 50, 50))

	_, err := r.Add(signedVote(t, state.NextRound(), nil, 1))
	require.ErrorIs(t, err, ErrWrongState)

	wrongType := types.NewValidatorVote(state, types.ItemCkptHash, nil, testPub(1))
	_, err = r.Add(wrongType)
	require.ErrorIs(t, err, ErrUnexpectedVoteType)

	_, err = r.Add(signedVote(t, state, nil, 9))
	require.ErrorIs(t, err, ErrUnknownVoter)

	v := signedVote(t, state, nil, 1)
	addVotes(t, r, v)
	added, err := r.Add(v)
	require.NoError(t, err)
	require.False(t, added)
	require.Equal(t, 1, r.Len())
	require.True(t, r.Processed(wrongType.ID()))
}

func TestRegistryStalemate(t *testing.T) {
	state := testState()
	r := NewVoteRegistry(state, testStakes(t, 40, 40, 20))
	a, b := hashOf("a"), hashOf("b")

	addVotes(t, r, signedVote(t, state, a, 1), signedVote(t, state, b, 2))
	require.True(t, r.Stalemate())
	require.False(t, r.CanWin(testPub(1)), "40 voted plus 20 unvoted cannot pass 2/3")
	require.True(t, r.CanWin(testPub(3)), "a key without a vote is not stuck")

	addVotes(t, r, signedVote(t, state, nil, 3))
	require.True(t, r.Stalemate())
}

func TestRegistryNoStalemateWhileStakeOutstanding(t *testing.T) {
	state := testState()
	r := NewVoteRegistry(state, testStakes(t, 50, 50, 50))
	addVotes(t, r, signedVote(t, state, hashOf("a"), 1), signedVote(t, state, hashOf("b"), 2))

	require.False(t, r.Stalemate(), "100 of 150 voted is not more than two thirds")
	require.False(t, r.CanWin(testPub(1)))
}

func TestRegistryTalliesOrder(t *testing.T) {
	state := testState()
	r := NewVoteRegistry(state, testStakes(t, 10, 40, 20))
	a, b := hashOf("a"), hashOf("b")
	addVotes(t, r,
		signedVote(t, state, a, 1),
		signedVote(t, state, b, 2),
		signedVote(t, state, a, 3),
	)
	tallies := r.Tallies()
	require.Len(t, tallies, 2)
	require.Equal(t, *b, *tallies[0].VotedID)
	require.True(t, tallies[0].Support.Equal(types.NewAmount(40)))
	require.Equal(t, *a, *tallies[1].VotedID)
	require.True(t, tallies[1].Support.Equal(types.NewAmount(30)))
	require.True(t, r.VotedStake().Equal(types.NewAmount(70)))
}

func TestRegistryRequestsAndMissing(t *testing.T) {
	state := testState()
	r := NewVoteRegistry(state, testStakes(t, 50, 50, 50))
	held := signedVote(t, state, nil, 1)
	addVotes(t, r, held)

	unknown := signedVote(t, state, nil, 2)
	require.Equal(t, 1, r.NoteMissing([]types.Hash{held.ID(), unknown.ID()}))
	require.Equal(t, 0, r.NoteMissing([]types.Hash{unknown.ID()}))
	require.Equal(t, []types.Hash{unknown.ID()}, r.Missing())

	addVotes(t, r, unknown)
	require.Empty(t, r.Missing())

	require.True(t, r.MarkRequested(held.ID()))
	require.False(t, r.MarkRequested(*hashOf("nothing")))
	require.Equal(t, []*types.ValidatorVote{held}, r.TakeRequested())
	require.Empty(t, r.TakeRequested())
}

func TestRegistryConflictsWith(t *testing.T) {
	state := testState()
	r := NewVoteRegistry(state, testStakes(t, 50, 50, 50))
	a := hashOf("a")
	v1 := signedVote(t, state, a, 1)
	v2 := signedVote(t, state, nil, 2)
	v3 := signedVote(t, state, a, 3)
	addVotes(t, r, v1, v2, v3)

	conflicts := r.ConflictsWith([]types.Hash{v1.ID(), v2.ID(), v3.ID()}, a)
	require.Equal(t, []*types.ValidatorVote{v2}, conflicts)
	require.Empty(t, r.ConflictsWith([]types.Hash{v2.ID()}, nil))
}

func TestRegistryIDsSorted(t *testing.T) {
	state := testState()
	r := NewVoteRegistry(state, testStakes(t, 50, 50, 50))
	addVotes(t, r,
		signedVote(t, state, nil, 1),
		signedVote(t, state, nil, 2),
		signedVote(t, state, nil, 3),
	)
	ids := r.IDs()
	require.Len(t, ids, 3)
	for i := 1; i < len(ids); i++ {
		require.True(t, ids[i-1].Less(ids[i]))
	}
}
