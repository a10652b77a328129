package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/ckptberry/types"
)

func TestClassifyTransitions(t *testing.T) {
	base := testState()
	validator := testPub(1)
	other := testPub(2)
	content := types.HashBytes([]byte("content"))

	hashStep := base.WithValidator(validator)
	contentStep := hashStep.WithContentHash(content)
	committed := contentStep.Committed()

	cases := []struct {
		name string
		prev types.CreationState
		next types.CreationState
		kind TransitionKind
		ok   bool
	}{
		{"validator agreed", base, hashStep, TransitionAdvance, true},
		{"hash agreed", hashStep, contentStep, TransitionAdvance, true},
		{"content agreed", contentStep, committed, TransitionCommit, true},
		{"pass from validator step", base, base.NextRound(), TransitionPass, true},
		{"pass from content step", contentStep, contentStep.NextRound(), TransitionPass, true},
		{"new checkpoint from committed", committed, types.NewCreationState(content), TransitionCheckpoint, true},
		{"new checkpoint mid round", hashStep, types.NewCreationState(content), TransitionCheckpoint, true},

		{"new checkpoint not at round 0", base, types.NewCreationState(content).NextRound(), 0, false},
		{"committed stays committed", committed, committed.NextRound(), 0, false},
		{"round skipped", base, base.NextRound().NextRound(), 0, false},
		{"round regression", base.NextRound(), base, 0, false},
		{"step skipped", base, contentStep, 0, false},
		{"same state", hashStep, hashStep, 0, false},
		{"hash step without validator", base, types.CreationState{
			LastCommonString: base.LastCommonString, Status: types.StatusAgreeHash,
		}, 0, false},
		{"validator changed", hashStep, base.WithValidator(other).WithContentHash(content), 0, false},
		{"content changed", contentStep, hashStep.WithContentHash(*hashOf("other")).Committed(), 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind, err := classify(tc.prev, tc.next)
			if !tc.ok {
				require.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.kind, kind)
		})
	}
}

func TestConsensusStateTransition(t *testing.T) {
	initial := testState()
	cs := NewConsensusState(initial, time.Minute, nil, true, nil)
	cs.Restore(t0, initial)
	require.Equal(t, t0.Add(time.Minute), cs.CreationDeadline())

	next := initial.WithValidator(testPub(1))
	require.NoError(t, cs.Transition(t0.Add(time.Second), 1, next, nil))
	require.True(t, cs.State().Equal(next))
	require.True(t, cs.Previous().Equal(initial))

	// advancing a step keeps the creation deadline
	require.Equal(t, t0.Add(time.Minute), cs.CreationDeadline())

	err := cs.Transition(t0.Add(2*time.Second), 1, initial, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.True(t, cs.State().Equal(next))

	log := cs.Transitions()
	require.Len(t, log, 2)
	require.Equal(t, TransitionRestore, log[0].Kind)
	require.Equal(t, TransitionAdvance, log[1].Kind)
}

func TestConsensusStateCreationDeadline(t *testing.T) {
	initial := testState()
	cs := NewConsensusState(initial, time.Minute, nil, false, nil)
	cs.Restore(t0, initial)

	// a pass keeps the deadline of the attempt
	require.NoError(t, cs.Transition(t0.Add(10*time.Second), 1, initial.NextRound(), nil))
	require.Equal(t, t0.Add(time.Minute), cs.CreationDeadline())

	// a new checkpoint restarts it
	fresh := types.NewCreationState(*hashOf("next checkpoint"))
	require.NoError(t, cs.Transition(t0.Add(20*time.Second), 2, fresh, nil))
	require.Equal(t, t0.Add(80*time.Second), cs.CreationDeadline())
}

func TestConsensusStateRecordsVotes(t *testing.T) {
	initial := testState()
	cs := NewConsensusState(initial, time.Minute, nil, false, nil)
	votes := []*types.ValidatorVote{
		signedVote(t, initial, nil, 1),
		signedVote(t, initial, nil, 2),
	}
	require.NoError(t, cs.Transition(t0, 1, initial.NextRound(), votes))

	log := cs.Transitions()
	require.Len(t, log, 1)
	require.Equal(t, TransitionPass, log[0].Kind)
	require.Equal(t, []types.Hash{votes[0].ID(), votes[1].ID()}, log[0].Votes)
}

func TestTransitionLogIsBounded(t *testing.T) {
	state := testState()
	cs := NewConsensusState(state, time.Hour, nil, false, nil)
	for i := 0; i < maxTransitionLog+10; i++ {
		next := state.NextRound()
		require.NoError(t, cs.Transition(t0, 1, next, nil))
		state = next
	}
	log := cs.Transitions()
	require.Len(t, log, maxTransitionLog)
	require.Equal(t, state.Round, log[len(log)-1].Next.Round)
}
