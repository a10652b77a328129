package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/blockberries/ckptberry/logger"
	"github.com/blockberries/ckptberry/types"
	"github.com/blockberries/ckptberry/wal"
)

// maxTransitionLog bounds the in-memory transition log. The WAL keeps the
// full history.
const maxTransitionLog = 1024

// TransitionKind classifies a transition.
type TransitionKind uint8

const (
	// TransitionAdvance moves to the next step of the same round.
	TransitionAdvance TransitionKind = iota + 1
	// TransitionPass moves to AGREE_VALIDATOR of the next round.
	TransitionPass
	// TransitionCommit marks the content agreed.
	TransitionCommit
	// TransitionCheckpoint starts round 0 on top of a new checkpoint.
	TransitionCheckpoint
	// TransitionRestore sets the state without validation, after a restart
	// or a resume.
	TransitionRestore
)

func (k TransitionKind) String() string {
	switch k {
	case TransitionAdvance:
		return "advance"
	case TransitionPass:
		return "pass"
	case TransitionCommit:
		return "commit"
	case TransitionCheckpoint:
		return "checkpoint"
	case TransitionRestore:
		return "restore"
	default:
		return fmt.Sprintf("TransitionKind(%d)", uint8(k))
	}
}

// Transition is one entry of the transition log.
type Transition struct {
	Prev  types.CreationState
	Next  types.CreationState
	Kind  TransitionKind
	Votes []types.Hash
	At    time.Time
}

// ConsensusState owns the current creation state, the transition log and
// the creation timer.
type ConsensusState struct {
	state types.CreationState
	prev  types.CreationState

	transitions []Transition

	creation         time.Duration
	creationDeadline time.Time

	wal     wal.WAL
	walSync bool
	metrics *Metrics
	log     *zap.Logger
}

// NewConsensusState creates a state machine positioned at initial. Nothing
// is logged until the first transition.
func NewConsensusState(initial types.CreationState, creation time.Duration, w wal.WAL, walSync bool, m *Metrics) *ConsensusState {
	if w == nil {
		w = &wal.NopWAL{}
	}
	if m == nil {
		m = NopMetrics()
	}
	return &ConsensusState{
		state:    initial,
		prev:     initial,
		creation: creation,
		wal:      w,
		walSync:  walSync,
		metrics:  m,
		log:      logger.Named("state"),
	}
}

// State returns the current creation state.
func (cs *ConsensusState) State() types.CreationState { return cs.state }

// Previous returns the state before the last transition.
func (cs *ConsensusState) Previous() types.CreationState { return cs.prev }

// CreationDeadline is when the current checkpoint attempt is abandoned.
func (cs *ConsensusState) CreationDeadline() time.Time { return cs.creationDeadline }

// Transitions returns a copy of the transition log, oldest first.
func (cs *ConsensusState) Transitions() []Transition {
	return append([]Transition(nil), cs.transitions...)
}

// classify validates prev -> next and names the transition.
func classify(prev, next types.CreationState) (TransitionKind, error) {
	fail := func(format string, args ...interface{}) (TransitionKind, error) {
		return 0, fmt.Errorf("%w: %s -> %s: %s", ErrInvalidTransition, prev, next, fmt.Sprintf(format, args...))
	}
	if prev.LastCommonString != next.LastCommonString {
		if !next.IsNewCheckpointRound() || next.ChosenValidator != nil || next.ContentHash != nil {
			return fail("a new checkpoint starts at round 0 of AGREE_VALIDATOR")
		}
		return TransitionCheckpoint, nil
	}
	if prev.Status == types.StatusCommitted {
		return fail("committed state only leaves for a new checkpoint")
	}
	switch {
	case next.Round < prev.Round:
		return fail("round went backwards")
	case next.Round > prev.Round:
		if next.Round != prev.Round+1 {
			return fail("round skipped")
		}
		if next.Status != types.StatusAgreeValidator || next.ChosenValidator != nil || next.ContentHash != nil {
			return fail("a new round starts clean at AGREE_VALIDATOR")
		}
		return TransitionPass, nil
	}
	if next.Status != prev.Status+1 {
		return fail("step must advance by one")
	}
	switch next.Status {
	case types.StatusAgreeHash:
		if next.ChosenValidator == nil {
			return fail("no chosen validator")
		}
	case types.StatusAgreeContent, types.StatusCommitted:
		if next.ContentHash == nil {
			return fail("no content hash")
		}
		if next.ChosenValidator == nil || prev.ChosenValidator == nil || *next.ChosenValidator != *prev.ChosenValidator {
			return fail("chosen validator changed")
		}
		if next.Status == types.StatusCommitted && (prev.ContentHash == nil || *prev.ContentHash != *next.ContentHash) {
			return fail("content hash changed")
		}
	}
	if next.Status == types.StatusCommitted {
		return TransitionCommit, nil
	}
	return TransitionAdvance, nil
}

// Transition moves to next on the strength of votes. height is the
// checkpoint height being created. The transition is written to the WAL
// before it takes effect.
func (cs *ConsensusState) Transition(now time.Time, height uint64, next types.CreationState, votes []*types.ValidatorVote) error {
	kind, err := classify(cs.state, next)
	if err != nil {
		return err
	}
	msg, err := wal.NewTransitionMessage(height, cs.state, next, len(votes))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWALWrite, err)
	}
	write := cs.wal.Write
	if cs.walSync {
		write = cs.wal.WriteSync
	}
	if err := write(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrWALWrite, err)
	}
	cs.apply(now, next, kind, votes)
	return nil
}

// Restore sets the state without validation or WAL write. The creation
// timer restarts.
func (cs *ConsensusState) Restore(now time.Time, next types.CreationState) {
	cs.apply(now, next, TransitionRestore, nil)
}

func (cs *ConsensusState) apply(now time.Time, next types.CreationState, kind TransitionKind, votes []*types.ValidatorVote) {
	ids := make([]types.Hash, len(votes))
	for i, v := range votes {
		ids[i] = v.ID()
	}
	t := Transition{Prev: cs.state, Next: next, Kind: kind, Votes: ids, At: now}
	cs.transitions = append(cs.transitions, t)
	if len(cs.transitions) > maxTransitionLog {
		cs.transitions = cs.transitions[len(cs.transitions)-maxTransitionLog:]
	}

	cs.log.Info("state transition",
		zap.Stringer("kind", kind),
		zap.Object("prev", cs.state),
		zap.Object("next", next),
		zap.Int("votes", len(votes)))

	cs.prev, cs.state = cs.state, next
	if next.IsNewCheckpointRound() || kind == TransitionRestore {
		cs.creationDeadline = now.Add(cs.creation)
	}

	cs.metrics.Transitions.WithLabelValues(kind.String()).Inc()
	cs.metrics.Round.Set(float64(next.Round))
	cs.metrics.Status.Set(float64(next.Status))
}
