package engine

import (
	"fmt"
	"time"

	"github.com/blockberries/ckptberry/ledger"
	"github.com/blockberries/ckptberry/types"
)

// TimeoutConfig holds every timer of checkpoint creation.
type TimeoutConfig struct {
	// Creation bounds one checkpoint attempt, restarted on every round 0
	// of AGREE_VALIDATOR.
	Creation time.Duration

	PriorityReceive    time.Duration
	HashReceive        time.Duration
	ContentReceive     time.Duration
	ContentPending     time.Duration
	TransitionBuffer   time.Duration
	MajorityPost       time.Duration
	Stalemate          time.Duration
	StalemateSwitch    time.Duration
	MissingVotes       time.Duration
	VoteChecklist      time.Duration
	RequestedVotes     time.Duration
	DistributionEval   time.Duration
	PrevVotesBroadcast time.Duration
	VoteRetry          time.Duration

	SyncDAGCheck  time.Duration
	SyncChecklist time.Duration
	SyncFetch     time.Duration
	SyncResponse  time.Duration
}

// DefaultTimeoutConfig returns the network defaults.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Creation:           600 * time.Second,
		PriorityReceive:    30 * time.Second,
		HashReceive:        20 * time.Second,
		ContentReceive:     60 * time.Second,
		ContentPending:     30 * time.Second,
		TransitionBuffer:   5 * time.Second,
		MajorityPost:       3500 * time.Millisecond,
		Stalemate:          30 * time.Second,
		StalemateSwitch:    5 * time.Second,
		MissingVotes:       5 * time.Second,
		VoteChecklist:      4 * time.Second,
		RequestedVotes:     4 * time.Second,
		DistributionEval:   2 * time.Second,
		PrevVotesBroadcast: 8 * time.Second,
		VoteRetry:          6 * time.Second,
		SyncDAGCheck:       3 * time.Second,
		SyncChecklist:      16 * time.Second,
		SyncFetch:          4 * time.Second,
		SyncResponse:       5 * time.Second,
	}
}

// StepBudget is how long a step may run before a PASS majority is
// synthesized: the step's own receive window plus the stalemate time.
func (tc TimeoutConfig) StepBudget(s types.Status) time.Duration {
	switch s {
	case types.StatusAgreeValidator:
		return tc.PriorityReceive + tc.Stalemate
	case types.StatusAgreeHash:
		return tc.HashReceive + tc.Stalemate
	case types.StatusAgreeContent:
		return tc.ContentReceive + tc.ContentPending + tc.Stalemate
	default:
		return 0
	}
}

func (tc TimeoutConfig) validate() error {
	named := []struct {
		name string
		d    time.Duration
	}{
		{"creation", tc.Creation},
		{"priority_receive", tc.PriorityReceive},
		{"hash_receive", tc.HashReceive},
		{"content_receive", tc.ContentReceive},
		{"content_pending", tc.ContentPending},
		{"transition_buffer", tc.TransitionBuffer},
		{"majority_post", tc.MajorityPost},
		{"stalemate", tc.Stalemate},
		{"stalemate_switch", tc.StalemateSwitch},
		{"missing_votes", tc.MissingVotes},
		{"vote_checklist", tc.VoteChecklist},
		{"requested_votes", tc.RequestedVotes},
		{"distribution_eval", tc.DistributionEval},
		{"prev_votes_broadcast", tc.PrevVotesBroadcast},
		{"vote_retry", tc.VoteRetry},
		{"sync_dag_check", tc.SyncDAGCheck},
		{"sync_checklist", tc.SyncChecklist},
		{"sync_fetch", tc.SyncFetch},
		{"sync_response", tc.SyncResponse},
	}
	for _, n := range named {
		if n.d <= 0 {
			return fmt.Errorf("%w: timeout %s must be positive", ErrInvalidConfig, n.name)
		}
	}
	return nil
}

// Config holds configuration for the consensus engine
type Config struct {
	Timeouts TimeoutConfig

	// AckLength is the number of distinct acknowledgements a transaction
	// needs before it is folded into a checkpoint.
	AckLength uint32

	// Fees and Reward are passed to checkpoint construction and
	// verification.
	Fees   types.FeeSchedule
	Reward types.Amount

	// ParticipationThreshold is the stake a key must exceed to compete for
	// a round.
	ParticipationThreshold types.Amount

	// MockContent proposes raw transaction lists instead of checkpoints.
	MockContent bool

	// MaxQueuedPriorities bounds priorities held for the next round.
	MaxQueuedPriorities int

	// WALSync forces a sync on every transition write.
	WALSync bool
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Timeouts:               DefaultTimeoutConfig(),
		AckLength:              3,
		Fees:                   types.NoFee{},
		ParticipationThreshold: types.NewAmount(10),
		MaxQueuedPriorities:    256,
		WALSync:                true,
	}
}

// ValidateBasic performs basic validation of the config
func (cfg *Config) ValidateBasic() error {
	if err := cfg.Timeouts.validate(); err != nil {
		return err
	}
	if cfg.Fees == nil {
		return fmt.Errorf("%w: no fee schedule", ErrInvalidConfig)
	}
	if cfg.MaxQueuedPriorities < 0 {
		return fmt.Errorf("%w: negative priority queue size", ErrInvalidConfig)
	}
	return nil
}

func (cfg *Config) buildOptions() ledger.BuildOptions {
	return ledger.BuildOptions{Fees: cfg.Fees, Reward: cfg.Reward}
}
