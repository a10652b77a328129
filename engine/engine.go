package engine

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/blockberries/ckptberry/evidence"
	"github.com/blockberries/ckptberry/ledger"
	"github.com/blockberries/ckptberry/logger"
	"github.com/blockberries/ckptberry/privval"
	"github.com/blockberries/ckptberry/types"
	"github.com/blockberries/ckptberry/wal"
)

// knownItemsSize bounds the cache of items this engine can serve to peers.
const knownItemsSize = 4096

// Messenger sends items to the network. Implementations must not call back
// into the engine synchronously.
type Messenger interface {
	Broadcast(items ...types.Item)
	Request(t types.ItemType, qualifier string)
	Checklist(t types.ItemType, qualifiers []string)
}

// DAG is the local ledger DAG as the engine reads it.
type DAG interface {
	ledger.DAG
	LatestCheckpoint() types.Base
}

// Agent is the validator process hosting the engine.
type Agent interface {
	ledger.Fetcher

	// Signers returns the local validator keys.
	Signers() []privval.PrivValidator

	DAG() DAG

	// InjectCheckpoint adds ckpt to the DAG and makes it the accepted
	// checkpoint of the service.
	InjectCheckpoint(ckpt *types.Checkpoint) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics exports engine metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithEvidencePool reports conflicting votes to pool.
func WithEvidencePool(pool *evidence.Pool) Option {
	return func(e *Engine) { e.evpool = pool }
}

// Engine drives checkpoint creation for the local validator keys. It owns
// no goroutine: the host feeds received items through HandleItem and the
// clock through Tick.
type Engine struct {
	mu sync.Mutex

	cfg     *Config
	agent   Agent
	svc     ledger.Service
	msgr    Messenger
	wal     wal.WAL
	metrics *Metrics
	evpool  *evidence.Pool
	log     *zap.Logger

	cs    *ConsensusState
	sched *Schedule
	known *lru.Cache
	sync  *synchronizer

	// stake snapshot of the current checkpoint round
	stakes    *types.StakeTable
	stakesFor types.Hash

	registry     *VoteRegistry
	prevRegistry *VoteRegistry
	// majority waiting out the transition buffer
	pending *Tally

	step     *stepState
	proposal *ownProposal
	queued   []*types.Priority

	now     time.Time
	started bool
	idle    bool
}

// NewEngine creates an engine. svc must already reflect the latest accepted
// checkpoint.
func NewEngine(cfg *Config, agent Agent, svc ledger.Service, msgr Messenger, w wal.WAL, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.ValidateBasic(); err != nil {
		return nil, err
	}
	known, err := lru.New(knownItemsSize)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = &wal.NopWAL{}
	}
	e := &Engine{
		cfg:   cfg,
		agent: agent,
		svc:   svc,
		msgr:  msgr,
		wal:   w,
		sched: NewSchedule(),
		known: known,
		step:  newStepState(),
		log:   logger.Named("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NopMetrics()
	}
	e.sync = newSynchronizer(e)
	return e, nil
}

// Start opens the WAL, restores the last state it recorded for the current
// checkpoint height and begins the round.
func (e *Engine) Start(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return ErrAlreadyStarted
	}
	if err := e.wal.Start(); err != nil {
		return fmt.Errorf("failed to start WAL: %w", err)
	}
	e.now = now

	initial := types.NewCreationState(e.svc.CheckpointID())
	replayed, err := e.replayWAL(e.svc.Height() + 1)
	if err != nil {
		e.log.Warn("WAL replay failed, starting fresh", zap.Error(err))
		replayed = nil
	}
	if replayed != nil && replayed.State != nil {
		initial = *replayed.State
	}

	e.cs = NewConsensusState(initial, e.cfg.Timeouts.Creation, e.wal, e.cfg.WALSync, e.metrics)
	e.sync.reset()
	e.started = true
	e.idle = false
	e.metrics.CheckpointHeight.Set(float64(e.svc.Height()))

	e.cs.Restore(now, initial)
	e.enter(now)
	if replayed != nil {
		e.restoreOwnItems(now, replayed)
	}
	e.armPeriodic(now)

	e.log.Info("engine started",
		zap.Uint64("height", e.svc.Height()),
		zap.Object("state", initial),
		zap.Int("signers", len(e.agent.Signers())))
	return nil
}

// Stop closes the WAL. Pending deadlines are dropped.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return ErrNotStarted
	}
	e.started = false
	e.sched.Clear()
	if err := e.wal.Stop(); err != nil {
		return fmt.Errorf("failed to stop WAL: %w", err)
	}
	return nil
}

// Resume starts a fresh attempt on top of the accepted checkpoint after a
// creation timeout.
func (e *Engine) Resume(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return ErrNotStarted
	}
	e.now = now
	e.idle = false
	e.sched.Clear()
	e.cs.Restore(now, types.NewCreationState(e.svc.CheckpointID()))
	e.enter(now)
	e.armPeriodic(now)
	return nil
}

// Tick advances the engine clock and runs every deadline due at now. It
// returns ErrCreationTimedOut once when the current attempt is abandoned.
func (e *Engine) Tick(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return ErrNotStarted
	}
	if e.idle {
		return nil
	}
	e.now = now

	if deadline := e.cs.CreationDeadline(); !deadline.IsZero() && !now.Before(deadline) {
		e.idle = true
		e.sched.Clear()
		e.metrics.CreationTimeouts.Inc()
		e.log.Warn("checkpoint creation timed out",
			zap.Object("state", e.cs.State()),
			zap.Time("deadline", deadline))
		return ErrCreationTimedOut
	}
	e.sched.Run(now)
	return nil
}

// NextDeadline returns when Tick next has work to do.
func (e *Engine) NextDeadline() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sched.Next()
}

// HandleItem processes an item received from the network.
func (e *Engine) HandleItem(item types.Item) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return ErrNotStarted
	}
	if e.idle {
		return ErrIdle
	}

	var err error
	switch it := item.(type) {
	case *types.Priority:
		err = e.handlePriority(it)
	case *types.ValidatorVote:
		err = e.handleVote(it)
	case *types.MajorityVotes:
		err = e.handleMajority(it)
	case *types.CkptHash:
		err = e.handleHash(it)
	case *types.CkptData:
		err = e.handleContent(it)
	case *types.MockCkptData:
		err = e.handleContent(it)
	case *types.CkptSync:
		err = e.sync.handle(e.now, it)
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownItemType, item)
	}

	label := item.ItemType().String()
	if err != nil {
		e.metrics.ItemsRejected.WithLabelValues(label).Inc()
		e.log.Debug("item dropped",
			zap.Stringer("type", item.ItemType()),
			zap.String("id", item.ID().Short()),
			zap.Error(err))
		return err
	}
	e.metrics.ItemsAccepted.WithLabelValues(label).Inc()
	return nil
}

// OnItemRequest answers a peer asking for an item. It reports whether the
// item is held; the item itself is sent through the Messenger.
func (e *Engine) OnItemRequest(t types.ItemType, qualifier string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := types.ParseQualifier(qualifier)
	if err != nil || !e.started {
		return false
	}
	switch t {
	case types.ItemValidatorVote:
		if e.prevRegistry != nil && e.prevRegistry.MarkRequested(id) {
			return true
		}
		if e.registry != nil && e.registry.MarkRequested(id) {
			return true
		}
	case types.ItemCkpt:
		return e.sync.onRequest(id)
	}
	if it, ok := e.lookup(id); ok && it.ItemType() == t {
		e.msgr.Broadcast(it)
		return true
	}
	return false
}

// OnItemChecklist takes the qualifiers a peer holds.
func (e *Engine) OnItemChecklist(t types.ItemType, qualifiers []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started || e.idle {
		return
	}
	ids := parseQualifiers(qualifiers)
	switch t {
	case types.ItemValidatorVote:
		if e.registry != nil {
			e.registry.NoteMissing(ids)
		}
	case types.ItemCkpt:
		e.sync.onChecklist(ids)
	default:
		for _, id := range ids {
			if !e.known.Contains(id) {
				e.msgr.Request(t, types.Qualifier(id))
			}
		}
	}
}

// OnItemNotFound is called when a peer does not hold a requested item.
func (e *Engine) OnItemNotFound(t types.ItemType, qualifier string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := types.ParseQualifier(qualifier)
	if err != nil {
		return
	}
	if t == types.ItemCkpt {
		e.sync.onNotFound(id)
		return
	}
	e.log.Debug("item not found", zap.Stringer("type", t), zap.String("id", id.Short()))
}

// State returns the current creation state.
func (e *Engine) State() types.CreationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cs == nil {
		return types.NewCreationState(e.svc.CheckpointID())
	}
	return e.cs.State()
}

// Transitions returns the in-memory transition log.
func (e *Engine) Transitions() []Transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cs == nil {
		return nil
	}
	return e.cs.Transitions()
}

// Status is a point-in-time summary of the engine.
type Status struct {
	State        types.CreationState `json:"state"`
	Height       uint64              `json:"height"`
	CheckpointID types.Hash          `json:"checkpoint_id"`
	Votes        int                 `json:"votes"`
	Deadlines    int                 `json:"deadlines"`
	Started      bool                `json:"started"`
	Idle         bool                `json:"idle"`
}

// Status returns a summary of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{
		Height:       e.svc.Height(),
		CheckpointID: e.svc.CheckpointID(),
		Deadlines:    e.sched.Len(),
		Started:      e.started,
		Idle:         e.idle,
	}
	if e.cs != nil {
		s.State = e.cs.State()
	}
	if e.registry != nil {
		s.Votes = e.registry.Len()
	}
	return s
}

// transition validates and records next, then enters it.
func (e *Engine) transition(now time.Time, next types.CreationState, votes []*types.ValidatorVote) error {
	if err := e.cs.Transition(now, e.svc.Height()+1, next, votes); err != nil {
		e.log.Error("transition refused", zap.Object("next", next), zap.Error(err))
		return err
	}
	e.enter(now)
	return nil
}

// step task names; every one is cancelled on a transition
const (
	taskStepTimeout      = "step-timeout"
	taskTransitionBuffer = "transition-buffer"
	taskMajorityPost     = "majority-post"
	taskStalemateSwitch  = "stalemate-switch"
	taskVoteRetry        = "vote-retry"
	taskPriorityVote     = "priority-vote"
	taskHashVote         = "hash-vote"
	taskContentVote      = "content-vote"
	taskContentPending   = "content-pending"
	taskContentRecheck   = "content-recheck"
)

var stepTasks = []string{
	taskStepTimeout, taskTransitionBuffer, taskMajorityPost, taskStalemateSwitch, taskVoteRetry,
	taskPriorityVote, taskHashVote, taskContentVote, taskContentPending, taskContentRecheck,
}

// enter sets up the vote registry, the handlers and the step deadlines of
// the current state.
func (e *Engine) enter(now time.Time) {
	state := e.cs.State()
	for _, name := range stepTasks {
		e.sched.Cancel(name)
	}
	e.pending = nil
	e.step = newStepState()
	if state.Status == types.StatusCommitted {
		return
	}

	if e.stakes == nil || e.stakesFor != state.LastCommonString {
		st, err := e.svc.StakeTable()
		if err != nil {
			e.log.Error("no stake table for round", zap.Object("state", state), zap.Error(err))
			e.stakes = nil
		} else {
			e.stakes = st
			e.stakesFor = state.LastCommonString
		}
	}
	e.prevRegistry = e.registry
	e.registry = nil
	if e.stakes != nil {
		e.registry = NewVoteRegistry(state, e.stakes)
	}

	e.sched.At(taskStepTimeout, now.Add(e.cfg.Timeouts.StepBudget(state.Status)), func(now time.Time) {
		e.onStepTimeout(now, state)
	})

	switch state.Status {
	case types.StatusAgreeValidator:
		e.enterAgreeValidator(now)
	case types.StatusAgreeHash:
		e.enterAgreeHash(now)
	case types.StatusAgreeContent:
		e.enterAgreeContent(now)
	}
}

// armPeriodic schedules the tasks that run for the engine's lifetime.
func (e *Engine) armPeriodic(now time.Time) {
	tc := e.cfg.Timeouts
	e.sched.Every("vote-checklist", now, tc.VoteChecklist, e.broadcastVoteChecklist)
	e.sched.Every("missing-votes", now, tc.MissingVotes, e.requestMissingVotes)
	e.sched.Every("requested-votes", now, tc.RequestedVotes, e.sendRequestedVotes)
	e.sched.Every("distribution", now, tc.DistributionEval, e.evaluate)
	e.sched.Every("prev-votes", now, tc.PrevVotesBroadcast, e.rebroadcastPrevMajority)
	e.sched.Every("sync-dag", now, tc.SyncDAGCheck, e.sync.checkDAG)
	e.sched.Every("sync-checklist", now, tc.SyncChecklist, e.sync.broadcastChecklist)
	e.sched.Every("sync-fetch", now, tc.SyncFetch, e.sync.fetch)
	e.sched.Every("sync-response", now, tc.SyncResponse, e.sync.respond)
}

// onStepTimeout gives up on state: a PASS majority is synthesized from the
// votes held and the round advances.
func (e *Engine) onStepTimeout(now time.Time, state types.CreationState) {
	if !e.cs.State().Equal(state) {
		return
	}
	var ids []types.Hash
	if e.registry != nil {
		ids = e.registry.IDs()
	}
	item := types.NewMajorityVotes(state, ids, nil)
	if e.registry != nil {
		e.registry.SetMajority(item)
	}
	e.remember(item)
	e.msgr.Broadcast(item)

	e.log.Warn("step timed out, passing round",
		zap.Object("state", state),
		zap.Int("votes", len(ids)))
	_ = e.transition(now, state.NextRound(), nil)
}

// inject accepts ckpt as the latest checkpoint and starts round 0 on top
// of it.
func (e *Engine) inject(now time.Time, ckpt *types.Checkpoint) error {
	if err := e.agent.InjectCheckpoint(ckpt); err != nil {
		return err
	}
	msg, err := wal.NewCommitMessage(ckpt)
	if err == nil {
		err = e.wal.WriteSync(msg)
	}
	if err != nil {
		e.log.Error("failed to log commit", zap.Error(err))
	}
	e.sync.record(ckpt)
	if e.evpool != nil {
		e.evpool.Update(ckpt.Height, now)
	}
	e.metrics.CheckpointHeight.Set(float64(ckpt.Height))
	e.log.Info("checkpoint accepted", zap.Object("checkpoint", ckpt))
	return e.transition(now, types.NewCreationState(ckpt.ID()), nil)
}

func (e *Engine) remember(it types.Item) {
	e.known.Add(it.ID(), it)
}

func (e *Engine) lookup(id types.Hash) (types.Item, bool) {
	v, ok := e.known.Get(id)
	if !ok {
		return nil, false
	}
	it, ok := v.(types.Item)
	return it, ok
}

func (e *Engine) isLocal(pk types.PublicKey) (privval.PrivValidator, bool) {
	for _, pv := range e.agent.Signers() {
		if pv.PubKey() == pk {
			return pv, true
		}
	}
	return nil, false
}

func parseQualifiers(qs []string) []types.Hash {
	ids := make([]types.Hash, 0, len(qs))
	for _, q := range qs {
		id, err := types.ParseQualifier(q)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func qualifiers(ids []types.Hash) []string {
	qs := make([]string, len(ids))
	for i, id := range ids {
		qs[i] = types.Qualifier(id)
	}
	return qs
}
