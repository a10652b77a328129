package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/blockberries/ckptberry/ledger"
	"github.com/blockberries/ckptberry/sortition"
	"github.com/blockberries/ckptberry/types"
)

// stepState is what the handlers gathered in the current state.
type stepState struct {
	voted  bool
	passed bool

	// AGREE_VALIDATOR
	priorities map[types.Hash]*types.Priority
	rejected   map[types.Hash]struct{}
	best       *types.Priority

	// AGREE_HASH
	hashes map[types.Hash]*types.CkptHash

	// AGREE_CONTENT
	contents map[types.Hash]types.ContentItem
	content  types.ContentItem
}

func newStepState() *stepState {
	return &stepState{
		priorities: make(map[types.Hash]*types.Priority),
		rejected:   make(map[types.Hash]struct{}),
		hashes:     make(map[types.Hash]*types.CkptHash),
		contents:   make(map[types.Hash]types.ContentItem),
	}
}

// Priority handler

func (e *Engine) enterAgreeValidator(now time.Time) {
	state := e.cs.State()
	e.proposal = nil

	if e.stakes != nil {
		for _, pv := range e.agent.Signers() {
			stake := e.stakes.StakeOf(pv.PubKey())
			if stake.Cmp(e.cfg.ParticipationThreshold) <= 0 {
				continue
			}
			p, err := sortition.ComputePriority(state, pv, stake)
			if err != nil {
				e.log.Error("failed to compute priority", zap.String("key", pv.PubKey().Short()), zap.Error(err))
				continue
			}
			e.step.priorities[p.ID()] = p
			e.remember(p)
			e.considerPriority(p)
			e.msgr.Broadcast(p)
		}
	}

	queued := e.queued
	e.queued = nil
	for _, p := range queued {
		if p.State.Equal(state) {
			if err := e.acceptPriority(p); err != nil {
				e.log.Debug("queued priority rejected", zap.Object("priority", p), zap.Error(err))
			}
		}
	}

	e.sched.At(taskPriorityVote, now.Add(e.cfg.Timeouts.PriorityReceive), e.votePriority)
}

func (e *Engine) handlePriority(p *types.Priority) error {
	if err := p.VerifySignature(); err != nil {
		return err
	}
	state := e.cs.State()
	switch {
	case p.State.Equal(state):
		return e.acceptPriority(p)
	case p.State.Equal(state.NextRound()):
		if len(e.queued) >= e.cfg.MaxQueuedPriorities {
			return fmt.Errorf("%w: next-round queue full", ErrWrongState)
		}
		for _, q := range e.queued {
			if q.ID() == p.ID() {
				return nil
			}
		}
		e.queued = append(e.queued, p)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrWrongState, p.State)
	}
}

// acceptPriority verifies a priority of the current state against the stake
// snapshot.
func (e *Engine) acceptPriority(p *types.Priority) error {
	id := p.ID()
	if _, ok := e.step.priorities[id]; ok {
		return nil
	}
	if _, ok := e.step.rejected[id]; ok {
		return nil
	}
	if e.stakes == nil {
		return ErrNoStakeTable
	}
	e.remember(p)
	if err := sortition.VerifyPriority(p, e.stakes.StakeOf(p.PubKey), e.cfg.ParticipationThreshold); err != nil {
		e.step.rejected[id] = struct{}{}
		return err
	}
	e.step.priorities[id] = p
	e.considerPriority(p)
	return nil
}

func (e *Engine) considerPriority(p *types.Priority) {
	greater, err := p.IsGreaterThan(e.step.best)
	if err != nil {
		e.log.Warn("priorities cannot be ordered", zap.Object("priority", p), zap.Error(err))
		return
	}
	if greater {
		e.step.best = p
	}
}

// votePriority runs when the priority receive window closes.
func (e *Engine) votePriority(now time.Time) {
	if e.step.best == nil {
		e.log.Info("no priority received, passing", zap.Object("state", e.cs.State()))
		e.castVote(now, nil)
		return
	}
	id := e.step.best.ID()
	e.castVote(now, &id)
}

// Hash handler

func (e *Engine) enterAgreeHash(now time.Time) {
	state := e.cs.State()
	if pv, ok := e.isLocal(*state.ChosenValidator); ok {
		e.proposeHash(pv)
	}
	e.sched.At(taskHashVote, now.Add(e.cfg.Timeouts.HashReceive), e.voteHash)
}

func (e *Engine) handleHash(h *types.CkptHash) error {
	state := e.cs.State()
	if state.Status != types.StatusAgreeHash || !h.State.Equal(state) {
		return fmt.Errorf("%w: %s", ErrWrongState, h.State)
	}
	if signer, ok := h.Signer(); !ok || signer != *state.ChosenValidator {
		return ErrNotChosen
	}
	if err := h.VerifySignature(); err != nil {
		return err
	}
	id := h.ID()
	if _, ok := e.step.hashes[id]; ok {
		return nil
	}
	e.step.hashes[id] = h
	e.remember(h)
	if len(e.step.hashes) > 1 {
		e.log.Warn("chosen validator sent conflicting hashes",
			zap.String("validator", state.ChosenValidator.Short()))
		e.castVote(e.now, nil)
	}
	return nil
}

// voteHash runs when the hash receive window closes.
func (e *Engine) voteHash(now time.Time) {
	if len(e.step.hashes) != 1 {
		e.castVote(now, nil)
		return
	}
	for id := range e.step.hashes {
		id := id
		e.castVote(now, &id)
	}
}

// Content handler

func (e *Engine) enterAgreeContent(now time.Time) {
	state := e.cs.State()
	if pv, ok := e.isLocal(*state.ChosenValidator); ok {
		e.proposeContent(pv)
	}
	e.sched.At(taskContentVote, now.Add(e.cfg.Timeouts.ContentReceive), func(now time.Time) {
		if e.step.content == nil {
			e.log.Info("no content received, passing", zap.Object("state", e.cs.State()))
			e.castVote(now, nil)
		}
	})
}

func (e *Engine) handleContent(c types.ContentItem) error {
	state := e.cs.State()
	if state.Status != types.StatusAgreeContent || !c.ItemState().Equal(state) {
		return fmt.Errorf("%w: %s", ErrWrongState, c.ItemState())
	}
	if (c.ItemType() == types.ItemMockCkptData) != e.cfg.MockContent {
		return fmt.Errorf("%w: %s", ErrContentMode, c.ItemType())
	}
	if c.ContentHash() != *state.ContentHash {
		return ErrContentMismatch
	}
	if signer, ok := c.Signer(); !ok || signer != *state.ChosenValidator {
		return ErrNotChosen
	}
	if err := c.VerifySignature(); err != nil {
		return err
	}
	id := c.ID()
	if _, ok := e.step.contents[id]; ok {
		return nil
	}
	e.step.contents[id] = c
	e.remember(c)

	if len(e.step.contents) > 1 {
		e.log.Warn("chosen validator sent conflicting contents",
			zap.String("validator", state.ChosenValidator.Short()))
		e.castVote(e.now, nil)
		return nil
	}
	e.step.content = c
	e.sched.At(taskContentPending, e.now.Add(e.cfg.Timeouts.ContentPending), func(now time.Time) {
		if !e.step.voted {
			e.log.Info("content still pending, passing", zap.String("content", id.Short()))
			e.castVote(now, nil)
		}
	})
	e.verifyContent(e.now)
	return nil
}

// verifyContent votes for the content when it checks out, waits while data
// is being fetched and passes otherwise.
func (e *Engine) verifyContent(now time.Time) {
	c := e.step.content
	if c == nil || e.step.voted {
		e.sched.Cancel(taskContentRecheck)
		return
	}

	var (
		ok     bool
		reason ledger.Reason
	)
	switch it := c.(type) {
	case *types.CkptData:
		v := ledger.Verify(e.agent.DAG(), it.Checkpoint, e.svc, e.agent, e.cfg.buildOptions())
		ok, reason = v.Result()
		if v.Err() != nil {
			e.log.Debug("checkpoint malformed", zap.Error(v.Err()))
		}
	case *types.MockCkptData:
		ok, reason = e.verifyMock(it)
	}

	switch {
	case ok:
		e.sched.Cancel(taskContentRecheck)
		e.sched.Cancel(taskContentPending)
		id := c.ID()
		e.castVote(now, &id)
	case reason == ledger.ReasonPending:
		if !e.sched.Pending(taskContentRecheck) {
			e.sched.Every(taskContentRecheck, now, e.cfg.Timeouts.SyncFetch, e.verifyContent)
		}
	default:
		e.log.Info("content rejected", zap.String("content", c.ID().Short()), zap.Stringer("reason", reason))
		e.sched.Cancel(taskContentRecheck)
		e.castVote(now, nil)
	}
}

// verifyMock accepts a transaction list when every transaction is held and
// acknowledged enough times. Missing ones are fetched.
func (e *Engine) verifyMock(m *types.MockCkptData) (bool, ledger.Reason) {
	if len(m.Transactions) == 0 {
		return false, ledger.ReasonEmpty
	}
	tree := e.agent.DAG()
	pending := false
	for _, tx := range m.Transactions {
		id := tx.ID()
		if _, ok := tree.Search(id); !ok {
			e.agent.AddTxnToFetchList(id)
			pending = true
			continue
		}
		if tree.AckCount(id) < int(e.cfg.AckLength) {
			pending = true
		}
	}
	if pending {
		return false, ledger.ReasonPending
	}
	return true, ledger.ReasonValid
}
