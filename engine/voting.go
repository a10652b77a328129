package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/blockberries/ckptberry/types"
	"github.com/blockberries/ckptberry/wal"
)

// castVote signs a vote for votedID (nil for PASS) with every local key in
// the stake table. A key votes for one item per state; PASS is final.
func (e *Engine) castVote(now time.Time, votedID *types.Hash) {
	if e.registry == nil || e.step.passed {
		return
	}
	if votedID != nil && e.step.voted {
		return
	}
	e.step.voted = true
	if votedID == nil {
		e.step.passed = true
	}

	state := e.cs.State()
	height := e.svc.Height() + 1
	for _, pv := range e.agent.Signers() {
		pk := pv.PubKey()
		if !e.registry.Stakes().Has(pk) {
			continue
		}
		vote := types.NewValidatorVote(state, state.Status.VotedType(), votedID, pk)
		if err := pv.SignVote(vote); err != nil {
			e.log.Debug("vote not signed", zap.String("voter", pk.Short()), zap.Error(err))
			continue
		}
		if msg, err := wal.NewVoteMessage(height, vote); err != nil {
			e.log.Error("failed to encode vote for WAL", zap.Error(err))
		} else if err := e.wal.Write(msg); err != nil {
			e.log.Error("failed to log vote", zap.Error(err))
		}
		if _, err := e.registry.Add(vote); err != nil {
			e.log.Error("own vote rejected", zap.Object("vote", vote), zap.Error(err))
			continue
		}
		e.remember(vote)
		e.metrics.VotesCast.Inc()
		e.msgr.Broadcast(vote)
		e.log.Debug("voted", zap.Object("vote", vote))
	}

	if !e.sched.Pending(taskVoteRetry) {
		e.sched.Every(taskVoteRetry, now, e.cfg.Timeouts.VoteRetry, e.retryOwnVotes)
	}
	e.evaluate(now)
}

// retryOwnVotes rebroadcasts the local votes until a majority forms.
func (e *Engine) retryOwnVotes(time.Time) {
	if e.registry == nil || e.pending != nil {
		return
	}
	var own []types.Item
	for _, pv := range e.agent.Signers() {
		for _, v := range e.registry.VotesOf(pv.PubKey()) {
			own = append(own, v)
		}
	}
	if len(own) > 0 {
		e.msgr.Broadcast(own...)
	}
}

func (e *Engine) handleVote(vote *types.ValidatorVote) error {
	if e.registry == nil {
		return ErrNoStakeTable
	}
	id := vote.ID()
	if !vote.State.Equal(e.registry.State()) {
		e.registry.MarkProcessed(id)
		return fmt.Errorf("%w: %s", ErrWrongState, vote.State)
	}
	if e.registry.Processed(id) {
		return nil
	}
	if err := vote.VerifySignature(); err != nil {
		e.registry.MarkProcessed(id)
		return err
	}
	added, err := e.registry.Add(vote)
	if err != nil || !added {
		return err
	}
	e.remember(vote)
	if e.evpool != nil {
		if ev := e.evpool.CheckVote(vote, e.registry.Stakes().StakeOf(vote.PubKey)); ev != nil {
			e.metrics.Evidence.Inc()
		}
	}
	e.evaluate(e.now)
	return nil
}

// handleMajority takes a peer's announcement: its unknown votes are fetched
// and local votes that contradict it are offered back.
func (e *Engine) handleMajority(m *types.MajorityVotes) error {
	if e.registry == nil {
		return ErrNoStakeTable
	}
	if !m.State.Equal(e.registry.State()) {
		return fmt.Errorf("%w: %s", ErrWrongState, m.State)
	}
	e.remember(m)

	var unknown []types.Hash
	for _, id := range m.Votes {
		if !e.registry.Processed(id) {
			unknown = append(unknown, id)
		}
	}
	e.registry.NoteMissing(unknown)
	for _, id := range unknown {
		e.msgr.Request(types.ItemValidatorVote, types.Qualifier(id))
	}
	for _, v := range e.registry.ConflictsWith(m.Votes, m.VotedID) {
		e.registry.MarkRequested(v.ID())
	}
	e.evaluate(e.now)
	return nil
}

// evaluate looks at the vote distribution: a majority starts the transition
// buffer, a stalemate moves local keys that can no longer win to PASS.
func (e *Engine) evaluate(now time.Time) {
	if e.registry == nil || e.pending != nil {
		return
	}
	m, err := e.registry.Majority()
	if err != nil {
		e.log.Error("vote distribution", zap.Object("state", e.registry.State()), zap.Error(err))
		return
	}
	if m != nil {
		e.beginMajority(now, m)
		return
	}
	if !e.registry.Stalemate() || e.step.passed {
		return
	}
	if e.ownMinority() {
		e.log.Info("stalemate, own vote cannot win",
			zap.Object("state", e.registry.State()))
		e.castVote(now, nil)
		return
	}
	if !e.sched.Pending(taskStalemateSwitch) {
		state := e.registry.State()
		e.sched.At(taskStalemateSwitch, now.Add(e.cfg.Timeouts.StalemateSwitch), func(now time.Time) {
			if !e.cs.State().Equal(state) || e.pending != nil || !e.registry.Stalemate() {
				return
			}
			e.log.Info("stalemate persists, switching to PASS", zap.Object("state", state))
			e.castVote(now, nil)
		})
	}
}

// ownMinority reports whether a local key backs an outcome that cannot
// reach a majority any more.
func (e *Engine) ownMinority() bool {
	for _, pv := range e.agent.Signers() {
		pk := pv.PubKey()
		votedID, ok := e.registry.Outcome(pk)
		if !ok || votedID == nil {
			continue
		}
		if !e.registry.CanWin(pk) {
			return true
		}
	}
	return false
}

func (e *Engine) beginMajority(now time.Time, m *Tally) {
	state := e.registry.State()
	e.pending = m
	item := types.NewMajorityVotes(state, m.VoteIDs(), m.VotedID)
	e.registry.SetMajority(item)
	e.remember(item)
	e.msgr.Broadcast(item)

	e.sched.Cancel(taskStalemateSwitch)
	e.sched.Cancel(taskVoteRetry)
	e.sched.At(taskTransitionBuffer, now.Add(e.cfg.Timeouts.TransitionBuffer), e.finishMajority)
	e.sched.Every(taskMajorityPost, now, e.cfg.Timeouts.MajorityPost, func(time.Time) {
		e.msgr.Broadcast(item)
	})

	voted := "PASS"
	if m.VotedID != nil {
		voted = m.VotedID.Short()
	}
	e.log.Info("majority reached",
		zap.Object("state", state),
		zap.String("voted", voted),
		zap.String("support", m.Support.String()),
		zap.Int("votes", len(m.Votes)))
}

// finishMajority moves to the state the majority decided once the buffer
// has lapsed. The voted item must be held; it is requested otherwise.
func (e *Engine) finishMajority(now time.Time) {
	m := e.pending
	if m == nil {
		return
	}
	state := e.cs.State()
	if m.IsPass() {
		_ = e.transition(now, state.NextRound(), m.Votes)
		return
	}

	id := *m.VotedID
	item, ok := e.lookup(id)
	if !ok {
		t := state.Status.VotedType()
		if t == types.ItemCkptData && e.cfg.MockContent {
			t = types.ItemMockCkptData
		}
		e.log.Info("voted item missing, requesting",
			zap.Stringer("type", t), zap.String("id", id.Short()))
		e.msgr.Request(t, types.Qualifier(id))
		e.sched.At(taskTransitionBuffer, now.Add(e.cfg.Timeouts.VoteRetry), e.finishMajority)
		return
	}

	switch state.Status {
	case types.StatusAgreeValidator:
		p, ok := item.(*types.Priority)
		if !ok {
			break
		}
		_ = e.transition(now, state.WithValidator(p.PubKey), m.Votes)
		return
	case types.StatusAgreeHash:
		h, ok := item.(*types.CkptHash)
		if !ok {
			break
		}
		_ = e.transition(now, state.WithContentHash(h.CkptID), m.Votes)
		return
	case types.StatusAgreeContent:
		c, ok := item.(types.ContentItem)
		if !ok {
			break
		}
		e.commit(now, c, m.Votes)
		return
	}
	e.log.Error("majority for an item of the wrong type",
		zap.Object("state", state),
		zap.Stringer("type", item.ItemType()))
}

// commit finalizes agreed content. A checkpoint is injected and the next
// checkpoint round starts on it; mock content starts the next round on the
// content item itself.
func (e *Engine) commit(now time.Time, c types.ContentItem, votes []*types.ValidatorVote) {
	state := e.cs.State()
	if err := e.transition(now, state.Committed(), votes); err != nil {
		return
	}
	e.metrics.Committed.Inc()

	switch it := c.(type) {
	case *types.CkptData:
		if err := e.inject(now, it.Checkpoint); err != nil {
			e.log.Error("failed to inject committed checkpoint",
				zap.Object("checkpoint", it.Checkpoint), zap.Error(err))
		}
	case *types.MockCkptData:
		e.log.Info("mock content committed",
			zap.String("id", it.ID().Short()),
			zap.Int("txs", len(it.Transactions)))
		_ = e.transition(now, types.NewCreationState(it.ID()), nil)
	}
}

func (e *Engine) broadcastVoteChecklist(time.Time) {
	if e.registry == nil || e.registry.Len() == 0 {
		return
	}
	e.msgr.Checklist(types.ItemValidatorVote, qualifiers(e.registry.IDs()))
}

func (e *Engine) requestMissingVotes(time.Time) {
	if e.registry == nil {
		return
	}
	for _, id := range e.registry.Missing() {
		e.msgr.Request(types.ItemValidatorVote, types.Qualifier(id))
	}
}

func (e *Engine) sendRequestedVotes(time.Time) {
	for _, r := range []*VoteRegistry{e.prevRegistry, e.registry} {
		if r == nil {
			continue
		}
		votes := r.TakeRequested()
		if len(votes) == 0 {
			continue
		}
		items := make([]types.Item, len(votes))
		for i, v := range votes {
			items[i] = v
		}
		e.msgr.Broadcast(items...)
	}
}

// rebroadcastPrevMajority helps peers still in the previous state.
func (e *Engine) rebroadcastPrevMajority(time.Time) {
	if e.prevRegistry == nil {
		return
	}
	if m := e.prevRegistry.MajorityItem(); m != nil {
		e.msgr.Broadcast(m)
	}
}
