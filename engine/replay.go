package engine

import (
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/blockberries/ckptberry/types"
	"github.com/blockberries/ckptberry/wal"
)

// ReplayResult contains the result of a WAL replay
type ReplayResult struct {
	// Height is the checkpoint height that was being created
	Height uint64
	// State is the last state entered, nil when there is nothing to resume
	State *types.CreationState
	// Votes are the own votes logged for State
	Votes []*types.ValidatorVote
	// Proposals are the own proposals logged for State
	Proposals []types.StateItem
	// Number of messages replayed
	MessagesReplayed int
}

// ReplayWAL reads back what was logged while creating checkpoint height.
// The search starts after the commit of the previous height; with no such
// commit there is nothing to replay.
func ReplayWAL(w wal.WAL, height uint64) (*ReplayResult, error) {
	result := &ReplayResult{Height: height}
	if height == 0 {
		return result, nil
	}
	reader, found, err := w.SearchForCommit(height - 1)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrWALReplay, err)
	}
	if !found {
		return result, nil
	}
	defer reader.Close()

	for {
		msg, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read: %v", ErrWALReplay, err)
		}
		if msg.Height != height {
			continue
		}
		done, err := replayMessage(msg, result)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrWALReplay, msg.Type, err)
		}
		result.MessagesReplayed++
		if done {
			break
		}
	}

	if result.State == nil {
		result.Votes, result.Proposals = nil, nil
		return result, nil
	}
	state := *result.State
	votes := result.Votes[:0]
	for _, v := range result.Votes {
		if v.State.Equal(state) {
			votes = append(votes, v)
		}
	}
	result.Votes = votes
	props := result.Proposals[:0]
	for _, p := range result.Proposals {
		if p.ItemState().Equal(state) {
			props = append(props, p)
		}
	}
	result.Proposals = props
	return result, nil
}

// replayMessage folds one entry into result. It reports true once the
// height turns out to be committed.
func replayMessage(msg *wal.Message, result *ReplayResult) (bool, error) {
	switch msg.Type {
	case wal.MsgTypeTransition:
		t, err := wal.DecodeTransition(msg)
		if err != nil {
			return false, err
		}
		next := t.Next
		result.State = &next
	case wal.MsgTypeVote:
		v, err := wal.DecodeVote(msg)
		if err != nil {
			return false, err
		}
		result.Votes = append(result.Votes, v)
	case wal.MsgTypeProposal:
		p, err := wal.DecodeProposal(msg)
		if err != nil {
			return false, err
		}
		result.Proposals = append(result.Proposals, p)
	case wal.MsgTypeCommit:
		result.State = nil
		return true, nil
	}
	return false, nil
}

// replayWAL replays height and keeps only a state the engine can resume:
// one that is not terminal and builds on the accepted checkpoint.
func (e *Engine) replayWAL(height uint64) (*ReplayResult, error) {
	result, err := ReplayWAL(e.wal, height)
	if err != nil {
		return nil, err
	}
	if result.State == nil {
		return result, nil
	}
	state := *result.State
	resumable := state.Status != types.StatusCommitted &&
		(e.cfg.MockContent || state.LastCommonString == e.svc.CheckpointID())
	if !resumable {
		e.log.Info("WAL state not resumable", zap.Object("state", state))
		result.State = nil
		result.Votes, result.Proposals = nil, nil
		return result, nil
	}
	e.log.Info("replayed WAL",
		zap.Uint64("height", height),
		zap.Object("state", state),
		zap.Int("votes", len(result.Votes)),
		zap.Int("proposals", len(result.Proposals)),
		zap.Int("messages", result.MessagesReplayed))
	return result, nil
}

// restoreOwnItems puts replayed votes and proposals back in place so the
// local keys neither vote twice nor stay silent.
func (e *Engine) restoreOwnItems(now time.Time, result *ReplayResult) {
	if e.registry != nil {
		for _, v := range result.Votes {
			if _, err := e.registry.Add(v); err != nil {
				e.log.Debug("replayed vote dropped", zap.Error(err))
				continue
			}
			e.remember(v)
			e.step.voted = true
			if v.IsPass() {
				e.step.passed = true
			}
			e.msgr.Broadcast(v)
		}
	}

	for _, p := range result.Proposals {
		var err error
		switch it := p.(type) {
		case *types.CkptHash:
			err = e.handleHash(it)
		case types.ContentItem:
			err = e.handleContent(it)
		}
		if err != nil {
			e.log.Debug("replayed proposal dropped", zap.Error(err))
			continue
		}
		e.msgr.Broadcast(p)
	}
	e.evaluate(now)
}
