package engine

import (
	"go.uber.org/zap"

	"github.com/blockberries/ckptberry/ledger"
	"github.com/blockberries/ckptberry/privval"
	"github.com/blockberries/ckptberry/types"
	"github.com/blockberries/ckptberry/wal"
)

// ownProposal is the content a local chosen validator committed to in
// AGREE_HASH and will publish in AGREE_CONTENT.
type ownProposal struct {
	proposer types.PublicKey
	hash     types.Hash
	ckpt     *types.Checkpoint
	txs      []*types.Transaction
}

// buildProposal folds the local DAG on top of the accepted checkpoint. It
// returns nil when there is nothing to fold.
func (e *Engine) buildProposal(miner types.PublicKey) (*ownProposal, error) {
	tree := e.agent.DAG()
	base := e.svc.Checkpoint()
	if e.cfg.MockContent {
		txs := ledger.Foldable(tree, base, e.cfg.AckLength, e.cfg.Fees)
		if len(txs) == 0 {
			return nil, nil
		}
		ids := make([]types.Hash, len(txs))
		for i, tx := range txs {
			ids[i] = tx.ID()
		}
		return &ownProposal{proposer: miner, hash: types.XORHashes(ids), txs: txs}, nil
	}

	res, err := ledger.BuildFrom(tree, base, e.svc.Height()+1, e.cfg.AckLength, miner, e.cfg.buildOptions())
	if err != nil {
		return nil, err
	}
	if res.Empty {
		return nil, nil
	}
	return &ownProposal{proposer: miner, hash: res.Checkpoint.ID(), ckpt: res.Checkpoint}, nil
}

// proposeHash publishes the hash of the local proposal in AGREE_HASH.
func (e *Engine) proposeHash(pv privval.PrivValidator) {
	state := e.cs.State()
	prop, err := e.buildProposal(pv.PubKey())
	if err != nil {
		e.log.Error("failed to build checkpoint", zap.Error(err))
		return
	}
	if prop == nil {
		e.log.Info("nothing to propose", zap.Object("state", state))
		return
	}
	e.proposal = prop

	h := types.NewCkptHash(state, prop.hash)
	if !e.signProposal(pv, h) {
		return
	}
	if err := e.handleHash(h); err != nil {
		e.log.Error("own hash rejected", zap.Error(err))
		return
	}
	e.msgr.Broadcast(h)
	e.log.Info("proposed checkpoint hash",
		zap.Object("state", state),
		zap.String("hash", prop.hash.Short()))
}

// proposeContent publishes the content behind the agreed hash. The proposal
// is rebuilt when it was lost to a restart; folding is deterministic.
func (e *Engine) proposeContent(pv privval.PrivValidator) {
	state := e.cs.State()
	prop := e.proposal
	if prop == nil {
		var err error
		if prop, err = e.buildProposal(pv.PubKey()); err != nil {
			e.log.Error("failed to rebuild checkpoint", zap.Error(err))
			return
		}
	}
	if prop == nil || prop.proposer != pv.PubKey() || prop.hash != *state.ContentHash {
		e.log.Warn("agreed hash is not the local proposal", zap.Object("state", state))
		return
	}

	var item types.ContentItem
	if prop.ckpt != nil {
		item = types.NewCkptData(state, prop.ckpt)
	} else {
		item = types.NewMockCkptData(state, prop.txs)
	}
	if !e.signProposal(pv, item) {
		return
	}
	if err := e.handleContent(item); err != nil {
		e.log.Error("own content rejected", zap.Error(err))
		return
	}
	e.msgr.Broadcast(item)
	e.log.Info("proposed checkpoint content", zap.Object("state", state))
}

func (e *Engine) signProposal(pv privval.PrivValidator, item types.StateItem) bool {
	if err := pv.SignProposal(item); err != nil {
		e.log.Warn("proposal not signed", zap.Stringer("type", item.ItemType()), zap.Error(err))
		return false
	}
	msg, err := wal.NewProposalMessage(e.svc.Height()+1, item)
	if err == nil {
		err = e.wal.Write(msg)
	}
	if err != nil {
		e.log.Error("failed to log proposal", zap.Error(err))
	}
	return true
}
