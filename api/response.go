package api

import (
	"time"

	"github.com/blockberries/ckptberry/engine"
	"github.com/blockberries/ckptberry/types"
)

type stateResponse struct {
	LastCommonString types.Hash       `json:"last_common_string"`
	Round            uint32           `json:"round"`
	Status           string           `json:"status"`
	ChosenValidator  *types.PublicKey `json:"chosen_validator,omitempty"`
	ContentHash      *types.Hash      `json:"content_hash,omitempty"`
}

func newStateResponse(s types.CreationState) stateResponse {
	return stateResponse{
		LastCommonString: s.LastCommonString,
		Round:            s.Round,
		Status:           s.Status.String(),
		ChosenValidator:  s.ChosenValidator,
		ContentHash:      s.ContentHash,
	}
}

type statusResponse struct {
	State        stateResponse     `json:"state"`
	Height       uint64            `json:"height"`
	CheckpointID types.Hash        `json:"checkpoint_id"`
	Votes        int               `json:"votes"`
	Deadlines    int               `json:"deadlines"`
	Started      bool              `json:"started"`
	Idle         bool              `json:"idle"`
	Sync         engine.SyncStatus `json:"sync"`
}

type stakeResponse struct {
	Owner  types.PublicKey `json:"owner"`
	Amount types.Amount    `json:"amount"`
}

type checkpointResponse struct {
	ID         types.Hash      `json:"id"`
	Origin     types.Hash      `json:"origin"`
	Height     uint64          `json:"height"`
	LockTime   time.Time       `json:"lock_time"`
	AckLength  uint32          `json:"ack_length"`
	NUTXO      uint64          `json:"n_utxo"`
	Outputs    int             `json:"outputs"`
	TotalStake types.Amount    `json:"total_stake"`
	TotalCoins types.Amount    `json:"total_coins"`
	Miner      types.PublicKey `json:"miner"`
	Stake      []stakeResponse `json:"stake"`
}

func newCheckpointResponse(c *types.Checkpoint) checkpointResponse {
	stake := make([]stakeResponse, len(c.Stake))
	for i, e := range c.Stake {
		stake[i] = stakeResponse{Owner: e.Owner, Amount: e.Amount}
	}
	return checkpointResponse{
		ID:         c.ID(),
		Origin:     c.Origin,
		Height:     c.Height,
		LockTime:   c.Created().UTC(),
		AckLength:  c.AckLength,
		NUTXO:      c.NUTXO,
		Outputs:    len(c.Outputs),
		TotalStake: c.TotalStake,
		TotalCoins: c.TotalCoins,
		Miner:      c.Miner,
		Stake:      stake,
	}
}
