package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/ckptberry/types"
)

func TestBuildFirstCheckpoint(t *testing.T) {
	s := newScenario(t)
	miner := testPub(4)

	res, err := Build(s.tree, s.genesis.ID(), 1, 3, miner, testOpts())
	require.NoError(t, err)
	require.False(t, res.Empty)
	require.Len(t, res.Applied, 3)

	ckpt := res.Checkpoint
	require.NoError(t, ckpt.ValidateBasic())
	assert.Equal(t, uint64(1), ckpt.Height)
	assert.Equal(t, s.genesis.ID(), ckpt.Origin)
	assert.Equal(t, types.NewAmount(150), ckpt.TotalCoins)
	assert.Equal(t, types.NewAmount(150), ckpt.TotalStake)
	assert.Equal(t, uint64(6), ckpt.NUTXO)

	// tx0 pays its validator, the other two pay the miner
	require.Len(t, ckpt.Outputs, 2)
	assert.Equal(t, types.MustParseAmount("0.02"), outputOf(ckpt, testPub(1)))
	assert.Equal(t, types.MustParseAmount("0.015"), outputOf(ckpt, miner))
	for i, out := range ckpt.Outputs {
		assert.Equal(t, ckpt.ID(), out.Origin)
		assert.Equal(t, uint32(i), out.Index)
	}
	assert.True(t, ckpt.StakeOf(miner).Equal(types.MustParseAmount("0.015")))
}

func outputOf(c *types.Checkpoint, pk types.PublicKey) types.Amount {
	for _, w := range c.Outputs {
		if w.Owner == pk {
			return w.Value
		}
	}
	return types.Amount{}
}

func TestBuildDeterministic(t *testing.T) {
	s := newScenario(t)

	a, err := Build(s.tree, s.genesis.ID(), 1, 3, testPub(4), testOpts())
	require.NoError(t, err)
	b, err := Build(s.tree, s.genesis.ID(), 1, 3, testPub(4), testOpts())
	require.NoError(t, err)

	ea, err := types.EncodeCheckpoint(a.Checkpoint)
	require.NoError(t, err)
	eb, err := types.EncodeCheckpoint(b.Checkpoint)
	require.NoError(t, err)
	require.Equal(t, ea, eb)
	require.Equal(t, a.Applied, b.Applied)

	// Lock time is not part of the identifier
	opts := testOpts()
	opts.LockTime = testLock.Add(time.Hour)
	c, err := Build(s.tree, s.genesis.ID(), 1, 3, testPub(4), opts)
	require.NoError(t, err)
	require.Equal(t, a.Checkpoint.ID(), c.Checkpoint.ID())
}

func TestBuildAckThreshold(t *testing.T) {
	s := newScenario(t)

	res, err := Build(s.tree, s.genesis.ID(), 1, 4, testPub(4), testOpts())
	require.NoError(t, err)
	require.True(t, res.Empty)
	require.Empty(t, res.Applied)
	require.Equal(t, types.NewAmount(150), res.Checkpoint.TotalCoins)
}

func TestBuildChainedSpend(t *testing.T) {
	s := newScenario(t)
	// spends the payee output of the first transaction
	child := s.spendWallets(t, []types.Wallet{s.txs[0].Outputs[0]}, 2, 3, 7, nil)

	res, err := Build(s.tree, s.genesis.ID(), 1, 3, testPub(4), testOpts())
	require.NoError(t, err)
	require.Len(t, res.Applied, 4)

	pos := make(map[types.Hash]int)
	for i, id := range res.Applied {
		pos[id] = i
	}
	require.Less(t, pos[s.txs[0].ID()], pos[child.ID()])
	require.Equal(t, types.NewAmount(150), res.Checkpoint.TotalCoins)
}

func TestBuildSkipsDoubleSpend(t *testing.T) {
	s := newScenario(t)
	// a second spend of the same genesis wallet; only one can fold
	s.spend(t, 0, 1, 3, 30, nil)

	res, err := Build(s.tree, s.genesis.ID(), 1, 3, testPub(4), testOpts())
	require.NoError(t, err)
	require.Len(t, res.Applied, 3)
	require.NoError(t, res.Checkpoint.ValidateBasic())
	require.Equal(t, types.NewAmount(150), res.Checkpoint.TotalCoins)
}

func TestBuildRejectsUnsigned(t *testing.T) {
	s := newScenario(t)
	in := []types.Wallet{s.txs[1].Outputs[0]}
	outs, err := types.CompleteOutputs(in, []types.Wallet{types.NewWallet(testPub(1), types.NewAmount(1))}, testFee)
	require.NoError(t, err)
	unsigned := types.NewTransaction(in, outs, nil)
	addNode(t, s.tree, unsigned)
	acknowledge(t, s.tree, unsigned.ID(), 1, 2, 3)

	res, err := Build(s.tree, s.genesis.ID(), 1, 3, testPub(4), testOpts())
	require.NoError(t, err)
	require.NotContains(t, res.Applied, unsigned.ID())

	// Without a fee schedule only the balance is checked
	opts := testOpts()
	opts.Fees = nil
	res, err = Build(s.tree, s.genesis.ID(), 1, 3, testPub(4), opts)
	require.NoError(t, err)
	require.Contains(t, res.Applied, unsigned.ID())
}

func TestBuildReward(t *testing.T) {
	s := newScenario(t)
	opts := testOpts()
	opts.Reward = types.NewAmount(2)

	res, err := Build(s.tree, s.genesis.ID(), 1, 3, testPub(4), opts)
	require.NoError(t, err)
	outs := res.Checkpoint.Outputs
	require.Len(t, outs, 3)
	last := outs[len(outs)-1]
	require.Equal(t, testPub(4), last.Owner)
	require.Equal(t, types.NewAmount(2), last.Value)
	require.Equal(t, types.NewAmount(152), res.Checkpoint.TotalCoins)
}

func TestBuildOnCheckpoint(t *testing.T) {
	s := newScenario(t)
	first, err := Build(s.tree, s.genesis.ID(), 1, 3, testPub(4), testOpts())
	require.NoError(t, err)
	addNode(t, s.tree, first.Checkpoint)

	// Folded transactions no longer have live inputs
	second, err := Build(s.tree, first.Checkpoint.ID(), 2, 3, testPub(4), testOpts())
	require.NoError(t, err)
	require.True(t, second.Empty)

	next := s.spendWallets(t, []types.Wallet{s.txs[2].Outputs[0]}, 1, 2, 1, nil)
	second, err = Build(s.tree, first.Checkpoint.ID(), 2, 3, testPub(4), testOpts())
	require.NoError(t, err)
	require.Equal(t, []types.Hash{next.ID()}, second.Applied)
	require.Equal(t, first.Checkpoint.TotalCoins, second.Checkpoint.TotalCoins)
}

func TestBuildErrors(t *testing.T) {
	s := newScenario(t)

	_, err := Build(s.tree, types.HashBytes([]byte("nope")), 1, 3, testPub(4), testOpts())
	require.ErrorIs(t, err, ErrUnknownBase)

	_, err = Build(s.tree, s.txs[0].ID(), 1, 3, testPub(4), testOpts())
	require.ErrorIs(t, err, ErrNotBase)

	_, err = Build(s.tree, s.genesis.ID(), 0, 3, testPub(4), testOpts())
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestFoldable(t *testing.T) {
	s := newScenario(t)
	txs := Foldable(s.tree, s.genesis, 3, testFee)
	require.Len(t, txs, 3)
	require.Empty(t, Foldable(s.tree, s.genesis, 4, testFee))
}
