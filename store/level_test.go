package store

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/ckptberry/types"
)

func testPub(n byte) types.PublicKey {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = n
	return types.PublicKeyOf(ed25519.NewKeyFromSeed(seed))
}

// testChain returns a genesis followed by n checkpoints.
func testChain(n int) []*types.Checkpoint {
	g := types.NewGenesis([]byte(types.GenesisSeed), []types.Wallet{
		types.NewWallet(testPub(1), types.NewAmount(40)),
		types.NewWallet(testPub(2), types.NewAmount(60)),
	})
	var base types.Base = g
	var out []*types.Checkpoint
	for i := 1; i <= n; i++ {
		live := base.LiveWallets()
		payout := []types.Wallet{types.NewWallet(testPub(3), types.NewAmount(uint64(i)))}
		c := types.NewCheckpoint(base.ID(), uint64(i), time.Unix(int64(1000*i), 0), 3,
			live, payout, types.StakeFromWallets(live, payout), testPub(3))
		out = append(out, c)
		base = c
	}
	return out
}

func TestSaveExtract(t *testing.T) {
	s := NewMemLevelStore()
	defer s.Close()

	chain := testChain(3)
	for _, c := range chain {
		require.NoError(t, s.Save(c))
	}

	for _, c := range chain {
		got, err := s.Extract(c.Height)
		require.NoError(t, err)
		require.Equal(t, c.ID(), got.ID())
		require.Equal(t, c.LockTime, got.LockTime)
		require.Equal(t, c.TotalCoins, got.TotalCoins)

		byID, err := s.ExtractByID(c.ID())
		require.NoError(t, err)
		require.Equal(t, c.Height, byID.Height)
	}

	latest, err := s.Latest()
	require.NoError(t, err)
	require.Equal(t, chain[2].ID(), latest.ID())

	heights, err := s.Heights()
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3}, heights)
}

func TestSaveDuplicate(t *testing.T) {
	s := NewMemLevelStore()
	defer s.Close()

	chain := testChain(1)
	require.NoError(t, s.Save(chain[0]))
	require.ErrorIs(t, s.Save(chain[0]), ErrExists)

	// A different checkpoint at a taken height
	g := types.NewGenesis([]byte("other"), []types.Wallet{types.NewWallet(testPub(4), types.NewAmount(1))})
	live := g.LiveWallets()
	rival := types.NewCheckpoint(g.ID(), 1, time.Unix(5, 0), 3, live, nil, types.StakeFromWallets(live), testPub(4))
	require.ErrorIs(t, s.Save(rival), ErrExists)
}

func TestNotFound(t *testing.T) {
	s := NewMemLevelStore()
	defer s.Close()

	_, err := s.Latest()
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Extract(7)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.ExtractByID(types.HashBytes([]byte("missing")))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	chain := testChain(2)

	s, err := NewLevelStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(chain[0]))
	require.NoError(t, s.Save(chain[1]))
	require.NoError(t, s.Close())

	_, err = s.Latest()
	require.ErrorIs(t, err, ErrClosed)

	s, err = NewLevelStore(dir)
	require.NoError(t, err)
	defer s.Close()
	latest, err := s.Latest()
	require.NoError(t, err)
	require.Equal(t, chain[1].ID(), latest.ID())
}
