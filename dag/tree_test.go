package dag

import (
	"crypto/ed25519"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/ckptberry/types"
)

func key(n byte) ed25519.PrivateKey {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = n
	return ed25519.NewKeyFromSeed(seed)
}

func pub(n byte) types.PublicKey {
	return types.PublicKeyOf(key(n))
}

func genesis() *types.Genesis {
	return types.NewGenesis([]byte(types.GenesisSeed), []types.Wallet{
		types.NewWallet(pub(1), types.NewAmount(50)),
		types.NewWallet(pub(2), types.NewAmount(50)),
	})
}

func spend(in types.Wallet, to types.PublicKey) *types.Transaction {
	return types.NewTransaction([]types.Wallet{in}, []types.Wallet{types.NewWallet(to, in.Value)}, nil)
}

func TestTrieSplitsSharedPrefixes(t *testing.T) {
	var root branch
	var a, b, c types.Hash
	a[0], a[1], a[5] = 1, 2, 3
	b[0], b[1], b[5] = 1, 2, 4
	c[0] = 1

	for _, id := range []types.Hash{a, b, c} {
		require.Nil(t, root.insert(&leaf{id: id}))
	}
	for _, id := range []types.Hash{a, b, c} {
		l := root.find(id)
		require.NotNil(t, l)
		require.Equal(t, id, l.id)
	}
	var d types.Hash
	d[0], d[1] = 1, 2
	require.Nil(t, root.find(d))

	resident := root.insert(&leaf{id: a})
	require.NotNil(t, resident)
	require.Equal(t, a, resident.id)

	var order []types.Hash
	root.walk(func(l *leaf) { order = append(order, l.id) })
	require.True(t, sort.SliceIsSorted(order, func(i, j int) bool { return order[i].Less(order[j]) }))
	require.Len(t, order, 3)
}

func TestAddIsIdempotent(t *testing.T) {
	tree := New()
	g := genesis()

	added, err := tree.Add(g)
	require.NoError(t, err)
	require.True(t, added)

	added, err = tree.Add(genesis())
	require.NoError(t, err)
	require.False(t, added)
	require.Equal(t, 1, tree.Len())

	_, err = tree.Add(nil)
	require.ErrorIs(t, err, ErrNilNode)
}

func TestAddRejectsConflictingNode(t *testing.T) {
	tree := New()
	txID := types.HashBytes([]byte("tx"))
	prev := types.HashBytes([]byte("prev"))

	_, err := tree.Add(types.NewAcknowledge(txID, nil, pub(3)))
	require.NoError(t, err)

	// Same identity, different previous-ack link.
	_, err = tree.Add(types.NewAcknowledge(txID, &prev, pub(3)))
	require.ErrorIs(t, err, ErrIDConflict)
}

func TestPendingParents(t *testing.T) {
	tree := New()
	g := genesis()
	tx := spend(g.Outputs[0], pub(3))

	added, err := tree.Add(tx)
	require.NoError(t, err)
	require.True(t, added)
	require.False(t, tree.Resolved(tx.ID()))
	require.Equal(t, []types.Hash{g.ID()}, tree.MissingParents())

	_, err = tree.Add(g)
	require.NoError(t, err)
	require.True(t, tree.Resolved(tx.ID()))
	require.True(t, tree.Resolved(g.ID()))
	require.Empty(t, tree.MissingParents())
	require.False(t, tree.Resolved(types.HashBytes([]byte("absent"))))
}

func TestAckCountIsPerValidator(t *testing.T) {
	tree := New()
	g := genesis()
	tx := spend(g.Outputs[0], pub(3))
	_, err := tree.Add(g)
	require.NoError(t, err)
	_, err = tree.Add(tx)
	require.NoError(t, err)

	var acks []*types.Acknowledge
	for i := byte(4); i < 7; i++ {
		ack := types.NewAcknowledge(tx.ID(), nil, pub(i))
		ack.Sign(key(i))
		_, err := tree.Add(ack)
		require.NoError(t, err)
		acks = append(acks, ack)
	}
	added, err := tree.Add(acks[0])
	require.NoError(t, err)
	require.False(t, added)

	require.Equal(t, 3, tree.AckCount(tx.ID()))
	require.Len(t, tree.Acknowledgers(tx.ID()), 3)
	require.Zero(t, tree.AckCount(g.ID()))
}

func TestLatestCheckpoint(t *testing.T) {
	tree := New()
	require.Nil(t, tree.LatestCheckpoint())

	g := genesis()
	_, err := tree.Add(g)
	require.NoError(t, err)
	require.Equal(t, g.ID(), tree.LatestCheckpoint().ID())

	live := g.LiveWallets()
	ckpt := types.NewCheckpoint(g.ID(), 1, time.Unix(1, 0), 3, live, nil, types.StakeFromWallets(live), pub(1))
	_, err = tree.Add(ckpt)
	require.NoError(t, err)

	require.Equal(t, ckpt.ID(), tree.LatestCheckpoint().ID())
	require.Equal(t, []types.Hash{g.ID(), ckpt.ID()}, tree.Checkpoints())
}

func TestDependentsAndOrder(t *testing.T) {
	tree := New()
	g := genesis()
	tx1 := spend(g.Outputs[0], pub(3))
	tx2 := spend(tx1.Outputs[0], pub(4))
	ack := types.NewAcknowledge(tx1.ID(), nil, pub(5))
	other := spend(g.Outputs[1], pub(6))

	for _, n := range []types.Node{g, tx1, tx2, ack, other} {
		_, err := tree.Add(n)
		require.NoError(t, err)
	}

	deps := tree.Dependents(tx1.ID())
	ids := make([]types.Hash, len(deps))
	for i, n := range deps {
		ids[i] = n.ID()
	}
	require.ElementsMatch(t, []types.Hash{tx2.ID(), ack.ID()}, ids)
	require.Len(t, tree.Dependents(g.ID()), 4)

	all := tree.All()
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		require.True(t, all[i-1].ID().Less(all[i].ID()))
	}
	require.Len(t, tree.Transactions(), 3)
}
