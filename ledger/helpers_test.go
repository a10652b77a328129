package ledger

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/ckptberry/dag"
	"github.com/blockberries/ckptberry/types"
)

var (
	testFee  = types.ProportionalFee{Rate: types.MustParseAmount("0.001")}
	testLock = time.Unix(1700000000, 0)
)

func testKey(n byte) ed25519.PrivateKey {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = n
	seed[31] = 0x3c
	return ed25519.NewKeyFromSeed(seed)
}

func testPub(n byte) types.PublicKey {
	return types.PublicKeyOf(testKey(n))
}

type fetchRecorder struct {
	ids []types.Hash
}

func (f *fetchRecorder) AddTxnToFetchList(id types.Hash) {
	f.ids = append(f.ids, id)
}

// scenario is a genesis with three 50-value wallets owned by keys 1..3 and
// one transaction from each owner.
type scenario struct {
	tree    *dag.Tree
	genesis *types.Genesis
	txs     []*types.Transaction
}

func newScenario(t *testing.T) *scenario {
	t.Helper()
	g := types.NewGenesis([]byte(types.GenesisSeed), []types.Wallet{
		types.NewWallet(testPub(1), types.NewAmount(50)),
		types.NewWallet(testPub(2), types.NewAmount(50)),
		types.NewWallet(testPub(3), types.NewAmount(50)),
	})
	s := &scenario{tree: dag.New(), genesis: g}
	addNode(t, s.tree, g)

	validator := testPub(1)
	s.txs = []*types.Transaction{
		s.spend(t, 0, 1, 2, 20, &validator),
		s.spend(t, 1, 2, 3, 10, nil),
		s.spend(t, 2, 3, 1, 5, nil),
	}
	return s
}

// spend moves value from genesis wallet idx, owned by key from, to key to,
// and acknowledges it by keys 1..3.
func (s *scenario) spend(t *testing.T, idx int, from, to byte, value uint64, validator *types.PublicKey) *types.Transaction {
	t.Helper()
	in := []types.Wallet{s.genesis.Outputs[idx]}
	return s.spendWallets(t, in, from, to, value, validator)
}

func (s *scenario) spendWallets(t *testing.T, in []types.Wallet, from, to byte, value uint64, validator *types.PublicKey) *types.Transaction {
	t.Helper()
	outs, err := types.CompleteOutputs(in, []types.Wallet{types.NewWallet(testPub(to), types.NewAmount(value))}, testFee)
	require.NoError(t, err)
	tx := types.NewTransaction(in, outs, validator)
	tx.Sign(testKey(from))
	addNode(t, s.tree, tx)
	acknowledge(t, s.tree, tx.ID(), 1, 2, 3)
	return tx
}

func acknowledge(t *testing.T, tree *dag.Tree, txID types.Hash, keys ...byte) {
	t.Helper()
	for _, k := range keys {
		ack := types.NewAcknowledge(txID, nil, testPub(k))
		ack.Sign(testKey(k))
		addNode(t, tree, ack)
	}
}

func addNode(t *testing.T, tree *dag.Tree, n types.Node) {
	t.Helper()
	_, err := tree.Add(n)
	require.NoError(t, err)
}

func testOpts() BuildOptions {
	return BuildOptions{Fees: testFee, LockTime: testLock}
}
