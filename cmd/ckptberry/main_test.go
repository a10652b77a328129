package main

import (
	"bytes"
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/ckptberry/config"
	"github.com/blockberries/ckptberry/dag"
	"github.com/blockberries/ckptberry/ledger"
	"github.com/blockberries/ckptberry/node"
	"github.com/blockberries/ckptberry/types"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Equal(t, Version+"\n", out)
}

func TestInit(t *testing.T) {
	home := t.TempDir()
	out, err := execute(t, "init", "--home", home, "--stake", "75")
	require.NoError(t, err)
	require.Contains(t, out, "initialized "+home)

	cfg, err := config.Load(config.NewViper(home), config.DefaultPath(home))
	require.NoError(t, err)
	require.FileExists(t, cfg.Node.KeyFile)
	require.FileExists(t, cfg.Node.StateFile)

	doc, err := node.LoadGenesisDoc(genesisPath(home))
	require.NoError(t, err)
	require.Len(t, doc.Wallets, 1)
	require.True(t, doc.Wallets[0].Value.Equal(types.NewAmount(75)))

	_, err = execute(t, "init", "--home", home)
	require.Error(t, err)
	_, err = execute(t, "init", "--home", home, "--overwrite")
	require.NoError(t, err)
}

func TestDevnetReachesHeight(t *testing.T) {
	home := t.TempDir()
	out, err := execute(t, "devnet", "--home", home,
		"--dir", filepath.Join(home, "net"), "--tick", "1ms", "--height", "2")
	require.NoError(t, err)
	require.Contains(t, out, "reached height 2")

	entries, err := os.ReadDir(filepath.Join(home, "net"))
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestTransfers(t *testing.T) {
	var keys []ed25519.PrivateKey
	var wallets []types.Wallet
	for i := byte(1); i <= 3; i++ {
		seed := make([]byte, ed25519.SeedSize)
		seed[0] = i
		priv := ed25519.NewKeyFromSeed(seed)
		keys = append(keys, priv)
		wallets = append(wallets, types.NewWallet(types.PublicKeyOf(priv), types.NewAmount(5)))
	}
	// the last key holds exactly one unit and sits out
	wallets[2] = types.NewWallet(types.PublicKeyOf(keys[2]), types.NewAmount(1))
	g := types.NewGenesis([]byte(types.GenesisSeed), wallets)
	tree := dag.New()
	_, err := tree.Add(g)
	require.NoError(t, err)
	svc, err := ledger.NewMockService(tree)
	require.NoError(t, err)

	nodes, err := transfers(svc, keys, types.NoFee{})
	require.NoError(t, err)
	require.Len(t, nodes, 2+2*3)
	for _, n := range nodes {
		_, err := tree.Add(n)
		require.NoError(t, err)
	}
	res, err := ledger.BuildFrom(tree, g, 1, 3, types.PublicKeyOf(keys[0]), ledger.BuildOptions{Fees: types.NoFee{}})
	require.NoError(t, err)
	require.Len(t, res.Applied, 2)
	require.True(t, res.Checkpoint.TotalCoins.Equal(types.NewAmount(11)))
}
