package node

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/ckptberry/types"
)

func TestGenesisDocRoundTrip(t *testing.T) {
	doc := &GenesisDoc{Wallets: []GenesisWallet{
		{Owner: testPub(1), Value: types.NewAmount(50)},
		{Owner: testPub(2), Value: types.MustParseAmount("0.5")},
	}}
	path := filepath.Join(t.TempDir(), "config", "genesis.json")
	require.NoError(t, doc.SaveAs(path))

	loaded, err := LoadGenesisDoc(path)
	require.NoError(t, err)
	require.Equal(t, doc, loaded)

	g, err := loaded.Genesis()
	require.NoError(t, err)
	want := types.NewGenesis([]byte(types.GenesisSeed), []types.Wallet{
		types.NewWallet(testPub(1), types.NewAmount(50)),
		types.NewWallet(testPub(2), types.MustParseAmount("0.5")),
	})
	require.Equal(t, want.ID(), g.ID())
}

func TestGenesisDocRejects(t *testing.T) {
	_, err := (&GenesisDoc{}).Genesis()
	require.ErrorIs(t, err, ErrEmptyGenesis)

	_, err = (&GenesisDoc{Wallets: []GenesisWallet{{Owner: testPub(1)}}}).Genesis()
	require.Error(t, err)
}
