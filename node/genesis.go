package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blockberries/ckptberry/types"
)

// ErrEmptyGenesis is returned for a genesis file without wallets.
var ErrEmptyGenesis = errors.New("genesis has no wallets")

// GenesisWallet is one initial wallet of a genesis file.
type GenesisWallet struct {
	Owner types.PublicKey `json:"owner"`
	Value types.Amount    `json:"value"`
}

// GenesisDoc is the on-disk form of a genesis.
type GenesisDoc struct {
	Seed    string          `json:"seed"`
	Wallets []GenesisWallet `json:"wallets"`
}

// Genesis builds the genesis node.
func (d *GenesisDoc) Genesis() (*types.Genesis, error) {
	if len(d.Wallets) == 0 {
		return nil, ErrEmptyGenesis
	}
	outs := make([]types.Wallet, len(d.Wallets))
	for i, w := range d.Wallets {
		if w.Value.IsZero() {
			return nil, fmt.Errorf("genesis wallet %d: zero value", i)
		}
		outs[i] = types.NewWallet(w.Owner, w.Value)
	}
	seed := d.Seed
	if seed == "" {
		seed = types.GenesisSeed
	}
	return types.NewGenesis([]byte(seed), outs), nil
}

// LoadGenesisDoc reads a genesis file.
func LoadGenesisDoc(path string) (*GenesisDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d GenesisDoc
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse genesis %s: %w", path, err)
	}
	return &d, nil
}

// SaveAs writes d to path.
func (d *GenesisDoc) SaveAs(path string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
