package main

import (
	"crypto/ed25519"

	"github.com/blockberries/ckptberry/ledger"
	"github.com/blockberries/ckptberry/types"
)

// transfers has every key send one unit from its first wallet to the next
// key, and every key acknowledge every transfer. Keys without a wallet
// worth more than one unit sit the round out.
func transfers(svc ledger.Service, keys []ed25519.PrivateKey, fees types.FeeSchedule) ([]types.Node, error) {
	one := types.NewAmount(1)
	var txs []*types.Transaction
	for i, priv := range keys {
		owned := svc.OwnedWallets(types.PublicKeyOf(priv))
		if len(owned) == 0 || owned[0].Value.Cmp(one) <= 0 {
			continue
		}
		in := owned[:1]
		to := types.PublicKeyOf(keys[(i+1)%len(keys)])
		outs, err := types.CompleteOutputs(in, []types.Wallet{types.NewWallet(to, one)}, fees)
		if err != nil {
			return nil, err
		}
		tx := types.NewTransaction(in, outs, nil)
		tx.Sign(priv)
		txs = append(txs, tx)
	}

	nodes := make([]types.Node, 0, len(txs)*(len(keys)+1))
	for _, tx := range txs {
		nodes = append(nodes, tx)
	}
	for _, tx := range txs {
		for _, priv := range keys {
			ack := types.NewAcknowledge(tx.ID(), nil, types.PublicKeyOf(priv))
			ack.Sign(priv)
			nodes = append(nodes, ack)
		}
	}
	return nodes, nil
}
