package types

// GenesisSeed is the conventional seed label of a network's genesis node.
const GenesisSeed = "Genesis"

// Genesis is the root of the DAG. It creates the initial wallets.
type Genesis struct {
	Seed    []byte
	Outputs []Wallet

	id Hash
}

type genesisIdentity struct {
	Seed    []byte
	Outputs []outputIdentity
}

// NewGenesis builds a genesis node and stamps its identifier onto the outputs.
func NewGenesis(seed []byte, outputs []Wallet) *Genesis {
	g := &Genesis{
		Seed:    append([]byte(nil), seed...),
		Outputs: CopyWallets(outputs),
	}
	g.id = identityHash(uint32(KindGenesis), genesisIdentity{Seed: g.Seed, Outputs: outputIdentities(g.Outputs)})
	assignOrigin(g.Outputs, g.id)
	return g
}

// ID implements Node.
func (g *Genesis) ID() Hash { return g.id }

// Kind implements Node.
func (g *Genesis) Kind() NodeKind { return KindGenesis }

// Parents implements Node. Genesis has none.
func (g *Genesis) Parents() []Hash { return nil }

// TotalCoins sums the created value.
func (g *Genesis) TotalCoins() Amount { return SumWallets(g.Outputs) }
