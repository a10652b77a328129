package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/blockberries/ckptberry/store"
	"github.com/blockberries/ckptberry/types"
)

// Errors
var (
	ErrNoGenesis     = errors.New("no genesis in dag")
	ErrManyGeneses   = errors.New("more than one genesis in dag")
	ErrNotSuccessor  = errors.New("checkpoint does not extend the current one")
	ErrUnknownBase   = errors.New("base node not found")
	ErrNotBase       = errors.New("node is not a genesis or checkpoint")
	ErrInvalidParams = errors.New("invalid build parameters")
)

// DAG is the read view of the ledger DAG used here.
type DAG interface {
	Search(id types.Hash) (types.Node, bool)
	All() []types.Node
	Transactions() []*types.Transaction
	AckCount(txID types.Hash) int
}

// Service exposes the accepted checkpoint and the stake it delegates.
type Service interface {
	Checkpoint() types.Base
	CheckpointID() types.Hash
	Height() uint64
	StakeSum() types.Amount
	DelegatedStake(pk types.PublicKey) types.Amount
	// StakeOwners returns the keys holding stake in key order.
	StakeOwners() []types.PublicKey
	OwnedWallets(pk types.PublicKey) []types.Wallet
	StakeTable() (*types.StakeTable, error)
	Update(ckpt *types.Checkpoint) error
}

// Persistence stores accepted checkpoints.
type Persistence interface {
	Save(ckpt *types.Checkpoint) error
	Extract(height uint64) (*types.Checkpoint, error)
	ExtractByID(id types.Hash) (*types.Checkpoint, error)
	Latest() (*types.Checkpoint, error)
}

// snapshot is the stake view of one base.
type snapshot struct {
	base    types.Base
	stake   []types.StakeEntry
	byOwner map[types.PublicKey]types.Amount
	wallets map[types.PublicKey][]types.Wallet
	sum     types.Amount
}

func newSnapshot(base types.Base) *snapshot {
	live := base.LiveWallets()
	if c, ok := base.(*types.Checkpoint); ok {
		return snapshotOf(base, live, c.Stake)
	}
	return snapshotOf(base, live, types.StakeFromWallets(live))
}

func snapshotOf(base types.Base, live []types.Wallet, stake []types.StakeEntry) *snapshot {
	s := &snapshot{
		base:    base,
		stake:   append([]types.StakeEntry(nil), stake...),
		byOwner: make(map[types.PublicKey]types.Amount, len(stake)),
		wallets: make(map[types.PublicKey][]types.Wallet),
	}
	for _, e := range s.stake {
		s.byOwner[e.Owner] = e.Amount
		s.sum = s.sum.Add(e.Amount)
	}
	for _, w := range live {
		s.wallets[w.Owner] = append(s.wallets[w.Owner], w)
	}
	return s
}

func (s *snapshot) owners() []types.PublicKey {
	out := make([]types.PublicKey, len(s.stake))
	for i, e := range s.stake {
		out[i] = e.Owner
	}
	return out
}

func (s *snapshot) successor(ckpt *types.Checkpoint) error {
	if ckpt.Origin != s.base.ID() {
		return fmt.Errorf("%w: origin %s, current %s", ErrNotSuccessor, ckpt.Origin.Short(), s.base.ID().Short())
	}
	if ckpt.Height != s.base.BaseHeight()+1 {
		return fmt.Errorf("%w: height %d, current %d", ErrNotSuccessor, ckpt.Height, s.base.BaseHeight())
	}
	return ckpt.ValidateBasic()
}

// view implements the read side of Service over a guarded snapshot.
type view struct {
	mu   sync.RWMutex
	snap *snapshot
}

func (v *view) current() *snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snap
}

func (v *view) Checkpoint() types.Base   { return v.current().base }
func (v *view) CheckpointID() types.Hash { return v.current().base.ID() }
func (v *view) Height() uint64           { return v.current().base.BaseHeight() }
func (v *view) StakeSum() types.Amount   { return v.current().sum }

func (v *view) DelegatedStake(pk types.PublicKey) types.Amount {
	return v.current().byOwner[pk]
}

func (v *view) StakeOwners() []types.PublicKey { return v.current().owners() }

func (v *view) OwnedWallets(pk types.PublicKey) []types.Wallet {
	return types.CopyWallets(v.current().wallets[pk])
}

func (v *view) StakeTable() (*types.StakeTable, error) {
	return types.NewStakeTable(v.current().stake)
}

// MockService replays the genesis nodes of a DAG and keeps the accepted
// checkpoint in memory.
type MockService struct {
	view
}

// NewMockService builds the stake view from the genesis of dag, which must
// hold exactly one.
func NewMockService(dag DAG) (*MockService, error) {
	var geneses []*types.Genesis
	for _, n := range dag.All() {
		if g, ok := n.(*types.Genesis); ok {
			geneses = append(geneses, g)
		}
	}
	switch len(geneses) {
	case 0:
		return nil, ErrNoGenesis
	case 1:
	default:
		return nil, fmt.Errorf("%w: %d", ErrManyGeneses, len(geneses))
	}
	return &MockService{view: view{snap: newSnapshot(geneses[0])}}, nil
}

// Update implements Service.
func (m *MockService) Update(ckpt *types.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.snap.successor(ckpt); err != nil {
		return err
	}
	m.snap = newSnapshot(ckpt)
	return nil
}

// BackedService keeps the accepted checkpoint in a Persistence.
type BackedService struct {
	view
	db Persistence
}

// NewBackedService resumes from the latest persisted checkpoint, or from
// genesis when nothing is stored yet.
func NewBackedService(db Persistence, genesis *types.Genesis) (*BackedService, error) {
	latest, err := db.Latest()
	switch {
	case err == nil:
		return &BackedService{view: view{snap: newSnapshot(latest)}, db: db}, nil
	case errors.Is(err, store.ErrNotFound):
		if genesis == nil {
			return nil, ErrNoGenesis
		}
		return &BackedService{view: view{snap: newSnapshot(genesis)}, db: db}, nil
	default:
		return nil, err
	}
}

// Update implements Service. The checkpoint is persisted before it becomes
// current.
func (b *BackedService) Update(ckpt *types.Checkpoint) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.snap.successor(ckpt); err != nil {
		return err
	}
	if err := b.db.Save(ckpt); err != nil {
		return err
	}
	b.snap = newSnapshot(ckpt)
	return nil
}

// Extract returns a persisted checkpoint by height.
func (b *BackedService) Extract(height uint64) (*types.Checkpoint, error) {
	return b.db.Extract(height)
}
