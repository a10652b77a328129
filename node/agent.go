package node

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/blockberries/ckptberry/dag"
	"github.com/blockberries/ckptberry/engine"
	"github.com/blockberries/ckptberry/ledger"
	"github.com/blockberries/ckptberry/logger"
	"github.com/blockberries/ckptberry/privval"
	"github.com/blockberries/ckptberry/types"
)

// Errors
var (
	ErrNoService = errors.New("no checkpoint service")
)

// Agent hosts one engine: the local DAG, the validator keys and the list of
// nodes to fetch from peers. It implements engine.Agent.
type Agent struct {
	tree    *dag.Tree
	svc     ledger.Service
	signers []privval.PrivValidator

	mu     sync.Mutex
	fetch  []types.Hash
	queued map[types.Hash]struct{}

	log *zap.Logger
}

var _ engine.Agent = (*Agent)(nil)

// NewAgent creates an agent over tree. svc must follow the checkpoints
// added to tree.
func NewAgent(tree *dag.Tree, svc ledger.Service, signers ...privval.PrivValidator) (*Agent, error) {
	if svc == nil {
		return nil, ErrNoService
	}
	return &Agent{
		tree:    tree,
		svc:     svc,
		signers: signers,
		queued:  make(map[types.Hash]struct{}),
		log:     logger.Named("agent"),
	}, nil
}

// AddTxnToFetchList queues id for retrieval. Known and already queued ids
// are ignored.
func (a *Agent) AddTxnToFetchList(id types.Hash) {
	if a.tree.Contains(id) {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.queued[id]; ok {
		return
	}
	a.queued[id] = struct{}{}
	a.fetch = append(a.fetch, id)
}

// DrainFetchList returns the queued ids in arrival order and empties the
// list.
func (a *Agent) DrainFetchList() []types.Hash {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.fetch
	a.fetch = nil
	a.queued = make(map[types.Hash]struct{})
	return out
}

// Signers returns the local validator keys.
func (a *Agent) Signers() []privval.PrivValidator { return a.signers }

// DAG returns the local tree.
func (a *Agent) DAG() engine.DAG { return a.tree }

// Tree returns the local tree.
func (a *Agent) Tree() *dag.Tree { return a.tree }

// Service returns the checkpoint service.
func (a *Agent) Service() ledger.Service { return a.svc }

// AddNode stores a ledger node received from a peer or created locally.
func (a *Agent) AddNode(n types.Node) (bool, error) {
	added, err := a.tree.Add(n)
	if err != nil {
		return false, err
	}
	if added {
		for _, parent := range n.Parents() {
			if !a.tree.Contains(parent) {
				a.AddTxnToFetchList(parent)
			}
		}
	}
	return added, nil
}

// InjectCheckpoint adds ckpt to the tree and makes it the accepted
// checkpoint.
func (a *Agent) InjectCheckpoint(ckpt *types.Checkpoint) error {
	if _, err := a.tree.Add(ckpt); err != nil {
		return fmt.Errorf("add checkpoint %s: %w", ckpt.ID().Short(), err)
	}
	if err := a.svc.Update(ckpt); err != nil {
		return err
	}
	a.log.Info("checkpoint accepted",
		zap.Uint64("height", ckpt.Height),
		zap.String("id", ckpt.ID().Short()))
	return nil
}
