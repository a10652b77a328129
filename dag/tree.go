package dag

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/blockberries/ckptberry/logger"
	"github.com/blockberries/ckptberry/types"
)

// Errors
var (
	ErrIDConflict = errors.New("identifier in use by a different node")
	ErrNilNode    = errors.New("nil node")
)

// Tree is the DAG index. It is safe for concurrent use.
type Tree struct {
	mu sync.RWMutex

	root branch
	size int

	// parent id -> children waiting for it
	waiting map[types.Hash]map[types.Hash]struct{}
	// child id -> number of parents still absent
	missing map[types.Hash]int
	// parent id -> direct children, in arrival order
	children map[types.Hash][]types.Hash
	// transaction id -> distinct acknowledging validators
	acks map[types.Hash]map[types.PublicKey]struct{}

	latest      types.Base
	checkpoints []types.Hash

	log *zap.Logger
}

// New creates an empty tree.
func New() *Tree {
	return &Tree{
		waiting:  make(map[types.Hash]map[types.Hash]struct{}),
		missing:  make(map[types.Hash]int),
		children: make(map[types.Hash][]types.Hash),
		acks:     make(map[types.Hash]map[types.PublicKey]struct{}),
		log:      logger.Named("dag"),
	}
}

// Add inserts n. It returns false when n is already present, and
// ErrIDConflict when a different node holds the same identifier.
func (t *Tree) Add(n types.Node) (bool, error) {
	if n == nil {
		return false, ErrNilNode
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	id := n.ID()
	if resident := t.root.insert(&leaf{id: id, node: n}); resident != nil {
		if same, err := sameNode(resident.node, n); err != nil || !same {
			return false, fmt.Errorf("%w: %s", ErrIDConflict, id.Short())
		}
		return false, nil
	}
	t.size++

	for _, p := range n.Parents() {
		t.children[p] = append(t.children[p], id)
		if t.root.find(p) == nil {
			if t.waiting[p] == nil {
				t.waiting[p] = make(map[types.Hash]struct{})
			}
			t.waiting[p][id] = struct{}{}
			t.missing[id]++
		}
	}
	if len(t.waiting[id]) > 0 {
		for child := range t.waiting[id] {
			if t.missing[child]--; t.missing[child] <= 0 {
				delete(t.missing, child)
			}
		}
		t.log.Debug("parent arrived", zap.String("id", id.Short()), zap.Int("children", len(t.waiting[id])))
	}
	delete(t.waiting, id)

	switch v := n.(type) {
	case *types.Acknowledge:
		if t.acks[v.TxID] == nil {
			t.acks[v.TxID] = make(map[types.PublicKey]struct{})
		}
		t.acks[v.TxID][v.Validator] = struct{}{}
	case types.Base:
		if t.latest == nil || v.BaseHeight() >= t.latest.BaseHeight() {
			t.latest = v
		}
		t.checkpoints = append(t.checkpoints, id)
	}
	return true, nil
}

func sameNode(a, b types.Node) (bool, error) {
	ea, err := types.EncodeNode(a)
	if err != nil {
		return false, err
	}
	eb, err := types.EncodeNode(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ea, eb), nil
}

// Search returns the node with id.
func (t *Tree) Search(id types.Hash) (types.Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if l := t.root.find(id); l != nil {
		return l.node, true
	}
	return nil, false
}

// Contains reports whether id is in the tree.
func (t *Tree) Contains(id types.Hash) bool {
	_, ok := t.Search(id)
	return ok
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// All returns every node in identifier order.
func (t *Tree) All() []types.Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.Node, 0, t.size)
	t.root.walk(func(l *leaf) { out = append(out, l.node) })
	return out
}

// Transactions returns every transaction in identifier order.
func (t *Tree) Transactions() []*types.Transaction {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*types.Transaction
	t.root.walk(func(l *leaf) {
		if tx, ok := l.node.(*types.Transaction); ok {
			out = append(out, tx)
		}
	})
	return out
}

// Resolved reports whether id is present and all of its parents are.
func (t *Tree) Resolved(id types.Hash) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root.find(id) != nil && t.missing[id] == 0
}

// MissingParents lists the identifiers other nodes wait for, sorted.
func (t *Tree) MissingParents() []types.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.Hash, 0, len(t.waiting))
	for id := range t.waiting {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// AckCount returns the number of distinct validators acknowledging txID.
func (t *Tree) AckCount(txID types.Hash) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.acks[txID])
}

// Acknowledgers returns the validators acknowledging txID in key order.
func (t *Tree) Acknowledgers(txID types.Hash) []types.PublicKey {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.PublicKey, 0, len(t.acks[txID]))
	for pk := range t.acks[txID] {
		out = append(out, pk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// LatestCheckpoint returns the highest genesis or checkpoint, nil when the
// tree has none.
func (t *Tree) LatestCheckpoint() types.Base {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest
}

// Checkpoints returns the genesis and checkpoint identifiers in arrival order.
func (t *Tree) Checkpoints() []types.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]types.Hash(nil), t.checkpoints...)
}

// Dependents returns every present node that references id directly or
// through other nodes, in identifier order.
func (t *Tree) Dependents(id types.Hash) []types.Node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	visited := map[types.Hash]bool{id: true}
	queue := append([]types.Hash(nil), t.children[id]...)
	var out []types.Node
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		l := t.root.find(cur)
		if l == nil {
			continue
		}
		out = append(out, l.node)
		queue = append(queue, t.children[cur]...)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ID(), out[j].ID()
		return a.Less(b)
	})
	return out
}
