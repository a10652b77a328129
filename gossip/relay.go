package gossip

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/blockberries/ckptberry/logger"
	"github.com/blockberries/ckptberry/types"
)

// Errors
var (
	ErrInvalidConfig = errors.New("invalid relay config")
)

// Transport puts items on the wire. Send is called once per propagation.
type Transport interface {
	Send(items []types.Item)
	Request(t types.ItemType, qualifier string)
	Checklist(t types.ItemType, qualifiers []string)
}

// Config holds relay parameters.
type Config struct {
	// TTL is how many times an item is sent.
	TTL int
	// Interval is the minimum time between two sends of one item.
	Interval time.Duration
	// CacheSize bounds the seen-item cache.
	CacheSize int
}

// DefaultConfig returns the network defaults.
func DefaultConfig() Config {
	return Config{
		TTL:       5,
		Interval:  time.Second,
		CacheSize: 16384,
	}
}

// ValidateBasic checks the config.
func (c Config) ValidateBasic() error {
	if c.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrInvalidConfig)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("%w: cache size must be positive", ErrInvalidConfig)
	}
	return nil
}

type outgoing struct {
	item types.Item
	ttl  int
	seq  uint64
	// zero until the first send
	last time.Time
}

// Relay repeats outgoing items a bounded number of times and drops
// incoming duplicates. It implements engine.Messenger: Broadcast only
// queues, Tick sends.
type Relay struct {
	mu sync.Mutex

	cfg     Config
	out     Transport
	pending map[types.Hash]*outgoing
	seq     uint64
	seen    *lru.Cache
	sent    uint64

	log *zap.Logger
}

// NewRelay creates a relay sending through out.
func NewRelay(cfg Config, out Transport) (*Relay, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, err
	}
	seen, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Relay{
		cfg:     cfg,
		out:     out,
		pending: make(map[types.Hash]*outgoing),
		seen:    seen,
		log:     logger.Named("gossip"),
	}, nil
}

// Broadcast queues items for propagation. An item already queued keeps its
// remaining TTL.
func (r *Relay) Broadcast(items ...types.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, it := range items {
		id := it.ID()
		r.seen.Add(id, struct{}{})
		if _, ok := r.pending[id]; ok {
			continue
		}
		r.seq++
		r.pending[id] = &outgoing{item: it, ttl: r.cfg.TTL, seq: r.seq}
	}
}

// Request passes a fetch request to the transport.
func (r *Relay) Request(t types.ItemType, qualifier string) {
	r.out.Request(t, qualifier)
}

// Checklist passes a checklist to the transport.
func (r *Relay) Checklist(t types.ItemType, qualifiers []string) {
	r.out.Checklist(t, qualifiers)
}

// Tick sends every item whose interval has elapsed, decrementing its TTL by
// one, and forgets items whose TTL reached zero. It returns how many items
// were sent.
func (r *Relay) Tick(now time.Time) int {
	r.mu.Lock()
	due := make([]*outgoing, 0, len(r.pending))
	for id, o := range r.pending {
		if !o.last.IsZero() && now.Sub(o.last) < r.cfg.Interval {
			continue
		}
		o.ttl--
		o.last = now
		due = append(due, o)
		if o.ttl <= 0 {
			delete(r.pending, id)
		}
	}
	r.sent += uint64(len(due))
	r.mu.Unlock()

	if len(due) == 0 {
		return 0
	}
	sort.Slice(due, func(i, j int) bool { return due[i].seq < due[j].seq })
	items := make([]types.Item, len(due))
	for i, o := range due {
		items[i] = o.item
	}
	r.out.Send(items)
	r.log.Debug("items propagated", zap.Int("count", len(items)))
	return len(items)
}

// Seen records an incoming item and reports whether it was already known.
// Known items are neither handled nor relayed again.
func (r *Relay) Seen(it types.Item) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	known, _ := r.seen.ContainsOrAdd(it.ID(), struct{}{})
	return known
}

// Forget drops id from the seen cache so a later copy is handled again.
func (r *Relay) Forget(id types.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen.Remove(id)
}

// TTL returns the remaining TTL of a queued item.
func (r *Relay) TTL(id types.Hash) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.pending[id]
	if !ok {
		return 0, false
	}
	return o.ttl, true
}

// Pending returns the number of queued items.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Sent returns the number of item sends so far.
func (r *Relay) Sent() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}
