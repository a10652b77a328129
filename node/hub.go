package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blockberries/ckptberry/engine"
	"github.com/blockberries/ckptberry/gossip"
	"github.com/blockberries/ckptberry/logger"
	"github.com/blockberries/ckptberry/types"
	"github.com/blockberries/ckptberry/wal"
)

const maxPumpRounds = 1 << 20

// ErrNoValidators is returned when a hub is started empty.
var ErrNoValidators = errors.New("hub has no validators")

type deliveryKind uint8

const (
	deliverItems deliveryKind = iota
	deliverRequest
	deliverChecklist
)

type delivery struct {
	from       int
	kind       deliveryKind
	items      []types.Item
	itemType   types.ItemType
	qualifiers []string
}

// Hub connects validators of one process. Everything sent through a port is
// queued and delivered to the other ports by Pump, never from inside the
// sending call.
type Hub struct {
	mu         sync.Mutex
	validators []*Validator
	queue      []delivery
	delivered  uint64

	log *zap.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{log: logger.Named("hub")}
}

// Validator is one engine attached to a hub together with its agent and
// relay.
type Validator struct {
	Agent  *Agent
	Engine *engine.Engine
	Relay  *gossip.Relay

	port *port
}

// port is the transport of one validator.
type port struct {
	hub *Hub
	idx int
}

func (p *port) Send(items []types.Item) {
	p.hub.enqueue(delivery{from: p.idx, kind: deliverItems, items: items})
}

func (p *port) Request(t types.ItemType, qualifier string) {
	p.hub.enqueue(delivery{from: p.idx, kind: deliverRequest, itemType: t, qualifiers: []string{qualifier}})
}

func (p *port) Checklist(t types.ItemType, qualifiers []string) {
	p.hub.enqueue(delivery{from: p.idx, kind: deliverChecklist, itemType: t, qualifiers: qualifiers})
}

// AddValidator builds an engine for agent whose messages travel through the
// hub.
func (h *Hub) AddValidator(cfg *engine.Config, gcfg gossip.Config, agent *Agent, w wal.WAL, opts ...engine.Option) (*Validator, error) {
	h.mu.Lock()
	p := &port{hub: h, idx: len(h.validators)}
	h.mu.Unlock()

	relay, err := gossip.NewRelay(gcfg, p)
	if err != nil {
		return nil, err
	}
	eng, err := engine.NewEngine(cfg, agent, agent.Service(), relay, w, opts...)
	if err != nil {
		return nil, err
	}
	v := &Validator{Agent: agent, Engine: eng, Relay: relay, port: p}

	h.mu.Lock()
	defer h.mu.Unlock()
	p.idx = len(h.validators)
	h.validators = append(h.validators, v)
	return v, nil
}

// Validators returns the attached validators in join order.
func (h *Hub) Validators() []*Validator {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Validator(nil), h.validators...)
}

// Delivered returns the number of deliveries made so far.
func (h *Hub) Delivered() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.delivered
}

func (h *Hub) enqueue(d delivery) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queue = append(h.queue, d)
}

func (h *Hub) next() (delivery, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return delivery{}, false
	}
	d := h.queue[0]
	h.queue = h.queue[1:]
	h.delivered++
	return d, true
}

// Publish adds ledger nodes to the DAG of every validator.
func (h *Hub) Publish(nodes ...types.Node) error {
	for _, v := range h.Validators() {
		for _, n := range nodes {
			if _, err := v.Agent.AddNode(n); err != nil {
				return fmt.Errorf("publish %s: %w", n.ID().Short(), err)
			}
		}
	}
	return nil
}

// Start starts every engine at now.
func (h *Hub) Start(now time.Time) error {
	vals := h.Validators()
	if len(vals) == 0 {
		return ErrNoValidators
	}
	for _, v := range vals {
		if err := v.Engine.Start(now); err != nil {
			return err
		}
	}
	h.Pump()
	return nil
}

// Stop stops every engine.
func (h *Hub) Stop() error {
	var errs []error
	for _, v := range h.Validators() {
		if err := v.Engine.Stop(); err != nil && !errors.Is(err, engine.ErrNotStarted) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Tick drives every validator to now: engine deadlines, relay sends,
// deliveries and fetches. An engine whose creation timed out resumes on
// its accepted checkpoint.
func (h *Hub) Tick(now time.Time) error {
	vals := h.Validators()
	for _, v := range vals {
		err := v.Engine.Tick(now)
		if errors.Is(err, engine.ErrCreationTimedOut) {
			h.log.Warn("resuming after creation timeout", zap.Int("validator", v.port.idx))
			err = v.Engine.Resume(now)
		}
		if err != nil {
			return err
		}
	}
	for _, v := range vals {
		v.Relay.Tick(now)
	}
	h.Pump()
	h.fetch(vals)
	return nil
}

// Run ticks the hub with the wall clock every interval until ctx ends.
func (h *Hub) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := h.Tick(now); err != nil {
				return err
			}
		}
	}
}

// Pump delivers queued messages until the queue is empty. It returns the
// number of deliveries.
func (h *Hub) Pump() int {
	vals := h.Validators()
	n := 0
	for ; n < maxPumpRounds; n++ {
		d, ok := h.next()
		if !ok {
			return n
		}
		switch d.kind {
		case deliverItems:
			h.deliverItems(vals, d)
		case deliverRequest:
			h.deliverRequest(vals, d)
		case deliverChecklist:
			for _, v := range vals {
				if v.port.idx != d.from {
					v.Engine.OnItemChecklist(d.itemType, d.qualifiers)
				}
			}
		}
	}
	h.log.Warn("pump stopped with messages queued")
	return n
}

func (h *Hub) deliverItems(vals []*Validator, d delivery) {
	for _, v := range vals {
		if v.port.idx == d.from {
			continue
		}
		for _, it := range d.items {
			if v.Relay.Seen(it) {
				continue
			}
			if err := v.Engine.HandleItem(it); err != nil {
				// a later copy may arrive when it can be handled
				v.Relay.Forget(it.ID())
				h.log.Debug("item not handled",
					zap.Int("validator", v.port.idx),
					zap.Stringer("type", it.ItemType()),
					zap.Error(err))
			}
		}
	}
}

func (h *Hub) deliverRequest(vals []*Validator, d delivery) {
	q := d.qualifiers[0]
	for _, v := range vals {
		if v.port.idx != d.from && v.Engine.OnItemRequest(d.itemType, q) {
			return
		}
	}
	if d.from < len(vals) {
		vals[d.from].Engine.OnItemNotFound(d.itemType, q)
	}
}

// fetch serves every fetch list from the DAGs of the other validators.
func (h *Hub) fetch(vals []*Validator) {
	for _, v := range vals {
		for _, id := range v.Agent.DrainFetchList() {
			h.fetchOne(vals, v, id)
		}
	}
}

func (h *Hub) fetchOne(vals []*Validator, to *Validator, id types.Hash) {
	for _, peer := range vals {
		if peer == to {
			continue
		}
		n, ok := peer.Agent.Tree().Search(id)
		if !ok {
			continue
		}
		if _, err := to.Agent.AddNode(n); err != nil {
			h.log.Warn("fetched node rejected", zap.String("id", id.Short()), zap.Error(err))
		}
		return
	}
	// keep asking until some peer has it
	to.Agent.AddTxnToFetchList(id)
}
