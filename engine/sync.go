package engine

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/blockberries/ckptberry/ledger"
	"github.com/blockberries/ckptberry/logger"
	"github.com/blockberries/ckptberry/types"
)

// Checkpoint sync limits
const (
	// MaxPendingRequests is the max concurrent checkpoint requests
	MaxPendingRequests = 5

	// MaxOrphans bounds checkpoints held until their origin arrives
	MaxOrphans = 64

	// checklistLength is how many recent checkpoint ids a checklist carries
	checklistLength = 16
)

// SyncStatus contains checkpoint sync progress information
type SyncStatus struct {
	Known     int `json:"known"`
	Orphans   int `json:"orphans"`
	Missing   int `json:"missing"`
	Requested int `json:"requested"`
	// checkpoints waiting on DAG nodes before they can be verified
	Unverified int `json:"unverified"`
}

// synchronizer keeps the chain of checkpoints seen by this engine and pulls
// the ones it is missing from peers. It runs under the engine lock.
type synchronizer struct {
	e *Engine

	ckpts map[types.Hash]*types.Checkpoint
	// ids in height order
	chain []types.Hash
	// by origin
	orphans   map[types.Hash][]*types.Checkpoint
	nOrphans  int
	missing   map[types.Hash]struct{}
	requested map[types.Hash]time.Time
	toSend    map[types.Hash]struct{}
	// on top of the accepted checkpoint but not yet verifiable
	unverified map[types.Hash]*types.Checkpoint

	log *zap.Logger
}

func newSynchronizer(e *Engine) *synchronizer {
	s := &synchronizer{e: e, log: logger.Named("sync")}
	s.reset()
	return s
}

func (s *synchronizer) reset() {
	s.ckpts = make(map[types.Hash]*types.Checkpoint)
	s.chain = nil
	s.orphans = make(map[types.Hash][]*types.Checkpoint)
	s.nOrphans = 0
	s.missing = make(map[types.Hash]struct{})
	s.requested = make(map[types.Hash]time.Time)
	s.toSend = make(map[types.Hash]struct{})
	s.unverified = make(map[types.Hash]*types.Checkpoint)
	if c, ok := s.e.svc.Checkpoint().(*types.Checkpoint); ok {
		s.record(c)
	}
}

// record adds an accepted checkpoint to the chain.
func (s *synchronizer) record(c *types.Checkpoint) {
	id := c.ID()
	if _, ok := s.ckpts[id]; ok {
		return
	}
	s.ckpts[id] = c
	s.chain = append(s.chain, id)
	delete(s.missing, id)
	delete(s.requested, id)
}

// handle takes a checkpoint from a peer. A checkpoint on top of the accepted
// one is injected once it rebuilds from the local DAG; one whose origin is
// unknown is held until the origin arrives.
func (s *synchronizer) handle(now time.Time, item *types.CkptSync) error {
	c := item.Checkpoint
	if c == nil {
		return fmt.Errorf("%w: empty checkpoint sync", types.ErrMalformedItem)
	}
	if err := c.ValidateBasic(); err != nil {
		return err
	}
	id := c.ID()
	delete(s.missing, id)
	delete(s.requested, id)
	if _, ok := s.ckpts[id]; ok {
		return nil
	}

	svc := s.e.svc
	switch {
	case c.Origin == svc.CheckpointID():
		return s.injectChain(now, c)
	case c.Height <= svc.Height():
		return fmt.Errorf("%w: height %d, accepted %d", ErrForkedCheckpoint, c.Height, svc.Height())
	default:
		s.hold(c)
		return nil
	}
}

func (s *synchronizer) hold(c *types.Checkpoint) {
	for _, o := range s.orphans[c.Origin] {
		if o.ID() == c.ID() {
			return
		}
	}
	if s.nOrphans >= MaxOrphans {
		s.log.Debug("orphan pool full", zap.String("checkpoint", c.ID().Short()))
		return
	}
	s.orphans[c.Origin] = append(s.orphans[c.Origin], c)
	s.nOrphans++
	if _, ok := s.ckpts[c.Origin]; !ok {
		s.missing[c.Origin] = struct{}{}
	}
	s.log.Debug("holding orphan checkpoint",
		zap.String("checkpoint", c.ID().Short()),
		zap.String("origin", c.Origin.Short()))
}

// injectChain injects c and then every held descendant, verifying each
// against the local DAG first. It stops at the first checkpoint that cannot
// be verified yet.
func (s *synchronizer) injectChain(now time.Time, c *types.Checkpoint) error {
	for c != nil {
		ok, err := s.verify(c)
		if !ok {
			return err
		}
		s.log.Info("injecting checkpoint from peers", zap.Object("checkpoint", c))
		if err := s.e.inject(now, c); err != nil {
			return err
		}
		c = s.takeChild(c.ID())
	}
	return nil
}

// verify rebuilds c on the accepted checkpoint. A checkpoint whose
// transactions are still being fetched or acknowledged is parked and
// retried every fetch period.
func (s *synchronizer) verify(c *types.Checkpoint) (bool, error) {
	id := c.ID()
	v := ledger.Verify(s.e.agent.DAG(), c, s.e.svc, s.e.agent, s.e.cfg.buildOptions())
	ok, reason := v.Result()
	switch {
	case ok:
		delete(s.unverified, id)
		return true, nil
	case reason == ledger.ReasonPending:
		if _, parked := s.unverified[id]; !parked {
			if len(s.unverified) >= MaxOrphans {
				s.log.Debug("unverified pool full", zap.String("checkpoint", id.Short()))
				return false, nil
			}
			s.unverified[id] = c
			s.log.Debug("checkpoint waiting on DAG nodes",
				zap.String("checkpoint", id.Short()),
				zap.Int("missing", len(v.Missing())))
		}
		return false, nil
	default:
		delete(s.unverified, id)
		if v.Err() != nil {
			return false, fmt.Errorf("%w: %s %s: %w", ErrRejectedCheckpoint, id.Short(), reason, v.Err())
		}
		return false, fmt.Errorf("%w: %s %s", ErrRejectedCheckpoint, id.Short(), reason)
	}
}

// takeChild removes and returns the held checkpoint built on id.
func (s *synchronizer) takeChild(id types.Hash) *types.Checkpoint {
	children := s.orphans[id]
	if len(children) == 0 {
		return nil
	}
	delete(s.orphans, id)
	s.nOrphans -= len(children)
	if len(children) > 1 {
		s.log.Warn("conflicting checkpoints on one origin", zap.String("origin", id.Short()))
	}
	return children[0]
}

// recheck retries parked checkpoints. Ones overtaken by another checkpoint
// are dropped.
func (s *synchronizer) recheck(now time.Time) {
	ids := make([]types.Hash, 0, len(s.unverified))
	for id := range s.unverified {
		ids = append(ids, id)
	}
	sortHashes(ids)
	for _, id := range ids {
		c, ok := s.unverified[id]
		if !ok {
			continue
		}
		if c.Origin != s.e.svc.CheckpointID() {
			delete(s.unverified, id)
			continue
		}
		if err := s.injectChain(now, c); err != nil {
			s.e.metrics.ItemsRejected.WithLabelValues(types.ItemCkpt.String()).Inc()
			s.log.Info("parked checkpoint dropped", zap.String("checkpoint", id.Short()), zap.Error(err))
		}
	}
}

// checkDAG picks up a checkpoint that reached the DAG by gossip.
func (s *synchronizer) checkDAG(now time.Time) {
	latest, ok := s.e.agent.DAG().LatestCheckpoint().(*types.Checkpoint)
	if !ok || latest.Height <= s.e.svc.Height() {
		return
	}
	if err := s.handle(now, types.NewCkptSync(latest)); err != nil {
		s.log.Debug("DAG checkpoint not injected", zap.Error(err))
	}
}

func (s *synchronizer) broadcastChecklist(time.Time) {
	ids := s.chain
	if len(ids) > checklistLength {
		ids = ids[len(ids)-checklistLength:]
	}
	if len(ids) == 0 {
		return
	}
	s.e.msgr.Checklist(types.ItemCkpt, qualifiers(ids))
}

func (s *synchronizer) onChecklist(ids []types.Hash) {
	for _, id := range ids {
		if _, ok := s.ckpts[id]; ok {
			continue
		}
		s.missing[id] = struct{}{}
	}
}

// fetch retries parked checkpoints and requests missing ones, re-requesting
// those that went unanswered for a fetch period.
func (s *synchronizer) fetch(now time.Time) {
	s.recheck(now)

	period := s.e.cfg.Timeouts.SyncFetch
	for id, at := range s.requested {
		if now.Sub(at) >= period {
			delete(s.requested, id)
		}
	}
	ids := make([]types.Hash, 0, len(s.missing))
	for id := range s.missing {
		ids = append(ids, id)
	}
	sortHashes(ids)
	for _, id := range ids {
		if len(s.requested) >= MaxPendingRequests {
			return
		}
		if _, ok := s.requested[id]; ok {
			continue
		}
		s.requested[id] = now
		s.e.msgr.Request(types.ItemCkpt, types.Qualifier(id))
	}
}

func (s *synchronizer) onRequest(id types.Hash) bool {
	if _, ok := s.ckpts[id]; !ok {
		return false
	}
	s.toSend[id] = struct{}{}
	return true
}

func (s *synchronizer) onNotFound(id types.Hash) {
	delete(s.requested, id)
}

// respond sends the checkpoints peers asked for, lowest height first.
func (s *synchronizer) respond(time.Time) {
	if len(s.toSend) == 0 {
		return
	}
	out := make([]*types.Checkpoint, 0, len(s.toSend))
	for id := range s.toSend {
		out = append(out, s.ckpts[id])
	}
	s.toSend = make(map[types.Hash]struct{})
	sort.Slice(out, func(i, j int) bool { return out[i].Height < out[j].Height })
	items := make([]types.Item, len(out))
	for i, c := range out {
		items[i] = types.NewCkptSync(c)
	}
	s.e.msgr.Broadcast(items...)
}

func (s *synchronizer) status() SyncStatus {
	return SyncStatus{
		Known:      len(s.ckpts),
		Orphans:    s.nOrphans,
		Missing:    len(s.missing),
		Requested:  len(s.requested),
		Unverified: len(s.unverified),
	}
}

// Checkpoint returns a checkpoint this engine has accepted or served.
func (e *Engine) Checkpoint(id types.Hash) (*types.Checkpoint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.sync.ckpts[id]
	return c, ok
}

// SyncStatus returns checkpoint sync progress.
func (e *Engine) SyncStatus() SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sync.status()
}
