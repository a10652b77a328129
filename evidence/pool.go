package evidence

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blockberries/ckptberry/logger"
	"github.com/blockberries/ckptberry/types"
)

// Errors
var (
	ErrInvalidEvidence   = errors.New("invalid evidence")
	ErrDuplicateEvidence = errors.New("duplicate evidence")
	ErrEvidenceExpired   = errors.New("evidence expired")
	ErrDifferentState    = errors.New("votes are for different states")
	ErrDifferentVoter    = errors.New("votes from different validators")
	ErrNotConflicting    = errors.New("votes do not conflict")
)

// MaxSeenVotes bounds the votes remembered for conflict detection.
const MaxSeenVotes = 100000

// Config holds evidence pool configuration
type Config struct {
	// MaxAge is the wall-clock age after which evidence is dropped
	MaxAge time.Duration
	// MaxAgeHeights is the number of checkpoints after which evidence is dropped
	MaxAgeHeights uint64
}

// DefaultConfig returns default evidence pool configuration
func DefaultConfig() Config {
	return Config{
		MaxAge:        48 * time.Hour,
		MaxAgeHeights: 1000,
	}
}

// DuplicateVoteEvidence proves that one key signed two different concrete
// votes for the same creation state.
type DuplicateVoteEvidence struct {
	VoteA *types.ValidatorVote
	VoteB *types.ValidatorVote
	// Stake is the voter's delegated stake when the conflict was seen
	Stake types.Amount
	// Height is the checkpoint height the votes build on
	Height   uint64
	Detected time.Time
}

// ID is independent of the order of the two votes.
func (ev *DuplicateVoteEvidence) ID() types.Hash {
	a, b := ev.VoteA.ID(), ev.VoteB.ID()
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return types.HashBytes(append(a.Bytes(), b[:]...))
}

// Validator returns the equivocating key.
func (ev *DuplicateVoteEvidence) Validator() types.PublicKey {
	return ev.VoteA.PubKey
}

// Verify checks that both votes are from the same key, for the same state,
// concrete, different and correctly signed.
func (ev *DuplicateVoteEvidence) Verify() error {
	a, b := ev.VoteA, ev.VoteB
	if a == nil || b == nil {
		return fmt.Errorf("%w: missing vote", ErrInvalidEvidence)
	}
	if a.PubKey != b.PubKey {
		return ErrDifferentVoter
	}
	if !a.State.Equal(b.State) {
		return ErrDifferentState
	}
	if !conflicting(a, b) {
		return ErrNotConflicting
	}
	if err := a.VerifySignature(); err != nil {
		return fmt.Errorf("vote A: %w", err)
	}
	if err := b.VerifySignature(); err != nil {
		return fmt.Errorf("vote B: %w", err)
	}
	return nil
}

func conflicting(a, b *types.ValidatorVote) bool {
	if a.IsPass() || b.IsPass() {
		return false
	}
	return a.VotedType != b.VotedType || *a.VotedID != *b.VotedID
}

type seenVote struct {
	vote   *types.ValidatorVote
	height uint64
}

type voteKey struct {
	voter types.PublicKey
	state types.StateKey
}

// Pool manages evidence of equivocation.
type Pool struct {
	mu     sync.RWMutex
	config Config

	pending   []*DuplicateVoteEvidence
	known     map[types.Hash]struct{}
	committed map[types.Hash]struct{}

	// first concrete vote per voter and state
	seenVotes map[voteKey]seenVote

	currentHeight uint64
	currentTime   time.Time

	log *zap.Logger
}

// NewPool creates a new evidence pool
func NewPool(config Config) *Pool {
	return &Pool{
		config:    config,
		known:     make(map[types.Hash]struct{}),
		committed: make(map[types.Hash]struct{}),
		seenVotes: make(map[voteKey]seenVote),
		log:       logger.Named("evidence"),
	}
}

// Update records the accepted checkpoint height and prunes what expired.
func (p *Pool) Update(height uint64, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.currentHeight = height
	p.currentTime = now
	p.pruneExpired()
}

// CheckVote remembers vote and returns evidence when it conflicts with a
// vote already seen from the same key for the same state. The evidence is
// added to the pool.
func (p *Pool) CheckVote(vote *types.ValidatorVote, stake types.Amount) *DuplicateVoteEvidence {
	if vote.IsPass() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	key := voteKey{voter: vote.PubKey, state: vote.State.Key()}
	existing, ok := p.seenVotes[key]
	if !ok {
		if len(p.seenVotes) >= MaxSeenVotes {
			p.pruneOldestVotes(MaxSeenVotes / 10)
		}
		p.seenVotes[key] = seenVote{vote: vote, height: p.currentHeight}
		return nil
	}
	if !conflicting(existing.vote, vote) {
		return nil
	}

	ev := &DuplicateVoteEvidence{
		VoteA:    existing.vote,
		VoteB:    vote,
		Stake:    stake,
		Height:   p.currentHeight,
		Detected: p.now(),
	}
	if err := p.add(ev); err != nil {
		return nil
	}
	p.log.Warn("conflicting votes",
		zap.String("validator", vote.PubKey.Short()),
		zap.Object("state", vote.State),
		zap.String("stake", stake.String()))
	return ev
}

// AddEvidence verifies ev and adds it to the pending list.
func (p *Pool) AddEvidence(ev *DuplicateVoteEvidence) error {
	if err := ev.Verify(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isExpired(ev) {
		return ErrEvidenceExpired
	}
	return p.add(ev)
}

func (p *Pool) add(ev *DuplicateVoteEvidence) error {
	id := ev.ID()
	if _, ok := p.committed[id]; ok {
		return ErrDuplicateEvidence
	}
	if _, ok := p.known[id]; ok {
		return ErrDuplicateEvidence
	}
	p.known[id] = struct{}{}
	p.pending = append(p.pending, ev)
	return nil
}

// Pending returns the collected evidence, oldest first.
func (p *Pool) Pending() []*DuplicateVoteEvidence {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*DuplicateVoteEvidence(nil), p.pending...)
}

// MarkCommitted moves evidence out of the pending list once it has been
// reported.
func (p *Pool) MarkCommitted(evs []*DuplicateVoteEvidence) {
	p.mu.Lock()
	defer p.mu.Unlock()

	remove := make(map[types.Hash]struct{}, len(evs))
	for _, ev := range evs {
		id := ev.ID()
		p.committed[id] = struct{}{}
		remove[id] = struct{}{}
	}
	var remaining []*DuplicateVoteEvidence
	for _, ev := range p.pending {
		if _, ok := remove[ev.ID()]; !ok {
			remaining = append(remaining, ev)
		}
	}
	p.pending = remaining
}

// Size returns the number of pending evidence items
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pending)
}

func (p *Pool) now() time.Time {
	if p.currentTime.IsZero() {
		return time.Now()
	}
	return p.currentTime
}

func (p *Pool) pruneExpired() {
	var valid []*DuplicateVoteEvidence
	for _, ev := range p.pending {
		if p.isExpired(ev) {
			delete(p.known, ev.ID())
			continue
		}
		valid = append(valid, ev)
	}
	p.pending = valid

	for key, sv := range p.seenVotes {
		if p.currentHeight > sv.height+p.config.MaxAgeHeights {
			delete(p.seenVotes, key)
		}
	}
}

// pruneOldestVotes removes n remembered votes, lowest height first.
// Caller must hold p.mu.
func (p *Pool) pruneOldestVotes(n int) {
	keys := make([]voteKey, 0, len(p.seenVotes))
	for k := range p.seenVotes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return p.seenVotes[keys[i]].height < p.seenVotes[keys[j]].height
	})
	for i := 0; i < n && i < len(keys); i++ {
		delete(p.seenVotes, keys[i])
	}
}

func (p *Pool) isExpired(ev *DuplicateVoteEvidence) bool {
	if p.currentHeight > ev.Height+p.config.MaxAgeHeights {
		return true
	}
	return !p.currentTime.IsZero() && p.currentTime.Sub(ev.Detected) > p.config.MaxAge
}
