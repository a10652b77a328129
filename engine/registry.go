package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/blockberries/ckptberry/types"
)

// ErrUnknownVoter is returned for a vote from a key without stake.
var ErrUnknownVoter = errors.New("voter holds no stake")

// outcome is a voter's effective choice. The zero value is PASS.
type outcome struct {
	id   types.Hash
	pass bool
}

func passOutcome() outcome { return outcome{pass: true} }

func outcomeOf(votedID *types.Hash) outcome {
	if votedID == nil {
		return passOutcome()
	}
	return outcome{id: *votedID}
}

// votedID returns the outcome as a vote target, nil for PASS.
func (o outcome) votedID() *types.Hash {
	if o.pass {
		return nil
	}
	id := o.id
	return &id
}

// Tally is the stake behind one outcome.
type Tally struct {
	// VotedID is nil for PASS.
	VotedID *types.Hash
	Support types.Amount
	// Votes backs the outcome: every vote of every voter whose effective
	// outcome it is.
	Votes []*types.ValidatorVote
}

// IsPass reports a PASS tally.
func (t *Tally) IsPass() bool { return t.VotedID == nil }

// VoteIDs returns the identifiers of the backing votes.
func (t *Tally) VoteIDs() []types.Hash {
	ids := make([]types.Hash, len(t.Votes))
	for i, v := range t.Votes {
		ids[i] = v.ID()
	}
	return ids
}

// VoteRegistry collects the votes of one creation state and weighs them by
// the stake table snapshot taken when the checkpoint round started.
//
// A voter with one distinct vote counts toward that vote. A voter with
// several distinct votes counts toward PASS.
//
// VoteRegistry is not safe for concurrent use.
type VoteRegistry struct {
	state  types.CreationState
	stakes *types.StakeTable

	votes   map[types.Hash]*types.ValidatorVote
	byVoter map[types.PublicKey][]*types.ValidatorVote

	// processed holds every vote id handled, valid or not
	processed map[types.Hash]struct{}
	// requested holds ids peers asked for
	requested map[types.Hash]struct{}
	// missing holds ids learned from checklists and majority lists
	missing map[types.Hash]struct{}

	majority *types.MajorityVotes
}

// NewVoteRegistry creates an empty registry for state.
func NewVoteRegistry(state types.CreationState, stakes *types.StakeTable) *VoteRegistry {
	return &VoteRegistry{
		state:     state,
		stakes:    stakes,
		votes:     make(map[types.Hash]*types.ValidatorVote),
		byVoter:   make(map[types.PublicKey][]*types.ValidatorVote),
		processed: make(map[types.Hash]struct{}),
		requested: make(map[types.Hash]struct{}),
		missing:   make(map[types.Hash]struct{}),
	}
}

// State returns the state the registry collects votes for.
func (r *VoteRegistry) State() types.CreationState { return r.state }

// Stakes returns the stake snapshot.
func (r *VoteRegistry) Stakes() *types.StakeTable { return r.stakes }

// Add stores vote. The signature must already be verified. It returns false
// for a vote already held.
func (r *VoteRegistry) Add(vote *types.ValidatorVote) (bool, error) {
	id := vote.ID()
	r.processed[id] = struct{}{}
	delete(r.missing, id)

	if !vote.State.Equal(r.state) {
		return false, fmt.Errorf("%w: vote for %s, registry for %s", ErrWrongState, vote.State, r.state)
	}
	if vote.VotedType != r.state.Status.VotedType() {
		return false, fmt.Errorf("%w: %s in %s", ErrUnexpectedVoteType, vote.VotedType, r.state.Status)
	}
	if !r.stakes.Has(vote.PubKey) {
		return false, fmt.Errorf("%w: %s", ErrUnknownVoter, vote.PubKey.Short())
	}
	if _, ok := r.votes[id]; ok {
		return false, nil
	}
	r.votes[id] = vote
	r.byVoter[vote.PubKey] = append(r.byVoter[vote.PubKey], vote)
	return true, nil
}

// MarkProcessed records an id that was handled without being stored, for
// example a vote with a bad signature.
func (r *VoteRegistry) MarkProcessed(id types.Hash) {
	r.processed[id] = struct{}{}
	delete(r.missing, id)
}

// Processed reports whether id has been handled.
func (r *VoteRegistry) Processed(id types.Hash) bool {
	_, ok := r.processed[id]
	return ok
}

// Has reports whether the vote id is held.
func (r *VoteRegistry) Has(id types.Hash) bool {
	_, ok := r.votes[id]
	return ok
}

// Vote returns a held vote.
func (r *VoteRegistry) Vote(id types.Hash) (*types.ValidatorVote, bool) {
	v, ok := r.votes[id]
	return v, ok
}

// Len returns the number of held votes.
func (r *VoteRegistry) Len() int { return len(r.votes) }

// IDs returns the held vote ids in ascending order.
func (r *VoteRegistry) IDs() []types.Hash {
	ids := make([]types.Hash, 0, len(r.votes))
	for id := range r.votes {
		ids = append(ids, id)
	}
	sortHashes(ids)
	return ids
}

// VotesOf returns the votes held from voter.
func (r *VoteRegistry) VotesOf(voter types.PublicKey) []*types.ValidatorVote {
	return append([]*types.ValidatorVote(nil), r.byVoter[voter]...)
}

func (r *VoteRegistry) outcomeOf(voter types.PublicKey) (outcome, bool) {
	vs := r.byVoter[voter]
	if len(vs) == 0 {
		return outcome{}, false
	}
	first := outcomeOf(vs[0].VotedID)
	for _, v := range vs[1:] {
		if outcomeOf(v.VotedID) != first {
			return passOutcome(), true
		}
	}
	return first, true
}

// Outcome returns the effective vote of voter: nil for PASS. ok is false
// when nothing is held from voter.
func (r *VoteRegistry) Outcome(voter types.PublicKey) (votedID *types.Hash, ok bool) {
	o, ok := r.outcomeOf(voter)
	if !ok {
		return nil, false
	}
	return o.votedID(), true
}

// Tallies returns the support of every outcome, largest first.
func (r *VoteRegistry) Tallies() []*Tally {
	byOutcome := make(map[outcome]*Tally)
	voters := make([]types.PublicKey, 0, len(r.byVoter))
	for voter := range r.byVoter {
		voters = append(voters, voter)
	}
	sort.Slice(voters, func(i, j int) bool { return voters[i].Compare(voters[j]) < 0 })

	for _, voter := range voters {
		o, _ := r.outcomeOf(voter)
		t, ok := byOutcome[o]
		if !ok {
			t = &Tally{VotedID: o.votedID()}
			byOutcome[o] = t
		}
		t.Support = t.Support.Add(r.stakes.StakeOf(voter))
		t.Votes = append(t.Votes, r.byVoter[voter]...)
	}

	out := make([]*Tally, 0, len(byOutcome))
	for _, t := range byOutcome {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Support.Cmp(out[j].Support); c != 0 {
			return c > 0
		}
		return tallyKeyLess(out[i], out[j])
	})
	return out
}

func tallyKeyLess(a, b *Tally) bool {
	switch {
	case a.VotedID == nil:
		return b.VotedID != nil
	case b.VotedID == nil:
		return false
	default:
		return a.VotedID.Less(*b.VotedID)
	}
}

// Majority returns the outcome whose support exceeds two thirds of the
// stake, or nil. Two such outcomes means the stake table or the votes are
// broken and ErrTwoMajorities is returned.
func (r *VoteRegistry) Majority() (*Tally, error) {
	var found *Tally
	for _, t := range r.Tallies() {
		if !r.stakes.IsMajority(t.Support) {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: %s", ErrTwoMajorities, r.state)
		}
		found = t
	}
	return found, nil
}

// VotedStake is the stake of every key with at least one vote.
func (r *VoteRegistry) VotedStake() types.Amount {
	var sum types.Amount
	for voter := range r.byVoter {
		sum = sum.Add(r.stakes.StakeOf(voter))
	}
	return sum
}

// Stalemate reports that more than two thirds of the stake has voted and no
// outcome holds a majority.
func (r *VoteRegistry) Stalemate() bool {
	if !r.stakes.IsMajority(r.VotedStake()) {
		return false
	}
	m, err := r.Majority()
	return err == nil && m == nil
}

// CanWin reports whether the outcome voter currently backs could still reach
// a majority if every key that has not voted joined it.
func (r *VoteRegistry) CanWin(voter types.PublicKey) bool {
	o, ok := r.outcomeOf(voter)
	if !ok {
		return true
	}
	remaining, err := r.stakes.Total().Sub(r.VotedStake())
	if err != nil {
		remaining = types.Amount{}
	}
	var support types.Amount
	for _, t := range r.Tallies() {
		if outcomeOf(t.VotedID) == o {
			support = t.Support
			break
		}
	}
	return r.stakes.IsMajority(support.Add(remaining))
}

// MarkRequested notes that a peer asked for vote id. It reports whether the
// vote is held here.
func (r *VoteRegistry) MarkRequested(id types.Hash) bool {
	if _, ok := r.votes[id]; !ok {
		return false
	}
	r.requested[id] = struct{}{}
	return true
}

// TakeRequested returns the requested votes and clears the request set.
func (r *VoteRegistry) TakeRequested() []*types.ValidatorVote {
	if len(r.requested) == 0 {
		return nil
	}
	ids := make([]types.Hash, 0, len(r.requested))
	for id := range r.requested {
		ids = append(ids, id)
	}
	sortHashes(ids)
	out := make([]*types.ValidatorVote, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.votes[id])
	}
	r.requested = make(map[types.Hash]struct{})
	return out
}

// NoteMissing records ids that peers hold and this registry has not seen.
// It returns how many were new.
func (r *VoteRegistry) NoteMissing(ids []types.Hash) int {
	added := 0
	for _, id := range ids {
		if _, ok := r.processed[id]; ok {
			continue
		}
		if _, ok := r.missing[id]; ok {
			continue
		}
		r.missing[id] = struct{}{}
		added++
	}
	return added
}

// Missing returns the ids still to fetch.
func (r *VoteRegistry) Missing() []types.Hash {
	ids := make([]types.Hash, 0, len(r.missing))
	for id := range r.missing {
		ids = append(ids, id)
	}
	sortHashes(ids)
	return ids
}

// SetMajority records the announcement built for this state.
func (r *VoteRegistry) SetMajority(m *types.MajorityVotes) { r.majority = m }

// MajorityItem returns the recorded announcement, if any.
func (r *VoteRegistry) MajorityItem() *types.MajorityVotes { return r.majority }

// ConflictsWith returns the held votes of voters whose effective outcome
// differs from votedID (nil for PASS) among the listed vote ids.
func (r *VoteRegistry) ConflictsWith(ids []types.Hash, votedID *types.Hash) []*types.ValidatorVote {
	want := outcomeOf(votedID)
	seen := make(map[types.PublicKey]bool)
	var out []*types.ValidatorVote
	for _, id := range ids {
		v, ok := r.votes[id]
		if !ok || seen[v.PubKey] {
			continue
		}
		seen[v.PubKey] = true
		if o, _ := r.outcomeOf(v.PubKey); o != want {
			out = append(out, r.byVoter[v.PubKey]...)
		}
	}
	return out
}

func sortHashes(ids []types.Hash) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}
