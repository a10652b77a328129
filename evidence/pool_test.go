package evidence

import (
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"github.com/blockberries/ckptberry/types"
)

func testKey(n byte) ed25519.PrivateKey {
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = n
	return ed25519.NewKeyFromSeed(seed)
}

var testState = types.NewCreationState(types.HashBytes([]byte("ckpt"))).
	WithValidator(types.PublicKeyOf(testKey(9)))

func makeVote(t *testing.T, key byte, voted string) *types.ValidatorVote {
	t.Helper()
	var id *types.Hash
	if voted != "" {
		h := types.HashBytes([]byte(voted))
		id = &h
	}
	v := types.NewValidatorVote(testState, types.ItemCkptHash, id, types.PublicKeyOf(testKey(key)))
	if err := v.Sign(testKey(key)); err != nil {
		t.Fatalf("sign vote: %v", err)
	}
	return v
}

func TestPoolNew(t *testing.T) {
	pool := NewPool(DefaultConfig())
	if pool.Size() != 0 {
		t.Errorf("new pool should have size 0, got %d", pool.Size())
	}
}

func TestPoolCheckVoteEquivocation(t *testing.T) {
	pool := NewPool(DefaultConfig())
	stake := types.NewAmount(40)

	vote1 := makeVote(t, 1, "hash1")
	if ev := pool.CheckVote(vote1, stake); ev != nil {
		t.Fatal("first vote should not be equivocation")
	}
	if ev := pool.CheckVote(vote1, stake); ev != nil {
		t.Fatal("same vote should not be equivocation")
	}

	vote2 := makeVote(t, 1, "hash2")
	ev := pool.CheckVote(vote2, stake)
	if ev == nil {
		t.Fatal("should detect equivocation")
	}
	if ev.Validator() != vote1.PubKey {
		t.Error("evidence names the wrong validator")
	}
	if !ev.Stake.Equal(stake) {
		t.Errorf("expected stake %s, got %s", stake, ev.Stake)
	}
	if err := ev.Verify(); err != nil {
		t.Errorf("detected evidence should verify: %v", err)
	}
	if pool.Size() != 1 {
		t.Errorf("expected 1 pending evidence, got %d", pool.Size())
	}

	// The same conflict is reported once
	if again := pool.CheckVote(vote2, stake); again != nil {
		t.Error("duplicate evidence should not be reported again")
	}
}

func TestPoolPassIsNotEquivocation(t *testing.T) {
	pool := NewPool(DefaultConfig())

	pool.CheckVote(makeVote(t, 1, "hash1"), types.NewAmount(1))
	if ev := pool.CheckVote(makeVote(t, 1, ""), types.NewAmount(1)); ev != nil {
		t.Error("switching to PASS must not be evidence")
	}
	if pool.Size() != 0 {
		t.Errorf("expected empty pool, got %d", pool.Size())
	}
}

func TestPoolDifferentVoters(t *testing.T) {
	pool := NewPool(DefaultConfig())

	pool.CheckVote(makeVote(t, 1, "hash1"), types.NewAmount(1))
	if ev := pool.CheckVote(makeVote(t, 2, "hash2"), types.NewAmount(1)); ev != nil {
		t.Error("votes from different keys must not be evidence")
	}
}

func TestEvidenceIDOrderIndependent(t *testing.T) {
	a, b := makeVote(t, 1, "x"), makeVote(t, 1, "y")
	ev1 := &DuplicateVoteEvidence{VoteA: a, VoteB: b}
	ev2 := &DuplicateVoteEvidence{VoteA: b, VoteB: a}
	if ev1.ID() != ev2.ID() {
		t.Error("evidence id should not depend on vote order")
	}
}

func TestVerifyRejects(t *testing.T) {
	a := makeVote(t, 1, "x")

	cases := []struct {
		name string
		ev   *DuplicateVoteEvidence
		want error
	}{
		{"same vote", &DuplicateVoteEvidence{VoteA: a, VoteB: a}, ErrNotConflicting},
		{"pass", &DuplicateVoteEvidence{VoteA: a, VoteB: makeVote(t, 1, "")}, ErrNotConflicting},
		{"voters", &DuplicateVoteEvidence{VoteA: a, VoteB: makeVote(t, 2, "y")}, ErrDifferentVoter},
		{"missing", &DuplicateVoteEvidence{VoteA: a}, ErrInvalidEvidence},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.ev.Verify(); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}

	other := types.NewValidatorVote(testState.NextRound(), types.ItemPriority, a.VotedID, a.PubKey)
	if err := other.Sign(testKey(1)); err != nil {
		t.Fatal(err)
	}
	ev := &DuplicateVoteEvidence{VoteA: a, VoteB: other}
	if err := ev.Verify(); !errors.Is(err, ErrDifferentState) {
		t.Errorf("expected ErrDifferentState, got %v", err)
	}

	h := types.HashBytes([]byte("z"))
	unsigned := types.NewValidatorVote(testState, types.ItemCkptHash, &h, a.PubKey)
	ev = &DuplicateVoteEvidence{VoteA: a, VoteB: unsigned}
	if err := ev.Verify(); !errors.Is(err, types.ErrMissingSignature) {
		t.Errorf("expected missing signature, got %v", err)
	}
}

func TestPoolAddAndCommit(t *testing.T) {
	pool := NewPool(DefaultConfig())
	ev := &DuplicateVoteEvidence{VoteA: makeVote(t, 1, "x"), VoteB: makeVote(t, 1, "y"), Detected: time.Now()}

	if err := pool.AddEvidence(ev); err != nil {
		t.Fatalf("AddEvidence: %v", err)
	}
	if err := pool.AddEvidence(ev); !errors.Is(err, ErrDuplicateEvidence) {
		t.Errorf("expected duplicate, got %v", err)
	}

	pool.MarkCommitted(pool.Pending())
	if pool.Size() != 0 {
		t.Errorf("committed evidence should leave the pending list, got %d", pool.Size())
	}
	if err := pool.AddEvidence(ev); !errors.Is(err, ErrDuplicateEvidence) {
		t.Errorf("committed evidence should be rejected, got %v", err)
	}
}

func TestPoolExpiry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAgeHeights = 2
	pool := NewPool(cfg)
	start := time.Unix(1000, 0)
	pool.Update(1, start)

	pool.CheckVote(makeVote(t, 1, "x"), types.NewAmount(1))
	if ev := pool.CheckVote(makeVote(t, 1, "y"), types.NewAmount(1)); ev == nil {
		t.Fatal("should detect equivocation")
	}

	pool.Update(3, start.Add(time.Minute))
	if pool.Size() != 1 {
		t.Fatalf("evidence should survive %d heights", cfg.MaxAgeHeights)
	}
	pool.Update(4, start.Add(2*time.Minute))
	if pool.Size() != 0 {
		t.Errorf("evidence should expire, got %d", pool.Size())
	}

	// Too old on arrival
	old := &DuplicateVoteEvidence{VoteA: makeVote(t, 2, "x"), VoteB: makeVote(t, 2, "y"), Height: 1}
	if err := pool.AddEvidence(old); !errors.Is(err, ErrEvidenceExpired) {
		t.Errorf("expected expired, got %v", err)
	}
}
